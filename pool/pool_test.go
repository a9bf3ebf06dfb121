package pool

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/pkgmirror/pkgmirror"
)

func sum(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

func TestAddDedup(t *testing.T) {
	ctx := context.Background()
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	body := []byte("bash-5.1")

	res, err := p.Add(ctx, bytes.NewReader(body), Content, "bash-5.1-1.el9.x86_64.rpm", "")
	if err != nil {
		t.Fatal(err)
	}
	if res.Existed {
		t.Error("first add reported as existing")
	}
	if got, want := res.SHA256, sum(body); got != want {
		t.Errorf("got sha %s, want %s", got, want)
	}

	res2, err := p.Add(ctx, bytes.NewReader(body), Content, "bash-5.1-1.el9.x86_64.rpm", "")
	if err != nil {
		t.Fatal(err)
	}
	if !res2.Existed {
		t.Error("second add not deduplicated")
	}
	if res2.Path != res.Path {
		t.Errorf("paths diverged: %s vs %s", res2.Path, res.Path)
	}

	// Exactly one file in the content tree, no temp leftovers.
	var n int
	filepath.Walk(filepath.Join(p.Root(), string(Content)), func(path string, fi os.FileInfo, err error) error {
		if err == nil && !fi.IsDir() {
			n++
		}
		return nil
	})
	if n != 1 {
		t.Errorf("content tree holds %d files, want 1", n)
	}
}

func TestAddChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Add(ctx, bytes.NewReader([]byte("real bytes")), Content, "x.rpm", sum([]byte("claimed bytes")))
	if !errors.Is(err, pkgmirror.ErrChecksumMismatch) {
		t.Fatalf("got %v, want ErrChecksumMismatch", err)
	}
	var n int
	filepath.Walk(p.Root(), func(path string, fi os.FileInfo, err error) error {
		if err == nil && !fi.IsDir() {
			n++
		}
		return nil
	})
	if n != 0 {
		t.Errorf("pool holds %d files after failed add, want 0", n)
	}
}

func TestLinkSharesInode(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p, err := New(filepath.Join(dir, "pool"))
	if err != nil {
		t.Fatal(err)
	}
	body := []byte("vim-common")
	res, err := p.Add(ctx, bytes.NewReader(body), Content, "vim-common.rpm", "")
	if err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "published", "Packages", "v", "vim-common.rpm")
	if err := p.Link(Content, res.SHA256, "vim-common.rpm", dst); err != nil {
		t.Fatal(err)
	}
	// Relinking over an existing target must succeed.
	if err := p.Link(Content, res.SHA256, "vim-common.rpm", dst); err != nil {
		t.Fatal(err)
	}

	si, err := os.Stat(res.Path)
	if err != nil {
		t.Fatal(err)
	}
	di, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	sstat := si.Sys().(*syscall.Stat_t)
	dstat := di.Sys().(*syscall.Stat_t)
	if sstat.Ino != dstat.Ino {
		t.Errorf("link is not the same inode: %d vs %d", sstat.Ino, dstat.Ino)
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Add(ctx, bytes.NewReader([]byte("ok")), Content, "ok.apk", "")
	if err != nil {
		t.Fatal(err)
	}

	bad, err := p.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(bad) != 0 {
		t.Fatalf("clean pool reported %d mismatches", len(bad))
	}

	// Corrupt the file in place; hardlinked pool files are never written
	// through, so this only happens via outside interference.
	if err := os.WriteFile(res.Path, []byte("corrupt"), 0o644); err != nil {
		t.Fatal(err)
	}
	bad, err = p.Verify(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(bad) != 1 || bad[0].Want != res.SHA256 {
		t.Fatalf("got %+v, want one mismatch for %s", bad, res.SHA256)
	}
}

func TestCleanup(t *testing.T) {
	ctx := context.Background()
	p, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	keep, err := p.Add(ctx, bytes.NewReader([]byte("keep")), Content, "keep.deb", "")
	if err != nil {
		t.Fatal(err)
	}
	drop, err := p.Add(ctx, bytes.NewReader([]byte("drop")), Content, "drop.deb", "")
	if err != nil {
		t.Fatal(err)
	}

	live := func(_ context.Context, sum string) (bool, error) {
		return sum == keep.SHA256, nil
	}

	n, b, err := p.Cleanup(ctx, live)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || b != 4 {
		t.Errorf("removed %d files / %d bytes, want 1 / 4", n, b)
	}
	if _, err := os.Stat(keep.Path); err != nil {
		t.Error("referenced file was removed")
	}
	if _, err := os.Stat(drop.Path); !errors.Is(err, os.ErrNotExist) {
		t.Error("unreferenced file survived cleanup")
	}

	// With nothing pending, cleanup is a no-op.
	n, _, err = p.Cleanup(ctx, live)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("idle cleanup removed %d files", n)
	}
}
