package deb

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkgmirror/pkgmirror"
)

func TestPublishRegeneratesIndexes(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	p := New(nil, Config{Dist: "jammy", Components: []string{"main"}, Architectures: []string{"amd64"}})

	items := []pkgmirror.ContentItem{
		{
			SHA256:   "8b0c51a1c73b255b2cda358e85e6aab08b9aa38f901a2e423a142124d531c7d4",
			Filename: "vim_8.2.3995-1ubuntu2.24_amd64.deb",
			Size:     1731742,
			Type:     pkgmirror.TypeDEB,
			Name:     "vim",
			Version:  "2:8.2.3995-1ubuntu2.24",
			Arch:     "amd64",
			Metadata: map[string]string{"component": "main", "Section": "editors"},
		},
		{
			SHA256:   "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
			Filename: "libssl3_3.0.2-0ubuntu1_amd64.deb",
			Size:     1900000,
			Type:     pkgmirror.TypeDEB,
			Name:     "libssl3",
			Version:  "3.0.2-0ubuntu1",
			Arch:     "amd64",
			Metadata: map[string]string{"component": "main", "Source": "openssl"},
		},
	}

	link := func(sha, filename, dst string) error {
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		return os.WriteFile(dst, []byte(sha), 0o644)
	}
	if err := p.Publish(ctx, items, link, dir); err != nil {
		t.Fatal(err)
	}

	// Layout: pool fan-out with the lib and Source special cases.
	for _, want := range []string{
		"pool/main/v/vim/vim_8.2.3995-1ubuntu2.24_amd64.deb",
		"pool/main/o/openssl/libssl3_3.0.2-0ubuntu1_amd64.deb",
	} {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(want))); err != nil {
			t.Errorf("missing %s: %v", want, err)
		}
	}

	// The regenerated Packages must parse back to the same set, with
	// Filename pointing inside the published pool.
	f, err := os.Open(filepath.Join(dir, "dists", "jammy", "main", "binary-amd64", "Packages"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	cands, err := parsePackages(f, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(cands) != 2 {
		t.Fatalf("regenerated Packages lists %d entries, want 2", len(cands))
	}
	for _, c := range cands {
		if !strings.HasPrefix(c.Href, "pool/main/") {
			t.Errorf("regenerated Filename %q not under pool/main/", c.Href)
		}
	}

	// The Release stanza must record every generated index with the
	// correct hash.
	rf, err := os.Open(filepath.Join(dir, "dists", "jammy", "Release"))
	if err != nil {
		t.Fatal(err)
	}
	defer rf.Close()
	rel, err := parseRelease(rf)
	if err != nil {
		t.Fatal(err)
	}
	if rel.Codename != "jammy" {
		t.Errorf("codename %q", rel.Codename)
	}
	if len(rel.Files) != 3 {
		t.Fatalf("Release lists %d files, want 3", len(rel.Files))
	}
	for _, lf := range rel.Files {
		path := filepath.Join(dir, "dists", "jammy", filepath.FromSlash(lf.Path))
		sum, size, err := pkgmirror.HashFile(path)
		if err != nil {
			t.Fatalf("%s: %v", lf.Path, err)
		}
		if sum != lf.SHA256 || size != lf.Size {
			t.Errorf("%s: stanza records (%s, %d), actual (%s, %d)", lf.Path, lf.SHA256, lf.Size, sum, size)
		}
	}
}
