// Package pool implements the content-addressed byte store.
//
// The pool is the only place bytes live. Repositories, snapshots, and
// published trees reference pool files by hardlink, so a package shared by
// any number of repositories occupies its bytes exactly once.
//
// Layout, relative to the pool root:
//
//	content/<h[0:2]>/<h[2:4]>/<h>_<filename>   package artifacts
//	files/<h[0:2]>/<h[2:4]>/<h>_<filename>     mirror-mode repository files
//
// where h is the lowercase hex SHA-256 of the file. The two-level fan-out
// bounds any directory to 65536 buckets.
package pool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/quay/zlog"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/pkg/tmp"
)

// Class selects the pool subtree a file belongs to.
type Class string

const (
	// Content holds package artifacts (ContentItems).
	Content Class = "content"
	// Files holds mirror-mode repository files (RepositoryFiles).
	Files Class = "files"
)

// Pool is a content-addressed store rooted at a single directory.
//
// All methods are safe for concurrent use. Cleanup excludes concurrent
// Adds for its duration.
type Pool struct {
	root string
	// mu is the cleanup exclusion lock: Add holds it shared, Cleanup
	// holds it exclusively.
	mu sync.RWMutex
}

// New opens (creating if needed) a pool rooted at dir.
func New(dir string) (*Pool, error) {
	for _, c := range []Class{Content, Files} {
		if err := os.MkdirAll(filepath.Join(dir, string(c)), 0o755); err != nil {
			return nil, fmt.Errorf("pool: unable to create %s tree: %w", c, err)
		}
	}
	return &Pool{root: dir}, nil
}

// Root returns the pool's root directory.
func (p *Pool) Root() string { return p.root }

// AddResult reports where an Add landed.
type AddResult struct {
	SHA256 string
	Path   string
	Size   int64
	// Existed is true when the bytes were already pooled and the add was
	// satisfied by deduplication.
	Existed bool
}

// Add streams src into the pool under the given class and filename.
//
// The hash is always computed from the bytes actually read, never taken
// from an upstream claim. If expect is non-empty and differs from the
// computed hash, the temp file is discarded and ErrChecksumMismatch is
// returned. Two concurrent Adds of the same bytes converge on one pool
// file; the loser discards its copy.
func (p *Pool) Add(ctx context.Context, src io.Reader, class Class, filename, expect string) (*AddResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Stage in the same filesystem as the final path so the rename is
	// atomic.
	tf, err := tmp.NewFile(filepath.Join(p.root, string(class)), "add-*")
	if err != nil {
		return nil, fmt.Errorf("pool: %w: %w", pkgmirror.ErrPoolIO, err)
	}
	defer tf.Close()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tf, h), src)
	if err != nil {
		return nil, fmt.Errorf("pool: %w: copying into pool: %w", pkgmirror.ErrPoolIO, err)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if expect != "" && expect != sum {
		return nil, fmt.Errorf("pool: %w: got %s, want %s", pkgmirror.ErrChecksumMismatch, sum, expect)
	}

	dst := p.path(class, sum, filename)
	if _, err := os.Stat(dst); err == nil {
		// Dedup: the bytes are already pooled. The temp file is removed
		// by the deferred Close.
		return &AddResult{SHA256: sum, Path: dst, Size: size, Existed: true}, nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return nil, fmt.Errorf("pool: %w: %w", pkgmirror.ErrPoolIO, err)
	}
	name, err := tf.Keep()
	if err != nil {
		return nil, fmt.Errorf("pool: %w: %w", pkgmirror.ErrPoolIO, err)
	}
	if err := os.Rename(name, dst); err != nil {
		os.Remove(name)
		// A concurrent Add may have won the rename.
		if _, statErr := os.Stat(dst); statErr == nil {
			return &AddResult{SHA256: sum, Path: dst, Size: size, Existed: true}, nil
		}
		return nil, fmt.Errorf("pool: %w: rename into pool: %w", pkgmirror.ErrPoolIO, err)
	}
	return &AddResult{SHA256: sum, Path: dst, Size: size}, nil
}

// AddFile is Add reading from the named file.
func (p *Pool) AddFile(ctx context.Context, name string, class Class, filename, expect string) (*AddResult, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("pool: unable to open source %q: %w", name, err)
	}
	defer f.Close()
	return p.Add(ctx, f, class, filename, expect)
}

// Path reports the pool path a (class, sha256, filename) triple maps to.
// The file need not exist.
func (p *Pool) Path(class Class, sum, filename string) string {
	return p.path(class, sum, filename)
}

func (p *Pool) path(class Class, sum, filename string) string {
	return filepath.Join(p.root, string(class), sum[0:2], sum[2:4], sum+"_"+filename)
}

// Link hardlinks the pooled file identified by (class, sum, filename) to
// dst, creating parent directories and replacing any existing dst.
//
// Pool and dst must share a filesystem; a cross-device attempt returns
// ErrCrossDevice.
func (p *Pool) Link(class Class, sum, filename, dst string) error {
	src := p.path(class, sum, filename)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("pool: %w: no pooled file for %s", pkgmirror.ErrNotFound, sum)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("pool: %w: %w", pkgmirror.ErrPoolIO, err)
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("pool: %w: removing stale link target: %w", pkgmirror.ErrPoolIO, err)
	}
	if err := os.Link(src, dst); err != nil {
		var lerr *os.LinkError
		if errors.As(err, &lerr) && errors.Is(lerr.Err, syscall.EXDEV) {
			return fmt.Errorf("pool: %w", pkgmirror.ErrCrossDevice)
		}
		return fmt.Errorf("pool: %w: hardlink: %w", pkgmirror.ErrPoolIO, err)
	}
	return nil
}

// Mismatch reports one pool file whose bytes do not hash to the value its
// name claims.
type Mismatch struct {
	Path string
	Want string
	Got  string
}

// Verify walks the pool, rehashes every file, and reports mismatches.
// Nothing is deleted.
func (p *Pool) Verify(ctx context.Context) ([]Mismatch, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "pool/Pool.Verify")
	var bad []Mismatch
	err := p.walk(ctx, func(path, sum string) error {
		got, _, err := pkgmirror.HashFile(path)
		if err != nil {
			return err
		}
		if got != sum {
			zlog.Warn(ctx).
				Str("path", path).
				Str("want", sum).
				Str("got", got).
				Msg("pool file corrupt")
			bad = append(bad, Mismatch{Path: path, Want: sum, Got: got})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bad, nil
}

// Cleanup removes every pool file whose sha256 the provided predicate
// reports as unreferenced. It holds the pool's exclusion lock for its
// duration, so it never races an Add of the same hash.
//
// It returns the number of files removed and the bytes reclaimed.
func (p *Pool) Cleanup(ctx context.Context, referenced func(ctx context.Context, sum string) (bool, error)) (int64, int64, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "pool/Pool.Cleanup")
	p.mu.Lock()
	defer p.mu.Unlock()

	var removed, bytes int64
	err := p.walk(ctx, func(path, sum string) error {
		live, err := referenced(ctx, sum)
		if err != nil {
			return err
		}
		if live {
			return nil
		}
		fi, err := os.Stat(path)
		if err != nil {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("pool: %w: removing %q: %w", pkgmirror.ErrPoolIO, path, err)
		}
		zlog.Debug(ctx).Str("path", path).Msg("removed unreferenced file")
		removed++
		bytes += fi.Size()
		return nil
	})
	if err != nil {
		return removed, bytes, err
	}
	zlog.Info(ctx).
		Int64("removed", removed).
		Int64("bytes", bytes).
		Msg("cleanup done")
	return removed, bytes, nil
}

// Stats summarizes the pool's on-disk footprint.
type Stats struct {
	ContentFiles int64
	ContentBytes int64
	RepoFiles    int64
	RepoBytes    int64
}

// Stats walks the pool and tallies file counts and sizes per subtree.
func (p *Pool) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := p.walk(ctx, func(path, _ string) error {
		fi, err := os.Stat(path)
		if err != nil {
			return nil
		}
		if strings.HasPrefix(path, filepath.Join(p.root, string(Files))+string(filepath.Separator)) {
			s.RepoFiles++
			s.RepoBytes += fi.Size()
		} else {
			s.ContentFiles++
			s.ContentBytes += fi.Size()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// walk visits every pooled file, passing its path and the sha256 encoded
// in its name. Files that do not follow the naming convention are skipped.
func (p *Pool) walk(ctx context.Context, fn func(path, sum string) error) error {
	return filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		i := strings.IndexByte(name, '_')
		if i != 64 || !pkgmirror.ValidSHA256(name[:64]) {
			return nil
		}
		return fn(path, name[:64])
	})
}
