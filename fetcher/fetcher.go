// Package fetcher performs the engine's HTTP downloads.
//
// Package downloads stream into self-removing temp files with the SHA-256
// computed from the bytes on the wire; a caller-supplied expected digest
// turns a corrupt transfer into an error before the bytes can reach the
// pool. Index fetches go through Conditional, which honors ETag and
// Last-Modified validators so an unchanged upstream costs one round trip
// and no body.
package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/quay/zlog"

	"github.com/pkgmirror/pkgmirror"
	"github.com/pkgmirror/pkgmirror/driver"
	"github.com/pkgmirror/pkgmirror/internal/httputil"
	"github.com/pkgmirror/pkgmirror/pkg/tmp"
)

const (
	defaultAttempts = 3
	defaultTimeout  = 5 * time.Minute
	backoffBase     = 500 * time.Millisecond
)

// Fetcher downloads files into a temp directory.
//
// Safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	tmpdir   string
	attempts int
	timeout  time.Duration
}

// Option tunes a Fetcher.
type Option func(*Fetcher)

// WithAttempts sets the retry budget per Get.
func WithAttempts(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.attempts = n
		}
	}
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// New returns a Fetcher writing temp files under tmpdir.
func New(client *http.Client, tmpdir string, opts ...Option) (*Fetcher, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if err := os.MkdirAll(tmpdir, 0o755); err != nil {
		return nil, fmt.Errorf("fetcher: unable to create tmp dir: %w", err)
	}
	f := &Fetcher{
		client:   client,
		tmpdir:   tmpdir,
		attempts: defaultAttempts,
		timeout:  defaultTimeout,
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Result describes a completed download. The caller owns Path and must
// remove it when done.
type Result struct {
	Path   string
	SHA256 string
	Size   int64
}

// Get downloads url into a temp file, retrying transient failures with
// exponential backoff. If expect is non-empty the transfer is verified
// against it; a mismatch deletes the temp file and returns
// ErrChecksumMismatch without retrying (the upstream bytes are wrong, not
// the transport).
func (f *Fetcher) Get(ctx context.Context, url, expect string) (*Result, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "fetcher/Fetcher.Get", "url", url)
	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			d := backoffBase << (attempt - 1)
			zlog.Debug(ctx).Int("attempt", attempt).Dur("backoff", d).Msg("retrying")
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		res, err := f.get(ctx, url, expect)
		switch {
		case err == nil:
			return res, nil
		case errors.Is(err, pkgmirror.ErrChecksumMismatch):
			return nil, err
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return nil, err
			}
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetcher: %w: %w", pkgmirror.ErrFetchFailed, lastErr)
}

func (f *Fetcher) get(ctx context.Context, url, expect string) (*Result, error) {
	tctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(tctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetcher: unable to construct request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if err := httputil.CheckResponse(resp, http.StatusOK); err != nil {
		return nil, err
	}

	tf, err := tmp.NewFile(f.tmpdir, "fetch-*")
	if err != nil {
		return nil, fmt.Errorf("fetcher: unable to open tempfile: %w", err)
	}
	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tf, h), resp.Body)
	if err != nil {
		tf.Close()
		return nil, fmt.Errorf("fetcher: copying body: %w", err)
	}
	sum := hex.EncodeToString(h.Sum(nil))
	if expect != "" && sum != expect {
		tf.Close()
		return nil, fmt.Errorf("fetcher: %w: got %s, want %s", pkgmirror.ErrChecksumMismatch, sum, expect)
	}
	name, err := tf.Keep()
	if err != nil {
		return nil, fmt.Errorf("fetcher: closing tempfile: %w", err)
	}
	return &Result{Path: name, SHA256: sum, Size: size}, nil
}

// Conditional GETs url with If-None-Match or If-Modified-Since derived
// from prev. It returns driver.Unchanged with a nil body when the server
// reports the resource unmodified; otherwise the body and the new
// fingerprint.
//
// Format plugins use this for their index fetches.
func Conditional(ctx context.Context, client *http.Client, url string, prev driver.Fingerprint) (io.ReadCloser, driver.Fingerprint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, prev, fmt.Errorf("fetcher: unable to construct request: %w", err)
	}
	if prev != "" {
		// ETags are quoted or weak-prefixed; anything else is taken to
		// be an HTTP date.
		if prev[0] == '"' || (len(prev) > 1 && prev[0] == 'W' && prev[1] == '/') {
			req.Header.Set("If-None-Match", string(prev))
		} else {
			req.Header.Set("If-Modified-Since", string(prev))
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, prev, fmt.Errorf("fetcher: %w: %w", pkgmirror.ErrFetchFailed, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		resp.Body.Close()
		return nil, prev, driver.Unchanged
	default:
		defer resp.Body.Close()
		err := httputil.CheckResponse(resp, http.StatusOK)
		return nil, prev, fmt.Errorf("fetcher: %w: %w", pkgmirror.ErrFetchFailed, err)
	}
	next := prev
	if h := resp.Header.Get("ETag"); h != "" {
		next = driver.Fingerprint(h)
	} else if h := resp.Header.Get("Last-Modified"); h != "" {
		next = driver.Fingerprint(h)
	}
	return resp.Body, next, nil
}
