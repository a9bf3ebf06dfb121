package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkgmirror/pkgmirror/driver"
)

// Hints is a small durable cache of per-URL fetch fingerprints (ETag or
// Last-Modified values), persisted as a JSON file so that back-to-back
// process invocations still benefit from conditional fetches.
type Hints struct {
	path string

	mu sync.Mutex
	m  map[string]string
}

// LoadHints reads the hint cache at path, tolerating a missing file.
func LoadHints(path string) (*Hints, error) {
	h := &Hints{path: path, m: make(map[string]string)}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return h, nil
	case err != nil:
		return nil, fmt.Errorf("fetcher: unable to read hint cache: %w", err)
	}
	if err := json.Unmarshal(b, &h.m); err != nil {
		// A mangled cache only costs re-downloads; start fresh.
		h.m = make(map[string]string)
	}
	return h, nil
}

// Get returns the fingerprint recorded for url, if any.
func (h *Hints) Get(url string) driver.Fingerprint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return driver.Fingerprint(h.m[url])
}

// Set records a fingerprint for url.
func (h *Hints) Set(url string, fp driver.Fingerprint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fp == "" {
		delete(h.m, url)
		return
	}
	h.m[url] = string(fp)
}

// Save writes the cache back out atomically.
func (h *Hints) Save() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	b, err := json.Marshal(h.m)
	if err != nil {
		return fmt.Errorf("fetcher: marshaling hint cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		return fmt.Errorf("fetcher: %w", err)
	}
	t := h.path + ".tmp"
	if err := os.WriteFile(t, b, 0o644); err != nil {
		return fmt.Errorf("fetcher: writing hint cache: %w", err)
	}
	return os.Rename(t, h.path)
}
