// Package tmp provides temp files that remove themselves on Close.
//
// Download targets use these so that every error path, including
// cancellation, leaves no partial file behind.
package tmp

import "os"

// File wraps an *os.File; Close also unlinks the file.
type File struct {
	*os.File
}

// NewFile creates a temp file in dir with the given name pattern.
func NewFile(dir, pattern string) (*File, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, err
	}
	return &File{f}, nil
}

// Keep closes the handle without removing the file, e.g. when the file
// has been handed off for a rename into the pool. It returns the name.
func (t *File) Keep() (string, error) {
	n := t.File.Name()
	err := t.File.Close()
	t.File = nil
	return n, err
}

// Close closes the handle and removes the file from the filesystem.
func (t *File) Close() error {
	if t.File == nil {
		return nil
	}
	if err := t.File.Close(); err != nil {
		return err
	}
	return os.Remove(t.File.Name())
}
