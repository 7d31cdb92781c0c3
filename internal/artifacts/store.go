package artifacts

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	inputExt  = ".pdf"
	outputExt = ".html"
)

// ErrNotFound is returned when a key has no converted output on disk.
var ErrNotFound = errors.New("artifact not found")

// Store is the filesystem-backed artifact directory.
type Store struct {
	dir string
}

// NewStore creates dir if needed and returns a Store rooted there.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the artifact directory.
func (s *Store) Dir() string { return s.dir }

// InputPath is where the fetched source for key lives.
func (s *Store) InputPath(key Key) string {
	return filepath.Join(s.dir, string(key)+inputExt)
}

// OutputPath is where the converted HTML for key lives.
func (s *Store) OutputPath(key Key) string {
	return filepath.Join(s.dir, string(key)+outputExt)
}

// Exists reports whether converted output for key is present. It is a
// presence check only.
func (s *Store) Exists(key Key) bool {
	_, err := os.Stat(s.OutputPath(key))
	return err == nil
}

// Read returns the converted output for key. It returns ErrNotFound if the
// file is absent, including when it vanished after Exists.
func (s *Store) Read(key Key) (string, error) {
	data, err := os.ReadFile(s.OutputPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read artifact %s: %w", key, err)
	}
	return string(data), nil
}

// WriteInput streams r into the input path for key and returns the number of
// bytes written. The data lands in a temporary file first and is renamed into
// place, replacing any previous content.
func (s *Store) WriteInput(key Key, r io.Reader) (int64, error) {
	tmp, err := s.TempFile(key, inputExt)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("write input for %s: %w", key, err)
	}
	if err := s.Commit(tmp.Name(), s.InputPath(key)); err != nil {
		return n, err
	}
	return n, nil
}

// TempFile creates an empty temporary file next to the artifacts of key.
func (s *Store) TempFile(key Key, ext string) (*os.File, error) {
	f, err := os.CreateTemp(s.dir, "."+string(key)+"-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("create temp artifact for %s: %w", key, err)
	}
	return f, nil
}

// Commit atomically moves a finished temporary file to dst.
func (s *Store) Commit(tmpPath, dst string) error {
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("commit artifact %s: %w", filepath.Base(dst), err)
	}
	return nil
}
