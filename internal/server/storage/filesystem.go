package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// ArchiveExt is appended to every spooled archive id.
const ArchiveExt = ".zip"

// Store holds built share archives until the share stops.
type Store interface {
	Save(id string, data io.Reader) (int64, error)
	Open(id string) (afero.File, error)
	Delete(id string) error
	EnsureDir() error
}

// SpoolStore keeps archives as files below basePath on an afero
// filesystem.
type SpoolStore struct {
	fs       afero.Fs
	basePath string
}

// NewSpoolStore creates a spool. A nil fs means the host filesystem.
func NewSpoolStore(fs afero.Fs, basePath string) *SpoolStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &SpoolStore{fs: fs, basePath: basePath}
}

// EnsureDir creates the spool directory if it doesn't exist.
func (s *SpoolStore) EnsureDir() error {
	if err := s.fs.MkdirAll(s.basePath, 0700); err != nil {
		return fmt.Errorf("failed to create spool directory %s: %w", s.basePath, err)
	}
	return nil
}

// Save copies data into {id}.zip and returns the number of bytes written.
// A failed copy leaves no file behind.
func (s *SpoolStore) Save(id string, data io.Reader) (int64, error) {
	filePath := s.filePath(id)

	file, err := s.fs.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}

	n, err := io.Copy(file, data)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.fs.Remove(filePath)
		return 0, fmt.Errorf("failed to write archive: %w", err)
	}

	return n, nil
}

func (s *SpoolStore) Open(id string) (afero.File, error) {
	f, err := s.fs.Open(s.filePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive %s not found", id)
		}
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return f, nil
}

// Delete removes a spooled archive. Missing archives are not an error.
func (s *SpoolStore) Delete(id string) error {
	filePath := s.filePath(id)
	if err := s.fs.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

func (s *SpoolStore) filePath(id string) string {
	return filepath.Join(s.basePath, id+ArchiveExt)
}
