package core

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"sharebeam/internal/errs"
)

// Entry is one path selected for sharing.
type Entry struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	IsDir bool   `json:"is_dir"`
}

// FileSet is the ordered, deduplicated list of paths a session shares.
// It can only change while no snapshot is outstanding.
type FileSet struct {
	fs      afero.Fs
	mu      sync.Mutex
	entries []Entry
	frozen  bool
}

// NewFileSet returns an empty set reading through fs. A nil fs means the
// host filesystem.
func NewFileSet(fs afero.Fs) *FileSet {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileSet{fs: fs}
}

// Add appends path to the set. Adding a path that is already present is
// a no-op.
func (s *FileSet) Add(path string) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return fmt.Errorf("%w: file set is being shared", errs.ErrInvalidState)
	}

	for _, e := range s.entries {
		if e.Path == p {
			return nil
		}
	}

	entry, err := s.inspect(p)
	if err != nil {
		return err
	}

	for _, e := range s.entries {
		if e.Name == entry.Name {
			return fmt.Errorf("%w: %s", errs.ErrNameConflict, entry.Name)
		}
	}

	s.entries = append(s.entries, entry)
	return nil
}

func (s *FileSet) Remove(path string) error {
	p, err := cleanPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return fmt.Errorf("%w: file set is being shared", errs.ErrInvalidState)
	}

	for i, e := range s.entries {
		if e.Path == p {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", errs.ErrNotFound, path)
}

// Clear removes every entry.
func (s *FileSet) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return fmt.Errorf("%w: file set is being shared", errs.ErrInvalidState)
	}
	s.entries = nil
	return nil
}

func (s *FileSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *FileSet) TotalSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	for _, e := range s.entries {
		total += e.Size
	}
	return total
}

func (s *FileSet) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

func (s *FileSet) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}

// Snapshot freezes the set and returns its read-only view. The set stays
// frozen until Release.
func (s *FileSet) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return nil, fmt.Errorf("%w: file set already shared", errs.ErrInvalidState)
	}
	if len(s.entries) == 0 {
		return nil, errs.ErrEmptyFileSet
	}

	snap, err := newSnapshot(s.fs, s.entries)
	if err != nil {
		return nil, err
	}

	s.frozen = true
	return snap, nil
}

func (s *FileSet) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = false
}

func (s *FileSet) inspect(p string) (Entry, error) {
	info, err := s.fs.Stat(p)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s", errs.ErrNotFound, p)
	}

	entry := Entry{Path: p, Name: filepath.Base(p), IsDir: info.IsDir()}

	if info.IsDir() {
		size, err := dirSize(s.fs, p)
		if err != nil {
			return Entry{}, fmt.Errorf("%w: %s: %v", errs.ErrNotFound, p, err)
		}
		entry.Size = size
		return entry, nil
	}

	f, err := s.fs.Open(p)
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %s is not readable", errs.ErrNotFound, p)
	}
	f.Close()

	entry.Size = info.Size()
	return entry, nil
}

func dirSize(fs afero.Fs, root string) (int64, error) {
	var total int64
	err := afero.Walk(fs, root, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func cleanPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", errs.ErrNotFound)
	}
	p := filepath.Clean(path)
	if filepath.IsAbs(p) {
		return p, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("%w: %s", errs.ErrNotFound, path)
	}
	return abs, nil
}
