package core

import (
	"context"
	"io"

	"github.com/spf13/afero"
)

// SharedFile is one individually downloadable file of a snapshot.
type SharedFile struct {
	RelPath  string
	FullPath string
	Size     int64
}

// Snapshot is the read-only view of a File Set taken when a share
// starts. It never changes after creation.
type Snapshot struct {
	fs        afero.Fs
	tree      *Filetree
	entries   []Entry
	files     []SharedFile
	byRel     map[string]SharedFile
	totalSize int64
}

func newSnapshot(fs afero.Fs, entries []Entry) (*Snapshot, error) {
	paths := make([]ParsedPath, 0, len(entries))
	for _, e := range entries {
		kind := PathFile
		if e.IsDir {
			kind = PathDir
		}
		paths = append(paths, ParsedPath{FullPath: e.Path, Kind: kind})
	}

	tree, err := BuildFiletree(fs, paths)
	if err != nil {
		return nil, err
	}

	flat := tree.FlattenTree()
	s := &Snapshot{
		fs:        fs,
		tree:      tree,
		entries:   append([]Entry(nil), entries...),
		files:     make([]SharedFile, 0, len(flat)),
		byRel:     make(map[string]SharedFile, len(flat)),
	}
	for _, f := range flat {
		sf := SharedFile{RelPath: f.RelPath(), FullPath: f.Path(), Size: f.Size()}
		s.files = append(s.files, sf)
		s.byRel[sf.RelPath] = sf
		s.totalSize += sf.Size
	}

	return s, nil
}

func (s *Snapshot) Entries() []Entry {
	return append([]Entry(nil), s.entries...)
}

func (s *Snapshot) Files() []SharedFile {
	return append([]SharedFile(nil), s.files...)
}

func (s *Snapshot) Lookup(relPath string) (SharedFile, bool) {
	sf, ok := s.byRel[relPath]
	return sf, ok
}

func (s *Snapshot) TotalSize() int64 {
	return s.totalSize
}

// Open opens one of the snapshot's files for reading.
func (s *Snapshot) Open(sf SharedFile) (afero.File, error) {
	return s.fs.Open(sf.FullPath)
}

// WriteArchive writes the zip of all shared content into w.
func (s *Snapshot) WriteArchive(ctx context.Context, w io.Writer) error {
	return s.tree.WriteZip(ctx, s.fs, w)
}
