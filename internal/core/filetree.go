package core

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"sharebeam/internal/errs"
)

// Filetree is the shared content laid out below a virtual root. Every
// shared path becomes a direct child of the root, so archive entries and
// URLs start at the basename of what the user picked.
type Filetree struct {
	Root *Dir
}

func BuildFiletree(fs afero.Fs, paths []ParsedPath) (*Filetree, error) {
	var rootNodes []Node

	for _, parsedPath := range paths {
		if parsedPath.Kind == PathDir {
			dirNode, err := buildDirTree(fs, parsedPath.FullPath)
			if err != nil {
				return nil, err
			}
			rootNodes = append(rootNodes, dirNode)
		} else {
			info, err := fs.Stat(parsedPath.FullPath)
			if err != nil {
				return nil, fmt.Errorf("%w: %s", errs.ErrNotFound, parsedPath.FullPath)
			}
			fileNode := &File{
				path: parsedPath.FullPath,
				name: filepath.Base(parsedPath.FullPath),
				size: info.Size(),
			}
			rootNodes = append(rootNodes, fileNode)
		}
	}

	if len(rootNodes) == 0 {
		return nil, errs.ErrEmptyFileSet
	}

	return &Filetree{
		Root: createVirtualRoot(rootNodes),
	}, nil
}

// FlattenTree returns every regular file in the tree, depth first, in
// the order they were added.
func (ft *Filetree) FlattenTree() []*File {
	var out []*File
	var walk func(d *Dir)
	walk = func(d *Dir) {
		for _, child := range d.children {
			switch n := child.(type) {
			case *File:
				out = append(out, n)
			case *Dir:
				walk(n)
			}
		}
	}
	walk(ft.Root)
	return out
}

func buildDirTree(fs afero.Fs, dirPath string) (*Dir, error) {
	dir := &Dir{
		path:     dirPath,
		name:     filepath.Base(dirPath),
		children: []Node{},
	}

	entries, err := afero.ReadDir(fs, dirPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrNotFound, dirPath, err)
	}

	for _, entry := range entries {
		childPath := filepath.Join(dirPath, entry.Name())

		switch {
		case entry.IsDir():
			childDir, err := buildDirTree(fs, childPath)
			if err != nil {
				return nil, err
			}
			childDir.parent = dir
			dir.children = append(dir.children, childDir)
		case entry.Mode().IsRegular():
			childFile := &File{
				path: childPath,
				name: entry.Name(),
				size: entry.Size(),
				dir:  dir,
			}
			dir.children = append(dir.children, childFile)
		}
	}

	return dir, nil
}

func createVirtualRoot(children []Node) *Dir {
	virtualRoot := &Dir{
		children: children,
	}

	for _, child := range children {
		if dir, ok := child.(*Dir); ok {
			dir.parent = virtualRoot
		} else if file, ok := child.(*File); ok {
			file.dir = virtualRoot
		}
	}

	return virtualRoot
}
