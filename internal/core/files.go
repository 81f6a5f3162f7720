package core

import "path"

type Node interface {
	Path() string
	Name() string
	Size() int64
}

type File struct {
	path string
	name string
	size int64
	dir  *Dir
}

type Dir struct {
	path     string
	name     string
	children []Node
	parent   *Dir
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Name() string {
	return f.name
}

func (f *File) Size() int64 {
	return f.size
}

// RelPath is the slash separated path of the file below the tree root.
// The root itself is virtual and contributes nothing.
func (f *File) RelPath() string {
	rel := f.name
	for d := f.dir; d != nil && d.parent != nil; d = d.parent {
		rel = path.Join(d.name, rel)
	}
	return rel
}

func (d *Dir) Path() string {
	return d.path
}

func (d *Dir) Name() string {
	return d.name
}

func (d *Dir) Children() []Node {
	return d.children
}

func (d *Dir) Size() int64 {
	var total int64
	for _, child := range d.children {
		total += child.Size()
	}
	return total
}
