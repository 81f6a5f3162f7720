package core

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"sharebeam/internal/errs"
)

type ValidationError struct {
	Arg   string
	Cause string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

type PathKind int

const (
	PathFile PathKind = iota
	PathDir
)

type ParsedPath struct {
	FullPath string
	Kind     PathKind
}

func ParseArgs(fs afero.Fs, args []string) ([]ParsedPath, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided", Err: errs.ErrEmptyFileSet}
	}

	var out []ParsedPath

	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := fs.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible", Err: errs.ErrNotFound}
		}

		kind := PathFile
		if info.IsDir() {
			kind = PathDir
		}

		out = append(out, ParsedPath{FullPath: p, Kind: kind})
	}

	return out, nil
}
