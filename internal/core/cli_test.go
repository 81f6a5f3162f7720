package core

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sharebeam/internal/errs"
)

func memTree(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/share/a.txt", []byte("a"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/share/photos/1.jpg", []byte("jpg"), 0644))
	return fs
}

func TestParseArgs(t *testing.T) {
	fs := memTree(t)

	tests := []struct {
		name    string
		args    []string
		want    []ParsedPath
		wantArg string
		wantErr error
	}{
		{
			name: "file and directory",
			args: []string{"/share/a.txt", "/share/photos"},
			want: []ParsedPath{{"/share/a.txt", PathFile}, {"/share/photos", PathDir}},
		},
		{
			name: "paths are cleaned",
			args: []string{"/share/./photos/../a.txt", "/share/photos/"},
			want: []ParsedPath{{"/share/a.txt", PathFile}, {"/share/photos", PathDir}},
		},
		{
			name:    "no arguments",
			args:    nil,
			wantArg: "<files>",
			wantErr: errs.ErrEmptyFileSet,
		},
		{
			name:    "missing path",
			args:    []string{"/share/a.txt", "/share/b.txt"},
			wantArg: "/share/b.txt",
			wantErr: errs.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(fs, tt.args)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}

			assert.Nil(t, got)
			assert.ErrorIs(t, err, tt.wantErr)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "got %T", err)
			assert.Equal(t, tt.wantArg, verr.Arg)
		})
	}
}

func TestParseArgs_HostFilesystem(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(file, []byte("notes"), 0644))

	got, err := ParseArgs(afero.NewOsFs(), []string{file, dir})
	require.NoError(t, err)
	assert.Equal(t, []ParsedPath{{file, PathFile}, {dir, PathDir}}, got)
}

func TestValidationError(t *testing.T) {
	err := &ValidationError{Arg: "x.txt", Cause: "not found or not accessible", Err: errs.ErrNotFound}
	assert.Equal(t, `invalid argument "x.txt": not found or not accessible`, err.Error())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}
