package core

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/spf13/afero"
)

// WriteZip streams a deflate archive of the tree into w. Cancelling ctx
// aborts the build between and inside files.
func (ft *Filetree) WriteZip(ctx context.Context, fs afero.Fs, w io.Writer) error {
	zipWriter := zip.NewWriter(w)

	for _, child := range ft.Root.children {
		if err := compressNode(ctx, fs, zipWriter, child, ""); err != nil {
			zipWriter.Close()
			return err
		}
	}

	if err := zipWriter.Close(); err != nil {
		return fmt.Errorf("failed to close zip writer: %w", err)
	}

	return nil
}

func compressNode(ctx context.Context, fs afero.Fs, zw *zip.Writer, node Node, basePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	archivePath := path.Join(basePath, node.Name())

	switch n := node.(type) {
	case *File:
		return addFileToZip(ctx, fs, zw, n.Path(), archivePath)
	case *Dir:
		for _, child := range n.Children() {
			if err := compressNode(ctx, fs, zw, child, archivePath); err != nil {
				return err
			}
		}
	}
	return nil
}

func addFileToZip(ctx context.Context, fs afero.Fs, zw *zip.Writer, srcPath, archivePath string) error {
	file, err := fs.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", srcPath, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to create zip header: %w", err)
	}
	header.Name = archivePath
	header.Method = zip.Deflate

	writer, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create zip entry: %w", err)
	}

	if _, err := io.Copy(writer, &ctxReader{ctx: ctx, r: file}); err != nil {
		return fmt.Errorf("failed to write file to zip: %w", err)
	}

	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
