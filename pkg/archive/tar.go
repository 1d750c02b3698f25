package archive

import (
	"archive/tar"
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/errcodes"
)

type tarBackend struct {
	maxEntrySize int64
}

// walk calls fn for every header in the tar stream until fn returns
// io.EOF (stop) or another error.
func (b *tarBackend) walk(ctx context.Context, archivePath string, fn func(hdr *tar.Header, r io.Reader) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errcodes.ArchiveCorrupt(archivePath, err)
		}
		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeDir {
			continue
		}
		if err := fn(hdr, tr); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (b *tarBackend) List(ctx context.Context, archivePath string) ([]Entry, error) {
	var entries []Entry
	err := b.walk(ctx, archivePath, func(hdr *tar.Header, _ io.Reader) error {
		entries = append(entries, Entry{
			Name:  normalizeName(hdr.Name),
			Size:  hdr.Size,
			IsDir: hdr.Typeflag == tar.TypeDir,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (b *tarBackend) Read(ctx context.Context, archivePath, name string) ([]byte, error) {
	var data []byte
	err := b.walk(ctx, archivePath, func(hdr *tar.Header, r io.Reader) error {
		if hdr.Typeflag != tar.TypeReg || normalizeName(hdr.Name) != name {
			return nil
		}
		var err error
		data, err = readAll(r, name, b.maxEntrySize)
		if err != nil {
			return errcodes.ArchiveCorrupt(archivePath, err)
		}
		return io.EOF
	})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errcodes.EntryNotFound(name)
	}
	return data, nil
}

func (b *tarBackend) Extract(ctx context.Context, archivePath, destDir string, filter Filter) ([]Extracted, error) {
	var extracted []Extracted
	err := b.walk(ctx, archivePath, func(hdr *tar.Header, r io.Reader) error {
		name := normalizeName(hdr.Name)
		if hdr.Typeflag != tar.TypeReg || (filter != nil && !filter(name)) {
			return nil
		}
		target, err := writeEntry(r, destDir, name, b.maxEntrySize)
		if err != nil {
			return errcodes.ArchiveCorrupt(archivePath, err)
		}
		extracted = append(extracted, Extracted{Name: name, Path: target})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return extracted, nil
}
