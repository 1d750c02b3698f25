package archive

import (
	"context"
	"os"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/errcodes"
)

type zipBackend struct {
	maxEntrySize int64
}

func (b *zipBackend) open(archivePath string) (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithStack(err)
		}
		return nil, errcodes.ArchiveCorrupt(archivePath, err)
	}
	return r, nil
}

func (b *zipBackend) List(ctx context.Context, archivePath string) ([]Entry, error) {
	r, err := b.open(archivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	entries := make([]Entry, 0, len(r.File))
	for _, f := range r.File {
		entries = append(entries, Entry{
			Name:  normalizeName(f.Name),
			Size:  int64(f.UncompressedSize64),
			IsDir: f.FileInfo().IsDir(),
		})
	}
	return entries, ctx.Err()
}

func (b *zipBackend) Read(_ context.Context, archivePath, name string) ([]byte, error) {
	r, err := b.open(archivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	for _, f := range r.File {
		if normalizeName(f.Name) != name || f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errcodes.ArchiveCorrupt(archivePath, err)
		}
		defer rc.Close()

		data, err := readAll(rc, name, b.maxEntrySize)
		if err != nil {
			return nil, errcodes.ArchiveCorrupt(archivePath, err)
		}
		return data, nil
	}
	return nil, errcodes.EntryNotFound(name)
}

func (b *zipBackend) Extract(ctx context.Context, archivePath, destDir string, filter Filter) ([]Extracted, error) {
	r, err := b.open(archivePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var extracted []Extracted
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		name := normalizeName(f.Name)
		if f.FileInfo().IsDir() || (filter != nil && !filter(name)) {
			continue
		}

		target, err := b.extractFile(f, destDir, name)
		if err != nil {
			return nil, errcodes.ArchiveCorrupt(archivePath, err)
		}
		extracted = append(extracted, Extracted{Name: name, Path: target})
	}
	return extracted, nil
}

func (b *zipBackend) extractFile(f *zip.File, destDir, name string) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer rc.Close()

	return writeEntry(rc, destDir, name, b.maxEntrySize)
}
