// Package archive reads comic book containers (zip, rar, 7z and tar) and
// exposes their image entries in reading order.
package archive

import (
	"context"
	"io"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/pageorder"
)

const (
	DefaultExtractTimeout = 5 * time.Minute
	DefaultProbeTimeout   = 5 * time.Second
	DefaultMaxEntrySize   = 256 << 20
)

// Entry describes one member of an archive. Name is the full path inside the
// archive using forward slashes.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
}

func (e Entry) Base() string {
	return path.Base(e.Name)
}

// Extracted is an entry that has been written to disk.
type Extracted struct {
	Name string
	Path string
}

// Filter selects which entries an extraction writes out.
type Filter func(name string) bool

// Backend is implemented once per container kind.
type Backend interface {
	List(ctx context.Context, archivePath string) ([]Entry, error)
	Read(ctx context.Context, archivePath, name string) ([]byte, error)
	Extract(ctx context.Context, archivePath, destDir string, filter Filter) ([]Extracted, error)
}

type Options struct {
	Capabilities   Capabilities
	ExtractTimeout time.Duration
	ProbeTimeout   time.Duration
	MaxEntrySize   int64
}

// Reader opens archives with the backend matching their detected kind.
type Reader struct {
	caps     Capabilities
	backends map[Kind]Backend
}

func NewReader(opts Options) *Reader {
	if opts.ExtractTimeout <= 0 {
		opts.ExtractTimeout = DefaultExtractTimeout
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	if opts.MaxEntrySize <= 0 {
		opts.MaxEntrySize = DefaultMaxEntrySize
	}

	return &Reader{
		caps: opts.Capabilities,
		backends: map[Kind]Backend{
			KindZip: &zipBackend{maxEntrySize: opts.MaxEntrySize},
			KindRar: &rarBackend{
				native:         opts.Capabilities.RarNative,
				tools:          opts.Capabilities.RarTools,
				extractTimeout: opts.ExtractTimeout,
				probeTimeout:   opts.ProbeTimeout,
				maxEntrySize:   opts.MaxEntrySize,
			},
			KindSevenZip: &sevenZipBackend{maxEntrySize: opts.MaxEntrySize},
			KindTar:      &tarBackend{maxEntrySize: opts.MaxEntrySize},
		},
	}
}

func (r *Reader) Capabilities() Capabilities {
	return r.caps
}

// Open sniffs the file and binds it to a backend. Unknown or unavailable
// formats return errcodes.FormatUnsupported.
func (r *Reader) Open(archivePath string) (*Archive, error) {
	stats, err := os.Stat(archivePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	kind, err := Sniff(archivePath, r.caps)
	if err != nil {
		return nil, err
	}
	if kind == KindUnsupported {
		return nil, errcodes.FormatUnsupported(archivePath)
	}

	backend := r.backends[kind]
	if rb, ok := backend.(*rarBackend); ok {
		backend = rb.forArchive()
	}

	return &Archive{
		Path:    archivePath,
		Kind:    kind,
		Size:    stats.Size(),
		backend: backend,
	}, nil
}

// Archive is an opened comic file. Every call reopens the underlying
// container, so an Archive is safe to share between goroutines. Close
// releases whatever an external RAR tool extracted for it.
type Archive struct {
	Path string
	Kind Kind
	Size int64

	backend Backend
}

func (a *Archive) Close() error {
	if c, ok := a.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *Archive) Entries(ctx context.Context) ([]Entry, error) {
	return a.backend.List(ctx, a.Path)
}

// ImageEntries returns the page images in reading order.
func (a *Archive) ImageEntries(ctx context.Context) ([]Entry, error) {
	entries, err := a.Entries(ctx)
	if err != nil {
		return nil, err
	}
	return sortedImages(entries), nil
}

func (a *Archive) ReadEntry(ctx context.Context, name string) ([]byte, error) {
	return a.backend.Read(ctx, a.Path, name)
}

// ReadEntryByBasename reads the first image (in reading order) whose base
// name equals name. Page records only keep base names.
func (a *Archive) ReadEntryByBasename(ctx context.Context, name string) ([]byte, error) {
	images, err := a.ImageEntries(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range images {
		if e.Base() == name {
			return a.ReadEntry(ctx, e.Name)
		}
	}
	return nil, errcodes.EntryNotFound(name)
}

// ReadPageImage reads the image a page record points at. The image at order
// wins when its base name equals name, since chapter folders often reuse file
// names. Otherwise the first image called name is read, and failing that the
// image at order. An empty name goes straight to order.
func (a *Archive) ReadPageImage(ctx context.Context, order int, name string) (Entry, []byte, error) {
	images, err := a.ImageEntries(ctx)
	if err != nil {
		return Entry{}, nil, err
	}

	inRange := order >= 1 && order <= len(images)
	target, found := Entry{}, false
	if name != "" {
		if inRange && images[order-1].Base() == name {
			target, found = images[order-1], true
		} else {
			for _, e := range images {
				if e.Base() == name {
					target, found = e, true
					break
				}
			}
		}
	}
	if !found {
		if !inRange {
			return Entry{}, nil, errcodes.EntryNotFound(pageLabel(order))
		}
		target = images[order-1]
	}

	data, err := a.ReadEntry(ctx, target.Name)
	if err != nil {
		return Entry{}, nil, err
	}
	return target, data, nil
}

// ReadImageAt reads the image at the given 1-based reading order.
func (a *Archive) ReadImageAt(ctx context.Context, order int) (Entry, []byte, error) {
	images, err := a.ImageEntries(ctx)
	if err != nil {
		return Entry{}, nil, err
	}
	if order < 1 || order > len(images) {
		return Entry{}, nil, errcodes.EntryNotFound(pageLabel(order))
	}
	e := images[order-1]
	data, err := a.ReadEntry(ctx, e.Name)
	if err != nil {
		return Entry{}, nil, err
	}
	return e, data, nil
}

// ExtractImages writes every image entry under destDir and returns them in
// reading order.
func (a *Archive) ExtractImages(ctx context.Context, destDir string) ([]Extracted, error) {
	extracted, err := a.backend.Extract(ctx, a.Path, destDir, IsImage)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]Extracted, len(extracted))
	names := make([]string, 0, len(extracted))
	for _, x := range extracted {
		if _, ok := byName[x.Name]; ok {
			continue
		}
		byName[x.Name] = x
		names = append(names, x.Name)
	}

	ordered := make([]Extracted, 0, len(names))
	for _, name := range pageorder.Order(names) {
		ordered = append(ordered, byName[name])
	}
	return ordered, nil
}

func sortedImages(entries []Entry) []Entry {
	byName := make(map[string]Entry, len(entries))
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir || !IsImage(e.Name) {
			continue
		}
		if _, ok := byName[e.Name]; ok {
			continue
		}
		byName[e.Name] = e
		names = append(names, e.Name)
	}

	images := make([]Entry, 0, len(names))
	for _, name := range pageorder.Order(names) {
		images = append(images, byName[name])
	}
	return images
}

func pageLabel(order int) string {
	return "page #" + strconv.Itoa(order)
}
