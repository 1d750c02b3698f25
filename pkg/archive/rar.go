package archive

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nwaples/rardecode/v2"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/errcodes"
)

// rarBackend tries the in-process decoder first and then each configured
// external tool in order.
type rarBackend struct {
	native         bool
	tools          []ExternalTool
	extractTimeout time.Duration
	probeTimeout   time.Duration
	maxEntrySize   int64

	// cache is set on the copy bound to one Archive.
	cache *rarCache
}

var errRarNativeDisabled = errors.New("native rar decoder disabled")

// rarCache keeps one external tool extraction for the lifetime of an
// Archive, so listing and reading pages one at a time doesn't run the tool
// over the whole archive on every call.
type rarCache struct {
	mu          sync.Mutex
	nativeErr   error
	dir         string
	extracted   []Extracted
	fallbackErr error
}

// forArchive returns a copy of b with its own extraction cache.
func (b *rarBackend) forArchive() *rarBackend {
	bound := *b
	bound.cache = &rarCache{}
	return &bound
}

// Close removes the cached extraction, if any.
func (b *rarBackend) Close() error {
	if b.cache == nil {
		return nil
	}
	b.cache.mu.Lock()
	defer b.cache.mu.Unlock()
	dir := b.cache.dir
	b.cache.dir, b.cache.extracted, b.cache.fallbackErr = "", nil, nil
	if dir == "" {
		return nil
	}
	return errors.WithStack(os.RemoveAll(dir))
}

// nativeFailed reports the remembered native failure for this archive.
func (b *rarBackend) nativeFailed() error {
	if !b.native {
		return errRarNativeDisabled
	}
	if b.cache == nil {
		return nil
	}
	b.cache.mu.Lock()
	defer b.cache.mu.Unlock()
	return b.cache.nativeErr
}

func (b *rarBackend) rememberNativeFailure(err error) {
	if b.cache == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	b.cache.mu.Lock()
	b.cache.nativeErr = err
	b.cache.mu.Unlock()
}

// fallbackImages returns the images an external tool extracts from the
// archive. With a cache the extraction runs once; cleanup is the caller's
// job otherwise.
func (b *rarBackend) fallbackImages(ctx context.Context, archivePath string, nativeErr error) ([]Extracted, func(), error) {
	if b.cache == nil {
		tmpDir, err := os.MkdirTemp("", "tankobon-rar-")
		if err != nil {
			return nil, nil, errors.WithStack(err)
		}
		cleanup := func() { _ = os.RemoveAll(tmpDir) }
		extracted, err := b.fallback(ctx, archivePath, tmpDir, nativeErr)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		return extracted, cleanup, nil
	}

	c := b.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fallbackErr != nil {
		return nil, nil, c.fallbackErr
	}
	if c.dir != "" {
		return c.extracted, func() {}, nil
	}

	tmpDir, err := os.MkdirTemp("", "tankobon-rar-")
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	extracted, err := b.fallback(ctx, archivePath, tmpDir, nativeErr)
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		if ctx.Err() == nil {
			c.fallbackErr = err
		}
		return nil, nil, err
	}
	c.dir, c.extracted = tmpDir, extracted
	return extracted, func() {}, nil
}

func (b *rarBackend) List(ctx context.Context, archivePath string) ([]Entry, error) {
	nativeErr := b.nativeFailed()
	if nativeErr == nil {
		entries, err := b.nativeList(ctx, archivePath)
		if err == nil {
			return entries, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		b.rememberNativeFailure(err)
		nativeErr = err
	}

	extracted, cleanup, err := b.fallbackImages(ctx, archivePath, nativeErr)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	entries := make([]Entry, 0, len(extracted))
	for _, x := range extracted {
		var size int64
		if info, err := os.Stat(x.Path); err == nil {
			size = info.Size()
		}
		entries = append(entries, Entry{Name: x.Name, Size: size})
	}
	return entries, nil
}

func (b *rarBackend) Read(ctx context.Context, archivePath, name string) ([]byte, error) {
	nativeErr := b.nativeFailed()
	if nativeErr == nil {
		data, err := b.nativeRead(ctx, archivePath, name)
		if err == nil || errcodes.Is(err, errcodes.CodeEntryNotFound) {
			return data, err
		}
		if ctx.Err() != nil {
			return nil, err
		}
		b.rememberNativeFailure(err)
		nativeErr = err
	}

	extracted, cleanup, err := b.fallbackImages(ctx, archivePath, nativeErr)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	for _, x := range extracted {
		if x.Name != name {
			continue
		}
		f, err := os.Open(x.Path)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer f.Close()
		return readAll(f, name, b.maxEntrySize)
	}
	return nil, errcodes.EntryNotFound(name)
}

func (b *rarBackend) Extract(ctx context.Context, archivePath, destDir string, filter Filter) ([]Extracted, error) {
	nativeErr := errRarNativeDisabled
	if b.native {
		extracted, err := b.nativeExtract(ctx, archivePath, destDir, filter)
		if err == nil {
			return extracted, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		nativeErr = err
	}

	extracted, err := b.fallback(ctx, archivePath, destDir, nativeErr)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return extracted, nil
	}
	filtered := extracted[:0]
	for _, x := range extracted {
		if filter(x.Name) {
			filtered = append(filtered, x)
		}
	}
	return filtered, nil
}

func (b *rarBackend) nativeList(ctx context.Context, archivePath string) ([]Entry, error) {
	r, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()

	var entries []Entry
	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		hdr, err := r.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
		entries = append(entries, Entry{
			Name:  normalizeName(hdr.Name),
			Size:  hdr.UnPackedSize,
			IsDir: hdr.IsDir,
		})
	}
}

func (b *rarBackend) nativeRead(ctx context.Context, archivePath, name string) ([]byte, error) {
	r, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		hdr, err := r.Next()
		if err == io.EOF {
			return nil, errcodes.EntryNotFound(name)
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if hdr.IsDir || normalizeName(hdr.Name) != name {
			continue
		}
		return readAll(r, name, b.maxEntrySize)
	}
}

// nativeExtract removes whatever it wrote when it fails, so a fallback tool
// starts from an empty destination.
func (b *rarBackend) nativeExtract(ctx context.Context, archivePath, destDir string, filter Filter) (extracted []Extracted, err error) {
	defer func() {
		if err == nil {
			return
		}
		for _, x := range extracted {
			_ = os.Remove(x.Path)
		}
		extracted = nil
	}()

	r, err := rardecode.OpenReader(archivePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()

	for {
		if err = ctx.Err(); err != nil {
			return extracted, errors.WithStack(err)
		}
		hdr, nextErr := r.Next()
		if nextErr == io.EOF {
			return extracted, nil
		}
		if nextErr != nil {
			return extracted, errors.WithStack(nextErr)
		}
		name := normalizeName(hdr.Name)
		if hdr.IsDir || (filter != nil && !filter(name)) {
			continue
		}
		target, writeErr := writeEntry(r, destDir, name, b.maxEntrySize)
		if writeErr != nil {
			return extracted, writeErr
		}
		extracted = append(extracted, Extracted{Name: name, Path: target})
	}
}

// fallback runs the external tools in order. Each attempt gets its own
// directory under destDir so a failed tool leaves nothing behind.
func (b *rarBackend) fallback(ctx context.Context, archivePath, destDir string, cause error) ([]Extracted, error) {
	log := logger.FromContext(ctx)

	if len(b.tools) == 0 {
		return nil, errcodes.ArchiveUnsupported(archivePath, cause)
	}
	log.Warn("native rar read failed, trying external tools", logger.Data{
		"path":  archivePath,
		"error": cause.Error(),
	})

	lastErr := cause
	for _, tool := range b.tools {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithStack(err)
		}
		if !tool.Available(ctx, b.probeTimeout) {
			log.Debug("rar tool not available", logger.Data{"tool": tool.Name})
			lastErr = errors.Errorf("%s is not available", tool.Name)
			continue
		}

		if err := os.MkdirAll(destDir, 0755); err != nil {
			return nil, errors.WithStack(err)
		}
		attemptDir, err := os.MkdirTemp(destDir, "."+tool.Name+"-")
		if err != nil {
			return nil, errors.WithStack(err)
		}

		err = tool.Extract(ctx, archivePath, attemptDir, ImageGlobs(), b.extractTimeout)
		if err != nil {
			log.Warn("rar tool failed", logger.Data{"tool": tool.Name, "error": err.Error()})
			_ = os.RemoveAll(attemptDir)
			lastErr = err
			continue
		}

		extracted, err := collectImages(attemptDir)
		if err != nil {
			_ = os.RemoveAll(attemptDir)
			return nil, err
		}
		log.Info("extracted rar with external tool", logger.Data{
			"tool":   tool.Name,
			"path":   archivePath,
			"images": len(extracted),
		})
		return extracted, nil
	}

	return nil, errcodes.ArchiveUnsupported(archivePath, lastErr)
}

// collectImages lists the image files a tool wrote under root. Symlinks are
// ignored so a hostile archive can't point outside the directory.
func collectImages(root string) ([]Extracted, error) {
	var extracted []Extracted
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if IsImage(name) {
			extracted = append(extracted, Extracted{Name: name, Path: p})
		}
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return extracted, nil
}
