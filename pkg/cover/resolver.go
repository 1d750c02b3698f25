// Package cover picks the representative image of a comic.
//
// Resolution tries, in order: the page marked as cover, a page whose name
// looks like a cover (cover.*, portada.*, caratula.*), and the first page.
// The last two promote the page they pick so the next resolution hits the
// first tier. A comic without page rows is served read-only from the
// archive's first image.
package cover

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/archive"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/pagecache"
	"github.com/tankobon/tankobon/pkg/pages"
	"github.com/tankobon/tankobon/pkg/thumbnail"
	"github.com/uptrace/bun"
)

const tempPrefix = "tankobon-cover-"

type Deps struct {
	Pages   *pages.Service
	Reader  *archive.Reader
	Cache   *pagecache.Cache
	Encoder *thumbnail.Encoder
	// TempDir is where cover temp dirs are created. Empty means the OS
	// default.
	TempDir string
}

type Resolver struct {
	pages   *pages.Service
	reader  *archive.Reader
	cache   *pagecache.Cache
	encoder *thumbnail.Encoder
	tempDir string
}

func New(deps Deps) *Resolver {
	return &Resolver{
		pages:   deps.Pages,
		reader:  deps.Reader,
		cache:   deps.Cache,
		encoder: deps.Encoder,
		tempDir: deps.TempDir,
	}
}

func NewResolver(cfg *config.Config, db *bun.DB) *Resolver {
	return New(Deps{
		Pages:   pages.NewService(db, cfg.DatabaseMaxRetries),
		Reader:  archive.NewReader(archive.OptionsFromConfig(cfg)),
		Cache:   pagecache.New(cfg.CacheDir),
		Encoder: thumbnail.New(cfg.CoverThumbnailWidth, cfg.ThumbnailQuality),
	})
}

// Cleanup removes a file returned by ResolveCover along with its temp dir.
func Cleanup(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if !strings.HasPrefix(filepath.Base(dir), tempPrefix) {
		return errors.WithStack(os.Remove(path))
	}
	return errors.WithStack(os.RemoveAll(dir))
}

// ResolveCover writes the comic's cover image to a new temp dir and returns
// its path, or "" when the archive has no usable image. The caller owns the
// file and must pass it to Cleanup.
func (r *Resolver) ResolveCover(ctx context.Context, comicID int, comicPath string) (string, error) {
	log := logger.FromContext(ctx).Data(logger.Data{"comic_id": comicID, "path": comicPath})

	a, err := r.reader.Open(comicPath)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Err(err).Warn("failed to release archive")
		}
	}()

	tried := map[int]struct{}{}

	// Explicit mark.
	page, err := r.pages.FindCoverPage(ctx, comicID)
	if err != nil {
		return "", err
	}
	if page != nil {
		tried[page.ID] = struct{}{}
		path, err := r.extractPage(ctx, a, page)
		if err == nil {
			return path, nil
		}
		log.Err(err).Warn("marked cover could not be extracted", logger.Data{"page_id": page.ID, "order": page.SortOrder})
	}

	// Name heuristic.
	page, err = r.pages.FindPageByNamePattern(ctx, comicID, pages.CoverNamePatterns)
	if err != nil {
		return "", err
	}
	if page != nil {
		if _, ok := tried[page.ID]; !ok {
			tried[page.ID] = struct{}{}
			path, err := r.promoteAndExtract(ctx, a, page)
			if err == nil {
				return path, nil
			}
			if !isExtractError(err) {
				return "", err
			}
			log.Err(err).Warn("cover-named page could not be extracted", logger.Data{"page_id": page.ID, "order": page.SortOrder})
		}
	}

	// Positional default.
	page, err = r.pages.FindMinOrderPage(ctx, comicID)
	if err != nil {
		return "", err
	}
	if page != nil {
		if _, ok := tried[page.ID]; ok {
			return "", nil
		}
		path, err := r.promoteAndExtract(ctx, a, page)
		if err == nil {
			return path, nil
		}
		if !isExtractError(err) {
			return "", err
		}
		log.Err(err).Warn("first page could not be extracted", logger.Data{"page_id": page.ID})
		return "", nil
	}

	// No page rows yet: read the first image without touching the catalog.
	entry, data, err := a.ReadImageAt(ctx, 1)
	if errcodes.Is(err, errcodes.CodeEntryNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return r.writeTemp(entry.Base(), data)
}

func (r *Resolver) promoteAndExtract(ctx context.Context, a *archive.Archive, page *models.Page) (string, error) {
	if !page.IsCover() {
		if err := r.pages.SetCover(ctx, page.ComicID, page.ID); err != nil {
			return "", err
		}
		page.Kind = models.PageKindCover
		logger.FromContext(ctx).Info("promoted page to cover", logger.Data{
			"comic_id": page.ComicID,
			"page_id":  page.ID,
			"order":    page.SortOrder,
		})
	}
	return r.extractPage(ctx, a, page)
}

// extractPage reads the page by its stored order and name, falling back to
// the order alone when the name is no longer present in the archive.
func (r *Resolver) extractPage(ctx context.Context, a *archive.Archive, page *models.Page) (string, error) {
	entry, data, err := a.ReadPageImage(ctx, page.SortOrder, page.EntryName())
	if err != nil {
		return "", err
	}
	return r.writeTemp(entry.Base(), data)
}

func (r *Resolver) writeTemp(name string, data []byte) (string, error) {
	dir, err := os.MkdirTemp(r.tempDir, tempPrefix)
	if err != nil {
		return "", errors.WithStack(err)
	}
	path := filepath.Join(dir, filepath.Base(filepath.FromSlash(name)))
	if err := os.WriteFile(path, data, 0644); err != nil {
		_ = os.RemoveAll(dir)
		return "", errors.WithStack(err)
	}
	return path, nil
}

// GenerateComicThumbnail renders the resolved cover into the comic's entity
// thumbnail and returns its cache path, or "" when there is no cover.
func (r *Resolver) GenerateComicThumbnail(ctx context.Context, comic *models.Comic) (string, error) {
	src, err := r.ResolveCover(ctx, comic.ID, comic.Filepath)
	if err != nil || src == "" {
		return "", err
	}
	defer func() {
		if err := Cleanup(src); err != nil {
			logger.FromContext(ctx).Err(err).Warn("failed to remove cover temp file", logger.Data{"path": src})
		}
	}()

	dest, err := r.cache.EntityPath(pagecache.EntityComics, comic.ID)
	if err != nil {
		return "", err
	}
	if err := r.encoder.WriteFromPath(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// isExtractError reports whether err came from reading the archive rather
// than from the store.
func isExtractError(err error) bool {
	return !errcodes.Is(err, errcodes.CodeStoreError) && !errcodes.Is(err, errcodes.CodeNotFound)
}
