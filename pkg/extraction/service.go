package extraction

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/archive"
	"github.com/tankobon/tankobon/pkg/comics"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/pagecache"
	"github.com/tankobon/tankobon/pkg/pages"
	"github.com/tankobon/tankobon/pkg/tasks"
	"github.com/tankobon/tankobon/pkg/thumbnail"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

const lockRetryDelay = 50 * time.Millisecond

// Deps are the collaborators of a Service. Everything except Observer is
// required.
type Deps struct {
	Comics   *comics.Service
	Pages    *pages.Service
	Reader   *archive.Reader
	Encoder  *thumbnail.Encoder
	Cache    *pagecache.Cache
	Observer Observer

	PageWorkersMin int
	PageWorkersMax int
	// TempDir is where scoped extraction dirs are created. Empty means the
	// OS default.
	TempDir string
}

type Service struct {
	comics   *comics.Service
	pages    *pages.Service
	reader   *archive.Reader
	encoder  *thumbnail.Encoder
	cache    *pagecache.Cache
	observer Observer

	workersMin int
	workersMax int
	tempDir    string

	locks *xsync.MapOf[int, *sync.Mutex]
}

func New(deps Deps) *Service {
	observer := deps.Observer
	if observer == nil {
		observer = func(Event) {}
	}
	return &Service{
		comics:     deps.Comics,
		pages:      deps.Pages,
		reader:     deps.Reader,
		encoder:    deps.Encoder,
		cache:      deps.Cache,
		observer:   observer,
		workersMin: deps.PageWorkersMin,
		workersMax: deps.PageWorkersMax,
		tempDir:    deps.TempDir,
		locks:      xsync.NewMapOf[int, *sync.Mutex](),
	}
}

// NewService wires a Service from the application config.
func NewService(cfg *config.Config, db *bun.DB, observer Observer) *Service {
	return New(Deps{
		Comics:         comics.NewService(db),
		Pages:          pages.NewService(db, cfg.DatabaseMaxRetries),
		Reader:         archive.NewReader(archive.OptionsFromConfig(cfg)),
		Encoder:        thumbnail.New(cfg.ThumbnailMaxWidth, cfg.ThumbnailQuality),
		Cache:          pagecache.New(cfg.CacheDir),
		Observer:       observer,
		PageWorkersMin: cfg.PageWorkersMin,
		PageWorkersMax: cfg.PageWorkersMax,
	})
}

// WithObserver returns a Service reporting to observer. It shares locks and
// collaborators with svc.
func (svc *Service) WithObserver(observer Observer) *Service {
	if observer == nil {
		observer = func(Event) {}
	}
	clone := *svc
	clone.observer = observer
	return &clone
}

func (svc *Service) Cache() *pagecache.Cache {
	return svc.cache
}

func (svc *Service) Reader() *archive.Reader {
	return svc.reader
}

// lock serializes work on one comic within this process and, through a
// lock file in the cache, across processes sharing the cache.
func (svc *Service) lock(ctx context.Context, comicID int) (func(), error) {
	mu, _ := svc.locks.LoadOrCompute(comicID, func() *sync.Mutex {
		return &sync.Mutex{}
	})
	mu.Lock()

	path := svc.cache.LockPath(comicID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		mu.Unlock()
		return nil, errors.WithStack(err)
	}
	fl := flock.New(path)
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		mu.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, errors.Wrapf(err, "failed to lock comic %d", comicID)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			logger.FromContext(ctx).Err(err).Warn("failed to release comic lock", logger.Data{"comic_id": comicID})
		}
		mu.Unlock()
	}, nil
}

// EnsurePages returns the comic's page set, extracting the archive and
// generating page thumbnails the first time. An archive without images
// yields an empty set and no error. When the archive on disk no longer
// matches the stored size and modification time, the old page set is
// discarded and the archive is extracted again.
func (svc *Service) EnsurePages(ctx context.Context, comic *models.Comic) ([]*models.Page, error) {
	result, _, err := svc.ensurePages(ctx, comic)
	return result, err
}

func (svc *Service) ensurePages(ctx context.Context, c *models.Comic) ([]*models.Page, bool, error) {
	unlock, err := svc.lock(ctx, c.ID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	// Re-read under the lock so the fingerprint reflects any extraction
	// that finished while we were waiting.
	comic, err := svc.comics.RetrieveComic(ctx, comics.RetrieveComicOptions{ID: &c.ID})
	if err != nil {
		return nil, false, err
	}
	log := logger.FromContext(ctx).Data(logger.Data{"comic_id": comic.ID, "path": comic.Filepath})

	fp, err := comics.Stat(comic.Filepath)
	if err != nil {
		svc.emit(Event{Type: EventFailed, ComicID: comic.ID, Err: err})
		return nil, false, err
	}

	existing, err := svc.pages.ListPages(ctx, comic.ID)
	if err != nil {
		return nil, false, err
	}
	if len(existing) > 0 {
		if comic.FileModifiedAt == nil {
			// Nothing to compare against yet; adopt the current file.
			if err := svc.comics.RefreshFingerprint(ctx, comic, fp); err != nil {
				return nil, false, err
			}
			return existing, false, nil
		}
		if comics.Matches(comic, fp) {
			return existing, false, nil
		}

		log.Info("archive changed since extraction, discarding pages", logger.Data{
			"stored_size": comic.FilesizeBytes,
			"size":        fp.Size,
		})
		if err := svc.invalidate(ctx, comic.ID); err != nil {
			return nil, false, err
		}
		svc.emit(Event{Type: EventStale, ComicID: comic.ID})
	}

	result, err := svc.extract(ctx, comic)
	if err != nil {
		svc.emit(Event{Type: EventFailed, ComicID: comic.ID, Err: err})
		return nil, false, err
	}

	if !comics.Matches(comic, fp) {
		if err := svc.comics.RefreshFingerprint(ctx, comic, fp); err != nil {
			return nil, false, err
		}
	}

	svc.emit(Event{Type: EventCompleted, ComicID: comic.ID, Done: len(result), Total: len(result)})
	return result, true, nil
}

func (svc *Service) extract(ctx context.Context, comic *models.Comic) ([]*models.Page, error) {
	log := logger.FromContext(ctx).Data(logger.Data{"comic_id": comic.ID, "path": comic.Filepath})
	start := time.Now()

	a, err := svc.reader.Open(comic.Filepath)
	if err != nil {
		return nil, err
	}
	defer closeArchive(ctx, a)

	tmpDir, err := os.MkdirTemp(svc.tempDir, "tankobon-extract-")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			log.Err(err).Warn("failed to remove extraction dir", logger.Data{"dir": tmpDir})
		}
	}()

	extracted, err := a.ExtractImages(ctx, tmpDir)
	if err != nil {
		return nil, err
	}
	if len(extracted) == 0 {
		log.Info("archive has no images")
		return []*models.Page{}, nil
	}

	total := len(extracted)
	svc.emit(Event{Type: EventStarted, ComicID: comic.ID, Total: total})

	if err := svc.writeThumbnails(ctx, comic.ID, extracted); err != nil {
		return nil, err
	}

	records := make([]*models.Page, 0, total)
	for i, x := range extracted {
		order := i + 1
		kind := models.PageKindInternal
		if order == 1 {
			kind = models.PageKindCover
		}
		name := filepath.Base(filepath.FromSlash(x.Name))
		records = append(records, &models.Page{
			PageIndex: i,
			SortOrder: order,
			Kind:      kind,
			Name:      &name,
		})
	}

	err = svc.pages.InsertPages(ctx, comic.ID, records)
	if errors.Is(err, pages.ErrPagesExist) {
		// Another writer got there first; theirs is the page set.
		log.Info("pages were inserted concurrently")
		return svc.pages.ListPages(ctx, comic.ID)
	}
	if err != nil {
		return nil, err
	}

	log.Info("extracted pages", logger.Data{
		"kind":        a.Kind,
		"pages":       total,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return records, nil
}

// writeThumbnails encodes every extracted page into the cache. A page that
// fails to encode is logged and skipped; its thumbnail can be regenerated
// later. Only cancellation aborts the batch.
func (svc *Service) writeThumbnails(ctx context.Context, comicID int, extracted []archive.Extracted) error {
	log := logger.FromContext(ctx)
	total := len(extracted)

	var done, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tasks.PageThumbnailWorkers(total, svc.workersMin, svc.workersMax))

	for i, x := range extracted {
		order := i + 1
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			dest := svc.cache.PagePath(comicID, order)
			if err := svc.encoder.WriteFromPath(x.Path, dest); err != nil {
				failed.Add(1)
				log.Err(err).Warn("failed to generate page thumbnail", logger.Data{
					"comic_id": comicID,
					"order":    order,
					"entry":    x.Name,
				})
				return nil
			}
			svc.emit(Event{Type: EventPage, ComicID: comicID, Done: int(done.Add(1)), Total: total})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return errors.WithStack(err)
	}
	if n := failed.Load(); n > 0 {
		log.Warn("some page thumbnails could not be generated", logger.Data{
			"comic_id": comicID,
			"failed":   n,
			"total":    total,
		})
	}
	return nil
}

// Invalidate discards a comic's page rows and cached thumbnails so the next
// EnsurePages extracts it again.
func (svc *Service) Invalidate(ctx context.Context, comicID int) error {
	unlock, err := svc.lock(ctx, comicID)
	if err != nil {
		return err
	}
	defer unlock()

	return svc.invalidate(ctx, comicID)
}

func (svc *Service) invalidate(ctx context.Context, comicID int) error {
	deleted, err := svc.pages.DeletePagesForComic(ctx, comicID)
	if err != nil {
		return err
	}
	if err := svc.cache.Invalidate(comicID); err != nil {
		return err
	}
	if err := svc.cache.InvalidateEntity(pagecache.EntityComics, comicID); err != nil {
		return err
	}

	logger.FromContext(ctx).Info("invalidated pages", logger.Data{"comic_id": comicID, "deleted": deleted})
	svc.emit(Event{Type: EventInvalidated, ComicID: comicID, Done: deleted})
	return nil
}

// RegenerateThumbnails recreates page thumbnails missing from the cache for
// an already extracted comic and returns how many were written.
func (svc *Service) RegenerateThumbnails(ctx context.Context, comic *models.Comic) (int, error) {
	list, err := svc.pages.ListPages(ctx, comic.ID)
	if err != nil {
		return 0, err
	}
	missing := svc.cache.MissingPages(comic.ID, len(list))
	if len(missing) == 0 {
		return 0, nil
	}

	a, err := svc.reader.Open(comic.Filepath)
	if err != nil {
		return 0, err
	}
	defer closeArchive(ctx, a)

	var written atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tasks.PageThumbnailWorkers(len(missing), svc.workersMin, svc.workersMax))
	for _, order := range missing {
		page := list[order-1]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := svc.RenderPage(gctx, a, page); err != nil {
				logger.FromContext(ctx).Err(err).Warn("failed to regenerate page thumbnail", logger.Data{
					"comic_id": comic.ID,
					"order":    page.SortOrder,
				})
				return nil
			}
			written.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(written.Load()), errors.WithStack(err)
	}
	return int(written.Load()), nil
}

// RenderPage reads one page out of an open archive and writes its cache
// thumbnail.
func (svc *Service) RenderPage(ctx context.Context, a *archive.Archive, page *models.Page) error {
	data, err := ReadPage(ctx, a, page)
	if err != nil {
		return err
	}
	return svc.encoder.WriteFile(data, svc.cache.PagePath(page.ComicID, page.SortOrder))
}

// ReadPage returns the original image of a page, matched by its stored order
// and entry name.
func ReadPage(ctx context.Context, a *archive.Archive, page *models.Page) ([]byte, error) {
	_, data, err := a.ReadPageImage(ctx, page.SortOrder, page.EntryName())
	return data, err
}

func closeArchive(ctx context.Context, a *archive.Archive) {
	if err := a.Close(); err != nil {
		logger.FromContext(ctx).Err(err).Warn("failed to release archive", logger.Data{"path": a.Path})
	}
}

func (svc *Service) emit(e Event) {
	svc.observer(e)
}
