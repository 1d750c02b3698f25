// Package reading drives an open comic: it extracts the page set in the
// background, fills in missing page thumbnails and keeps the pages around
// the current one loaded.
//
// All session state is owned by the goroutine running Run. Navigation calls
// only enqueue requests, so they're safe from any goroutine.
package reading

import (
	"context"
	"strconv"
	"strings"

	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/archive"
	"github.com/tankobon/tankobon/pkg/extraction"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/tasks"
)

const (
	poolControl = "control"

	keyOpen     = "open"
	keyMove     = "move"
	prefixThumb = "thumb:"
	prefixPage  = "page:"

	prefetchRadius = 1
	keepRadius     = 2
)

type Options struct {
	StartPage       int
	PageWorkers     int
	PrefetchWorkers int
	// OnUpdate is called from the Run goroutine after every state change.
	OnUpdate func(Snapshot)
}

// Snapshot is a copy of the session state handed to OnUpdate.
type Snapshot struct {
	ComicID         int
	Opened          bool
	PageCount       int
	Current         int
	ThumbnailsReady int
	// Image is the current page's original image, nil until it's loaded.
	Image []byte
	// PageErr is set when the current page's image couldn't be read.
	PageErr error
	// Thumbnail is the current page's cached thumbnail. Until one has been
	// rendered it holds the placeholder and ThumbnailPlaceholder is true.
	Thumbnail            []byte
	ThumbnailPlaceholder bool
	Err                  error
}

type opened struct {
	pages   []*models.Page
	archive *archive.Archive
}

type move struct {
	to    int
	delta int
}

type pageImage struct {
	order int
	data  []byte
}

type Session struct {
	comic      *models.Comic
	extraction *extraction.Service
	runner     *tasks.Runner
	onUpdate   func(Snapshot)
	log        logger.Logger

	// Owned by the Run goroutine.
	archive *archive.Archive
	pages   []*models.Page
	current int
	ready   map[int]bool
	images   map[int][]byte
	pageErrs map[int]error
	loading  map[int]bool
	opened   bool
	err     error
}

// Open starts a session for comic and queues its extraction. Nothing is
// applied until Run is called.
func Open(ctx context.Context, svc *extraction.Service, comic *models.Comic, opts Options) *Session {
	pageWorkers := opts.PageWorkers
	if pageWorkers <= 0 {
		pageWorkers = tasks.DefaultPageWorkersMin
	}
	prefetch := opts.PrefetchWorkers
	if prefetch <= 0 {
		prefetch = tasks.DefaultPrefetch
	}
	current := opts.StartPage
	if current < 1 {
		current = 1
	}
	onUpdate := opts.OnUpdate
	if onUpdate == nil {
		onUpdate = func(Snapshot) {}
	}

	s := &Session{
		comic:      comic,
		extraction: svc,
		runner: tasks.NewRunner(ctx,
			tasks.PoolConfig{Name: tasks.PoolPages, Workers: pageWorkers},
			tasks.PoolConfig{Name: tasks.PoolPrefetch, Workers: prefetch},
			tasks.PoolConfig{Name: poolControl, Workers: 1},
		),
		onUpdate: onUpdate,
		log:      logger.FromContext(ctx).Data(logger.Data{"comic_id": comic.ID}),
		current:  current,
		ready:    map[int]bool{},
		images:   map[int][]byte{},
		pageErrs: map[int]error{},
		loading:  map[int]bool{},
	}

	s.runner.Submit(tasks.PoolPages, keyOpen, func(ctx context.Context) (any, error) {
		list, err := svc.EnsurePages(ctx, comic)
		if err != nil {
			return nil, err
		}
		a, err := svc.Reader().Open(comic.Filepath)
		if err != nil {
			return nil, err
		}
		return opened{pages: list, archive: a}, nil
	})

	return s
}

// Run applies results until ctx is done or the session is closed. The
// archive is released when it returns.
func (s *Session) Run(ctx context.Context) error {
	defer func() {
		if s.archive == nil {
			return
		}
		if err := s.archive.Close(); err != nil {
			s.log.Err(err).Warn("failed to release archive")
		}
	}()
	return s.runner.Consume(ctx, s.apply)
}

// Close abandons queued work. Results of jobs still running are dropped.
func (s *Session) Close() {
	s.runner.Shutdown()
}

// GoTo moves to the 1-based page order. Out of range orders are clamped.
func (s *Session) GoTo(order int) bool {
	return s.submitMove(move{to: order})
}

func (s *Session) Next() bool {
	return s.submitMove(move{delta: 1})
}

func (s *Session) Prev() bool {
	return s.submitMove(move{delta: -1})
}

func (s *Session) submitMove(m move) bool {
	return s.runner.Submit(poolControl, keyMove, func(context.Context) (any, error) {
		return m, nil
	})
}

func (s *Session) apply(res tasks.Result) {
	switch {
	case res.Key == keyOpen:
		s.applyOpen(res)
	case res.Key == keyMove:
		s.applyMove(res.Value.(move))
	case strings.HasPrefix(res.Key, prefixThumb):
		order := res.Value.(int)
		if res.Err != nil {
			s.log.Err(res.Err).Warn("failed to render page thumbnail", logger.Data{"order": order})
			break
		}
		s.ready[order] = true
	case strings.HasPrefix(res.Key, prefixPage):
		img := res.Value.(pageImage)
		delete(s.loading, img.order)
		if abs(img.order-s.current) > keepRadius {
			break
		}
		if res.Err != nil {
			s.log.Err(res.Err).Warn("failed to load page", logger.Data{"order": img.order})
			s.pageErrs[img.order] = res.Err
			break
		}
		delete(s.pageErrs, img.order)
		s.images[img.order] = img.data
	}
	s.onUpdate(s.snapshot())
}

func (s *Session) applyOpen(res tasks.Result) {
	if res.Err != nil {
		s.err = res.Err
		s.log.Err(res.Err).Warn("failed to open comic")
		return
	}
	o := res.Value.(opened)
	s.pages = o.pages
	s.archive = o.archive
	s.opened = true
	s.current = s.clamp(s.current)

	missing := map[int]bool{}
	for _, order := range s.extraction.Cache().MissingPages(s.comic.ID, len(s.pages)) {
		missing[order] = true
	}
	for _, p := range s.pages {
		if !missing[p.SortOrder] {
			s.ready[p.SortOrder] = true
			continue
		}
		s.scheduleThumbnail(p)
	}
	s.prefetch()
}

func (s *Session) applyMove(m move) {
	target := m.to
	if m.delta != 0 {
		target = s.current + m.delta
	}
	if !s.opened {
		if target >= 1 {
			s.current = target
		}
		return
	}
	s.current = s.clamp(target)
	for order := range s.images {
		if abs(order-s.current) > keepRadius {
			delete(s.images, order)
		}
	}
	// Failed pages are tried again once they come back into range.
	for order := range s.pageErrs {
		if abs(order-s.current) > keepRadius {
			delete(s.pageErrs, order)
		}
	}
	s.prefetch()
}

func (s *Session) scheduleThumbnail(p *models.Page) {
	a := s.archive
	svc := s.extraction
	s.runner.Submit(tasks.PoolPages, prefixThumb+strconv.Itoa(p.SortOrder), func(ctx context.Context) (any, error) {
		return p.SortOrder, svc.RenderPage(ctx, a, p)
	})
}

// prefetch loads the current page and its neighbours that aren't loaded yet.
func (s *Session) prefetch() {
	if len(s.pages) == 0 {
		return
	}
	a := s.archive
	for order := s.current - prefetchRadius; order <= s.current+prefetchRadius; order++ {
		if order < 1 || order > len(s.pages) {
			continue
		}
		if _, ok := s.images[order]; ok || s.loading[order] {
			continue
		}
		if _, failed := s.pageErrs[order]; failed {
			continue
		}
		s.loading[order] = true
		p := s.pages[order-1]
		s.runner.Submit(tasks.PoolPrefetch, prefixPage+strconv.Itoa(order), func(ctx context.Context) (any, error) {
			data, err := extraction.ReadPage(ctx, a, p)
			return pageImage{order: p.SortOrder, data: data}, err
		})
	}
}

func (s *Session) clamp(order int) int {
	if len(s.pages) == 0 {
		return 0
	}
	if order < 1 {
		return 1
	}
	if order > len(s.pages) {
		return len(s.pages)
	}
	return order
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ComicID:         s.comic.ID,
		Opened:          s.opened,
		PageCount:       len(s.pages),
		Current:         s.current,
		ThumbnailsReady: len(s.ready),
		Image:           s.images[s.current],
		PageErr:         s.pageErrs[s.current],
		Err:             s.err,
	}
	if s.opened && s.current >= 1 {
		data, found, err := s.extraction.Cache().ReadPage(s.comic.ID, s.current)
		if err != nil {
			s.log.Err(err).Warn("failed to read page thumbnail", logger.Data{"order": s.current})
		}
		snap.Thumbnail = data
		snap.ThumbnailPlaceholder = err == nil && !found
	}
	return snap
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
