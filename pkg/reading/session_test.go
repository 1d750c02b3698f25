package reading

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/internal/testgen"
	"github.com/tankobon/tankobon/pkg/archive"
	"github.com/tankobon/tankobon/pkg/comics"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/database"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/extraction"
	"github.com/tankobon/tankobon/pkg/migrations"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/pagecache"
	"github.com/tankobon/tankobon/pkg/pages"
	"github.com/tankobon/tankobon/pkg/thumbnail"
)

const waitTimeout = 10 * time.Second

type fixture struct {
	svc    *extraction.Service
	comics *comics.Service
	cache  *pagecache.Cache
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.New(config.NewForTest())
	require.NoError(t, err)
	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})

	f := &fixture{
		comics: comics.NewService(db),
		cache:  pagecache.New(t.TempDir()),
		dir:    t.TempDir(),
	}
	f.svc = extraction.New(extraction.Deps{
		Comics:         f.comics,
		Pages:          pages.NewService(db, database.DefaultMaxRetries),
		Reader:         archive.NewReader(archive.Options{Capabilities: archive.DefaultCapabilities()}),
		Encoder:        thumbnail.New(thumbnail.DefaultMaxWidth, thumbnail.DefaultQuality),
		Cache:          f.cache,
		PageWorkersMin: 10,
		PageWorkersMax: 15,
		TempDir:        t.TempDir(),
	})
	return f
}

// comic writes a five page archive; page n is 100+n pixels wide.
func (f *fixture) comic(t *testing.T) *models.Comic {
	t.Helper()
	var list []testgen.Page
	for n := 1; n <= 5; n++ {
		list = append(list, testgen.Page{Name: "p" + string(rune('0'+n)) + ".jpg", Width: 100 + n})
	}
	path := testgen.GenerateCBZ(t, f.dir, "comic.cbz", testgen.ComicOptions{Pages: list})
	comic, err := f.comics.RegisterComic(context.Background(), path)
	require.NoError(t, err)
	return comic
}

// run starts the session and stops it when the test ends.
func run(t *testing.T, s *Session) {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()
	t.Cleanup(func() {
		s.Close()
		assert.NoError(t, <-done)
	})
}

func open(t *testing.T, f *fixture, comic *models.Comic, start int) (*Session, <-chan Snapshot) {
	t.Helper()
	updates := make(chan Snapshot, 256)
	s := Open(context.Background(), f.svc, comic, Options{
		StartPage: start,
		OnUpdate: func(snap Snapshot) {
			select {
			case updates <- snap:
			default:
			}
		},
	})
	run(t, s)
	return s, updates
}

func waitFor(t *testing.T, updates <-chan Snapshot, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	timeout := time.After(waitTimeout)
	for {
		select {
		case snap := <-updates:
			if cond(snap) {
				return snap
			}
		case <-timeout:
			t.Fatal("timed out waiting for session state")
			return Snapshot{}
		}
	}
}

func imageWidth(t *testing.T, data []byte) int {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Width
}

func TestSession_OpensAndLoadsFirstPage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	comic := f.comic(t)

	_, updates := open(t, f, comic, 0)

	snap := waitFor(t, updates, func(s Snapshot) bool { return s.Image != nil })
	assert.True(t, snap.Opened)
	assert.Equal(t, 5, snap.PageCount)
	assert.Equal(t, 1, snap.Current)
	assert.Equal(t, 5, snap.ThumbnailsReady)
	assert.Equal(t, 101, imageWidth(t, snap.Image))
	assert.NoError(t, snap.Err)
	assert.NoError(t, snap.PageErr)
	assert.False(t, snap.ThumbnailPlaceholder)
	assert.Equal(t, 101, imageWidth(t, snap.Thumbnail))
}

func TestSession_Navigation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	comic := f.comic(t)

	s, updates := open(t, f, comic, 2)
	waitFor(t, updates, func(s Snapshot) bool { return s.Current == 2 && s.Image != nil })

	require.True(t, s.GoTo(4))
	snap := waitFor(t, updates, func(s Snapshot) bool { return s.Current == 4 && s.Image != nil })
	assert.Equal(t, 104, imageWidth(t, snap.Image))

	require.True(t, s.Next())
	require.True(t, s.Next())
	snap = waitFor(t, updates, func(s Snapshot) bool { return s.Current == 5 && s.Image != nil })
	assert.Equal(t, 105, imageWidth(t, snap.Image))

	require.True(t, s.GoTo(-3))
	snap = waitFor(t, updates, func(s Snapshot) bool { return s.Current == 1 && s.Image != nil })
	assert.Equal(t, 101, imageWidth(t, snap.Image))
}

func TestSession_StartPageClamped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	comic := f.comic(t)

	_, updates := open(t, f, comic, 42)
	snap := waitFor(t, updates, func(s Snapshot) bool { return s.Opened })
	assert.Equal(t, 5, snap.Current)
}

func TestSession_RegeneratesMissingThumbnails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	comic := f.comic(t)

	_, err := f.svc.EnsurePages(context.Background(), comic)
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.cache.PagePath(comic.ID, 2)))
	require.NoError(t, os.Remove(f.cache.PagePath(comic.ID, 5)))

	_, updates := open(t, f, comic, 1)

	waitFor(t, updates, func(s Snapshot) bool { return s.ThumbnailsReady == 5 })
	assert.Empty(t, f.cache.MissingPages(comic.ID, 5))
}

// breakArchive overwrites the archive with a zip signature followed by zeros,
// keeping its size and modification time so the stored page set still
// matches it.
func breakArchive(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	data := make([]byte, info.Size())
	copy(data, "PK\x03\x04")
	require.NoError(t, os.WriteFile(path, data, 0644))
	require.NoError(t, os.Chtimes(path, info.ModTime(), info.ModTime()))
}

func TestSession_UnreadablePage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	comic := f.comic(t)

	_, err := f.svc.EnsurePages(context.Background(), comic)
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.cache.PagePath(comic.ID, 1)))
	breakArchive(t, comic.Filepath)

	_, updates := open(t, f, comic, 1)

	snap := waitFor(t, updates, func(s Snapshot) bool { return s.PageErr != nil })
	assert.True(t, snap.Opened)
	assert.NoError(t, snap.Err)
	assert.Nil(t, snap.Image)
	assert.True(t, errcodes.Is(snap.PageErr, errcodes.CodeArchiveCorrupt))

	// The thumbnail can't be rendered either, so the placeholder stands in.
	assert.True(t, snap.ThumbnailPlaceholder)
	placeholder, found, err := f.cache.ReadPage(comic.ID, 1)
	require.NoError(t, err)
	require.False(t, found)
	assert.Equal(t, placeholder, snap.Thumbnail)
}

func TestSession_OpenFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	path := testgen.WriteFile(t, f.dir, "book.pdf", []byte("%PDF-1.7"))
	comic, err := f.comics.RegisterComic(context.Background(), path)
	require.NoError(t, err)

	_, updates := open(t, f, comic, 1)

	snap := waitFor(t, updates, func(s Snapshot) bool { return s.Err != nil })
	assert.False(t, snap.Opened)
	assert.True(t, errcodes.Is(snap.Err, errcodes.CodeFormatUnsupported))
}

func TestSession_CloseStopsRun(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	comic := f.comic(t)

	opened := make(chan struct{}, 1)
	s := Open(context.Background(), f.svc, comic, Options{
		OnUpdate: func(snap Snapshot) {
			if snap.Opened {
				select {
				case opened <- struct{}{}:
				default:
				}
			}
		},
	})
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	// Let extraction finish so nothing writes into the temp dirs after the
	// test returns.
	select {
	case <-opened:
	case <-time.After(waitTimeout):
		t.Fatal("session never opened")
	}

	s.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run didn't return after Close")
	}
	assert.False(t, s.GoTo(2))
}
