package comics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/internal/testgen"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/database"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/migrations"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/uptrace/bun"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := database.New(config.NewForTest())
	require.NoError(t, err)

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestRegisterComic(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	dir := t.TempDir()
	path := testgen.GenerateCBZ(t, dir, "a.cbz", testgen.ComicOptions{})

	comic, err := svc.RegisterComic(ctx, path)
	require.NoError(t, err)
	assert.NotZero(t, comic.ID)
	assert.Equal(t, path, comic.Filepath)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), comic.FilesizeBytes)
	require.NotNil(t, comic.FileModifiedAt)

	again, err := svc.RegisterComic(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, comic.ID, again.ID)
}

func TestRegisterComic_Missing(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)

	_, err := svc.RegisterComic(context.Background(), "/nonexistent/a.cbz")
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = svc.RegisterComic(context.Background(), t.TempDir())
	assert.True(t, errcodes.Is(err, errcodes.CodeValidationError))
}

func TestRetrieveComic_NotFound(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	id := 42

	_, err := svc.RetrieveComic(context.Background(), RetrieveComicOptions{ID: &id})
	assert.True(t, errcodes.Is(err, errcodes.CodeNotFound))
}

func TestListComics(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	var created []*models.Comic
	for _, name := range []string{"a.cbz", "b.cbz", "c.cbz"} {
		c := &models.Comic{Filepath: filepath.Join("/comics", name)}
		require.NoError(t, svc.CreateComic(ctx, c))
		created = append(created, c)
	}

	all, err := svc.ListComics(ctx, ListComicsOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := svc.ListComics(ctx, ListComicsOptions{IDs: []int{created[0].ID, created[2].ID}})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "/comics/c.cbz", some[1].Filepath)

	limit := 1
	offset := 1
	page, err := svc.ListComics(ctx, ListComicsOptions{Limit: &limit, Offset: &offset})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, created[1].ID, page[0].ID)

	ids, err := svc.ListComicIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{created[0].ID, created[1].ID, created[2].ID}, ids)
}

func TestFingerprint(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()
	dir := t.TempDir()
	path := testgen.GenerateCBZ(t, dir, "a.cbz", testgen.ComicOptions{PageCount: 1})

	comic, err := svc.RegisterComic(ctx, path)
	require.NoError(t, err)

	fp, err := Stat(path)
	require.NoError(t, err)
	assert.True(t, Matches(comic, fp))

	// Replace the archive with a different one and move its mtime.
	testgen.GenerateCBZ(t, dir, "a.cbz", testgen.ComicOptions{PageCount: 4})
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	fp, err = Stat(path)
	require.NoError(t, err)
	assert.False(t, Matches(comic, fp))

	require.NoError(t, svc.RefreshFingerprint(ctx, comic, fp))
	reloaded, err := svc.RetrieveComic(ctx, RetrieveComicOptions{ID: &comic.ID})
	require.NoError(t, err)
	assert.True(t, Matches(reloaded, fp))
}

func TestDeleteComic(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	c := &models.Comic{Filepath: "/comics/a.cbz"}
	require.NoError(t, svc.CreateComic(ctx, c))
	require.NoError(t, svc.DeleteComic(ctx, c.ID))
	assert.True(t, errcodes.Is(svc.DeleteComic(ctx, c.ID), errcodes.CodeNotFound))
}
