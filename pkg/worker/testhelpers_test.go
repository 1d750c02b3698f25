package worker

import (
	"context"
	"testing"
	"time"

	"github.com/robinjoseph08/golib/logger"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/internal/testgen"
	"github.com/tankobon/tankobon/pkg/comics"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/database"
	"github.com/tankobon/tankobon/pkg/joblogs"
	"github.com/tankobon/tankobon/pkg/jobs"
	"github.com/tankobon/tankobon/pkg/migrations"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/pagecache"
	"github.com/tankobon/tankobon/pkg/pages"
	"github.com/uptrace/bun"
)

// testContext holds all the dependencies needed for testing the worker.
type testContext struct {
	t             *testing.T
	ctx           context.Context
	cfg           *config.Config
	db            *bun.DB
	worker        *Worker
	comicService  *comics.Service
	jobService    *jobs.Service
	jobLogService *joblogs.Service
	pageService   *pages.Service
	cache         *pagecache.Cache
	dir           string
}

// newTestContext creates a new test context with an in-memory SQLite database
// and all necessary services initialized.
func newTestContext(t *testing.T) *testContext {
	t.Helper()

	cfg := config.NewForTest()
	cfg.CacheDir = t.TempDir()
	cfg.JobPollInterval = 20 * time.Millisecond

	db, err := database.New(cfg)
	require.NoError(t, err)

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	tc := &testContext{
		t:             t,
		ctx:           logger.New().WithContext(context.Background()),
		cfg:           cfg,
		db:            db,
		worker:        New(cfg, db),
		comicService:  comics.NewService(db),
		jobService:    jobs.NewService(db),
		jobLogService: joblogs.NewService(db),
		pageService:   pages.NewService(db, database.DefaultMaxRetries),
		cache:         pagecache.New(cfg.CacheDir),
		dir:           t.TempDir(),
	}

	t.Cleanup(func() {
		db.Close()
	})

	return tc
}

// createComic writes a CBZ with the given number of pages and registers it.
func (tc *testContext) createComic(name string, pageCount int) *models.Comic {
	tc.t.Helper()

	path := testgen.GenerateCBZ(tc.t, tc.dir, name, testgen.ComicOptions{PageCount: pageCount})
	comic, err := tc.comicService.RegisterComic(tc.ctx, path)
	require.NoError(tc.t, err)
	return comic
}

func (tc *testContext) createJob(jobType string, data interface{}) *models.Job {
	tc.t.Helper()

	job := &models.Job{Type: jobType, DataParsed: data}
	require.NoError(tc.t, tc.jobService.CreateJob(tc.ctx, job))

	// Read it back so DataParsed has the shape the fetch loop produces.
	job, err := tc.jobService.RetrieveJob(tc.ctx, jobs.RetrieveJobOptions{ID: &job.ID})
	require.NoError(tc.t, err)
	return job
}

func (tc *testContext) retrieveJob(id int) *models.Job {
	tc.t.Helper()

	job, err := tc.jobService.RetrieveJob(tc.ctx, jobs.RetrieveJobOptions{ID: &id})
	require.NoError(tc.t, err)
	return job
}

func (tc *testContext) countPages(comicID int) int {
	tc.t.Helper()

	count, err := tc.pageService.CountPages(tc.ctx, comicID)
	require.NoError(tc.t, err)
	return count
}
