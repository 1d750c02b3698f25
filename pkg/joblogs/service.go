package joblogs

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/uptrace/bun"
)

type ListJobLogsOptions struct {
	JobID   int
	AfterID *int
	ComicID *int
	Levels  []string
}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateJobLog(ctx context.Context, log *models.JobLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}

	_, err := svc.db.
		NewInsert().
		Model(log).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// ListJobLogs returns the job's log lines oldest first. AfterID lets a caller
// follow a running job by passing the last id it has seen.
func (svc *Service) ListJobLogs(ctx context.Context, opts ListJobLogsOptions) ([]*models.JobLog, error) {
	logs := []*models.JobLog{}
	err := svc.query(opts).Model(&logs).Order("jl.id ASC").Scan(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return logs, nil
}

// CountJobLogsByLevel returns how many lines the job wrote at each level.
// Levels without lines are absent.
func (svc *Service) CountJobLogsByLevel(ctx context.Context, jobID int) (map[string]int, error) {
	var rows []struct {
		Level string `bun:"level"`
		Count int    `bun:"count"`
	}
	err := svc.query(ListJobLogsOptions{JobID: jobID}).
		Model((*models.JobLog)(nil)).
		ColumnExpr("jl.level").
		ColumnExpr("COUNT(*) AS count").
		Group("jl.level").
		Scan(ctx, &rows)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Level] = r.Count
	}
	return counts, nil
}

func (svc *Service) query(opts ListJobLogsOptions) *bun.SelectQuery {
	q := svc.db.NewSelect()
	q = q.Where("jl.job_id = ?", opts.JobID)
	if opts.AfterID != nil {
		q = q.Where("jl.id > ?", *opts.AfterID)
	}
	if opts.ComicID != nil {
		q = q.Where("jl.comic_id = ?", *opts.ComicID)
	}
	if len(opts.Levels) > 0 {
		q = q.Where("jl.level IN (?)", bun.In(opts.Levels))
	}
	return q
}
