package jobs

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/uptrace/bun"
)

type RetrieveJobOptions struct {
	ID *int
}

type ListJobsOptions struct {
	Limit              *int
	Offset             *int
	Types              []string
	Statuses           []string
	ProcessIDToExclude *string
	// LeaseExpiredBefore hides in-progress jobs whose owner touched them at
	// or after this time; their process is still alive.
	LeaseExpiredBefore *time.Time

	includeTotal bool
}

type UpdateJobOptions struct {
	Columns []string
}

var activeStatuses = []string{models.JobStatusPending, models.JobStatusInProgress}

type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db}
}

func (svc *Service) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}

	if job.Data == "" && job.DataParsed != nil {
		// Marshal the data into a JSON string to save into the database.
		data, err := json.Marshal(job.DataParsed)
		if err != nil {
			return errors.WithStack(err)
		}
		job.Data = string(data)
	}
	if job.Data == "" {
		job.Data = "{}"
	}

	_, err := svc.db.
		NewInsert().
		Model(job).
		Returning("*").
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// EnqueueJob creates a pending job of the given type, unless one of that
// type is already pending or in progress. The bool reports whether a job
// was created.
func (svc *Service) EnqueueJob(ctx context.Context, jobType string, data interface{}) (*models.Job, bool, error) {
	active, err := svc.HasActiveJobByType(ctx, jobType)
	if err != nil {
		return nil, false, err
	}
	if active {
		return nil, false, nil
	}

	job := &models.Job{
		Type:       jobType,
		Status:     models.JobStatusPending,
		DataParsed: data,
	}
	if err := svc.CreateJob(ctx, job); err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (svc *Service) RetrieveJob(ctx context.Context, opts RetrieveJobOptions) (*models.Job, error) {
	job := &models.Job{}

	q := svc.db.
		NewSelect().
		Model(job)

	if opts.ID != nil {
		q = q.Where("j.id = ?", *opts.ID)
	}

	err := q.Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errcodes.NotFound("Job")
		}
		return nil, errors.WithStack(err)
	}

	if job.Data != "" {
		// Unmarshal the data into a struct to be returned.
		err := job.UnmarshalData()
		if err != nil {
			return nil, errors.WithStack(err)
		}
	}

	return job, nil
}

func (svc *Service) ListJobs(ctx context.Context, opts ListJobsOptions) ([]*models.Job, error) {
	j, _, err := svc.listJobsWithTotal(ctx, opts)
	return j, errors.WithStack(err)
}

func (svc *Service) ListJobsWithTotal(ctx context.Context, opts ListJobsOptions) ([]*models.Job, int, error) {
	opts.includeTotal = true
	return svc.listJobsWithTotal(ctx, opts)
}

func (svc *Service) listJobsWithTotal(ctx context.Context, opts ListJobsOptions) ([]*models.Job, int, error) {
	list := []*models.Job{}
	var total int
	var err error

	q := svc.db.
		NewSelect().
		Model(&list).
		Order("j.created_at ASC", "j.id ASC")

	if opts.Limit != nil {
		q = q.Limit(*opts.Limit)
	}
	if opts.Offset != nil {
		q = q.Offset(*opts.Offset)
	}
	if len(opts.Types) > 0 {
		q = q.Where("j.type IN (?)", bun.In(opts.Types))
	}
	if len(opts.Statuses) > 0 {
		q = q.Where("j.status IN (?)", bun.In(opts.Statuses))
	}
	if opts.ProcessIDToExclude != nil {
		// A job this process already holds is being worked on here.
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("j.process_id IS NULL").
				WhereOr("j.process_id != ?", *opts.ProcessIDToExclude)
		})
	}

	if opts.LeaseExpiredBefore != nil {
		q = q.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				Where("j.status != ?", models.JobStatusInProgress).
				WhereOr("j.process_id IS NULL").
				WhereOr("j.updated_at < ?", *opts.LeaseExpiredBefore)
		})
	}

	if opts.includeTotal {
		total, err = q.ScanAndCount(ctx)
	} else {
		err = q.Scan(ctx)
	}
	if err != nil {
		return nil, 0, errors.WithStack(err)
	}

	for _, job := range list {
		if err := job.UnmarshalData(); err != nil {
			return nil, 0, errors.WithStack(err)
		}
	}

	return list, total, nil
}

// HasActiveJobByType checks if there's a pending or in-progress job of the given type.
func (svc *Service) HasActiveJobByType(ctx context.Context, jobType string) (bool, error) {
	exists, err := svc.db.NewSelect().
		Model((*models.Job)(nil)).
		Where("j.type = ?", jobType).
		Where("j.status IN (?)", bun.In(activeStatuses)).
		Exists(ctx)
	return exists, errors.WithStack(err)
}

// ClaimJob marks job in progress for processID. The update only applies
// while the job still has the owner it had when it was fetched, so when two
// processes fetch the same job exactly one of them gets it. A job another
// process holds in progress is only taken once its lease has expired, that
// is when it was last touched before leaseExpiredBefore. The bool reports
// whether this call won.
func (svc *Service) ClaimJob(ctx context.Context, job *models.Job, processID string, leaseExpiredBefore time.Time) (bool, error) {
	now := time.Now()

	q := svc.db.NewUpdate().
		Model((*models.Job)(nil)).
		Set("status = ?", models.JobStatusInProgress).
		Set("process_id = ?", processID).
		Set("updated_at = ?", now).
		Where("id = ?", job.ID).
		Where("status IN (?)", bun.In(activeStatuses))
	switch {
	case job.ProcessID == nil:
		q = q.Where("process_id IS NULL")
	case *job.ProcessID == processID:
		q = q.Where("process_id = ?", processID)
	default:
		q = q.
			Where("process_id = ?", *job.ProcessID).
			WhereGroup(" AND ", func(sq *bun.UpdateQuery) *bun.UpdateQuery {
				return sq.
					Where("status != ?", models.JobStatusInProgress).
					WhereOr("updated_at < ?", leaseExpiredBefore)
			})
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	job.Status = models.JobStatusInProgress
	job.ProcessID = &processID
	job.UpdatedAt = now
	return true, nil
}

// RenewLease refreshes updated_at on a job processID is running, keeping
// other processes from taking it over. The bool is false when the job is no
// longer held by processID.
func (svc *Service) RenewLease(ctx context.Context, jobID int, processID string) (bool, error) {
	res, err := svc.db.NewUpdate().
		Model((*models.Job)(nil)).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", jobID).
		Where("process_id = ?", processID).
		Where("status = ?", models.JobStatusInProgress).
		Exec(ctx)
	if err != nil {
		return false, errors.WithStack(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (svc *Service) UpdateJob(ctx context.Context, job *models.Job, opts UpdateJobOptions) error {
	if len(opts.Columns) == 0 {
		return nil
	}

	// Update updated_at.
	now := time.Now()
	job.UpdatedAt = now
	columns := append(opts.Columns, "updated_at")

	res, err := svc.db.
		NewUpdate().
		Model(job).
		Column(columns...).
		WherePK().
		Exec(ctx)
	if err != nil {
		return errors.WithStack(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errcodes.NotFound("Job")
	}

	return nil
}
