package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/pointerutil"
	"github.com/tankobon/tankobon/pkg/comics"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/cover"
	"github.com/tankobon/tankobon/pkg/extraction"
	"github.com/tankobon/tankobon/pkg/joblogs"
	"github.com/tankobon/tankobon/pkg/jobs"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/uptrace/bun"
)

// processID identifies this process on the jobs it claims. A job left in
// progress by a process that stopped renewing its lease is picked up by the
// next process that polls.
var processID = uuid.NewString()

// errJobInterrupted is returned by a process function that stopped because
// the worker is shutting down. The job stays in progress.
var errJobInterrupted = errors.New("job interrupted by shutdown")

type processFunc func(ctx context.Context, job *models.Job, jl *joblogs.JobLogger) error

type Worker struct {
	config *config.Config
	log    logger.Logger

	processFuncs map[string]processFunc

	comicService      *comics.Service
	coverResolver     *cover.Resolver
	extractionService *extraction.Service
	jobService        *jobs.Service
	jobLogService     *joblogs.Service

	// ctx is cancelled on shutdown so running batches stop between comics.
	ctx    context.Context
	cancel context.CancelFunc

	queue          chan *models.Job
	shutdown       chan struct{}
	doneFetching   chan struct{}
	doneProcessing chan struct{}
}

func New(cfg *config.Config, db *bun.DB) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		config: cfg,
		log:    logger.New(),

		comicService:      comics.NewService(db),
		coverResolver:     cover.NewResolver(cfg, db),
		extractionService: extraction.NewService(cfg, db, nil),
		jobService:        jobs.NewService(db),
		jobLogService:     joblogs.NewService(db),

		ctx:    ctx,
		cancel: cancel,

		queue:          make(chan *models.Job, cfg.WorkerProcesses),
		shutdown:       make(chan struct{}),
		doneFetching:   make(chan struct{}),
		doneProcessing: make(chan struct{}, cfg.WorkerProcesses),
	}

	w.processFuncs = map[string]processFunc{
		models.JobTypeExtractPages:  w.ProcessExtractPagesJob,
		models.JobTypeResolveCovers: w.ProcessResolveCoversJob,
	}

	return w
}

func (w *Worker) Start() {
	go w.fetchJobs()
	for i := 0; i < w.config.WorkerProcesses; i++ {
		go w.processJobs()
	}
}

func (w *Worker) fetchJobs() {
	duration := w.pollInterval()
	timer := time.NewTimer(duration)

	for {
		select {
		case <-w.shutdown:
			// We're shutting down, so stop adding more jobs to the queue.
			w.doneFetching <- struct{}{}
			return
		case <-timer.C:
			j, err := w.jobService.ListJobs(w.ctx, jobs.ListJobsOptions{
				Limit:              pointerutil.Int(1),
				Statuses:           []string{models.JobStatusPending, models.JobStatusInProgress},
				ProcessIDToExclude: &processID,
				LeaseExpiredBefore: pointerutil.Time(w.leaseCutoff()),
			})
			if err != nil {
				w.log.Err(err).Error("list jobs error")
				timer.Reset(duration)
				continue
			}
			for _, job := range j {
				select {
				case w.queue <- job:
				case <-w.shutdown:
					w.doneFetching <- struct{}{}
					return
				}
			}
			timer.Reset(duration)
		}
	}
}

func (w *Worker) processJobs() {
	for {
		select {
		case <-w.shutdown:
			w.doneProcessing <- struct{}{}
			return
		case job := <-w.queue:
			w.runJob(job)
		}
	}
}

// runJob claims job for this process, runs its process function and records
// the outcome.
func (w *Worker) runJob(job *models.Job) {
	// Prep the context to be passed down to the process function.
	id, err := uuid.NewRandom()
	if err != nil {
		w.log.Err(err).Error("new uuid error")
		return
	}
	log := w.log.ID(id.String()).Root(logger.Data{"job_id": job.ID, "type": job.Type, "process_id": processID})
	ctx := log.WithContext(w.ctx)

	// Another process may have fetched the same job.
	claimed, err := w.jobService.ClaimJob(ctx, job, processID, w.leaseCutoff())
	if err != nil {
		log.Err(err).Error("claim job error")
		return
	}
	if !claimed {
		log.Info("job claimed by another process")
		return
	}

	// Find and invoke the appropriate process function.
	fn, ok := w.processFuncs[job.Type]
	if !ok {
		log.Error("can't find process function for type")
		w.failJob(ctx, job, errors.Errorf("unknown job type %q", job.Type))
		return
	}
	stopRenewing := w.renewLease(ctx, job)
	err = fn(ctx, job, w.jobLogService.NewJobLogger(ctx, job.ID))
	stopRenewing()
	if errors.Is(err, errJobInterrupted) || (err != nil && w.ctx.Err() != nil) {
		log.Info("job interrupted, leaving it for the next process")
		return
	}
	if err != nil {
		log.Err(err).Error("process error")
		w.failJob(ctx, job, err)
		return
	}

	// Update job to be completed so that it's not picked up anymore.
	job.Status = models.JobStatusCompleted

	err = w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{
		Columns: []string{"status", "progress", "error"},
	})
	if err != nil {
		log.Err(err).Error("update job error")
	}
}

// leaseTimeout is how long a job can go untouched before another process may
// take it over.
func (w *Worker) leaseTimeout() time.Duration {
	if w.config.JobLeaseTimeout > 0 {
		return w.config.JobLeaseTimeout
	}
	return 3 * w.pollInterval()
}

func (w *Worker) leaseCutoff() time.Time {
	return time.Now().Add(-w.leaseTimeout())
}

func (w *Worker) pollInterval() time.Duration {
	if w.config.JobPollInterval <= 0 {
		return 5 * time.Second
	}
	return w.config.JobPollInterval
}

// renewLease touches job at a third of the lease timeout until the returned
// func is called.
func (w *Worker) renewLease(ctx context.Context, job *models.Job) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(w.leaseTimeout() / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				held, err := w.jobService.RenewLease(ctx, job.ID, processID)
				if err != nil {
					if ctx.Err() == nil {
						logger.FromContext(ctx).Err(err).Warn("renew job lease error")
					}
					continue
				}
				if !held {
					logger.FromContext(ctx).Warn("job lease lost")
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

func (w *Worker) failJob(ctx context.Context, job *models.Job, cause error) {
	job.Status = models.JobStatusFailed
	job.Error = pointerutil.String(cause.Error())
	err := w.jobService.UpdateJob(ctx, job, jobs.UpdateJobOptions{
		Columns: []string{"status", "error"},
	})
	if err != nil {
		logger.FromContext(ctx).Err(err).Error("update job error")
	}
}

// Shutdown stops fetching, cancels running jobs and waits for the process
// loops to exit.
func (w *Worker) Shutdown() {
	close(w.shutdown)
	w.cancel()

	<-w.doneFetching
	for i := 0; i < w.config.WorkerProcesses; i++ {
		<-w.doneProcessing
	}
}
