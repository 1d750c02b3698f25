package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robinjoseph08/golib/logger"
	"github.com/robinjoseph08/golib/signals"
	"github.com/tankobon/tankobon/pkg/joblogs"
	"github.com/tankobon/tankobon/pkg/jobs"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/worker"
	"github.com/urfave/cli/v2"
)

func enqueueCommand() *cli.Command {
	enqueue := func(jobType string, data func(ids []int) interface{}) cli.ActionFunc {
		return withEnv(func(c *cli.Context, e *env) error {
			list, err := e.comics(c.Args().Slice())
			if err != nil {
				return err
			}
			ids := make([]int, 0, len(list))
			for _, comic := range list {
				ids = append(ids, comic.ID)
			}

			job, created, err := jobs.NewService(e.db).EnqueueJob(e.ctx, jobType, data(ids))
			if err != nil {
				return err
			}
			if !created {
				fmt.Printf("a %s job is already pending or running\n", jobType)
				return nil
			}
			fmt.Printf("enqueued %s job %d\n", jobType, job.ID)
			return nil
		})
	}

	return &cli.Command{
		Name:  "enqueue",
		Usage: "queue a background job; with no comics the job covers every registered comic",
		Subcommands: []*cli.Command{
			{
				Name:      "extract-pages",
				Usage:     "extract page sets",
				ArgsUsage: "[comic...]",
				Action: enqueue(models.JobTypeExtractPages, func(ids []int) interface{} {
					return &models.JobExtractPagesData{ComicIDs: ids}
				}),
			},
			{
				Name:      "resolve-covers",
				Usage:     "regenerate cover thumbnails",
				ArgsUsage: "[comic...]",
				Action: enqueue(models.JobTypeResolveCovers, func(ids []int) interface{} {
					return &models.JobResolveCoversData{ComicIDs: ids}
				}),
			},
		},
	}
}

func workCommand() *cli.Command {
	return &cli.Command{
		Name:  "work",
		Usage: "run the job worker until interrupted",
		Action: withEnv(func(_ *cli.Context, e *env) error {
			wrkr := worker.New(e.cfg, e.db)

			graceful := signals.Setup()

			wrkr.Start()
			e.log.Info("worker started", logger.Data{
				"processes":     e.cfg.WorkerProcesses,
				"poll_interval": e.cfg.JobPollInterval.String(),
			})

			<-graceful
			e.log.Info("starting graceful shutdown")

			wrkr.Shutdown()
			e.log.Info("worker shutdown")
			return nil
		}),
	}
}

func jobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "list background jobs in creation order",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			limit := c.Int("limit")
			list, total, err := jobs.NewService(e.db).ListJobsWithTotal(e.ctx, jobs.ListJobsOptions{
				Limit: &limit,
			})
			if err != nil {
				return err
			}

			logService := joblogs.NewService(e.db)
			rows := make([][]string, 0, len(list))
			for _, job := range list {
				counts, err := logService.CountJobLogsByLevel(e.ctx, job.ID)
				if err != nil {
					return err
				}
				msg := ""
				if job.Error != nil {
					msg = *job.Error
				}
				rows = append(rows, []string{
					strconv.Itoa(job.ID),
					job.Type,
					job.Status,
					fmt.Sprintf("%d/%d", job.Progress, job.Total),
					strconv.Itoa(counts[models.JobLogLevelWarn]),
					strconv.Itoa(counts[models.JobLogLevelError]),
					humanize.Time(job.CreatedAt),
					msg,
				})
			}
			fmt.Println(renderTable(
				[]string{"ID", "Type", "Status", "Progress", "Warnings", "Errors", "Created", "Error"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft},
			))
			fmt.Printf("%d jobs in total\n", total)
			return nil
		}),
	}
}

func jobLogCommand() *cli.Command {
	return &cli.Command{
		Name:      "job-log",
		Usage:     "print the log lines a job stored",
		ArgsUsage: "<job-id>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "level", Usage: "only these levels (info, warn, error)"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			jobID, err := intArg(c, 0, "job-id")
			if err != nil {
				return err
			}
			logs, err := joblogs.NewService(e.db).ListJobLogs(e.ctx, joblogs.ListJobLogsOptions{
				JobID:  jobID,
				Levels: c.StringSlice("level"),
			})
			if err != nil {
				return err
			}

			for _, l := range logs {
				line := fmt.Sprintf("%s %-5s %s", l.CreatedAt.Format(time.RFC3339), l.Level, l.Message)
				if l.ComicID != nil {
					line += fmt.Sprintf(" comic=%d", *l.ComicID)
				}
				if l.Data != nil {
					line += " " + *l.Data
				}
				fmt.Println(line)
			}
			return nil
		}),
	}
}
