package joblogs

import (
	"context"

	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/tankobon/tankobon/pkg/models"
)

const maxDataValueLen = 1024

// JobLogger writes to the process log and keeps a copy of each line on the
// job. A "comic_id" int in data is stored in its own column.
type JobLogger struct {
	jobID   int
	service *Service
	log     logger.Logger
	ctx     context.Context
}

func (svc *Service) NewJobLogger(ctx context.Context, jobID int) *JobLogger {
	return &JobLogger{
		jobID:   jobID,
		service: svc,
		log:     logger.FromContext(ctx),
		ctx:     ctx,
	}
}

func (l *JobLogger) Info(msg string, data logger.Data) {
	l.log.Info(msg, data)
	l.persist(models.JobLogLevelInfo, msg, data)
}

func (l *JobLogger) Warn(msg string, data logger.Data) {
	l.log.Warn(msg, data)
	l.persist(models.JobLogLevelWarn, msg, data)
}

// Error logs err and stores its message under the "error" key.
func (l *JobLogger) Error(msg string, err error, data logger.Data) {
	l.log.Err(err).Error(msg, data)

	stored := logger.Data{}
	for k, v := range data {
		stored[k] = v
	}
	if err != nil {
		stored["error"] = err.Error()
	}
	l.persist(models.JobLogLevelError, msg, stored)
}

func (l *JobLogger) persist(level, msg string, data logger.Data) {
	var comicID *int
	var dataStr *string

	rest := logger.Data{}
	for k, v := range data {
		if id, ok := v.(int); ok && k == "comic_id" {
			comicID = &id
			continue
		}
		if s, ok := v.(string); ok && len(s) > maxDataValueLen {
			v = truncateMiddle(s, maxDataValueLen)
		}
		rest[k] = v
	}
	if len(rest) > 0 {
		b, err := json.Marshal(rest)
		if err == nil {
			s := string(b)
			dataStr = &s
		}
	}

	jobLog := &models.JobLog{
		JobID:   l.jobID,
		ComicID: comicID,
		Level:   level,
		Message: msg,
		Data:    dataStr,
	}

	// A line that can't be stored is still in the process log.
	if err := l.service.CreateJobLog(l.ctx, jobLog); err != nil && l.ctx.Err() == nil {
		l.log.Err(err).Warn("failed to persist job log")
	}
}

func truncateMiddle(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	half := (maxLen - 5) / 2
	return s[:half] + " ... " + s[len(s)-half:]
}
