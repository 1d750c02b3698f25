package models

import (
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	JobStatusPending    = "pending"
	JobStatusInProgress = "in_progress"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const (
	JobTypeExtractPages  = "extract_pages"
	JobTypeResolveCovers = "resolve_covers"
)

type Job struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID         int         `bun:",pk,nullzero" json:"id"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	Type       string      `bun:",nullzero" json:"type"`
	Status     string      `bun:",nullzero" json:"status"`
	Data       string      `bun:",nullzero" json:"-"`
	DataParsed interface{} `bun:"-" json:"data"`
	Progress   int         `json:"progress"`
	Total      int         `json:"total"`
	Error      *string     `json:"error,omitempty"`
	ProcessID  *string     `json:"process_id,omitempty"`
}

func (job *Job) UnmarshalData() error {
	switch job.Type {
	case JobTypeExtractPages:
		job.DataParsed = &JobExtractPagesData{}
	case JobTypeResolveCovers:
		job.DataParsed = &JobResolveCoversData{}
	default:
		return errors.Errorf("unknown job type %q", job.Type)
	}

	if job.Data == "" {
		return nil
	}

	err := json.Unmarshal([]byte(job.Data), job.DataParsed)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// JobExtractPagesData lists the comics a batch extraction covers. An empty
// list means every comic in the catalog.
type JobExtractPagesData struct {
	ComicIDs []int `json:"comic_ids"`
}

// JobResolveCoversData lists the comics whose cover thumbnails are
// regenerated. An empty list means every comic in the catalog.
type JobResolveCoversData struct {
	ComicIDs []int `json:"comic_ids"`
}
