package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	JobLogLevelInfo  = "info"
	JobLogLevelWarn  = "warn"
	JobLogLevelError = "error"
)

// JobLog is one line a job wrote while it ran. ComicID is set when the line
// is about a single comic of the batch.
type JobLog struct {
	bun.BaseModel `bun:"table:job_logs,alias:jl"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	JobID     int       `bun:",nullzero" json:"job_id"`
	ComicID   *int      `json:"comic_id,omitempty"`
	Level     string    `bun:",nullzero" json:"level"`
	Message   string    `bun:",nullzero" json:"message"`
	Data      *string   `json:"data,omitempty"`
}
