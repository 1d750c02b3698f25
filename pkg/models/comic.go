package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Comic is one archive on disk. FilesizeBytes and FileModifiedAt are the
// fingerprint the page set was extracted from; when the file on disk no
// longer matches them the pages are stale.
type Comic struct {
	bun.BaseModel `bun:"table:comics,alias:c"`

	ID             int        `bun:",pk,nullzero" json:"id"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Filepath       string     `bun:",nullzero" json:"filepath"`
	FilesizeBytes  int64      `json:"filesize_bytes"`
	FileModifiedAt *time.Time `json:"file_modified_at,omitempty"`
	Pages          []*Page    `bun:"rel:has-many,join:id=comic_id" json:"pages,omitempty"`
}
