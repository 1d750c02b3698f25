package models

import (
	"time"

	"github.com/uptrace/bun"
)

const (
	PageKindCover    = "cover"
	PageKindInternal = "internal"
)

type Page struct {
	bun.BaseModel `bun:"table:pages,alias:p"`

	ID        int       `bun:",pk,nullzero" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ComicID   int       `bun:",nullzero" json:"comic_id"`
	PageIndex int       `json:"page_index"`
	SortOrder int       `bun:",nullzero" json:"sort_order"`
	Kind      string    `bun:",nullzero" json:"kind"`
	Name      *string   `json:"name,omitempty"`
}

func (p *Page) IsCover() bool {
	return p.Kind == PageKindCover
}

// EntryName is the archive base name the page was extracted from, or "".
func (p *Page) EntryName() string {
	if p.Name == nil {
		return ""
	}
	return *p.Name
}
