package migrations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
)

func init() {
	up := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec(`
			CREATE TABLE pages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				comic_id INTEGER NOT NULL REFERENCES comics (id) ON DELETE CASCADE,
				page_index INTEGER NOT NULL,
				sort_order INTEGER NOT NULL,
				kind TEXT NOT NULL CHECK (kind IN ('cover', 'internal')),
				name TEXT
			)
`)
		if err != nil {
			return errors.WithStack(err)
		}

		// Two extractions racing on the same comic collide here instead of
		// producing a duplicated page list.
		_, err = db.Exec(`CREATE UNIQUE INDEX ux_pages_comic_id_sort_order ON pages (comic_id, sort_order)`)
		if err != nil {
			return errors.WithStack(err)
		}

		_, err = db.Exec(`CREATE INDEX ix_pages_comic_id_kind ON pages (comic_id, kind)`)
		return errors.WithStack(err)
	}

	down := func(_ context.Context, db *bun.DB) error {
		_, err := db.Exec("DROP TABLE IF EXISTS pages")
		return errors.WithStack(err)
	}

	Migrations.MustRegister(up, down)
}
