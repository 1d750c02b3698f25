package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/database"
)

func TestBringUpToDate(t *testing.T) {
	db, err := database.New(config.NewForTest())
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	ctx := context.Background()

	ms, err := Status(ctx, db)
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Len(t, ms.Unapplied(), len(ms))

	group, err := BringUpToDate(ctx, db)
	require.NoError(t, err)
	assert.NotZero(t, group.ID)

	again, err := BringUpToDate(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, again.ID)

	ms, err = Status(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, ms.Unapplied())

	for _, table := range []string{"comics", "pages", "jobs", "job_logs"} {
		var count int
		err := db.NewSelect().TableExpr("sqlite_master").ColumnExpr("COUNT(*)").
			Where("type = 'table'").Where("name = ?", table).Scan(ctx, &count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, table)
	}
}
