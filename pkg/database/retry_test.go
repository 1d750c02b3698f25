package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type codedError struct {
	code int
}

func (e codedError) Error() string { return fmt.Sprintf("sqlite error (%d)", e.code) }
func (e codedError) Code() int     { return e.code }

func TestIsBusy(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"database is locked", errors.New("database is locked"), true},
		{"table locked", errors.New("database table is locked"), true},
		{"sqlite busy code name", errors.New("SQLITE_BUSY"), true},
		{"modernc busy message", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"busy result code", codedError{5}, true},
		{"locked result code", codedError{6}, true},
		{"extended busy code", codedError{5 | 2<<8}, true},
		{"wrapped busy code", fmt.Errorf("begin: %w", codedError{5}), true},
		{"constraint result code", codedError{19}, false},
		{"unrelated message with number", errors.New("read page (5) of archive"), false},
		{"unrelated message with six", errors.New("expected 3 columns (6) got"), false},
		{"unique constraint", errors.New("UNIQUE constraint failed: pages.comic_id, pages.sort_order"), false},
		{"unrelated", errors.New("no such table: pages"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsBusy(tt.err))
		})
	}
}

func TestBackoff(t *testing.T) {
	assert.GreaterOrEqual(t, backoff(0), retryBaseDelay)
	assert.LessOrEqual(t, backoff(0), retryBaseDelay+retryBaseDelay/4)
	assert.Equal(t, retryMaxDelay, backoff(10))
	assert.Equal(t, retryMaxDelay, backoff(80))
}

func TestRetry(t *testing.T) {
	t.Run("succeeds on first attempt", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), 5, func() error {
			attempts++
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("retries busy errors until success", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), 5, func() error {
			attempts++
			if attempts < 3 {
				return errors.New("database is locked")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("returns other errors immediately", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), 5, func() error {
			attempts++
			return errors.New("no such table: pages")
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		attempts := 0
		err := Retry(context.Background(), 2, func() error {
			attempts++
			return errors.New("database is locked")
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops when context is cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		attempts := 0
		err := Retry(ctx, 10, func() error {
			attempts++
			return errors.New("database is locked")
		})
		require.ErrorIs(t, err, context.Canceled)
		assert.Less(t, attempts, 10)
	})
}
