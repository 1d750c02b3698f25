package errcodes

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesOnCode(t *testing.T) {
	t.Parallel()

	err := errors.WithStack(ArchiveCorrupt("/comics/a.cbz", errors.New("zip: not a valid zip file")))

	assert.True(t, errors.Is(err, ArchiveCorrupt("", nil)))
	assert.False(t, errors.Is(err, ArchiveUnsupported("", nil)))
	assert.True(t, Is(err, CodeArchiveCorrupt))
	assert.Equal(t, CodeArchiveCorrupt, CodeOf(err))
}

func TestCodeOf_PlainError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", CodeOf(errors.New("boom")))
	assert.False(t, Is(nil, CodeStoreError))
}

func TestUnwrap_ReachesCause(t *testing.T) {
	t.Parallel()

	err := ArchiveUnsupported("/comics/a.cbr", context.DeadlineExceeded)

	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "a.cbr")
}

func TestStoreError_Retryable(t *testing.T) {
	t.Parallel()

	var e *Error
	err := errors.Wrap(StoreError(errors.New("database is locked")), "insert pages")

	assert.True(t, errors.As(err, &e))
	assert.True(t, e.Retryable)
	assert.Equal(t, CodeStoreError, e.Code)
}
