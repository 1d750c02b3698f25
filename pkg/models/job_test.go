package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobUnmarshalData(t *testing.T) {
	t.Parallel()

	job := &Job{Type: JobTypeExtractPages, Data: `{"comic_ids":[3,1,2]}`}
	require.NoError(t, job.UnmarshalData())

	data, ok := job.DataParsed.(*JobExtractPagesData)
	require.True(t, ok)
	assert.Equal(t, []int{3, 1, 2}, data.ComicIDs)
}

func TestJobUnmarshalData_UnknownType(t *testing.T) {
	t.Parallel()

	job := &Job{Type: "scan", Data: `{}`}
	assert.Error(t, job.UnmarshalData())
}

func TestJobUnmarshalData_BadJSON(t *testing.T) {
	t.Parallel()

	job := &Job{Type: JobTypeResolveCovers, Data: `{"comic_ids":`}
	assert.Error(t, job.UnmarshalData())
}
