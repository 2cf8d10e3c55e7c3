package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTaskType(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"convert", "cog", "thumbnail", "deadwood_segmentation", "all"} {
		tt, err := ParseTaskType(s)
		require.NoError(t, err)
		assert.Equal(t, s, tt.String())
	}

	_, err := ParseTaskType("geotiff")
	assert.ErrorIs(t, err, ErrInvalidTaskType)
	_, err = ParseTaskType("")
	assert.ErrorIs(t, err, ErrInvalidTaskType)
}

func TestProcessOptionsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*ProcessOptions)
		wantErr bool
	}{
		{"defaults", func(*ProcessOptions) {}, false},
		{"original tiling", func(o *ProcessOptions) { o.TilingScheme = TilingOriginal }, false},
		{"quality too high", func(o *ProcessOptions) { o.Quality = 101 }, true},
		{"negative quality", func(o *ProcessOptions) { o.Quality = -1 }, true},
		{"unknown tiling", func(o *ProcessOptions) { o.TilingScheme = "mercator" }, true},
		{"empty profile", func(o *ProcessOptions) { o.Profile = "" }, true},
		{"webp profile", func(o *ProcessOptions) { o.Profile = "webp" }, false},
		{"unknown profile", func(o *ProcessOptions) { o.Profile = "gif" }, true},
		{"zero resolution", func(o *ProcessOptions) { o.Resolution = 0 }, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			opts := DefaultProcessOptions()
			tc.mutate(&opts)
			err := opts.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidOptions)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewQueueTask(t *testing.T) {
	t.Parallel()

	userID := uuid.New()

	task, err := NewQueueTask(7, userID, TaskTypeCog, DefaultProcessOptions(), DefaultPriority)
	require.NoError(t, err)
	assert.Equal(t, int64(7), task.DatasetID)
	assert.Equal(t, 2, task.Priority)
	assert.False(t, task.IsProcessing)

	_, err = NewQueueTask(0, userID, TaskTypeCog, DefaultProcessOptions(), 1)
	assert.ErrorIs(t, err, ErrInvalidID)

	_, err = NewQueueTask(1, userID, TaskType("bogus"), DefaultProcessOptions(), 1)
	assert.ErrorIs(t, err, ErrInvalidTaskType)

	_, err = NewQueueTask(1, userID, TaskTypeAll, DefaultProcessOptions(), -1)
	assert.ErrorIs(t, err, ErrValidation)
}
