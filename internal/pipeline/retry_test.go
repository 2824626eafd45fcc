package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"essaypipe/internal/model"
)

func testBackoff(attempts int) Backoff {
	return Backoff{Base: time.Millisecond, Cap: time.Millisecond, Attempts: attempts, Sleep: func(time.Duration) {}}
}

func TestRetryHonorsConfiguredAttempts(t *testing.T) {
	calls := 0
	err := testBackoff(4).retry(context.Background(), 0, func(ctx context.Context) error {
		calls++
		return model.NewStageError(model.KindOCRError, "ocr", errors.New("vendor down"))
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetryStopsOnTerminalKind(t *testing.T) {
	calls := 0
	err := testBackoff(4).retry(context.Background(), 0, func(ctx context.Context) error {
		calls++
		return model.NewStageError(model.KindInputError, "analyze", errors.New("not a pdf"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := testBackoff(2).retry(context.Background(), 0, func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return model.NewStageError(model.KindStorageError, "ingest", errors.New("db locked"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
