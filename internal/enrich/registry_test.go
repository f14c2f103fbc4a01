package enrich_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Vidra/internal/enrich"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Registry_CompletedTaskIsReturnedAndReaped(t *testing.T) {
	t.Parallel()
	registry := enrich.NewRegistry()

	taskID := registry.Spawn(func(ctx context.Context) (string, error) {
		return "music-file-id", nil
	})

	result, err := registry.Poll(context.Background(), taskID, time.Second*5)
	require.NoError(t, err)
	assert.Equal(t, enrich.Completed, result.Status)
	assert.Equal(t, "music-file-id", result.MusicFileID)

	// The terminal result is single-read; a second poll must miss.
	_, err = registry.Poll(context.Background(), taskID, time.Second)
	assert.ErrorIs(t, err, enrich.ErrTaskNotFound)
}

func Test_Registry_FailedTaskCarriesFailureReason(t *testing.T) {
	t.Parallel()
	registry := enrich.NewRegistry()

	taskID := registry.Spawn(func(ctx context.Context) (string, error) {
		return "", errors.New("no candidates found")
	})

	result, err := registry.Poll(context.Background(), taskID, time.Second*5)
	require.NoError(t, err)
	assert.Equal(t, enrich.Failed, result.Status)
	assert.Contains(t, result.Failure, "no candidates found")
	assert.Empty(t, result.MusicFileID)
}

func Test_Registry_WaitElapsedConsumesTaskAsFailed(t *testing.T) {
	t.Parallel()
	registry := enrich.NewRegistry()

	release := make(chan struct{})
	defer close(release)
	taskID := registry.Spawn(func(ctx context.Context) (string, error) {
		<-release
		return "music-file-id", nil
	})

	result, err := registry.Poll(context.Background(), taskID, time.Millisecond*50)
	require.NoError(t, err)
	assert.Equal(t, enrich.Failed, result.Status)
	assert.Contains(t, result.Failure, "did not complete")
	assert.Empty(t, result.MusicFileID)

	// The elapsed poll is the consuming read; the task is gone.
	_, err = registry.Poll(context.Background(), taskID, time.Second)
	assert.ErrorIs(t, err, enrich.ErrTaskNotFound)
}

func Test_Registry_TerminalResultIsHandedOutOnceUnderZeroWait(t *testing.T) {
	t.Parallel()
	registry := enrich.NewRegistry()

	taskID := registry.Spawn(func(ctx context.Context) (string, error) {
		return "music-file-id", nil
	})

	require.Eventually(t, func() bool {
		result, err := registry.Status(taskID)
		return err == nil && result.Status == enrich.Completed
	}, time.Second*5, time.Millisecond*10)

	// With a zero wait both select branches are ready; whichever wins,
	// the completed result must be returned exactly once.
	result, err := registry.Poll(context.Background(), taskID, 0)
	require.NoError(t, err)
	assert.Equal(t, enrich.Completed, result.Status)
	assert.Equal(t, "music-file-id", result.MusicFileID)

	_, err = registry.Poll(context.Background(), taskID, time.Second)
	assert.ErrorIs(t, err, enrich.ErrTaskNotFound)
}

func Test_Registry_PollUnknownTaskErrors(t *testing.T) {
	t.Parallel()
	registry := enrich.NewRegistry()

	_, err := registry.Poll(context.Background(), uuid.New(), time.Second)
	assert.ErrorIs(t, err, enrich.ErrTaskNotFound)
}

func Test_Registry_PollHonoursCallerContext(t *testing.T) {
	t.Parallel()
	registry := enrich.NewRegistry()

	release := make(chan struct{})
	defer close(release)
	taskID := registry.Spawn(func(ctx context.Context) (string, error) {
		<-release
		return "", nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()

	_, err := registry.Poll(ctx, taskID, time.Second*30)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func Test_Registry_StatusDoesNotReap(t *testing.T) {
	t.Parallel()
	registry := enrich.NewRegistry()

	taskID := registry.Spawn(func(ctx context.Context) (string, error) {
		return "music-file-id", nil
	})

	require.Eventually(t, func() bool {
		result, err := registry.Status(taskID)
		return err == nil && result.Status == enrich.Completed
	}, time.Second*5, time.Millisecond*10)

	// Status is a passive read; the task must still be pollable.
	result, err := registry.Poll(context.Background(), taskID, time.Second)
	require.NoError(t, err)
	assert.Equal(t, enrich.Completed, result.Status)
}
