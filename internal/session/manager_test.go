package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hbomb79/Vidra/internal/session"
	"github.com/hbomb79/Vidra/internal/tiktok"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errExpected = errors.New("test: expected error")

func countingFactory(calls *atomic.Int32, delay time.Duration) session.Factory {
	return func(ctx context.Context) (*tiktok.Session, error) {
		calls.Add(1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return &tiktok.Session{}, nil
	}
}

func Test_Current_BeforeStart_Errors(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	manager := session.NewManager(countingFactory(&calls, 0))

	_, err := manager.Current()
	assert.ErrorIs(t, err, session.ErrNotStarted)
	assert.Equal(t, session.Unstarted, manager.State())
}

func Test_Start_ConstructsSessionExactlyOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	manager := session.NewManager(countingFactory(&calls, 0))

	require.NoError(t, manager.Start(context.Background()))
	assert.ErrorIs(t, manager.Start(context.Background()), session.ErrAlreadyStarted)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, session.Healthy, manager.State())

	handle, err := manager.Current()
	assert.NoError(t, err)
	assert.NotNil(t, handle)
}

func Test_Start_FactoryFailureLeavesManagerUnstarted(t *testing.T) {
	t.Parallel()
	manager := session.NewManager(func(ctx context.Context) (*tiktok.Session, error) {
		return nil, errExpected
	})

	assert.ErrorIs(t, manager.Start(context.Background()), errExpected)
	_, err := manager.Current()
	assert.ErrorIs(t, err, session.ErrNotStarted)
}

func Test_Recover_ReplacesFailedHandle(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	manager := session.NewManager(countingFactory(&calls, 0))
	require.NoError(t, manager.Start(context.Background()))

	failed, err := manager.Current()
	require.NoError(t, err)

	replacement, err := manager.Recover(context.Background(), failed)
	assert.NoError(t, err)
	assert.NotSame(t, failed, replacement)
	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, session.Healthy, manager.State())

	current, err := manager.Current()
	assert.NoError(t, err)
	assert.Same(t, replacement, current)
}

func Test_Recover_StaleHandleDoesNotRebuild(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	manager := session.NewManager(countingFactory(&calls, 0))
	require.NoError(t, manager.Start(context.Background()))

	stale, err := manager.Current()
	require.NoError(t, err)

	replacement, err := manager.Recover(context.Background(), stale)
	require.NoError(t, err)

	// A second recovery against the original handle must observe the
	// existing replacement instead of constructing a third session.
	observed, err := manager.Recover(context.Background(), stale)
	assert.NoError(t, err)
	assert.Same(t, replacement, observed)
	assert.EqualValues(t, 2, calls.Load())
}

func Test_Recover_ConcurrentCallersShareOneRebuild(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	manager := session.NewManager(countingFactory(&calls, time.Millisecond*100))
	require.NoError(t, manager.Start(context.Background()))

	failed, err := manager.Current()
	require.NoError(t, err)

	const concurrency = 4
	results := make([]*tiktok.Session, concurrency)
	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			replacement, err := manager.Recover(context.Background(), failed)
			assert.NoError(t, err)
			results[slot] = replacement
		}(i)
	}
	wg.Wait()

	// One call for Start, one for the shared rebuild.
	assert.EqualValues(t, 2, calls.Load())
	for _, replacement := range results {
		assert.Same(t, results[0], replacement)
	}
}
