package enrich

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Vidra/pkg/logger"
)

var log = logger.Get("Enrich")

// MaxPollWait caps how long a single poll may block waiting for a task
// to finish, regardless of what the caller asked for.
const MaxPollWait = time.Second * 120

// taskTimeout bounds the detached job itself; a retrieval that runs
// this long has hung and is failed outright.
const taskTimeout = time.Minute * 10

var ErrTaskNotFound = errors.New("no enrichment task found with the ID provided")

type (
	TaskStatus int

	// Job is the unit of detached work a task runs. It returns the
	// music file ID the job produced.
	Job func(ctx context.Context) (string, error)

	// TaskResult is the caller-visible snapshot of a task.
	TaskResult struct {
		ID          uuid.UUID
		Status      TaskStatus
		MusicFileID string
		Failure     string
	}

	task struct {
		id          uuid.UUID
		status      TaskStatus
		musicFileID string
		failure     string
		done        chan struct{}
	}

	// Registry tracks in-flight enrichment tasks. Tasks always reach a
	// terminal state, and a terminal result is handed out exactly once:
	// the poll which observes it also reaps it.
	Registry struct {
		mu    sync.Mutex
		tasks map[uuid.UUID]*task
		wg    sync.WaitGroup
	}
)

const (
	Pending TaskStatus = iota
	Completed
	Failed
)

func (status TaskStatus) String() string {
	switch status {
	case Pending:
		return "PENDING"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	}

	return "UNKNOWN"
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[uuid.UUID]*task)}
}

// Spawn starts the job provided as a detached task and returns its ID
// immediately. The job runs independently of any request context and
// always terminates in a Completed or Failed state.
func (registry *Registry) Spawn(job Job) uuid.UUID {
	t := &task{
		id:     uuid.New(),
		status: Pending,
		done:   make(chan struct{}),
	}

	registry.mu.Lock()
	registry.tasks[t.id] = t
	registry.mu.Unlock()

	registry.wg.Add(1)
	go func() {
		defer registry.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()

		musicFileID, err := job(ctx)

		registry.mu.Lock()
		if err != nil {
			log.Emit(logger.ERROR, "Enrichment task %s failed: %s\n", t.id, err.Error())
			t.status = Failed
			t.failure = err.Error()
		} else {
			log.Emit(logger.SUCCESS, "Enrichment task %s completed (music file %s)\n", t.id, musicFileID)
			t.status = Completed
			t.musicFileID = musicFileID
		}
		registry.mu.Unlock()

		close(t.done)
	}()

	log.Emit(logger.NEW, "Spawned enrichment task %s\n", t.id)
	return t.id
}

// Poll returns the terminal state of the task with the ID provided,
// blocking up to maxWait (capped at MaxPollWait) for the task to reach
// it. A task which is still running when the wait elapses is reported
// as Failed. Either outcome consumes the registry entry; any subsequent
// poll for the same ID reports ErrTaskNotFound. The detached job itself
// is never interrupted by an elapsed poll.
func (registry *Registry) Poll(ctx context.Context, taskID uuid.UUID, maxWait time.Duration) (*TaskResult, error) {
	registry.mu.Lock()
	t, ok := registry.tasks[taskID]
	registry.mu.Unlock()
	if !ok {
		return nil, ErrTaskNotFound
	}

	if maxWait < 0 || maxWait > MaxPollWait {
		maxWait = MaxPollWait
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-t.done:
		return registry.reap(t), nil
	case <-timer.C:
		return registry.expire(t), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status reports the current state of the task without blocking and
// without reaping it.
func (registry *Registry) Status(taskID uuid.UUID) (*TaskResult, error) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	t, ok := registry.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}

	return &TaskResult{ID: t.id, Status: t.status, MusicFileID: t.musicFileID, Failure: t.failure}, nil
}

// Close blocks until every in-flight task has reached a terminal state.
func (registry *Registry) Close() {
	registry.wg.Wait()
}

// expire consumes the task after a poll's wait elapsed without the done
// channel becoming ready. The task may have reached a terminal state in
// the race between the two channels; a genuinely still-running task is
// reported as Failed. Either way this is the consuming read.
func (registry *Registry) expire(t *task) *TaskResult {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	delete(registry.tasks, t.id)
	if t.status != Pending {
		return &TaskResult{ID: t.id, Status: t.status, MusicFileID: t.musicFileID, Failure: t.failure}
	}

	log.Emit(logger.WARNING, "Enrichment task %s expired; poll wait elapsed before the task completed\n", t.id)
	return &TaskResult{ID: t.id, Status: Failed, Failure: "task did not complete within the poll wait"}
}

func (registry *Registry) reap(t *task) *TaskResult {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	delete(registry.tasks, t.id)
	return &TaskResult{ID: t.id, Status: t.status, MusicFileID: t.musicFileID, Failure: t.failure}
}
