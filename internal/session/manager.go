// Package session owns the single long-lived handle to the upstream
// content source. The handle is created exactly once at process start,
// and replaced wholesale (never mutated) when the acquisition
// coordinator classifies a failure as session-fatal.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hbomb79/Vidra/internal/tiktok"
	"github.com/hbomb79/Vidra/pkg/logger"
)

var log = logger.Get("Session")

var (
	ErrNotStarted     = errors.New("session manager has not been started")
	ErrAlreadyStarted = errors.New("session manager is already started")
)

type (
	State int

	// Factory constructs and initialises a fresh upstream session. The
	// construction may take tens of seconds; the manager guarantees it
	// is never run concurrently with itself.
	Factory func(context.Context) (*tiktok.Session, error)

	// Manager tracks the current session handle and its health. The
	// handle lock and the rebuild lock are deliberately distinct: the
	// rebuild lock serialises the slow session reconstruction without
	// blocking readers of the current handle.
	Manager struct {
		factory Factory

		mu     sync.RWMutex
		handle *tiktok.Session
		state  State

		rebuildMu sync.Mutex
	}
)

const (
	Unstarted State = iota
	Healthy
	Failed
	Rebuilding
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "UNSTARTED"
	case Healthy:
		return "HEALTHY"
	case Failed:
		return "FAILED"
	case Rebuilding:
		return "REBUILDING"
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}

func NewManager(factory Factory) *Manager {
	return &Manager{factory: factory, state: Unstarted}
}

// Start constructs the initial session. It must be called exactly once
// during process startup; lookups racing startup observe ErrNotStarted
// rather than a partially constructed handle.
func (manager *Manager) Start(ctx context.Context) error {
	manager.rebuildMu.Lock()
	defer manager.rebuildMu.Unlock()

	manager.mu.RLock()
	alreadyStarted := manager.handle != nil
	manager.mu.RUnlock()
	if alreadyStarted {
		return ErrAlreadyStarted
	}

	log.Emit(logger.NEW, "Constructing initial upstream session...\n")
	handle, err := manager.factory(ctx)
	if err != nil {
		return fmt.Errorf("failed to construct initial session: %w", err)
	}

	manager.mu.Lock()
	manager.handle = handle
	manager.state = Healthy
	manager.mu.Unlock()

	return nil
}

// Current returns the active session handle. Callers observing a
// failure with this handle should pass it to Recover rather than
// retrying against it.
func (manager *Manager) Current() (*tiktok.Session, error) {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	if manager.handle == nil {
		return nil, ErrNotStarted
	}

	return manager.handle, nil
}

// State reports the managers position in the Healthy -> Failed ->
// Rebuilding -> Healthy lifecycle.
func (manager *Manager) State() State {
	manager.mu.RLock()
	defer manager.mu.RUnlock()

	return manager.state
}

// Recover discards the failed handle provided and swaps in a freshly
// constructed session. The rebuild is idempotent under concurrency: if
// another caller already replaced the failed handle, the existing
// replacement is returned without constructing another session.
func (manager *Manager) Recover(ctx context.Context, failed *tiktok.Session) (*tiktok.Session, error) {
	manager.mu.Lock()
	if manager.handle == nil {
		manager.mu.Unlock()
		return nil, ErrNotStarted
	}
	if manager.handle != failed {
		current := manager.handle
		manager.mu.Unlock()

		log.Emit(logger.DEBUG, "Session recovery skipped; failed handle was already replaced\n")
		return current, nil
	}
	manager.state = Failed
	manager.mu.Unlock()

	manager.rebuildMu.Lock()
	defer manager.rebuildMu.Unlock()

	// Re-check under the rebuild lock; a concurrent caller may have
	// finished the rebuild while this one was waiting.
	manager.mu.RLock()
	if manager.handle != failed {
		current := manager.handle
		manager.mu.RUnlock()
		return current, nil
	}
	manager.mu.RUnlock()

	manager.setState(Rebuilding)
	log.Emit(logger.STOP, "Upstream session marked FAILED; constructing replacement session...\n")

	replacement, err := manager.factory(ctx)
	if err != nil {
		manager.setState(Failed)
		return nil, fmt.Errorf("failed to rebuild session: %w", err)
	}

	manager.mu.Lock()
	manager.handle = replacement
	manager.state = Healthy
	manager.mu.Unlock()

	log.Emit(logger.SUCCESS, "Upstream session rebuilt\n")
	return replacement, nil
}

// Close tears the manager down at process shutdown. The underlying
// session holds no resources beyond its cookie jar, so teardown is a
// bookkeeping operation.
func (manager *Manager) Close() {
	manager.mu.Lock()
	defer manager.mu.Unlock()

	if manager.handle == nil {
		return
	}

	manager.handle = nil
	manager.state = Unstarted
	log.Emit(logger.REMOVE, "Upstream session closed\n")
}

func (manager *Manager) setState(state State) {
	manager.mu.Lock()
	manager.state = state
	manager.mu.Unlock()
}
