// Package approval implements the process-wide correlation table for
// pending tool-use approvals: register a request id, suspend the caller
// until a matching response, cancel, or timeout resolves it.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is the outcome of an approval round trip.
type Decision struct {
	Approved bool
	Reason   string
}

type waiter struct {
	resultCh chan Decision
	errCh    chan error
	once     sync.Once
}

func (w *waiter) resolve(d Decision) {
	w.once.Do(func() {
		w.resultCh <- d
	})
}

func (w *waiter) reject(err error) {
	w.once.Do(func() {
		w.errCh <- err
	})
}

// Registry is a single process-wide map from request id to waiter.
// All operations are safe for concurrent use. The critical race —
// concurrent resolve and timeout — is settled by whichever removes the
// entry from the map first; the loser is a no-op.
type Registry struct {
	mu      sync.Mutex
	waiters map[string]*waiter
	logger  *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		waiters: make(map[string]*waiter),
		logger:  logger,
	}
}

// NewRequestID returns a fresh UUIDv4 for correlating a request/response pair.
func (r *Registry) NewRequestID() string {
	return uuid.NewString()
}

// Await registers id and blocks until it is resolved, cancelled, or the
// timeout elapses. Exactly one of these three outcomes fires.
func (r *Registry) Await(ctx context.Context, id string, timeout time.Duration) (Decision, error) {
	w := &waiter{
		resultCh: make(chan Decision, 1),
		errCh:    make(chan error, 1),
	}

	r.mu.Lock()
	r.waiters[id] = w
	r.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	defer func() {
		r.mu.Lock()
		delete(r.waiters, id)
		r.mu.Unlock()
	}()

	select {
	case d := <-w.resultCh:
		return d, nil
	case err := <-w.errCh:
		return Decision{}, err
	case <-timer.C:
		r.mu.Lock()
		current, pending := r.waiters[id]
		if pending && current == w {
			delete(r.waiters, id)
		}
		r.mu.Unlock()
		if !pending {
			// Resolve or Cancel removed the entry first; its outcome wins.
			select {
			case d := <-w.resultCh:
				return d, nil
			case err := <-w.errCh:
				return Decision{}, err
			}
		}
		return Decision{}, fmt.Errorf("approval timeout: no response within %s", timeout)
	case <-ctx.Done():
		w.reject(ctx.Err())
		return Decision{}, ctx.Err()
	}
}

// Resolve completes the waiter for id with the given decision. Returns true
// if a waiter existed. An id with no matching waiter is logged as an
// approval-orphan and otherwise ignored.
func (r *Registry) Resolve(id string, approved bool, reason string) bool {
	r.mu.Lock()
	w, ok := r.waiters[id]
	if ok {
		delete(r.waiters, id)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("approval response matches no pending request", "request_id", id)
		return false
	}
	w.resolve(Decision{Approved: approved, Reason: reason})
	return true
}

// Cancel rejects the waiter for id with reason. No-op if id is absent.
func (r *Registry) Cancel(id string, reason string) {
	r.mu.Lock()
	w, ok := r.waiters[id]
	if ok {
		delete(r.waiters, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	w.reject(fmt.Errorf("%s", reason))
}

// CancelAll rejects every pending waiter with reason, e.g. on a new
// inbound command or bridge shutdown.
func (r *Registry) CancelAll(reason string) {
	r.mu.Lock()
	waiters := r.waiters
	r.waiters = make(map[string]*waiter)
	r.mu.Unlock()

	for id, w := range waiters {
		r.logger.Info("cancelling pending approval", "request_id", id, "reason", reason)
		w.reject(fmt.Errorf("%s", reason))
	}
}

// Count returns the number of pending approvals.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}
