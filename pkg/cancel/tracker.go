// Package cancel is the Cancellation Tracker (C7): a process-wide set of
// session IDs that were cancelled by a user, as distinct from a timeout or
// orphan sweep. Join points across pkg/chain and pkg/stageexec consult it
// to label a terminal status correctly ("cancelled" vs "failed").
//
// This is a deliberate REDESIGN relative to the teacher, which keeps its
// equivalent session→cancel-function registry (activeSessions) as private
// state inside WorkerPool (pkg/queue/pool.go) — RegisterSession/
// UnregisterSession/CancelSession. spec.md §4.7 splits this into two
// concerns: pkg/sessionqueue still owns the registry of live
// context.CancelFuncs (needed to actually interrupt a running session), but
// *why* a session was cancelled — the fact that it was user-initiated
// rather than a timeout — is tracked here, standalone, because join logic
// in pkg/chain needs to ask "was this a user cancel?" without reaching into
// the worker pool's internals.
package cancel

import "sync"

// Tracker records which session IDs were cancelled by a user request (as
// opposed to a timeout, orphan sweep, or pod shutdown). Safe for concurrent
// use from any goroutine.
type Tracker struct {
	mu        sync.RWMutex
	cancelled map[string]struct{}
}

func New() *Tracker {
	return &Tracker{cancelled: make(map[string]struct{})}
}

// MarkCancelled records sessionID as user-cancelled. Idempotent: marking an
// already-cancelled session again is a no-op, per spec.md invariant 7.
func (t *Tracker) MarkCancelled(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled[sessionID] = struct{}{}
}

// IsUserCancel reports whether sessionID was marked by MarkCancelled.
func (t *Tracker) IsUserCancel(sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.cancelled[sessionID]
	return ok
}

// Clear removes sessionID from the tracked set. Called once the session
// reaches a terminal state and its cancellation reason has been recorded,
// so the set doesn't grow unboundedly over a pod's lifetime.
func (t *Tracker) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.cancelled, sessionID)
}
