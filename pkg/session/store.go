package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Common errors for store operations.
var (
	// ErrSessionNotFound is returned when a session id has never been seen.
	ErrSessionNotFound = errors.New("session not found")
)

// FailReasonConnectionLost is the failure reason recorded for sessions the
// server no longer knows about after a reconnect.
const FailReasonConnectionLost = "connection-lost"

// ChangeFunc is invoked with a snapshot of a session after every mutation.
// It is called outside the store's lock, so callbacks may read back from
// the store freely.
type ChangeFunc func(Session)

// Store tracks workflow executions by server-assigned session id.
// Store is safe for concurrent use; every mutator enforces the session
// state machine (idempotent create, monotonic progress, sticky terminal
// states), so events replayed or reordered across a reconnect boundary
// cannot regress visible state.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	onChange ChangeFunc
}

// NewStore creates an empty session store. onChange may be nil.
func NewStore(onChange ChangeFunc) *Store {
	return &Store{
		sessions: make(map[string]*Session),
		onChange: onChange,
	}
}

// ApplyStarted creates a session for an unseen id. A duplicate
// workflow_started for an existing id is a no-op, which makes delivery
// after a reconnect replay harmless.
func (s *Store) ApplyStarted(id, workflowID, workflowName string) {
	s.mu.Lock()
	if _, exists := s.sessions[id]; exists {
		s.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	sess := &Session{
		ID:           id,
		WorkflowID:   workflowID,
		WorkflowName: workflowName,
		Status:       StatusRunning,
		Progress:     0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.sessions[id] = sess
	snap := sess.clone()
	s.mu.Unlock()

	s.notify(snap)
}

// ApplyProgress updates a running session. Unknown ids and terminal
// sessions are ignored. Progress is clamped monotonically: an out-of-order
// lower value never regresses the visible state.
func (s *Store) ApplyProgress(id string, progress int, message string) {
	s.mu.Lock()
	sess, exists := s.sessions[id]
	if !exists || sess.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	sess.Status = StatusRunning
	if progress > sess.Progress {
		sess.Progress = progress
	}
	if sess.Progress > 100 {
		sess.Progress = 100
	}
	if message != "" {
		sess.Log = append(sess.Log, message)
	}
	sess.UpdatedAt = time.Now().UTC()
	snap := sess.clone()
	s.mu.Unlock()

	s.notify(snap)
}

// ApplyCompleted finalizes a session successfully. Unknown ids and already
// terminal sessions are ignored.
func (s *Store) ApplyCompleted(id string, result map[string]any) {
	s.finalize(id, StatusCompleted, result, "workflow completed")
}

// ApplyFailed finalizes a session with a failure reason. Unknown ids and
// already terminal sessions are ignored.
func (s *Store) ApplyFailed(id, reason string) {
	entry := "workflow failed"
	if reason != "" {
		entry = fmt.Sprintf("workflow failed: %s", reason)
	}
	s.finalize(id, StatusFailed, nil, entry)
}

// ApplyCancelled finalizes a session as cancelled. Only a server-confirmed
// terminal event reaches this method; a local cancel request never does.
func (s *Store) ApplyCancelled(id string) {
	s.finalize(id, StatusCancelled, nil, "workflow cancelled")
}

func (s *Store) finalize(id string, status Status, result map[string]any, logEntry string) {
	s.mu.Lock()
	sess, exists := s.sessions[id]
	if !exists || sess.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	sess.Status = status
	if status == StatusCompleted {
		sess.Progress = 100
	}
	if result != nil {
		sess.Result = result
	}
	sess.Log = append(sess.Log, logEntry)
	sess.UpdatedAt = time.Now().UTC()
	snap := sess.clone()
	s.mu.Unlock()

	s.notify(snap)
}

// RequestCancel marks a local cancel request on a non-terminal session.
// It never mutates Status: the session only becomes StatusCancelled when
// the server confirms with a terminal event. Returns ErrSessionNotFound
// for an id the store has never seen.
func (s *Store) RequestCancel(id string) error {
	s.mu.Lock()
	sess, exists := s.sessions[id]
	if !exists {
		s.mu.Unlock()
		return ErrSessionNotFound
	}
	if sess.Status.Terminal() || sess.CancelRequested {
		s.mu.Unlock()
		return nil
	}
	sess.CancelRequested = true
	sess.UpdatedAt = time.Now().UTC()
	snap := sess.clone()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

// Reconcile resolves local state against the server's authoritative session
// list after a reconnect. The server list wins: local non-terminal sessions
// the server no longer reports are failed with FailReasonConnectionLost,
// and sessions the server reports but the store has never seen are created
// at whatever status the server gives. Sessions present on both sides are
// left to the normal event flow.
func (s *Store) Reconcile(server []Snapshot) {
	known := make(map[string]Snapshot, len(server))
	for _, snap := range server {
		if snap.ID != "" {
			known[snap.ID] = snap
		}
	}

	var changed []Session

	s.mu.Lock()
	for id, sess := range s.sessions {
		if _, ok := known[id]; ok || sess.Status.Terminal() {
			continue
		}
		sess.Status = StatusFailed
		sess.Log = append(sess.Log, fmt.Sprintf("workflow failed: %s", FailReasonConnectionLost))
		sess.UpdatedAt = time.Now().UTC()
		changed = append(changed, sess.clone())
	}
	now := time.Now().UTC()
	for id, snap := range known {
		if _, exists := s.sessions[id]; exists {
			continue
		}
		sess := &Session{
			ID:         id,
			WorkflowID: snap.WorkflowID,
			Status:     snap.Status,
			Progress:   snap.Progress,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if sess.Status == "" {
			sess.Status = StatusRunning
		}
		if sess.Status == StatusCompleted {
			sess.Progress = 100
		}
		s.sessions[id] = sess
		changed = append(changed, sess.clone())
	}
	s.mu.Unlock()

	for _, snap := range changed {
		s.notify(snap)
	}
}

// Get returns a copy of the session with the given id.
func (s *Store) Get(id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, exists := s.sessions[id]
	if !exists {
		return Session{}, ErrSessionNotFound
	}
	return sess.clone(), nil
}

// List returns copies of all tracked sessions, oldest first.
func (s *Store) List() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ListActive returns copies of all non-terminal sessions, oldest first.
func (s *Store) ListActive() []Session {
	all := s.List()
	out := all[:0]
	for _, sess := range all {
		if !sess.Status.Terminal() {
			out = append(out, sess)
		}
	}
	return out
}

// CountByStatus returns the number of sessions per status, for gauges.
func (s *Store) CountByStatus() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, sess := range s.sessions {
		counts[sess.Status]++
	}
	return counts
}

func (s *Store) notify(snap Session) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
