// Package session holds the client-side state for workflow executions and
// assistant chat threads. The stores in this package are the single source
// of truth UI surfaces read from; they are mutated only by the realtime
// client's event handlers and command paths, and hand out copies so callers
// can never corrupt tracked state.
package session

import (
	"time"
)

// Status is the lifecycle state of a workflow execution.
type Status string

const (
	// StatusPending means the execution was reported but has not started running.
	StatusPending Status = "pending"
	// StatusRunning means the execution is in progress.
	StatusRunning Status = "running"
	// StatusCompleted means the execution finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the execution finished with an error.
	StatusFailed Status = "failed"
	// StatusCancelled means the server confirmed cancellation.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final. No event moves a session
// out of a terminal status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// ParseStatus maps a server-reported status string onto a known Status.
// Unrecognized values fall back to StatusRunning so a newer server cannot
// strand a session in an invalid state.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return Status(s)
	}
	return StatusRunning
}

// Session is one server-tracked workflow execution.
//
// Invariants maintained by Store:
//   - ID is unique within the store for the process lifetime.
//   - Progress never decreases while the session is running.
//   - Once Status is terminal no field changes again.
//   - StatusCompleted implies Progress == 100.
type Session struct {
	ID           string         `json:"id"`
	WorkflowID   string         `json:"workflow_id"`
	WorkflowName string         `json:"workflow_name,omitempty"`
	Status       Status         `json:"status"`
	Progress     int            `json:"progress"`
	Log          []string       `json:"log,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	// CancelRequested records a local, unconfirmed cancel request. It is
	// advisory only: Status moves to StatusCancelled solely on a
	// server-confirmed terminal event.
	CancelRequested bool      `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Snapshot is the server's authoritative record of one session, used to
// reconcile local state after a reconnect.
type Snapshot struct {
	ID         string `json:"session_id"`
	WorkflowID string `json:"workflow_id"`
	Status     Status `json:"status"`
	Progress   int    `json:"progress"`
}

// clone returns a deep copy safe to hand to callers.
func (s *Session) clone() Session {
	out := *s
	if s.Log != nil {
		out.Log = append([]string(nil), s.Log...)
	}
	if s.Result != nil {
		out.Result = make(map[string]any, len(s.Result))
		for k, v := range s.Result {
			out.Result[k] = v
		}
	}
	return out
}
