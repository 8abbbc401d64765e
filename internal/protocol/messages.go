// Package protocol defines the wire messages exchanged with the VERSSAI
// orchestration service and the router that dispatches inbound frames.
// Frames are JSON texts discriminated by a "type" field; the router is the
// only place raw bytes are decoded, so the rest of the client never sees
// malformed input.
package protocol

// Inbound frame type discriminators.
const (
	TypeConnectionEstablished = "connection_established"
	TypeWorkflowList          = "workflow_list"
	TypeWorkflowStarted       = "workflow_started"
	TypeWorkflowProgress      = "workflow_progress"
	TypeWorkflowCompleted     = "workflow_completed"
	TypeWorkflowFailed        = "workflow_failed"
	TypeError                 = "error"
	TypeChatResponse          = "chat_response"
	TypeQueryResult           = "query_result"
)

// Envelope carries only the discriminator; the concrete frame is decoded
// in a second pass once the type is known.
type Envelope struct {
	Type string `json:"type"`
}

// ConnectionEstablished is the per-connection handshake sent by the server
// immediately after the socket opens.
type ConnectionEstablished struct {
	UserRole           string   `json:"user_role"`
	AvailableWorkflows []string `json:"available_workflows,omitempty"`
}

// WorkflowInfo describes one entry of the server's workflow catalog.
type WorkflowInfo struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description,omitempty"`
	RequiredInputs    []string `json:"required_inputs,omitempty"`
	RAGLayers         []string `json:"rag_layers,omitempty"`
	EstimatedDuration int      `json:"estimated_duration,omitempty"`
}

// ActiveSession is the server's view of one in-flight or recently finished
// workflow execution, as reported in workflow_list. It is the authoritative
// record used to reconcile local state after a reconnect.
type ActiveSession struct {
	SessionID  string `json:"session_id"`
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
}

// WorkflowList carries the workflow catalog and the sessions the server
// currently tracks.
type WorkflowList struct {
	Workflows      []WorkflowInfo  `json:"workflows"`
	ActiveSessions []ActiveSession `json:"active_sessions,omitempty"`
}

// WorkflowStarted announces a new workflow execution. RequestID echoes the
// client-generated id from the trigger_workflow command when present, which
// lets callers correlate the pending handle with the server-assigned session.
type WorkflowStarted struct {
	SessionID         string `json:"session_id"`
	WorkflowID        string `json:"workflow_id"`
	WorkflowName      string `json:"workflow_name,omitempty"`
	RequestID         string `json:"request_id,omitempty"`
	EstimatedDuration int    `json:"estimated_duration,omitempty"`
}

// WorkflowProgress reports incremental progress for a running execution.
type WorkflowProgress struct {
	SessionID string `json:"session_id"`
	Progress  int    `json:"progress"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
}

// WorkflowCompleted finalizes an execution successfully.
type WorkflowCompleted struct {
	SessionID string         `json:"session_id"`
	Result    map[string]any `json:"result,omitempty"`
}

// ErrorFrame covers both workflow_failed and the generic error type.
// SessionID may be empty, in which case the error is a global diagnostic
// rather than a session finalizer.
type ErrorFrame struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

// ChatReply is the payload of a chat_response frame.
type ChatReply struct {
	Message     string   `json:"message"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ChatResponse delivers the assistant's reply for a chat thread.
type ChatResponse struct {
	ChatSessionID string    `json:"chat_session_id"`
	Response      ChatReply `json:"response"`
}

// QueryResult resolves a pending rag_query, correlated by QueryID.
type QueryResult struct {
	QueryID string           `json:"query_id"`
	Results []map[string]any `json:"results,omitempty"`
	Error   string           `json:"error,omitempty"`
}
