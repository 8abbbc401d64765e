package protocol

// Outbound command type discriminators.
const (
	CmdTriggerWorkflow = "trigger_workflow"
	CmdCancelWorkflow  = "cancel_workflow"
	CmdRAGQuery        = "rag_query"
	CmdChatMessage     = "ai_chat_workflow"
	CmdListWorkflows   = "list_workflows"
)

// TriggerWorkflowCommand asks the server to start a workflow execution.
// RequestID is a client-generated uuid; the server echoes it back in the
// resulting workflow_started frame.
type TriggerWorkflowCommand struct {
	Type       string         `json:"type"`
	RequestID  string         `json:"request_id"`
	WorkflowID string         `json:"workflow_id"`
	Params     map[string]any `json:"params,omitempty"`
}

// CancelWorkflowCommand requests best-effort cancellation of an execution.
// The server may finish the workflow before acting on it.
type CancelWorkflowCommand struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// RAGQueryCommand runs a one-shot retrieval query. QueryID correlates the
// eventual query_result frame.
type RAGQueryCommand struct {
	Type    string             `json:"type"`
	QueryID string             `json:"query_id"`
	Query   string             `json:"query"`
	Weights map[string]float64 `json:"weights,omitempty"`
}

// ChatMessageCommand sends a user message on a chat thread.
type ChatMessageCommand struct {
	Type          string `json:"type"`
	ChatSessionID string `json:"chat_session_id"`
	Message       string `json:"message"`
}

// ListWorkflowsCommand requests the workflow catalog and the server's
// current session list.
type ListWorkflowsCommand struct {
	Type string `json:"type"`
}
