package protocol

import (
	"encoding/json"
	"log"
)

// DropReason classifies why an inbound frame was discarded.
type DropReason string

const (
	// DropParse means the frame was not valid JSON.
	DropParse DropReason = "parse"
	// DropMissingType means the frame had no type discriminator.
	DropMissingType DropReason = "missing_type"
	// DropUnknownType means the discriminator is not a recognized frame type.
	// Unknown types are expected from newer servers and are not an error.
	DropUnknownType DropReason = "unknown_type"
	// DropInvalid means a recognized frame was missing required fields.
	DropInvalid DropReason = "invalid"
)

// Handler receives decoded frames, one method per frame type. Handler
// methods are invoked synchronously from Handle and must not block or
// perform network I/O.
type Handler interface {
	OnConnectionEstablished(ConnectionEstablished)
	OnWorkflowList(WorkflowList)
	OnWorkflowStarted(WorkflowStarted)
	OnWorkflowProgress(WorkflowProgress)
	OnWorkflowCompleted(WorkflowCompleted)
	OnWorkflowFailed(ErrorFrame)
	OnChatResponse(ChatResponse)
	OnQueryResult(QueryResult)
}

// Router parses raw frames and dispatches them to a Handler. Malformed,
// unknown, or incomplete frames are dropped locally; Handle never panics
// and never returns an error, so transport code can feed it blindly.
type Router struct {
	handler Handler
	onDrop  func(reason DropReason)
	onFrame func(frameType string)
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithDropHook registers a callback invoked whenever a frame is discarded.
func WithDropHook(fn func(DropReason)) RouterOption {
	return func(r *Router) { r.onDrop = fn }
}

// WithFrameHook registers a callback invoked for every dispatched frame.
func WithFrameHook(fn func(frameType string)) RouterOption {
	return func(r *Router) { r.onFrame = fn }
}

// NewRouter creates a router dispatching to the given handler.
func NewRouter(h Handler, opts ...RouterOption) *Router {
	r := &Router{handler: h}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle parses one raw frame and dispatches it. Side effects only.
func (r *Router) Handle(raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		r.drop(DropParse, "")
		return
	}
	if env.Type == "" {
		r.drop(DropMissingType, "")
		return
	}

	switch env.Type {
	case TypeConnectionEstablished:
		var f ConnectionEstablished
		if err := json.Unmarshal(raw, &f); err != nil {
			r.drop(DropInvalid, env.Type)
			return
		}
		r.dispatched(env.Type)
		r.handler.OnConnectionEstablished(f)

	case TypeWorkflowList:
		var f WorkflowList
		if err := json.Unmarshal(raw, &f); err != nil {
			r.drop(DropInvalid, env.Type)
			return
		}
		r.dispatched(env.Type)
		r.handler.OnWorkflowList(f)

	case TypeWorkflowStarted:
		var f WorkflowStarted
		if err := json.Unmarshal(raw, &f); err != nil || f.SessionID == "" {
			r.drop(DropInvalid, env.Type)
			return
		}
		r.dispatched(env.Type)
		r.handler.OnWorkflowStarted(f)

	case TypeWorkflowProgress:
		var f WorkflowProgress
		if err := json.Unmarshal(raw, &f); err != nil || f.SessionID == "" {
			r.drop(DropInvalid, env.Type)
			return
		}
		r.dispatched(env.Type)
		r.handler.OnWorkflowProgress(f)

	case TypeWorkflowCompleted:
		var f WorkflowCompleted
		if err := json.Unmarshal(raw, &f); err != nil || f.SessionID == "" {
			r.drop(DropInvalid, env.Type)
			return
		}
		r.dispatched(env.Type)
		r.handler.OnWorkflowCompleted(f)

	case TypeWorkflowFailed, TypeError:
		var f ErrorFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			r.drop(DropInvalid, env.Type)
			return
		}
		r.dispatched(env.Type)
		r.handler.OnWorkflowFailed(f)

	case TypeChatResponse:
		var f ChatResponse
		if err := json.Unmarshal(raw, &f); err != nil || f.ChatSessionID == "" {
			r.drop(DropInvalid, env.Type)
			return
		}
		r.dispatched(env.Type)
		r.handler.OnChatResponse(f)

	case TypeQueryResult:
		var f QueryResult
		if err := json.Unmarshal(raw, &f); err != nil || f.QueryID == "" {
			r.drop(DropInvalid, env.Type)
			return
		}
		r.dispatched(env.Type)
		r.handler.OnQueryResult(f)

	default:
		r.drop(DropUnknownType, env.Type)
	}
}

func (r *Router) dispatched(frameType string) {
	if r.onFrame != nil {
		r.onFrame(frameType)
	}
}

func (r *Router) drop(reason DropReason, frameType string) {
	if frameType != "" {
		log.Printf("protocol: dropped %s frame (%s)", frameType, reason)
	} else {
		log.Printf("protocol: dropped frame (%s)", reason)
	}
	if r.onDrop != nil {
		r.onDrop(reason)
	}
}
