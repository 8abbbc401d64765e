package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"github.com/verssai/verssai-go/internal/protocol"
	"github.com/verssai/verssai-go/pkg/observability"
	"github.com/verssai/verssai-go/pkg/session"
)

// DefaultQueryTimeout bounds a rag_query round trip.
const DefaultQueryTimeout = 30 * time.Second

// Command outcomes reported to metrics.
const (
	outcomeSent        = "sent"
	outcomeQueued      = "queued"
	outcomeRejected    = "rejected"
	outcomeRateLimited = "rate_limited"
)

// sender is the write half of the connection the dispatcher needs.
type sender interface {
	Send(payload []byte) error
}

// Dispatcher serializes and sends outbound commands. While the socket is
// down, commands are held in a bounded FIFO and flushed in order once the
// connection recovers; a full queue rejects the command with
// ErrBackpressure. Retrieval queries are correlated by client-generated
// query id and resolved when the matching query_result frame arrives.
type Dispatcher struct {
	send     sender
	queue    *commandQueue
	limiter  *rate.Limiter
	sessions *session.Store
	chats    *session.ChatStore

	queryTimeout time.Duration

	mu      sync.Mutex
	pending map[string]chan protocol.QueryResult
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Sender   sender
	Sessions *session.Store
	Chats    *session.ChatStore
	// QueueLimit bounds the disconnected queue; <=0 uses DefaultQueueLimit.
	QueueLimit int
	// QueryTimeout bounds RunQuery; <=0 uses DefaultQueryTimeout.
	QueryTimeout time.Duration
	// RateLimit throttles outbound commands; zero disables throttling.
	RateLimit rate.Limit
	RateBurst int
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(cfg.RateLimit, burst)
	}
	return &Dispatcher{
		send:         cfg.Sender,
		queue:        newCommandQueue(cfg.QueueLimit),
		limiter:      limiter,
		sessions:     cfg.Sessions,
		chats:        cfg.Chats,
		queryTimeout: cfg.QueryTimeout,
		pending:      make(map[string]chan protocol.QueryResult),
	}
}

// TriggerWorkflow sends a trigger_workflow command and returns the request
// id the server will echo in the resulting workflow_started frame. The
// session itself is created only when that frame arrives.
func (d *Dispatcher) TriggerWorkflow(ctx context.Context, workflowID string, params map[string]any) (string, error) {
	_, span := observability.StartSpan(ctx, "dispatcher.TriggerWorkflow",
		attribute.String("workflow.id", workflowID))
	defer span.End()

	requestID := uuid.NewString()
	payload, err := json.Marshal(protocol.TriggerWorkflowCommand{
		Type:       protocol.CmdTriggerWorkflow,
		RequestID:  requestID,
		WorkflowID: workflowID,
		Params:     params,
	})
	if err != nil {
		return "", fmt.Errorf("marshal trigger command: %w", err)
	}
	if err := d.dispatch(protocol.CmdTriggerWorkflow, payload); err != nil {
		return "", err
	}
	return requestID, nil
}

// CancelWorkflow marks the local session as cancel-requested and asks the
// server to stop it. The session status does not change until the server
// confirms with a terminal frame; the server may complete the workflow
// before acting on the request. Unknown session ids fail with
// session.ErrSessionNotFound before anything is sent.
func (d *Dispatcher) CancelWorkflow(ctx context.Context, sessionID string) error {
	_, span := observability.StartSpan(ctx, "dispatcher.CancelWorkflow",
		attribute.String("session.id", sessionID))
	defer span.End()

	if err := d.sessions.RequestCancel(sessionID); err != nil {
		return err
	}
	payload, err := json.Marshal(protocol.CancelWorkflowCommand{
		Type:      protocol.CmdCancelWorkflow,
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("marshal cancel command: %w", err)
	}
	return d.dispatch(protocol.CmdCancelWorkflow, payload)
}

// RunQuery runs a one-shot retrieval query and blocks until the correlated
// query_result arrives, the configured timeout elapses (ErrQueryTimeout),
// or ctx is done. A timed-out query is forgotten; a late result for it is
// dropped without side effects.
func (d *Dispatcher) RunQuery(ctx context.Context, query string, weights map[string]float64) ([]map[string]any, error) {
	ctx, span := observability.StartSpan(ctx, "dispatcher.RunQuery")
	defer span.End()

	queryID := uuid.NewString()
	payload, err := json.Marshal(protocol.RAGQueryCommand{
		Type:    protocol.CmdRAGQuery,
		QueryID: queryID,
		Query:   query,
		Weights: weights,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query command: %w", err)
	}

	result := make(chan protocol.QueryResult, 1)
	d.mu.Lock()
	d.pending[queryID] = result
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, queryID)
		d.mu.Unlock()
	}()

	if err := d.dispatch(protocol.CmdRAGQuery, payload); err != nil {
		return nil, err
	}

	start := time.Now()
	timer := time.NewTimer(d.queryTimeout)
	defer timer.Stop()

	select {
	case res := <-result:
		observability.RecordQueryDuration(time.Since(start))
		if res.Error != "" {
			return nil, fmt.Errorf("%w: %s", ErrQueryFailed, res.Error)
		}
		return res.Results, nil
	case <-timer.C:
		return nil, ErrQueryTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SendChatMessage records the user message locally first, so it is visible
// immediately, then sends it on the thread. chatID may be empty to open a
// new thread; the thread id is returned either way. The local echo survives
// even if the command is rejected.
func (d *Dispatcher) SendChatMessage(ctx context.Context, chatID, message string) (string, error) {
	_, span := observability.StartSpan(ctx, "dispatcher.SendChatMessage")
	defer span.End()

	chatID = d.chats.AppendUser(chatID, message)

	payload, err := json.Marshal(protocol.ChatMessageCommand{
		Type:          protocol.CmdChatMessage,
		ChatSessionID: chatID,
		Message:       message,
	})
	if err != nil {
		return chatID, fmt.Errorf("marshal chat command: %w", err)
	}
	if err := d.dispatch(protocol.CmdChatMessage, payload); err != nil {
		return chatID, err
	}
	return chatID, nil
}

// ListWorkflows requests the workflow catalog and the server's current
// session list. The client sends this on every (re)connect so local state
// can be reconciled against the server's.
func (d *Dispatcher) ListWorkflows(ctx context.Context) error {
	_, span := observability.StartSpan(ctx, "dispatcher.ListWorkflows")
	defer span.End()

	payload, err := json.Marshal(protocol.ListWorkflowsCommand{Type: protocol.CmdListWorkflows})
	if err != nil {
		return fmt.Errorf("marshal list command: %w", err)
	}
	return d.dispatch(protocol.CmdListWorkflows, payload)
}

// Flush sends all queued commands in FIFO order. If the connection drops
// mid-flush the unsent remainder goes back to the head of the queue for the
// next reconnect.
func (d *Dispatcher) Flush() {
	items := d.queue.drain()
	for i, payload := range items {
		if err := d.send.Send(payload); err != nil {
			d.queue.requeue(items[i:])
			log.Printf("realtime: flush interrupted after %d of %d commands: %v", i, len(items), err)
			break
		}
	}
	observability.SetQueueDepth(d.queue.len())
}

// ResolveQuery completes the pending query matching res, if any. Late or
// unknown query ids are ignored.
func (d *Dispatcher) ResolveQuery(res protocol.QueryResult) {
	d.mu.Lock()
	ch, ok := d.pending[res.QueryID]
	if ok {
		delete(d.pending, res.QueryID)
	}
	d.mu.Unlock()
	if ok {
		ch <- res
	}
}

// QueueDepth reports how many commands are waiting for a reconnect.
func (d *Dispatcher) QueueDepth() int {
	return d.queue.len()
}

// dispatch sends one marshalled command, queueing it when the socket is
// down. Every path records a per-command outcome metric.
func (d *Dispatcher) dispatch(command string, payload []byte) error {
	if d.limiter != nil && !d.limiter.Allow() {
		observability.RecordCommand(command, outcomeRateLimited)
		return ErrRateLimited
	}

	err := d.send.Send(payload)
	switch {
	case err == nil:
		observability.RecordCommand(command, outcomeSent)
		return nil
	case errors.Is(err, ErrNotConnected):
		if qErr := d.queue.push(payload); qErr != nil {
			observability.RecordCommand(command, outcomeRejected)
			return qErr
		}
		observability.RecordCommand(command, outcomeQueued)
		observability.SetQueueDepth(d.queue.len())
		return nil
	default:
		observability.RecordCommand(command, outcomeRejected)
		return fmt.Errorf("send %s: %w", command, err)
	}
}
