package realtime

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/verssai/verssai-go/internal/protocol"
	"github.com/verssai/verssai-go/pkg/observability"
	"github.com/verssai/verssai-go/pkg/session"
)

// Options configures a Client. Zero values use the package defaults.
type Options struct {
	// URL is the WebSocket endpoint of the orchestration service.
	URL string
	// Role is the user role announced at connect time.
	Role string
	// Backoff is the reconnect delay policy.
	Backoff Backoff
	// HandshakeTimeout bounds each dial attempt.
	HandshakeTimeout time.Duration
	// QueueLimit bounds the disconnected command queue.
	QueueLimit int
	// QueryTimeout bounds retrieval query round trips.
	QueryTimeout time.Duration
	// RateLimit throttles outbound commands; zero disables throttling.
	RateLimit rate.Limit
	RateBurst int
	// ChatHistory mirrors chat messages to external storage; may be nil.
	ChatHistory session.HistoryBackend
	// Dialer overrides the WebSocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// Client is the realtime workflow client: one persistent connection to the
// orchestration service, local session and chat state kept current from
// inbound events, and a command surface for triggering, cancelling, and
// querying. All inbound frames are applied from a single reader goroutine;
// the read surface hands out copies, so it is safe from any goroutine.
type Client struct {
	manager    *Manager
	router     *protocol.Router
	dispatcher *Dispatcher
	sessions   *session.Store
	chats      *session.ChatStore
	bus        *Bus

	mu            sync.Mutex
	workflows     []protocol.WorkflowInfo
	needReconcile bool
}

// NewClient wires a Client from Options. It does not dial; call Connect.
func NewClient(opts Options) (*Client, error) {
	c := &Client{bus: NewBus()}
	c.sessions = session.NewStore(c.onSessionChange)
	c.chats = session.NewChatStore(opts.ChatHistory, c.onChatChange)
	c.router = protocol.NewRouter(c,
		protocol.WithFrameHook(observability.RecordFrame),
		protocol.WithDropHook(func(reason protocol.DropReason) {
			observability.RecordFrameDrop(string(reason))
		}),
	)

	manager, err := NewManager(ManagerConfig{
		URL:              opts.URL,
		Role:             opts.Role,
		Backoff:          opts.Backoff,
		HandshakeTimeout: opts.HandshakeTimeout,
		OnFrame:          c.router.Handle,
		OnState:          c.handleState,
		Dialer:           opts.Dialer,
	})
	if err != nil {
		return nil, err
	}
	c.manager = manager

	c.dispatcher = NewDispatcher(DispatcherConfig{
		Sender:       manager,
		Sessions:     c.sessions,
		Chats:        c.chats,
		QueueLimit:   opts.QueueLimit,
		QueryTimeout: opts.QueryTimeout,
		RateLimit:    opts.RateLimit,
		RateBurst:    opts.RateBurst,
	})
	return c, nil
}

// Connect starts the connection lifecycle. After the first call the client
// keeps itself connected until Close; a failed initial dial is returned but
// retries continue in the background.
func (c *Client) Connect() error {
	return c.manager.Connect()
}

// Close shuts the connection down, stops all reconnection, and flushes and
// releases the chat history mirror.
func (c *Client) Close() error {
	err := c.manager.Close()
	if cerr := c.chats.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// TriggerWorkflow asks the server to start a workflow. It returns the
// request id echoed back in the eventual workflow_started frame; the
// session appears in Sessions once that frame arrives.
func (c *Client) TriggerWorkflow(ctx context.Context, workflowID string, params map[string]any) (string, error) {
	return c.dispatcher.TriggerWorkflow(ctx, workflowID, params)
}

// CancelWorkflow requests best-effort cancellation of a tracked session.
func (c *Client) CancelWorkflow(ctx context.Context, sessionID string) error {
	return c.dispatcher.CancelWorkflow(ctx, sessionID)
}

// RunQuery runs a one-shot retrieval query and blocks for the result.
func (c *Client) RunQuery(ctx context.Context, query string, weights map[string]float64) ([]map[string]any, error) {
	return c.dispatcher.RunQuery(ctx, query, weights)
}

// SendChatMessage sends a user message on a chat thread, echoing it locally
// first. An empty chatID opens a new thread; the thread id is returned.
func (c *Client) SendChatMessage(ctx context.Context, chatID, message string) (string, error) {
	return c.dispatcher.SendChatMessage(ctx, chatID, message)
}

// RefreshWorkflows re-requests the workflow catalog.
func (c *Client) RefreshWorkflows(ctx context.Context) error {
	return c.dispatcher.ListWorkflows(ctx)
}

// Session returns a copy of one tracked session.
func (c *Client) Session(id string) (session.Session, error) {
	return c.sessions.Get(id)
}

// Sessions returns copies of all tracked sessions, oldest first.
func (c *Client) Sessions() []session.Session {
	return c.sessions.List()
}

// ActiveSessions returns copies of all non-terminal sessions, oldest first.
func (c *Client) ActiveSessions() []session.Session {
	return c.sessions.ListActive()
}

// Chat returns a copy of one chat thread.
func (c *Client) Chat(id string) (session.Chat, error) {
	return c.chats.Get(id)
}

// Chats returns copies of all chat threads, oldest first.
func (c *Client) Chats() []session.Chat {
	return c.chats.List()
}

// Workflows returns the last workflow catalog received from the server.
func (c *Client) Workflows() []protocol.WorkflowInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.WorkflowInfo(nil), c.workflows...)
}

// Subscribe registers fn for a scope (ScopeAllSessions, ScopeConnection,
// ScopeChats, ScopeSession(id), ScopeChat(id)) and returns an unsubscribe
// func. Delivery is synchronous from the event path; handlers must return
// quickly and must not call back into blocking client methods.
func (c *Client) Subscribe(scope string, fn EventFunc) func() {
	return c.bus.Subscribe(scope, fn)
}

// ConnectionState returns the current connection lifecycle state.
func (c *Client) ConnectionState() ConnState {
	return c.manager.State()
}

// QueueDepth reports how many commands are waiting for a reconnect.
func (c *Client) QueueDepth() int {
	return c.dispatcher.QueueDepth()
}

// Status reports a health snapshot suitable for a /health endpoint.
func (c *Client) Status() map[string]any {
	return map[string]any{
		"connection":  string(c.manager.State()),
		"retries":     c.manager.Retries(),
		"queue_depth": c.dispatcher.QueueDepth(),
		"sessions":    len(c.sessions.List()),
	}
}

// handleState reacts to connection transitions. On every (re)connect the
// queued commands are flushed first, then the next workflow_list is marked
// to reconcile local sessions against the server's.
func (c *Client) handleState(change StateChange) {
	observability.RecordStateChange(string(change.State), change.State == StateConnected)
	if change.State == StateReconnecting {
		observability.RecordReconnectAttempt()
	}
	if change.State == StateConnected {
		c.mu.Lock()
		c.needReconcile = true
		c.mu.Unlock()
		c.dispatcher.Flush()
	}
	c.bus.PublishState(change)
}

// OnConnectionEstablished handles the server handshake by requesting the
// catalog and session list for this connection.
func (c *Client) OnConnectionEstablished(f protocol.ConnectionEstablished) {
	log.Printf("realtime: connection established (role=%s, workflows=%d)",
		f.UserRole, len(f.AvailableWorkflows))
	if err := c.dispatcher.ListWorkflows(context.Background()); err != nil {
		log.Printf("realtime: list workflows after connect: %v", err)
	}
}

// OnWorkflowList stores the catalog and, on the first list of a connection,
// reconciles local sessions against the server's authoritative list.
func (c *Client) OnWorkflowList(f protocol.WorkflowList) {
	c.mu.Lock()
	c.workflows = f.Workflows
	reconcile := c.needReconcile
	c.needReconcile = false
	c.mu.Unlock()

	if !reconcile {
		return
	}
	server := make([]session.Snapshot, 0, len(f.ActiveSessions))
	for _, as := range f.ActiveSessions {
		server = append(server, session.Snapshot{
			ID:         as.SessionID,
			WorkflowID: as.WorkflowID,
			Status:     session.ParseStatus(as.Status),
			Progress:   as.Progress,
		})
	}
	c.sessions.Reconcile(server)
}

func (c *Client) OnWorkflowStarted(f protocol.WorkflowStarted) {
	c.sessions.ApplyStarted(f.SessionID, f.WorkflowID, f.WorkflowName)
}

// OnWorkflowProgress applies incremental progress. Servers sometimes report
// the terminal transition as a progress status instead of a dedicated
// frame, so terminal statuses route to the matching finalizer.
func (c *Client) OnWorkflowProgress(f protocol.WorkflowProgress) {
	switch session.Status(f.Status) {
	case session.StatusCompleted:
		c.sessions.ApplyCompleted(f.SessionID, nil)
	case session.StatusFailed:
		c.sessions.ApplyFailed(f.SessionID, f.Message)
	case session.StatusCancelled:
		c.sessions.ApplyCancelled(f.SessionID)
	default:
		c.sessions.ApplyProgress(f.SessionID, f.Progress, f.Message)
	}
}

func (c *Client) OnWorkflowCompleted(f protocol.WorkflowCompleted) {
	c.sessions.ApplyCompleted(f.SessionID, f.Result)
}

// OnWorkflowFailed handles both workflow_failed and generic error frames.
// Without a session id the frame is a global diagnostic, not a finalizer.
func (c *Client) OnWorkflowFailed(f protocol.ErrorFrame) {
	if f.SessionID == "" {
		log.Printf("realtime: server error: %s", f.Message)
		return
	}
	c.sessions.ApplyFailed(f.SessionID, f.Message)
}

func (c *Client) OnChatResponse(f protocol.ChatResponse) {
	c.chats.AppendAssistant(f.ChatSessionID, f.Response.Message, f.Response.Suggestions)
}

func (c *Client) OnQueryResult(f protocol.QueryResult) {
	c.dispatcher.ResolveQuery(f)
}

func (c *Client) onSessionChange(sess session.Session) {
	counts := c.sessions.CountByStatus()
	byName := make(map[string]int, len(counts))
	for status, n := range counts {
		byName[string(status)] = n
	}
	observability.SetSessionCounts(byName)
	c.bus.PublishSession(&sess)
}

func (c *Client) onChatChange(chat session.Chat) {
	c.bus.PublishChat(&chat)
}
