package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/verssai/verssai-go/internal/protocol"
	"github.com/verssai/verssai-go/pkg/session"
)

// fakeSender stands in for the connection manager's write half.
type fakeSender struct {
	mu        sync.Mutex
	connected bool
	failAfter int // fail sends once this many have succeeded; -1 disables
	sent      [][]byte
}

func newFakeSender(connected bool) *fakeSender {
	return &fakeSender{connected: connected, failAfter: -1}
}

func (f *fakeSender) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return ErrNotConnected
	}
	if f.failAfter >= 0 && len(f.sent) >= f.failAfter {
		return ErrNotConnected
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeSender) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

func (f *fakeSender) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestDispatcher(sender *fakeSender, cfg DispatcherConfig) *Dispatcher {
	cfg.Sender = sender
	if cfg.Sessions == nil {
		cfg.Sessions = session.NewStore(nil)
	}
	if cfg.Chats == nil {
		cfg.Chats = session.NewChatStore(nil, nil)
	}
	return NewDispatcher(cfg)
}

func decodeType(t *testing.T, payload []byte) string {
	t.Helper()
	var env protocol.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("sent frame is not JSON: %v", err)
	}
	return env.Type
}

func TestDispatcher_SendsWhileConnected(t *testing.T) {
	sender := newFakeSender(true)
	d := newTestDispatcher(sender, DispatcherConfig{})

	requestID, err := d.TriggerWorkflow(context.Background(), "due_diligence", map[string]any{"company": "acme"})
	if err != nil {
		t.Fatalf("TriggerWorkflow: %v", err)
	}
	if requestID == "" {
		t.Fatal("TriggerWorkflow returned empty request id")
	}

	frames := sender.sentFrames()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	var cmd protocol.TriggerWorkflowCommand
	if err := json.Unmarshal(frames[0], &cmd); err != nil {
		t.Fatalf("unmarshal command: %v", err)
	}
	if cmd.Type != protocol.CmdTriggerWorkflow || cmd.WorkflowID != "due_diligence" || cmd.RequestID != requestID {
		t.Errorf("unexpected command: %+v", cmd)
	}
}

func TestDispatcher_QueuesWhileDisconnectedAndFlushesInOrder(t *testing.T) {
	sender := newFakeSender(false)
	d := newTestDispatcher(sender, DispatcherConfig{})

	ctx := context.Background()
	var requestIDs []string
	for _, wf := range []string{"wf-a", "wf-b", "wf-c"} {
		id, err := d.TriggerWorkflow(ctx, wf, nil)
		if err != nil {
			t.Fatalf("TriggerWorkflow(%s): %v", wf, err)
		}
		requestIDs = append(requestIDs, id)
	}

	if got := d.QueueDepth(); got != 3 {
		t.Fatalf("QueueDepth() = %d, want 3", got)
	}
	if len(sender.sentFrames()) != 0 {
		t.Fatal("commands sent while disconnected")
	}

	sender.setConnected(true)
	d.Flush()

	frames := sender.sentFrames()
	if len(frames) != 3 {
		t.Fatalf("flushed %d frames, want 3", len(frames))
	}
	for i, frame := range frames {
		var cmd protocol.TriggerWorkflowCommand
		if err := json.Unmarshal(frame, &cmd); err != nil {
			t.Fatalf("unmarshal flushed frame %d: %v", i, err)
		}
		if cmd.RequestID != requestIDs[i] {
			t.Errorf("flush order broken at %d: got %s, want %s", i, cmd.RequestID, requestIDs[i])
		}
	}
	if got := d.QueueDepth(); got != 0 {
		t.Errorf("QueueDepth() = %d after flush, want 0", got)
	}
}

func TestDispatcher_Backpressure(t *testing.T) {
	sender := newFakeSender(false)
	d := newTestDispatcher(sender, DispatcherConfig{QueueLimit: 2})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := d.TriggerWorkflow(ctx, "wf", nil); err != nil {
			t.Fatalf("TriggerWorkflow %d: %v", i, err)
		}
	}

	_, err := d.TriggerWorkflow(ctx, "wf", nil)
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("TriggerWorkflow beyond queue limit = %v, want ErrBackpressure", err)
	}
	if got := d.QueueDepth(); got != 2 {
		t.Errorf("QueueDepth() = %d, rejected command leaked into queue", got)
	}
}

func TestDispatcher_FlushInterruptedRequeuesRemainder(t *testing.T) {
	sender := newFakeSender(false)
	d := newTestDispatcher(sender, DispatcherConfig{})

	ctx := context.Background()
	for _, wf := range []string{"wf-a", "wf-b", "wf-c"} {
		if _, err := d.TriggerWorkflow(ctx, wf, nil); err != nil {
			t.Fatalf("TriggerWorkflow(%s): %v", wf, err)
		}
	}

	// The connection drops again after one command goes out.
	sender.setConnected(true)
	sender.mu.Lock()
	sender.failAfter = 1
	sender.mu.Unlock()
	d.Flush()

	if got := len(sender.sentFrames()); got != 1 {
		t.Fatalf("sent %d frames during interrupted flush, want 1", got)
	}
	if got := d.QueueDepth(); got != 2 {
		t.Fatalf("QueueDepth() = %d after interrupted flush, want 2", got)
	}

	// The next flush sends the remainder without duplicating the first.
	sender.mu.Lock()
	sender.failAfter = -1
	sender.mu.Unlock()
	d.Flush()

	frames := sender.sentFrames()
	if len(frames) != 3 {
		t.Fatalf("sent %d frames total, want 3", len(frames))
	}
	var seen []string
	for _, frame := range frames {
		var cmd protocol.TriggerWorkflowCommand
		if err := json.Unmarshal(frame, &cmd); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		seen = append(seen, cmd.WorkflowID)
	}
	want := []string{"wf-a", "wf-b", "wf-c"}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("frame %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestDispatcher_CancelUnknownSession(t *testing.T) {
	sender := newFakeSender(true)
	d := newTestDispatcher(sender, DispatcherConfig{})

	err := d.CancelWorkflow(context.Background(), "ghost")
	if !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("CancelWorkflow(unknown) = %v, want ErrSessionNotFound", err)
	}
	if len(sender.sentFrames()) != 0 {
		t.Error("cancel command sent for unknown session")
	}
}

func TestDispatcher_CancelMarksRequestOnly(t *testing.T) {
	sender := newFakeSender(true)
	store := session.NewStore(nil)
	store.ApplyStarted("s1", "wf", "")
	d := newTestDispatcher(sender, DispatcherConfig{Sessions: store})

	if err := d.CancelWorkflow(context.Background(), "s1"); err != nil {
		t.Fatalf("CancelWorkflow: %v", err)
	}

	sess, err := store.Get("s1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !sess.CancelRequested {
		t.Error("CancelRequested not set")
	}
	if sess.Status != session.StatusRunning {
		t.Errorf("Status = %s changed by local cancel, want running", sess.Status)
	}
	frames := sender.sentFrames()
	if len(frames) != 1 || decodeType(t, frames[0]) != protocol.CmdCancelWorkflow {
		t.Errorf("expected one cancel_workflow frame, got %d", len(frames))
	}
}

func TestDispatcher_RunQueryResolved(t *testing.T) {
	sender := newFakeSender(true)
	d := newTestDispatcher(sender, DispatcherConfig{})

	type queryOutcome struct {
		results []map[string]any
		err     error
	}
	done := make(chan queryOutcome, 1)
	go func() {
		results, err := d.RunQuery(context.Background(), "fintech seed rounds", map[string]float64{"roof": 1.2})
		done <- queryOutcome{results, err}
	}()

	queryID := waitForQueryID(t, sender)
	d.ResolveQuery(protocol.QueryResult{
		QueryID: queryID,
		Results: []map[string]any{{"company": "acme"}},
	})

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("RunQuery: %v", out.err)
		}
		if len(out.results) != 1 || out.results[0]["company"] != "acme" {
			t.Errorf("unexpected results: %+v", out.results)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunQuery did not return after resolve")
	}
}

func TestDispatcher_RunQueryServerError(t *testing.T) {
	sender := newFakeSender(true)
	d := newTestDispatcher(sender, DispatcherConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := d.RunQuery(context.Background(), "q", nil)
		done <- err
	}()

	queryID := waitForQueryID(t, sender)
	d.ResolveQuery(protocol.QueryResult{QueryID: queryID, Error: "index unavailable"})

	select {
	case err := <-done:
		if !errors.Is(err, ErrQueryFailed) {
			t.Fatalf("RunQuery = %v, want ErrQueryFailed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RunQuery did not return after error resolve")
	}
}

func TestDispatcher_RunQueryTimeout(t *testing.T) {
	sender := newFakeSender(true)
	d := newTestDispatcher(sender, DispatcherConfig{QueryTimeout: 30 * time.Millisecond})

	_, err := d.RunQuery(context.Background(), "q", nil)
	if !errors.Is(err, ErrQueryTimeout) {
		t.Fatalf("RunQuery without response = %v, want ErrQueryTimeout", err)
	}

	// A late result for the timed-out query is dropped without effect.
	frames := sender.sentFrames()
	var cmd protocol.RAGQueryCommand
	if err := json.Unmarshal(frames[0], &cmd); err != nil {
		t.Fatalf("unmarshal query command: %v", err)
	}
	d.ResolveQuery(protocol.QueryResult{QueryID: cmd.QueryID})
}

func TestDispatcher_RunQueryContextCancelled(t *testing.T) {
	sender := newFakeSender(true)
	d := newTestDispatcher(sender, DispatcherConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.RunQuery(ctx, "q", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunQuery with cancelled ctx = %v, want context.Canceled", err)
	}
}

func TestDispatcher_ChatEchoSurvivesSendFailure(t *testing.T) {
	sender := newFakeSender(false)
	chats := session.NewChatStore(nil, nil)
	d := newTestDispatcher(sender, DispatcherConfig{Chats: chats, QueueLimit: 1})

	// Fill the queue so the chat command is rejected outright.
	if _, err := d.TriggerWorkflow(context.Background(), "wf", nil); err != nil {
		t.Fatalf("TriggerWorkflow: %v", err)
	}

	chatID, err := d.SendChatMessage(context.Background(), "", "which fintech deals closed this week?")
	if !errors.Is(err, ErrBackpressure) {
		t.Fatalf("SendChatMessage = %v, want ErrBackpressure", err)
	}
	if chatID == "" {
		t.Fatal("SendChatMessage returned empty thread id")
	}

	chat, err := chats.Get(chatID)
	if err != nil {
		t.Fatalf("Get(%s): %v", chatID, err)
	}
	if len(chat.Messages) != 1 || chat.Messages[0].Role != session.RoleUser {
		t.Errorf("local echo missing: %+v", chat.Messages)
	}
}

func TestDispatcher_ChatReusesThreadID(t *testing.T) {
	sender := newFakeSender(true)
	chats := session.NewChatStore(nil, nil)
	d := newTestDispatcher(sender, DispatcherConfig{Chats: chats})

	ctx := context.Background()
	first, err := d.SendChatMessage(ctx, "", "hello")
	if err != nil {
		t.Fatalf("SendChatMessage: %v", err)
	}
	second, err := d.SendChatMessage(ctx, first, "follow-up")
	if err != nil {
		t.Fatalf("SendChatMessage: %v", err)
	}
	if first != second {
		t.Errorf("thread id changed between messages: %s vs %s", first, second)
	}

	frames := sender.sentFrames()
	var cmd protocol.ChatMessageCommand
	if err := json.Unmarshal(frames[1], &cmd); err != nil {
		t.Fatalf("unmarshal chat command: %v", err)
	}
	if cmd.ChatSessionID != first {
		t.Errorf("second command carries thread %s, want %s", cmd.ChatSessionID, first)
	}
}

func TestDispatcher_RateLimit(t *testing.T) {
	sender := newFakeSender(true)
	d := newTestDispatcher(sender, DispatcherConfig{RateLimit: rate.Limit(1), RateBurst: 1})

	ctx := context.Background()
	if _, err := d.TriggerWorkflow(ctx, "wf", nil); err != nil {
		t.Fatalf("first TriggerWorkflow: %v", err)
	}
	_, err := d.TriggerWorkflow(ctx, "wf", nil)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("second immediate TriggerWorkflow = %v, want ErrRateLimited", err)
	}
}

// waitForQueryID polls the sender for the first rag_query frame and returns
// its query id.
func waitForQueryID(t *testing.T, sender *fakeSender) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, frame := range sender.sentFrames() {
			var cmd protocol.RAGQueryCommand
			if err := json.Unmarshal(frame, &cmd); err == nil && cmd.Type == protocol.CmdRAGQuery {
				return cmd.QueryID
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("rag_query command never sent")
	return ""
}
