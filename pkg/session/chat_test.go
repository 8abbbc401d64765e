package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// waitForMirrored polls the backend until a thread holds want messages.
func waitForMirrored(t *testing.T, history HistoryBackend, chatID string, want int) []Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs, err := history.LoadMessages(context.Background(), chatID)
		if err == nil && len(msgs) >= want {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("thread %s never reached %d mirrored messages", chatID, want)
	return nil
}

func TestChatStore_OptimisticEchoAndReply(t *testing.T) {
	store := NewChatStore(nil, nil)

	chatID := store.AppendUser("", "what is the runway for acme?")
	if chatID == "" {
		t.Fatal("new thread did not get an id")
	}

	chat, err := store.Get(chatID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(chat.Messages) != 1 {
		t.Fatalf("expected 1 message after echo, got %d", len(chat.Messages))
	}
	if chat.Messages[0].Role != RoleUser || chat.Messages[0].Content != "what is the runway for acme?" {
		t.Errorf("echoed message wrong: %+v", chat.Messages[0])
	}

	store.AppendAssistant(chatID, "about 14 months at current burn", []string{"show burn breakdown"})

	chat, _ = store.Get(chatID)
	if len(chat.Messages) != 2 {
		t.Fatalf("expected 2 messages after reply, got %d", len(chat.Messages))
	}
	reply := chat.Messages[1]
	if reply.Role != RoleAssistant || len(reply.Suggestions) != 1 {
		t.Errorf("assistant reply wrong: %+v", reply)
	}
}

func TestChatStore_ExistingThreadKeepsID(t *testing.T) {
	store := NewChatStore(nil, nil)

	id := store.AppendUser("", "first")
	again := store.AppendUser(id, "second")
	if again != id {
		t.Fatalf("thread id changed: %s -> %s", id, again)
	}

	chat, _ := store.Get(id)
	if len(chat.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(chat.Messages))
	}
	if got := len(store.List()); got != 1 {
		t.Errorf("expected 1 thread, got %d", got)
	}
}

func TestChatStore_AssistantOpensUnseenThread(t *testing.T) {
	store := NewChatStore(nil, nil)

	store.AppendAssistant("srv-thread", "proactive insight", nil)

	chat, err := store.Get("srv-thread")
	if err != nil {
		t.Fatalf("server-opened thread missing: %v", err)
	}
	if len(chat.Messages) != 1 || chat.Messages[0].Role != RoleAssistant {
		t.Errorf("thread content: %+v", chat.Messages)
	}
}

func TestChatStore_UnknownThread(t *testing.T) {
	store := NewChatStore(nil, nil)
	if _, err := store.Get("nope"); err != ErrChatNotFound {
		t.Errorf("expected ErrChatNotFound, got %v", err)
	}
}

func TestChatStore_MirrorsToHistory(t *testing.T) {
	history := NewMemoryHistory()
	store := NewChatStore(history, nil)
	defer store.Close()

	id := store.AppendUser("", "hello")
	store.AppendAssistant(id, "hi", nil)

	msgs := waitForMirrored(t, history, id, 2)
	if msgs[0].Role != RoleUser || msgs[1].Role != RoleAssistant {
		t.Errorf("mirrored order wrong: %+v", msgs)
	}
}

func TestChatStore_HistoryFailureIsAbsorbed(t *testing.T) {
	history := NewMemoryHistory()
	_ = history.Close()
	store := NewChatStore(history, nil)
	defer store.Close()

	id := store.AppendUser("", "still works")

	chat, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(chat.Messages) != 1 {
		t.Errorf("in-memory state lost on mirror failure: %+v", chat.Messages)
	}
}

// slowHistory delays every append, standing in for a stalled backend.
type slowHistory struct {
	delay time.Duration
	mu    sync.Mutex
	msgs  map[string][]Message
}

func newSlowHistory(delay time.Duration) *slowHistory {
	return &slowHistory{delay: delay, msgs: make(map[string][]Message)}
}

func (h *slowHistory) AppendMessage(_ context.Context, chatID string, msg Message) error {
	time.Sleep(h.delay)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs[chatID] = append(h.msgs[chatID], msg)
	return nil
}

func (h *slowHistory) LoadMessages(_ context.Context, chatID string) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.msgs[chatID]...), nil
}

func (h *slowHistory) Close() error { return nil }

func TestChatStore_SlowBackendDoesNotBlockAppend(t *testing.T) {
	history := newSlowHistory(300 * time.Millisecond)
	store := NewChatStore(history, nil)
	defer store.Close()

	start := time.Now()
	id := store.AppendUser("", "question")
	store.AppendAssistant(id, "answer", nil)
	elapsed := time.Since(start)

	// Appends run on the event path; the mirror must not be on it.
	if elapsed > 100*time.Millisecond {
		t.Fatalf("appends blocked %v on the history backend", elapsed)
	}

	waitForMirrored(t, history, id, 2)
}

func TestChatStore_MirrorPreservesTranscriptOrder(t *testing.T) {
	history := NewMemoryHistory()
	store := NewChatStore(history, nil)
	defer store.Close()

	id := store.AppendUser("", "opening")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				store.AppendAssistant(id, fmt.Sprintf("writer-%d-%d", n, j), nil)
			}
		}(i)
	}
	wg.Wait()

	chat, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	mirrored := waitForMirrored(t, history, id, len(chat.Messages))
	if len(mirrored) != len(chat.Messages) {
		t.Fatalf("mirror has %d messages, transcript has %d", len(mirrored), len(chat.Messages))
	}
	for i := range mirrored {
		if mirrored[i].Content != chat.Messages[i].Content {
			t.Fatalf("mirror order diverges from transcript at %d: %q vs %q",
				i, mirrored[i].Content, chat.Messages[i].Content)
		}
	}
}

func TestChatStore_CloseFlushesMirrorQueue(t *testing.T) {
	history := newSlowHistory(10 * time.Millisecond)
	store := NewChatStore(history, nil)

	id := store.AppendUser("", "first")
	for i := 0; i < 5; i++ {
		store.AppendAssistant(id, fmt.Sprintf("reply-%d", i), nil)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	msgs, err := history.LoadMessages(context.Background(), id)
	if err != nil {
		t.Fatalf("load after close: %v", err)
	}
	if len(msgs) != 6 {
		t.Errorf("close flushed %d of 6 queued messages", len(msgs))
	}

	// Appends after close keep working locally and never panic.
	store.AppendAssistant(id, "late", nil)
	chat, _ := store.Get(id)
	if len(chat.Messages) != 7 {
		t.Errorf("append after close lost: %d messages", len(chat.Messages))
	}
	if err := store.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestChatStore_Notifications(t *testing.T) {
	var seen []Chat
	store := NewChatStore(nil, func(c Chat) {
		seen = append(seen, c)
	})

	id := store.AppendUser("", "ping")
	store.AppendAssistant(id, "pong", nil)

	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	if len(seen[1].Messages) != 2 {
		t.Errorf("second notification should carry both messages, got %d", len(seen[1].Messages))
	}
}
