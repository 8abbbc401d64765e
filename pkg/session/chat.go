package session

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrChatNotFound is returned when a chat thread id has never been seen.
var ErrChatNotFound = errors.New("chat session not found")

// Role identifies the author of a chat message.
type Role string

const (
	// RoleUser marks a message sent by the local user.
	RoleUser Role = "user"
	// RoleAssistant marks a reply from the backend assistant.
	RoleAssistant Role = "assistant"
)

// Message is one entry in a chat thread. Messages are append-only and
// immutable once recorded.
type Message struct {
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Chat is one assistant conversation thread.
type Chat struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Chat) clone() Chat {
	out := *c
	out.Messages = append([]Message(nil), c.Messages...)
	return out
}

// mirrorTimeout bounds each best-effort history write.
const mirrorTimeout = 2 * time.Second

// mirrorQueueSize bounds messages waiting on the history backend. Appends
// never block on the backend; when the queue is full the mirror write is
// dropped and logged, and the in-memory transcript stays authoritative.
const mirrorQueueSize = 256

type mirrorEntry struct {
	chatID string
	msg    Message
}

// ChatStore tracks assistant conversation threads by chat session id.
// It is structurally a sibling of Store: mutex-guarded map, copies out,
// append-only per thread. An optional HistoryBackend mirrors messages to
// external storage; mirroring happens on a dedicated goroutine so a slow
// backend can never stall the caller, and mirror failures are logged,
// never surfaced. Call Close to flush the mirror queue and release the
// backend.
type ChatStore struct {
	mu           sync.RWMutex
	chats        map[string]*Chat
	history      HistoryBackend
	onChange     func(Chat)
	mirrorCh     chan mirrorEntry
	mirrorClosed bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewChatStore creates an empty chat store. history and onChange may be nil.
func NewChatStore(history HistoryBackend, onChange func(Chat)) *ChatStore {
	s := &ChatStore{
		chats:    make(map[string]*Chat),
		history:  history,
		onChange: onChange,
	}
	if history != nil {
		s.mirrorCh = make(chan mirrorEntry, mirrorQueueSize)
		s.done = make(chan struct{})
		go s.mirrorLoop()
	}
	return s
}

// AppendUser records a user message, creating the thread if chatID is empty
// or unseen. It returns the thread id, which is client-generated for new
// threads. This is the optimistic local echo: the message is visible before
// the server acknowledges anything.
func (s *ChatStore) AppendUser(chatID, content string) string {
	if chatID == "" {
		chatID = uuid.NewString()
	}
	return s.append(chatID, Message{
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

// AppendAssistant records the backend's reply on a thread, creating the
// thread if the server opened one the client has not seen.
func (s *ChatStore) AppendAssistant(chatID, content string, suggestions []string) string {
	return s.append(chatID, Message{
		Role:        RoleAssistant,
		Content:     content,
		Suggestions: suggestions,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *ChatStore) append(chatID string, msg Message) string {
	s.mu.Lock()
	chat, exists := s.chats[chatID]
	if !exists {
		now := time.Now().UTC()
		chat = &Chat{ID: chatID, CreatedAt: now}
		s.chats[chatID] = chat
	}
	chat.Messages = append(chat.Messages, msg)
	chat.UpdatedAt = time.Now().UTC()
	snap := chat.clone()
	// Enqueued under the lock so the mirror sees messages in the same
	// order as the in-memory transcript.
	s.enqueueMirror(chatID, msg)
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(snap)
	}
	return chatID
}

// enqueueMirror hands a message to the mirror goroutine without blocking.
// Callers hold s.mu.
func (s *ChatStore) enqueueMirror(chatID string, msg Message) {
	if s.mirrorCh == nil || s.mirrorClosed {
		return
	}
	select {
	case s.mirrorCh <- mirrorEntry{chatID: chatID, msg: msg}:
	default:
		log.Printf("session: chat history mirror queue full, dropping message for %s", chatID)
	}
}

// mirrorLoop is the single consumer of the mirror queue, so backend writes
// land in enqueue order.
func (s *ChatStore) mirrorLoop() {
	defer close(s.done)
	for entry := range s.mirrorCh {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		if err := s.history.AppendMessage(ctx, entry.chatID, entry.msg); err != nil {
			log.Printf("session: chat history mirror failed for %s: %v", entry.chatID, err)
		}
		cancel()
	}
}

// Close flushes the mirror queue, stops the mirror goroutine, and closes
// the history backend. Close is idempotent; a store without a backend has
// nothing to release.
func (s *ChatStore) Close() error {
	if s.mirrorCh == nil {
		return nil
	}
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.mirrorClosed = true
		s.mu.Unlock()
		close(s.mirrorCh)
	})
	<-s.done
	return s.history.Close()
}

// Get returns a copy of the thread with the given id.
func (s *ChatStore) Get(chatID string) (Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, exists := s.chats[chatID]
	if !exists {
		return Chat{}, ErrChatNotFound
	}
	return chat.clone(), nil
}

// List returns copies of all threads, oldest first.
func (s *ChatStore) List() []Chat {
	s.mu.RLock()
	out := make([]Chat, 0, len(s.chats))
	for _, chat := range s.chats {
		out = append(out, chat.clone())
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
