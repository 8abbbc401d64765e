package realtime

import (
	"log"
	"sync"

	"github.com/verssai/verssai-go/pkg/session"
)

// Event scopes a subscriber can attach to.
const (
	// ScopeAllSessions receives every session change.
	ScopeAllSessions = "sessions"
	// ScopeConnection receives connection state transitions.
	ScopeConnection = "connection"
	// ScopeChats receives every chat thread change.
	ScopeChats = "chats"
)

// ScopeSession returns the scope for changes to one session.
func ScopeSession(id string) string { return "session:" + id }

// ScopeChat returns the scope for changes to one chat thread.
func ScopeChat(id string) string { return "chat:" + id }

// Event is one notification delivered to subscribers. Exactly one of
// Session, Chat, or State is set, matching the scope subscribed to.
// Payloads are snapshots; mutating them does not affect client state.
type Event struct {
	Scope   string
	Session *session.Session
	Chat    *session.Chat
	State   *StateChange
}

// EventFunc handles one event. It runs synchronously on the delivery
// goroutine and must not block.
type EventFunc func(Event)

type subscriber struct {
	id int
	fn EventFunc
}

// Bus fans client state changes out to subscribers. Delivery is synchronous
// and in registration order within a scope; a subscriber that panics is
// logged and skipped without affecting the others or the connection.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string][]subscriber
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers fn for a scope and returns an unsubscribe func.
// Unsubscribing is idempotent and takes effect for subsequent events;
// unsubscribing during delivery does not disturb the in-flight event.
func (b *Bus) Subscribe(scope string, fn EventFunc) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[scope] = append(b.subs[scope], subscriber{id: id, fn: fn})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[scope]
		for i, s := range list {
			if s.id == id {
				b.subs[scope] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(b.subs[scope]) == 0 {
			delete(b.subs, scope)
		}
	}
}

// Publish delivers an event to every subscriber of its scope.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	list := b.subs[ev.Scope]
	subs := make([]subscriber, len(list))
	copy(subs, list)
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(s, ev)
	}
}

// SubscriberCount returns how many subscribers exist across all scopes.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, list := range b.subs {
		n += len(list)
	}
	return n
}

func deliver(s subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("realtime: subscriber panic on %s: %v", ev.Scope, r)
		}
	}()
	s.fn(ev)
}

// PublishSession delivers a session snapshot to the per-session scope and
// to ScopeAllSessions.
func (b *Bus) PublishSession(sess *session.Session) {
	if sess == nil {
		return
	}
	b.Publish(Event{Scope: ScopeSession(sess.ID), Session: sess})
	b.Publish(Event{Scope: ScopeAllSessions, Session: sess})
}

// PublishChat delivers a chat snapshot to the per-thread scope and to
// ScopeChats.
func (b *Bus) PublishChat(chat *session.Chat) {
	if chat == nil {
		return
	}
	b.Publish(Event{Scope: ScopeChat(chat.ID), Chat: chat})
	b.Publish(Event{Scope: ScopeChats, Chat: chat})
}

// PublishState delivers a connection state transition.
func (b *Bus) PublishState(change StateChange) {
	b.Publish(Event{Scope: ScopeConnection, State: &change})
}
