package verssai

import (
	"fmt"
	"log"
	"sync"

	"github.com/verssai/verssai-go/pkg/realtime"
)

// Hub shares one realtime client across a process. The connection opens when
// the first subscriber registers and tears down when the last one releases,
// so independent UI surfaces can come and go without each owning a socket.
type Hub struct {
	cfg *Config

	mu     sync.Mutex
	client *realtime.Client
	refs   int
}

// NewHub creates a Hub from a validated Config. No connection is opened yet.
func NewHub(cfg *Config) *Hub {
	return &Hub{cfg: cfg}
}

// Subscription is one active attachment to the hub's shared client.
type Subscription struct {
	hub    *Hub
	client *realtime.Client
	unsub  func()
	once   sync.Once
}

// Client returns the shared realtime client backing this subscription.
func (s *Subscription) Client() *realtime.Client {
	return s.client
}

// Release detaches the subscription. When the last subscription releases,
// the hub closes the connection. Release is idempotent.
func (s *Subscription) Release() {
	s.once.Do(func() {
		s.unsub()
		s.hub.release()
	})
}

// Subscribe attaches fn to a scope on the shared client, connecting it if
// this is the first subscriber. The returned Subscription must be Released
// when the caller is done.
func (h *Hub) Subscribe(scope string, fn realtime.EventFunc) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client == nil {
		opts, err := h.cfg.clientOptions()
		if err != nil {
			return nil, err
		}
		client, err := realtime.NewClient(opts)
		if err != nil {
			return nil, fmt.Errorf("hub: create client: %w", err)
		}
		if err := client.Connect(); err != nil {
			// The client keeps retrying in the background; the first
			// subscriber still gets a usable handle.
			log.Printf("verssai: initial connect failed, retrying: %v", err)
		}
		h.client = client
	}

	unsub := h.client.Subscribe(scope, fn)
	h.refs++
	return &Subscription{hub: h, client: h.client, unsub: unsub}, nil
}

// Client returns the shared client, or nil while no subscriber holds it.
func (h *Hub) Client() *realtime.Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.client
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.refs
}

func (h *Hub) release() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.refs == 0 {
		return
	}
	h.refs--
	if h.refs == 0 && h.client != nil {
		_ = h.client.Close()
		h.client = nil
	}
}
