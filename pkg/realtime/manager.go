package realtime

import (
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the lifecycle state of the managed connection.
type ConnState string

const (
	// StateDisconnected means no socket exists and none is being opened.
	StateDisconnected ConnState = "disconnected"
	// StateConnecting means the initial dial is in flight.
	StateConnecting ConnState = "connecting"
	// StateConnected means the socket is open and frames flow.
	StateConnected ConnState = "connected"
	// StateReconnecting means the socket was lost and a retry is scheduled.
	StateReconnecting ConnState = "reconnecting"
)

// StateChange describes one connection lifecycle transition.
type StateChange struct {
	State   ConnState
	Reason  string
	Retries int
}

// DefaultHandshakeTimeout bounds the WebSocket dial.
const DefaultHandshakeTimeout = 10 * time.Second

// ManagerConfig configures a connection Manager.
type ManagerConfig struct {
	// URL is the socket endpoint, e.g. "wss://api.example.com/mcp".
	URL string
	// Role is sent as the user_role query parameter.
	Role string
	// Backoff is the reconnect delay policy. Zero value = defaults.
	Backoff Backoff
	// HandshakeTimeout bounds each dial attempt.
	HandshakeTimeout time.Duration
	// OnFrame receives every inbound frame, in arrival order, from the
	// single reader goroutine.
	OnFrame func([]byte)
	// OnState receives lifecycle transitions.
	OnState func(StateChange)
	// Dialer overrides the WebSocket dialer, mainly for tests.
	Dialer *websocket.Dialer
}

// Manager owns the one persistent connection to the orchestration service
// and drives its lifecycle. On unexpected closure it retries indefinitely
// with capped exponential backoff until Close is called; there is never
// more than one live socket.
type Manager struct {
	cfg ManagerConfig
	url string

	mu         sync.Mutex
	state      ConnState
	conn       *websocket.Conn
	retries    int
	closed     bool
	retryTimer *time.Timer
	lastErr    error
	gen        int // socket generation, so a stale reader cannot trigger reconnects

	// writeMu serializes frame writes; gorilla/websocket allows only one
	// concurrent writer.
	writeMu sync.Mutex
}

// NewManager creates a Manager. It does not dial; call Connect.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse socket url: %w", err)
	}
	if cfg.Role != "" {
		q := u.Query()
		q.Set("user_role", cfg.Role)
		u.RawQuery = q.Encode()
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	return &Manager{
		cfg:   cfg,
		url:   u.String(),
		state: StateDisconnected,
	}, nil
}

// Connect begins the connection lifecycle. It is a no-op while already
// Connecting or Connected. A failed dial returns the error but leaves the
// manager in Reconnecting with a retry scheduled; the caller does not need
// to call Connect again.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state == StateConnecting || m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	// Connect while Reconnecting supersedes the scheduled retry; the armed
	// timer must die or two dial loops end up racing.
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	// Entering Connecting closes any prior socket first.
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = StateConnecting
	m.mu.Unlock()
	m.emit(StateChange{State: StateConnecting})

	conn, err := m.dial()
	if err != nil {
		m.scheduleReconnect(err)
		return err
	}
	m.install(conn)
	return nil
}

// Close tears the connection down deterministically: the pending reconnect
// timer (if any) is cancelled and the socket is closed. A closed Manager
// cannot be reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
	if m.conn != nil {
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = m.conn.Close()
		m.conn = nil
	}
	m.state = StateDisconnected
	m.mu.Unlock()

	m.emit(StateChange{State: StateDisconnected, Reason: "closed by client"})
	return nil
}

// Send writes one frame. It fails with ErrNotConnected unless the state is
// Connected; queueing is the dispatcher's decision, not the manager's.
func (m *Manager) Send(payload []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// State returns the current lifecycle state.
func (m *Manager) State() ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Retries returns the number of consecutive failed attempts since the last
// successful connection.
func (m *Manager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// LastError returns the most recent transport error, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) dial() (*websocket.Conn, error) {
	dialer := m.cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: m.cfg.HandshakeTimeout}
	}
	conn, _, err := dialer.Dial(m.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", m.url, err)
	}
	return conn, nil
}

// install adopts a freshly dialed socket and starts its reader.
func (m *Manager) install(conn *websocket.Conn) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	// If a racing dial already installed a socket, it loses: adopting the
	// new one closes it so there is never more than one live socket.
	if m.conn != nil {
		_ = m.conn.Close()
	}
	m.conn = conn
	m.gen++
	gen := m.gen
	m.state = StateConnected
	m.retries = 0
	m.lastErr = nil
	m.mu.Unlock()

	m.emit(StateChange{State: StateConnected})
	go m.readLoop(conn, gen)
}

// readLoop is the single reader for one socket generation. All inbound
// frames are delivered from here, in arrival order.
func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			stale := m.closed || gen != m.gen
			if !stale {
				m.conn = nil
			}
			m.mu.Unlock()
			if !stale {
				m.scheduleReconnect(err)
			}
			return
		}
		if m.cfg.OnFrame != nil {
			m.cfg.OnFrame(data)
		}
	}
}

// scheduleReconnect transitions to Reconnecting and arms the retry timer.
func (m *Manager) scheduleReconnect(cause error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.lastErr = cause
	m.state = StateReconnecting
	if m.retryTimer != nil {
		m.retryTimer.Stop()
	}
	attempt := m.retries
	m.retries++
	delay := m.cfg.Backoff.Delay(attempt)
	m.retryTimer = time.AfterFunc(delay, m.reconnect)
	m.mu.Unlock()

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	m.emit(StateChange{State: StateReconnecting, Reason: reason, Retries: attempt + 1})
}

func (m *Manager) reconnect() {
	m.mu.Lock()
	if m.closed || m.state != StateReconnecting {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	conn, err := m.dial()
	if err != nil {
		m.scheduleReconnect(err)
		return
	}
	m.install(conn)
}

func (m *Manager) emit(change StateChange) {
	if m.cfg.OnState != nil {
		m.cfg.OnState(change)
	}
}
