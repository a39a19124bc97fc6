// Package client owns the persistent WebSocket connection to the counselor
// service: dialing, the connect handshake, the read loop, keep-alive
// heartbeats, and the fixed-delay reconnect policy. All outcomes surface on
// a single typed event stream.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pathwise-ai/pathwise/pkg/protocol"
)

// ErrNotConnected is returned by Send while the transport is not open. The
// message is never queued.
var ErrNotConnected = errors.New("client: not connected")

// HandleState is the lifecycle state of the current connection handle.
type HandleState int

const (
	StateClosed HandleState = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s HandleState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Event is emitted on the manager's event stream.
type Event interface {
	clientEventTag() string
}

// OpenedEvent fires when the transport opens and the connect intent is sent.
type OpenedEvent struct{}

func (OpenedEvent) clientEventTag() string { return "opened" }

// FrameEvent carries one decoded inbound envelope.
type FrameEvent struct {
	Frame protocol.Frame
}

func (FrameEvent) clientEventTag() string { return "frame" }

// StatusEvent is a user-visible connectivity status. Persistent statuses
// (disconnected) stay until replaced; transient ones self-clear in the UI.
type StatusEvent struct {
	Message    string
	Persistent bool
}

func (StatusEvent) clientEventTag() string { return "status" }

// ClosedEvent fires when the connection handle dies. A reconnect has already
// been scheduled by the time consumers see it, unless the manager was
// explicitly closed.
type ClosedEvent struct {
	Err error
}

func (ClosedEvent) clientEventTag() string { return "closed" }

// Conn is the transport surface the manager needs; *websocket.Conn
// satisfies it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens transports. The default dials gorilla websockets; tests
// substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type wsDialer struct {
	handshakeTimeout time.Duration
}

func (d wsDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// Config configures a Manager.
type Config struct {
	URL string

	// ReconnectDelay is the fixed delay before the single reconnect attempt
	// scheduled after a close. Level-triggered, no backoff.
	ReconnectDelay time.Duration

	// HeartbeatInterval is the keep-alive ping cadence while open.
	HeartbeatInterval time.Duration

	HandshakeTimeout time.Duration
	EventBuffer      int
	Logger           *slog.Logger

	// Dialer overrides the transport for tests.
	Dialer Dialer
}

func (c Config) normalized() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 15 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Dialer == nil {
		c.Dialer = wsDialer{handshakeTimeout: c.HandshakeTimeout}
	}
	return c
}

// Manager owns exactly one live connection handle at a time. A closed
// handle is never reused; reconnect constructs a new one.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex

	mu         sync.Mutex
	state      HandleState
	conn       Conn
	reconnect  *time.Timer
	everOpened bool
}

// NewManager creates a manager and starts its heartbeat loop. Call Connect
// to open the transport.
func NewManager(cfg Config) *Manager {
	cfg = cfg.normalized()
	m := &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		events: make(chan Event, cfg.EventBuffer),
		done:   make(chan struct{}),
	}
	go m.heartbeatLoop()
	return m
}

// Events yields connection events in arrival order.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State reports the current handle state.
func (m *Manager) State() HandleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOpen reports whether the transport is open.
func (m *Manager) IsOpen() bool {
	return m.State() == StateOpen
}

// EverOpened reports whether any connection has ever reached open. The
// offline fallback engine only activates while this is false or the
// transport has since failed without a successful reconnect.
func (m *Manager) EverOpened() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.everOpened
}

// Connect opens a new connection handle unless one is already connecting or
// open. The dial happens off the caller's goroutine; results surface as
// events.
func (m *Manager) Connect(ctx context.Context) {
	if m.isShutdown() {
		return
	}
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateOpen {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()

	go m.dial(ctx)
}

func (m *Manager) dial(ctx context.Context) {
	conn, err := m.cfg.Dialer.Dial(ctx, m.cfg.URL)
	if err != nil {
		m.logger.Warn("dial failed", "url", m.cfg.URL, "error", err)
		m.mu.Lock()
		m.state = StateClosed
		m.mu.Unlock()
		m.emit(StatusEvent{Message: "disconnected", Persistent: true})
		m.emit(ClosedEvent{Err: err})
		m.scheduleReconnect()
		return
	}

	payload, err := protocol.Encode(protocol.ConnectIntent{})
	if err == nil {
		m.writeMu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, payload)
		m.writeMu.Unlock()
	}
	if err != nil {
		_ = conn.Close()
		m.mu.Lock()
		m.state = StateClosed
		m.mu.Unlock()
		m.emit(StatusEvent{Message: "disconnected", Persistent: true})
		m.emit(ClosedEvent{Err: err})
		m.scheduleReconnect()
		return
	}

	m.mu.Lock()
	if m.isShutdown() {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.state = StateOpen
	m.everOpened = true
	m.mu.Unlock()

	m.emit(OpenedEvent{})
	go m.readLoop(conn)
}

func (m *Manager) readLoop(conn Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(conn, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			// Protocol errors never affect the session.
			m.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		m.emit(FrameEvent{Frame: frame})
	}
}

// handleClose retires the given handle. Stale handles (already replaced by a
// reconnect) are ignored.
func (m *Manager) handleClose(conn Conn, err error) {
	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.state = StateClosed
	m.mu.Unlock()

	_ = conn.Close()
	if m.isShutdown() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = nil
	}
	m.logger.Info("connection closed", "error", err)
	m.emit(StatusEvent{Message: "disconnected", Persistent: true})
	m.emit(ClosedEvent{Err: err})
	m.scheduleReconnect()
}

// scheduleReconnect arms exactly one reconnect attempt after the fixed
// delay. A timer already pending is left alone.
func (m *Manager) scheduleReconnect() {
	if m.isShutdown() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reconnect != nil {
		return
	}
	m.reconnect = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		m.reconnect = nil
		m.mu.Unlock()
		m.Connect(context.Background())
	})
}

// Send encodes and writes one intent. While not open it surfaces a
// "not connected" status and returns ErrNotConnected without queuing.
func (m *Manager) Send(intent protocol.Intent) error {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	if !open || conn == nil {
		m.emit(StatusEvent{Message: "not connected", Persistent: false})
		return ErrNotConnected
	}

	payload, err := protocol.Encode(intent)
	if err != nil {
		return err
	}

	m.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	m.writeMu.Unlock()
	if err != nil {
		m.handleClose(conn, err)
		return err
	}
	return nil
}

func (m *Manager) heartbeatLoop() {
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			// Silently skipped unless the transport is open.
			if m.IsOpen() {
				if err := m.Send(protocol.PingIntent{}); err != nil && !errors.Is(err, ErrNotConnected) {
					m.logger.Warn("heartbeat failed", "error", err)
				}
			}
		}
	}
}

// Close shuts the manager down for good: heartbeat and any pending
// reconnect stop, the handle closes, and no further events are emitted.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)

		m.mu.Lock()
		if m.reconnect != nil {
			m.reconnect.Stop()
			m.reconnect = nil
		}
		conn := m.conn
		m.conn = nil
		m.state = StateClosing
		m.mu.Unlock()

		if conn != nil {
			m.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(2*time.Second))
			m.writeMu.Unlock()
			_ = conn.Close()
		}

		m.mu.Lock()
		m.state = StateClosed
		m.mu.Unlock()
	})
	return nil
}

func (m *Manager) isShutdown() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// emit delivers an event without ever blocking the read loop. If the
// consumer stops draining, events are dropped, matching the transport's
// fire-and-forget contract.
func (m *Manager) emit(event Event) {
	select {
	case <-m.done:
	case m.events <- event:
	default:
		m.logger.Warn("event buffer full, dropping", "event", event.clientEventTag())
	}
}
