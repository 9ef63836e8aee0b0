package conn

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-client/internal/observability"
)

// ErrNotConnected is returned by Publish when no transport session is up.
// Callers decide whether to buffer or drop; the manager never buffers
// outbound traffic itself.
var ErrNotConnected = errors.New("conn: not connected")

// State is the transport session state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Handler receives the raw body of an inbound topic message.
type Handler func(body []byte)

// Manager owns the single transport session to the coordination backend:
// connect, auto-reconnect, and the subscription registry. Subscriptions made
// before the session is up are queued and flushed in FIFO order on connect.
//
// The manager is constructed explicitly and passed by reference to every
// consumer; only the top-level session owner may call Disconnect.
type Manager struct {
	dialer         Dialer
	url            string
	header         http.Header
	reconnectDelay time.Duration
	writeTimeout   time.Duration
	log            *slog.Logger

	mu          sync.Mutex
	state       State
	conn        Conn
	gen         int // connection generation; stale read loops check it and bail
	closed      bool
	subs        map[string]*Subscription // active registry keyed by topicKey
	pending     []*Subscription          // FIFO queue for subscribe-before-connect
	attemptDone chan struct{}
	attemptErr  error

	lostObservers      []func(error)
	reconnectObservers []func()

	writeMu sync.Mutex // serializes frame writes on the shared conn
}

// NewManager builds a Manager. header may carry the identity token. A
// writeTimeout of zero disables write deadlines.
func NewManager(dialer Dialer, url string, header http.Header, reconnectDelay, writeTimeout time.Duration, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 3 * time.Second
	}
	return &Manager{
		dialer:         dialer,
		url:            url,
		header:         header,
		reconnectDelay: reconnectDelay,
		writeTimeout:   writeTimeout,
		log:            log,
		subs:           make(map[string]*Subscription),
	}
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnConnectionLost registers an observer invoked exactly once per unexpected
// drop, regardless of how many topics are subscribed.
func (m *Manager) OnConnectionLost(f func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lostObservers = append(m.lostObservers, f)
}

// OnReconnected registers an observer invoked after an automatic reconnect
// has replayed the subscription registry.
func (m *Manager) OnReconnected(f func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconnectObservers = append(m.reconnectObservers, f)
}

// Connect establishes the session. Idempotent: when already connected it
// returns nil immediately; when a connect is in flight it waits for that
// attempt instead of starting a second one. On failure queued subscriptions
// are preserved for the next call.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Connected:
		m.mu.Unlock()
		return nil
	case Connecting:
		done := m.attemptDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		err := m.attemptErr
		m.mu.Unlock()
		return err
	}
	m.closed = false
	m.state = Connecting
	m.attemptDone = make(chan struct{})
	done := m.attemptDone
	m.mu.Unlock()

	err := m.establish(ctx)

	m.mu.Lock()
	m.attemptErr = err
	m.mu.Unlock()
	close(done)
	return err
}

func (m *Manager) establish(ctx context.Context) error {
	c, err := m.dialer.Dial(ctx, m.url, m.header)
	if err != nil {
		m.mu.Lock()
		m.state = Disconnected
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	if m.closed {
		// Disconnect raced the dial; drop the fresh conn.
		m.mu.Unlock()
		_ = c.Close()
		return errors.New("conn: closed during connect")
	}
	m.conn = c
	m.state = Connected
	m.gen++
	gen := m.gen
	m.replayLocked(c)
	m.mu.Unlock()

	go m.readLoop(gen, c)
	return nil
}

// replayLocked re-subscribes every registered topic and then flushes the
// pending queue in FIFO order, each entry exactly once.
func (m *Manager) replayLocked(c Conn) {
	for key := range m.subs {
		if err := m.writeFrame(c, subscribeFrame(key)); err != nil {
			m.log.Warn("subscribe replay failed", "topic", key, "error", err)
		}
	}
	for _, s := range m.pending {
		s.queued = false
		m.subs[s.key] = s
		if err := m.writeFrame(c, subscribeFrame(s.key)); err != nil {
			m.log.Warn("queued subscribe failed", "topic", s.key, "error", err)
		}
	}
	m.pending = nil
}

// Subscribe registers a handler for topicKey. When connected the subscribe
// is performed immediately; otherwise the subscription is queued and becomes
// active transparently once a session is established. At most one live
// subscription exists per key: re-subscribing replaces the previous one.
func (m *Manager) Subscribe(topicKey string, h Handler) *Subscription {
	s := &Subscription{m: m, key: topicKey, handler: h}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Connected {
		m.subs[topicKey] = s
		if err := m.writeFrame(m.conn, subscribeFrame(topicKey)); err != nil {
			m.log.Warn("subscribe write failed", "topic", topicKey, "error", err)
		}
		return s
	}
	// Replace any queued entry for the same key, keeping queue order of the
	// newest request.
	for i, q := range m.pending {
		if q.key == topicKey {
			q.cancelled = true
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	s.queued = true
	m.pending = append(m.pending, s)
	return s
}

// Publish sends payload to a named destination. Returns ErrNotConnected when
// no session is up; it never fails silently.
func (m *Manager) Publish(destination string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		observability.PublishFailures.Inc()
		return ErrNotConnected
	}
	return m.writeFrame(m.conn, frame{Type: frameSend, Destination: destination, Body: body})
}

// Disconnect tears the session down and clears the subscription registry
// entirely. An explicit disconnect means "done", not "reconnect me".
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closed = true
	m.state = Disconnected
	c := m.conn
	m.conn = nil
	m.subs = make(map[string]*Subscription)
	m.pending = nil
	m.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

func (m *Manager) writeFrame(c Conn, f frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.writeTimeout > 0 {
		if err := c.SetWriteDeadline(time.Now().Add(m.writeTimeout)); err != nil {
			return err
		}
	}
	return c.WriteMessage(websocket.TextMessage, b)
}

func (m *Manager) readLoop(gen int, c Conn) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			m.handleDrop(gen, err)
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			observability.MessagesDropped.WithLabelValues("unknown", "unparseable").Inc()
			m.log.Warn("dropping unparseable frame", "error", err)
			continue
		}
		if f.Type != frameMessage {
			continue
		}
		key := strings.TrimPrefix(f.Destination, topicPrefix)
		m.mu.Lock()
		s, ok := m.subs[key]
		m.mu.Unlock()
		if !ok {
			observability.MessagesDropped.WithLabelValues("unknown", "unroutable").Inc()
			m.log.Debug("no subscription for inbound message", "destination", f.Destination)
			continue
		}
		s.handler(f.Body)
	}
}

// handleDrop reacts to a transport closure. Explicit disconnects and
// superseded generations are ignored; a genuine drop notifies observers once
// and starts the reconnect loop.
func (m *Manager) handleDrop(gen int, cause error) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.state = Disconnected
	m.conn = nil
	observers := append([]func(error){}, m.lostObservers...)
	m.mu.Unlock()

	observability.ConnectionDrops.Inc()
	m.log.Warn("transport dropped, reconnecting", "error", cause, "delay", m.reconnectDelay)
	for _, f := range observers {
		f(cause)
	}
	go m.reconnectLoop()
}

// reconnectLoop retries with a fixed backoff until the session is back or an
// explicit Disconnect intervenes. Registered subscriptions are replayed
// automatically so observers never resubscribe manually.
func (m *Manager) reconnectLoop() {
	for {
		time.Sleep(m.reconnectDelay)

		m.mu.Lock()
		if m.closed || m.state != Disconnected {
			m.mu.Unlock()
			return
		}
		// Claim the attempt so a concurrent Connect() waits on it instead
		// of dialing a second transport.
		m.state = Connecting
		m.attemptDone = make(chan struct{})
		done := m.attemptDone
		m.mu.Unlock()

		observability.ReconnectsTotal.Inc()
		ctx, cancel := context.WithTimeout(context.Background(), m.reconnectDelay+10*time.Second)
		err := m.establish(ctx)
		cancel()
		m.mu.Lock()
		m.attemptErr = err
		m.mu.Unlock()
		close(done)
		if err != nil {
			m.log.Warn("reconnect attempt failed", "error", err)
			continue
		}

		m.mu.Lock()
		observers := append([]func(){}, m.reconnectObservers...)
		m.mu.Unlock()
		m.log.Info("transport reconnected")
		for _, f := range observers {
			f()
		}
		return
	}
}
