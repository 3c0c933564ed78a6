// Package stream implements the WebSocket subscription manager: one live
// connection per manager, a tracked set of (symbol, channel) subscriptions
// that survives reconnects, and a bounded event channel toward the
// consumer.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/veiloq/binance-connector/pkg/exchanges/interfaces"
	"github.com/veiloq/binance-connector/pkg/logging"
)

// State is the connection lifecycle state of a manager.
type State int32

const (
	// Disconnected: no live socket. Entered on creation, on confirmed
	// close, and terminally after Close.
	Disconnected State = iota

	// Connecting: a dial is in progress.
	Connecting

	// Connected: the handshake succeeded; tracked subscriptions are being
	// resent and have not all been acknowledged yet.
	Connected

	// Active: every tracked subscription is acknowledged (trivially true
	// with zero subscriptions).
	Active

	// Degraded: the socket is still open but liveness is in doubt (missed
	// pong or read error); a close and reconnect will follow.
	Degraded
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Active:
		return "active"
	case Degraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

// SubscriptionState tracks one (symbol, channel) pair.
type SubscriptionState int

const (
	SubPending SubscriptionState = iota
	SubActive
	SubFailed
)

type subscription struct {
	stream string // "<symbol lowercase>@<channel>"
	state  SubscriptionState
}

// Event is one decoded message from the exchange stream. Type and Symbol
// are extracted from the payload's "e"/"s" fields when present; Data is
// the full raw payload for the caller's deserialization layer.
type Event struct {
	Type   string
	Symbol string
	Data   []byte
}

// Config holds stream manager configuration.
type Config struct {
	URL string

	// HeartbeatInterval is the ping cadence; a read deadline of three
	// intervals detects a dead peer.
	HeartbeatInterval time.Duration

	// ReconnectInterval is the initial backoff delay; delays grow
	// exponentially up to MaxReconnectInterval.
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration

	// ConnectRetries bounds the initial Connect attempt. Background
	// reconnects retry until the manager is closed.
	ConnectRetries uint

	// EventBuffer is the capacity of the events channel.
	EventBuffer int

	// StallTimeout is how long delivery may block on a full events channel
	// before the manager concludes the consumer is gone and closes itself.
	StallTimeout time.Duration

	Clock  clock.Clock
	Logger logging.Logger
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.MaxReconnectInterval <= 0 {
		c.MaxReconnectInterval = time.Minute
	}
	if c.ConnectRetries == 0 {
		c.ConnectRetries = 3
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 30 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = logging.NewLogger()
	}
}

// controlFrame is the exchange's subscribe/unsubscribe message; the server
// acknowledges it with a response correlated by id.
type controlFrame struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// Manager owns one logical stream connection. Subscribe, Unsubscribe and
// reconnect are serialized under one mutex, so a reconnect never resends a
// stale subscription set. A manager's event sequence is consumed once; a
// closed manager cannot be restarted.
type Manager struct {
	cfg    Config
	clock  clock.Clock
	logger logging.Logger

	// mu guards conn, subs, pending and control sends.
	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]*subscription
	pending map[int64][]string
	nextID  int64
	closed  bool

	state   atomic.Int32
	dialing atomic.Bool

	// wg counts live read loops; the events channel closes only after
	// they have all exited.
	wg sync.WaitGroup

	events chan Event
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager for the given endpoint. The connection is
// not established until Connect.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: stream URL is required", interfaces.ErrInvalidScope)
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		subs:    make(map[string]*subscription),
		pending: make(map[int64][]string),
		events:  make(chan Event, cfg.EventBuffer),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
}

// Events returns the manager's event sequence. The channel is closed when
// the manager closes; reconnects appear only as a gap in the sequence.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Done is closed when the manager shuts down, whether by Close or by a
// consumer stall.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Connect establishes the connection and resends any deferred
// subscriptions. Attempts are bounded by ConnectRetries. Calling Connect
// while a background reconnect is in flight defers to that attempt.
func (m *Manager) Connect(ctx context.Context) error {
	if m.isClosed() {
		return interfaces.ErrStreamClosed
	}
	if m.State() >= Connected && m.State() != Degraded {
		return nil
	}
	return m.dial(ctx, m.cfg.ConnectRetries)
}

// dial runs the connect loop. retries == 0 means retry until the manager
// is closed (background reconnect). Only one dial runs at a time: a caller
// racing the background reconnect yields to the attempt already in flight,
// so a second connection is never established alongside the first.
func (m *Manager) dial(ctx context.Context, retries uint) error {
	if !m.dialing.CompareAndSwap(false, true) {
		return nil
	}
	defer m.dialing.Store(false)

	if m.currentConn() != nil {
		return nil
	}

	m.setState(Connecting)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.ReconnectInterval
	bo.MaxInterval = m.cfg.MaxReconnectInterval
	bo.MaxElapsedTime = 0

	var policy backoff.BackOff = bo
	if retries > 0 {
		policy = backoff.WithMaxRetries(bo, uint64(retries-1))
	}
	policy = backoff.WithContext(policy, ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		if m.isClosed() {
			return backoff.Permanent(interfaces.ErrStreamClosed)
		}
		attempt++

		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, m.cfg.URL, nil)
		if err != nil {
			m.logger.Warn("stream connect attempt failed",
				logging.Int("attempt", attempt),
				logging.Error(err),
			)
			return err
		}
		return m.install(conn)
	}, policy)

	if err != nil {
		m.setState(Disconnected)
		return err
	}
	return nil
}

// install adopts a freshly dialed connection: registers handlers, starts
// the read and heartbeat loops, and resends the full tracked subscription
// set before the manager can report Active.
func (m *Manager) install(conn *websocket.Conn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		conn.Close()
		return backoff.Permanent(interfaces.ErrStreamClosed)
	}

	m.conn = conn
	m.pending = make(map[int64][]string)
	m.setState(Connected)

	deadline := 3 * m.cfg.HeartbeatInterval
	conn.SetReadDeadline(m.clock.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(m.clock.Now().Add(deadline))
	})
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(m.clock.Now().Add(deadline))
		return conn.WriteControl(websocket.PongMessage, []byte(appData),
			m.clock.Now().Add(5*time.Second))
	})

	// Every tracked subscription is resent regardless of its prior state:
	// the tracked set is the single source of truth across reconnects.
	streams := make([]string, 0, len(m.subs))
	for key, sub := range m.subs {
		sub.state = SubPending
		streams = append(streams, key)
	}
	if len(streams) > 0 {
		if err := m.sendControlLocked(conn, "SUBSCRIBE", streams); err != nil {
			conn.Close()
			m.conn = nil
			return err
		}
	} else {
		m.setState(Active)
	}

	m.wg.Add(1)
	go m.readLoop(conn)
	go m.heartbeat(conn)

	m.logger.Info("stream connected",
		logging.String("url", m.cfg.URL),
		logging.Int("subscriptions", len(streams)),
	)
	return nil
}

// Subscribe adds the (symbol, channel) pairs to the tracked set and sends
// one subscribe frame for the pairs that are new. Re-subscribing an
// already-tracked pair is a no-op and produces no control message. When the
// connection is down, the subscription is recorded and sent on the next
// Connected transition.
func (m *Manager) Subscribe(symbols []string, channel string) error {
	streams, err := streamNames(symbols, channel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return interfaces.ErrStreamClosed
	}

	var added []string
	for _, key := range streams {
		if sub, ok := m.subs[key]; ok && sub.state != SubFailed {
			continue
		}
		m.subs[key] = &subscription{stream: key, state: SubPending}
		added = append(added, key)
	}
	if len(added) == 0 {
		return nil
	}

	if m.conn != nil && m.State() >= Connected {
		return m.sendControlLocked(m.conn, "SUBSCRIBE", added)
	}
	return nil
}

// Unsubscribe removes the pairs from the tracked set and, when connected,
// sends an unsubscribe frame. Unknown pairs are ignored.
func (m *Manager) Unsubscribe(symbols []string, channel string) error {
	streams, err := streamNames(symbols, channel)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return interfaces.ErrStreamClosed
	}

	var removed []string
	for _, key := range streams {
		if _, ok := m.subs[key]; !ok {
			continue
		}
		delete(m.subs, key)
		removed = append(removed, key)
	}
	if len(removed) == 0 {
		return nil
	}

	if m.conn != nil && m.State() >= Connected {
		return m.sendControlLocked(m.conn, "UNSUBSCRIBE", removed)
	}
	return nil
}

// Subscriptions returns the tracked stream names and their states.
func (m *Manager) Subscriptions() map[string]SubscriptionState {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]SubscriptionState, len(m.subs))
	for key, sub := range m.subs {
		out[key] = sub.state
	}
	return out
}

// sendControlLocked writes one subscribe/unsubscribe frame. Callers hold
// m.mu.
func (m *Manager) sendControlLocked(conn *websocket.Conn, method string, streams []string) error {
	m.nextID++
	id := m.nextID
	if method == "SUBSCRIBE" {
		m.pending[id] = streams
	}

	frame := controlFrame{Method: method, Params: streams, ID: id}
	if err := conn.WriteJSON(frame); err != nil {
		delete(m.pending, id)
		return fmt.Errorf("sending %s frame: %w", method, err)
	}

	m.logger.Debug("control frame sent",
		logging.String("method", method),
		logging.Int64("id", id),
		logging.Int("streams", len(streams)),
	)
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	defer m.wg.Done()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			m.handleReadFailure(conn, err)
			return
		}
		m.dispatch(message)
	}
}

func (m *Manager) dispatch(message []byte) {
	// Control acknowledgments carry an id; market payloads do not.
	var ctrl struct {
		ID    *int64 `json:"id"`
		Error *struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		} `json:"error"`
	}
	if err := json.Unmarshal(message, &ctrl); err == nil && ctrl.ID != nil {
		var ackErr error
		if ctrl.Error != nil {
			ackErr = &interfaces.ExchangeError{Code: ctrl.Error.Code, Message: ctrl.Error.Msg}
		}
		m.handleAck(*ctrl.ID, ackErr)
		return
	}

	var header struct {
		Type   string `json:"e"`
		Symbol string `json:"s"`
	}
	_ = json.Unmarshal(message, &header)

	m.deliver(Event{Type: header.Type, Symbol: header.Symbol, Data: message})
}

func (m *Manager) handleAck(id int64, ackErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	streams, ok := m.pending[id]
	if !ok {
		// Unsubscribe ack, or an ack from a previous connection.
		return
	}
	delete(m.pending, id)

	next := SubActive
	if ackErr != nil {
		next = SubFailed
		m.logger.Error("subscription rejected",
			logging.Int64("id", id),
			logging.Error(ackErr),
		)
	}
	for _, key := range streams {
		if sub, tracked := m.subs[key]; tracked {
			sub.state = next
		}
	}

	if len(m.pending) == 0 && m.State() == Connected {
		m.setState(Active)
	}
}

// deliver hands an event to the consumer. The buffer is bounded: if the
// consumer stays away past StallTimeout the manager closes itself instead
// of accumulating events without limit. After shutdown it is a no-op.
func (m *Manager) deliver(ev Event) {
	select {
	case <-m.done:
		return
	default:
	}

	select {
	case m.events <- ev:
		return
	case <-m.done:
		return
	default:
	}

	timer := m.clock.Timer(m.cfg.StallTimeout)
	defer timer.Stop()

	select {
	case m.events <- ev:
	case <-m.done:
	case <-timer.C:
		m.logger.Error("event consumer stalled, closing stream",
			logging.Duration("stall_timeout", m.cfg.StallTimeout),
		)
		m.Close()
	}
}

func (m *Manager) handleReadFailure(conn *websocket.Conn, err error) {
	if m.isClosed() {
		return
	}

	m.setState(Degraded)
	m.logger.Warn("stream read failed", logging.Error(err))

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	closed := m.closed
	m.mu.Unlock()

	conn.Close()
	m.setState(Disconnected)

	if !closed {
		go m.reconnect()
	}
}

// reconnect re-establishes the connection with exponential backoff and
// resends the tracked subscription set. It gives up only when the manager
// is closed.
func (m *Manager) reconnect() {
	if err := m.dial(m.ctx, 0); err != nil {
		if m.isClosed() {
			return
		}
		m.logger.Error("stream reconnect failed", logging.Error(err))
	}
}

func (m *Manager) heartbeat(conn *websocket.Conn) {
	ticker := m.clock.Ticker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if m.currentConn() != conn {
				return
			}
			err := conn.WriteControl(websocket.PingMessage, nil,
				m.clock.Now().Add(5*time.Second))
			if err != nil {
				return
			}
		case <-m.done:
			return
		}
	}
}

func (m *Manager) currentConn() *websocket.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close shuts the manager down. The terminal state is Disconnected with no
// further reconnect attempts; the event channel is closed after the read
// loop drains.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	m.cancel()
	close(m.done)
	m.setState(Disconnected)

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed"),
			m.clock.Now().Add(time.Second))
		if err := conn.Close(); err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
			m.logger.Warn("closing stream connection", logging.Error(err))
		}
	}

	// The events channel closes only once every read loop, and any
	// delivery in flight inside one, has returned.
	go func() {
		m.wg.Wait()
		close(m.events)
	}()

	m.logger.Info("stream closed")
	return nil
}

// streamNames validates the inputs and builds the exchange stream
// identifiers "<symbol lowercase>@<channel>".
func streamNames(symbols []string, channel string) ([]string, error) {
	if channel == "" || strings.ContainsAny(channel, "@ \t\n") {
		return nil, fmt.Errorf("%w: %q", interfaces.ErrInvalidChannel, channel)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols given", interfaces.ErrInvalidSymbol)
	}

	streams := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		if sym == "" || strings.ContainsAny(sym, "@ \t\n") {
			return nil, fmt.Errorf("%w: %q", interfaces.ErrInvalidSymbol, sym)
		}
		streams = append(streams, strings.ToLower(sym)+"@"+channel)
	}
	return streams, nil
}
