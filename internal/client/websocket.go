// ABOUTME: WebSocket channel for GazeLink Protocol communication
// ABOUTME: Handles connection, correlated requests, event routing, and reconnection
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GazeLink-Protocol/gazelink-go/internal/protocol"
	"github.com/gorilla/websocket"
)

// Lifecycle event names deliverable through On. EventReconnected is distinct
// from EventConnected so dependents can re-run setup that only makes sense
// after a prior connection existed.
const (
	EventConnected    = "connected"
	EventReconnected  = "reconnected"
	EventDisconnected = "disconnected"
)

// Config holds channel configuration.
type Config struct {
	ServerAddr        string
	Path              string        // WebSocket path, default "/gazelink"
	ClientID          string        // sent as the client query parameter
	ConnectTimeout    time.Duration // default 5s
	ReconnectAttempts int           // default 5
	ReconnectDelay    time.Duration // base backoff delay, default 1s
}

func (c *Config) applyDefaults() {
	if c.Path == "" {
		c.Path = "/gazelink"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReconnectAttempts == 0 {
		c.ReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = time.Second
	}
}

// Status is a snapshot of the connection state. The channel is the only
// mutator; consumers always receive a copy.
type Status struct {
	Connected   bool
	Streaming   bool
	LastError   string
	ConnectedAt time.Time
}

// Handler receives inbound frames for a subscribed event name. Handlers are
// invoked one at a time in arrival order.
type Handler func(*protocol.Envelope)

// pendingRequest tracks one outstanding correlated request. It is resolved
// exactly once, by the matching response or by timeout deregistration.
type pendingRequest struct {
	id        string
	createdAt time.Time
	ch        chan *protocol.Envelope // buffered, capacity 1
}

// Channel owns a persistent duplex connection to a GazeLink server.
type Channel struct {
	config Config

	mu       sync.RWMutex
	conn     *websocket.Conn
	status   Status
	handlers map[string]Handler
	pending  map[string]*pendingRequest

	// Reconnection state, guarded by mu. A single timer is outstanding at
	// a time; scheduling a new attempt stops the previous one.
	reconnectTimer *time.Timer
	attempt        int
	manualClose    bool

	nextID  atomic.Uint64
	writeMu sync.Mutex
}

// NewChannel creates a channel. Connect must be called before use.
func NewChannel(config Config) *Channel {
	config.applyDefaults()
	return &Channel{
		config:   config,
		handlers: make(map[string]Handler),
		pending:  make(map[string]*pendingRequest),
	}
}

// Connect opens the channel. It resolves once the WebSocket handshake
// completes and fails with ErrConnectTimeout if no open signal arrives
// within the configured deadline. The deadline is cancelled on success.
func (c *Channel) Connect() error {
	c.mu.Lock()
	if c.status.Connected {
		c.mu.Unlock()
		return nil
	}
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.attempt = 0
	c.manualClose = false
	c.mu.Unlock()

	return c.dial(false)
}

// dial performs one connection attempt. isReconnect selects which lifecycle
// event fires on success.
func (c *Channel) dial(isReconnect bool) error {
	u := url.URL{Scheme: "ws", Host: c.config.ServerAddr, Path: c.config.Path}
	if c.config.ClientID != "" {
		u.RawQuery = url.Values{"client": {c.config.ClientID}}.Encode()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: no open signal within %v", ErrConnectTimeout, c.config.ConnectTimeout)
		} else {
			err = fmt.Errorf("%w: %v", ErrConnect, err)
		}
		c.mu.Lock()
		c.status.LastError = err.Error()
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.attempt = 0
	c.status = Status{Connected: true, ConnectedAt: time.Now()}
	c.mu.Unlock()

	go c.readLoop(conn)

	if isReconnect {
		log.Printf("Channel: reconnected to %s", c.config.ServerAddr)
		c.emit(EventReconnected)
	} else {
		log.Printf("Channel: connected to %s", c.config.ServerAddr)
		c.emit(EventConnected)
	}

	return nil
}

// Disconnect cancels any pending reconnection, closes the channel, and
// resets the status. It is idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.status = Status{}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
		log.Printf("Channel: disconnected")
	}
}

// Send transmits a message without waiting for a response. Fails with
// ErrNotConnected while the channel is closed.
func (c *Channel) Send(msg protocol.Outbound) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.status.Connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		return fmt.Errorf("%w: cannot send %s", ErrNotConnected, msg.MessageType())
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.MessageType(), err)
	}
	return nil
}

// SendAndWait stamps msg with a fresh correlation id, transmits it, and
// waits for the matching response. Exactly one of response or timeout wins;
// on timeout the pending request is deregistered so a late response is
// silently dropped. Concurrent calls may complete out of submission order
// if the server replies out of order.
func (c *Channel) SendAndWait(ctx context.Context, msg protocol.Outbound, timeout time.Duration) (*protocol.Envelope, error) {
	id := fmt.Sprintf("req-%d", c.nextID.Add(1))
	msg.SetRequestID(id)

	p := &pendingRequest{
		id:        id,
		createdAt: time.Now(),
		ch:        make(chan *protocol.Envelope, 1),
	}

	c.mu.Lock()
	if !c.status.Connected {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot send %s", ErrNotConnected, msg.MessageType())
	}
	c.pending[id] = p
	c.mu.Unlock()

	if err := c.Send(msg); err != nil {
		c.dropPending(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-p.ch:
		return env, nil
	case <-timer.C:
		c.dropPending(id)
		return nil, fmt.Errorf("%w: %s after %v", ErrRequestTimeout, msg.MessageType(), timeout)
	case <-ctx.Done():
		c.dropPending(id)
		return nil, ctx.Err()
	}
}

// dropPending deregisters an outstanding request, if still registered.
func (c *Channel) dropPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// PendingRequests reports the number of outstanding correlated requests.
func (c *Channel) PendingRequests() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending)
}

// On subscribes a handler for an event name. Each event name owns its own
// handler slot; registering a second handler for the same name replaces the
// first, and never touches handlers for other names.
func (c *Channel) On(event string, handler Handler) {
	c.mu.Lock()
	c.handlers[event] = handler
	c.mu.Unlock()
}

// Off removes the handler for an event name.
func (c *Channel) Off(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

// SetStreaming records whether the server has confirmed sample streaming.
func (c *Channel) SetStreaming(streaming bool) {
	c.mu.Lock()
	c.status.Streaming = streaming
	c.mu.Unlock()
}

// Status returns a snapshot of the connection state.
func (c *Channel) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// readLoop reads frames until the connection dies, dispatching each in
// arrival order.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleConnLost(conn, err)
			return
		}
		c.dispatch(data)
	}
}

// dispatch routes one inbound frame: correlated responses resolve their
// pending request, everything else goes to the handler for its type. A
// response whose request has already timed out is dropped here.
func (c *Channel) dispatch(data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		log.Printf("Channel: dropping frame: %v", err)
		return
	}

	if env.RequestID != "" {
		c.mu.Lock()
		p, ok := c.pending[env.RequestID]
		if ok {
			delete(c.pending, env.RequestID)
		}
		c.mu.Unlock()

		if ok {
			p.ch <- env
		} else {
			log.Printf("Channel: dropping late response %s (%s)", env.RequestID, env.Type)
		}
		return
	}

	handler := c.handlerFor(env.Type)
	if handler == nil {
		log.Printf("Channel: no handler for %s", env.Type)
		return
	}
	handler(env)
}

func (c *Channel) handlerFor(event string) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[event]
}

// emit delivers a synthesized lifecycle frame to the subscribed handler.
func (c *Channel) emit(event string) {
	if handler := c.handlerFor(event); handler != nil {
		handler(&protocol.Envelope{Type: event})
	}
}

// handleConnLost reacts to an unexpected read failure. A stale connection
// (already replaced or deliberately closed) is ignored.
func (c *Channel) handleConnLost(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.status.Connected = false
	c.status.Streaming = false
	c.status.LastError = err.Error()
	c.mu.Unlock()

	conn.Close()
	log.Printf("Channel: connection lost: %v", err)
	c.emit(EventDisconnected)
	c.scheduleReconnect()
}

// scheduleReconnect arms the single reconnect timer with the next backoff
// delay, or records exhaustion once the attempt budget is spent.
func (c *Channel) scheduleReconnect() {
	c.mu.Lock()
	if c.manualClose {
		c.mu.Unlock()
		return
	}
	if c.attempt >= c.config.ReconnectAttempts {
		c.status.LastError = ErrMaxReconnectAttempts.Error()
		c.mu.Unlock()
		log.Printf("Channel: giving up after %d reconnect attempts", c.config.ReconnectAttempts)
		return
	}
	c.attempt++
	delay := backoffDelay(c.attempt, c.config.ReconnectDelay)
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
	}
	c.reconnectTimer = time.AfterFunc(delay, c.reconnectNow)
	attempt := c.attempt
	c.mu.Unlock()

	log.Printf("Channel: reconnect attempt %d in %v", attempt, delay)
}

// reconnectNow runs one reconnect attempt from the backoff timer. Failures
// are expected transient conditions: they are logged and rescheduled, not
// surfaced to callers.
func (c *Channel) reconnectNow() {
	c.mu.RLock()
	manual := c.manualClose
	c.mu.RUnlock()
	if manual {
		return
	}

	if err := c.dial(true); err != nil {
		log.Printf("Channel: reconnect failed: %v", err)
		c.scheduleReconnect()
	}
}

// backoffDelay returns the delay before the given attempt (1-based). Delays
// grow linearly with the attempt number.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	return time.Duration(attempt) * base
}
