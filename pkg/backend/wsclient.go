package backend

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"tradedash/internal/dashboard/memorystore"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// WSOptions configures the streaming connection and its reconnect policy.
type WSOptions struct {
	URL                  string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	// BackoffFactor multiplies the delay per attempt; 1 keeps it fixed.
	BackoffFactor     float64
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	Dialer            *websocket.Dialer
}

// DefaultWSOptions returns the dashboard defaults for url.
func DefaultWSOptions(url string) WSOptions {
	return WSOptions{
		URL:                  url,
		AutoReconnect:        true,
		MaxReconnectAttempts: 5,
		ReconnectDelay:       3 * time.Second,
		BackoffFactor:        1,
		PingInterval:         30 * time.Second,
	}
}

// WSClient owns one logical connection to the streaming endpoint.
//
// Frames are delivered to the message handler in arrival order from a single reader goroutine.
// A close with a code other than 1000 schedules a reconnect while attempts remain; after that
// the client stays disconnected with Terminal set until Connect is called again.
type WSClient struct {
	opts    WSOptions
	dialer  *websocket.Dialer
	logger  *zap.Logger
	handler func([]byte)
	onState func(memorystore.ConnectionState)
	onError func(error)

	mu             sync.Mutex
	conn           *websocket.Conn
	state          memorystore.ConnectionState
	gen            uint64
	manualClose    bool
	reconnectTimer *time.Timer
	backoff        *backoff.Backoff
	subscriptions  map[string]struct{}
	stopPing       chan struct{}

	writeMu  sync.Mutex
	notifyMu sync.Mutex
	wg       sync.WaitGroup
}

// NewWSClient creates a disconnected client.
func NewWSClient(opts WSOptions, logger *zap.Logger) *WSClient {
	if opts.BackoffFactor <= 0 {
		opts.BackoffFactor = 1
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = opts.ReconnectDelay
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 0
	}

	dialer := opts.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		dialer = &d
	}

	return &WSClient{
		opts:   opts,
		dialer: dialer,
		logger: logger.With(zap.String("component", "wsclient")),
		state:  memorystore.ConnectionState{Status: memorystore.StatusDisconnected},
		backoff: &backoff.Backoff{
			Min:    opts.ReconnectDelay,
			Max:    opts.MaxReconnectDelay,
			Factor: opts.BackoffFactor,
		},
		subscriptions: make(map[string]struct{}),
	}
}

// SetMessageHandler sets the function to handle incoming messages. Call before Connect.
func (c *WSClient) SetMessageHandler(h func([]byte)) {
	c.handler = h
}

// OnStateChange registers the connection state observer. Call before Connect.
func (c *WSClient) OnStateChange(fn func(memorystore.ConnectionState)) {
	c.onState = fn
}

// OnError registers the error observer (dial/read errors and ErrReconnectExhausted). Call before Connect.
func (c *WSClient) OnError(fn func(error)) {
	c.onError = fn
}

// State returns the current connection state.
func (c *WSClient) State() memorystore.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscriptions returns the tracked symbol subscriptions, sorted.
func (c *WSClient) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptionsLocked()
}

func (c *WSClient) subscriptionsLocked() []string {
	out := make([]string, 0, len(c.subscriptions))
	for s := range c.subscriptions {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Connect opens the connection. It is a no-op while connected or connecting.
// A failed dial is handled like an abnormal close and may schedule a reconnect.
func (c *WSClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state.Status {
	case memorystore.StatusConnected, memorystore.StatusConnecting:
		c.mu.Unlock()
		return nil
	}
	c.manualClose = false
	c.cancelReconnectLocked()
	if c.state.Terminal {
		c.state.Terminal = false
		c.state.Attempts = 0
		c.backoff.Reset()
	}
	c.state.Status = memorystore.StatusConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.notifyState()
	return c.dial(ctx, gen)
}

func (c *WSClient) dial(ctx context.Context, gen uint64) error {
	conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)

	c.mu.Lock()
	if gen != c.gen || c.manualClose {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn("Failed to connect to WebSocket", zap.String("url", c.opts.URL), zap.Error(err))
		c.reportError(err)
		c.handleClose(gen, websocket.CloseAbnormalClosure, err)
		return err
	}

	c.conn = conn
	c.state.Status = memorystore.StatusConnected
	c.state.Attempts = 0
	c.state.Terminal = false
	c.state.LastError = ""
	c.state.ConnectedAt = time.Now()
	c.backoff.Reset()
	subs := c.subscriptionsLocked()
	stop := make(chan struct{})
	c.stopPing = stop
	c.wg.Add(2)
	c.mu.Unlock()

	c.logger.Info("WebSocket connected", zap.String("url", c.opts.URL))
	c.notifyState()

	// Re-subscribe to previously subscribed symbols
	for _, s := range subs {
		if err := c.writeJSON(conn, OutboundMessage{Type: MsgSubscribe, Symbol: s}); err != nil {
			c.logger.Warn("Failed to resubscribe", zap.String("symbol", s), zap.Error(err))
		}
	}

	go c.readLoop(conn, gen)
	go c.pingLoop(conn, stop)
	return nil
}

func (c *WSClient) readLoop(conn *websocket.Conn, gen uint64) {
	defer c.wg.Done()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			}
			c.handleClose(gen, code, err)
			return
		}

		if c.handler != nil {
			c.handler(msg)
		}
	}
}

func (c *WSClient) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	defer c.wg.Done()
	if c.opts.PingInterval <= 0 {
		<-stop
		return
	}

	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.writeJSON(conn, OutboundMessage{Type: MsgPing}); err != nil {
				c.logger.Debug("Ping failed", zap.Error(err))
			}
		}
	}
}

// handleClose applies the reconnect policy for the connection of generation gen.
func (c *WSClient) handleClose(gen uint64, code int, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	c.state.Status = memorystore.StatusDisconnected
	c.state.DisconnectedAt = time.Now()
	if cause != nil && code != websocket.CloseNormalClosure {
		c.state.LastError = cause.Error()
	}

	var terminal bool
	switch {
	case c.manualClose, code == websocket.CloseNormalClosure, !c.opts.AutoReconnect:
	// Attempts counts reconnects; the initial dial is not one of them.
	case c.state.Attempts < c.opts.MaxReconnectAttempts:
		c.state.Attempts++
		c.state.Status = memorystore.StatusReconnecting
		delay := c.backoff.Duration()
		c.gen++
		next := c.gen
		c.reconnectTimer = time.AfterFunc(delay, func() { c.reconnect(next) })
		c.logger.Info("Scheduling reconnect",
			zap.Int("attempt", c.state.Attempts),
			zap.Int("code", code),
			zap.Duration("delay", delay))
	default:
		c.state.Terminal = true
		c.state.LastError = ErrReconnectExhausted.Error()
		terminal = true
	}
	c.mu.Unlock()

	c.notifyState()
	if terminal {
		c.logger.Error("WebSocket reconnect attempts exhausted", zap.Int("max", c.opts.MaxReconnectAttempts))
		c.reportError(ErrReconnectExhausted)
	}
}

func (c *WSClient) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.manualClose || c.state.Status != memorystore.StatusReconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.state.Status = memorystore.StatusConnecting
	c.mu.Unlock()

	c.notifyState()
	_ = c.dial(context.Background(), gen)
}

func (c *WSClient) cancelReconnectLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

// Disconnect suppresses reconnection, cancels any pending reconnect and closes with code 1000.
// It waits for the reader and keep-alive goroutines, so it must not be called from the message handler.
func (c *WSClient) Disconnect() {
	c.mu.Lock()
	c.manualClose = true
	c.cancelReconnectLocked()
	c.gen++
	conn := c.conn
	c.conn = nil
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	wasDisconnected := c.state.Status == memorystore.StatusDisconnected && conn == nil
	c.state.Status = memorystore.StatusDisconnected
	if !wasDisconnected {
		c.state.DisconnectedAt = time.Now()
	}
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	c.wg.Wait()

	if !wasDisconnected {
		c.logger.Info("WebSocket disconnected", zap.String("url", c.opts.URL))
		c.notifyState()
	}
}

// Send writes payload as JSON. It is dropped with ErrNotConnected when the socket is not open.
func (c *WSClient) Send(payload any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state.Status == memorystore.StatusConnected
	c.mu.Unlock()

	if conn == nil || !open {
		c.logger.Debug("Dropping message, socket not open")
		return ErrNotConnected
	}
	return c.writeJSON(conn, payload)
}

// Subscribe tracks symbol and sends a subscribe frame when connected.
func (c *WSClient) Subscribe(symbol string) error {
	c.mu.Lock()
	c.subscriptions[symbol] = struct{}{}
	c.mu.Unlock()

	if err := c.Send(OutboundMessage{Type: MsgSubscribe, Symbol: symbol}); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

// Unsubscribe stops tracking symbol and sends an unsubscribe frame when connected.
func (c *WSClient) Unsubscribe(symbol string) error {
	c.mu.Lock()
	delete(c.subscriptions, symbol)
	c.mu.Unlock()

	if err := c.Send(OutboundMessage{Type: MsgUnsubscribe, Symbol: symbol}); err != nil && !errors.Is(err, ErrNotConnected) {
		return err
	}
	return nil
}

func (c *WSClient) writeJSON(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}

// notifyState delivers the current state; deliveries are serialized so observers see states in order.
func (c *WSClient) notifyState() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	st := c.state
	c.mu.Unlock()

	if c.onState != nil {
		c.onState(st)
	}
}

func (c *WSClient) reportError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}
