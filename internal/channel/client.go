// Package channel maintains the push-channel connection of a session: it
// dials with a freshly issued token, dispatches inbound envelopes to keyed
// listeners and reconnects according to a Policy.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"inboxsync/internal/domain"
	"inboxsync/internal/event"
	"inboxsync/internal/security"
)

const (
	DefaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
	StatusFailed       Status = "failed"
)

// Listener receives every inbound envelope, on the connection's read
// goroutine and in delivery order.
type Listener func(event.Envelope)

// StatusListener is told about every status transition. err is the cause of
// the transition when there is one.
type StatusListener func(status Status, err error)

// HandshakeError is a dial that reached the server but was refused.
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake rejected with status %d: %v", e.Status, e.Err)
}

func (e *HandshakeError) Unwrap() []error {
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return []error{domain.ErrUnauthorized, e.Err}
	}
	return []error{e.Err}
}

type Options struct {
	Dialer       *websocket.Dialer
	Policy       Policy
	PingInterval time.Duration
	Logger       *slog.Logger
}

type named[T any] struct {
	key string
	fn  T
}

type Client struct {
	url    string
	tokens security.TokenSource
	dialer *websocket.Dialer
	policy Policy
	ping   time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	status    Status
	failures  int
	listeners []named[Listener]
	watchers  []named[StatusListener]
	running   bool
	stop      context.CancelFunc
	closed    bool

	writeMu sync.Mutex
	wake    chan struct{}
}

func NewClient(url string, tokens security.TokenSource, opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		url:    url,
		tokens: tokens,
		dialer: opts.Dialer,
		policy: opts.Policy.withDefaults(),
		ping:   opts.PingInterval,
		logger: opts.Logger.With("component", "channel"),
		status: StatusDisconnected,
		wake:   make(chan struct{}, 1),
	}
}

// Listen registers fn under key. Registering an existing key replaces the
// previous listener, so repeated registration never duplicates delivery.
func (c *Client) Listen(key string, fn Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = upsert(c.listeners, key, fn)
}

func (c *Client) Unlisten(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = drop(c.listeners, key)
}

// OnStatus registers a status listener under key, replacing any previous one.
func (c *Client) OnStatus(key string, fn StatusListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = upsert(c.watchers, key, fn)
}

func upsert[T any](list []named[T], key string, fn T) []named[T] {
	for i := range list {
		if list[i].key == key {
			list[i].fn = fn
			return list
		}
	}
	return append(list, named[T]{key: key, fn: fn})
}

func drop[T any](list []named[T], key string) []named[T] {
	for i := range list {
		if list[i].key == key {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Failures returns the number of consecutive failed connection attempts.
func (c *Client) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

func (c *Client) setStatus(s Status, cause error) {
	c.mu.Lock()
	if c.status == s && cause == nil {
		c.mu.Unlock()
		return
	}
	c.status = s
	watchers := make([]StatusListener, 0, len(c.watchers))
	for _, w := range c.watchers {
		watchers = append(watchers, w.fn)
	}
	c.mu.Unlock()

	for _, fn := range watchers {
		fn(s, cause)
	}
}

// Run connects and keeps the connection alive until ctx is cancelled or
// Close is called. Attempts are unbounded.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("channel: already running")
	}
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.stop = cancel
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		c.running = false
		c.stop = nil
		c.mu.Unlock()
		c.setStatus(StatusDisconnected, nil)
	}()

	for {
		c.drainWake()
		if c.Failures() < c.policy.FailureThreshold {
			c.setStatus(StatusConnecting, nil)
		}
		conn, err := c.dial(ctx)

		var cause error
		var failures int
		if err != nil {
			if ctx.Err() != nil {
				return c.exitErr(ctx)
			}
			c.mu.Lock()
			c.failures++
			failures = c.failures
			c.mu.Unlock()

			cause = err
			status := StatusError
			if failures >= c.policy.FailureThreshold {
				status = StatusFailed
			}
			c.logger.Warn("connect failed", "attempt", failures, "error", err)
			c.setStatus(status, err)
		} else {
			c.mu.Lock()
			c.failures = 0
			c.conn = conn
			c.mu.Unlock()
			c.drainWake()
			c.setStatus(StatusConnected, nil)
			c.logger.Info("connected", "url", c.url)

			cause = c.serve(ctx, conn)
			c.detach(conn)
			if ctx.Err() != nil {
				return c.exitErr(ctx)
			}
			c.logger.Info("connection lost", "error", cause)
			c.setStatus(StatusDisconnected, cause)
		}

		delay := c.policy.Delay(cause, failures)
		c.logger.Debug("reconnect scheduled", "delay", delay)
		if !c.sleep(ctx, delay) {
			return c.exitErr(ctx)
		}
	}
}

func (c *Client) exitErr(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return nil
	}
	return ctx.Err()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := *c.dialer
	dialer.Subprotocols = []string{"bearer", token}

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{Status: resp.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("dial %s: %w: %w", c.url, domain.ErrTransient, err)
	}
	return conn, nil
}

// serve reads envelopes until the connection fails.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	done := make(chan struct{})
	defer close(done)
	go c.keepalive(ctx, conn, done)

	pongWait := 2 * c.ping
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var env event.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("discarding malformed envelope", "error", err)
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) keepalive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.ping)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", "error", err)
				conn.Close()
				return
			}
		case <-ctx.Done():
			conn.Close()
			return
		case <-done:
			return
		}
	}
}

func (c *Client) dispatch(env event.Envelope) {
	c.mu.Lock()
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l.fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(env)
	}
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	case <-c.wake:
		return true
	}
}

func (c *Client) drainWake() {
	select {
	case <-c.wake:
	default:
	}
}

func (c *Client) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Emit writes env on the live connection.
func (c *Client) Emit(ctx context.Context, env event.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return domain.ErrNotConnected
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s: %w", env.Type, err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("emit %s: %w: %w", env.Type, domain.ErrNotConnected, err)
	}
	return nil
}

// Foreground tears down the current connection and reconnects immediately.
func (c *Client) Foreground() {
	c.signal()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Retry skips the pending reconnect delay. It does nothing while connected.
func (c *Client) Retry() {
	if c.Status() == StatusConnected {
		return
	}
	c.signal()
}

// Close removes every listener and disconnects. The client cannot be run
// again afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.listeners = nil
	stop := c.stop
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
	}
	if stop != nil {
		stop()
	}
	if conn != nil {
		conn.Close()
	}
}
