package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go-chat-live/internal/realtime"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("not connected")

// AuthError is the server refusing the handshake. It is never retried.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return e.Message }

// Handler processes the data of one event. Errors and panics are logged and
// do not affect other handlers.
type Handler func(data json.RawMessage) error

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 70 * time.Second // server pings every 54s
	writeTimeout     = 10 * time.Second
)

type ConnOption func(*Conn)

func WithReconnectDelay(initial, max time.Duration) ConnOption {
	return func(c *Conn) {
		c.reconnectDelay = initial
		c.reconnectMaxDelay = max
	}
}

func WithDialer(d *websocket.Dialer) ConnOption {
	return func(c *Conn) { c.dialer = d }
}

// Conn is an event connection that reconnects on its own until closed.
type Conn struct {
	url    string
	token  string
	dialer *websocket.Dialer

	reconnectDelay    time.Duration
	reconnectMaxDelay time.Duration

	handlerMu   sync.RWMutex
	handlers    map[string][]Handler
	onReconnect []func()

	wsMu    sync.Mutex
	ws      *websocket.Conn
	id      string
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func newConn(url, token string, opts ...ConnOption) *Conn {
	c := &Conn{
		url:               url,
		token:             token,
		dialer:            websocket.DefaultDialer,
		reconnectDelay:    500 * time.Millisecond,
		reconnectMaxDelay: 30 * time.Second,
		handlers:          make(map[string][]Handler),
		done:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects and waits for the server to confirm the session. Register
// handlers with On before calling it, or events arriving early are missed.
func Dial(ctx context.Context, url, token string, opts ...ConnOption) (*Conn, error) {
	c := newConn(url, token, opts...)
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Start dials the first session and keeps the connection alive in the
// background until Close.
func (c *Conn) Start(ctx context.Context) error {
	s, err := c.dialOnce(ctx)
	if err != nil {
		return err
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.setSession(s)
	go c.run(s)
	return nil
}

// On registers h for event. Several handlers per event run in order.
func (c *Conn) On(event string, h Handler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// OnReconnect registers fn to run after every successful reconnect.
func (c *Conn) OnReconnect(fn func()) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.onReconnect = append(c.onReconnect, fn)
}

func (c *Conn) Emit(event string, payload any) error {
	frame, err := realtime.EncodeFrame(event, payload)
	if err != nil {
		return err
	}

	c.wsMu.Lock()
	ws := c.ws
	c.wsMu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, frame)
}

// Close stops reconnecting and closes the socket.
func (c *Conn) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()

	c.wsMu.Lock()
	ws := c.ws
	c.wsMu.Unlock()
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		ws.Close()
	}
	<-c.done
	return nil
}

// Done is closed once the connection stopped for good. Err tells why.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// dropSocket closes the socket without stopping the reconnect loop.
func (c *Conn) dropSocket() {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws != nil {
		c.ws.Close()
	}
}

// ID is the server-assigned id of the current connection. It changes on
// every reconnect.
func (c *Conn) ID() string {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.id
}

func (c *Conn) setSession(s dialResult) {
	c.wsMu.Lock()
	c.ws = s.ws
	c.id = s.id
	c.wsMu.Unlock()
}

type dialResult struct {
	ws      *websocket.Conn
	id      string
	pending [][]byte
}

// dialOnce connects and reads until the connected frame. Frames batched
// behind it are returned so they are not lost.
func (c *Conn) dialOnce(ctx context.Context) (dialResult, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()
	ws, _, err := c.dialer.DialContext(dialCtx, c.url, header)
	if err != nil {
		return dialResult{}, fmt.Errorf("dial %s: %w", c.url, err)
	}

	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return dialResult{}, fmt.Errorf("waiting for handshake: %w", err)
	}
	parts := bytes.Split(data, []byte{'\n'})

	var first realtime.Frame
	if err := json.Unmarshal(parts[0], &first); err != nil {
		ws.Close()
		return dialResult{}, fmt.Errorf("decode handshake frame: %w", err)
	}
	switch first.Event {
	case realtime.EventConnected:
		var p realtime.ConnectedPayload
		_ = json.Unmarshal(first.Data, &p)
		return dialResult{ws: ws, id: p.ConnectionID, pending: parts[1:]}, nil
	case realtime.EventSocketError:
		ws.Close()
		var msg string
		_ = json.Unmarshal(first.Data, &msg)
		return dialResult{}, &AuthError{Message: msg}
	default:
		ws.Close()
		return dialResult{}, fmt.Errorf("unexpected handshake event %q", first.Event)
	}
}

func (c *Conn) run(s dialResult) {
	defer close(c.done)

	for {
		err := c.readLoop(s.ws, s.pending)
		c.setSession(dialResult{})
		if c.ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Msg("event connection lost, reconnecting")
		c.dispatch(realtime.Frame{Event: realtime.EventDisconnect})

		s, err = c.reconnect()
		if err != nil {
			if c.ctx.Err() == nil {
				log.Error().Err(err).Msg("event connection gave up")
				c.err = err
			}
			return
		}
		c.setSession(s)
		if c.ctx.Err() != nil {
			s.ws.Close()
			return
		}
		log.Info().Str("conn_id", s.id).Msg("event connection restored")

		c.handlerMu.RLock()
		hooks := append([]func(){}, c.onReconnect...)
		c.handlerMu.RUnlock()
		for _, fn := range hooks {
			c.safeCall("reconnect", func() error { fn(); return nil })
		}
	}
}

func (c *Conn) reconnect() (dialResult, error) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = c.reconnectDelay
	retry.MaxInterval = c.reconnectMaxDelay
	retry.Reset()

	return backoff.Retry(c.ctx, func() (dialResult, error) {
		s, err := c.dialOnce(c.ctx)
		if err != nil {
			var authErr *AuthError
			if errors.As(err, &authErr) {
				return dialResult{}, backoff.Permanent(err)
			}
			return dialResult{}, err
		}
		return s, nil
	},
		backoff.WithBackOff(retry),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Dur("next_retry", next).Msg("retrying event connection")
		}),
	)
}

func (c *Conn) readLoop(ws *websocket.Conn, pending [][]byte) error {
	defer ws.Close()

	for _, raw := range pending {
		c.handleRaw(raw)
	}

	ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPingHandler(func(appData string) error {
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		ws.SetReadDeadline(time.Now().Add(readTimeout))
		for _, raw := range bytes.Split(data, []byte{'\n'}) {
			c.handleRaw(raw)
		}
	}
}

func (c *Conn) handleRaw(raw []byte) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return
	}
	var f realtime.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		log.Warn().Err(err).Msg("dropping malformed frame")
		return
	}
	c.dispatch(f)
}

func (c *Conn) dispatch(f realtime.Frame) {
	c.handlerMu.RLock()
	handlers := append([]Handler(nil), c.handlers[f.Event]...)
	c.handlerMu.RUnlock()

	if len(handlers) == 0 {
		log.Debug().Str("event", f.Event).Msg("no handler for event")
		return
	}
	for _, h := range handlers {
		c.safeCall(f.Event, func() error { return h(f.Data) })
	}
}

func (c *Conn) safeCall(event string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("event", event).Msg("event handler panicked")
		}
	}()
	if err := fn(); err != nil {
		log.Warn().Err(err).Str("event", event).Msg("event handler failed")
	}
}
