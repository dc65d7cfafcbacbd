package proxichat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/proxichat/proxichat-sdk-go/proxichat/internal"
	"github.com/proxichat/proxichat-sdk-go/proxichat/rest"

	"github.com/coder/websocket"
)

// transport is the duplex frame channel beneath a Conn. The real
// implementation wraps a websocket; tests substitute an in-memory one.
type transport interface {
	Read(ctx context.Context, v any) error
	Write(ctx context.Context, v any) error
	Close(code websocket.StatusCode, reason string) error
}

// Conn owns the single persistent event channel to the server. One
// instance is constructed at process start and shared by every
// coordinator; coordinators only attach and detach handlers, never
// connect or disconnect.
//
// Connect and Disconnect are idempotent. Emit is fire-and-forget:
// correlation with a server response is the caller's responsibility via
// subsequent events. The transport's reconnection policy is an external
// concern; Conn only surfaces state changes.
type Conn struct {
	cfg    Config
	logger Logger
	dial   func(ctx context.Context) (transport, error)

	// REST accesses the recent-chats listing endpoint. Nil unless
	// Config.RESTBaseURL is set.
	REST *rest.Client

	mu        sync.Mutex
	state     ConnState
	gen       uint64
	id        string
	tr        transport
	cancel    context.CancelFunc
	writeCh   chan Frame
	handlers  map[string]func(json.RawMessage)
	onState   func(StateEvent)
	searching bool
}

// NewConn constructs a connection with the provided config. Use
// DefaultConfig() as a starting point.
func NewConn(cfg Config) *Conn {
	if cfg.EmitBuffer <= 0 {
		cfg.EmitBuffer = DefaultConfig().EmitBuffer
	}
	c := &Conn{
		cfg:      cfg,
		logger:   noopLogger{},
		handlers: make(map[string]func(json.RawMessage)),
	}
	c.dial = func(ctx context.Context) (transport, error) {
		return internal.Dial(ctx, c.cfg.URL, c.cfg.HandshakeTimeout, c.cfg.ReadTimeout, c.cfg.WriteTimeout)
	}
	if cfg.RESTBaseURL != "" {
		c.REST = rest.NewClient(cfg.RESTBaseURL)
	}
	return c
}

// SetLogger overrides the logger (optional).
func (c *Conn) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// OnStateChanged registers a callback for connection state changes.
func (c *Conn) OnStateChanged(fn func(StateEvent)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID returns the server-assigned connection identifier, empty until the
// server's connect frame arrives.
func (c *Conn) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Connect opens the channel if not already open. Calling it while
// connecting or connected is a no-op.
func (c *Conn) Connect(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	cb := c.onState
	c.mu.Unlock()
	fireState(cb, StateEvent{OldState: StateDisconnected, NewState: StateConnecting})

	tr, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		superseded := c.gen != gen || c.state != StateConnecting
		if !superseded {
			c.state = StateDisconnected
		}
		cb = c.onState
		c.mu.Unlock()
		if !superseded {
			fireState(cb, StateEvent{OldState: StateConnecting, NewState: StateDisconnected, Err: err})
		}
		return WrapError(ErrorConnectionLost, "dial "+c.cfg.URL, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	writeCh := make(chan Frame, c.cfg.EmitBuffer)

	c.mu.Lock()
	// A Disconnect issued while the dial was in flight wins: the late
	// transport is closed, not adopted.
	if c.gen != gen || c.state != StateConnecting {
		c.mu.Unlock()
		cancel()
		_ = tr.Close(websocket.StatusNormalClosure, "client disconnect")
		return nil
	}
	c.tr = tr
	c.cancel = cancel
	c.writeCh = writeCh
	c.id = ""
	c.state = StateConnected
	cb = c.onState
	c.mu.Unlock()
	fireState(cb, StateEvent{OldState: StateConnecting, NewState: StateConnected})

	go c.readLoop(runCtx, tr)
	go c.writeLoop(runCtx, tr, writeCh)
	return nil
}

// Disconnect closes the channel. Safe to call multiple times.
func (c *Conn) Disconnect() error {
	tr, old := c.teardown(nil)
	if tr == nil {
		return nil
	}
	c.logger.Info("disconnected", map[string]any{"prev_state": old.String()})
	return tr.Close(websocket.StatusNormalClosure, "client disconnect")
}

// On attaches the handler for a named server-pushed event, replacing
// any previous handler for that event. Handlers run on the read loop
// goroutine in receipt order.
func (c *Conn) On(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	c.handlers[event] = fn
	c.mu.Unlock()
}

// Off detaches the handler for the named event.
func (c *Conn) Off(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

// Emit queues a frame for sending, fire-and-forget. It fails fast when
// the channel is not connected and blocks only when the outgoing queue
// is full.
func (c *Conn) Emit(ctx context.Context, event string, payload any) error {
	fr, err := NewFrame(event, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	connected := c.state == StateConnected
	ch := c.writeCh
	c.mu.Unlock()
	if !connected || ch == nil {
		return NewError(ErrorNotConnected, "emit "+event)
	}

	select {
	case ch <- fr:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// teardown transitions to disconnected and returns the transport to
// close, nil when already disconnected. The synthetic disconnect frame
// is dispatched exactly once per open channel.
func (c *Conn) teardown(cause error) (transport, ConnState) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil, StateDisconnected
	}
	old := c.state
	c.state = StateDisconnected
	tr := c.tr
	c.tr = nil
	cancel := c.cancel
	c.cancel = nil
	c.writeCh = nil
	cb := c.onState
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	fireState(cb, StateEvent{OldState: old, NewState: StateDisconnected, Err: cause})
	c.dispatch(Frame{Event: EventDisconnect})
	return tr, old
}

// claimSearch enforces the one-outstanding-matching-attempt rule. It
// returns false while another attempt holds the connection.
func (c *Conn) claimSearch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.searching {
		return false
	}
	c.searching = true
	return true
}

func (c *Conn) releaseSearch() {
	c.mu.Lock()
	c.searching = false
	c.mu.Unlock()
}

// lost handles an unexpected channel drop observed by a loop.
func (c *Conn) lost(err error) {
	tr, _ := c.teardown(err)
	if tr == nil {
		return
	}
	c.logger.Warn("connection lost", map[string]any{"error": err.Error()})
	_ = tr.Close(websocket.StatusInternalError, "connection lost")
}

func (c *Conn) readLoop(ctx context.Context, tr transport) {
	for {
		var fr Frame
		if err := tr.Read(ctx, &fr); err != nil {
			if !isExpectedDisconnect(ctx, err) {
				c.lost(err)
			}
			return
		}
		if fr.Event == EventConnect {
			var info ConnectInfo
			if err := UnmarshalData(fr.Data, &info); err == nil && info.ConnectionID != "" {
				c.mu.Lock()
				c.id = info.ConnectionID
				c.mu.Unlock()
			}
		}
		c.dispatch(fr)
	}
}

func (c *Conn) writeLoop(ctx context.Context, tr transport, writeCh <-chan Frame) {
	for {
		select {
		case fr := <-writeCh:
			if err := tr.Write(ctx, fr); err != nil {
				if !isExpectedDisconnect(ctx, err) {
					c.lost(err)
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) dispatch(fr Frame) {
	c.mu.Lock()
	fn := c.handlers[fr.Event]
	c.mu.Unlock()
	if fn == nil {
		c.logger.Debug("unhandled event", map[string]any{"event": fr.Event})
		return
	}
	fn(fr.Data)
}

func fireState(fn func(StateEvent), ev StateEvent) {
	if fn != nil {
		fn(ev)
	}
}

// isExpectedDisconnect distinguishes a client-initiated teardown from a
// genuine channel drop. Even a polite server closure counts as a drop
// here: the session protocol has no server-side goodbye.
func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled)
}
