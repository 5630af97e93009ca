// Package asyncclient keeps a persistent push-channel connection to a
// ctxsync server while also issuing acknowledged request/response calls.
//
// Handlers registered with On run concurrently, one goroutine each; a handler
// that fails or panics is logged and does not affect the others or the
// receive loop. There is no automatic reconnection: after the channel closes
// the client reports EventDisconnected and callers must Connect again.
package asyncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-ports/ctxsync/internal/client"
	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

var (
	// ErrNotConnected is returned by calls made while no push channel is open.
	ErrNotConnected = errors.New("asyncclient: not connected")
	// ErrClosed is returned by calls still in flight when the push channel
	// closes.
	ErrClosed = errors.New("asyncclient: connection closed")
)

// EventType names a category of client event.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventSnapshot     EventType = "snapshot"
	EventUpdate       EventType = "update"
)

// Event is passed to handlers. Snapshot is set for EventSnapshot, Update for
// EventUpdate. Err is the cause of an EventDisconnected that the caller did
// not request, nil otherwise.
type Event struct {
	Type     EventType
	Snapshot map[string]value.Value
	Update   *models.UpdateEvent
	Err      error
}

// Handler reacts to one event.
type Handler func(ev Event) error

// Options configures a Client.
type Options struct {
	// Type and Name are sent in client_register after connecting.
	Type   string
	Name   string
	Logger *slog.Logger
}

// Client is an asynchronous ctxsync client.
type Client struct {
	rr   *client.Client
	opts Options
	log  *slog.Logger

	hmu      sync.RWMutex
	handlers map[EventType][]Handler
	running  sync.WaitGroup

	mu      sync.Mutex
	conn    *websocket.Conn
	life    context.Context // cancelled when the channel closes
	cancel  context.CancelFunc
	done    chan struct{}
	closing bool
	connID  string

	wmu sync.Mutex // serialises websocket writes

	mirrorMu sync.RWMutex
	mirror   map[string]value.Value
}

// New returns a disconnected Client. rr supplies the server address, the call
// timeout and the request/response path.
func New(rr *client.Client, opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		rr:       rr,
		opts:     opts,
		log:      log,
		handlers: make(map[EventType][]Handler),
		mirror:   make(map[string]value.Value),
	}
}

// On registers h for events of type t.
func (c *Client) On(t EventType, h Handler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[t] = append(c.handlers[t], h)
}

// Connected reports whether the push channel is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// ConnectionID returns the server-assigned ID once registration is
// acknowledged, or "".
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// Mirror returns a copy of the locally mirrored context.
func (c *Client) Mirror() map[string]value.Value {
	c.mirrorMu.RLock()
	defer c.mirrorMu.RUnlock()
	out := make(map[string]value.Value, len(c.mirror))
	for k, v := range c.mirror {
		out[k] = v
	}
	return out
}

// Wait blocks until every handler started so far has returned.
func (c *Client) Wait() { c.running.Wait() }

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Connect opens the push channel and registers the client. The server sends
// the context snapshot right after, delivered as EventSnapshot.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.rr.Timeout()}
	dctx, cancel := context.WithTimeout(ctx, c.rr.Timeout())
	defer cancel()
	conn, resp, err := dialer.DialContext(dctx, c.rr.PushURL(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("asyncclient.Connect: %w: %w", client.ErrTimeout, err)
		}
		return fmt.Errorf("asyncclient.Connect: %w: %w", client.ErrConnection, err)
	}

	reg, err := models.EncodeEvent(models.EventClientRegister, models.RegisterEvent{Type: c.opts.Type, Name: c.opts.Name})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("asyncclient.Connect: %w", err)
	}
	if err := c.write(conn, reg); err != nil {
		_ = conn.Close()
		return fmt.Errorf("asyncclient.Connect: %w: %w", client.ErrConnection, err)
	}

	c.conn = conn
	c.life, c.cancel = context.WithCancel(context.Background())
	c.done = make(chan struct{})
	c.closing = false
	c.connID = ""
	go c.receive(conn, c.done)

	c.log.Info("asyncclient: connected", "url", c.rr.PushURL(), "name", c.opts.Name)
	c.dispatch(Event{Type: EventConnected})
	return nil
}

// Disconnect closes the push channel and waits for the receive loop to exit.
// In-flight calls fail with ErrClosed. Disconnect on a closed client is a
// no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.cancel()
	c.mu.Unlock()

	c.wmu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.wmu.Unlock()
	err := conn.Close()
	<-done
	return err
}

// receive reads push-channel messages until the connection fails or is
// closed, then marks the client disconnected.
func (c *Client) receive(conn *websocket.Conn, done chan struct{}) {
	var readErr error
	defer func() {
		c.mu.Lock()
		requested := c.closing
		c.conn = nil
		c.cancel()
		c.mu.Unlock()

		ev := Event{Type: EventDisconnected}
		if !requested {
			ev.Err = readErr
			c.log.Warn("asyncclient: connection lost", "err", readErr)
		} else {
			c.log.Info("asyncclient: disconnected")
		}
		c.dispatch(ev)
		close(done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			return
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Warn("asyncclient: malformed message", "err", err)
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env models.Envelope) {
	switch env.Event {
	case models.EventContextSnapshot:
		var snap models.SnapshotEvent
		if err := json.Unmarshal(env.Data, &snap); err != nil {
			c.log.Warn("asyncclient: bad snapshot", "err", err)
			return
		}
		if snap.Context == nil {
			snap.Context = map[string]value.Value{}
		}
		c.mirrorMu.Lock()
		c.mirror = make(map[string]value.Value, len(snap.Context))
		for k, v := range snap.Context {
			c.mirror[k] = v
		}
		c.mirrorMu.Unlock()
		c.dispatch(Event{Type: EventSnapshot, Snapshot: snap.Context})
	case models.EventContextUpdated:
		var up models.UpdateEvent
		if err := json.Unmarshal(env.Data, &up); err != nil {
			c.log.Warn("asyncclient: bad update", "err", err)
			return
		}
		c.mirrorMu.Lock()
		if up.Deleted {
			delete(c.mirror, up.Key)
		} else {
			c.mirror[up.Key] = up.Value
		}
		c.mirrorMu.Unlock()
		c.dispatch(Event{Type: EventUpdate, Update: &up})
	case models.EventClientRegistered:
		var reg models.RegisteredEvent
		if err := json.Unmarshal(env.Data, &reg); err == nil {
			c.mu.Lock()
			c.connID = reg.ConnectionID
			c.mu.Unlock()
		}
	case models.EventError:
		var e models.ErrorEvent
		_ = json.Unmarshal(env.Data, &e)
		c.log.Warn("asyncclient: server rejected message", "err", e.Message)
	default:
		c.log.Debug("asyncclient: ignoring event", "event", env.Event)
	}
}

// dispatch starts every handler registered for ev.Type in its own goroutine.
func (c *Client) dispatch(ev Event) {
	c.hmu.RLock()
	hs := append([]Handler(nil), c.handlers[ev.Type]...)
	c.hmu.RUnlock()

	for _, h := range hs {
		c.running.Add(1)
		go func(h Handler) {
			defer c.running.Done()
			defer func() {
				if r := recover(); r != nil {
					c.log.Error("asyncclient: handler panicked", "event", string(ev.Type), "panic", r)
				}
			}()
			if err := h(ev); err != nil {
				c.log.Error("asyncclient: handler failed", "event", string(ev.Type), "err", err)
			}
		}(h)
	}
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

func (c *Client) write(conn *websocket.Conn, msg []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.rr.Timeout())); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// EmitSet submits a set over the push channel without waiting for an
// acknowledgment. Rejections are reported by the server as error events and
// only logged. Use Set to learn the outcome.
func (c *Client) EmitSet(key string, v value.Value, who string) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("asyncclient.EmitSet: %w", err)
	}
	msg, err := models.EncodeEvent(models.EventContextSet, models.SetEvent{Key: key, Value: raw, Who: who})
	if err != nil {
		return fmt.Errorf("asyncclient.EmitSet: %w", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := c.write(conn, msg); err != nil {
		return fmt.Errorf("asyncclient.EmitSet: %w: %w", client.ErrConnection, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Acknowledged calls
// ---------------------------------------------------------------------------

// bind derives a call context that is also cancelled when the push channel
// closes.
func (c *Client) bind(ctx context.Context) (context.Context, func(), error) {
	c.mu.Lock()
	life, open := c.life, c.conn != nil
	c.mu.Unlock()
	if !open {
		return nil, nil, ErrNotConnected
	}
	cctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(life, func() { cancel(ErrClosed) })
	return cctx, func() { stop(); cancel(nil) }, nil
}

func closedOr(cctx context.Context, err error) error {
	if err != nil && errors.Is(context.Cause(cctx), ErrClosed) {
		return ErrClosed
	}
	return err
}

// Get fetches key over the request/response path.
func (c *Client) Get(ctx context.Context, key string) (v value.Value, found bool, err error) {
	cctx, release, err := c.bind(ctx)
	if err != nil {
		return value.Value{}, false, err
	}
	defer release()
	v, found, err = c.rr.Get(cctx, key)
	return v, found, closedOr(cctx, err)
}

// Set stores v under key and waits for the server acknowledgment.
func (c *Client) Set(ctx context.Context, key string, v value.Value, who string) (*models.SetResponse, error) {
	cctx, release, err := c.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	resp, err := c.rr.Set(cctx, key, v, who)
	return resp, closedOr(cctx, err)
}

// Dump asks the server to write a dump artifact.
func (c *Client) Dump(ctx context.Context, req models.DumpRequest) (*models.DumpResponse, error) {
	cctx, release, err := c.bind(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	resp, err := c.rr.Dump(cctx, req)
	return resp, closedOr(cctx, err)
}
