package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/go-ports/ctxsync/internal/models"
)

const (
	// pongWait is how long the server waits for any frame from an observer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = pongWait * 9 / 10
	// maxMessageSize bounds one inbound push-channel message.
	maxMessageSize = 1 << 20
)

// observer is one push-channel connection.
type observer struct {
	id           string
	conn         *websocket.Conn
	send         chan []byte // closed by hub.remove
	writeTimeout time.Duration

	mu   sync.Mutex
	info models.ObserverInfo
}

func newObserver(id string, conn *websocket.Conn, buffer int, writeTimeout time.Duration) *observer {
	return &observer{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, buffer),
		writeTimeout: writeTimeout,
		info: models.ObserverInfo{
			ConnectionID: id,
			ConnectedAt:  time.Now().UTC(),
			State:        models.StateConnecting,
		},
	}
}

// Info returns a copy of the observer bookkeeping.
func (o *observer) Info() models.ObserverInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.info
}

func (o *observer) setState(s models.ObserverState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.info.State == models.StateDisconnected {
		return
	}
	o.info.State = s
}

func (o *observer) setIdentity(typ, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.info.Type = typ
	o.info.Name = name
}

// writePump drains the send queue to the connection and keeps it alive with
// pings. It owns all writes on conn. It returns when the queue is closed or a
// write fails.
func (o *observer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = o.conn.Close()
	}()
	first := true
	for {
		select {
		case msg, ok := <-o.send:
			_ = o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
			if !ok {
				_ = o.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := o.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
			if first {
				// The snapshot is always the first message queued.
				o.setState(models.StateActive)
				first = false
			}
		case <-ticker.C:
			_ = o.conn.SetWriteDeadline(time.Now().Add(o.writeTimeout))
			if err := o.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes inbound envelopes and passes them to handle until the
// connection fails.
func (o *observer) readPump(handle func(env models.Envelope)) error {
	o.conn.SetReadLimit(maxMessageSize)
	_ = o.conn.SetReadDeadline(time.Now().Add(pongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := o.conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = o.conn.SetReadDeadline(time.Now().Add(pongWait))
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			env = models.Envelope{}
		}
		handle(env)
	}
}
