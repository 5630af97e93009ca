package server

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/go-ports/ctxsync/internal/models"
)

// hub tracks connected observers and fans events out to them.
//
// broadcast is called from the Store change listener, i.e. while the Store
// write lock is held, so it never blocks: each observer has a bounded queue
// and an observer whose queue is full is dropped. Registration happens inside
// Store.View, so the lock order is always Store then hub.
type hub struct {
	mu        sync.Mutex
	observers map[string]*observer
	metrics   *metrics
	log       *slog.Logger
}

func newHub(m *metrics, log *slog.Logger) *hub {
	return &hub{
		observers: make(map[string]*observer),
		metrics:   m,
		log:       log,
	}
}

func (h *hub) add(o *observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers[o.id] = o
	h.metrics.Observers(len(h.observers))
}

// remove unregisters o and closes its queue. It reports whether o was still
// registered.
func (h *hub) remove(o *observer) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.removeLocked(o)
}

func (h *hub) removeLocked(o *observer) bool {
	if _, ok := h.observers[o.id]; !ok {
		return false
	}
	delete(h.observers, o.id)
	close(o.send)
	o.setState(models.StateDisconnected)
	h.metrics.Observers(len(h.observers))
	return true
}

// broadcast queues msg to every observer. Each observer receives messages in
// call order.
func (h *hub) broadcast(msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sent := 0
	for _, o := range h.observers {
		if h.enqueueLocked(o, msg) {
			sent++
		}
	}
	h.metrics.Broadcast(sent)
}

// sendTo queues msg to a single observer.
func (h *hub) sendTo(o *observer, msg []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.observers[o.id]; !ok {
		return false
	}
	return h.enqueueLocked(o, msg)
}

func (h *hub) enqueueLocked(o *observer, msg []byte) bool {
	select {
	case o.send <- msg:
		return true
	default:
		h.log.Warn("server: observer queue full, disconnecting",
			"connection_id", o.id, "name", o.Info().Name, "queued", len(o.send))
		h.removeLocked(o)
		h.metrics.DroppedObserver()
		return false
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.observers)
}

// list returns observer bookkeeping ordered by connect time.
func (h *hub) list() []models.ObserverInfo {
	h.mu.Lock()
	out := make([]models.ObserverInfo, 0, len(h.observers))
	for _, o := range h.observers {
		out = append(out, o.Info())
	}
	h.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ConnectedAt.Before(out[j].ConnectedAt)
		}
		return out[i].ConnectionID < out[j].ConnectionID
	})
	return out
}

// closeAll disconnects every observer.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, o := range h.observers {
		h.removeLocked(o)
	}
}
