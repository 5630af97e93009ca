// Package server implements the synchronization server: the request/response
// API over the Context and dump engine, and the websocket push channel that
// streams a snapshot followed by every accepted change to each observer.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"

	"github.com/go-ports/ctxsync/internal/ctxstore"
	"github.com/go-ports/ctxsync/internal/dump"
	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/redaction"
	"github.com/go-ports/ctxsync/internal/value"
)

// Route paths.
const (
	PathContext   = "/ctx"
	PathAll       = "/ctx/all"
	PathHistory   = "/ctx/history"
	PathMerge     = "/ctx/merge"
	PathDump      = "/ctx/dump"
	PathDumpList  = "/ctx/dump/list"
	PathDumpFile  = "/ctx/dump/{filename}"
	PathObservers = "/ctx/observers"
	PathPush      = "/ws"
	PathHealth    = "/health"
	PathMetrics   = "/metrics"
)

// DefaultWho attributes requests that do not name an actor.
const DefaultWho = "anonymous"

// Options configures a Server. Zero values select defaults.
type Options struct {
	ObserverBuffer int
	WriteTimeout   time.Duration
	Version        string
	Redactor       *redaction.Redactor
	Logger         *slog.Logger
}

// Server owns the single writable Context and the dump engine.
type Server struct {
	store    *ctxstore.Store
	dumps    *dump.Engine
	hub      *hub
	metrics  *metrics
	registry *prometheus.Registry
	render   *render.Render
	upgrader websocket.Upgrader
	router   *mux.Router
	redactor *redaction.Redactor
	log      *slog.Logger
	opts     Options
}

// New wires a Server around store and dumps and subscribes it to every
// change the store accepts.
func New(store *ctxstore.Store, dumps *dump.Engine, opts Options) *Server {
	if opts.ObserverBuffer <= 0 {
		opts.ObserverBuffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	reg := prometheus.NewRegistry()
	m := newMetrics(reg)
	s := &Server{
		store:    store,
		dumps:    dumps,
		hub:      newHub(m, log),
		metrics:  m,
		registry: reg,
		render:   render.New(render.Options{IndentJSON: true}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Observers are local tools, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		redactor: opts.Redactor,
		log:      log,
		opts:     opts,
	}
	store.OnChange(s.broadcastChange)
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(PathContext, s.handleSet).Methods(http.MethodPost)
	r.HandleFunc(PathContext, s.handleGet).Methods(http.MethodGet)
	r.HandleFunc(PathContext, s.handleDelete).Methods(http.MethodDelete)
	r.HandleFunc(PathAll, s.handleAll).Methods(http.MethodGet)
	r.HandleFunc(PathHistory, s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc(PathMerge, s.handleMerge).Methods(http.MethodPost)
	r.HandleFunc(PathDump, s.handleDump).Methods(http.MethodPost)
	// The list route must be registered before the {filename} pattern.
	r.HandleFunc(PathDumpList, s.handleDumpList).Methods(http.MethodGet)
	r.HandleFunc(PathDumpFile, s.handleDumpDownload).Methods(http.MethodGet)
	r.HandleFunc(PathDumpFile, s.handleDumpRemove).Methods(http.MethodDelete)
	r.HandleFunc(PathObservers, s.handleObservers).Methods(http.MethodGet)
	r.HandleFunc(PathPush, s.handlePush)
	r.HandleFunc(PathHealth, s.handleHealth).Methods(http.MethodGet)
	r.Handle(PathMetrics, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.fail(w, http.StatusNotFound, errors.New("no such endpoint"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.fail(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	return r
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.router }

// Registry returns the prometheus registry holding the server metrics.
func (s *Server) Registry() *prometheus.Registry { return s.registry }

// ObserverCount returns the number of connected observers.
func (s *Server) ObserverCount() int { return s.hub.count() }

// Serve accepts connections on ln until ctx is cancelled, then shuts down
// gracefully: observers are disconnected and in-flight requests get up to
// five seconds to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	// Hijacked websocket connections are not tracked by http.Server.
	srv.RegisterOnShutdown(s.hub.closeAll)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("server: listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return fmt.Errorf("server.Serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server.Serve shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server.Serve: %w", err)
	}
	s.log.Info("server: stopped")
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("server.ListenAndServe: %w", err)
	}
	return s.Serve(ctx, ln)
}

// ---------------------------------------------------------------------------
// Push channel
// ---------------------------------------------------------------------------

// broadcastChange is the Store change listener. It runs inside the Store
// write lock, so observers receive updates in apply order.
func (s *Server) broadcastChange(ch models.Change) {
	msg, err := models.EncodeEvent(models.EventContextUpdated, models.UpdateFromChange(&ch))
	if err != nil {
		s.log.Error("server: encode update", "key", ch.Key, "err", err)
		return
	}
	s.hub.broadcast(msg)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.log.Debug("server: websocket upgrade failed", "err", err)
		return
	}
	o := newObserver(uuid.NewString(), conn, s.opts.ObserverBuffer, s.opts.WriteTimeout)

	// Queue the snapshot and register under the Store read lock: no change
	// can be applied between the two, so the observer sees every later
	// change exactly once.
	var encErr error
	s.store.View(func(snap map[string]value.Value) {
		var msg []byte
		msg, encErr = models.EncodeEvent(models.EventContextSnapshot, models.SnapshotEvent{
			Context:   snap,
			KeyCount:  len(snap),
			Timestamp: time.Now().UTC(),
		})
		if encErr != nil {
			return
		}
		o.send <- msg
		o.setState(models.StateRegistered)
		s.hub.add(o)
	})
	if encErr != nil {
		s.log.Error("server: encode snapshot", "err", encErr)
		_ = conn.Close()
		return
	}
	s.log.Info("server: observer connected", "connection_id", o.id, "remote", r.RemoteAddr)

	go o.writePump()
	err = o.readPump(func(env models.Envelope) { s.handleEvent(o, env) })
	if s.hub.remove(o) {
		s.log.Info("server: observer disconnected", "connection_id", o.id, "reason", err)
	}
}

func (s *Server) handleEvent(o *observer, env models.Envelope) {
	switch env.Event {
	case models.EventClientRegister:
		var reg models.RegisterEvent
		if err := decodeData(env.Data, &reg); err != nil {
			s.replyError(o, "invalid client_register: "+err.Error())
			return
		}
		o.setIdentity(reg.Type, reg.Name)
		s.log.Info("server: observer registered", "connection_id", o.id, "type", reg.Type, "name", reg.Name)
		s.reply(o, models.EventClientRegistered, models.RegisteredEvent{
			ConnectionID: o.id,
			Type:         reg.Type,
			Name:         reg.Name,
		})
	case models.EventContextSet:
		var set models.SetEvent
		if err := decodeData(env.Data, &set); err != nil {
			s.replyError(o, "invalid context_set: "+err.Error())
			return
		}
		if _, _, _, err := s.applySet(set.Key, set.Value, set.Who, sourcePush); err != nil {
			s.replyError(o, err.Error())
		}
	case "":
		s.replyError(o, "malformed message: expected {\"event\": ..., \"data\": ...}")
	default:
		s.replyError(o, fmt.Sprintf("unknown event %q", env.Event))
	}
}

func (s *Server) reply(o *observer, event string, data any) {
	msg, err := models.EncodeEvent(event, data)
	if err != nil {
		s.log.Error("server: encode reply", "event", event, "err", err)
		return
	}
	s.hub.sendTo(o, msg)
}

func (s *Server) replyError(o *observer, message string) {
	s.log.Debug("server: push request rejected", "connection_id", o.id, "err", message)
	s.reply(o, models.EventError, models.ErrorEvent{Message: message})
}
