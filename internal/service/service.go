// Package service wires configuration, persistence, the Context store, the
// dump engine and the synchronization server into one runnable unit.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-ports/ctxsync/internal/buildinfo"
	"github.com/go-ports/ctxsync/internal/config"
	"github.com/go-ports/ctxsync/internal/ctxstore"
	"github.com/go-ports/ctxsync/internal/db"
	"github.com/go-ports/ctxsync/internal/dump"
	"github.com/go-ports/ctxsync/internal/redaction"
	"github.com/go-ports/ctxsync/internal/server"
	"github.com/go-ports/ctxsync/internal/value"
)

// IgnoreFile holds extra redaction patterns, one regexp per line.
const IgnoreFile = ".ctxsyncignore"

// Service owns the single writable Context of a ctxsync home.
type Service struct {
	Home     string
	Config   *config.Config
	Store    *ctxstore.Store
	Dumps    *dump.Engine
	Server   *server.Server
	Redactor *redaction.Redactor

	database *db.DB // nil when persistence is disabled
	log      *slog.Logger
	flushMu  sync.Mutex
}

// New initialises a Service rooted at home.
// If home is empty it is resolved via config.ResolveHome.
func New(home string) (*Service, error) {
	if home == "" {
		home, _ = config.ResolveHome("")
	}
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("service.New: create home: %w", err)
	}

	cfg, err := config.Load(config.Path(home))
	if err != nil {
		return nil, fmt.Errorf("service.New: load config: %w", err)
	}
	return NewWithConfig(home, cfg)
}

// NewWithConfig is New with an already loaded configuration.
func NewWithConfig(home string, cfg *config.Config) (*Service, error) {
	log := slog.Default()

	redactor, err := redaction.New(cfg.Redaction.Patterns)
	if err != nil {
		return nil, fmt.Errorf("service.New: redaction patterns: %w", err)
	}
	ignore, err := redaction.LoadIgnoreFile(filepath.Join(home, IgnoreFile))
	if err != nil {
		log.Warn("service: failed to load "+IgnoreFile, "err", err)
	}
	redactor = redactor.Extend(ignore)

	s := &Service{Home: home, Config: cfg, Redactor: redactor, log: log}

	var opts []dump.Option
	if cfg.Persistence.Enabled {
		database, err := db.Open(cfg.DBPath(home))
		if err != nil {
			return nil, fmt.Errorf("service.New: open db: %w", err)
		}
		entries, err := database.LoadEntries()
		if err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("service.New: load entries: %w", err)
		}
		s.database = database
		s.Store = ctxstore.FromSnapshot(entries)
		opts = append(opts, dump.WithLedger(database))
		log.Info("service: context restored", "path", database.Path(), "keys", len(entries))
	} else {
		s.Store = ctxstore.New()
	}

	s.Dumps, err = dump.New(cfg.DumpDir(home), s.Store, opts...)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("service.New: %w", err)
	}

	s.Server = server.New(s.Store, s.Dumps, server.Options{
		ObserverBuffer: cfg.Server.ObserverBuffer,
		WriteTimeout:   cfg.Server.WriteTimeout,
		Version:        buildinfo.Version,
		Redactor:       redactor,
		Logger:         log,
	})
	return s, nil
}

// Close releases the database. Unflushed changes are lost; Run flushes
// before returning.
func (s *Service) Close() error {
	if s.database == nil {
		return nil
	}
	return s.database.Close()
}

// Persistent reports whether Context changes are written to SQLite.
func (s *Service) Persistent() bool { return s.database != nil }

// ---------------------------------------------------------------------------
// Running
// ---------------------------------------------------------------------------

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.Config.Server.Listen)
	if err != nil {
		return fmt.Errorf("service.Run: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln and, when persistence is enabled, the periodic
// flusher. A final flush runs after the server stops.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	flushCtx, stopFlush := context.WithCancel(ctx)
	if s.database != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.flushLoop(flushCtx)
		}()
	}

	serveErr := s.Server.Serve(ctx, ln)
	stopFlush()
	wg.Wait()

	var flushErr error
	if s.database != nil {
		if _, err := s.Flush(); err != nil {
			flushErr = fmt.Errorf("service.Serve: final flush: %w", err)
		}
	}
	return errors.Join(serveErr, flushErr)
}

func (s *Service) flushLoop(ctx context.Context) {
	interval := s.Config.Persistence.FlushInterval
	if interval <= 0 {
		interval = config.Default().Persistence.FlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Flush(); err != nil {
				s.log.Error("service: flush failed", "err", err)
			}
		}
	}
}

// Flush writes every dirty key to the database in one transaction and returns
// how many keys were written. On failure the keys are marked dirty again so
// the next flush retries them. Flush is a no-op without persistence.
func (s *Service) Flush() (int, error) {
	if s.database == nil {
		return 0, nil
	}
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	keys := s.Store.PopDirtyKeys()
	if len(keys) == 0 {
		return 0, nil
	}
	upserts := make(map[string]value.Value, len(keys))
	var deletes []string
	for _, k := range keys {
		if v, ok := s.Store.Get(k); ok {
			upserts[k] = v
		} else {
			deletes = append(deletes, k)
		}
	}
	if err := s.database.SaveEntries(upserts, deletes); err != nil {
		s.Store.MarkDirty(keys...)
		return 0, fmt.Errorf("service.Flush: %w", err)
	}
	if err := s.database.SetMeta(metaLastFlush, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		s.log.Warn("service: record flush time", "err", err)
	}
	s.log.Debug("service: flushed", "upserts", len(upserts), "deletes", len(deletes))
	return len(keys), nil
}

const metaLastFlush = "last_flush"

// LastFlush returns when a flush last wrote changes to the database, possibly
// in an earlier process.
func (s *Service) LastFlush() (time.Time, bool) {
	if s.database == nil {
		return time.Time{}, false
	}
	raw, ok, err := s.database.GetMeta(metaLastFlush)
	if err != nil || !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
