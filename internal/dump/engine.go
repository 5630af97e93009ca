// Package dump renders Context snapshots to named artifacts in one of several
// formats and manages the dump directory.
//
// Artifacts are written to a hidden temporary file and renamed into place, so
// a failed dump never leaves a truncated file that List can see.
package dump

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

var (
	// ErrUnsupportedFormat is matched by errors returned for unknown formats.
	ErrUnsupportedFormat = errors.New("unsupported dump format")
	// ErrInvalidName is returned for filenames that are not plain base names.
	ErrInvalidName = errors.New("invalid dump filename")
	// ErrExists is returned when a caller-supplied filename is already taken.
	ErrExists = errors.New("dump file already exists")
	// ErrNotFound is returned when a named dump does not exist.
	ErrNotFound = errors.New("dump file not found")
	// ErrWrite wraps I/O failures while writing an artifact. These are retryable.
	ErrWrite = errors.New("dump write failed")
)

// FormatError reports an unknown format name.
type FormatError struct {
	Name string
}

func (e *FormatError) Error() string {
	names := make([]string, len(Formats))
	for i, f := range Formats {
		names[i] = string(f)
	}
	if e.Name == "" {
		return "dump format is required (one of: " + strings.Join(names, ", ") + ")"
	}
	return fmt.Sprintf("unsupported dump format %q (one of: %s)", e.Name, strings.Join(names, ", "))
}

// Is makes errors.Is(err, ErrUnsupportedFormat) hold.
func (e *FormatError) Is(target error) bool { return target == ErrUnsupportedFormat }

const tempPattern = ".ctxsync-dump-*.tmp"

// Source supplies the state a dump is rendered from.
type Source interface {
	SnapshotWithHistory() (map[string]value.Value, []models.Change)
}

// Ledger records every dump written. The dump list endpoint reports it as
// dump_history.
type Ledger interface {
	RecordDump(rec models.DumpRecord) error
	DumpHistory() ([]models.DumpRecord, error)
}

// Request describes one dump.
type Request struct {
	Format         string
	Filename       string // optional; generated when empty
	IncludeHistory bool
	RequestedBy    string
}

// Engine writes and manages dump artifacts under one directory.
type Engine struct {
	dir    string
	source Source
	ledger Ledger
	now    func() time.Time

	mu sync.Mutex // serialises name selection and rename
}

// Option configures an Engine.
type Option func(*Engine)

// WithLedger replaces the default in-memory ledger.
func WithLedger(l Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithClock overrides the time source used for timestamps and generated names.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine writing into dir, creating it if needed.
func New(dir string, src Source, opts ...Option) (*Engine, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("dump.New: create dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("dump.New: %w", err)
	}
	e := &Engine{
		dir:    abs,
		source: src,
		ledger: &MemoryLedger{},
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Dir returns the absolute dump directory.
func (e *Engine) Dir() string { return e.dir }

// Dump renders the current state and writes it atomically.
func (e *Engine) Dump(req Request) (*models.DumpRecord, error) {
	format, err := ParseFormat(req.Format)
	if err != nil {
		return nil, err
	}
	var name string
	if req.Filename != "" {
		if name, err = normalizeName(req.Filename, format); err != nil {
			return nil, err
		}
	}

	snapshot, history := e.source.SnapshotWithHistory()
	a := &Artifact{
		Timestamp:   e.now(),
		Format:      format,
		RequestedBy: req.RequestedBy,
		Context:     snapshot,
	}
	if req.IncludeHistory {
		a.History = history
	}

	data, err := Render(a)
	if err != nil {
		return nil, err
	}

	final, err := e.writeAtomic(name, a.Timestamp, format, data)
	if err != nil {
		return nil, err
	}

	rec := models.DumpRecord{
		Filename:    final,
		Format:      string(format),
		Who:         req.RequestedBy,
		KeyCount:    a.KeyCount(),
		FileSize:    int64(len(data)),
		WithHistory: req.IncludeHistory,
		Timestamp:   a.Timestamp,
	}
	if err := e.ledger.RecordDump(rec); err != nil {
		slog.Warn("dump: ledger record failed", "filename", final, "err", err)
	}
	return &rec, nil
}

// writeAtomic writes data to a temp file and renames it to name (or a
// generated name when name is empty). It returns the final base name.
func (e *Engine) writeAtomic(name string, ts time.Time, format Format, data []byte) (string, error) {
	tmp, err := os.CreateTemp(e.dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil { // #nosec G302 -- dump artifacts are meant to be shared
		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if name == "" {
		name = e.generateName(ts, format)
	} else if _, err := os.Lstat(filepath.Join(e.dir, name)); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, name)
	}
	if err := os.Rename(tmpPath, filepath.Join(e.dir, name)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrWrite, err)
	}
	committed = true
	return name, nil
}

// generateName returns a timestamp-based name not yet present in the
// directory. Callers must hold e.mu.
func (e *Engine) generateName(ts time.Time, format Format) string {
	base := fmt.Sprintf("context_dump_%s_%06d", ts.Format("20060102_150405"), ts.Nanosecond()/1000)
	name := base + format.Extension()
	for i := 2; ; i++ {
		if _, err := os.Lstat(filepath.Join(e.dir, name)); os.IsNotExist(err) {
			return name
		}
		name = fmt.Sprintf("%s_%d%s", base, i, format.Extension())
	}
}

// normalizeName validates a caller-supplied filename and appends the format
// extension when missing.
func normalizeName(name string, format Format) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if !strings.EqualFold(filepath.Ext(name), format.Extension()) {
		name += format.Extension()
	}
	return name, nil
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q must not contain path separators", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q must not be hidden", ErrInvalidName, name)
	case len(name) > 200:
		return fmt.Errorf("%w: name too long", ErrInvalidName)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Listing and retrieval
// ---------------------------------------------------------------------------

// List returns metadata for every visible artifact, newest first, without
// reading file contents. Temporary files from in-progress dumps are skipped.
func (e *Engine) List() ([]models.DumpFile, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return nil, fmt.Errorf("dump.List: %w", err)
	}
	created := e.createdTimes()
	files := make([]models.DumpFile, 0, len(entries))
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		f := models.DumpFile{
			Filename: name,
			Path:     filepath.Join(e.dir, name),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		}
		// No portable file creation time; files the ledger never saw use mtime.
		if ts, ok := created[name]; ok {
			f.Created = ts
		} else {
			f.Created = f.Modified
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].Modified.Equal(files[j].Modified) {
			return files[i].Modified.After(files[j].Modified)
		}
		return files[i].Filename < files[j].Filename
	})
	return files, nil
}

// createdTimes maps each ledger filename to its latest write time.
func (e *Engine) createdTimes() map[string]time.Time {
	recs, err := e.ledger.DumpHistory()
	if err != nil {
		slog.Warn("dump: ledger read failed", "err", err)
		return nil
	}
	out := make(map[string]time.Time, len(recs))
	for i := range recs {
		out[recs[i].Filename] = recs[i].Timestamp.UTC()
	}
	return out
}

// History returns the dump ledger.
func (e *Engine) History() ([]models.DumpRecord, error) {
	return e.ledger.DumpHistory()
}

// Read returns the raw bytes of the named artifact. A missing or invalid name
// yields ErrNotFound, never empty content.
func (e *Engine) Read(name string) ([]byte, error) {
	path, err := e.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- name is validated to be a plain base name inside the dump dir
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("dump.Read: %w", err)
	}
	return data, nil
}

// Remove deletes the named artifact.
func (e *Engine) Remove(name string) error {
	path, err := e.path(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("dump.Remove: %w", err)
	}
	return nil
}

func (e *Engine) path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return filepath.Join(e.dir, name), nil
}

// ---------------------------------------------------------------------------
// In-memory ledger
// ---------------------------------------------------------------------------

// MemoryLedger keeps dump records for the lifetime of the process.
type MemoryLedger struct {
	mu      sync.Mutex
	records []models.DumpRecord
}

// RecordDump implements Ledger.
func (l *MemoryLedger) RecordDump(rec models.DumpRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

// DumpHistory implements Ledger.
func (l *MemoryLedger) DumpHistory() ([]models.DumpRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.DumpRecord, len(l.records))
	copy(out, l.records)
	return out, nil
}
