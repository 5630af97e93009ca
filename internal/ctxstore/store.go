// Package ctxstore implements the Context: the authoritative in-memory
// key/value store with an append-only change history and dirty-key tracking.
//
// All mutations (Set, Delete, MergeFrom) run under one write lock covering
// the check-old/write-new/append-history sequence, so they are totally ordered.
// Change listeners registered with OnChange are invoked inside that critical
// section in apply order; they must not block for long and must not call back
// into the Store.
package ctxstore

import (
	"sort"
	"sync"
	"time"

	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

// Listener receives every accepted change in apply order.
type Listener func(ch models.Change)

// Store is the Context. The zero value is not usable; call New.
type Store struct {
	mu        sync.RWMutex
	data      map[string]value.Value
	history   []models.Change
	dirty     map[string]struct{}
	listeners []Listener
	seq       uint64
	now       func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp history records.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		data:  make(map[string]value.Value),
		dirty: make(map[string]struct{}),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// FromSnapshot seeds a new Store with data. History and the dirty set start
// empty.
func FromSnapshot(data map[string]value.Value, opts ...Option) *Store {
	s := New(opts...)
	for k, v := range data {
		s.data[k] = v
	}
	return s
}

// Replay builds a new Store by applying history in order. Replaying the
// history of any Store reproduces its data exactly.
func Replay(history []models.Change, opts ...Option) *Store {
	s := New(opts...)
	for i := range history {
		ch := history[i]
		switch ch.Op {
		case models.OpDelete:
			s.Delete(ch.Key, ch.Who)
		default:
			v := value.Null()
			if ch.After != nil {
				v = *ch.After
			}
			s.Set(ch.Key, v, ch.Who)
		}
	}
	return s
}

// OnChange registers l to be called for every accepted change.
func (s *Store) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// Get returns the value stored under key and whether it exists.
func (s *Store) Get(key string) (value.Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Snapshot returns a point-in-time copy of the data. Later mutations are
// never visible through the returned map.
func (s *Store) Snapshot() map[string]value.Value {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// View calls fn with a snapshot while holding the read lock, so no mutation
// can be applied (or announced to listeners) until fn returns.
func (s *Store) View(fn func(snapshot map[string]value.Value)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.snapshotLocked())
}

func (s *Store) snapshotLocked() map[string]value.Value {
	out := make(map[string]value.Value, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// SnapshotWithHistory returns a copy of the data and of the full history taken
// at the same instant.
func (s *Store) SnapshotWithHistory() (map[string]value.Value, []models.Change) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := make([]models.Change, len(s.history))
	copy(hist, s.history)
	return s.snapshotLocked(), hist
}

// History returns a copy of the records matching f in chronological order.
func (s *Store) History(f models.HistoryFilter) []models.Change {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Change, 0, len(s.history))
	for i := range s.history {
		if f.Match(&s.history[i]) {
			out = append(out, s.history[i])
		}
	}
	return out
}

// HistoryLen returns the number of history records.
func (s *Store) HistoryLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// Set stores v under key on behalf of who. A write whose value deep-equals the
// current one is dropped: no history record, no dirty mark, no listener call.
// The returned bool reports whether the write was applied.
func (s *Store) Set(key string, v value.Value, who string) (models.Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(key, v, who)
}

// Delete removes key on behalf of who and reports whether anything was removed.
func (s *Store) Delete(key, who string) (models.Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteLocked(key, who)
}

func (s *Store) setLocked(key string, v value.Value, who string) (models.Change, bool) {
	old, existed := s.data[key]
	if existed && old.Equal(v) {
		return models.Change{}, false
	}
	ch := models.Change{Key: key, Who: who, Op: models.OpSet}
	if existed {
		ch.Before = &old
	}
	after := v
	ch.After = &after
	s.data[key] = v
	return s.appendLocked(ch), true
}

func (s *Store) deleteLocked(key, who string) (models.Change, bool) {
	old, existed := s.data[key]
	if !existed {
		return models.Change{}, false
	}
	delete(s.data, key)
	return s.appendLocked(models.Change{
		Key:    key,
		Who:    who,
		Op:     models.OpDelete,
		Before: &old,
	}), true
}

func (s *Store) appendLocked(ch models.Change) models.Change {
	s.seq++
	ch.Seq = s.seq
	ch.Timestamp = s.now()
	s.history = append(s.history, ch)
	s.dirty[ch.Key] = struct{}{}
	for _, l := range s.listeners {
		l(ch)
	}
	return ch
}

// MergeFrom replays every history record of other into s, prefixing keys with
// prefix when it is non-empty. Conflicts are resolved by last write wins with
// no conflict detection: records are applied in other's order and simply
// overwrite. Records that would be no-ops are skipped. The whole batch is
// applied under one write lock, so concurrent merges are ordered by lock
// acquisition and never interleave. It returns the applied changes.
func (s *Store) MergeFrom(other *Store, prefix string) []models.Change {
	// Copy first: other may be s itself.
	return s.MergeHistory(other.History(models.HistoryFilter{}), prefix)
}

// MergeHistory is MergeFrom for a detached list of records, e.g. received
// over the wire.
func (s *Store) MergeHistory(records []models.Change, prefix string) []models.Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := make([]models.Change, 0, len(records))
	for i := range records {
		rec := records[i]
		key := prefix + rec.Key
		var (
			ch models.Change
			ok bool
		)
		if rec.Op == models.OpDelete {
			ch, ok = s.deleteLocked(key, rec.Who)
		} else {
			v := value.Null()
			if rec.After != nil {
				v = *rec.After
			}
			ch, ok = s.setLocked(key, v, rec.Who)
		}
		if ok {
			applied = append(applied, ch)
		}
	}
	return applied
}

// ---------------------------------------------------------------------------
// Dirty keys
// ---------------------------------------------------------------------------

// PopDirtyKeys atomically returns and clears the set of keys changed since the
// previous call, in lexical order. Each change marks its key dirty exactly once
// per consumption.
func (s *Store) PopDirtyKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.dirty) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.dirty))
	for k := range s.dirty {
		keys = append(keys, k)
	}
	s.dirty = make(map[string]struct{})
	sort.Strings(keys)
	return keys
}

// MarkDirty re-adds keys to the dirty set, e.g. after a failed flush.
func (s *Store) MarkDirty(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		s.dirty[k] = struct{}{}
	}
}
