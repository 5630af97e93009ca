// Package models defines the data and wire types shared by the ctxsync server
// and its clients.
package models

import (
	"encoding/json"
	"time"

	"github.com/go-ports/ctxsync/internal/value"
)

// Op names the kind of mutation recorded by a Change.
type Op string

// Mutation kinds.
const (
	OpSet    Op = "set"
	OpDelete Op = "delete"
)

// Change is one history record: a single accepted mutation of a key.
// Before is nil when the key did not exist; After is nil for deletes.
type Change struct {
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`
	Who       string       `json:"who"`
	Key       string       `json:"key"`
	Op        Op           `json:"op"`
	Before    *value.Value `json:"old_value"`
	After     *value.Value `json:"new_value"`
}

// HistoryFilter selects history records. Empty fields match everything;
// set fields are combined with AND.
type HistoryFilter struct {
	Key string
	Who string
}

// Match reports whether ch satisfies f.
func (f HistoryFilter) Match(ch *Change) bool {
	if f.Key != "" && ch.Key != f.Key {
		return false
	}
	if f.Who != "" && ch.Who != f.Who {
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Dumps
// ---------------------------------------------------------------------------

// DumpRecord describes a dump artifact at the time it was written.
type DumpRecord struct {
	Filename    string    `json:"filename"`
	Format      string    `json:"format"`
	Who         string    `json:"who"`
	KeyCount    int       `json:"key_count"`
	FileSize    int64     `json:"file_size"`
	WithHistory bool      `json:"include_history"`
	Timestamp   time.Time `json:"timestamp"`
}

// DumpFile is a dump artifact found on disk.
type DumpFile struct {
	Filename string    `json:"filename"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// ---------------------------------------------------------------------------
// Observers
// ---------------------------------------------------------------------------

// ObserverState is the lifecycle position of a push-channel connection.
type ObserverState string

// Observer lifecycle: CONNECTING → REGISTERED → ACTIVE → DISCONNECTED.
const (
	StateConnecting   ObserverState = "connecting"
	StateRegistered   ObserverState = "registered"
	StateActive       ObserverState = "active"
	StateDisconnected ObserverState = "disconnected"
)

// ObserverInfo is the server-side bookkeeping for one push-channel connection.
type ObserverInfo struct {
	ConnectionID string        `json:"connection_id"`
	Type         string        `json:"type"`
	Name         string        `json:"name"`
	ConnectedAt  time.Time     `json:"connected_at"`
	State        ObserverState `json:"state"`
}

// ---------------------------------------------------------------------------
// Request/response bodies
// ---------------------------------------------------------------------------

// SetResponse is returned by POST /ctx.
type SetResponse struct {
	Status    string      `json:"status"`
	Key       string      `json:"key"`
	Value     value.Value `json:"value"`
	Changed   bool        `json:"changed"`
	Timestamp time.Time   `json:"timestamp"`
}

// GetResponse is returned by GET /ctx.
type GetResponse struct {
	Key   string      `json:"key"`
	Value value.Value `json:"value"`
	Found bool        `json:"found"`
}

// DeleteResponse is returned by DELETE /ctx.
type DeleteResponse struct {
	Status    string    `json:"status"`
	Key       string    `json:"key"`
	Deleted   bool      `json:"deleted"`
	Timestamp time.Time `json:"timestamp"`
}

// AllResponse is returned by GET /ctx/all.
type AllResponse struct {
	Context   map[string]value.Value `json:"context"`
	KeyCount  int                    `json:"key_count"`
	Timestamp time.Time              `json:"timestamp"`
}

// HistoryResponse is returned by GET /ctx/history.
type HistoryResponse struct {
	History      []Change  `json:"history"`
	TotalEntries int       `json:"total_entries"`
	Timestamp    time.Time `json:"timestamp"`
}

// MergeRequest is the body of POST /ctx/merge.
type MergeRequest struct {
	History []Change `json:"history"`
	Prefix  string   `json:"prefix,omitempty"`
	Who     string   `json:"who,omitempty"`
}

// MergeResponse is returned by POST /ctx/merge.
type MergeResponse struct {
	Status    string    `json:"status"`
	Applied   int       `json:"applied"`
	Timestamp time.Time `json:"timestamp"`
}

// DumpRequest is the body of POST /ctx/dump.
type DumpRequest struct {
	Format         string `json:"format"`
	Filename       string `json:"filename,omitempty"`
	IncludeHistory bool   `json:"include_history"`
	Who            string `json:"who,omitempty"`
}

// DumpResponse is returned by POST /ctx/dump.
type DumpResponse struct {
	Status    string    `json:"status"`
	Filename  string    `json:"filename"`
	Format    string    `json:"format"`
	FileSize  int64     `json:"file_size"`
	KeyCount  int       `json:"key_count"`
	Timestamp time.Time `json:"timestamp"`
	Who       string    `json:"who"`
}

// DumpListResponse is returned by GET /ctx/dump/list.
type DumpListResponse struct {
	DumpDirectory string       `json:"dump_directory"`
	DumpCount     int          `json:"dump_count"`
	DumpFiles     []DumpFile   `json:"dump_files"`
	DumpHistory   []DumpRecord `json:"dump_history"`
}

// DumpRemoveResponse is returned by DELETE /ctx/dump/<filename>.
type DumpRemoveResponse struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
}

// ObserversResponse is returned by GET /ctx/observers.
type ObserversResponse struct {
	Observers []ObserverInfo `json:"observers"`
	Count     int            `json:"count"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	KeyCount  int    `json:"key_count"`
	Observers int    `json:"observers"`
}

// ErrorResponse is the body of every rejected request.
type ErrorResponse struct {
	Status    string `json:"status"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ---------------------------------------------------------------------------
// Push channel
// ---------------------------------------------------------------------------

// Push-channel event names.
const (
	EventContextSnapshot  = "context_snapshot"
	EventContextUpdated   = "context_updated"
	EventClientRegister   = "client_register"
	EventClientRegistered = "client_registered"
	EventContextSet       = "context_set"
	EventError            = "error"
)

// Envelope frames every push-channel message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SnapshotEvent carries the full context to a newly connected observer.
type SnapshotEvent struct {
	Context   map[string]value.Value `json:"context"`
	KeyCount  int                    `json:"key_count"`
	Timestamp time.Time              `json:"timestamp"`
}

// UpdateEvent announces one accepted mutation.
type UpdateEvent struct {
	Seq       uint64      `json:"seq"`
	Key       string      `json:"key"`
	Value     value.Value `json:"value"`
	Deleted   bool        `json:"deleted,omitempty"`
	Who       string      `json:"who"`
	Timestamp time.Time   `json:"timestamp"`
}

// UpdateFromChange builds the broadcast payload for ch.
func UpdateFromChange(ch *Change) UpdateEvent {
	ev := UpdateEvent{
		Seq:       ch.Seq,
		Key:       ch.Key,
		Who:       ch.Who,
		Timestamp: ch.Timestamp,
	}
	if ch.After != nil {
		ev.Value = *ch.After
	} else {
		ev.Deleted = true
	}
	return ev
}

// RegisterEvent is sent by a client to describe itself.
type RegisterEvent struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// RegisteredEvent acknowledges a RegisterEvent.
type RegisteredEvent struct {
	ConnectionID string `json:"connection_id"`
	Type         string `json:"type"`
	Name         string `json:"name"`
}

// SetEvent is the fire-and-forget write submitted over the push channel.
// Value is raw so that a missing value can be told apart from null.
type SetEvent struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
	Who   string          `json:"who"`
}

// ErrorEvent reports a rejected push-channel request to its sender.
type ErrorEvent struct {
	Message string `json:"message"`
}

// NewEnvelope encodes data under the given event name.
func NewEnvelope(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: raw}, nil
}

// EncodeEvent returns the wire bytes of an envelope carrying data.
func EncodeEvent(event string, data any) ([]byte, error) {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}
