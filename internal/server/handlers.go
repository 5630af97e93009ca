package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/go-ports/ctxsync/internal/dump"
	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

// maxBodySize bounds request bodies.
const maxBodySize = 8 << 20

// Mutation sources, used as a metrics label.
const (
	sourceHTTP  = "http"
	sourcePush  = "push"
	sourceMerge = "merge"
)

const (
	statusOK        = "ok"
	statusUnchanged = "unchanged"
)

// errValidation marks request errors reported as 400.
var errValidation = errors.New("invalid request")

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errValidation, fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Context
// ---------------------------------------------------------------------------

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	key, err := stringField(body, "key")
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	who, err := stringField(body, "who")
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	v, ch, changed, err := s.applySet(key, body["value"], who, sourceHTTP)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	resp := models.SetResponse{
		Status:    statusOK,
		Key:       key,
		Value:     v,
		Changed:   changed,
		Timestamp: ch.Timestamp,
	}
	if !changed {
		resp.Status = statusUnchanged
		resp.Timestamp = time.Now().UTC()
	}
	s.ok(w, resp)
}

// applySet validates and applies one set request from any source. A missing
// or top-level null value is rejected.
func (s *Server) applySet(key string, raw json.RawMessage, who, source string) (value.Value, models.Change, bool, error) {
	if key == "" {
		return value.Value{}, models.Change{}, false, validationf("key is required")
	}
	if len(raw) == 0 || string(raw) == "null" {
		return value.Value{}, models.Change{}, false, validationf("value is required")
	}
	v, err := value.Parse(raw)
	if err != nil {
		return value.Value{}, models.Change{}, false, validationf("value: %v", err)
	}
	if who == "" {
		who = DefaultWho
	}

	ch, changed := s.store.Set(key, v, who)
	if !changed {
		s.metrics.Noop(source)
		s.log.Debug("server: set unchanged", "key", key, "who", who, "source", source)
		return v, ch, false, nil
	}
	s.metrics.Mutation(string(models.OpSet), source)
	s.log.Info("server: context set",
		"key", key, "value", s.redactor.Value(key, v), "type", v.TypeName(),
		"who", who, "seq", ch.Seq, "source", source)
	return v, ch, true, nil
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		s.fail(w, http.StatusBadRequest, validationf("key query parameter is required"))
		return
	}
	v, found := s.store.Get(key)
	if path := q.Get("path"); path != "" && found {
		sub, err := value.Lookup(v, path)
		if err != nil {
			v, found = value.Null(), false
		} else {
			v = sub
		}
	}
	s.ok(w, models.GetResponse{Key: key, Value: v, Found: found})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := q.Get("key")
	if key == "" {
		s.fail(w, http.StatusBadRequest, validationf("key query parameter is required"))
		return
	}
	who := q.Get("who")
	if who == "" {
		who = DefaultWho
	}

	ch, deleted := s.store.Delete(key, who)
	resp := models.DeleteResponse{Status: statusOK, Key: key, Deleted: deleted, Timestamp: ch.Timestamp}
	if deleted {
		s.metrics.Mutation(string(models.OpDelete), sourceHTTP)
		s.log.Info("server: context delete", "key", key, "who", who, "seq", ch.Seq)
	} else {
		s.metrics.Noop(sourceHTTP)
		resp.Status = statusUnchanged
		resp.Timestamp = time.Now().UTC()
	}
	s.ok(w, resp)
}

func (s *Server) handleAll(w http.ResponseWriter, _ *http.Request) {
	snap := s.store.Snapshot()
	s.ok(w, models.AllResponse{Context: snap, KeyCount: len(snap), Timestamp: time.Now().UTC()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hist := s.store.History(models.HistoryFilter{Key: q.Get("key"), Who: q.Get("who")})
	if hist == nil {
		hist = []models.Change{}
	}
	s.ok(w, models.HistoryResponse{History: hist, TotalEntries: len(hist), Timestamp: time.Now().UTC()})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req models.MergeRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.History == nil {
		s.fail(w, http.StatusBadRequest, validationf("history is required"))
		return
	}
	for i := range req.History {
		rec := &req.History[i]
		if rec.Key == "" {
			s.fail(w, http.StatusBadRequest, validationf("history[%d]: key is required", i))
			return
		}
		switch rec.Op {
		case "", models.OpSet, models.OpDelete:
		default:
			s.fail(w, http.StatusBadRequest, validationf("history[%d]: unknown op %q", i, rec.Op))
			return
		}
		if rec.Who == "" {
			rec.Who = req.Who
		}
		if rec.Who == "" {
			rec.Who = DefaultWho
		}
	}

	applied := s.store.MergeHistory(req.History, req.Prefix)
	for i := range applied {
		s.metrics.Mutation(string(applied[i].Op), sourceMerge)
	}
	s.log.Info("server: merge", "records", len(req.History), "applied", len(applied),
		"prefix", req.Prefix, "who", req.Who)
	s.ok(w, models.MergeResponse{Status: statusOK, Applied: len(applied), Timestamp: time.Now().UTC()})
}

// ---------------------------------------------------------------------------
// Dumps
// ---------------------------------------------------------------------------

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	var req models.DumpRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if req.Who == "" {
		req.Who = DefaultWho
	}

	rec, err := s.dumps.Dump(dump.Request{
		Format:         req.Format,
		Filename:       req.Filename,
		IncludeHistory: req.IncludeHistory,
		RequestedBy:    req.Who,
	})
	if err != nil {
		s.failDump(w, err)
		return
	}
	s.metrics.Dumped(rec.Format)
	s.log.Info("server: dump written", "filename", rec.Filename, "format", rec.Format,
		"keys", rec.KeyCount, "bytes", rec.FileSize, "who", rec.Who)
	s.ok(w, models.DumpResponse{
		Status:    statusOK,
		Filename:  rec.Filename,
		Format:    rec.Format,
		FileSize:  rec.FileSize,
		KeyCount:  rec.KeyCount,
		Timestamp: rec.Timestamp,
		Who:       rec.Who,
	})
}

func (s *Server) handleDumpList(w http.ResponseWriter, _ *http.Request) {
	files, err := s.dumps.List()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	hist, err := s.dumps.History()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if hist == nil {
		hist = []models.DumpRecord{}
	}
	s.ok(w, models.DumpListResponse{
		DumpDirectory: s.dumps.Dir(),
		DumpCount:     len(files),
		DumpFiles:     files,
		DumpHistory:   hist,
	})
}

func (s *Server) handleDumpDownload(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	data, err := s.dumps.Read(name)
	if err != nil {
		s.failDump(w, err)
		return
	}
	w.Header().Set("Content-Type", dump.ContentTypeFor(name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	_ = s.render.Data(w, http.StatusOK, data)
}

func (s *Server) handleDumpRemove(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["filename"]
	if err := s.dumps.Remove(name); err != nil {
		s.failDump(w, err)
		return
	}
	s.log.Info("server: dump removed", "filename", name)
	s.ok(w, models.DumpRemoveResponse{Status: statusOK, Filename: name})
}

// failDump maps dump engine errors to status codes.
func (s *Server) failDump(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dump.ErrUnsupportedFormat), errors.Is(err, dump.ErrInvalidName):
		s.fail(w, http.StatusBadRequest, err)
	case errors.Is(err, dump.ErrExists):
		s.fail(w, http.StatusConflict, err)
	case errors.Is(err, dump.ErrNotFound):
		s.fail(w, http.StatusNotFound, err)
	case errors.Is(err, dump.ErrWrite):
		s.metrics.DumpFailed()
		s.log.Error("server: dump write failed", "err", err)
		_ = s.render.JSON(w, http.StatusInternalServerError, models.ErrorResponse{
			Status:    "error",
			Error:     err.Error(),
			Retryable: true,
		})
	default:
		s.metrics.DumpFailed()
		s.log.Error("server: dump failed", "err", err)
		s.fail(w, http.StatusInternalServerError, err)
	}
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

func (s *Server) handleObservers(w http.ResponseWriter, _ *http.Request) {
	list := s.hub.list()
	s.ok(w, models.ObserversResponse{Observers: list, Count: len(list)})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, models.HealthResponse{
		Status:    statusOK,
		Version:   s.opts.Version,
		KeyCount:  s.store.Len(),
		Observers: s.hub.count(),
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (s *Server) ok(w http.ResponseWriter, v any) {
	if err := s.render.JSON(w, http.StatusOK, v); err != nil {
		s.log.Error("server: write response", "err", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	_ = s.render.JSON(w, status, models.ErrorResponse{Status: "error", Error: err.Error()})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(dst); err != nil {
		return validationf("body is not valid JSON: %v", err)
	}
	return nil
}

func decodeData(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(raw, dst)
}

// stringField returns body[name] as a string. Absent and null give "".
func stringField(body map[string]json.RawMessage, name string) (string, error) {
	raw, ok := body[name]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", validationf("%s must be a string", name)
	}
	return s, nil
}
