package dump

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

// Artifact is the content of one dump, independent of its encoding.
type Artifact struct {
	Timestamp   time.Time
	Format      Format
	RequestedBy string
	Context     map[string]value.Value
	History     []models.Change // nil when history was not requested
}

// KeyCount returns the number of context keys in the artifact.
func (a *Artifact) KeyCount() int { return len(a.Context) }

func (a *Artifact) sortedKeys() []string {
	keys := make([]string, 0, len(a.Context))
	for k := range a.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Render encodes a in its format.
func Render(a *Artifact) ([]byte, error) {
	switch a.Format {
	case FormatJSON:
		return renderJSON(a)
	case FormatYAML:
		return renderYAML(a)
	case FormatCSV:
		return renderCSV(a)
	case FormatTXT:
		return renderTXT(a), nil
	case FormatPretty:
		return renderMarkdown(a)
	default:
		return nil, &FormatError{Name: string(a.Format)}
	}
}

// ---------------------------------------------------------------------------
// Structured formats
// ---------------------------------------------------------------------------

// jsonDocument is the on-disk layout of structured dumps.
type jsonDocument struct {
	Timestamp      time.Time              `json:"timestamp"`
	Format         Format                 `json:"format"`
	RequestedBy    string                 `json:"requested_by"`
	KeyCount       int                    `json:"key_count"`
	IncludeHistory bool                   `json:"include_history"`
	Context        map[string]value.Value `json:"context"`
	History        *[]models.Change       `json:"history,omitempty"` // set, possibly empty, when requested
}

func renderJSON(a *Artifact) ([]byte, error) {
	doc := jsonDocument{
		Timestamp:   a.Timestamp,
		Format:      a.Format,
		RequestedBy: a.RequestedBy,
		KeyCount:    a.KeyCount(),
		Context:     a.Context,
	}
	if a.History != nil {
		doc.IncludeHistory = true
		doc.History = &a.History
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("dump.renderJSON: %w", err)
	}
	return append(b, '\n'), nil
}

func renderYAML(a *Artifact) ([]byte, error) {
	ctx := make(map[string]any, len(a.Context))
	for k, v := range a.Context {
		ctx[k] = v.ToAny()
	}
	doc := map[string]any{
		"timestamp":       a.Timestamp.Format(time.RFC3339Nano),
		"format":          string(a.Format),
		"requested_by":    a.RequestedBy,
		"key_count":       a.KeyCount(),
		"include_history": a.History != nil,
		"context":         ctx,
	}
	if a.History != nil {
		doc["history"] = historyRows(a.History)
	}
	b, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("dump.renderYAML: %w", err)
	}
	return b, nil
}

// historyRows flattens history records into plain maps for encoders that do
// not understand value.Value.
func historyRows(history []models.Change) []map[string]any {
	rows := make([]map[string]any, len(history))
	for i := range history {
		ch := &history[i]
		rows[i] = map[string]any{
			"seq":       ch.Seq,
			"timestamp": ch.Timestamp.Format(time.RFC3339Nano),
			"who":       ch.Who,
			"key":       ch.Key,
			"op":        string(ch.Op),
			"old_value": optionalAny(ch.Before),
			"new_value": optionalAny(ch.After),
		}
	}
	return rows
}

func optionalAny(v *value.Value) any {
	if v == nil {
		return nil
	}
	return v.ToAny()
}

func optionalText(v *value.Value) string {
	if v == nil {
		return ""
	}
	return v.Text()
}

// ---------------------------------------------------------------------------
// Tabular format
// ---------------------------------------------------------------------------

var (
	csvHeader        = []string{"key", "value", "type"}
	csvHistoryHeader = []string{"seq", "timestamp", "who", "key", "op", "old_value", "new_value"}
)

func renderCSV(a *Artifact) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, k := range a.sortedKeys() {
		v := a.Context[k]
		if err := w.Write([]string{k, v.Text(), v.TypeName()}); err != nil {
			return nil, err
		}
	}
	w.Flush()

	if a.History != nil {
		// A blank line separates the history table from the data rows.
		buf.WriteByte('\n')
		if err := w.Write(csvHistoryHeader); err != nil {
			return nil, err
		}
		for i := range a.History {
			ch := &a.History[i]
			if err := w.Write([]string{
				strconv.FormatUint(ch.Seq, 10),
				ch.Timestamp.Format(time.RFC3339Nano),
				ch.Who,
				ch.Key,
				string(ch.Op),
				optionalText(ch.Before),
				optionalText(ch.After),
			}); err != nil {
				return nil, err
			}
		}
		w.Flush()
	}
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("dump.renderCSV: %w", err)
	}
	return buf.Bytes(), nil
}

// ---------------------------------------------------------------------------
// Line-oriented format
// ---------------------------------------------------------------------------

func renderTXT(a *Artifact) []byte {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# ctxsync context dump %s\n", a.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&sb, "# requested_by=%s key_count=%d\n", a.RequestedBy, a.KeyCount())
	for _, k := range a.sortedKeys() {
		sb.WriteString(lineKey(k))
		sb.WriteByte('=')
		sb.WriteString(lineValue(a.Context[k]))
		sb.WriteByte('\n')
	}
	if a.History != nil {
		sb.WriteString("# history\n")
		for i := range a.History {
			ch := &a.History[i]
			fmt.Fprintf(&sb, "# %d %s %s %s %s: %s -> %s\n",
				ch.Seq, ch.Timestamp.Format(time.RFC3339Nano), ch.Who, ch.Op, lineKey(ch.Key),
				lineOptional(ch.Before), lineOptional(ch.After))
		}
	}
	return []byte(sb.String())
}

// lineValue keeps each entry on one line: strings are written verbatim unless
// they contain line breaks, surrounding blanks or a leading quote, in which
// case they are quoted.
func lineValue(v value.Value) string {
	s, ok := v.AsString()
	if !ok {
		return v.Text()
	}
	if strings.ContainsAny(s, "\r\n") || strings.TrimSpace(s) != s || strings.HasPrefix(s, `"`) {
		return strconv.Quote(s)
	}
	return s
}

// lineKey quotes keys that would otherwise split the line, read as a comment,
// or end early at an embedded '='.
func lineKey(k string) string {
	if k == "" || strings.ContainsAny(k, "=\r\n") || strings.TrimSpace(k) != k ||
		strings.HasPrefix(k, "#") || strings.HasPrefix(k, `"`) {
		return strconv.Quote(k)
	}
	return k
}

func lineOptional(v *value.Value) string {
	if v == nil {
		return "<absent>"
	}
	return lineValue(*v)
}
