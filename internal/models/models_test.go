package models_test

import (
	"encoding/json"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

func ptr(v value.Value) *value.Value { return &v }

// ---------------------------------------------------------------------------
// HistoryFilter
// ---------------------------------------------------------------------------

func TestHistoryFilterMatch_HappyPath(t *testing.T) {
	c := qt.New(t)

	ch := &models.Change{Key: "app.timeout", Who: "alice"}

	cases := []struct {
		name   string
		filter models.HistoryFilter
		want   bool
	}{
		{"empty filter matches", models.HistoryFilter{}, true},
		{"key matches", models.HistoryFilter{Key: "app.timeout"}, true},
		{"who matches", models.HistoryFilter{Who: "alice"}, true},
		{"both match", models.HistoryFilter{Key: "app.timeout", Who: "alice"}, true},
		{"key differs", models.HistoryFilter{Key: "app"}, false},
		{"who differs under AND", models.HistoryFilter{Key: "app.timeout", Who: "bob"}, false},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			c.Assert(tc.filter.Match(ch), qt.Equals, tc.want)
		})
	}
}

// ---------------------------------------------------------------------------
// UpdateFromChange
// ---------------------------------------------------------------------------

func TestUpdateFromChange(t *testing.T) {
	c := qt.New(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	c.Run("set carries the new value", func(c *qt.C) {
		ev := models.UpdateFromChange(&models.Change{
			Seq: 7, Timestamp: now, Who: "c1", Key: "x", Op: models.OpSet,
			After: ptr(value.Int(5)),
		})
		c.Assert(ev.Seq, qt.Equals, uint64(7))
		c.Assert(ev.Deleted, qt.IsFalse)
		c.Assert(ev.Value.Equal(value.Int(5)), qt.IsTrue)
		c.Assert(ev.Timestamp, qt.Equals, now)
	})

	c.Run("delete is flagged with a null value", func(c *qt.C) {
		ev := models.UpdateFromChange(&models.Change{
			Key: "x", Op: models.OpDelete, Before: ptr(value.Int(5)),
		})
		c.Assert(ev.Deleted, qt.IsTrue)
		c.Assert(ev.Value.IsNull(), qt.IsTrue)
	})
}

// ---------------------------------------------------------------------------
// EncodeEvent
// ---------------------------------------------------------------------------

func TestEncodeEvent_HappyPath(t *testing.T) {
	c := qt.New(t)

	b, err := models.EncodeEvent(models.EventContextUpdated, models.UpdateEvent{
		Key: "a.b", Value: value.Int(1), Who: "alice",
	})
	c.Assert(err, qt.IsNil)

	var env models.Envelope
	c.Assert(json.Unmarshal(b, &env), qt.IsNil)
	c.Assert(env.Event, qt.Equals, models.EventContextUpdated)

	var upd models.UpdateEvent
	c.Assert(json.Unmarshal(env.Data, &upd), qt.IsNil)
	c.Assert(upd.Key, qt.Equals, "a.b")
	c.Assert(upd.Who, qt.Equals, "alice")
	c.Assert(upd.Value.Equal(value.Int(1)), qt.IsTrue)
}

func TestChangeJSON_AbsentValuesAreNull(t *testing.T) {
	c := qt.New(t)

	b, err := json.Marshal(models.Change{Key: "x", Op: models.OpSet, After: ptr(value.Int(5))})
	c.Assert(err, qt.IsNil)

	var raw map[string]any
	c.Assert(json.Unmarshal(b, &raw), qt.IsNil)
	c.Assert(raw["old_value"], qt.IsNil)
	c.Assert(raw["new_value"], qt.Equals, float64(5))
	c.Assert(raw["op"], qt.Equals, "set")
}
