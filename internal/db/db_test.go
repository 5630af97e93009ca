package db_test

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/ctxsync/internal/db"
	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

// openTestDB opens a fresh SQLite database in a temp directory and registers
// t.Cleanup to close it.
func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// ---------------------------------------------------------------------------
// Open
// ---------------------------------------------------------------------------

func TestOpen_HappyPath(t *testing.T) {
	c := qt.New(t)
	d := openTestDB(t)

	v, ok, err := d.GetMeta("schema_version")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(v, qt.Equals, "1")
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(t.TempDir(), "ctx.db")

	d, err := db.Open(path)
	c.Assert(err, qt.IsNil)
	c.Assert(d.SaveEntries(map[string]value.Value{"k": value.Int(7)}, nil), qt.IsNil)
	c.Assert(d.Close(), qt.IsNil)

	d, err = db.Open(path)
	c.Assert(err, qt.IsNil)
	defer d.Close()
	got, err := d.LoadEntries()
	c.Assert(err, qt.IsNil)
	c.Assert(got["k"].Equal(value.Int(7)), qt.IsTrue)
}

// ---------------------------------------------------------------------------
// SaveEntries / LoadEntries
// ---------------------------------------------------------------------------

func TestSaveEntries_HappyPath(t *testing.T) {
	c := qt.New(t)

	c.Run("values round-trip with their types", func(c *qt.C) {
		d := openTestDB(t)
		in := map[string]value.Value{
			"i": value.Int(3),
			"f": value.Float(2.0),
			"s": value.String("Bob"),
			"n": value.Null(),
			"m": value.MustFromAny(map[string]any{"a": []any{1, "x"}}),
		}
		c.Assert(d.SaveEntries(in, nil), qt.IsNil)

		got, err := d.LoadEntries()
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.HasLen, len(in))
		for k, v := range in {
			c.Assert(got[k].Equal(v), qt.IsTrue, qt.Commentf("key %s", k))
		}
	})

	c.Run("upsert overwrites and delete removes", func(c *qt.C) {
		d := openTestDB(t)
		c.Assert(d.SaveEntries(map[string]value.Value{"a": value.Int(1), "b": value.Int(2)}, nil), qt.IsNil)
		c.Assert(d.SaveEntries(map[string]value.Value{"a": value.String("one")}, []string{"b", "never-existed"}), qt.IsNil)

		got, err := d.LoadEntries()
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.HasLen, 1)
		c.Assert(got["a"].Equal(value.String("one")), qt.IsTrue)
	})

	c.Run("empty batch is a no-op", func(c *qt.C) {
		d := openTestDB(t)
		c.Assert(d.SaveEntries(nil, nil), qt.IsNil)
	})
}

func TestSaveEntries_FailurePath(t *testing.T) {
	c := qt.New(t)

	c.Run("unencodable value rolls back the whole batch", func(c *qt.C) {
		d := openTestDB(t)
		c.Assert(d.SaveEntries(map[string]value.Value{"keep": value.Int(1)}, nil), qt.IsNil)

		err := d.SaveEntries(map[string]value.Value{"bad": value.Float(math.Inf(1))}, []string{"keep"})
		c.Assert(err, qt.IsNotNil)

		got, err := d.LoadEntries()
		c.Assert(err, qt.IsNil)
		c.Assert(got, qt.HasLen, 1)
		_, ok := got["keep"]
		c.Assert(ok, qt.IsTrue)
	})

	c.Run("closed database", func(c *qt.C) {
		d, err := db.Open(filepath.Join(t.TempDir(), "closed.db"))
		c.Assert(err, qt.IsNil)
		c.Assert(d.Close(), qt.IsNil)
		c.Assert(d.SaveEntries(map[string]value.Value{"k": value.Int(1)}, nil), qt.IsNotNil)
	})
}

// ---------------------------------------------------------------------------
// Dump ledger
// ---------------------------------------------------------------------------

func TestDumpLedger(t *testing.T) {
	c := qt.New(t)
	d := openTestDB(t)

	hist, err := d.DumpHistory()
	c.Assert(err, qt.IsNil)
	c.Assert(hist, qt.HasLen, 0)

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	recs := []models.DumpRecord{
		{Filename: "a.json", Format: "json", Who: "alice", KeyCount: 2, FileSize: 120, Timestamp: ts},
		{Filename: "b.csv", Format: "csv", KeyCount: 0, FileSize: 15, WithHistory: true, Timestamp: ts.Add(time.Second)},
	}
	for _, r := range recs {
		c.Assert(d.RecordDump(r), qt.IsNil)
	}

	hist, err = d.DumpHistory()
	c.Assert(err, qt.IsNil)
	c.Assert(hist, qt.DeepEquals, recs)
}

// ---------------------------------------------------------------------------
// Meta
// ---------------------------------------------------------------------------

func TestMeta(t *testing.T) {
	c := qt.New(t)
	d := openTestDB(t)

	_, ok, err := d.GetMeta("missing")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)

	c.Assert(d.SetMeta("last_flush", "x"), qt.IsNil)
	c.Assert(d.SetMeta("last_flush", "y"), qt.IsNil)
	v, ok, err := d.GetMeta("last_flush")
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)
	c.Assert(v, qt.Equals, "y")
}
