package client_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/ctxsync/internal/client"
	"github.com/go-ports/ctxsync/internal/ctxstore"
	"github.com/go-ports/ctxsync/internal/dump"
	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/server"
	"github.com/go-ports/ctxsync/internal/value"
)

func newClient(c *qt.C) (*client.Client, *ctxstore.Store) {
	c.Helper()
	store := ctxstore.New()
	dumps, err := dump.New(c.TB.TempDir(), store)
	c.Assert(err, qt.IsNil)
	srv := server.New(store, dumps, server.Options{Version: "test"})
	ts := httptest.NewServer(srv.Handler())
	c.Cleanup(ts.Close)
	cl, err := client.New(ts.URL, client.WithTimeout(5*time.Second))
	c.Assert(err, qt.IsNil)
	return cl, store
}

func TestNew(t *testing.T) {
	c := qt.New(t)

	c.Run("trims trailing slash and derives push URL", func(c *qt.C) {
		cl, err := client.New("http://127.0.0.1:5050/")
		c.Assert(err, qt.IsNil)
		c.Assert(cl.BaseURL(), qt.Equals, "http://127.0.0.1:5050")
		c.Assert(cl.PushURL(), qt.Equals, "ws://127.0.0.1:5050/ws")
		c.Assert(cl.Timeout(), qt.Equals, client.DefaultTimeout)
	})

	c.Run("https maps to wss", func(c *qt.C) {
		cl, err := client.New("https://ctx.example.com")
		c.Assert(err, qt.IsNil)
		c.Assert(cl.PushURL(), qt.Equals, "wss://ctx.example.com/ws")
	})

	c.Run("zero timeout on a custom http client is replaced", func(c *qt.C) {
		cl, err := client.New("http://localhost:1", client.WithHTTPClient(&http.Client{}))
		c.Assert(err, qt.IsNil)
		c.Assert(cl.Timeout(), qt.Equals, client.DefaultTimeout)
	})

	for _, bad := range []string{"", "localhost:5050", "ftp://host", "http://"} {
		c.Run("rejects "+bad, func(c *qt.C) {
			_, err := client.New(bad)
			c.Assert(err, qt.IsNotNil)
		})
	}
}

func TestClient_Context_HappyPath(t *testing.T) {
	c := qt.New(t)
	cl, store := newClient(c)
	ctx := context.Background()

	_, found, err := cl.Get(ctx, "missing")
	c.Assert(err, qt.IsNil)
	c.Assert(found, qt.IsFalse)

	cfg := value.MustFromAny(map[string]any{"db": map[string]any{"port": 5432}})
	resp, err := cl.Set(ctx, "app.config", cfg, "alice")
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Changed, qt.IsTrue)
	c.Assert(resp.Status, qt.Equals, "ok")

	got, found, err := cl.Get(ctx, "app.config")
	c.Assert(err, qt.IsNil)
	c.Assert(found, qt.IsTrue)
	c.Assert(got.Equal(cfg), qt.IsTrue)

	port, found, err := cl.GetPath(ctx, "app.config", "$.db.port")
	c.Assert(err, qt.IsNil)
	c.Assert(found, qt.IsTrue)
	c.Assert(port.Equal(value.Int(5432)), qt.IsTrue)

	resp, err = cl.Set(ctx, "app.config", cfg, "bob")
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Changed, qt.IsFalse)
	c.Assert(resp.Status, qt.Equals, "unchanged")

	all, err := cl.All(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(all.KeyCount, qt.Equals, 1)

	del, err := cl.Delete(ctx, "app.config", "alice")
	c.Assert(err, qt.IsNil)
	c.Assert(del.Deleted, qt.IsTrue)

	hist, err := cl.History(ctx, models.HistoryFilter{Key: "app.config"})
	c.Assert(err, qt.IsNil)
	c.Assert(hist.TotalEntries, qt.Equals, 2)
	c.Assert(hist.History[0].Who, qt.Equals, "alice")

	hist, err = cl.History(ctx, models.HistoryFilter{Who: "bob"})
	c.Assert(err, qt.IsNil)
	c.Assert(hist.History, qt.HasLen, 0)

	c.Assert(store.Len(), qt.Equals, 0)
}

func TestClient_Merge(t *testing.T) {
	c := qt.New(t)
	cl, store := newClient(c)

	remote := ctxstore.New()
	remote.Set("a", value.Int(1), "r1")
	remote.Set("b", value.String("x"), "r2")

	resp, err := cl.Merge(context.Background(), models.MergeRequest{
		History: remote.History(models.HistoryFilter{}),
		Prefix:  "remote.",
	})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Applied, qt.Equals, 2)

	v, ok := store.Get("remote.b")
	c.Assert(ok, qt.IsTrue)
	c.Assert(v.Equal(value.String("x")), qt.IsTrue)
}

func TestClient_Dumps_HappyPath(t *testing.T) {
	c := qt.New(t)
	cl, store := newClient(c)
	ctx := context.Background()
	store.Set("name", value.String("Bob"), "t")

	resp, err := cl.Dump(ctx, models.DumpRequest{Format: "tabular", Filename: "people", Who: "alice"})
	c.Assert(err, qt.IsNil)
	c.Assert(resp.Filename, qt.Equals, "people.csv")
	c.Assert(resp.Who, qt.Equals, "alice")

	list, err := cl.ListDumps(ctx)
	c.Assert(err, qt.IsNil)
	c.Assert(list.DumpCount, qt.Equals, 1)
	c.Assert(list.DumpHistory, qt.HasLen, 1)

	data, ct, err := cl.DownloadDump(ctx, "people.csv")
	c.Assert(err, qt.IsNil)
	c.Assert(ct, qt.Matches, "text/csv.*")
	c.Assert(string(data), qt.Contains, "name,Bob,string")

	c.Assert(cl.RemoveDump(ctx, "people.csv"), qt.IsNil)

	_, _, err = cl.DownloadDump(ctx, "people.csv")
	c.Assert(errors.Is(err, client.ErrNotFound), qt.IsTrue)
	c.Assert(errors.Is(err, client.ErrRejected), qt.IsTrue)
}

func TestClient_Rejections_FailurePath(t *testing.T) {
	c := qt.New(t)
	cl, _ := newClient(c)
	ctx := context.Background()

	tests := []struct {
		name   string
		call   func() error
		status int
	}{
		{
			name: "empty key on set",
			call: func() error {
				_, err := cl.Set(ctx, "", value.Int(1), "")
				return err
			},
			status: http.StatusBadRequest,
		},
		{
			name: "null value on set",
			call: func() error {
				_, err := cl.Set(ctx, "k", value.Null(), "")
				return err
			},
			status: http.StatusBadRequest,
		},
		{
			name: "unsupported dump format",
			call: func() error {
				_, err := cl.Dump(ctx, models.DumpRequest{Format: "xml"})
				return err
			},
			status: http.StatusBadRequest,
		},
		{
			name:   "remove missing dump",
			call:   func() error { return cl.RemoveDump(ctx, "nope.json") },
			status: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		c.Run(tt.name, func(c *qt.C) {
			err := tt.call()
			var apiErr *client.APIError
			c.Assert(errors.As(err, &apiErr), qt.IsTrue)
			c.Assert(apiErr.StatusCode, qt.Equals, tt.status)
			c.Assert(apiErr.Message, qt.Not(qt.Equals), "")
			c.Assert(errors.Is(err, client.ErrRejected), qt.IsTrue)
			c.Assert(errors.Is(err, client.ErrConnection), qt.IsFalse)
			c.Assert(errors.Is(err, client.ErrTimeout), qt.IsFalse)
		})
	}
}

func TestClient_Transport_FailurePath(t *testing.T) {
	c := qt.New(t)

	c.Run("unreachable server is a connection error", func(c *qt.C) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		c.Assert(err, qt.IsNil)
		addr := ln.Addr().String()
		c.Assert(ln.Close(), qt.IsNil)

		cl, err := client.New("http://" + addr)
		c.Assert(err, qt.IsNil)
		_, _, err = cl.Get(context.Background(), "k")
		c.Assert(errors.Is(err, client.ErrConnection), qt.IsTrue)
		c.Assert(errors.Is(err, client.ErrRejected), qt.IsFalse)
	})

	c.Run("slow server is a timeout", func(c *qt.C) {
		release := make(chan struct{})
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		c.Cleanup(ts.Close)
		c.Cleanup(func() { close(release) })

		cl, err := client.New(ts.URL, client.WithTimeout(50*time.Millisecond))
		c.Assert(err, qt.IsNil)
		_, err = cl.Health(context.Background())
		c.Assert(errors.Is(err, client.ErrTimeout), qt.IsTrue)
		c.Assert(errors.Is(err, client.ErrConnection), qt.IsFalse)
	})

	c.Run("non-JSON error body keeps the text", func(c *qt.C) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "upstream broke", http.StatusBadGateway)
		}))
		c.Cleanup(ts.Close)

		cl, err := client.New(ts.URL)
		c.Assert(err, qt.IsNil)
		_, err = cl.All(context.Background())
		var apiErr *client.APIError
		c.Assert(errors.As(err, &apiErr), qt.IsTrue)
		c.Assert(apiErr.StatusCode, qt.Equals, http.StatusBadGateway)
		c.Assert(strings.TrimSpace(apiErr.Message), qt.Equals, "upstream broke")
	})
}

func TestClient_HealthAndObservers(t *testing.T) {
	c := qt.New(t)
	cl, store := newClient(c)
	store.Set("a", value.Bool(true), "t")

	h, err := cl.Health(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(h.Status, qt.Equals, "ok")
	c.Assert(h.Version, qt.Equals, "test")
	c.Assert(h.KeyCount, qt.Equals, 1)

	obs, err := cl.Observers(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(obs.Count, qt.Equals, 0)
}
