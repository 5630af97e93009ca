// Package e2e_test: MCP server end-to-end tests.
//
// Each test wires the real MCP server in-process via the mcp-go
// InProcessTransport. Its tools talk to a real ctxsync server on an httptest
// listener, backed by a fresh service.Service rooted at a temporary
// directory. The full stack (mcp-go client → tool handler → HTTP client →
// server → store) is exercised within a single test process.
package e2e_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	qt "github.com/frankban/quicktest"
	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/go-ports/ctxsync/internal/checkers"
	"github.com/go-ports/ctxsync/internal/client"
	internalmcp "github.com/go-ports/ctxsync/internal/mcp"
	"github.com/go-ports/ctxsync/internal/service"
	"github.com/go-ports/ctxsync/internal/value"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newMCPClient creates an in-process MCP client whose tools target serverURL.
// The client is started and initialized before it is returned; cleanup is
// registered on c automatically.
func newMCPClient(c *qt.C, serverURL string) *mcpclient.Client {
	c.TB.Helper()

	rr, err := client.New(serverURL)
	c.Assert(err, qt.IsNil)

	cl, err := mcpclient.NewInProcessClient(internalmcp.NewServer(rr, ""))
	c.Assert(err, qt.IsNil)
	c.TB.Cleanup(func() { _ = cl.Close() })

	c.Assert(cl.Start(context.Background()), qt.IsNil)

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "e2e-test", Version: "0.0.1"}
	_, err = cl.Initialize(context.Background(), initReq)
	c.Assert(err, qt.IsNil)

	return cl
}

// newMCPEnv starts a ctxsync server and returns it together with an MCP
// client pointed at it.
func newMCPEnv(c *qt.C) (*service.Service, *mcpclient.Client) {
	c.TB.Helper()

	svc, err := service.New(c.TB.TempDir())
	c.Assert(err, qt.IsNil)
	c.TB.Cleanup(func() { _ = svc.Close() })

	ts := httptest.NewServer(svc.Server.Handler())
	c.TB.Cleanup(ts.Close)

	return svc, newMCPClient(c, ts.URL)
}

// callToolResult invokes the named MCP tool and returns the raw result.
func callToolResult(c *qt.C, cl *mcpclient.Client, name string, args map[string]any) *mcp.CallToolResult {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := cl.CallTool(context.Background(), req)
	c.Assert(err, qt.IsNil)
	c.Assert(result.Content, qt.HasLen, 1)
	return result
}

// callTool invokes the named MCP tool and returns the text of the first
// content item. Tool errors fail the test.
func callTool(c *qt.C, cl *mcpclient.Client, name string, args map[string]any) string {
	result := callToolResult(c, cl, name, args)
	tc, ok := mcp.AsTextContent(result.Content[0])
	c.Assert(ok, qt.IsTrue)
	c.Assert(result.IsError, qt.IsFalse, qt.Commentf("tool error: %s", tc.Text))
	return tc.Text
}

// ---------------------------------------------------------------------------
// ListTools
// ---------------------------------------------------------------------------

func TestMCPListTools_HappyPath(t *testing.T) {
	c := qt.New(t)
	_, cl := newMCPEnv(c)

	result, err := cl.ListTools(context.Background(), mcp.ListToolsRequest{})
	c.Assert(err, qt.IsNil)
	c.Assert(result.Tools, qt.HasLen, 6)

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	for _, want := range []string{
		"context_get", "context_set", "context_delete",
		"context_list", "context_history", "context_dump",
	} {
		c.Assert(names, qt.Contains, want)
	}
}

// ---------------------------------------------------------------------------
// context_set / context_get
// ---------------------------------------------------------------------------

func TestMCPSetGet_HappyPath(t *testing.T) {
	c := qt.New(t)
	svc, cl := newMCPEnv(c)

	cases := []struct {
		name string
		raw  string
		want value.Value
	}{
		{"integer", "42", value.Int(42)},
		{"boolean", "true", value.Bool(true)},
		{"quoted string", `"42"`, value.String("42")},
		{"plain text", "hello world", value.String("hello world")},
		{"object", `{"host":"db1","port":5432}`, value.MustFromAny(map[string]any{"host": "db1", "port": 5432})},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			key := "k." + tc.name
			text := callTool(c, cl, "context_set", map[string]any{"key": key, "value": tc.raw})
			c.Assert(text, checkers.JSONPathEquals("$.changed"), true)
			c.Assert(text, checkers.JSONPathEquals("$.key"), key)

			got, ok := svc.Store.Get(key)
			c.Assert(ok, qt.IsTrue)
			c.Assert(got.Equal(tc.want), qt.IsTrue, qt.Commentf("got %s", got.Text()))
		})
	}

	c.Run("writes are attributed to the mcp actor by default", func(c *qt.C) {
		callTool(c, cl, "context_set", map[string]any{"key": "who.default", "value": "1"})
		callTool(c, cl, "context_set", map[string]any{"key": "who.explicit", "value": "1", "who": "agent-7"})

		text := callTool(c, cl, "context_history", map[string]any{"key": "who.default"})
		c.Assert(text, checkers.JSONPathEquals("$.history[0].who"), internalmcp.DefaultWho)
		text = callTool(c, cl, "context_history", map[string]any{"key": "who.explicit"})
		c.Assert(text, checkers.JSONPathEquals("$.history[0].who"), "agent-7")
	})

	c.Run("get returns the stored value", func(c *qt.C) {
		text := callTool(c, cl, "context_get", map[string]any{"key": "k.object"})
		c.Assert(text, checkers.JSONPathEquals("$.found"), true)
		c.Assert(text, checkers.JSONPathEquals("$.value.host"), "db1")
	})

	c.Run("get projects a JSONPath", func(c *qt.C) {
		text := callTool(c, cl, "context_get", map[string]any{"key": "k.object", "path": "$.port"})
		c.Assert(text, checkers.JSONPathEquals("$.value"), 5432)
	})

	c.Run("get of a missing key is not an error", func(c *qt.C) {
		text := callTool(c, cl, "context_get", map[string]any{"key": "nope"})
		c.Assert(text, checkers.JSONPathEquals("$.found"), false)
	})

	c.Run("repeating a set reports no change", func(c *qt.C) {
		text := callTool(c, cl, "context_set", map[string]any{"key": "k.integer", "value": "42"})
		c.Assert(text, checkers.JSONPathEquals("$.changed"), false)
	})
}

// ---------------------------------------------------------------------------
// context_list / context_delete / context_history
// ---------------------------------------------------------------------------

func TestMCPListDeleteHistory_HappyPath(t *testing.T) {
	c := qt.New(t)
	svc, cl := newMCPEnv(c)
	svc.Store.Set("app.name", value.String("demo"), "seed")
	svc.Store.Set("app.port", value.Int(8080), "seed")
	svc.Store.Set("db.host", value.String("db1"), "seed")

	text := callTool(c, cl, "context_list", map[string]any{"prefix": "app."})
	c.Assert(text, checkers.JSONPathEquals("$.total"), 3)
	c.Assert(text, checkers.JSONPathEquals("$.showing"), 2)
	c.Assert(text, checkers.JSONPathEquals("$.entries[0].key"), "app.name")
	c.Assert(text, checkers.JSONPathEquals("$.entries[1].type"), "int")

	text = callTool(c, cl, "context_delete", map[string]any{"key": "app.port", "who": "agent"})
	c.Assert(text, checkers.JSONPathEquals("$.deleted"), true)
	text = callTool(c, cl, "context_delete", map[string]any{"key": "app.port"})
	c.Assert(text, checkers.JSONPathEquals("$.deleted"), false)

	text = callTool(c, cl, "context_history", map[string]any{"key": "app.port"})
	c.Assert(text, checkers.JSONPathEquals("$.showing"), 2)
	c.Assert(text, checkers.JSONPathEquals("$.history[1].op"), "delete")
	c.Assert(text, checkers.JSONPathEquals("$.history[1].who"), "agent")

	text = callTool(c, cl, "context_history", map[string]any{"limit": 1})
	c.Assert(text, checkers.JSONPathEquals("$.total"), 4)
	c.Assert(text, checkers.JSONPathEquals("$.showing"), 1)
	c.Assert(text, checkers.JSONPathEquals("$.history[0].key"), "app.port")

	var all struct {
		History []json.RawMessage `json:"history"`
	}
	text = callTool(c, cl, "context_history", map[string]any{"limit": 0})
	c.Assert(json.Unmarshal([]byte(text), &all), qt.IsNil)
	c.Assert(all.History, qt.HasLen, 4)
}

// ---------------------------------------------------------------------------
// context_dump
// ---------------------------------------------------------------------------

func TestMCPDump_HappyPath(t *testing.T) {
	c := qt.New(t)
	svc, cl := newMCPEnv(c)
	svc.Store.Set("a", value.Int(1), "seed")

	text := callTool(c, cl, "context_dump", map[string]any{
		"format":          "yaml",
		"filename":        "snap",
		"include_history": true,
	})
	c.Assert(text, checkers.JSONPathEquals("$.filename"), "snap.yaml")
	c.Assert(text, checkers.JSONPathEquals("$.key_count"), 1)
	c.Assert(text, checkers.JSONPathEquals("$.who"), internalmcp.DefaultWho)

	list, err := svc.Dumps.List()
	c.Assert(err, qt.IsNil)
	c.Assert(list, qt.HasLen, 1)
}

// ---------------------------------------------------------------------------
// Failure paths
// ---------------------------------------------------------------------------

func TestMCPCallTool_FailurePath(t *testing.T) {
	c := qt.New(t)
	_, cl := newMCPEnv(c)

	c.Run("unknown tool name returns error", func(c *qt.C) {
		req := mcp.CallToolRequest{}
		req.Params.Name = "nonexistent_tool"
		req.Params.Arguments = make(map[string]any)

		_, err := cl.CallTool(context.Background(), req)
		c.Assert(err, qt.IsNotNil)
	})

	c.Run("missing key is a tool error", func(c *qt.C) {
		res := callToolResult(c, cl, "context_get", map[string]any{})
		c.Assert(res.IsError, qt.IsTrue)
	})

	c.Run("unresolvable JSONPath reads as not found", func(c *qt.C) {
		callTool(c, cl, "context_set", map[string]any{"key": "obj", "value": `{"a":1}`})
		text := callTool(c, cl, "context_get", map[string]any{"key": "obj", "path": "$.missing"})
		c.Assert(text, checkers.JSONPathEquals("$.found"), false)
	})
}

func TestMCPUnreachableServer_FailurePath(t *testing.T) {
	c := qt.New(t)
	cl := newMCPClient(c, "http://127.0.0.1:1")

	res := callToolResult(c, cl, "context_list", map[string]any{})
	c.Assert(res.IsError, qt.IsTrue)
	text, ok := mcp.AsTextContent(res.Content[0])
	c.Assert(ok, qt.IsTrue)
	c.Assert(text.Text, qt.Matches, `ctxsync server at http://127\.0\.0\.1:1 is unreachable.*`)
}
