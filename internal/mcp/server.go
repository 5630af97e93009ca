// Package mcp provides the stdio MCP server exposing Context tools for coding
// agents. Every tool is a round trip to a running ctxsync server.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/go-ports/ctxsync/internal/buildinfo"
	"github.com/go-ports/ctxsync/internal/client"
	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

// DefaultWho attributes writes made through MCP when no actor is given.
const DefaultWho = "mcp"

var dumpFormats = []string{"json", "csv", "txt", "pretty", "yaml"}

const getDescription = `Read one key from the shared ctxsync context. Keys are dot-namespaced, e.g. "app.config.timeout". Use path to project a nested field with JSONPath, e.g. "$.db.port".`

const setDescription = `Store a value in the shared ctxsync context. Every connected observer is notified. value is parsed as JSON when possible (numbers, booleans, objects, lists, quoted strings); anything else is stored as a plain string.` //nolint:lll

const listDescription = `List the shared ctxsync context. Use prefix to restrict to one namespace, e.g. "app.".`

// NewServer creates and registers all Context tools on a new MCP server.
// It is separate from Serve so that tests can obtain a configured server
// without committing to the stdio transport.
func NewServer(cl *client.Client, who string) *mcpserver.MCPServer {
	if who == "" {
		who = DefaultWho
	}
	s := mcpserver.NewMCPServer("ctxsync", buildinfo.Version)
	registerTools(s, &tools{cl: cl, who: who})
	return s
}

// Serve starts the stdio MCP server, blocking until stdin closes.
func Serve(_ context.Context, cl *client.Client, who string) error {
	return mcpserver.ServeStdio(NewServer(cl, who))
}

type tools struct {
	cl  *client.Client
	who string
}

func registerTools(s *mcpserver.MCPServer, t *tools) {
	s.AddTool(mcp.NewTool("context_get",
		mcp.WithDescription(getDescription),
		mcp.WithString("key",
			mcp.Description("Context key."),
			mcp.Required(),
		),
		mcp.WithString("path",
			mcp.Description("Optional JSONPath into the stored value."),
		),
	), t.handleGet)

	s.AddTool(mcp.NewTool("context_set",
		mcp.WithDescription(setDescription),
		mcp.WithString("key",
			mcp.Description("Context key."),
			mcp.Required(),
		),
		mcp.WithString("value",
			mcp.Description("Value to store, JSON or plain text."),
			mcp.Required(),
		),
		mcp.WithString("who",
			mcp.Description("Actor recorded in history (default \""+DefaultWho+"\")."),
		),
	), t.handleSet)

	s.AddTool(mcp.NewTool("context_delete",
		mcp.WithDescription("Remove a key from the shared ctxsync context."),
		mcp.WithString("key",
			mcp.Description("Context key."),
			mcp.Required(),
		),
		mcp.WithString("who",
			mcp.Description("Actor recorded in history."),
		),
	), t.handleDelete)

	s.AddTool(mcp.NewTool("context_list",
		mcp.WithDescription(listDescription),
		mcp.WithString("prefix",
			mcp.Description("Only keys starting with this prefix."),
		),
	), t.handleList)

	s.AddTool(mcp.NewTool("context_history",
		mcp.WithDescription("Show the change history of the shared context, oldest first."),
		mcp.WithString("key",
			mcp.Description("Filter to one key."),
		),
		mcp.WithString("who",
			mcp.Description("Filter to one actor."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Only the most recent N records (default 20, 0 for all)."),
		),
	), t.handleHistory)

	s.AddTool(mcp.NewTool("context_dump",
		mcp.WithDescription("Write a dump of the shared context on the server."),
		mcp.WithString("format",
			mcp.Description("Output format."),
			mcp.Required(),
			mcp.Enum(dumpFormats...),
		),
		mcp.WithString("filename",
			mcp.Description("File name; generated when omitted."),
		),
		mcp.WithBoolean("include_history",
			mcp.Description("Append the change history."),
		),
	), t.handleDump)
}

// ---------------------------------------------------------------------------
// Tool handlers
// ---------------------------------------------------------------------------

func (t *tools) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", "")
	if key == "" {
		return mcp.NewToolResultError("key is required"), nil
	}
	v, found, err := t.cl.GetPath(ctx, key, req.GetString("path", ""))
	if err != nil {
		return toolError(t.cl, err), nil
	}
	return jsonResult(map[string]any{"key": key, "value": v, "found": found})
}

func (t *tools) handleSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", "")
	raw := req.GetString("value", "")
	if key == "" || raw == "" {
		return mcp.NewToolResultError("key and value are required"), nil
	}
	resp, err := t.cl.Set(ctx, key, value.ParseLoose(raw), req.GetString("who", t.who))
	if err != nil {
		return toolError(t.cl, err), nil
	}
	return jsonResult(resp)
}

func (t *tools) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key := req.GetString("key", "")
	if key == "" {
		return mcp.NewToolResultError("key is required"), nil
	}
	resp, err := t.cl.Delete(ctx, key, req.GetString("who", t.who))
	if err != nil {
		return toolError(t.cl, err), nil
	}
	return jsonResult(resp)
}

func (t *tools) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	all, err := t.cl.All(ctx)
	if err != nil {
		return toolError(t.cl, err), nil
	}
	entries := filterPrefix(all.Context, req.GetString("prefix", ""))
	return jsonResult(map[string]any{
		"total":   all.KeyCount,
		"showing": len(entries),
		"entries": entries,
	})
}

func (t *tools) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := t.cl.History(ctx, models.HistoryFilter{
		Key: req.GetString("key", ""),
		Who: req.GetString("who", ""),
	})
	if err != nil {
		return toolError(t.cl, err), nil
	}
	limit := req.GetInt("limit", 20)
	recs := lastN(resp.History, limit)
	return jsonResult(map[string]any{
		"total":   resp.TotalEntries,
		"showing": len(recs),
		"history": recs,
	})
}

func (t *tools) handleDump(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resp, err := t.cl.Dump(ctx, models.DumpRequest{
		Format:         req.GetString("format", ""),
		Filename:       req.GetString("filename", ""),
		IncludeHistory: req.GetBool("include_history", false),
		Who:            t.who,
	})
	if err != nil {
		return toolError(t.cl, err), nil
	}
	return jsonResult(resp)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type entry struct {
	Key   string      `json:"key"`
	Value value.Value `json:"value"`
	Type  string      `json:"type"`
}

// filterPrefix returns the entries whose key starts with prefix, sorted by key.
func filterPrefix(data map[string]value.Value, prefix string) []entry {
	out := make([]entry, 0, len(data))
	for k, v := range data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, entry{Key: k, Value: v, Type: v.TypeName()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// lastN returns the last n records; n <= 0 returns all of them.
func lastN(recs []models.Change, n int) []models.Change {
	if recs == nil {
		return make([]models.Change, 0)
	}
	if n <= 0 || n >= len(recs) {
		return recs
	}
	return recs[len(recs)-n:]
}

// toolError turns a client error into a tool error an agent can act on.
func toolError(cl *client.Client, err error) *mcp.CallToolResult {
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr):
		return mcp.NewToolResultError(apiErr.Message)
	case errors.Is(err, client.ErrTimeout):
		return mcp.NewToolResultError(fmt.Sprintf("ctxsync server at %s did not answer in time", cl.BaseURL()))
	case errors.Is(err, client.ErrConnection):
		return mcp.NewToolResultError(fmt.Sprintf("ctxsync server at %s is unreachable; start it with `ctxsync serve`", cl.BaseURL()))
	}
	return mcp.NewToolResultError(err.Error())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
