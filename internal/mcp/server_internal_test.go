package mcp

// White-box testing required: filterPrefix, lastN and toolError shape the
// tool responses but are only reachable through a running ctxsync server.
// Direct access covers their edge cases without one.

import (
	"fmt"
	"net/http"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/go-ports/ctxsync/internal/client"
	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

// ---------------------------------------------------------------------------
// filterPrefix
// ---------------------------------------------------------------------------

func TestFilterPrefix_HappyPath(t *testing.T) {
	c := qt.New(t)

	data := map[string]value.Value{
		"app.name": value.String("x"),
		"app.port": value.Int(1),
		"db.host":  value.String("h"),
	}

	cases := []struct {
		name   string
		prefix string
		want   []string
	}{
		{"empty prefix keeps everything sorted", "", []string{"app.name", "app.port", "db.host"}},
		{"namespace prefix", "app.", []string{"app.name", "app.port"}},
		{"no match", "cache.", []string{}},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			got := filterPrefix(data, tc.prefix)
			keys := make([]string, 0, len(got))
			for _, e := range got {
				keys = append(keys, e.Key)
			}
			c.Assert(keys, qt.DeepEquals, tc.want)
		})
	}

	c.Run("type names are reported", func(c *qt.C) {
		got := filterPrefix(data, "app.port")
		c.Assert(got, qt.HasLen, 1)
		c.Assert(got[0].Type, qt.Equals, "int")
	})
}

// ---------------------------------------------------------------------------
// lastN
// ---------------------------------------------------------------------------

func TestLastN_HappyPath(t *testing.T) {
	c := qt.New(t)

	recs := []models.Change{{Seq: 1}, {Seq: 2}, {Seq: 3}}

	cases := []struct {
		name string
		in   []models.Change
		n    int
		want []uint64
	}{
		{"fewer than n", recs, 10, []uint64{1, 2, 3}},
		{"last two", recs, 2, []uint64{2, 3}},
		{"zero means all", recs, 0, []uint64{1, 2, 3}},
		{"negative means all", recs, -1, []uint64{1, 2, 3}},
		{"nil becomes empty", nil, 5, []uint64{}},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			got := lastN(tc.in, tc.n)
			c.Assert(got, qt.IsNotNil)
			seqs := make([]uint64, 0, len(got))
			for i := range got {
				seqs = append(seqs, got[i].Seq)
			}
			c.Assert(seqs, qt.DeepEquals, tc.want)
		})
	}
}

// ---------------------------------------------------------------------------
// toolError
// ---------------------------------------------------------------------------

func TestToolError(t *testing.T) {
	c := qt.New(t)

	cl, err := client.New("http://127.0.0.1:5050")
	c.Assert(err, qt.IsNil)

	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "rejection shows the server message",
			err:  &client.APIError{StatusCode: http.StatusBadRequest, Message: "invalid request: key is required"},
			want: "invalid request: key is required",
		},
		{
			name: "connection error names the server",
			err:  fmt.Errorf("%w: dial tcp: refused", client.ErrConnection),
			want: "ctxsync server at http://127.0.0.1:5050 is unreachable; start it with `ctxsync serve`",
		},
		{
			name: "timeout names the server",
			err:  fmt.Errorf("%w: deadline", client.ErrTimeout),
			want: "ctxsync server at http://127.0.0.1:5050 did not answer in time",
		},
		{
			name: "other errors pass through",
			err:  fmt.Errorf("client: decode response: eof"),
			want: "client: decode response: eof",
		},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			res := toolError(cl, tc.err)
			c.Assert(res.IsError, qt.IsTrue)
			c.Assert(res.Content, qt.HasLen, 1)
			text, ok := mcp.AsTextContent(res.Content[0])
			c.Assert(ok, qt.IsTrue)
			c.Assert(text.Text, qt.Equals, tc.want)
		})
	}
}
