// Package mergecmd implements the `ctxsync merge` command.
package mergecmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

// Command implements `ctxsync merge`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	prefix string
}

// New creates the merge command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "merge <file>",
		Short: "Replay history from a file into the server context (last write wins)",
		Long: `Replay history from a file into the server context.

The file is either a JSON array of history records, or a JSON dump. A dump
written with --include-history is replayed record by record; otherwise each
key of its context is applied as a set. Records are applied in order and the
last write wins; there is no conflict detection.`,
		Args: cobra.ExactArgs(1),
		RunE: c.run,
	}

	c.cmd.Flags().StringVar(&c.prefix, "prefix", "", "Namespace prepended to every merged key, e.g. remote.")

	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read %q: %w", args[0], err)
	}
	records, err := parseRecords(data)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	cl, err := c.ctx.Client()
	if err != nil {
		return err
	}
	resp, err := cl.Merge(cmd.Context(), models.MergeRequest{
		History: records,
		Prefix:  c.prefix,
		Who:     c.ctx.Actor(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Merged: %d of %d records applied\n", resp.Applied, len(records))
	return nil
}

// parseRecords accepts a history array or a structured dump document.
func parseRecords(data []byte) ([]models.Change, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty file")
	}
	if data[0] == '[' {
		var recs []models.Change
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, fmt.Errorf("invalid history array: %w", err)
		}
		return recs, nil
	}

	var doc struct {
		Context     map[string]value.Value `json:"context"`
		History     []models.Change        `json:"history"`
		RequestedBy string                 `json:"requested_by"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid dump document: %w", err)
	}
	if len(doc.History) > 0 {
		return doc.History, nil
	}
	if doc.Context == nil {
		return nil, errors.New("no history or context found")
	}
	keys := make([]string, 0, len(doc.Context))
	for k := range doc.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	recs := make([]models.Change, 0, len(keys))
	for _, k := range keys {
		v := doc.Context[k]
		recs = append(recs, models.Change{Key: k, Op: models.OpSet, Who: doc.RequestedBy, After: &v})
	}
	return recs, nil
}
