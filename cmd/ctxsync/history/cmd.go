// Package historycmd implements the `ctxsync history` command.
package historycmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

// Command implements `ctxsync history`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	key   string
	who   string
	limit int
}

// New creates the history command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "history",
		Short: "Show the change history, oldest first",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}

	f := c.cmd.Flags()
	f.StringVar(&c.key, "key", "", "Filter to one key")
	f.StringVar(&c.who, "actor", "", "Filter to one actor")
	f.IntVar(&c.limit, "limit", 0, "Only the most recent N records (0 for all)")

	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, _ []string) error {
	cl, err := c.ctx.Client()
	if err != nil {
		return err
	}
	resp, err := cl.History(cmd.Context(), models.HistoryFilter{Key: c.key, Who: c.who})
	if err != nil {
		return err
	}
	recs := resp.History
	if c.limit > 0 && c.limit < len(recs) {
		recs = recs[len(recs)-c.limit:]
	}

	out := cmd.OutOrStdout()
	if len(recs) == 0 {
		fmt.Fprintln(out, "No history.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tWHO\tKEY\tCHANGE")
	for i := range recs {
		r := &recs[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s -> %s\n",
			r.Seq, r.Timestamp.Local().Format(time.DateTime), r.Who, r.Key, show(r.Before), show(r.After))
	}
	return tw.Flush()
}

func show(v *value.Value) string {
	if v == nil {
		return "(absent)"
	}
	return v.Text()
}
