// Package observerscmd implements the `ctxsync observers` command.
package observerscmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
)

// Command implements `ctxsync observers`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the observers command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "observers",
		Short: "List clients connected to the push channel",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, _ []string) error {
	cl, err := c.ctx.Client()
	if err != nil {
		return err
	}
	resp, err := cl.Observers(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if resp.Count == 0 {
		fmt.Fprintln(out, "No observers connected.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tNAME\tSTATE\tCONNECTED")
	for _, o := range resp.Observers {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			o.ConnectionID, o.Type, o.Name, o.State, o.ConnectedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}
