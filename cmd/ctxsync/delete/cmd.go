// Package deletecmd implements the `ctxsync delete` command.
package deletecmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
)

// Command implements `ctxsync delete`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the delete command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, args []string) error {
	cl, err := c.ctx.Client()
	if err != nil {
		return err
	}
	resp, err := cl.Delete(cmd.Context(), args[0], c.ctx.Actor())
	if err != nil {
		return err
	}
	if resp.Deleted {
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %s\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Key %q not found\n", args[0])
	}
	return nil
}
