// Package getcmd implements the `ctxsync get` command.
package getcmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
)

// Command implements `ctxsync get`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	path string
	raw  bool
}

// New creates the get command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value stored under a key",
		Args:  cobra.ExactArgs(1),
		RunE:  c.run,
	}

	f := c.cmd.Flags()
	f.StringVar(&c.path, "path", "", "JSONPath into the value, e.g. $.db.port")
	f.BoolVar(&c.raw, "raw", false, "Print strings without JSON quoting")

	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, args []string) error {
	cl, err := c.ctx.Client()
	if err != nil {
		return err
	}
	v, found, err := cl.GetPath(cmd.Context(), args[0], c.path)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("key %q not found", args[0])
	}
	if c.raw {
		fmt.Fprintln(cmd.OutOrStdout(), v.Text())
		return nil
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
