// Package mcpcmd implements the `ctxsync mcp` command.
package mcpcmd

import (
	"github.com/spf13/cobra"

	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
	internalmcp "github.com/go-ports/ctxsync/internal/mcp"
)

// Command implements `ctxsync mcp`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the mcp command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "mcp",
		Short: "Start the ctxsync MCP server (stdio transport) against a running server",
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
	who := c.ctx.Who
	if who == "" {
		who = internalmcp.DefaultWho
	}
	return internalmcp.Serve(cmd.Context(), cl, who)
}
