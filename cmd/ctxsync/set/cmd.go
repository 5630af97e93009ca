// Package setcmd implements the `ctxsync set` command.
package setcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
	"github.com/go-ports/ctxsync/internal/asyncclient"
	"github.com/go-ports/ctxsync/internal/value"
)

// Command implements `ctxsync set`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	asString bool
	push     bool
}

// New creates the set command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value under a key",
		Long: `Store a value under a key.

The value is parsed as JSON when possible, so 3, true, {"a":1} and [1,2] keep
their types; anything else is stored as a string. Use --string to force a
string.`,
		Args: cobra.ExactArgs(2),
		RunE: c.run,
	}

	f := c.cmd.Flags()
	f.BoolVar(&c.asString, "string", false, "Store the value as a string without JSON parsing")
	f.BoolVar(&c.push, "push", false, "Send over the push channel without waiting for an acknowledgment")

	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, args []string) error {
	key := args[0]
	v := value.ParseLoose(args[1])
	if c.asString {
		v = value.String(args[1])
	}

	cl, err := c.ctx.Client()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if c.push {
		ac := asyncclient.New(cl, asyncclient.Options{Type: "cli", Name: c.ctx.Actor()})
		if err := ac.Connect(cmd.Context()); err != nil {
			return err
		}
		defer ac.Disconnect()
		if err := ac.EmitSet(key, v, c.ctx.Actor()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Sent: %s = %s\n", key, v.Text())
		return nil
	}

	resp, err := cl.Set(cmd.Context(), key, v, c.ctx.Actor())
	if err != nil {
		return err
	}
	if !resp.Changed {
		fmt.Fprintf(out, "Unchanged: %s = %s\n", key, v.Text())
		return nil
	}
	fmt.Fprintf(out, "Set: %s = %s (%s)\n", key, v.Text(), v.TypeName())
	return nil
}
