// Package listcmd implements the `ctxsync list` command.
package listcmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
	"github.com/go-ports/ctxsync/internal/value"
)

// Command implements `ctxsync list`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	prefix string
	asJSON bool
}

// New creates the list command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "list",
		Short: "List every key and value",
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}

	f := c.cmd.Flags()
	f.StringVar(&c.prefix, "prefix", "", "Only keys starting with this prefix")
	f.BoolVar(&c.asJSON, "json", false, "Print a JSON object instead of key=value lines")

	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, _ []string) error {
	cl, err := c.ctx.Client()
	if err != nil {
		return err
	}
	all, err := cl.All(cmd.Context())
	if err != nil {
		return err
	}

	selected := make(map[string]value.Value, len(all.Context))
	keys := make([]string, 0, len(all.Context))
	for k, v := range all.Context {
		if strings.HasPrefix(k, c.prefix) {
			selected[k] = v
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := cmd.OutOrStdout()
	if c.asJSON {
		b, err := json.MarshalIndent(selected, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(b))
		return nil
	}
	if len(keys) == 0 {
		fmt.Fprintln(out, "No keys.")
		return nil
	}
	for _, k := range keys {
		fmt.Fprintf(out, "%s=%s\n", k, selected[k].Text())
	}
	return nil
}
