// Package agentscmd implements the `ctxsync agents` command group.
package agentscmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
	"github.com/go-ports/ctxsync/internal/agents"
)

// Command implements `ctxsync agents`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command
}

// New creates the agents command group.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "agents",
		Short: "Register the ctxsync MCP server with coding agents",
		Long: `Register the ctxsync MCP server with coding agents.

Supported agents: claude-code, cursor, codex, opencode.
The global --home, --server and --who flags given here are written into the
registered command, so the agent talks to the same server.`,
		RunE: func(cmd *cobra.Command, _ []string) error { return cmd.Help() },
	}
	c.cmd.AddCommand(
		c.newInstall(),
		c.newUninstall(),
	)
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

// ---------------------------------------------------------------------------
// agents install
// ---------------------------------------------------------------------------

func (c *Command) newInstall() *cobra.Command {
	var project bool
	cmd := &cobra.Command{
		Use:   "install <agent>",
		Short: "Add ctxsync to an agent's MCP config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := c.target(args[0], project)
			if err != nil {
				return err
			}
			target.Args = c.forwardedArgs()
			res, err := agents.Install(target)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if res.Changed {
				fmt.Fprintf(out, "Installed: %s in %s\n", agents.ServerName, res.Path)
			} else {
				fmt.Fprintf(out, "Already installed in %s\n", res.Path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&project, "project", false, "Use the project config in the current directory")
	return cmd
}

// ---------------------------------------------------------------------------
// agents uninstall
// ---------------------------------------------------------------------------

func (c *Command) newUninstall() *cobra.Command {
	var project bool
	cmd := &cobra.Command{
		Use:   "uninstall <agent>",
		Short: "Remove ctxsync from an agent's MCP config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := c.target(args[0], project)
			if err != nil {
				return err
			}
			res, err := agents.Uninstall(target)
			if err != nil {
				return err
			}
			if res.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s from %s\n", agents.ServerName, res.Path)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to remove")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&project, "project", false, "Use the project config in the current directory")
	return cmd
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

//revive:disable:flag-parameter
func (c *Command) target(name string, project bool) (agents.Target, error) {
	agent, err := agents.ParseAgent(name)
	if err != nil {
		return agents.Target{}, err
	}
	t := agents.Target{Agent: agent}
	if project {
		if t.Project, err = os.Getwd(); err != nil {
			return agents.Target{}, err
		}
	}
	return t, nil
}

//revive:enable:flag-parameter

// forwardedArgs repeats the global flags that locate the server.
func (c *Command) forwardedArgs() []string {
	var args []string
	if c.ctx.Home != "" {
		home, _ := c.ctx.ResolveHome()
		args = append(args, "--home", home)
	}
	if c.ctx.ServerURL != "" {
		args = append(args, "--server", strings.TrimRight(c.ctx.ServerURL, "/"))
	}
	if c.ctx.Who != "" {
		args = append(args, "--who", c.ctx.Who)
	}
	return args
}
