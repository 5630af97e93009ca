// Package servecmd implements the `ctxsync serve` command.
package servecmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
	"github.com/go-ports/ctxsync/internal/config"
	"github.com/go-ports/ctxsync/internal/service"
)

// Command implements `ctxsync serve`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	listen        string
	dumpDir       string
	noPersistence bool
}

// New creates the serve command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the synchronization server until interrupted",
		RunE:  c.run,
	}

	f := c.cmd.Flags()
	f.StringVar(&c.listen, "listen", "", "Listen address (default: server.listen from config)")
	f.StringVar(&c.dumpDir, "dump-dir", "", "Dump directory (default: dump.dir from config, else <home>/dumps)")
	f.BoolVar(&c.noPersistence, "no-persistence", false, "Keep the context in memory only")

	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, _ []string) error {
	home, source := c.ctx.ResolveHome()
	if err := os.MkdirAll(home, 0o755); err != nil {
		return err
	}
	cfg, err := config.Load(config.Path(home))
	if err != nil {
		return err
	}
	if c.listen != "" {
		cfg.Server.Listen = c.listen
	}
	if c.dumpDir != "" {
		cfg.Dump.Dir = c.dumpDir
	}
	if c.noPersistence {
		cfg.Persistence.Enabled = false
	}

	svc, err := service.NewWithConfig(home, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ctxsync serving on http://%s (home: %s, %s)\n", cfg.Server.Listen, home, source)
	fmt.Fprintf(out, "Dumps: %s\n", svc.Dumps.Dir())
	if svc.Persistent() {
		fmt.Fprintf(out, "Persistence: %s (restored %d keys)\n", cfg.DBPath(home), svc.Store.Len())
		if ts, ok := svc.LastFlush(); ok {
			fmt.Fprintf(out, "Last flush: %s\n", ts.Local().Format(time.DateTime))
		}
	} else {
		fmt.Fprintln(out, "Persistence: disabled")
	}
	return svc.Run(cmd.Context())
}
