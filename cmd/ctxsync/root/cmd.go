// Package rootcmd wires the root cobra.Command for the ctxsync CLI binary.
package rootcmd

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	agentscmd "github.com/go-ports/ctxsync/cmd/ctxsync/agents"
	configcmd "github.com/go-ports/ctxsync/cmd/ctxsync/config"
	deletecmd "github.com/go-ports/ctxsync/cmd/ctxsync/delete"
	dumpcmd "github.com/go-ports/ctxsync/cmd/ctxsync/dump"
	getcmd "github.com/go-ports/ctxsync/cmd/ctxsync/get"
	historycmd "github.com/go-ports/ctxsync/cmd/ctxsync/history"
	listcmd "github.com/go-ports/ctxsync/cmd/ctxsync/list"
	mcpcmd "github.com/go-ports/ctxsync/cmd/ctxsync/mcp"
	mergecmd "github.com/go-ports/ctxsync/cmd/ctxsync/merge"
	observerscmd "github.com/go-ports/ctxsync/cmd/ctxsync/observers"
	servecmd "github.com/go-ports/ctxsync/cmd/ctxsync/serve"
	setcmd "github.com/go-ports/ctxsync/cmd/ctxsync/set"
	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
	watchcmd "github.com/go-ports/ctxsync/cmd/ctxsync/watch"
	"github.com/go-ports/ctxsync/internal/buildinfo"
	"github.com/go-ports/ctxsync/internal/config"
	"github.com/go-ports/ctxsync/internal/redaction"
)

// New creates and returns the root cobra.Command for the ctxsync CLI.
func New() *cobra.Command {
	ctx := &shared.Context{}

	root := &cobra.Command{
		Use:           "ctxsync",
		Short:         "ctxsync: shared context for cooperating processes",
		Version:       buildinfo.Summary(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          func(cmd *cobra.Command, _ []string) error { return cmd.Help() },
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setupLogging(ctx, cmd.ErrOrStderr())
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&ctx.Home, "home", "",
		"Override ctxsync home directory (default: $CTXSYNC_HOME env → persisted config → ~/.ctxsync)")
	f.StringVar(&ctx.ServerURL, "server", "", "Server URL (default: client.server_url from config)")
	f.DurationVar(&ctx.Timeout, "timeout", 0, "Per-request timeout (default: client.timeout from config)")
	f.StringVar(&ctx.Who, "who", "", "Actor recorded in history (default: $USER)")
	f.StringVar(&ctx.LogLevel, "log-level", "", "Log level: debug, info, warn, error (default: log.level from config)")

	root.AddCommand(
		servecmd.New(ctx).Cmd(),
		getcmd.New(ctx).Cmd(),
		setcmd.New(ctx).Cmd(),
		deletecmd.New(ctx).Cmd(),
		listcmd.New(ctx).Cmd(),
		historycmd.New(ctx).Cmd(),
		mergecmd.New(ctx).Cmd(),
		dumpcmd.New(ctx).Cmd(),
		observerscmd.New(ctx).Cmd(),
		watchcmd.New(ctx).Cmd(),
		mcpcmd.New(ctx).Cmd(),
		agentscmd.New(ctx).Cmd(),
		configcmd.New(ctx).Cmd(),
	)

	return root
}

// setupLogging installs the default slog handler from config and flags.
// Log output never goes to stdout, which the mcp command owns.
func setupLogging(ctx *shared.Context, w io.Writer) error {
	cfg, err := ctx.Config()
	if err != nil {
		return err
	}
	levelName := cfg.Log.Level
	if ctx.LogLevel != "" {
		levelName = ctx.LogLevel
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		return fmt.Errorf("invalid log level %q", levelName)
	}
	redactor, err := redaction.New(cfg.Redaction.Patterns)
	if err != nil {
		home, _ := ctx.ResolveHome()
		return fmt.Errorf("%s: redaction.patterns: %w", config.Path(home), err)
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: redactor.ReplaceAttr}
	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "", "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", cfg.Log.Format)
	}
	slog.SetDefault(slog.New(h))
	return nil
}
