// Package watchcmd implements the `ctxsync watch` command.
package watchcmd

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
	"github.com/go-ports/ctxsync/internal/asyncclient"
)

// Command implements `ctxsync watch`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	name  string
	once  bool
	count int
}

// New creates the watch command.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "watch",
		Short: "Print the context, then every change as it happens",
		Long: `Connect to the push channel, print the context snapshot, then print one
line per accepted change until interrupted or the server goes away.

Each change line starts with the server sequence number.`,
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	f := c.cmd.Flags()
	f.StringVar(&c.name, "name", "", "Name shown in `ctxsync observers` (default: actor)")
	f.BoolVar(&c.once, "once", false, "Exit after printing the snapshot")
	f.IntVar(&c.count, "count", 0, "Exit after N changes (0 for no limit)")

	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, _ []string) error {
	cl, err := c.ctx.Client()
	if err != nil {
		return err
	}
	name := c.name
	if name == "" {
		name = c.ctx.Actor()
	}
	ac := asyncclient.New(cl, asyncclient.Options{Type: "watch", Name: name})

	p := &printer{w: cmd.OutOrStdout()}
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}

	var (
		mu   sync.Mutex
		seen int
	)
	ac.On(asyncclient.EventSnapshot, func(ev asyncclient.Event) error {
		slog.Debug("watch: registered", "connection_id", ac.ConnectionID(), "name", name)
		p.snapshot(ev)
		if c.once {
			finish(nil)
		}
		return nil
	})
	ac.On(asyncclient.EventUpdate, func(ev asyncclient.Event) error {
		p.update(ev)
		mu.Lock()
		seen++
		reached := c.count > 0 && seen >= c.count
		mu.Unlock()
		if reached {
			finish(nil)
		}
		return nil
	})
	ac.On(asyncclient.EventDisconnected, func(ev asyncclient.Event) error {
		if ev.Err != nil {
			finish(fmt.Errorf("connection lost: %w", ev.Err))
		}
		return nil
	})

	if err := ac.Connect(cmd.Context()); err != nil {
		return err
	}
	defer func() {
		_ = ac.Disconnect()
		ac.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-cmd.Context().Done():
		return nil
	}
}

// printer serialises output from concurrently running handlers.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) snapshot(ev asyncclient.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	keys := make([]string, 0, len(ev.Snapshot))
	for k := range ev.Snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(p.w, "# snapshot: %d keys\n", len(keys))
	for _, k := range keys {
		fmt.Fprintf(p.w, "%s=%s\n", k, ev.Snapshot[k].Text())
	}
}

func (p *printer) update(ev asyncclient.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u := ev.Update
	ts := u.Timestamp.Local().Format(time.TimeOnly)
	if u.Deleted {
		fmt.Fprintf(p.w, "[%d %s %s] %s deleted\n", u.Seq, ts, u.Who, u.Key)
		return
	}
	fmt.Fprintf(p.w, "[%d %s %s] %s=%s\n", u.Seq, ts, u.Who, u.Key, u.Value.Text())
}
