// Package dumpcmd implements the `ctxsync dump` command group.
package dumpcmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/go-ports/ctxsync/cmd/ctxsync/shared"
	"github.com/go-ports/ctxsync/internal/models"
)

// Command implements `ctxsync dump`.
type Command struct {
	ctx *shared.Context
	cmd *cobra.Command

	format         string
	filename       string
	includeHistory bool
}

// New creates the dump command group.
func New(ctx *shared.Context) *Command {
	c := &Command{ctx: ctx}
	c.cmd = &cobra.Command{
		Use:   "dump",
		Short: "Write a dump of the context on the server",
		Long: `Write a dump of the context on the server.

Formats: json (structured), csv (tabular), txt (key=value lines),
pretty (annotated markdown) and yaml.`,
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	f := c.cmd.Flags()
	f.StringVar(&c.format, "format", "json", "Output format: json, csv, txt, pretty, yaml")
	f.StringVar(&c.filename, "filename", "", "File name (default: generated from the time)")
	f.BoolVar(&c.includeHistory, "include-history", false, "Append the change history")

	c.cmd.AddCommand(
		newList(ctx),
		newDownload(ctx),
		newRemove(ctx),
	)
	return c
}

// Cmd returns the cobra command.
func (c *Command) Cmd() *cobra.Command { return c.cmd }

func (c *Command) run(cmd *cobra.Command, _ []string) error {
	cl, err := c.ctx.Client()
	if err != nil {
		return err
	}
	resp, err := cl.Dump(cmd.Context(), models.DumpRequest{
		Format:         c.format,
		Filename:       c.filename,
		IncludeHistory: c.includeHistory,
		Who:            c.ctx.Actor(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Dumped: %s (%s, %d keys, %d bytes)\n",
		resp.Filename, resp.Format, resp.KeyCount, resp.FileSize)
	return nil
}

// ---------------------------------------------------------------------------
// dump list
// ---------------------------------------------------------------------------

func newList(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List dump artifacts on the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cl, err := ctx.Client()
			if err != nil {
				return err
			}
			resp, err := cl.ListDumps(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Directory: %s\n", resp.DumpDirectory)
			if resp.DumpCount == 0 {
				fmt.Fprintln(out, "No dumps.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FILENAME\tSIZE\tMODIFIED")
			for _, f := range resp.DumpFiles {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Filename, f.Size, f.Modified.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
}

// ---------------------------------------------------------------------------
// dump download
// ---------------------------------------------------------------------------

func newDownload(ctx *shared.Context) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "download <filename>",
		Short: "Fetch a dump artifact (to stdout, or to --output)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.Client()
			if err != nil {
				return err
			}
			data, _, err := cl.DownloadDump(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if info, err := os.Stat(output); err == nil && info.IsDir() {
				output = filepath.Join(output, args[0])
			}
			if err := os.WriteFile(output, data, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", output, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file or directory")
	return cmd
}

// ---------------------------------------------------------------------------
// dump rm
// ---------------------------------------------------------------------------

func newRemove(ctx *shared.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <filename>",
		Short: "Delete a dump artifact on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.Client()
			if err != nil {
				return err
			}
			if err := cl.RemoveDump(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", args[0])
			return nil
		},
	}
}
