package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Abd0M0hamed/jsdb/internal/server/dto"
)

func newInitCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create jsdb.yaml and an empty database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(w, "config:   %s\n", e.cfg.Path())
			_, _ = fmt.Fprintf(w, "database: %s\n", e.store.Path())
			return nil
		},
	}
}

func newQueryCommand(opts *Options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "query <json-command>",
		Short: "Run a command against the database",
		Example: `  jsdbctl query '{"command":"select","table":"users","where":[["age",">=",18]]}'
  jsdbctl query '{"command":"insert","table":"users","values":{"name":"ann"}}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "table" && output != "json" {
				return fmt.Errorf("unknown output format %q", output)
			}
			e, err := opts.open()
			if err != nil {
				return err
			}
			d := json.NewDecoder(strings.NewReader(args[0]))
			d.UseNumber()
			d.DisallowUnknownFields()
			var c dto.Command
			if err := d.Decode(&c); err != nil {
				return fmt.Errorf("invalid command: %w", err)
			}
			res, err := e.dispatcher().Dispatch(cmd.Context(), &c)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if output == "json" {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			if res.Select != nil {
				renderRows(w, res.Select.Rows)
				return nil
			}
			if !res.Found {
				_, _ = fmt.Fprintf(w, "table %q does not exist\n", c.Table)
				return nil
			}
			_, _ = fmt.Fprintln(w, "ok")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table|json)")
	_ = cmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"table", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func newTablesCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables with their row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			db, err := e.store.Load()
			if err != nil {
				return err
			}
			t := newTable(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"table", "rows"})
			for _, name := range db.TableNames() {
				t.AppendRow(table.Row{name, len(db[name])})
			}
			t.Render()
			return nil
		},
	}
}

func newUnlockCommand(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Remove a lock marker left by a crashed process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			since, locked, err := e.store.LockedSince()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if !locked {
				_, _ = fmt.Fprintln(w, "not locked")
				return nil
			}
			if err := e.store.ForceUnlock(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "removed lock held for %s\n", time.Since(since).Round(time.Millisecond))
			return nil
		},
	}
}

func newHistoryCommand(opts *Options) *cobra.Command {
	var n int
	var show string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded versions of the database",
		Long: `List the commits recorded when history is enabled in jsdb.yaml, or print
the database file as of one commit with --show.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := opts.open()
			if err != nil {
				return err
			}
			rec := e.rec
			if rec == nil {
				return errors.New("history is disabled in jsdb.yaml")
			}
			w := cmd.OutOrStdout()
			if show != "" {
				b, err := rec.FileAt(show, filepath.Base(e.store.Path()))
				if err != nil {
					return err
				}
				_, err = w.Write(b)
				return err
			}
			commits, err := rec.Log(n)
			if err != nil {
				return err
			}
			if len(commits) == 0 {
				_, _ = fmt.Fprintln(w, "no history")
				return nil
			}
			t := newTable(w)
			t.AppendHeader(table.Row{"commit", "when", "message"})
			for _, c := range commits {
				t.AppendRow(table.Row{c.Hash[:12], c.When.Format(time.DateTime), c.Message})
			}
			t.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 20, "Number of commits to list")
	cmd.Flags().StringVar(&show, "show", "", "Print the database file at this commit")
	return cmd
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of an API command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
			s := r.Reflect(&dto.Command{})
			if s == nil {
				return errors.New("failed to reflect command schema")
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		},
	}
}
