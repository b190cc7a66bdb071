// Package cli implements jsdbctl, the administration tool of a jsdb data
// directory.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Abd0M0hamed/jsdb/internal/config"
	"github.com/Abd0M0hamed/jsdb/internal/history"
	"github.com/Abd0M0hamed/jsdb/internal/jsondb"
	"github.com/Abd0M0hamed/jsdb/internal/server/handlers"
)

// Options are the global flags.
type Options struct {
	DataDir string
	Testing bool
}

// NewRootCmd creates the jsdbctl command tree.
func NewRootCmd(version string) *cobra.Command {
	opts := &Options{}
	root := &cobra.Command{
		Use:   "jsdbctl",
		Short: "Administer a jsdb data directory",
		Long: `jsdbctl inspects and maintains the database file served by jsdb.

It reads jsdb.yaml from the data directory, so protected tables and
allow_basic_commands apply to queries run from the command line too.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.DataDir, "data-dir", "d", "./data", "Data directory holding jsdb.yaml")
	root.PersistentFlags().BoolVar(&opts.Testing, "testing", false, "Operate on test.jsdb")

	root.AddCommand(
		newInitCommand(opts),
		newQueryCommand(opts),
		newTablesCommand(opts),
		newUnlockCommand(opts),
		newHistoryCommand(opts),
		newSchemaCommand(),
	)
	return root
}

// env is what most commands work on.
type env struct {
	cfg   *config.Config
	store *jsondb.Store

	// rec is nil unless history is enabled.
	rec *history.Recorder
}

func (o *Options) open() (*env, error) {
	cfg, err := config.Load(o.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.Testing {
		cfg.Override(func(s *config.Settings) { s.TestingMode = true })
	}
	store, err := jsondb.Open(cfg.DatabasePath(), nil)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, store: store}
	if cfg.Settings().History {
		if e.rec, err = history.Open(cfg.DataDir()); err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		store.AddObserver(e.rec)
	}
	return e, nil
}

func (e *env) dispatcher() *handlers.Dispatcher {
	return handlers.NewDispatcher(e.store, e.cfg)
}
