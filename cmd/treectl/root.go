package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ratio1/treestore_sdk_go/internal/config"
	"github.com/Ratio1/treestore_sdk_go/internal/logging"
	"github.com/Ratio1/treestore_sdk_go/pkg/nodeops"
	"github.com/Ratio1/treestore_sdk_go/pkg/treekit"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore"
)

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitUsage   = 2
	exitPartial = 3
)

type clientFactory func(cfg config.StoreConfig, logger *slog.Logger) (*treestore.Client, string, error)

func defaultClientFactory(cfg config.StoreConfig, logger *slog.Logger) (*treestore.Client, string, error) {
	return treekit.New(cfg, treekit.WithLogger(logger))
}

// app carries state shared by all commands of one invocation.
type app struct {
	out    *printer
	errOut *printer

	newClient clientFactory

	// flag values
	configPath string
	url        string
	auth       string
	mode       string
	timeout    time.Duration
	logLevel   string
	logJSON    bool

	cfg    config.Config
	logger *slog.Logger
	client *treestore.Client
}

// run executes treectl with args and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	a := &app{
		out:       newPrinter(stdout),
		errOut:    newPrinter(stderr),
		newClient: defaultClientFactory,
	}
	return a.execute(args)
}

func (a *app) execute(args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}
	return a.report(err)
}

// report prints err and maps it to an exit code.
func (a *app) report(err error) int {
	var usage *usageError
	if errors.As(err, &usage) {
		a.errOut.Fail("%v", err)
		return exitUsage
	}

	if treestore.KindOf(err) == treestore.KindPartialRename {
		body := err.Error()
		var partial *nodeops.PartialRenameError
		if errors.As(err, &partial) {
			body = fmt.Sprintf("source:      %s\ndestination: %s\nfailed step: %s\ncause:       %v",
				partial.Source, partial.Destination, partial.Step, partial.Err)
			if partial.CompensationErr != nil {
				body += fmt.Sprintf("\nrollback:    %v", partial.CompensationErr)
			}
			body += "\nBoth nodes may exist. Inspect them and remove the duplicate by hand."
		}
		a.errOut.Alert("PARTIAL RENAME", body)
		return exitPartial
	}

	if kind := treestore.KindOf(err); kind != 0 {
		a.errOut.Fail("%s: %v", kind, err)
	} else {
		a.errOut.Fail("%v", err)
	}
	return exitError
}

// usageError marks invalid command-line input.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "treectl",
		Short: "Maintain a hierarchical JSON tree store",
		Long: `treectl renames and removes nodes of a Firebase-style tree store,
snapshots the tree to timestamped local files, restores the latest snapshot,
and files deduplicated pothole reports.

Settings are read from treectl.yaml (or --config), then TREESTORE_* environment
variables, then flags.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ./"+config.DefaultFile+" when present)")
	flags.StringVar(&a.url, "url", "", "store base URL")
	flags.StringVar(&a.auth, "auth", "", "store auth token")
	flags.StringVar(&a.mode, "mode", "", "client mode: auto, http or mock")
	flags.DurationVar(&a.timeout, "timeout", 0, "timeout for each remote call")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&a.logJSON, "log-json", false, "write logs as JSON")

	root.AddCommand(
		a.getCmd(),
		a.renameCmd(),
		a.rmCmd(),
		a.snapshotCmd(),
		a.backupCmd(),
		a.backupsCmd(),
		a.latestCmd(),
		a.restoreCmd(),
		a.pruneCmd(),
		a.reportCmd(),
		a.existsCmd(),
		a.configCmd(),
	)
	return root
}

// setup resolves configuration (defaults < file < env < flags), builds the
// logger and the store client.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Read(a.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.Store.URL = a.url
	}
	if flags.Changed("auth") {
		cfg.Store.Auth = a.auth
	}
	if flags.Changed("mode") {
		cfg.Store.Mode = a.mode
	}
	if flags.Changed("timeout") {
		cfg.Store.Timeout = a.timeout
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON = a.logJSON
	}
	if err := cfg.Validate(); err != nil {
		return &usageError{err: err}
	}

	logger, err := logging.New(logging.Config{
		Level:   cfg.Log.Level,
		JSON:    cfg.Log.JSON,
		Service: "treectl",
		Output:  a.errOut.w,
	})
	if err != nil {
		return &usageError{err: err}
	}

	client, mode, err := a.newClient(cfg.Store, logger)
	if err != nil {
		return err
	}
	logger.Debug("configuration resolved", "mode", mode, "root", cfg.Root, "backup_dir", cfg.BackupDir)

	a.cfg = cfg
	a.logger = logger
	a.client = client
	return nil
}
