// Package cli implements the tendril command-line interface.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jacentio/tendril/di"
)

// Exit codes.
const (
	exitSuccess = 0
	exitError   = 1
)

// rootFlags holds global flag values accessible to all subcommands.
type rootFlags struct {
	configFile string
	logLevel   string
}

// app is the state shared by subcommands once the root pre-run has loaded
// the configuration.
type app struct {
	flags  rootFlags
	config di.Config
	logger *slog.Logger
}

// NewRootCmd creates the top-level "tendril" command with global flags and
// all subcommands registered.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "tendril",
		Short: "Entity mapping over key-value stores",
		Long: "Tendril stores entities as flat hashes with secondary indexes and\n" +
			"references in Redis, DynamoDB, SQLite or memory.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&a.flags.configFile, "config", "", "config file (default: ./tendril.yaml)")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newInspectCmd(a))
	root.AddCommand(newKeysCmd(a))
	root.AddCommand(newFindCmd(a))

	return root
}

// Execute runs the root command and exits with the appropriate code.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(exitError)
	}
	os.Exit(exitSuccess)
}

func (a *app) load(logOut io.Writer) error {
	cfg, err := di.LoadConfig(a.flags.configFile)
	if err != nil {
		return err
	}
	if a.flags.logLevel != "" {
		cfg.LogLevel = a.flags.logLevel
	}

	logger, err := newLogger(logOut, cfg.LogLevel)
	if err != nil {
		return err
	}
	a.config = cfg
	a.logger = logger
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
