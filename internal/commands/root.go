// Package commands implements the ledger CLI.
package commands

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/expense-ledger/internal/app"
	"github.com/dvloznov/expense-ledger/internal/config"
	"github.com/dvloznov/expense-ledger/internal/logger"
)

type rootOptions struct {
	configPath string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Expense ledger with bulk CSV/XLSX import",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the TOML config file (default $LEDGER_CONFIG or ~/.config/expense-ledger/config.toml)")

	rootCmd.AddCommand(
		newImportCommand(opts),
		newExportCommand(opts),
		newListCommand(opts),
		newMigrateCommand(opts),
	)

	return rootCmd
}

func (o *rootOptions) load() (config.Config, error) {
	if o.configPath != "" {
		return config.LoadFrom(o.configPath)
	}
	return config.Load()
}

// commandLogger logs to stderr so stdout stays clean for command output.
func commandLogger(cmd *cobra.Command, cfg config.Config) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.RFC3339}
	return logger.NewWithWriter(output).Level(logger.ParseLevel(cfg.Log.Level))
}

// build loads config and wires the ledger for one command run.
func (o *rootOptions) build(cmd *cobra.Command) (context.Context, *app.App, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	log := commandLogger(cmd, cfg)
	ctx := logger.WithContext(cmd.Context(), log)

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return ctx, a, nil
}
