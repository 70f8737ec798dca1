package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvloznov/expense-ledger/internal/config"
	infraBQ "github.com/dvloznov/expense-ledger/internal/infra/bigquery"
	"github.com/dvloznov/expense-ledger/internal/store/sqlite"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations to the configured store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log := commandLogger(cmd, cfg)
			out := cmd.OutOrStdout()

			switch cfg.Storage.Backend {
			case config.BackendSQLite:
				path := cfg.Storage.SQLitePath
				if down {
					if err := sqlite.MigrateDown(path); err != nil {
						return err
					}
				} else if err := sqlite.RunMigrations(path); err != nil {
					return err
				}
				version, dirty, err := sqlite.SchemaVersion(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "sqlite schema at version %d (dirty=%t)\n", version, dirty)
				return nil

			case config.BackendBigQuery:
				if down {
					return fmt.Errorf("--down is not supported for the bigquery backend")
				}
				repo, err := infraBQ.NewRepository(cmd.Context(), cfg.Storage.BigQuery.Project, cfg.Storage.BigQuery.Dataset)
				if err != nil {
					return err
				}
				defer repo.Close()

				appliedBy := os.Getenv("USER")
				if appliedBy == "" {
					appliedBy = "ledger-cli"
				}
				n, err := repo.Migrate(cmd.Context(), appliedBy, log)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Applied %d BigQuery migrations\n", n)
				return nil
			}
			return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "roll every migration back (sqlite only)")

	return cmd
}
