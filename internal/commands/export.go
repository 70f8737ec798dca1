package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dvloznov/expense-ledger/internal/ledger"
)

func newExportCommand(opts *rootOptions) *cobra.Command {
	var format string
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export non-deleted transactions as CSV or XLSX",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != ledger.FormatCSV && format != ledger.FormatXLSX {
				return fmt.Errorf("unknown format %q (want csv or xlsx)", format)
			}

			ctx, a, err := opts.build(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			// CSV goes to stdout unless a path is given; XLSX always needs a file.
			if output == "" && format == ledger.FormatCSV {
				return a.Service.Export(ctx, format, cmd.OutOrStdout())
			}
			if output == "" {
				output = ledger.ExportFilename(format, time.Now())
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating %s: %w", output, err)
			}
			if err := a.Service.Export(ctx, format, f); err != nil {
				f.Close()
				os.Remove(output)
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("closing %s: %w", output, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Exported to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", ledger.FormatCSV, "export format: csv or xlsx")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (csv defaults to stdout)")

	return cmd
}
