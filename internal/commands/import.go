package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dvloznov/expense-ledger/internal/app"
	"github.com/dvloznov/expense-ledger/internal/archive"
	"github.com/dvloznov/expense-ledger/internal/pipeline"
)

func newImportCommand(opts *rootOptions) *cobra.Command {
	var processedPath string

	cmd := &cobra.Command{
		Use:   "import <file|gs://bucket/object>",
		Short: "Import a CSV, XLSX or JSON file into the ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := opts.build(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			return runImport(ctx, a, args[0], processedPath, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&processedPath, "processed-csv", "", "write the accepted records as CSV to this path")

	return cmd
}

func runImport(ctx context.Context, a *app.App, source, processedPath string, out io.Writer) error {
	name, data, err := readSource(ctx, a, source)
	if err != nil {
		return err
	}

	rows, err := a.Decoder.Decode(name, "", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding %s: %w", name, err)
	}

	report, err := a.Service.Import(ctx, pipeline.Request{Source: name, Upload: data, Rows: rows})
	if err != nil {
		return err
	}

	printReport(out, report)

	if processedPath != "" {
		if err := os.WriteFile(processedPath, []byte(report.ProcessedCSV), 0o644); err != nil {
			return fmt.Errorf("writing processed CSV: %w", err)
		}
		fmt.Fprintf(out, "Processed CSV written to %s\n", processedPath)
	}
	return nil
}

// readSource reads a local path or a gs:// object.
func readSource(ctx context.Context, a *app.App, source string) (string, []byte, error) {
	if !strings.HasPrefix(source, "gs://") {
		data, err := os.ReadFile(source)
		if err != nil {
			return "", nil, fmt.Errorf("reading %s: %w", source, err)
		}
		return filepath.Base(source), data, nil
	}

	fetcher := a.Archiver
	if fetcher == nil {
		bucket, _, err := archive.ParseURI(source)
		if err != nil {
			return "", nil, err
		}
		fetcher, err = archive.NewGCSArchiver(ctx, bucket, "")
		if err != nil {
			return "", nil, err
		}
		defer fetcher.Close()
	}

	data, err := fetcher.Fetch(ctx, source)
	if err != nil {
		return "", nil, err
	}
	return archive.FilenameFromURI(source), data, nil
}

func printReport(out io.Writer, r *pipeline.Report) {
	fmt.Fprintf(out, "Accepted:            %d\n", r.AcceptedCount)
	fmt.Fprintf(out, "Duplicates in batch: %d\n", len(r.DuplicatesInBatch))
	fmt.Fprintf(out, "Duplicates in store: %d\n", len(r.DuplicatesInStore))
	fmt.Fprintf(out, "Rejected:            %d\n", len(r.Rejected))
	for _, rej := range r.Rejected {
		fmt.Fprintf(out, "  line %d: %s: %s\n", rej.Row.Line, rej.Reason, rej.Message)
	}
	for _, code := range sortedKeys(r.Summary) {
		fmt.Fprintf(out, "  %s total: %s\n", code, formatAmount(r.Summary[code]))
	}
	if r.ArchiveURI != "" {
		fmt.Fprintf(out, "Archived to %s\n", r.ArchiveURI)
	}
}
