package commands

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dvloznov/expense-ledger/internal/domain"
)

func newListCommand(opts *rootOptions) *cobra.Command {
	var deleted bool
	var search string
	var page, limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, a, err := opts.build(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			var result domain.Page
			switch {
			case search != "":
				result, err = a.Service.Search(ctx, search, page, limit)
			case deleted:
				result, err = a.Service.ListDeleted(ctx, page, limit)
			default:
				result, err = a.Service.List(ctx, page, limit)
			}
			if err != nil {
				return err
			}

			printPage(cmd.OutOrStdout(), result, a.Rates.Reference())
			return nil
		},
	}

	cmd.Flags().BoolVar(&deleted, "deleted", false, "list soft-deleted transactions")
	cmd.Flags().StringVar(&search, "search", "", "filter by description or currency")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", 10, "page size")

	return cmd
}

func printPage(out io.Writer, p domain.Page, reference string) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\tDATE\tDESCRIPTION\tAMOUNT\tCURRENCY\t%s\n", reference)
	for _, tx := range p.Transactions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.ID, tx.Date, tx.Description,
			formatAmount(tx.OriginalAmount), tx.Currency,
			formatAmount(tx.AmountInReferenceCurrency))
	}
	tw.Flush()
	fmt.Fprintf(out, "Page %d of %d (%d transactions)\n", p.Page, p.TotalPages, p.Total)
}

// formatAmount renders two decimal places for display.
func formatAmount(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
