// Package export renders ledger records as flat tables for download.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/expense-ledger/internal/domain"
)

// Header is the fixed column order of every export.
const Header = "id,date,description,originalAmount,currency,amountInReferenceCurrency"

// Row converts a record into its export columns. Amounts use the shortest
// decimal form that round-trips the stored float.
func Row(tx domain.Transaction) []string {
	return []string{
		tx.ID,
		tx.Date.String(),
		tx.Description,
		decimal.NewFromFloat(tx.OriginalAmount).String(),
		tx.Currency,
		decimal.NewFromFloat(tx.AmountInReferenceCurrency).String(),
	}
}

// WriteCSV writes the header and one line per record, in input order.
func WriteCSV(w io.Writer, txs []domain.Transaction) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()

	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, tx := range txs {
		if err := cw.Write(Row(tx)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// CSV renders records into a string.
func CSV(txs []domain.Transaction) (string, error) {
	var sb strings.Builder
	if err := WriteCSV(&sb, txs); err != nil {
		return "", err
	}
	return sb.String(), nil
}
