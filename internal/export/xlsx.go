package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/expense-ledger/internal/domain"
)

// SheetName is the worksheet written by WriteXLSX.
const SheetName = "Transactions"

// WriteXLSX writes the same table as WriteCSV as a single-sheet workbook.
// Amount columns are numeric cells.
func WriteXLSX(w io.Writer, txs []domain.Transaction) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("WriteXLSX: rename sheet: %w", err)
	}

	header := strings.Split(Header, ",")
	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &headerRow); err != nil {
		return fmt.Errorf("WriteXLSX: header: %w", err)
	}

	for i, tx := range txs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("WriteXLSX: row %d: %w", i+2, err)
		}
		row := []interface{}{
			tx.ID,
			tx.Date.String(),
			tx.Description,
			tx.OriginalAmount,
			tx.Currency,
			tx.AmountInReferenceCurrency,
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("WriteXLSX: row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("WriteXLSX: write: %w", err)
	}
	return nil
}
