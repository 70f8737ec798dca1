// Package upload turns uploaded files into raw import rows.
package upload

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/expense-ledger/internal/domain"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither CSV, XLSX
	// nor JSON.
	ErrUnsupportedFormat = errors.New("unsupported upload format")

	// ErrMissingColumn is returned when a required header is absent.
	ErrMissingColumn = errors.New("missing required column")

	// ErrEmpty is returned for uploads without a header row.
	ErrEmpty = errors.New("upload is empty")
)

// Headers names the columns carrying each field. Matching ignores case and
// surrounding whitespace.
type Headers struct {
	Date        string
	Description string
	Amount      string
	Currency    string
}

// DefaultHeaders is the header convention used when none is configured.
func DefaultHeaders() Headers {
	return Headers{Date: "Date", Description: "Description", Amount: "Amount", Currency: "Currency"}
}

// DefaultDateLayout is the layout typed spreadsheet dates are rendered in
// when none is configured. It matches the import validator's default.
const DefaultDateLayout = "2-1-2006"

// Decoder decodes uploads using one header convention.
type Decoder struct {
	headers    Headers
	dateLayout string
}

// NewDecoder creates a decoder. Empty header names fall back to the defaults.
func NewDecoder(h Headers) *Decoder {
	def := DefaultHeaders()
	if h.Date == "" {
		h.Date = def.Date
	}
	if h.Description == "" {
		h.Description = def.Description
	}
	if h.Amount == "" {
		h.Amount = def.Amount
	}
	if h.Currency == "" {
		h.Currency = def.Currency
	}
	return &Decoder{headers: h, dateLayout: DefaultDateLayout}
}

// WithDateLayout sets the layout date cells of a workbook are written in,
// so they read back like a typed-in date. Empty keeps the current layout.
func (d *Decoder) WithDateLayout(layout string) *Decoder {
	if layout != "" {
		d.dateLayout = layout
	}
	return d
}

// Decode picks a format from the file name, then the content type.
func (d *Decoder) Decode(filename, contentType string, r io.Reader) ([]domain.RawRow, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return d.DecodeCSV(r)
	case ".xlsx":
		return d.DecodeXLSX(r)
	case ".json":
		return d.DecodeJSON(r)
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "csv"):
		return d.DecodeCSV(r)
	case strings.Contains(ct, "spreadsheetml"):
		return d.DecodeXLSX(r)
	case strings.Contains(ct, "json"):
		return d.DecodeJSON(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
}

// DecodeCSV reads a headed CSV. Rows may be ragged; missing cells decode as
// empty fields and are rejected later by validation.
func (d *Decoder) DecodeCSV(r io.Reader) ([]domain.RawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}
	return d.fromRecords(records)
}

// DecodeXLSX reads the first sheet of a workbook. Cells are read unformatted
// so a "#,##0.00" amount keeps its plain number; a numeric date cell holds a
// date serial and is rendered in the decoder's date layout.
func (d *Decoder) DecodeXLSX(r io.Reader) ([]domain.RawRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	records, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %q: %w", sheets[0], err)
	}

	rows, err := d.fromRecords(records)
	if err != nil {
		return nil, err
	}

	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}
	for i := range rows {
		rows[i].Date = d.serialDate(rows[i].Date, date1904)
	}
	return rows, nil
}

// serialDate renders a numeric date serial in the decoder's layout. Text and
// out-of-range values are returned unchanged for validation to judge.
func (d *Decoder) serialDate(v string, date1904 bool) string {
	serial, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || serial <= 0 {
		return v
	}
	t, err := excelize.ExcelDateToTime(serial, date1904)
	if err != nil {
		return v
	}
	return t.Format(d.dateLayout)
}

// DecodeJSON accepts either {"rows": [...]} or a bare array of rows.
func (d *Decoder) DecodeJSON(r io.Reader) ([]domain.RawRow, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading JSON: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	var rows []domain.RawRow
	if data[0] == '[' {
		if err := json.Unmarshal(data, &rows); err != nil {
			return nil, fmt.Errorf("decoding JSON rows: %w", err)
		}
		return rows, nil
	}

	var body struct {
		Rows []domain.RawRow `json:"rows"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decoding JSON body: %w", err)
	}
	return body.Rows, nil
}

func (d *Decoder) fromRecords(records [][]string) ([]domain.RawRow, error) {
	if len(records) == 0 {
		return nil, ErrEmpty
	}

	idx, err := d.columnIndex(records[0])
	if err != nil {
		return nil, err
	}

	rows := make([]domain.RawRow, 0, len(records)-1)
	for i, rec := range records[1:] {
		if blank(rec) {
			continue
		}
		rows = append(rows, domain.RawRow{
			Line:        i + 1,
			Date:        cell(rec, idx.date),
			Description: cell(rec, idx.description),
			Amount:      cell(rec, idx.amount),
			Currency:    cell(rec, idx.currency),
		})
	}
	return rows, nil
}

type columns struct {
	date, description, amount, currency int
}

func (d *Decoder) columnIndex(header []string) (columns, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := pos[key]; !dup {
			pos[key] = i
		}
	}

	var missing []string
	find := func(name string) int {
		i, ok := pos[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}

	c := columns{
		date:        find(d.headers.Date),
		description: find(d.headers.Description),
		amount:      find(d.headers.Amount),
		currency:    find(d.headers.Currency),
	}
	if len(missing) > 0 {
		return columns{}, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return c, nil
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
