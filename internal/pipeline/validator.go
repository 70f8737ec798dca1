package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/rates"
)

// DefaultDateLayout is day-month-year with optional leading zeros.
const DefaultDateLayout = "2-1-2006"

// CurrencyCatalog reports whether a currency code can be converted.
type CurrencyCatalog interface {
	Known(currency string) bool
}

// ValidatedFields are the typed fields of a row that passed validation.
type ValidatedFields struct {
	Date        civil.Date
	Description string
	Amount      float64
	Currency    string
}

// Validator checks one raw row at a time. It holds no per-batch state.
type Validator struct {
	dateLayout string
	currencies CurrencyCatalog
}

// NewValidator creates a validator. An empty layout means DefaultDateLayout.
func NewValidator(dateLayout string, currencies CurrencyCatalog) *Validator {
	if dateLayout == "" {
		dateLayout = DefaultDateLayout
	}
	return &Validator{dateLayout: dateLayout, currencies: currencies}
}

// Validate runs the row checks in order and stops at the first failure.
func (v *Validator) Validate(row domain.RawRow) (ValidatedFields, *Rejection) {
	date := strings.TrimSpace(row.Date)
	desc := strings.TrimSpace(row.Description)
	amountStr := strings.TrimSpace(row.Amount)
	currency := rates.NormalizeCode(row.Currency)

	var missing []string
	if date == "" {
		missing = append(missing, "date")
	}
	if desc == "" {
		missing = append(missing, "description")
	}
	if amountStr == "" {
		missing = append(missing, "amount")
	}
	if currency == "" {
		missing = append(missing, "currency")
	}
	if len(missing) > 0 {
		return ValidatedFields{}, reject(row, ReasonMalformedRow,
			"missing required field(s): "+strings.Join(missing, ", "))
	}

	amount, err := strconv.ParseFloat(amountStr, 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ValidatedFields{}, reject(row, ReasonMalformedRow,
			fmt.Sprintf("amount %q is not a number", row.Amount))
	}
	if amount < 0 {
		return ValidatedFields{}, reject(row, ReasonNegativeAmount,
			fmt.Sprintf("amount %s is negative", amountStr))
	}
	if amount == 0 {
		amount = 0 // drop the sign of -0
	}

	parsed, err := time.Parse(v.dateLayout, date)
	if err != nil {
		return ValidatedFields{}, reject(row, ReasonInvalidDate,
			fmt.Sprintf("date %q does not match %s", row.Date, v.dateLayout))
	}

	if !v.currencies.Known(currency) {
		return ValidatedFields{}, reject(row, ReasonUnknownCurrency,
			fmt.Sprintf("currency %q is not supported", row.Currency))
	}

	return ValidatedFields{
		Date:        civil.DateOf(parsed),
		Description: desc,
		Amount:      amount,
		Currency:    currency,
	}, nil
}
