package rates

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
)

// DefaultReference is the reference currency of the default table.
const DefaultReference = "INR"

// defaultINRRates holds units of INR per unit of each currency.
var defaultINRRates = map[string]float64{
	"INR": 1,
	"USD": 85.772,
	"EUR": 88.819,
	"GBP": 107.132,
	"AUD": 53.519,
	"CAD": 59.783,
	"SGD": 62.911,
	"JPY": 0.544,
	"CNY": 11.707,
	"CHF": 94.401,
	"AED": 23.454,
	"SAR": 22.948,
	"NZD": 50.000,
	"SEK": 8.000,
	"NOK": 8.500,
	"DKK": 11.900,
	"ZAR": 5.500,
	"THB": 2.600,
	"MYR": 20.000,
	"KRW": 0.070,
	"IDR": 0.006,
}

// StaticTable is a fixed in-memory rate table. It is safe for concurrent use
// because it is never mutated after construction.
type StaticTable struct {
	reference string
	rates     map[string]float64
}

// NewStaticTable builds a table for reference. The reference currency always
// resolves to 1 unless rates says otherwise.
func NewStaticTable(reference string, rates map[string]float64) *StaticTable {
	reference = NormalizeCode(reference)
	t := &StaticTable{
		reference: reference,
		rates:     make(map[string]float64, len(rates)+1),
	}
	t.rates[reference] = 1
	for code, rate := range rates {
		t.rates[NormalizeCode(code)] = rate
	}
	return t
}

// DefaultTable returns the built-in INR table with overrides applied on top.
func DefaultTable(overrides map[string]float64) *StaticTable {
	merged := make(map[string]float64, len(defaultINRRates)+len(overrides))
	for code, rate := range defaultINRRates {
		merged[code] = rate
	}
	for code, rate := range overrides {
		merged[NormalizeCode(code)] = rate
	}
	return NewStaticTable(DefaultReference, merged)
}

// Resolve implements Resolver.
func (t *StaticTable) Resolve(_ context.Context, currency string, _ *civil.Date) (float64, error) {
	rate, ok := t.rates[NormalizeCode(currency)]
	if !ok {
		return 0, fmt.Errorf("conversion rate for currency %s not found: %w", currency, ErrUnknownCurrency)
	}
	return rate, nil
}

// Known implements Resolver.
func (t *StaticTable) Known(currency string) bool {
	_, ok := t.rates[NormalizeCode(currency)]
	return ok
}

// Reference implements Resolver.
func (t *StaticTable) Reference() string { return t.reference }

// Codes returns the known currency codes in sorted order.
func (t *StaticTable) Codes() []string {
	codes := make([]string, 0, len(t.rates))
	for code := range t.rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

var _ Resolver = (*StaticTable)(nil)
