// Package rates converts amounts into the ledger's reference currency.
package rates

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/civil"
)

var (
	// ErrUnknownCurrency is returned when a currency code has no rate.
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrRateSourceUnavailable is returned by remote rate sources that cannot
	// be reached. Resolvers with a static fallback never surface it.
	ErrRateSourceUnavailable = errors.New("rate source unavailable")
)

// Resolver maps a currency code to the multiplier that converts one unit of
// it into the reference currency.
type Resolver interface {
	// Resolve returns the conversion multiplier for currency. onOrBefore may
	// be nil; date-insensitive resolvers ignore it.
	Resolve(ctx context.Context, currency string, onOrBefore *civil.Date) (float64, error)

	// Known reports whether currency can be resolved.
	Known(currency string) bool

	// Reference returns the reference currency code.
	Reference() string
}

// NormalizeCode trims and upper-cases a currency code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
