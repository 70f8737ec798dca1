package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// Transaction is the persisted ledger entry. Records enter the ledger through
// the bulk import pipeline or single-record creation; the ID is assigned by
// the store on insert.
type Transaction struct {
	ID                        string     `json:"id"`
	Date                      civil.Date `json:"date"`
	Description               string     `json:"description"`
	NormalizedDescription     string     `json:"-"`
	OriginalAmount            float64    `json:"originalAmount"`
	Currency                  string     `json:"currency"`
	AmountInReferenceCurrency float64    `json:"amountInReferenceCurrency"`
	IsDeleted                 bool       `json:"isDeleted"`
	CreatedAt                 time.Time  `json:"createdAt"`
	UpdatedAt                 time.Time  `json:"updatedAt"`
}

// Key returns the composite uniqueness key of the record.
func (t Transaction) Key() Key {
	if t.NormalizedDescription != "" {
		return Key{Date: t.Date, Description: t.NormalizedDescription}
	}
	return NewKey(t.Date, t.Description)
}

// RawRow is one unparsed upload row. Every field is kept as the caller sent it
// so the validator can report exactly what was wrong.
type RawRow struct {
	Line        int    `json:"line,omitempty"` // 1-based data row position in the upload
	Date        string `json:"date"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
}

// UnmarshalJSON accepts the amount either as a JSON number or a string.
func (r *RawRow) UnmarshalJSON(b []byte) error {
	var aux struct {
		Line        int             `json:"line"`
		Date        string          `json:"date"`
		Description string          `json:"description"`
		Amount      json.RawMessage `json:"amount"`
		Currency    string          `json:"currency"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}

	amount := bytes.TrimSpace(aux.Amount)
	switch {
	case len(amount) == 0 || bytes.Equal(amount, []byte("null")):
		r.Amount = ""
	case amount[0] == '"':
		if err := json.Unmarshal(amount, &r.Amount); err != nil {
			return fmt.Errorf("amount: %w", err)
		}
	case amount[0] == '-' || (amount[0] >= '0' && amount[0] <= '9'):
		r.Amount = string(amount)
	default:
		return fmt.Errorf("amount has unsupported JSON type: %s", amount)
	}

	r.Line = aux.Line
	r.Date = aux.Date
	r.Description = aux.Description
	r.Currency = aux.Currency
	return nil
}

// Page is one page of a listing query.
type Page struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
	Page         int           `json:"page"`
	Limit        int           `json:"limit"`
	TotalPages   int           `json:"totalPages"`
}
