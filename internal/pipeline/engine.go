package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dvloznov/expense-ledger/internal/domain"
	"github.com/dvloznov/expense-ledger/internal/rates"
)

// Candidate is a row that passed local checks and awaits the store check.
type Candidate struct {
	Row    domain.RawRow
	Fields ValidatedFields
	Key    domain.Key
}

// Accepted is a row that will be persisted.
type Accepted struct {
	Row    domain.RawRow
	Key    domain.Key
	Rate   float64
	Record domain.Transaction
}

// Plan is the outcome of the local pass over a batch.
type Plan struct {
	Total             int
	Candidates        []Candidate
	DuplicatesInBatch []domain.RawRow
	Rejected          []Rejection
}

// Keys returns the candidate keys in upload order.
func (p *Plan) Keys() []domain.Key {
	keys := make([]domain.Key, 0, len(p.Candidates))
	for _, c := range p.Candidates {
		keys = append(keys, c.Key)
	}
	return keys
}

// Result partitions a batch. Every input row appears in exactly one of
// Accepted, DuplicatesInBatch, DuplicatesInStore and Rejected.
type Result struct {
	Total             int
	Accepted          []Accepted
	DuplicatesInBatch []domain.RawRow
	DuplicatesInStore []domain.RawRow
	Rejected          []Rejection
	// Summary sums original amounts of accepted rows per currency.
	Summary map[string]float64
}

// Records returns the records of the accepted rows in upload order.
func (r *Result) Records() []domain.Transaction {
	out := make([]domain.Transaction, 0, len(r.Accepted))
	for _, a := range r.Accepted {
		out = append(out, a.Record)
	}
	return out
}

// Engine classifies rows. It never touches the store: existing keys are
// passed in as a snapshot, which keeps it testable without one.
type Engine struct {
	validator *Validator
}

// NewEngine creates an engine around v.
func NewEngine(v *Validator) *Engine {
	return &Engine{validator: v}
}

// Classify validates every row and drops in-batch duplicates. Only rows that
// pass validation take part in duplicate detection.
func (e *Engine) Classify(rows []domain.RawRow) *Plan {
	plan := &Plan{Total: len(rows)}
	detector := NewDuplicateDetector()

	for _, row := range rows {
		fields, rej := e.validator.Validate(row)
		if rej != nil {
			plan.Rejected = append(plan.Rejected, *rej)
			continue
		}

		key := domain.NewKey(fields.Date, fields.Description)
		if !detector.Observe(key) {
			plan.DuplicatesInBatch = append(plan.DuplicatesInBatch, row)
			continue
		}

		plan.Candidates = append(plan.Candidates, Candidate{Row: row, Fields: fields, Key: key})
	}

	return plan
}

// Resolve finishes classification against the keys already in the store and
// converts accepted amounts. One rate is looked up per currency, so every
// accepted row of a currency uses the same multiplier. The lookup asks for
// the latest rate rather than one tied to any row's date. Unknown currencies
// reject the row; any other resolver error aborts the batch.
func (p *Plan) Resolve(ctx context.Context, existing domain.KeySet, resolver rates.Resolver) (*Result, error) {
	res := &Result{
		Total:             p.Total,
		DuplicatesInBatch: p.DuplicatesInBatch,
		Rejected:          append([]Rejection(nil), p.Rejected...),
		Summary:           make(map[string]float64),
	}

	type lookup struct {
		rate float64
		err  error
	}
	memo := make(map[string]lookup)

	for _, c := range p.Candidates {
		if existing.Has(c.Key) {
			res.DuplicatesInStore = append(res.DuplicatesInStore, c.Row)
			continue
		}

		l, ok := memo[c.Fields.Currency]
		if !ok {
			l.rate, l.err = resolver.Resolve(ctx, c.Fields.Currency, nil)
			memo[c.Fields.Currency] = l
		}
		if l.err != nil {
			if errors.Is(l.err, rates.ErrUnknownCurrency) {
				res.Rejected = append(res.Rejected, *reject(c.Row, ReasonUnknownCurrency, l.err.Error()))
				continue
			}
			return nil, fmt.Errorf("Resolve: rate for %s: %w", c.Fields.Currency, l.err)
		}

		res.Accepted = append(res.Accepted, Accepted{
			Row:  c.Row,
			Key:  c.Key,
			Rate: l.rate,
			Record: domain.Transaction{
				Date:                      c.Fields.Date,
				Description:               c.Fields.Description,
				NormalizedDescription:     c.Key.Description,
				OriginalAmount:            c.Fields.Amount,
				Currency:                  c.Fields.Currency,
				AmountInReferenceCurrency: c.Fields.Amount * l.rate,
			},
		})
		res.Summary[c.Fields.Currency] += c.Fields.Amount
	}

	sort.SliceStable(res.Rejected, func(i, j int) bool {
		return res.Rejected[i].Row.Line < res.Rejected[j].Row.Line
	})

	return res, nil
}
