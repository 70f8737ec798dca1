package pipeline

import (
	"errors"

	"github.com/dvloznov/expense-ledger/internal/domain"
)

// Reason classifies why a row was rejected.
type Reason string

const (
	ReasonMalformedRow    Reason = "MalformedRow"
	ReasonInvalidDate     Reason = "InvalidDate"
	ReasonNegativeAmount  Reason = "NegativeAmount"
	ReasonUnknownCurrency Reason = "UnknownCurrency"
)

var (
	// ErrPersistenceFailure marks a batch whose commit failed. Nothing from
	// the batch is stored.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrProcessingFailed is the generic fatal import error surfaced to
	// callers. It wraps the underlying cause.
	ErrProcessingFailed = errors.New("processing failed")
)

// Rejection is a row excluded from the batch together with its reason.
type Rejection struct {
	Row     domain.RawRow `json:"row"`
	Reason  Reason        `json:"reason"`
	Message string        `json:"message"`
}

func reject(row domain.RawRow, reason Reason, msg string) *Rejection {
	return &Rejection{Row: row, Reason: reason, Message: msg}
}
