package pipeline

import "github.com/dvloznov/expense-ledger/internal/domain"

// DuplicateDetector remembers the keys seen in one batch. The first row with
// a key wins; every later row with the same key is a duplicate, whatever its
// amount or currency.
type DuplicateDetector struct {
	seen domain.KeySet
}

// NewDuplicateDetector returns an empty detector.
func NewDuplicateDetector() *DuplicateDetector {
	return &DuplicateDetector{seen: domain.NewKeySet()}
}

// Observe records k and returns true if it is new, or returns false without
// changing state if it was already seen.
func (d *DuplicateDetector) Observe(k domain.Key) bool {
	if d.seen.Has(k) {
		return false
	}
	d.seen.Add(k)
	return true
}
