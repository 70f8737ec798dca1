package domain

import (
	"strings"
	"unicode"

	"cloud.google.com/go/civil"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Key identifies a logical transaction: two rows with equal keys are the same
// transaction no matter how their amounts or currencies differ.
type Key struct {
	Date        civil.Date
	Description string // normalized
}

// NewKey builds a key, normalizing the description.
func NewKey(date civil.Date, description string) Key {
	return Key{Date: date, Description: NormalizeDescription(description)}
}

// String renders the key as "YYYY-MM-DD|description".
func (k Key) String() string {
	return k.Date.String() + "|" + k.Description
}

// KeySet is a set of keys.
type KeySet map[Key]struct{}

// NewKeySet returns a set holding keys.
func NewKeySet(keys ...Key) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Add inserts k.
func (s KeySet) Add(k Key) { s[k] = struct{}{} }

// Has reports whether k is in the set.
func (s KeySet) Has(k Key) bool {
	_, ok := s[k]
	return ok
}

// NormalizeDescription canonicalizes a description for duplicate detection.
// It lower-cases, strips diacritics, drops punctuation and symbols, and
// collapses whitespace. Recomposition runs last so that runes brought
// together by a removal compose now rather than on a later pass.
func NormalizeDescription(s string) string {
	s = strings.ToLower(s)

	// Chain holds state, so build one per call.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	if stripped, _, err := transform.String(t, s); err == nil {
		s = stripped
	}

	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsPunct(r), unicode.IsSymbol(r):
			return -1
		case unicode.IsSpace(r):
			return ' '
		}
		return r
	}, s)

	return norm.NFC.String(strings.Join(strings.Fields(s), " "))
}
