// Package matcher resolves a product record to an element of the XML catalog.
//
// Catalog elements written by older releases may lack a ProductID child, and some
// carry identifiers in float form ("12.0") left over from a numeric round trip.
// Both quirks are handled here so the rest of the code can deal with plain integer
// identifiers. Once the legacy catalog format is retired, Legacy can be replaced by
// a strict implementation of Matcher without touching its callers.
package matcher

import (
	"strconv"
	"strings"

	"github.com/stokaro/catalogsync/core/product"
)

// Entry is the matcher's view of one catalog element.
type Entry struct {
	// ID is the raw text of the ProductID child; HasID is false when the child is absent.
	ID    string
	HasID bool

	ModelName string
	Category  string
	// Price is the literal text of the ProductPrice child.
	Price string
}

// Key returns the composite key of the entry.
func (e Entry) Key() product.MatchKey {
	return product.MatchKey{ModelName: e.ModelName, Category: e.Category, Price: e.Price}
}

// Matcher finds the entry corresponding to a record.
type Matcher interface {
	// Match returns the index of the matching entry. The boolean is false when
	// nothing matches, which is a normal outcome rather than an error.
	Match(entries []Entry, id int64, key product.MatchKey) (int, bool)
}

// Legacy matches by identifier first and falls back to the composite key.
type Legacy struct{}

var _ Matcher = Legacy{}

// Match implements Matcher.
//
// With a positive id, the first entry whose normalized identifier equals id wins.
// Otherwise the first entry whose composite key equals key exactly is returned;
// entries that carry a different usable identifier never match by key. With a
// zero id, every entry is a key candidate.
func (Legacy) Match(entries []Entry, id int64, key product.MatchKey) (int, bool) {
	if id > 0 {
		if i, ok := MatchID(entries, id); ok {
			return i, true
		}
	}

	if key.IsZero() {
		return -1, false
	}

	for i, e := range entries {
		if id > 0 && e.HasID {
			if _, usable := NormalizeID(e.ID); usable {
				continue
			}
		}
		if e.Key() == key {
			return i, true
		}
	}
	return -1, false
}

// MatchID returns the first entry carrying the identifier id.
func MatchID(entries []Entry, id int64) (int, bool) {
	for i, e := range entries {
		if !e.HasID {
			continue
		}
		if n, ok := NormalizeID(e.ID); ok && n == id {
			return i, true
		}
	}
	return -1, false
}

// NormalizeID parses a stored identifier, comparing only the integer portion
// ("12.0" and "12" both yield 12).
func NormalizeID(text string) (int64, bool) {
	text = strings.TrimSpace(text)
	if i := strings.IndexByte(text, '.'); i >= 0 {
		text = text[:i]
	}
	if text == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
