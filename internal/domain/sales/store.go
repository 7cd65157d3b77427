package sales

import (
	"github.com/hms/portal/internal/platform/commerce"
)

// LineStore is the optimistic local projection of the remote cart. It holds
// the ordered lines and the last total the commerce API confirmed. Mutations
// come in two flavors: speculative ones applied before the remote commit so
// the screens update instantly, and authoritative ones that replace the
// projection wholesale after a reconciliation fetch.
//
// The store is not safe for concurrent use; the owning workflow serializes
// access through its own mutex.
type LineStore struct {
	lines    []Line
	totalDue int64

	// nextLocalID hands out placeholder ids for lines the commerce API has
	// not confirmed yet. Negative so they can never collide with remote ids.
	nextLocalID int64
}

func NewLineStore() *LineStore {
	return &LineStore{nextLocalID: -1}
}

// Lines returns a copy of the current projection.
func (s *LineStore) Lines() []Line {
	out := make([]Line, len(s.lines))
	copy(out, s.lines)
	return out
}

// Count returns the total number of units across all lines.
func (s *LineStore) Count() int {
	n := 0
	for _, l := range s.lines {
		n += l.Quantity
	}
	return n
}

// DistinctLineCount returns the number of distinct lines.
func (s *LineStore) DistinctLineCount() int {
	return len(s.lines)
}

// TotalDue returns the last known tax-inclusive total in minor units.
func (s *LineStore) TotalDue() int64 {
	return s.totalDue
}

// IsEmpty reports whether the projection has no lines.
func (s *LineStore) IsEmpty() bool {
	return len(s.lines) == 0
}

// SpeculateAdd merges quantity into an existing line of the same article, or
// inserts a new line under a local placeholder id. Computed totals stay at
// zero until the next reconciliation confirms them.
func (s *LineStore) SpeculateAdd(articleID string, quantity int) {
	for i := range s.lines {
		if s.lines[i].ArticleID == articleID {
			s.lines[i].Quantity += quantity
			return
		}
	}
	s.lines = append(s.lines, Line{
		ID:        s.nextLocalID,
		ArticleID: articleID,
		Quantity:  quantity,
	})
	s.nextLocalID--
}

// SpeculateSetQuantity sets the quantity of the identified line. It reports
// whether the line exists.
func (s *LineStore) SpeculateSetQuantity(lineID int64, quantity int) bool {
	for i := range s.lines {
		if s.lines[i].ID == lineID {
			s.lines[i].Quantity = quantity
			return true
		}
	}
	return false
}

// SpeculateRemove removes the identified line. It reports whether the line
// existed.
func (s *LineStore) SpeculateRemove(lineID int64) bool {
	for i := range s.lines {
		if s.lines[i].ID == lineID {
			s.lines = append(s.lines[:i], s.lines[i+1:]...)
			return true
		}
	}
	return false
}

// Replace discards the projection and adopts the authoritative cart state.
func (s *LineStore) Replace(cart *commerce.Cart) {
	lines := make([]Line, len(cart.Lines))
	for i, cl := range cart.Lines {
		lines[i] = Line{
			ID:        cl.ID,
			ArticleID: cl.ArticleID,
			Label:     cl.Label,
			Quantity:  cl.Quantity,
			UnitPrice: cl.UnitPrice,
			TaxRate:   cl.TaxRate,
			TotalHT:   cl.TotalHT,
			TotalTax:  cl.TotalTax,
			TotalTTC:  cl.TotalTTC,
		}
	}
	s.lines = lines
	s.totalDue = cart.TotalTTC
}

// Clear empties the projection and resets the placeholder id sequence.
func (s *LineStore) Clear() {
	s.lines = nil
	s.totalDue = 0
	s.nextLocalID = -1
}
