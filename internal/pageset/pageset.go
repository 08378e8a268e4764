// Package pageset provides a compact set of page ids backed by a 32-bit
// Roaring bitmap. The disk store keeps its free list and system pages in
// sets so membership checks (double free, reserved page) never touch disk.
package pageset

import (
	"iter"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/mamstore/page"
)

// Set is a set of PageIDs. The zero value is not usable; call New.
type Set struct {
	rb *roaring.Bitmap
}

// New creates an empty set.
func New() *Set {
	return &Set{rb: roaring.New()}
}

// Add inserts id. It reports false if id was already present.
func (s *Set) Add(id page.PageID) bool {
	return s.rb.CheckedAdd(uint32(id))
}

// Remove deletes id. It reports false if id was not present.
func (s *Set) Remove(id page.PageID) bool {
	return s.rb.CheckedRemove(uint32(id))
}

// Contains reports whether id is in the set.
func (s *Set) Contains(id page.PageID) bool {
	return s.rb.Contains(uint32(id))
}

// Len returns the number of ids in the set.
func (s *Set) Len() int {
	return int(s.rb.GetCardinality())
}

// Intersects reports whether s and other share at least one id.
func (s *Set) Intersects(other *Set) bool {
	return s.rb.Intersects(other.rb)
}

// All iterates the ids in ascending order.
func (s *Set) All() iter.Seq[page.PageID] {
	return func(yield func(page.PageID) bool) {
		it := s.rb.Iterator()
		for it.HasNext() {
			if !yield(page.PageID(it.Next())) {
				return
			}
		}
	}
}

