// Copyright (c) 2025 The NeuroStore Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package identifiers

// Set is an ordered collection of identifiers with optional secondary
// indices on the primary fields. Indices give O(1) lookup by field value and
// are kept in sync across insertion and removal; after enriching records in
// place, call Reindex.
type Set struct {
	items   []*Identifier
	indices map[string]map[string]*Identifier // field name -> value -> record
}

func NewSet(ids ...*Identifier) *Set {
	set := &Set{items: make([]*Identifier, 0, len(ids))}
	for _, id := range ids {
		set.Add(id)
	}
	return set
}

func (s *Set) Len() int {
	return len(s.items)
}

// returns the record at the given position (insertion order)
func (s *Set) At(index int) *Identifier {
	return s.items[index]
}

// returns the records in insertion order; the slice is a copy but the
// records are shared, so mutations through them are visible to the set
func (s *Set) Items() []*Identifier {
	items := make([]*Identifier, len(s.items))
	copy(items, s.items)
	return items
}

// appends a record, updating any live indices
func (s *Set) Add(id *Identifier) {
	if id == nil {
		return
	}
	s.items = append(s.items, id)
	s.indexRecord(id)
}

// removes every record whose slug matches, updating any live indices
func (s *Set) Remove(slug string) {
	kept := s.items[:0]
	for _, id := range s.items {
		if id.Slug() == slug {
			s.unindexRecord(id)
		} else {
			kept = append(kept, id)
		}
	}
	s.items = kept
}

// SetIndex builds secondary indices on the named primary fields. When two
// records share a value the first occurrence wins, matching deduplication
// order.
func (s *Set) SetIndex(keys ...string) {
	s.indices = make(map[string]map[string]*Identifier, len(keys))
	for _, key := range keys {
		s.indices[key] = make(map[string]*Identifier)
	}
	for _, id := range s.items {
		s.indexRecord(id)
	}
}

// rebuilds the live indices after in-place enrichment of records
func (s *Set) Reindex() {
	if s.indices == nil {
		return
	}
	keys := make([]string, 0, len(s.indices))
	for key := range s.indices {
		keys = append(keys, key)
	}
	s.SetIndex(keys...)
}

// LookupBy finds a record by an indexed field value. It returns nil when the
// field is not indexed or the value is absent.
func (s *Set) LookupBy(key, value string) *Identifier {
	if s.indices == nil || value == "" {
		return nil
	}
	index, found := s.indices[key]
	if !found {
		return nil
	}
	return index[value]
}

// finds the first record with the given slug, scanning in insertion order
func (s *Set) BySlug(slug string) *Identifier {
	for _, id := range s.items {
		if id.Slug() == slug {
			return id
		}
	}
	return nil
}

// Deduplicate collapses records that share a slug, preserving the first
// occurrence of each and merging later duplicates' fields into it.
func (s *Set) Deduplicate() {
	seen := make(map[string]*Identifier, len(s.items))
	kept := s.items[:0]
	for _, id := range s.items {
		slug := id.Slug()
		if first, found := seen[slug]; found {
			first.FillFrom(id)
			continue
		}
		seen[slug] = id
		kept = append(kept, id)
	}
	s.items = kept
	s.Reindex()
}

// returns a deep copy; records and indices are fully independent
func (s *Set) Clone() *Set {
	clone := &Set{items: make([]*Identifier, 0, len(s.items))}
	for _, id := range s.items {
		clone.items = append(clone.items, id.Clone())
	}
	if s.indices != nil {
		keys := make([]string, 0, len(s.indices))
		for key := range s.indices {
			keys = append(keys, key)
		}
		clone.SetIndex(keys...)
	}
	return clone
}

func (s *Set) indexRecord(id *Identifier) {
	for key, index := range s.indices {
		if value := id.Get(key); value != "" {
			if _, taken := index[value]; !taken {
				index[value] = id
			}
		}
	}
}

func (s *Set) unindexRecord(id *Identifier) {
	for key, index := range s.indices {
		if value := id.Get(key); value != "" && index[value] == id {
			delete(index, value)
		}
	}
}
