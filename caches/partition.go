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

package caches

import "github.com/neurostuff/nsingest/identifiers"

// a cache hit produced by partitioning, tagged with its input position so
// callers can re-interleave cached and fresh results in the original order
type Hit[P any] struct {
	Index    int
	Envelope *Envelope[P]
}

// a cache miss produced by partitioning, tagged with its input position
type Miss struct {
	Index      int
	Identifier *identifiers.Identifier
	Slug       string
}

// Partition is the result of splitting an input set against the cache. Hits
// and misses are each in input order, and together they cover the input
// exactly: len(Hits) + len(Misses) == number of inputs.
type Partition[P any] struct {
	Hits   []*Hit[P]
	Misses []*Miss
}

// the miss identifiers, in input order
func (p *Partition[P]) MissingIdentifiers() []*identifiers.Identifier {
	missing := make([]*identifiers.Identifier, len(p.Misses))
	for i, miss := range p.Misses {
		missing[i] = miss.Identifier
	}
	return missing
}

// PartitionCached splits the given identifiers into cached payloads and
// missing inputs, looking entries up by slug first and then by identifier
// alias. Consumers process only the misses and re-surface the hits verbatim
// at their original positions.
func (c *Cache[P]) PartitionCached(ids []*identifiers.Identifier) (*Partition[P], error) {
	partition := &Partition[P]{}
	for index, id := range ids {
		entry, found, err := c.GetByIdentifier(id)
		if err != nil {
			return nil, err
		}
		if found {
			partition.Hits = append(partition.Hits, &Hit[P]{Index: index, Envelope: entry})
		} else {
			partition.Misses = append(partition.Misses, &Miss{
				Index:      index,
				Identifier: id,
				Slug:       id.Slug(),
			})
		}
	}
	return partition, nil
}

// PartitionSlugs splits plain cache keys (used by namespaces whose keys are
// not identifiers, like the per-table create-analyses cache) into hits and
// misses by primary-key lookup only.
func (c *Cache[P]) PartitionSlugs(slugs []string) (*Partition[P], error) {
	partition := &Partition[P]{}
	for index, slug := range slugs {
		entry, found, err := c.Get(slug)
		if err != nil {
			return nil, err
		}
		if found {
			partition.Hits = append(partition.Hits, &Hit[P]{Index: index, Envelope: entry})
		} else {
			partition.Misses = append(partition.Misses, &Miss{Index: index, Slug: slug})
		}
	}
	return partition, nil
}
