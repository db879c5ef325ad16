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

import "time"

// Envelope is one cache row: a payload plus the provenance the index keeps
// alongside it. Serialization of the payload is plain JSON; each namespace
// fixes its payload type when it opens its cache.
type Envelope[P any] struct {
	Slug     string         `json:"slug"`
	Payload  P              `json:"payload"`
	CachedAt time.Time      `json:"cached_at"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// creates an envelope stamped with the current time
func NewEnvelope[P any](slug string, payload P) *Envelope[P] {
	return &Envelope[P]{
		Slug:     slug,
		Payload:  payload,
		CachedAt: time.Now().UTC(),
	}
}

// AliasValues carries the indexable columns extracted from a payload: the
// three identifier aliases plus any namespace-specific extras (the download
// namespace adds "source"; the upload namespace adds "base_study_id" and
// "study_id").
type AliasValues struct {
	Pmid  string
	Doi   string
	Pmcid string
	Extra map[string]string
}
