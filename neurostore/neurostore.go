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

// The neurostore package implements the pipeline's upload stage: it turns
// per-article analysis collections into base-study/study/analysis/point rows
// and lands them in the destination store inside one outer transaction, with
// a savepoint per article so one bad article never poisons the batch.
package neurostore

import (
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/neurostuff/nsingest/analyses"
	"github.com/neurostuff/nsingest/extraction"
	"github.com/neurostuff/nsingest/identifiers"
)

// the provenance tag every study version this pipeline writes carries
const StudySource = "llm"

// studies produced from coordinate tables are group-level by construction
const LevelGroup = "group"

// UploadOutcome reports what one article's work item left in the store. The
// identifier travels along so the outcome cache and the sync stage can find
// the article again without the run state.
type UploadOutcome struct {
	Slug        string                  `json:"slug"`
	Identifier  *identifiers.Identifier `json:"identifier,omitempty"`
	BaseStudyID string                  `json:"base_study_id,omitempty"`
	StudyID     string                  `json:"study_id,omitempty"`
	AnalysisIDs []string                `json:"analysis_ids,omitempty"`
	Success     bool                    `json:"success"`
	Error       string                  `json:"error,omitempty"`
}

// StudyFields is the column set BaseStudy and Study share.
type StudyFields struct {
	Doi         string
	Pmid        string
	Pmcid       string
	Name        string
	Description string
	Publication string
	Authors     string
	Year        int
	Metadata    map[string]any
}

// BaseStudyPayload carries the fields the pipeline sets on a base study.
type BaseStudyPayload struct {
	StudyFields
	IsOa *bool
}

// StudyPayload carries the fields the pipeline sets on a study version.
type StudyPayload struct {
	StudyFields
}

// TablePayload describes one article table as the store records it, keyed
// within a study by TID.
type TablePayload struct {
	TID     string
	Label   string
	Name    string
	Caption string
	Footer  string
}

// PreparedAnalysis pairs one analysis with the table it came from and the
// coordinate space its collection reported.
type PreparedAnalysis struct {
	Table           *TablePayload
	Analysis        *analyses.Analysis
	CoordinateSpace extraction.Space
}

// WorkItem is everything the store needs for one article: the base study and
// study payloads plus the analyses to insert, processed inside one savepoint.
type WorkItem struct {
	Slug       string
	Identifier *identifiers.Identifier
	BaseStudy  *BaseStudyPayload
	Study      *StudyPayload
	Analyses   []*PreparedAnalysis
}

// row ids are short UUIDs: base57 text without lookalike characters
const shortIDAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

const shortIDLength = 12

// NewShortID returns a 12-character identifier derived from a fresh UUID,
// matching the id format of rows the destination store mints itself.
func NewShortID() string {
	raw := uuid.New()
	number := new(big.Int).SetBytes(raw[:])
	base := big.NewInt(int64(len(shortIDAlphabet)))
	remainder := new(big.Int)

	var b strings.Builder
	for b.Len() < shortIDLength {
		if number.Sign() == 0 {
			b.WriteByte(shortIDAlphabet[0])
			continue
		}
		number.QuoRem(number, base, remainder)
		b.WriteByte(shortIDAlphabet[remainder.Int64()])
	}
	return b.String()
}
