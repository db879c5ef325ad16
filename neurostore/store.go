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

package neurostore

import (
	"context"
	"time"
)

// Store opens transactional batches against the destination database. The
// pgx-backed implementation is the production store; tests swap in an
// in-memory one.
type Store interface {
	// Begin opens the outer transaction a whole upload batch runs inside.
	Begin(ctx context.Context) (Batch, error)

	// Close releases the store's connections.
	Close()
}

// Batch is one outer transaction. Every article is processed inside its own
// savepoint so a failed article rolls back alone while the batch survives.
type Batch interface {
	// Savepoint opens a nested transaction scoped to a single article.
	Savepoint(ctx context.Context) (Session, error)

	// Commit makes the whole batch durable.
	Commit(ctx context.Context) error

	// Rollback abandons the whole batch.
	Rollback(ctx context.Context) error
}

// Session exposes the row operations one article's savepoint may perform.
// The Find methods report absence as (nil, nil).
type Session interface {
	FindBaseStudyByDoi(ctx context.Context, doi string) (*BaseStudyRow, error)
	FindBaseStudyByPmid(ctx context.Context, pmid string) (*BaseStudyRow, error)
	InsertBaseStudy(ctx context.Context, row *BaseStudyRow) error
	UpdateBaseStudy(ctx context.Context, row *BaseStudyRow) error

	FindStudy(ctx context.Context, baseStudyID, source string) (*StudyRow, error)
	InsertStudy(ctx context.Context, row *StudyRow) error
	UpdateStudy(ctx context.Context, row *StudyRow) error

	// ClearStudyData removes the study's analyses along with their points
	// and point values, and its tables.
	ClearStudyData(ctx context.Context, studyID string) error

	FindTable(ctx context.Context, studyID, tid string) (*TableRow, error)
	InsertTable(ctx context.Context, row *TableRow) error
	UpdateTable(ctx context.Context, row *TableRow) error

	InsertAnalysis(ctx context.Context, row *AnalysisRow) error
	InsertPoint(ctx context.Context, row *PointRow) error
	InsertPointValue(ctx context.Context, row *PointValueRow) error

	// Release commits the savepoint back into the batch.
	Release(ctx context.Context) error

	// Rollback undoes everything the savepoint wrote.
	Rollback(ctx context.Context) error
}

// BaseStudyRow mirrors the base_studies table.
type BaseStudyRow struct {
	ID             string
	Doi            string
	Pmid           string
	Pmcid          string
	Name           string
	Description    string
	Publication    string
	Authors        string
	Year           int
	IsOa           *bool
	HasCoordinates bool
	Level          string
	Metadata       map[string]any
}

// StudyRow mirrors the studies table; one version of a base study.
type StudyRow struct {
	ID              string
	BaseStudyID     string
	Source          string
	SourceID        string
	SourceUpdatedAt time.Time
	Doi             string
	Pmid            string
	Pmcid           string
	Name            string
	Description     string
	Publication     string
	Authors         string
	Year            int
	Level           string
	Metadata        map[string]any
}

// TableRow mirrors the tables table, keyed within a study by TID.
type TableRow struct {
	ID      string
	StudyID string
	TID     string
	Name    string
	Caption string
	Footer  string
}

// AnalysisRow mirrors the analyses table. TableID is empty when the analysis
// has no source table row.
type AnalysisRow struct {
	ID          string
	StudyID     string
	TableID     string
	Name        string
	Description string
	Order       int
	Metadata    map[string]any
}

// PointRow mirrors the points table; one coordinate of an analysis.
type PointRow struct {
	ID           string
	AnalysisID   string
	X            float64
	Y            float64
	Z            float64
	Space        string
	Order        int
	Subpeak      bool
	Deactivation bool
	ClusterSize  *int
}

// PointValueRow mirrors the point_values table; the statistic attached to a
// point when the source table reported one.
type PointValueRow struct {
	ID      string
	PointID string
	Kind    string
	Value   *float64
}
