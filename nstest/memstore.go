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

package nstest

import (
	"context"
	"errors"

	"github.com/neurostuff/nsingest/neurostore"
)

// MemoryStore implements an in-memory neurostore.Store with honest savepoint
// semantics: a batch works on a copy of the committed rows and each savepoint
// on a copy of the batch's, so rollbacks discard exactly what the real store
// would.
type MemoryStore struct {
	BeginErr  error // scripted Begin failure
	CommitErr error // scripted Commit failure

	committed *storeRows
	commits   int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{committed: &storeRows{}}
}

type storeRows struct {
	baseStudies []neurostore.BaseStudyRow
	studies     []neurostore.StudyRow
	tables      []neurostore.TableRow
	analyses    []neurostore.AnalysisRow
	points      []neurostore.PointRow
	pointValues []neurostore.PointValueRow
}

func (r *storeRows) clone() *storeRows {
	return &storeRows{
		baseStudies: append([]neurostore.BaseStudyRow{}, r.baseStudies...),
		studies:     append([]neurostore.StudyRow{}, r.studies...),
		tables:      append([]neurostore.TableRow{}, r.tables...),
		analyses:    append([]neurostore.AnalysisRow{}, r.analyses...),
		points:      append([]neurostore.PointRow{}, r.points...),
		pointValues: append([]neurostore.PointValueRow{}, r.pointValues...),
	}
}

func (s *MemoryStore) Begin(_ context.Context) (neurostore.Batch, error) {
	if s.BeginErr != nil {
		return nil, s.BeginErr
	}
	return &memoryBatch{store: s, working: s.committed.clone()}, nil
}

func (s *MemoryStore) Close() {}

// Commits returns the number of batches committed so far.
func (s *MemoryStore) Commits() int {
	return s.commits
}

// committed row accessors; all of them return copies

func (s *MemoryStore) BaseStudies() []neurostore.BaseStudyRow {
	return append([]neurostore.BaseStudyRow{}, s.committed.baseStudies...)
}

func (s *MemoryStore) Studies() []neurostore.StudyRow {
	return append([]neurostore.StudyRow{}, s.committed.studies...)
}

func (s *MemoryStore) Tables() []neurostore.TableRow {
	return append([]neurostore.TableRow{}, s.committed.tables...)
}

func (s *MemoryStore) Analyses() []neurostore.AnalysisRow {
	return append([]neurostore.AnalysisRow{}, s.committed.analyses...)
}

func (s *MemoryStore) Points() []neurostore.PointRow {
	return append([]neurostore.PointRow{}, s.committed.points...)
}

func (s *MemoryStore) PointValues() []neurostore.PointValueRow {
	return append([]neurostore.PointValueRow{}, s.committed.pointValues...)
}

type memoryBatch struct {
	store   *MemoryStore
	working *storeRows
}

func (b *memoryBatch) Savepoint(_ context.Context) (neurostore.Session, error) {
	return &memorySession{batch: b, rows: b.working.clone()}, nil
}

func (b *memoryBatch) Commit(_ context.Context) error {
	if b.store.CommitErr != nil {
		return b.store.CommitErr
	}
	b.store.committed = b.working
	b.store.commits++
	return nil
}

func (b *memoryBatch) Rollback(_ context.Context) error {
	return nil
}

type memorySession struct {
	batch *memoryBatch
	rows  *storeRows
}

func (s *memorySession) Release(_ context.Context) error {
	s.batch.working = s.rows
	return nil
}

func (s *memorySession) Rollback(_ context.Context) error {
	return nil
}

func (s *memorySession) FindBaseStudyByDoi(_ context.Context, doi string) (*neurostore.BaseStudyRow, error) {
	for i := range s.rows.baseStudies {
		if s.rows.baseStudies[i].Doi == doi {
			row := s.rows.baseStudies[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (s *memorySession) FindBaseStudyByPmid(_ context.Context, pmid string) (*neurostore.BaseStudyRow, error) {
	for i := range s.rows.baseStudies {
		if s.rows.baseStudies[i].Pmid == pmid {
			row := s.rows.baseStudies[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (s *memorySession) InsertBaseStudy(_ context.Context, row *neurostore.BaseStudyRow) error {
	s.rows.baseStudies = append(s.rows.baseStudies, *row)
	return nil
}

func (s *memorySession) UpdateBaseStudy(_ context.Context, row *neurostore.BaseStudyRow) error {
	for i := range s.rows.baseStudies {
		if s.rows.baseStudies[i].ID == row.ID {
			s.rows.baseStudies[i] = *row
			return nil
		}
	}
	return errors.New("no such base study")
}

func (s *memorySession) FindStudy(_ context.Context, baseStudyID, source string) (*neurostore.StudyRow, error) {
	var latest *neurostore.StudyRow
	for i := range s.rows.studies {
		row := &s.rows.studies[i]
		if row.BaseStudyID != baseStudyID || row.Source != source {
			continue
		}
		if latest == nil || row.SourceUpdatedAt.After(latest.SourceUpdatedAt) {
			latest = row
		}
	}
	if latest == nil {
		return nil, nil
	}
	row := *latest
	return &row, nil
}

func (s *memorySession) InsertStudy(_ context.Context, row *neurostore.StudyRow) error {
	s.rows.studies = append(s.rows.studies, *row)
	return nil
}

func (s *memorySession) UpdateStudy(_ context.Context, row *neurostore.StudyRow) error {
	for i := range s.rows.studies {
		if s.rows.studies[i].ID == row.ID {
			s.rows.studies[i] = *row
			return nil
		}
	}
	return errors.New("no such study")
}

func (s *memorySession) ClearStudyData(_ context.Context, studyID string) error {
	droppedAnalyses := map[string]bool{}
	analyses := s.rows.analyses[:0:0]
	for _, row := range s.rows.analyses {
		if row.StudyID == studyID {
			droppedAnalyses[row.ID] = true
			continue
		}
		analyses = append(analyses, row)
	}
	s.rows.analyses = analyses

	droppedPoints := map[string]bool{}
	points := s.rows.points[:0:0]
	for _, row := range s.rows.points {
		if droppedAnalyses[row.AnalysisID] {
			droppedPoints[row.ID] = true
			continue
		}
		points = append(points, row)
	}
	s.rows.points = points

	values := s.rows.pointValues[:0:0]
	for _, row := range s.rows.pointValues {
		if !droppedPoints[row.PointID] {
			values = append(values, row)
		}
	}
	s.rows.pointValues = values

	tables := s.rows.tables[:0:0]
	for _, row := range s.rows.tables {
		if row.StudyID != studyID {
			tables = append(tables, row)
		}
	}
	s.rows.tables = tables
	return nil
}

func (s *memorySession) FindTable(_ context.Context, studyID, tid string) (*neurostore.TableRow, error) {
	for i := range s.rows.tables {
		if s.rows.tables[i].StudyID == studyID && s.rows.tables[i].TID == tid {
			row := s.rows.tables[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (s *memorySession) InsertTable(_ context.Context, row *neurostore.TableRow) error {
	s.rows.tables = append(s.rows.tables, *row)
	return nil
}

func (s *memorySession) UpdateTable(_ context.Context, row *neurostore.TableRow) error {
	for i := range s.rows.tables {
		if s.rows.tables[i].ID == row.ID {
			s.rows.tables[i] = *row
			return nil
		}
	}
	return errors.New("no such table")
}

func (s *memorySession) InsertAnalysis(_ context.Context, row *neurostore.AnalysisRow) error {
	s.rows.analyses = append(s.rows.analyses, *row)
	return nil
}

func (s *memorySession) InsertPoint(_ context.Context, row *neurostore.PointRow) error {
	s.rows.points = append(s.rows.points, *row)
	return nil
}

func (s *memorySession) InsertPointValue(_ context.Context, row *neurostore.PointValueRow) error {
	s.rows.pointValues = append(s.rows.pointValues, *row)
	return nil
}
