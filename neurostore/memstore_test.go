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
	"errors"
)

// memoryStore is an in-memory Store with honest savepoint semantics: a batch
// works on a copy of the committed rows and each savepoint on a copy of the
// batch's, so rollbacks discard exactly what the real store would.
type memoryStore struct {
	committed *memoryRows

	beginErr         error
	commitErr        error
	failAnalysisName string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{committed: &memoryRows{}}
}

type memoryRows struct {
	baseStudies []BaseStudyRow
	studies     []StudyRow
	tables      []TableRow
	analyses    []AnalysisRow
	points      []PointRow
	pointValues []PointValueRow
}

func (r *memoryRows) clone() *memoryRows {
	return &memoryRows{
		baseStudies: append([]BaseStudyRow{}, r.baseStudies...),
		studies:     append([]StudyRow{}, r.studies...),
		tables:      append([]TableRow{}, r.tables...),
		analyses:    append([]AnalysisRow{}, r.analyses...),
		points:      append([]PointRow{}, r.points...),
		pointValues: append([]PointValueRow{}, r.pointValues...),
	}
}

func (s *memoryStore) Begin(_ context.Context) (Batch, error) {
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &memoryBatch{store: s, working: s.committed.clone()}, nil
}

func (s *memoryStore) Close() {}

func (s *memoryStore) baseStudyByID(id string) *BaseStudyRow {
	for i := range s.committed.baseStudies {
		if s.committed.baseStudies[i].ID == id {
			row := s.committed.baseStudies[i]
			return &row
		}
	}
	return nil
}

func (s *memoryStore) studiesFor(baseStudyID string) []StudyRow {
	rows := []StudyRow{}
	for _, row := range s.committed.studies {
		if row.BaseStudyID == baseStudyID {
			rows = append(rows, row)
		}
	}
	return rows
}

func (s *memoryStore) analysisNames() []string {
	names := make([]string, len(s.committed.analyses))
	for i := range s.committed.analyses {
		names[i] = s.committed.analyses[i].Name
	}
	return names
}

type memoryBatch struct {
	store   *memoryStore
	working *memoryRows
}

func (b *memoryBatch) Savepoint(_ context.Context) (Session, error) {
	return &memorySession{batch: b, rows: b.working.clone()}, nil
}

func (b *memoryBatch) Commit(_ context.Context) error {
	if b.store.commitErr != nil {
		return b.store.commitErr
	}
	b.store.committed = b.working
	return nil
}

func (b *memoryBatch) Rollback(_ context.Context) error {
	return nil
}

type memorySession struct {
	batch *memoryBatch
	rows  *memoryRows
}

func (s *memorySession) Release(_ context.Context) error {
	s.batch.working = s.rows
	return nil
}

func (s *memorySession) Rollback(_ context.Context) error {
	return nil
}

func (s *memorySession) FindBaseStudyByDoi(_ context.Context, doi string) (*BaseStudyRow, error) {
	for i := range s.rows.baseStudies {
		if s.rows.baseStudies[i].Doi == doi {
			row := s.rows.baseStudies[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (s *memorySession) FindBaseStudyByPmid(_ context.Context, pmid string) (*BaseStudyRow, error) {
	for i := range s.rows.baseStudies {
		if s.rows.baseStudies[i].Pmid == pmid {
			row := s.rows.baseStudies[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (s *memorySession) InsertBaseStudy(_ context.Context, row *BaseStudyRow) error {
	s.rows.baseStudies = append(s.rows.baseStudies, *row)
	return nil
}

func (s *memorySession) UpdateBaseStudy(_ context.Context, row *BaseStudyRow) error {
	for i := range s.rows.baseStudies {
		if s.rows.baseStudies[i].ID == row.ID {
			s.rows.baseStudies[i] = *row
			return nil
		}
	}
	return errors.New("no such base study")
}

func (s *memorySession) FindStudy(_ context.Context, baseStudyID, source string) (*StudyRow, error) {
	var latest *StudyRow
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

func (s *memorySession) InsertStudy(_ context.Context, row *StudyRow) error {
	s.rows.studies = append(s.rows.studies, *row)
	return nil
}

func (s *memorySession) UpdateStudy(_ context.Context, row *StudyRow) error {
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

func (s *memorySession) FindTable(_ context.Context, studyID, tid string) (*TableRow, error) {
	for i := range s.rows.tables {
		if s.rows.tables[i].StudyID == studyID && s.rows.tables[i].TID == tid {
			row := s.rows.tables[i]
			return &row, nil
		}
	}
	return nil, nil
}

func (s *memorySession) InsertTable(_ context.Context, row *TableRow) error {
	s.rows.tables = append(s.rows.tables, *row)
	return nil
}

func (s *memorySession) UpdateTable(_ context.Context, row *TableRow) error {
	for i := range s.rows.tables {
		if s.rows.tables[i].ID == row.ID {
			s.rows.tables[i] = *row
			return nil
		}
	}
	return errors.New("no such table")
}

func (s *memorySession) InsertAnalysis(_ context.Context, row *AnalysisRow) error {
	if s.batch.store.failAnalysisName != "" && row.Name == s.batch.store.failAnalysisName {
		return ConstraintError{Operation: "inserting an analysis", Constraint: "analysis_name_check",
			Err: errors.New("scripted failure")}
	}
	s.rows.analyses = append(s.rows.analyses, *row)
	return nil
}

func (s *memorySession) InsertPoint(_ context.Context, row *PointRow) error {
	s.rows.points = append(s.rows.points, *row)
	return nil
}

func (s *memorySession) InsertPointValue(_ context.Context, row *PointValueRow) error {
	s.rows.pointValues = append(s.rows.pointValues, *row)
	return nil
}
