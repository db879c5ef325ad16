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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neurostuff/nsingest/config"
)

// PgStore is the production Store, backed by a pgx connection pool. Article
// savepoints map onto pgx nested transactions, which issue SAVEPOINT /
// RELEASE SAVEPOINT / ROLLBACK TO SAVEPOINT under the hood.
type PgStore struct {
	pool   *pgxpool.Pool
	tunnel Tunnel
}

// NewPgStore connects to the destination store configured in the upload
// section, opening an SSH tunnel first when one is configured.
func NewPgStore(ctx context.Context) (*PgStore, error) {
	tunnel, err := openTunnel(ctx)
	if err != nil {
		return nil, err
	}
	password, err := config.DbPassword()
	if err != nil {
		if tunnel != nil {
			tunnel.Close()
		}
		return nil, err
	}
	pool, err := pgxpool.New(ctx, config.Upload.ConnString(password))
	if err != nil {
		if tunnel != nil {
			tunnel.Close()
		}
		return nil, fmt.Errorf("couldn't open a database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		if tunnel != nil {
			tunnel.Close()
		}
		return nil, fmt.Errorf("couldn't reach the database: %w", err)
	}
	return &PgStore{pool: pool, tunnel: tunnel}, nil
}

func (s *PgStore) Begin(ctx context.Context) (Batch, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("couldn't begin the upload transaction: %w", err)
	}
	return &pgBatch{tx: tx}, nil
}

func (s *PgStore) Close() {
	s.pool.Close()
	if s.tunnel != nil {
		s.tunnel.Close()
	}
}

type pgBatch struct {
	tx pgx.Tx
}

func (b *pgBatch) Savepoint(ctx context.Context) (Session, error) {
	nested, err := b.tx.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("couldn't open a savepoint: %w", err)
	}
	return &pgSession{tx: nested}, nil
}

func (b *pgBatch) Commit(ctx context.Context) error {
	return b.tx.Commit(ctx)
}

func (b *pgBatch) Rollback(ctx context.Context) error {
	return b.tx.Rollback(ctx)
}

type pgSession struct {
	tx pgx.Tx
}

func (s *pgSession) Release(ctx context.Context) error {
	return s.tx.Commit(ctx)
}

func (s *pgSession) Rollback(ctx context.Context) error {
	return s.tx.Rollback(ctx)
}

const baseStudyColumns = `id, COALESCE(doi, ''), COALESCE(pmid, ''), COALESCE(pmcid, ''),
COALESCE(name, ''), COALESCE(description, ''), COALESCE(publication, ''),
COALESCE(authors, ''), COALESCE(year, 0), is_oa, COALESCE(has_coordinates, FALSE),
COALESCE(level, ''), COALESCE(metadata_blob::text, '')`

func (s *pgSession) FindBaseStudyByDoi(ctx context.Context, doi string) (*BaseStudyRow, error) {
	return s.scanBaseStudy(s.tx.QueryRow(ctx,
		`SELECT `+baseStudyColumns+` FROM base_studies WHERE doi = $1 LIMIT 1`, doi))
}

func (s *pgSession) FindBaseStudyByPmid(ctx context.Context, pmid string) (*BaseStudyRow, error) {
	return s.scanBaseStudy(s.tx.QueryRow(ctx,
		`SELECT `+baseStudyColumns+` FROM base_studies WHERE pmid = $1 LIMIT 1`, pmid))
}

func (s *pgSession) scanBaseStudy(record pgx.Row) (*BaseStudyRow, error) {
	var row BaseStudyRow
	var metadataText string
	err := record.Scan(&row.ID, &row.Doi, &row.Pmid, &row.Pmcid, &row.Name,
		&row.Description, &row.Publication, &row.Authors, &row.Year, &row.IsOa,
		&row.HasCoordinates, &row.Level, &metadataText)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("looking up a base study", err)
	}
	row.Metadata = decodeMetadata(metadataText)
	return &row, nil
}

func (s *pgSession) InsertBaseStudy(ctx context.Context, row *BaseStudyRow) error {
	_, err := s.tx.Exec(ctx, `
INSERT INTO base_studies (id, doi, pmid, pmcid, name, description, publication,
  authors, year, is_oa, has_coordinates, level, metadata_blob, created_at, updated_at)
VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''),
  NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, 0), $10, $11,
  NULLIF($12, ''), $13, now(), now())`,
		row.ID, row.Doi, row.Pmid, row.Pmcid, row.Name, row.Description,
		row.Publication, row.Authors, row.Year, row.IsOa, row.HasCoordinates,
		row.Level, encodeMetadata(row.Metadata))
	if err != nil {
		return storeError("inserting a base study", err)
	}
	return nil
}

func (s *pgSession) UpdateBaseStudy(ctx context.Context, row *BaseStudyRow) error {
	_, err := s.tx.Exec(ctx, `
UPDATE base_studies SET doi = NULLIF($2, ''), pmid = NULLIF($3, ''),
  pmcid = NULLIF($4, ''), name = NULLIF($5, ''), description = NULLIF($6, ''),
  publication = NULLIF($7, ''), authors = NULLIF($8, ''), year = NULLIF($9, 0),
  is_oa = $10, has_coordinates = $11, level = NULLIF($12, ''),
  metadata_blob = $13, updated_at = now()
WHERE id = $1`,
		row.ID, row.Doi, row.Pmid, row.Pmcid, row.Name, row.Description,
		row.Publication, row.Authors, row.Year, row.IsOa, row.HasCoordinates,
		row.Level, encodeMetadata(row.Metadata))
	if err != nil {
		return storeError("updating a base study", err)
	}
	return nil
}

func (s *pgSession) FindStudy(ctx context.Context, baseStudyID, source string) (*StudyRow, error) {
	var row StudyRow
	var metadataText string
	err := s.tx.QueryRow(ctx, `
SELECT id, base_study_id, source, COALESCE(source_id, ''), source_updated_at,
  COALESCE(doi, ''), COALESCE(pmid, ''), COALESCE(pmcid, ''), COALESCE(name, ''),
  COALESCE(description, ''), COALESCE(publication, ''), COALESCE(authors, ''),
  COALESCE(year, 0), COALESCE(level, ''), COALESCE(metadata_blob::text, '')
FROM studies WHERE base_study_id = $1 AND source = $2
ORDER BY source_updated_at DESC LIMIT 1`, baseStudyID, source).Scan(
		&row.ID, &row.BaseStudyID, &row.Source, &row.SourceID, &row.SourceUpdatedAt,
		&row.Doi, &row.Pmid, &row.Pmcid, &row.Name, &row.Description,
		&row.Publication, &row.Authors, &row.Year, &row.Level, &metadataText)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("looking up a study version", err)
	}
	row.Metadata = decodeMetadata(metadataText)
	return &row, nil
}

func (s *pgSession) InsertStudy(ctx context.Context, row *StudyRow) error {
	_, err := s.tx.Exec(ctx, `
INSERT INTO studies (id, base_study_id, source, source_id, source_updated_at,
  doi, pmid, pmcid, name, description, publication, authors, year, level,
  metadata_blob)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''),
  NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''),
  NULLIF($12, ''), NULLIF($13, 0), NULLIF($14, ''), $15)`,
		row.ID, row.BaseStudyID, row.Source, row.SourceID, row.SourceUpdatedAt,
		row.Doi, row.Pmid, row.Pmcid, row.Name, row.Description, row.Publication,
		row.Authors, row.Year, row.Level, encodeMetadata(row.Metadata))
	if err != nil {
		return storeError("inserting a study version", err)
	}
	return nil
}

func (s *pgSession) UpdateStudy(ctx context.Context, row *StudyRow) error {
	_, err := s.tx.Exec(ctx, `
UPDATE studies SET source_id = NULLIF($2, ''), source_updated_at = $3,
  doi = NULLIF($4, ''), pmid = NULLIF($5, ''), pmcid = NULLIF($6, ''),
  name = NULLIF($7, ''), description = NULLIF($8, ''),
  publication = NULLIF($9, ''), authors = NULLIF($10, ''),
  year = NULLIF($11, 0), level = NULLIF($12, ''), metadata_blob = $13
WHERE id = $1`,
		row.ID, row.SourceID, row.SourceUpdatedAt, row.Doi, row.Pmid, row.Pmcid,
		row.Name, row.Description, row.Publication, row.Authors, row.Year,
		row.Level, encodeMetadata(row.Metadata))
	if err != nil {
		return storeError("updating a study version", err)
	}
	return nil
}

// ClearStudyData deletes the study's analyses and tables; points and point
// values follow their analyses via foreign key cascade.
func (s *pgSession) ClearStudyData(ctx context.Context, studyID string) error {
	if _, err := s.tx.Exec(ctx,
		`DELETE FROM analyses WHERE study_id = $1`, studyID); err != nil {
		return storeError("clearing study analyses", err)
	}
	if _, err := s.tx.Exec(ctx,
		`DELETE FROM tables WHERE study_id = $1`, studyID); err != nil {
		return storeError("clearing study tables", err)
	}
	return nil
}

func (s *pgSession) FindTable(ctx context.Context, studyID, tid string) (*TableRow, error) {
	var row TableRow
	err := s.tx.QueryRow(ctx, `
SELECT id, study_id, t_id, COALESCE(name, ''), COALESCE(caption, ''),
  COALESCE(footer, '')
FROM tables WHERE study_id = $1 AND t_id = $2 LIMIT 1`, studyID, tid).Scan(
		&row.ID, &row.StudyID, &row.TID, &row.Name, &row.Caption, &row.Footer)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("looking up a table", err)
	}
	return &row, nil
}

func (s *pgSession) InsertTable(ctx context.Context, row *TableRow) error {
	_, err := s.tx.Exec(ctx, `
INSERT INTO tables (id, study_id, t_id, name, caption, footer)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))`,
		row.ID, row.StudyID, row.TID, row.Name, row.Caption, row.Footer)
	if err != nil {
		return storeError("inserting a table", err)
	}
	return nil
}

func (s *pgSession) UpdateTable(ctx context.Context, row *TableRow) error {
	_, err := s.tx.Exec(ctx, `
UPDATE tables SET name = NULLIF($2, ''), caption = NULLIF($3, ''),
  footer = NULLIF($4, '')
WHERE id = $1`, row.ID, row.Name, row.Caption, row.Footer)
	if err != nil {
		return storeError("updating a table", err)
	}
	return nil
}

func (s *pgSession) InsertAnalysis(ctx context.Context, row *AnalysisRow) error {
	_, err := s.tx.Exec(ctx, `
INSERT INTO analyses (id, study_id, table_id, name, description, metadata_blob,
  "order")
VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7)`,
		row.ID, row.StudyID, row.TableID, row.Name, row.Description,
		encodeMetadata(row.Metadata), row.Order)
	if err != nil {
		return storeError("inserting an analysis", err)
	}
	return nil
}

func (s *pgSession) InsertPoint(ctx context.Context, row *PointRow) error {
	_, err := s.tx.Exec(ctx, `
INSERT INTO points (id, analysis_id, x, y, z, space, cluster_size, subpeak,
  deactivation, "order")
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9, $10)`,
		row.ID, row.AnalysisID, row.X, row.Y, row.Z, row.Space, row.ClusterSize,
		row.Subpeak, row.Deactivation, row.Order)
	if err != nil {
		return storeError("inserting a point", err)
	}
	return nil
}

func (s *pgSession) InsertPointValue(ctx context.Context, row *PointValueRow) error {
	_, err := s.tx.Exec(ctx, `
INSERT INTO point_values (id, point_id, kind, value)
VALUES ($1, $2, NULLIF($3, ''), $4)`,
		row.ID, row.PointID, row.Kind, row.Value)
	if err != nil {
		return storeError("inserting a point value", err)
	}
	return nil
}

// encodeMetadata renders a metadata map as jsonb input, or NULL when empty.
func encodeMetadata(metadata map[string]any) any {
	if len(metadata) == 0 {
		return nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return encoded
}

func decodeMetadata(text string) map[string]any {
	if text == "" {
		return nil
	}
	var metadata map[string]any
	if err := json.Unmarshal([]byte(text), &metadata); err != nil {
		return nil
	}
	return metadata
}
