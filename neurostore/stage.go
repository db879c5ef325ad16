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
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/neurostuff/nsingest/analyses"
	"github.com/neurostuff/nsingest/caches"
	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/extraction"
)

// Stage is the upload stage. It runs strictly single-threaded: one database
// session, one outer transaction per run.
type Stage struct {
	store Store
}

// NewStage returns an upload stage over the given store. A nil store means
// connect to the configured database when the stage runs.
func NewStage(store Store) *Stage {
	return &Stage{store: store}
}

// Run uploads each article's analyses, returning one outcome per input in
// input order. Articles with a cached outcome skip the database entirely.
func (s *Stage) Run(ctx context.Context, articles []*analyses.ArticleAnalyses) ([]*UploadOutcome, error) {
	outcomes := make([]*UploadOutcome, len(articles))
	if len(articles) == 0 {
		return outcomes, nil
	}

	cache, err := OpenCache()
	if err != nil {
		return nil, err
	}
	defer cache.Close()

	type pendingItem struct {
		Index int
		Item  *WorkItem
	}
	pending := []pendingItem{}
	ignoreCache := config.IgnoreCacheFor(config.StageUpload)
	cacheHits := 0
	for i, article := range articles {
		item := PrepareWorkItem(article)
		if item == nil {
			outcomes[i] = &UploadOutcome{
				Slug:  articleSlug(article),
				Error: "no extracted content to upload",
			}
			continue
		}
		if !ignoreCache {
			envelope, found, err := cache.Get(item.Slug)
			if err != nil {
				slog.Warn("unreadable upload cache entry", "slug", item.Slug, "error", err.Error())
			} else if found {
				outcomes[i] = envelope.Payload
				cacheHits++
				continue
			}
		}
		pending = append(pending, pendingItem{Index: i, Item: item})
	}

	uploaded, failed := 0, 0
	if len(pending) > 0 {
		store := s.store
		if store == nil {
			if store, err = NewPgStore(ctx); err != nil {
				return nil, err
			}
			defer store.Close()
		}

		items := make([]*WorkItem, len(pending))
		for k := range pending {
			items[k] = pending[k].Item
		}
		results, err := Execute(ctx, store, items)
		if err != nil {
			return nil, err
		}

		fresh := []*caches.Envelope[*UploadOutcome]{}
		for k, outcome := range results {
			outcomes[pending[k].Index] = outcome
			if outcome.Success {
				uploaded++
				fresh = append(fresh, caches.NewEnvelope(outcome.Slug, outcome))
			} else {
				failed++
			}
		}
		if len(fresh) > 0 {
			if err := cache.AddEntries(fresh); err != nil {
				slog.Error("couldn't cache upload outcomes", "error", err.Error())
			}
		}
	}

	slog.Info("upload complete", "articles", len(articles), "cache_hits", cacheHits,
		"uploaded", uploaded, "failed", failed)
	return outcomes, nil
}

// Execute lands the work items in one outer transaction with a savepoint per
// item. A failed item rolls back alone and the batch carries on; an outer
// commit failure loses every item, so all outcomes come back failed. The
// error return is reserved for not getting a transaction at all and for
// cancellation.
func Execute(ctx context.Context, store Store, items []*WorkItem) ([]*UploadOutcome, error) {
	outcomes := make([]*UploadOutcome, len(items))
	for i, item := range items {
		outcomes[i] = &UploadOutcome{Slug: item.Slug, Identifier: item.Identifier}
	}
	if len(items) == 0 {
		return outcomes, nil
	}

	batch, err := store.Begin(ctx)
	if err != nil {
		return nil, err
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			batch.Rollback(context.WithoutCancel(ctx))
			return nil, err
		}
		outcome := outcomes[i]
		session, err := batch.Savepoint(ctx)
		if err != nil {
			outcome.Error = err.Error()
			continue
		}
		refs, err := processItem(ctx, session, item)
		if err == nil {
			err = session.Release(ctx)
		}
		if err != nil {
			session.Rollback(ctx)
			outcome.Error = err.Error()
			slog.Warn("article upload failed", "slug", item.Slug, "error", err.Error())
			continue
		}
		outcome.Success = true
		outcome.BaseStudyID = refs.BaseStudyID
		outcome.StudyID = refs.StudyID
		outcome.AnalysisIDs = refs.AnalysisIDs
	}

	if err := batch.Commit(ctx); err != nil {
		slog.Error("couldn't commit the upload transaction", "error", err.Error())
		for _, outcome := range outcomes {
			outcome.Success = false
			outcome.BaseStudyID, outcome.StudyID, outcome.AnalysisIDs = "", "", nil
			outcome.Error = fmt.Sprintf("upload transaction failed: %v", err)
		}
	}
	return outcomes, nil
}

// uploadRefs collects the row ids one work item produced.
type uploadRefs struct {
	BaseStudyID string
	StudyID     string
	AnalysisIDs []string
}

func processItem(ctx context.Context, session Session, item *WorkItem) (*uploadRefs, error) {
	behavior := config.Upload.Behavior
	metadataOnly := config.Upload.MetadataOnly
	mode := config.Upload.MetadataMode

	// Analyses either all insert or the savepoint rolls back whole, so the
	// coordinate flags are known before the first row is written.
	inserting := !metadataOnly && len(item.Analyses) > 0

	base, err := resolveBaseStudy(ctx, session, item)
	if err != nil {
		return nil, err
	}
	baseExists := base != nil
	if !baseExists {
		base = &BaseStudyRow{ID: NewShortID()}
	}
	applyBaseStudyFields(base, item.BaseStudy, mode)
	if inserting {
		base.HasCoordinates = true
	}
	if baseExists {
		err = session.UpdateBaseStudy(ctx, base)
	} else {
		err = session.InsertBaseStudy(ctx, base)
	}
	if err != nil {
		return nil, err
	}

	var study *StudyRow
	if behavior == config.UploadBehaviorUpdate {
		if study, err = session.FindStudy(ctx, base.ID, StudySource); err != nil {
			return nil, err
		}
	}
	studyExists := study != nil
	if !studyExists {
		study = &StudyRow{
			ID:          NewShortID(),
			BaseStudyID: base.ID,
			Source:      StudySource,
		}
	}
	study.SourceID = fillValue(study.SourceID, item.Slug)
	study.SourceUpdatedAt = time.Now().UTC()
	applyStudyFields(study, item.Study, mode)
	if inserting || study.Level == "" {
		study.Level = LevelGroup
	}
	if studyExists {
		err = session.UpdateStudy(ctx, study)
	} else {
		err = session.InsertStudy(ctx, study)
	}
	if err != nil {
		return nil, err
	}

	refs := &uploadRefs{BaseStudyID: base.ID, StudyID: study.ID}
	if metadataOnly {
		return refs, nil
	}

	// a re-upload replaces the study's previous analyses and tables
	if studyExists {
		if err := session.ClearStudyData(ctx, study.ID); err != nil {
			return nil, err
		}
	}

	tableIDs := map[string]string{}
	nameCounts := map[string]int{}
	for order, prepared := range item.Analyses {
		tableRowID := ""
		if prepared.Table != nil && prepared.Table.TID != "" {
			if tableRowID, err = upsertTable(ctx, session, study.ID, prepared.Table, tableIDs); err != nil {
				return nil, err
			}
		}
		analysisRow := &AnalysisRow{
			ID:          NewShortID(),
			StudyID:     study.ID,
			TableID:     tableRowID,
			Name:        analysisName(prepared, nameCounts),
			Description: SanitizeText(prepared.Analysis.Description),
			Order:       order + 1,
			Metadata:    sanitizeMetadata(prepared.Analysis.Metadata),
		}
		if err := session.InsertAnalysis(ctx, analysisRow); err != nil {
			return nil, err
		}
		refs.AnalysisIDs = append(refs.AnalysisIDs, analysisRow.ID)

		for pi := range prepared.Analysis.Coordinates {
			coordinate := &prepared.Analysis.Coordinates[pi]
			point := &PointRow{
				ID:           NewShortID(),
				AnalysisID:   analysisRow.ID,
				X:            coordinate.X,
				Y:            coordinate.Y,
				Z:            coordinate.Z,
				Space:        pointSpace(coordinate.Space, prepared.CoordinateSpace),
				Order:        pi + 1,
				Subpeak:      coordinate.IsSubpeak,
				Deactivation: coordinate.IsDeactivation,
				ClusterSize:  coordinate.ClusterSize,
			}
			if err := session.InsertPoint(ctx, point); err != nil {
				return nil, err
			}
			if coordinate.StatisticType != "" || coordinate.StatisticValue != nil {
				value := &PointValueRow{
					ID:      NewShortID(),
					PointID: point.ID,
					Kind:    coordinate.StatisticType,
					Value:   coordinate.StatisticValue,
				}
				if err := session.InsertPointValue(ctx, value); err != nil {
					return nil, err
				}
			}
		}
	}
	return refs, nil
}

// resolveBaseStudy looks up an existing base study, DOI first, then PMID.
// When the DOI matches, any PMID match is ignored.
func resolveBaseStudy(ctx context.Context, session Session, item *WorkItem) (*BaseStudyRow, error) {
	if doi := item.BaseStudy.Doi; doi != "" {
		row, err := session.FindBaseStudyByDoi(ctx, doi)
		if row != nil || err != nil {
			return row, err
		}
	}
	if pmid := item.BaseStudy.Pmid; pmid != "" {
		return session.FindBaseStudyByPmid(ctx, pmid)
	}
	return nil, nil
}

// upsertTable finds or creates the table row for (study, t_id), remembering
// ids already handled so analyses from one table share a row.
func upsertTable(ctx context.Context, session Session, studyID string, payload *TablePayload, seen map[string]string) (string, error) {
	if id, found := seen[payload.TID]; found {
		return id, nil
	}
	row, err := session.FindTable(ctx, studyID, payload.TID)
	if err != nil {
		return "", err
	}
	if row == nil {
		row = &TableRow{
			ID:      NewShortID(),
			StudyID: studyID,
			TID:     payload.TID,
			Name:    tableName(payload),
			Caption: payload.Caption,
			Footer:  payload.Footer,
		}
		err = session.InsertTable(ctx, row)
	} else {
		row.Name = fillValue(row.Name, tableName(payload))
		row.Caption = fillValue(row.Caption, payload.Caption)
		row.Footer = fillValue(row.Footer, payload.Footer)
		err = session.UpdateTable(ctx, row)
	}
	if err != nil {
		return "", err
	}
	seen[payload.TID] = row.ID
	return row.ID, nil
}

func tableName(payload *TablePayload) string {
	if payload.Label != "" {
		return payload.Label
	}
	return payload.Name
}

// analysisName picks a deterministic name: the model's, unless empty or the
// literal "UNKNOWN", then the table's label, title and id in turn, then
// "analysis". Repeats within the article get -2, -3, … in insertion order.
func analysisName(prepared *PreparedAnalysis, seen map[string]int) string {
	name := strings.TrimSpace(SanitizeText(prepared.Analysis.Name))
	if name == "UNKNOWN" {
		name = ""
	}
	if name == "" && prepared.Table != nil {
		for _, candidate := range []string{prepared.Table.Label, prepared.Table.Name, prepared.Table.TID} {
			if candidate != "" {
				name = candidate
				break
			}
		}
	}
	if name == "" {
		name = "analysis"
	}
	seen[name]++
	if n := seen[name]; n > 1 {
		return fmt.Sprintf("%s-%d", name, n)
	}
	return name
}

func pointSpace(own, collection extraction.Space) string {
	if own != "" {
		return string(own)
	}
	return string(collection)
}

func articleSlug(article *analyses.ArticleAnalyses) string {
	if article != nil && article.Bundle != nil && article.Bundle.Content != nil {
		return article.Bundle.Content.Slug
	}
	return ""
}

// OpenCache opens the upload outcome cache. The sync stage and later runs
// use it to find already-uploaded artifacts without touching the database.
func OpenCache() (*caches.Cache[*UploadOutcome], error) {
	return caches.Open(caches.Spec[*UploadOutcome]{
		Dir:          filepath.Join(config.Dirs.CacheRoot, config.StageUpload),
		Table:        config.StageUpload,
		ExtraColumns: []string{"base_study_id", "study_id"},
		Aliases: func(outcome *UploadOutcome) caches.AliasValues {
			if outcome == nil {
				return caches.AliasValues{}
			}
			values := caches.AliasValues{
				Extra: map[string]string{
					"base_study_id": outcome.BaseStudyID,
					"study_id":      outcome.StudyID,
				},
			}
			if outcome.Identifier != nil {
				values.Pmid = outcome.Identifier.Pmid()
				values.Doi = outcome.Identifier.Doi()
				values.Pmcid = outcome.Identifier.Pmcid()
			}
			return values
		},
	})
}
