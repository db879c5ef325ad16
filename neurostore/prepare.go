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
	"sort"
	"strings"

	"github.com/neurostuff/nsingest/analyses"
	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/metadata"
)

// PrepareWorkItems turns per-article analyses into upload work items.
// Articles whose extraction failed produce no item; articles with zero
// collections still get one, since their bibliographic fields are worth
// landing. Collections are visited in sorted table-key order so names and
// row ordering come out the same on every run.
func PrepareWorkItems(articles []*analyses.ArticleAnalyses) []*WorkItem {
	items := []*WorkItem{}
	for _, article := range articles {
		if item := PrepareWorkItem(article); item != nil {
			items = append(items, item)
		}
	}
	return items
}

// PrepareWorkItem builds the work item for one article, or nil when the
// article carries nothing uploadable.
func PrepareWorkItem(article *analyses.ArticleAnalyses) *WorkItem {
	if article == nil || article.Bundle == nil || article.Bundle.Content == nil {
		return nil
	}
	content := article.Bundle.Content
	if content.Failed() {
		return nil
	}

	keys := make([]string, 0, len(article.Collections))
	for key := range article.Collections {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	id := content.Identifier
	for _, key := range keys {
		collection := article.Collections[key]
		if collection != nil && collection.Identifier != nil {
			id = collection.Identifier
			break
		}
	}

	fields := buildStudyFields(id, article.Bundle.Metadata)
	item := &WorkItem{
		Slug:      content.Slug,
		BaseStudy: &BaseStudyPayload{StudyFields: fields},
		Study:     &StudyPayload{StudyFields: fields},
	}
	if id != nil {
		item.Identifier = id.Clone()
	}
	if meta := article.Bundle.Metadata; meta != nil && meta.OpenAccess != nil {
		isOa := *meta.OpenAccess
		item.BaseStudy.IsOa = &isOa
	}

	for _, key := range keys {
		collection := article.Collections[key]
		if collection == nil {
			continue
		}
		for i := range collection.Analyses {
			analysis := collection.Analyses[i]
			item.Analyses = append(item.Analyses, &PreparedAnalysis{
				Table:           tablePayloadFor(&analysis),
				Analysis:        &analysis,
				CoordinateSpace: collection.CoordinateSpace,
			})
		}
	}
	return item
}

func buildStudyFields(id *identifiers.Identifier, meta *metadata.ArticleMetadata) StudyFields {
	fields := StudyFields{}
	if id != nil {
		fields.Doi = id.Doi()
		fields.Pmid = id.Pmid()
		fields.Pmcid = id.Pmcid()
	}
	if meta == nil {
		return fields
	}
	fields.Name = SanitizeText(meta.Title)
	fields.Description = SanitizeText(meta.Abstract)
	fields.Publication = SanitizeText(meta.Journal)
	fields.Authors = SanitizeText(joinAuthors(meta.Authors))
	fields.Year = meta.PublicationYear
	fields.Metadata = sanitizeMetadata(meta.RawMetadata)
	return fields
}

func joinAuthors(authors []metadata.Author) string {
	names := make([]string, 0, len(authors))
	for _, author := range authors {
		if author.Name != "" {
			names = append(names, author.Name)
		}
	}
	return strings.Join(names, ", ")
}

func tablePayloadFor(analysis *analyses.Analysis) *TablePayload {
	payload := &TablePayload{
		TID:     analysis.TableID,
		Caption: SanitizeText(analysis.TableCaption),
		Footer:  SanitizeText(analysis.TableFooter),
	}
	if analysis.TableNumber != "" {
		payload.Label = "Table " + analysis.TableNumber
	}
	return payload
}

// SanitizeText strips NUL bytes, which the destination store's text columns
// reject.
func SanitizeText(text string) string {
	if !strings.ContainsRune(text, 0) {
		return text
	}
	return strings.ReplaceAll(text, "\x00", "")
}

func sanitizeMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	clean := make(map[string]any, len(metadata))
	for key, value := range metadata {
		clean[SanitizeText(key)] = sanitizeValue(value)
	}
	return clean
}

func sanitizeValue(value any) any {
	switch typed := value.(type) {
	case string:
		return SanitizeText(typed)
	case map[string]any:
		return sanitizeMetadata(typed)
	case []any:
		clean := make([]any, len(typed))
		for i, element := range typed {
			clean[i] = sanitizeValue(element)
		}
		return clean
	default:
		return value
	}
}

// applyBaseStudyFields merges a payload into a base study row per the merge
// mode: fill sets only fields the row is missing, overwrite always replaces
// with a populated payload field. Identifiers only ever fill, so an upload
// never strips an id the store already knows.
func applyBaseStudyFields(row *BaseStudyRow, payload *BaseStudyPayload, mode string) {
	overwrite := mode == config.UploadMetadataOverwrite
	row.Doi = fillValue(row.Doi, payload.Doi)
	row.Pmid = fillValue(row.Pmid, payload.Pmid)
	row.Pmcid = fillValue(row.Pmcid, payload.Pmcid)
	row.Name = mergeValue(row.Name, payload.Name, overwrite)
	row.Description = mergeValue(row.Description, payload.Description, overwrite)
	row.Publication = mergeValue(row.Publication, payload.Publication, overwrite)
	row.Authors = mergeValue(row.Authors, payload.Authors, overwrite)
	if payload.Year != 0 && (overwrite || row.Year == 0) {
		row.Year = payload.Year
	}
	if payload.IsOa != nil && (overwrite || row.IsOa == nil) {
		isOa := *payload.IsOa
		row.IsOa = &isOa
	}
	row.Metadata = MergeMetadata(row.Metadata, payload.Metadata, mode)
	row.Level = LevelGroup
}

// applyStudyFields merges a payload into a study version row per the merge
// mode.
func applyStudyFields(row *StudyRow, payload *StudyPayload, mode string) {
	overwrite := mode == config.UploadMetadataOverwrite
	row.Doi = fillValue(row.Doi, payload.Doi)
	row.Pmid = fillValue(row.Pmid, payload.Pmid)
	row.Pmcid = fillValue(row.Pmcid, payload.Pmcid)
	row.Name = mergeValue(row.Name, payload.Name, overwrite)
	row.Description = mergeValue(row.Description, payload.Description, overwrite)
	row.Publication = mergeValue(row.Publication, payload.Publication, overwrite)
	row.Authors = mergeValue(row.Authors, payload.Authors, overwrite)
	if payload.Year != 0 && (overwrite || row.Year == 0) {
		row.Year = payload.Year
	}
	row.Metadata = MergeMetadata(row.Metadata, payload.Metadata, mode)
}

func fillValue(current, incoming string) string {
	if current == "" {
		return incoming
	}
	return current
}

func mergeValue(current, incoming string, overwrite bool) string {
	if incoming == "" || (!overwrite && current != "") {
		return current
	}
	return incoming
}

// MergeMetadata merges an incoming metadata map into an existing one per the
// merge mode, recursing into nested maps. Keys only the existing map holds
// survive either way; fill adds only keys the existing map is missing or
// holds as nil or empty string. Neither input map is mutated.
func MergeMetadata(existing, incoming map[string]any, mode string) map[string]any {
	if len(incoming) == 0 {
		return copyMetadata(existing)
	}
	merged := copyMetadata(existing)
	if merged == nil {
		merged = make(map[string]any, len(incoming))
	}
	overwrite := mode == config.UploadMetadataOverwrite
	for key, value := range incoming {
		current, found := merged[key]
		currentMap, currentIsMap := current.(map[string]any)
		valueMap, valueIsMap := value.(map[string]any)
		switch {
		case found && currentIsMap && valueIsMap:
			merged[key] = MergeMetadata(currentMap, valueMap, mode)
		case !found || current == nil || current == "":
			merged[key] = value
		case overwrite:
			merged[key] = value
		}
	}
	return merged
}

func copyMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	clone := make(map[string]any, len(metadata))
	for key, value := range metadata {
		clone[key] = value
	}
	return clone
}
