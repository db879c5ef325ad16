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

package analyses

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/neurostuff/nsingest/extraction"
)

// wire shapes for the model's answer
type modelResponse struct {
	Analyses []modelAnalysis `json:"analyses"`
}

type modelAnalysis struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Points      []modelPoint `json:"points"`
}

type modelPoint struct {
	Coordinates []any        `json:"coordinates"`
	Space       string       `json:"space"`
	Values      []modelValue `json:"values"`
}

type modelValue struct {
	Value any    `json:"value"`
	Kind  string `json:"kind"`
}

// UnmarshalJSON accepts both the contract form {"value": ..., "kind": ...}
// and the bare numbers or strings models fall back to.
func (v *modelValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		type plain modelValue
		return json.Unmarshal(data, (*plain)(v))
	}
	return json.Unmarshal(data, &v.Value)
}

// decodeAnalyses turns the model's answer for one table into analyses. The
// answer must be a JSON object with an "analyses" list; anything else is a
// ResponseFormatError. Within a decodable answer, malformed points drop
// silently rather than failing the table.
func decodeAnalyses(slug, answer string, table *extraction.Table) ([]Analysis, error) {
	var response modelResponse
	if err := json.Unmarshal([]byte(cleanResponse(answer)), &response); err != nil {
		return nil, &ResponseFormatError{Slug: slug, TableID: table.TableID, Reason: err.Error()}
	}

	analyses := make([]Analysis, 0, len(response.Analyses))
	for i := 0; i < len(response.Analyses); i++ {
		decoded := response.Analyses[i]
		analysis := Analysis{
			Name:         strings.TrimSpace(decoded.Name),
			Description:  strings.TrimSpace(decoded.Description),
			Coordinates:  []extraction.Coordinate{},
			TableID:      table.TableID,
			TableNumber:  table.TableNumber,
			TableCaption: table.Caption,
			TableFooter:  table.Footer,
			Metadata:     table.Metadata,
		}
		for j := 0; j < len(decoded.Points); j++ {
			if coordinate, ok := coercePoint(decoded.Points[j], table.Space); ok {
				analysis.Coordinates = append(analysis.Coordinates, coordinate)
			}
		}
		analyses = append(analyses, analysis)
	}
	return analyses, nil
}

// cleanResponse strips the markdown code fences some models wrap JSON in
func cleanResponse(answer string) string {
	answer = strings.TrimSpace(answer)
	answer = strings.TrimPrefix(answer, "```json")
	answer = strings.TrimPrefix(answer, "```")
	answer = strings.TrimSuffix(answer, "```")
	return strings.TrimSpace(answer)
}

// coercePoint folds one reported point onto a Coordinate. Points without
// exactly three numeric coordinates are invalid. A point with several values
// keeps the first one it can read, since a Coordinate carries one statistic.
func coercePoint(point modelPoint, fallback extraction.Space) (extraction.Coordinate, bool) {
	if len(point.Coordinates) != 3 {
		return extraction.Coordinate{}, false
	}
	axes := make([]float64, 3)
	for i := 0; i < 3; i++ {
		value, ok := asNumber(point.Coordinates[i])
		if !ok {
			return extraction.Coordinate{}, false
		}
		axes[i] = value
	}

	coordinate := extraction.Coordinate{
		X:     axes[0],
		Y:     axes[1],
		Z:     axes[2],
		Space: coerceSpace(point.Space, fallback),
	}
	for i := 0; i < len(point.Values); i++ {
		value, ok := asNumber(point.Values[i].Value)
		if !ok {
			continue
		}
		coordinate.StatisticValue = &value
		coordinate.StatisticType = normalizeKind(point.Values[i].Kind)
		break
	}
	return coordinate, true
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return parsed, err == nil
	}
	return 0, false
}

func coerceSpace(raw string, fallback extraction.Space) extraction.Space {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "MNI":
		return extraction.SpaceMni
	case "TAL", "TALAIRACH":
		return extraction.SpaceTal
	case "":
		return fallback
	}
	return extraction.SpaceOther
}

// the statistic vocabulary the uploader stores
var statisticKinds = map[string]bool{
	"z-statistic": true,
	"t-statistic": true,
	"f-statistic": true,
	"correlation": true,
	"p-value":     true,
	"beta":        true,
	"other":       true,
}

// spellings left over once separators and filler words are stripped
var kindAliases = map[string]string{
	"z":           "z-statistic",
	"t":           "t-statistic",
	"f":           "f-statistic",
	"r":           "correlation",
	"rho":         "correlation",
	"corr":        "correlation",
	"correlation": "correlation",
	"p":           "p-value",
	"pval":        "p-value",
	"b":           "beta",
	"beta":        "beta",
}

var kindSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeKind folds whatever the model called a statistic onto the allowed
// vocabulary. Values reported without a kind read as t statistics.
func normalizeKind(raw string) string {
	kind := strings.ToLower(strings.TrimSpace(raw))
	if kind == "" {
		return "t-statistic"
	}
	if statisticKinds[kind] {
		return kind
	}
	stripped := kindSeparators.ReplaceAllString(kind, "")
	for _, filler := range []string{"statistic", "score", "stat", "value"} {
		stripped = strings.ReplaceAll(stripped, filler, "")
	}
	if canonical, found := kindAliases[stripped]; found {
		return canonical
	}
	return "other"
}
