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

package pond

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/neurostuff/nsingest/analyses"
	"github.com/neurostuff/nsingest/extraction"
)

// the fixed coordinates.csv columns; per-table extras follow, sorted by name
var coordinateColumns = []string{
	"table_id", "x", "y", "z", "space",
	"statistic_value", "statistic_type", "cluster_size",
	"is_subpeak", "is_deactivation",
}

// coordinatesCsv renders every analysis coordinate as one CSV row, in
// collection then analysis then coordinate order. Scalar readings from each
// table's metadata union into extra columns; rows whose table lacks a reading
// leave the cell empty. Returns nil when there are no rows to write.
func coordinatesCsv(content *extraction.Content, collections []*analyses.Collection) ([]byte, error) {
	type csvRow struct {
		fixed  []string
		extras map[string]string
	}
	rows := []csvRow{}
	extraKeys := map[string]bool{}
	for _, collection := range collections {
		for ai := range collection.Analyses {
			analysis := &collection.Analyses[ai]
			extras := tableExtras(content, analysis.TableID)
			for key := range extras {
				extraKeys[key] = true
			}
			for ci := range analysis.Coordinates {
				coordinate := &analysis.Coordinates[ci]
				space := coordinate.Space
				if space == "" {
					space = collection.CoordinateSpace
				}
				rows = append(rows, csvRow{
					fixed: []string{
						analysis.TableID,
						formatFloat(coordinate.X),
						formatFloat(coordinate.Y),
						formatFloat(coordinate.Z),
						string(space),
						formatFloatPtr(coordinate.StatisticValue),
						coordinate.StatisticType,
						formatIntPtr(coordinate.ClusterSize),
						strconv.FormatBool(coordinate.IsSubpeak),
						strconv.FormatBool(coordinate.IsDeactivation),
					},
					extras: extras,
				})
			}
		}
	}
	if len(rows) == 0 {
		return nil, nil
	}

	extraColumns := make([]string, 0, len(extraKeys))
	for key := range extraKeys {
		extraColumns = append(extraColumns, key)
	}
	sort.Strings(extraColumns)

	var b bytes.Buffer
	writer := csv.NewWriter(&b)
	header := make([]string, 0, len(coordinateColumns)+len(extraColumns))
	header = append(header, coordinateColumns...)
	header = append(header, extraColumns...)
	if err := writer.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		record := make([]string, 0, len(header))
		record = append(record, row.fixed...)
		for _, key := range extraColumns {
			record = append(record, row.extras[key])
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// tableExtras pulls the numeric and boolean readings out of the metadata of
// the table the analysis came from. Text blobs and nested structures stay out
// of the CSV.
func tableExtras(content *extraction.Content, tableID string) map[string]string {
	if content == nil || tableID == "" {
		return nil
	}
	for ti := range content.Tables {
		table := &content.Tables[ti]
		if table.TableID != tableID {
			continue
		}
		extras := map[string]string{}
		for key, value := range table.Metadata {
			if rendered, scalar := scalarString(value); scalar {
				extras[key] = rendered
			}
		}
		return extras
	}
	return nil
}

func scalarString(value any) (string, bool) {
	switch typed := value.(type) {
	case bool:
		return strconv.FormatBool(typed), true
	case float64:
		return formatFloat(typed), true
	case int:
		return strconv.Itoa(typed), true
	case json.Number:
		return typed.String(), true
	}
	return "", false
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'g', -1, 64)
}

func formatFloatPtr(value *float64) string {
	if value == nil {
		return ""
	}
	return formatFloat(*value)
}

func formatIntPtr(value *int) string {
	if value == nil {
		return ""
	}
	return strconv.Itoa(*value)
}
