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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/neurostuff/nsingest/analyses"
	"github.com/neurostuff/nsingest/extraction"
)

func parseCsv(t *testing.T, data []byte) [][]string {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("couldn't parse the CSV: %s", err.Error())
	}
	return records
}

func TestCoordinateCsvUnionsTableExtras(t *testing.T) {
	assert := assert.New(t)
	content := &extraction.Content{
		Tables: []extraction.Table{
			{TableID: "Table 1", Metadata: map[string]any{"n_rows": float64(3)}},
			{TableID: "Table 2", Metadata: map[string]any{"truncated": true, "text": "blob"}},
		},
	}
	collections := []*analyses.Collection{
		{CoordinateSpace: extraction.SpaceMni, Analyses: []analyses.Analysis{
			{TableID: "Table 1", Coordinates: []extraction.Coordinate{{X: 1, Y: 2, Z: 3}}},
		}},
		{CoordinateSpace: extraction.SpaceTal, Analyses: []analyses.Analysis{
			{TableID: "Table 2", Coordinates: []extraction.Coordinate{{X: 4, Y: 5, Z: 6}}},
		}},
	}

	data, err := coordinatesCsv(content, collections)
	assert.Nil(err)
	records := parseCsv(t, data)
	assert.Len(records, 3)
	assert.Equal([]string{
		"table_id", "x", "y", "z", "space",
		"statistic_value", "statistic_type", "cluster_size",
		"is_subpeak", "is_deactivation", "n_rows", "truncated",
	}, records[0])
	assert.Equal([]string{"Table 1", "1", "2", "3", "MNI",
		"", "", "", "false", "false", "3", ""}, records[1])
	assert.Equal([]string{"Table 2", "4", "5", "6", "TAL",
		"", "", "", "false", "false", "", "true"}, records[2])
}

func TestCoordinateCsvPrefersTheCoordinatesOwnSpace(t *testing.T) {
	assert := assert.New(t)
	collections := []*analyses.Collection{
		{CoordinateSpace: extraction.SpaceTal, Analyses: []analyses.Analysis{
			{TableID: "Table 1", Coordinates: []extraction.Coordinate{
				{X: 1, Y: 2, Z: 3, Space: extraction.SpaceMni},
				{X: 4, Y: 5, Z: 6},
			}},
		}},
	}

	data, err := coordinatesCsv(nil, collections)
	assert.Nil(err)
	records := parseCsv(t, data)
	assert.Len(records, 3)
	assert.Equal("MNI", records[1][4])
	assert.Equal("TAL", records[2][4])
}

func TestCoordinateCsvReportsStatisticsAndClusterSize(t *testing.T) {
	assert := assert.New(t)
	stat := -3.25
	cluster := 481
	collections := []*analyses.Collection{
		{Analyses: []analyses.Analysis{
			{TableID: "Table 1", Coordinates: []extraction.Coordinate{
				{X: -12.5, Y: 0, Z: 42, StatisticValue: &stat, StatisticType: "z-score",
					ClusterSize: &cluster, IsSubpeak: true, IsDeactivation: true},
			}},
		}},
	}

	data, err := coordinatesCsv(nil, collections)
	assert.Nil(err)
	records := parseCsv(t, data)
	assert.Equal([]string{"Table 1", "-12.5", "0", "42", "",
		"-3.25", "z-score", "481", "true", "true"}, records[1])
}

func TestCoordinateCsvSkipsArticlesWithoutCoordinates(t *testing.T) {
	assert := assert.New(t)
	data, err := coordinatesCsv(nil, []*analyses.Collection{
		{Analyses: []analyses.Analysis{{TableID: "Table 1"}}},
	})
	assert.Nil(err)
	assert.Nil(data)

	data, err = coordinatesCsv(nil, nil)
	assert.Nil(err)
	assert.Nil(data)
}
