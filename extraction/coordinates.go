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

package extraction

import (
	"regexp"
	"strconv"
	"strings"
)

// grid is a table reduced to text cells: zero or more candidate header rows
// followed by data rows.
type grid struct {
	headerRows [][]string
	rows       [][]string
}

// columnRoles locates the coordinate columns (and their companions) in a
// header row; -1 means not present.
type columnRoles struct {
	x, y, z  int
	stat     int
	statType string
	cluster  int
	label    int
}

var (
	axisPattern    = regexp.MustCompile(`(?i)^\s*([xyz])\s*(?:\(.*\))?\s*$`)
	statPattern    = regexp.MustCompile(`(?i)^\s*([tzf])\s*[- ]?(?:value|score|stat(?:istic)?)?\s*(?:\(.*\))?\s*$`)
	clusterPattern = regexp.MustCompile(`(?i)cluster|voxels?|^\s*k\s*$`)

	mniPattern          = regexp.MustCompile(`(?i)\bMNI\b|montreal`)
	talPattern          = regexp.MustCompile(`(?i)talairach|\bTAL\b`)
	deactivationPattern = regexp.MustCompile(`(?i)deactivat|decrease`)

	footnoteMarks = strings.NewReplacer("*", "", "†", "", "‡", "", "§", "", "#", "")
)

// detectColumns looks for an x/y/z trio in the candidate header rows, last
// row first: spanner rows ("MNI coordinates" across three columns) sit above
// the row that actually names the axes.
func detectColumns(g grid) (columnRoles, bool) {
	for i := len(g.headerRows) - 1; i >= 0; i-- {
		if roles, found := detectRoles(g.headerRows[i]); found {
			return roles, true
		}
	}
	return columnRoles{}, false
}

func detectRoles(header []string) (columnRoles, bool) {
	roles := columnRoles{x: -1, y: -1, z: -1, stat: -1, cluster: -1, label: -1}
	for i, cell := range header {
		match := axisPattern.FindStringSubmatch(cell)
		if match == nil {
			continue
		}
		switch strings.ToLower(match[1]) {
		case "x":
			if roles.x < 0 {
				roles.x = i
			}
		case "y":
			if roles.y < 0 {
				roles.y = i
			}
		case "z":
			if roles.z < 0 {
				roles.z = i
			}
		}
	}
	if roles.x < 0 || roles.y < 0 || roles.z < 0 {
		return roles, false
	}

	// classify the rest once the axes are pinned down: a bare "z" elsewhere
	// is a z score, not an axis
	for i, cell := range header {
		if i == roles.x || i == roles.y || i == roles.z {
			continue
		}
		if match := statPattern.FindStringSubmatch(cell); match != nil && roles.stat < 0 {
			roles.stat = i
			roles.statType = strings.ToLower(match[1]) + "-statistic"
			continue
		}
		if clusterPattern.MatchString(cell) && roles.cluster < 0 {
			roles.cluster = i
			continue
		}
		if roles.label < 0 && i < roles.x {
			roles.label = i
		}
	}
	return roles, true
}

// parseCoordinates reads every data row through the detected columns. Rows
// whose x/y/z cells don't all parse as numbers are skipped. The second
// return value reports whether the grid has coordinate columns at all.
func parseCoordinates(g grid, context string) ([]Coordinate, bool) {
	roles, found := detectColumns(g)
	if !found {
		return nil, false
	}
	space := inferSpace(context)
	deactivation := deactivationPattern.MatchString(context)

	coordinates := []Coordinate{}
	seenLabel := false
	for _, row := range g.rows {
		label := strings.TrimSpace(cellAt(row, roles.label))
		x, okX := parseNumber(cellAt(row, roles.x))
		y, okY := parseNumber(cellAt(row, roles.y))
		z, okZ := parseNumber(cellAt(row, roles.z))
		if !okX || !okY || !okZ {
			if label != "" {
				seenLabel = true
			}
			continue
		}

		coordinate := Coordinate{X: x, Y: y, Z: z, Space: space, IsDeactivation: deactivation}
		if roles.stat >= 0 {
			if value, ok := parseNumber(cellAt(row, roles.stat)); ok {
				coordinate.StatisticValue = &value
				coordinate.StatisticType = roles.statType
			}
		}
		if roles.cluster >= 0 {
			if value, ok := parseNumber(cellAt(row, roles.cluster)); ok {
				size := int(value)
				coordinate.ClusterSize = &size
			}
		}
		if roles.label >= 0 {
			// an unlabeled peak under a labeled one is a subpeak of the
			// same cluster
			if label == "" && seenLabel {
				coordinate.IsSubpeak = true
			} else if label != "" {
				seenLabel = true
			}
		}
		coordinates = append(coordinates, coordinate)
	}
	return coordinates, true
}

func cellAt(row []string, index int) string {
	if index < 0 || index >= len(row) {
		return ""
	}
	return row[index]
}

// parseNumber copes with the typographic habits of published tables:
// unicode minus signs, footnote markers, and thousands separators.
func parseNumber(cell string) (float64, bool) {
	cleaned := strings.TrimSpace(cell)
	cleaned = strings.ReplaceAll(cleaned, "−", "-")
	cleaned = strings.ReplaceAll(cleaned, "–", "-")
	cleaned = footnoteMarks.Replace(cleaned)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// inferSpace guesses the reference space from the table's surrounding text.
func inferSpace(context string) Space {
	switch {
	case mniPattern.MatchString(context):
		return SpaceMni
	case talPattern.MatchString(context):
		return SpaceTal
	default:
		return ""
	}
}

// buildTable assembles one extracted Table from a parsed grid and its
// surrounding text.
func buildTable(id, number, caption, footer, rawPath string, g grid) Table {
	var context strings.Builder
	context.WriteString(id)
	context.WriteString(" ")
	context.WriteString(caption)
	context.WriteString(" ")
	context.WriteString(footer)
	for _, header := range g.headerRows {
		context.WriteString(" ")
		context.WriteString(strings.Join(header, " "))
	}

	coordinates, _ := parseCoordinates(g, context.String())
	table := Table{
		TableID:        id,
		RawContentPath: rawPath,
		TableNumber:    number,
		Caption:        caption,
		Footer:         footer,
		Coordinates:    coordinates,
		Metadata: map[string]any{
			"text":      renderGrid(g),
			"n_rows":    len(g.rows),
			"n_columns": gridWidth(g),
		},
	}
	if len(coordinates) > 0 {
		table.Space = coordinates[0].Space
	}
	return table
}

// renderGrid flattens a grid into the pipe-separated text shown to the LLM.
func renderGrid(g grid) string {
	lines := make([]string, 0, len(g.headerRows)+len(g.rows))
	for _, header := range g.headerRows {
		lines = append(lines, strings.Join(header, " | "))
	}
	for _, row := range g.rows {
		lines = append(lines, strings.Join(row, " | "))
	}
	return strings.Join(lines, "\n")
}

func gridWidth(g grid) int {
	width := 0
	for _, header := range g.headerRows {
		if len(header) > width {
			width = len(header)
		}
	}
	for _, row := range g.rows {
		if len(row) > width {
			width = len(row)
		}
	}
	return width
}
