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
	"encoding/xml"
	"strings"
)

// xmlText collects the recursive character data of an element, whitespace
// collapsed. It reads both JATS markup (captions full of italics and links)
// and Elsevier's ce: elements.
type xmlText string

func (t *xmlText) UnmarshalXML(decoder *xml.Decoder, start xml.StartElement) error {
	var builder strings.Builder
	depth := 1
	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			return err
		}
		switch data := token.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			builder.Write(data)
			builder.WriteByte(' ')
		}
	}
	*t = xmlText(strings.Join(strings.Fields(builder.String()), " "))
	return nil
}

// xmlRow collects the cells of one table row in document order, accepting
// the HTML-style td/th cells of JATS and the CALS entry cells of Elsevier.
type xmlRow struct {
	Cells []string
}

func (r *xmlRow) UnmarshalXML(decoder *xml.Decoder, start xml.StartElement) error {
	for {
		token, err := decoder.Token()
		if err != nil {
			return err
		}
		switch element := token.(type) {
		case xml.StartElement:
			switch element.Name.Local {
			case "td", "th", "entry":
				var cell xmlText
				if err := decoder.DecodeElement(&cell, &element); err != nil {
					return err
				}
				r.Cells = append(r.Cells, string(cell))
			default:
				if err := decoder.Skip(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			return nil
		}
	}
}

// xmlGrid collects a table's rows wherever they nest (thead/tbody/tgroup),
// keeping thead rows apart as header candidates. Tables without a thead use
// their first row as the header candidate.
type xmlGrid struct {
	grid grid
}

func (g *xmlGrid) UnmarshalXML(decoder *xml.Decoder, start xml.StartElement) error {
	depth := 1
	headDepth := 0
	for depth > 0 {
		token, err := decoder.Token()
		if err != nil {
			return err
		}
		switch element := token.(type) {
		case xml.StartElement:
			switch element.Name.Local {
			case "thead":
				headDepth++
				depth++
			case "tr", "row":
				var row xmlRow
				if err := decoder.DecodeElement(&row, &element); err != nil {
					return err
				}
				if headDepth > 0 {
					g.grid.headerRows = append(g.grid.headerRows, row.Cells)
				} else {
					g.grid.rows = append(g.grid.rows, row.Cells)
				}
			default:
				depth++
			}
		case xml.EndElement:
			if element.Name.Local == "thead" {
				headDepth--
			}
			depth--
		}
	}
	if len(g.grid.headerRows) == 0 && len(g.grid.rows) > 1 {
		g.grid.headerRows = [][]string{g.grid.rows[0]}
		g.grid.rows = g.grid.rows[1:]
	}
	return nil
}
