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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXmlGridReadsJatsTables(t *testing.T) {
	assert := assert.New(t)

	document := `<table>
  <thead>
    <tr><th>Region</th><th>x</th><th>y</th><th>z</th></tr>
  </thead>
  <tbody>
    <tr><td>Left IFG</td><td>-44</td><td>18</td><td>2</td></tr>
    <tr><td>Right insula</td><td>36</td><td>20</td><td>-4</td></tr>
  </tbody>
</table>`

	var parsed xmlGrid
	assert.NoError(xml.Unmarshal([]byte(document), &parsed), "The table should unmarshal")
	assert.Equal([][]string{{"Region", "x", "y", "z"}}, parsed.grid.headerRows,
		"thead rows should land in the header")
	assert.Equal([][]string{
		{"Left IFG", "-44", "18", "2"},
		{"Right insula", "36", "20", "-4"},
	}, parsed.grid.rows, "tbody rows should land in the body")
}

func TestXmlGridReadsCalsTables(t *testing.T) {
	assert := assert.New(t)

	document := `<tgroup cols="4">
  <thead>
    <row><entry>Region</entry><entry>x</entry><entry>y</entry><entry>z</entry></row>
  </thead>
  <tbody>
    <row><entry>ACC</entry><entry>2</entry><entry>18</entry><entry>40</entry></row>
  </tbody>
</tgroup>`

	var parsed xmlGrid
	assert.NoError(xml.Unmarshal([]byte(document), &parsed), "The tgroup should unmarshal")
	assert.Equal([][]string{{"Region", "x", "y", "z"}}, parsed.grid.headerRows,
		"CALS thead rows should land in the header")
	assert.Equal([][]string{{"ACC", "2", "18", "40"}}, parsed.grid.rows,
		"CALS body rows should land in the body")
}

func TestXmlGridPromotesFirstRowWithoutThead(t *testing.T) {
	assert := assert.New(t)

	document := `<table>
  <tr><td>Region</td><td>x</td><td>y</td><td>z</td></tr>
  <tr><td>PCC</td><td>-4</td><td>-52</td><td>28</td></tr>
</table>`

	var parsed xmlGrid
	assert.NoError(xml.Unmarshal([]byte(document), &parsed), "The table should unmarshal")
	assert.Equal([][]string{{"Region", "x", "y", "z"}}, parsed.grid.headerRows,
		"The first row should be promoted to the header")
	assert.Equal([][]string{{"PCC", "-4", "-52", "28"}}, parsed.grid.rows,
		"The remaining rows should stay in the body")
}

func TestXmlTextCollapsesNestedMarkup(t *testing.T) {
	assert := assert.New(t)

	document := `<caption><p>Peak <italic>activations</italic> during
		the <bold>task</bold></p></caption>`

	var text xmlText
	assert.NoError(xml.Unmarshal([]byte(document), &text), "The caption should unmarshal")
	assert.Equal("Peak activations during the task", string(text),
		"Nested markup should flatten to collapsed text")
}

func TestXmlRowSkipsNonCellChildren(t *testing.T) {
	assert := assert.New(t)

	document := `<tr><td>Left IFG</td><hr/><td>-44</td><namestyle><td>ignored</td></namestyle></tr>`

	var row xmlRow
	assert.NoError(xml.Unmarshal([]byte(document), &row), "The row should unmarshal")
	assert.Equal([]string{"Left IFG", "-44"}, row.Cells,
		"Only direct td/th/entry children should become cells")
}
