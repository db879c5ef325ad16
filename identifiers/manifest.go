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

package identifiers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadManifest loads a JSONL manifest: one JSON object per line carrying at
// least the primary identifier fields. Empty lines are skipped; any
// non-primary key is preserved as an "other" identifier. Scalar values are
// accepted for identifier fields (PMIDs often arrive as bare numbers).
func ReadManifest(path string) (*Set, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, &InvalidManifestError{Path: path, Message: err.Error()}
	}
	defer file.Close()

	set := NewSet()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal([]byte(line), &fields); err != nil {
			return nil, &InvalidManifestError{
				Path:    path,
				Line:    lineNumber,
				Message: err.Error(),
			}
		}
		set.Add(FromMap(stringifyFields(fields)))
	}
	if err := scanner.Err(); err != nil {
		return nil, &InvalidManifestError{Path: path, Message: err.Error()}
	}
	return set, nil
}

// WriteManifest writes the set as JSONL, one identifier per line, creating
// parent directories as needed.
func WriteManifest(path string, set *Set) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, id := range set.Items() {
		line, err := json.Marshal(id)
		if err != nil {
			return err
		}
		if _, err := writer.Write(line); err != nil {
			return err
		}
		if err := writer.WriteByte('\n'); err != nil {
			return err
		}
	}
	return writer.Flush()
}

// flattens decoded JSON values to the string forms the identifier model
// expects, dropping nulls and nested structures that aren't the other_ids
// sub-mapping
func stringifyFields(fields map[string]any) map[string]string {
	flat := make(map[string]string, len(fields))
	for key, value := range fields {
		switch typed := value.(type) {
		case string:
			flat[key] = typed
		case float64:
			flat[key] = formatJsonNumber(typed)
		case bool:
			flat[key] = fmt.Sprintf("%t", typed)
		case map[string]any:
			if key == "other_ids" {
				for subKey, subValue := range typed {
					if text, ok := subValue.(string); ok {
						flat[subKey] = text
					}
				}
			}
		}
	}
	return flat
}

func formatJsonNumber(value float64) string {
	if value == float64(int64(value)) {
		return fmt.Sprintf("%d", int64(value))
	}
	return fmt.Sprintf("%g", value)
}
