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

package downloads

import (
	"context"

	"github.com/neurostuff/nsingest/identifiers"
)

// Source is one article-retrieval backend. Fetch retrieves a single
// article's files into the article's data directory and reports the outcome
// as a Result, never mutating the given identifier. Per-article failures
// come back as a failed Result, or as an error the stage folds into one;
// either way the remaining articles still run.
type Source interface {
	Name() string
	Supports(id *identifiers.Identifier) bool
	Fetch(ctx context.Context, id *identifiers.Identifier) (*Result, error)
}

// we maintain a table of source instances, identified by their names
var allSources = make(map[string]Source)
var createSourceFuncs = make(map[string]func() (Source, error))

// RegisterSource associates the given creation function with a source name,
// making the source available to NewSource. Called at startup for each
// built-in source.
func RegisterSource(sourceName string, createSource func() (Source, error)) error {
	if sourceName == "" {
		return &UnknownSourceError{Name: sourceName}
	}
	createSourceFuncs[sourceName] = createSource
	return nil
}

// NewSource creates a source instance with the given registered name, or
// returns an existing instance.
func NewSource(sourceName string) (Source, error) {
	if source, found := allSources[sourceName]; found {
		return source, nil
	}
	createSource, found := createSourceFuncs[sourceName]
	if !found {
		return nil, &UnknownSourceError{Name: sourceName}
	}
	source, err := createSource()
	if err == nil {
		allSources[sourceName] = source
	}
	return source, err
}
