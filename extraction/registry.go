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
	"context"
	"os"
	"path/filepath"

	"github.com/neurostuff/nsingest/downloads"
)

// Extractor turns one source's downloaded files into extracted content.
// Validate checks the source's file preconditions; Extract runs only on
// results that passed validation.
type Extractor interface {
	Name() string
	Validate(result *downloads.Result) error
	Extract(ctx context.Context, result *downloads.Result) (*Content, error)
}

// we maintain a table of extractor instances, identified by their source names
var allExtractors = make(map[string]Extractor)
var createExtractorFuncs = make(map[string]func() (Extractor, error))

// RegisterExtractor associates the given creation function with a source
// name, making the extractor available to NewExtractor. Called at startup
// for each built-in extractor.
func RegisterExtractor(sourceName string, createExtractor func() (Extractor, error)) error {
	if sourceName == "" {
		return &UnknownExtractorError{Source: sourceName}
	}
	createExtractorFuncs[sourceName] = createExtractor
	return nil
}

// NewExtractor creates an extractor instance for the given source name, or
// returns an existing instance.
func NewExtractor(sourceName string) (Extractor, error) {
	if extractor, found := allExtractors[sourceName]; found {
		return extractor, nil
	}
	createExtractor, found := createExtractorFuncs[sourceName]
	if !found {
		return nil, &UnknownExtractorError{Source: sourceName}
	}
	extractor, err := createExtractor()
	if err == nil {
		allExtractors[sourceName] = extractor
	}
	return extractor, err
}

// fileNamed finds the downloaded file with the given base name, requiring
// it to still exist on disk.
func fileNamed(result *downloads.Result, name string) (downloads.DownloadedFile, bool) {
	for _, file := range result.Files {
		if filepath.Base(file.Path) != name {
			continue
		}
		if _, err := os.Stat(file.Path); err != nil {
			return downloads.DownloadedFile{}, false
		}
		return file, true
	}
	return downloads.DownloadedFile{}, false
}

// onDiskFile finds the first downloaded file of the given type that still
// exists on disk.
func onDiskFile(result *downloads.Result, fileType downloads.FileType) (downloads.DownloadedFile, bool) {
	for _, file := range result.Files {
		if file.FileType != fileType {
			continue
		}
		if _, err := os.Stat(file.Path); err != nil {
			continue
		}
		return file, true
	}
	return downloads.DownloadedFile{}, false
}
