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

// The pipelines package owns the stage driver: it registers the built-in
// backends, runs the configured stages in canonical order, hydrates missing
// stage inputs from earlier runs' caches, and journals every run.
package pipelines

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
	"github.com/neurostuff/nsingest/downloads/ace"
	"github.com/neurostuff/nsingest/downloads/elsevier"
	"github.com/neurostuff/nsingest/downloads/pubget"
	"github.com/neurostuff/nsingest/extraction"
	"github.com/neurostuff/nsingest/metadata"
	"github.com/neurostuff/nsingest/metadata/pubmed"
	"github.com/neurostuff/nsingest/metadata/semanticscholar"
)

// true once Start has registered the built-ins and checked the directories
var started_ bool

// Start registers the built-in download sources, metadata providers, and
// extractors, and verifies that the configured root directories are usable.
// Call it once after config.Init (and after the directories exist); calling
// it again is a no-op.
func Start() error {
	if started_ {
		return nil
	}

	// register our built-in source, provider, and extractor implementations
	if err := downloads.RegisterSource(config.SourcePubget, pubget.NewSource); err != nil {
		return err
	}
	if err := downloads.RegisterSource(config.SourceElsevier, elsevier.NewSource); err != nil {
		return err
	}
	if err := downloads.RegisterSource(config.SourceAce, ace.NewSource); err != nil {
		return err
	}
	if err := metadata.RegisterProvider(config.ProviderSemanticScholar, semanticscholar.NewProvider); err != nil {
		return err
	}
	if err := metadata.RegisterProvider(config.ProviderPubmed, pubmed.NewProvider); err != nil {
		return err
	}
	if err := extraction.RegisterExtractor(config.SourcePubget, extraction.NewJatsExtractor); err != nil {
		return err
	}
	if err := extraction.RegisterExtractor(config.SourceElsevier, extraction.NewElsevierExtractor); err != nil {
		return err
	}
	if err := extraction.RegisterExtractor(config.SourceAce, extraction.NewHtmlExtractor); err != nil {
		return err
	}

	// do the necessary directories exist, and are they writable/readable?
	if err := validateDirectory("data", config.Dirs.DataRoot); err != nil {
		return err
	}
	if err := validateDirectory("cache", config.Dirs.CacheRoot); err != nil {
		return err
	}
	if err := validateDirectory("pond", config.Dirs.NsPondRoot); err != nil {
		return err
	}

	started_ = true
	return nil
}

// Started returns true if the driver has been started, false if not.
func Started() bool {
	return started_
}

// this function checks for the existence of the given directory and whether
// it is readable/writeable, returning a non-nil error if any of these
// conditions are not met
func validateDirectory(dirType, dir string) error {
	if dir == "" {
		return fmt.Errorf("no %s directory was specified", dirType)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &os.PathError{
			Op:   "validateDirectory",
			Path: dir,
			Err:  fmt.Errorf("%s is not a valid %s directory", dir, dirType),
		}
	}

	// can we write a file and read it?
	testFile := filepath.Join(dir, "test.txt")
	writtenTestData := []byte("test")
	err = os.WriteFile(testFile, writtenTestData, 0644)
	if err != nil {
		return &os.PathError{
			Op:   "validateDirectory",
			Path: dir,
			Err:  fmt.Errorf("could not write to %s directory %s", dirType, dir),
		}
	}
	readTestData, err := os.ReadFile(testFile)
	if err == nil {
		os.Remove(testFile)
	}
	if err != nil || !bytes.Equal(readTestData, writtenTestData) {
		return &os.PathError{
			Op:   "validateDirectory",
			Path: dir,
			Err:  fmt.Errorf("could not read from %s directory %s", dirType, dir),
		}
	}
	return nil
}
