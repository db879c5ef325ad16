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

package config

import "fmt"

// settings for the stage driver and its worker pools
type pipelineConfig struct {
	Stages            []string `yaml:"stages"`
	ManifestPath      string   `yaml:"manifest_path"`
	UseCachedInputs   bool     `yaml:"use_cached_inputs"`
	MaxWorkers        int      `yaml:"max_workers"`
	AceMaxWorkers     int      `yaml:"ace_max_workers"`
	NLlmWorkers       int      `yaml:"n_llm_workers"`
	CacheOnlyMode     bool     `yaml:"cache_only_mode"`
	ForceRedownload   bool     `yaml:"force_redownload"`
	ForceReextract    bool     `yaml:"force_reextract"`
	IgnoreCacheStages []string `yaml:"ignore_cache_stages"`
	Export            bool     `yaml:"export"`
	ExportOverwrite   bool     `yaml:"export_overwrite"`
}

func (c *pipelineConfig) applyDefaults() {
	c.Stages = append([]string{}, CanonicalStages...)
	c.MaxWorkers = 4
	c.AceMaxWorkers = 2
	c.NLlmWorkers = 2
}

func (c pipelineConfig) validate() error {
	if len(c.Stages) == 0 {
		return fmt.Errorf("no stages were selected")
	}
	for _, stage := range c.Stages {
		if !isCanonicalStage(stage) {
			return fmt.Errorf("unknown stage: %s", stage)
		}
	}
	for _, stage := range c.IgnoreCacheStages {
		if !isCanonicalStage(stage) {
			return fmt.Errorf("unknown stage in ignore_cache_stages: %s", stage)
		}
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("invalid max_workers: %d (must be positive)", c.MaxWorkers)
	}
	if c.AceMaxWorkers <= 0 {
		return fmt.Errorf("invalid ace_max_workers: %d (must be positive)", c.AceMaxWorkers)
	}
	if c.NLlmWorkers <= 0 {
		return fmt.Errorf("invalid n_llm_workers: %d (must be positive)", c.NLlmWorkers)
	}
	return nil
}

func isCanonicalStage(stage string) bool {
	for _, canonical := range CanonicalStages {
		if stage == canonical {
			return true
		}
	}
	return false
}

// settings for the sync stage
type syncConfig struct {
	Overwrite bool `yaml:"overwrite"`
}
