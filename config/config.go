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

// The config package resolves pipeline settings with precedence
// CLI > YAML > environment > defaults and exposes them as package globals.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// the canonical pipeline stage names, in execution order
const (
	StageGather         = "gather"
	StageDownload       = "download"
	StageExtract        = "extract"
	StageCreateAnalyses = "create_analyses"
	StageUpload         = "upload"
	StageSync           = "sync"
)

var CanonicalStages = []string{
	StageGather, StageDownload, StageExtract, StageCreateAnalyses, StageUpload, StageSync,
}

// global config variables
var Dirs dirsConfig
var Pipeline pipelineConfig
var Gather gatherConfig
var Download downloadConfig
var Sources map[string]sourceConfig
var LLM llmConfig
var Upload uploadConfig
var Sync syncConfig
var HTTP httpConfig
var Credentials credentialsConfig

// This struct performs the unmarshalling from the YAML config file and then
// copies its fields to the globals above.
type configFile struct {
	Dirs        dirsConfig              `yaml:"dirs"`
	Pipeline    pipelineConfig          `yaml:"pipeline"`
	Gather      gatherConfig            `yaml:"gather"`
	Download    downloadConfig          `yaml:"download"`
	Sources     map[string]sourceConfig `yaml:"sources"`
	LLM         llmConfig               `yaml:"llm"`
	Upload      uploadConfig            `yaml:"upload"`
	Sync        syncConfig              `yaml:"sync"`
	HTTP        httpConfig              `yaml:"http"`
	Credentials credentialsConfig       `yaml:"credentials"`
}

// the last configuration read, kept so CLI overrides can be layered on top
var current configFile

// This helper parses configuration data, layering it over defaults and
// environment overrides. All environment variables of the form ${ENV_VAR}
// are expanded first.
func readConfig(bytes []byte) error {
	bytes = []byte(os.ExpandEnv(string(bytes)))

	// defaults first, then environment overrides, then the file itself
	var conf configFile
	conf.applyDefaults()
	conf.applyEnvironment()
	if err := yaml.Unmarshal(bytes, &conf); err != nil {
		return fmt.Errorf("couldn't parse configuration data: %w", err)
	}

	current = conf
	publish()
	return nil
}

func (conf *configFile) applyDefaults() {
	conf.Dirs.applyDefaults()
	conf.Pipeline.applyDefaults()
	conf.Gather.applyDefaults()
	conf.Download.applyDefaults()
	conf.LLM.applyDefaults()
	conf.Upload.applyDefaults()
	conf.HTTP.applyDefaults()
	conf.Credentials.applyDefaults()
	conf.Sources = defaultSourceConfigs()
}

// environment variables sit between defaults and the YAML file in precedence
func (conf *configFile) applyEnvironment() {
	if value, found := os.LookupEnv("NSINGEST_DATA_ROOT"); found {
		conf.Dirs.DataRoot = value
	}
	if value, found := os.LookupEnv("NSINGEST_CACHE_ROOT"); found {
		conf.Dirs.CacheRoot = value
	}
	if value, found := os.LookupEnv("NSINGEST_NS_POND_ROOT"); found {
		conf.Dirs.NsPondRoot = value
	}
	if value, found := os.LookupEnv("NSINGEST_CONTACT_EMAIL"); found {
		conf.HTTP.ContactEmail = value
	}
}

// copies the current configuration into the package globals
func publish() {
	Dirs = current.Dirs
	Pipeline = current.Pipeline
	Gather = current.Gather
	Download = current.Download
	Sources = current.Sources
	LLM = current.LLM
	Upload = current.Upload
	Sync = current.Sync
	HTTP = current.HTTP
	Credentials = current.Credentials
}

// This helper validates the current configuration, returning an error that
// indicates success or failure.
func validateConfig() error {
	if err := Dirs.validate(); err != nil {
		return err
	}
	if err := Pipeline.validate(); err != nil {
		return err
	}
	if err := Gather.validate(); err != nil {
		return err
	}
	if err := Download.validate(); err != nil {
		return err
	}
	if err := LLM.validate(); err != nil {
		return err
	}
	if err := Upload.validate(); err != nil {
		return err
	}
	return HTTP.validate()
}

// Init resolves the pipeline configuration from the given YAML data.
func Init(yamlData []byte) error {
	if err := readConfig(yamlData); err != nil {
		return err
	}
	return validateConfig()
}

// ApplyOverrides layers CLI overrides of the form "section.key=value" (e.g.
// "pipeline.max_workers=8") over the current configuration. Overrides have
// the highest precedence.
func ApplyOverrides(overrides []string) error {
	if len(overrides) == 0 {
		return nil
	}
	tree := make(map[string]any)
	for _, override := range overrides {
		key, value, found := strings.Cut(override, "=")
		if !found {
			return fmt.Errorf("invalid override %q (want key=value)", override)
		}
		node := tree
		path := strings.Split(key, ".")
		for _, step := range path[:len(path)-1] {
			child, ok := node[step].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[step] = child
			}
			node = child
		}
		node[path[len(path)-1]] = parseOverrideValue(value)
	}

	// rendering the overrides as YAML reuses the file schema for free
	data, err := yaml.Marshal(tree)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, &current); err != nil {
		return fmt.Errorf("couldn't apply overrides: %w", err)
	}
	publish()
	return validateConfig()
}

// interprets an override value as YAML would (bools, numbers, lists)
func parseOverrideValue(value string) any {
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return value
	}
	return parsed
}

// EnsureDirs creates the three root directories.
func EnsureDirs() error {
	for _, dir := range []string{Dirs.DataRoot, Dirs.CacheRoot, Dirs.NsPondRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// reports whether the given stage's cache should be ignored for this run
func IgnoreCacheFor(stage string) bool {
	switch stage {
	case StageDownload:
		if Pipeline.ForceRedownload {
			return true
		}
	case StageExtract:
		if Pipeline.ForceReextract {
			return true
		}
	}
	for _, ignored := range Pipeline.IgnoreCacheStages {
		if ignored == stage {
			return true
		}
	}
	return false
}
