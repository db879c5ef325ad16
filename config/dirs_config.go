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

// root directories for downloaded artifacts, stage caches, and the ns-pond
// mirror
type dirsConfig struct {
	DataRoot   string `yaml:"data_root"`
	CacheRoot  string `yaml:"cache_root"`
	NsPondRoot string `yaml:"ns_pond_root"`
}

func (c *dirsConfig) applyDefaults() {
	c.DataRoot = "data"
	c.CacheRoot = "cache"
	c.NsPondRoot = "ns-pond"
}

func (c dirsConfig) validate() error {
	if c.DataRoot == "" {
		return fmt.Errorf("no data_root was provided")
	}
	if c.CacheRoot == "" {
		return fmt.Errorf("no cache_root was provided")
	}
	if c.NsPondRoot == "" {
		return fmt.Errorf("no ns_pond_root was provided")
	}
	return nil
}
