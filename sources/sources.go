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

// The sources package implements the source-fallback scheduler shared by the
// download and identifier-lookup stages: an ordered list of backends, each
// consulted only for the inputs every earlier backend left unsatisfied, with
// per-backend cache partitioning in front of every network call.
package sources

import (
	"context"

	"github.com/neurostuff/nsingest/identifiers"
)

// Backend is the contract shared by download sources and identifier-lookup
// providers: declare which identifiers you accept, then produce exactly one
// result per input, in input order, returning a result even for per-item
// failures. Backends never mutate their input identifiers.
type Backend[R any] interface {
	Name() string
	Supports(id *identifiers.Identifier) bool
	Run(ctx context.Context, ids []*identifiers.Identifier) ([]R, error)
}
