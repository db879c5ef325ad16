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

package pipelines

import "fmt"

// indicates that a run was requested before Start()
type NotStartedError struct{}

func (e NotStartedError) Error() string {
	return "the pipeline driver hasn't been started"
}

// indicates that a stage was selected without its input being available from
// the run, the caches, or a manifest
type MissingInputError struct {
	Stage string
}

func (e MissingInputError) Error() string {
	return fmt.Sprintf("the %s stage has no input: run the stages before it, "+
		"enable use_cached_inputs, or configure manifest_path", e.Stage)
}

// indicates that a stage failed, ending the run
type StageFailedError struct {
	Stage string
	Err   error
}

func (e StageFailedError) Error() string {
	return fmt.Sprintf("the %s stage failed: %s", e.Stage, e.Err.Error())
}

func (e StageFailedError) Unwrap() error {
	return e.Err
}
