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

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/journal"
	"github.com/neurostuff/nsingest/pipelines"
)

// Prints usage info.
func usage() {
	fmt.Fprintf(os.Stderr, "%s: usage:\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "%s <config_file> [section.key=value ...]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "See README.md for details on config files and overrides.\n")
	os.Exit(1)
}

func main() {

	// The first argument is the configuration filename; any remaining
	// arguments override individual settings.
	if len(os.Args) < 2 {
		usage()
	}
	configFile := os.Args[1]

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	slog.Info("reading configuration", "path", configFile)
	yamlData, err := os.ReadFile(configFile)
	if err != nil {
		slog.Error("couldn't read the configuration file", "path", configFile, "error", err.Error())
		os.Exit(1)
	}
	if err := config.Init(yamlData); err != nil {
		slog.Error("couldn't initialize the configuration", "error", err.Error())
		os.Exit(1)
	}
	if err := config.ApplyOverrides(os.Args[2:]); err != nil {
		slog.Error("couldn't apply the command line overrides", "error", err.Error())
		os.Exit(1)
	}
	if err := config.EnsureDirs(); err != nil {
		slog.Error("couldn't create the configured directories", "error", err.Error())
		os.Exit(1)
	}
	if err := pipelines.Start(); err != nil {
		slog.Error("couldn't start the pipeline driver", "error", err.Error())
		os.Exit(1)
	}

	// Intercept the SIGINT, SIGHUP, SIGTERM, and SIGQUIT signals, canceling
	// the run as gracefully as possible if they are encountered. Stages stop
	// at the next article boundary, and the run is journaled as canceled.
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGQUIT)
	defer stop()

	_, err = pipelines.NewRunner().Run(ctx)
	journal.Finalize()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Warn("the run was interrupted")
		} else {
			slog.Error("the run failed", "error", err.Error())
		}
		os.Exit(1)
	}
}
