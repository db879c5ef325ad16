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

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/neurostuff/nsingest/analyses"
	"github.com/neurostuff/nsingest/config"
	"github.com/neurostuff/nsingest/downloads"
	"github.com/neurostuff/nsingest/extraction"
	"github.com/neurostuff/nsingest/gather"
	"github.com/neurostuff/nsingest/identifiers"
	"github.com/neurostuff/nsingest/journal"
	"github.com/neurostuff/nsingest/llm"
	"github.com/neurostuff/nsingest/neurostore"
	"github.com/neurostuff/nsingest/pond"
)

// State carries each stage's output to the stages after it. A field stays nil
// until its stage runs or a cache hydration fills it in.
type State struct {
	Identifiers *identifiers.Set
	Downloads   []*downloads.Result
	Bundles     []*extraction.Bundle
	Articles    []*analyses.ArticleAnalyses
	Outcomes    []*neurostore.UploadOutcome
}

// counts summarizes the run for its journal record and final log line. Only
// artifacts the run actually touched get an entry.
func (s *State) counts() map[string]int {
	counts := map[string]int{}
	if s.Identifiers != nil {
		counts["identifiers"] = s.Identifiers.Len()
	}
	if s.Downloads != nil {
		downloaded := 0
		for _, result := range s.Downloads {
			if result != nil && result.Success {
				downloaded++
			}
		}
		counts["downloaded"] = downloaded
	}
	if s.Bundles != nil {
		extracted := 0
		for _, bundle := range s.Bundles {
			if bundle != nil && bundle.Content != nil && !bundle.Content.Failed() {
				extracted++
			}
		}
		counts["extracted"] = extracted
	}
	if s.Articles != nil {
		collections := 0
		for _, article := range s.Articles {
			if article != nil {
				collections += len(article.Collections)
			}
		}
		counts["collections"] = collections
	}
	if s.Outcomes != nil {
		uploaded := 0
		for _, outcome := range s.Outcomes {
			if outcome != nil && outcome.Success {
				uploaded++
			}
		}
		counts["uploaded"] = uploaded
	}
	return counts
}

// Runner executes the configured stages in canonical order, handing each
// stage's output to the next and journaling the finished run. The zero value
// builds its collaborators from configuration; tests substitute their own.
type Runner struct {
	// LlmClient serves the create_analyses stage; nil connects to Gemini
	// when that stage runs.
	LlmClient llm.Client

	// Store serves the upload stage; nil has the stage connect to the
	// configured database itself.
	Store neurostore.Store
}

func NewRunner() *Runner {
	return &Runner{}
}

// Run executes one pipeline run and returns its accumulated state. The error
// reports the first stage failure; stages after it don't run. The run is
// journaled either way.
func (r *Runner) Run(ctx context.Context) (*State, error) {
	if !started_ {
		return nil, &NotStartedError{}
	}
	if err := journal.Init(); err != nil {
		slog.Error("couldn't open the run journal", "error", err.Error())
	}

	stages := selectedStages()
	record := journal.Record{
		Id:        uuid.New(),
		Label:     config.Gather.ManifestLabel,
		Stages:    stages,
		StartTime: time.Now().UTC(),
	}
	slog.Info("run starting", "run", record.Id.String(),
		"stages", strings.Join(stages, ","))

	state := &State{}
	var runErr error
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		slog.Info("stage starting", "run", record.Id.String(), "stage", stage)
		if err := r.runStage(ctx, stage, state); err != nil {
			runErr = &StageFailedError{Stage: stage, Err: err}
			break
		}
	}

	record.StopTime = time.Now().UTC()
	record.Status = runStatus(runErr)
	record.Counts = state.counts()
	record.Outcomes = journalOutcomes(state.Outcomes)
	if err := journal.RecordRun(record); err != nil {
		slog.Error("couldn't journal the run",
			"run", record.Id.String(), "error", err.Error())
	}

	logRunComplete(record)
	return state, runErr
}

// selectedStages returns the configured stages in canonical pipeline order,
// each at most once.
func selectedStages() []string {
	selected := map[string]bool{}
	for _, stage := range config.Pipeline.Stages {
		selected[stage] = true
	}
	stages := make([]string, 0, len(selected))
	for _, stage := range config.CanonicalStages {
		if selected[stage] {
			stages = append(stages, stage)
		}
	}
	return stages
}

func (r *Runner) runStage(ctx context.Context, stage string, state *State) error {
	switch stage {
	case config.StageGather:
		return r.runGather(ctx, state)
	case config.StageDownload:
		return r.runDownload(ctx, state)
	case config.StageExtract:
		return r.runExtract(ctx, state)
	case config.StageCreateAnalyses:
		return r.runCreateAnalyses(ctx, state)
	case config.StageUpload:
		return r.runUpload(ctx, state)
	case config.StageSync:
		return r.runSync(ctx, state)
	}
	// config validation rejects unknown stage names before a run starts
	return fmt.Errorf("unknown stage: %s", stage)
}

func (r *Runner) runGather(ctx context.Context, state *State) error {
	stage, err := gather.NewStage()
	if err != nil {
		return err
	}
	set, err := stage.Run(ctx)
	if err != nil {
		return err
	}
	state.Identifiers = set
	return nil
}

func (r *Runner) runDownload(ctx context.Context, state *State) error {
	if state.Identifiers == nil {
		set, err := manifestIdentifiers(config.StageDownload)
		if err != nil {
			return err
		}
		state.Identifiers = set
	}
	stage, err := downloads.NewStage()
	if err != nil {
		return err
	}
	results, err := stage.Run(ctx, state.Identifiers)
	if err != nil {
		return err
	}
	state.Downloads = results
	return nil
}

func (r *Runner) runExtract(ctx context.Context, state *State) error {
	if state.Downloads == nil {
		if !config.Pipeline.UseCachedInputs {
			return &MissingInputError{Stage: config.StageExtract}
		}
		if err := ensureIdentifiers(config.StageExtract, state); err != nil {
			return err
		}
		state.Downloads = hydrateDownloads(state.Identifiers)
	}
	stage, err := extraction.NewStage()
	if err != nil {
		return err
	}
	bundles, err := stage.Run(ctx, state.Downloads)
	if err != nil {
		return err
	}
	state.Bundles = bundles
	return nil
}

func (r *Runner) runCreateAnalyses(ctx context.Context, state *State) error {
	if state.Bundles == nil {
		if !config.Pipeline.UseCachedInputs {
			return &MissingInputError{Stage: config.StageCreateAnalyses}
		}
		if err := ensureIdentifiers(config.StageCreateAnalyses, state); err != nil {
			return err
		}
		state.Bundles = hydrateBundles(state.Identifiers)
	}
	client := r.LlmClient
	if client == nil {
		dialed, err := llm.NewGeminiClient(ctx)
		if err != nil {
			return err
		}
		client = dialed
	}
	articles, err := analyses.NewStage(client).Run(ctx, state.Bundles)
	if err != nil {
		return err
	}
	state.Articles = articles
	return nil
}

func (r *Runner) runUpload(ctx context.Context, state *State) error {
	if state.Articles == nil {
		if !config.Pipeline.UseCachedInputs {
			return &MissingInputError{Stage: config.StageUpload}
		}
		if err := ensureIdentifiers(config.StageUpload, state); err != nil {
			return err
		}
		if state.Bundles == nil {
			state.Bundles = hydrateBundles(state.Identifiers)
		}
		articles, err := analyses.FromCache(state.Bundles)
		if err != nil {
			return err
		}
		state.Articles = articles
	}
	outcomes, err := neurostore.NewStage(r.Store).Run(ctx, state.Articles)
	if err != nil {
		return err
	}
	state.Outcomes = outcomes
	return nil
}

func (r *Runner) runSync(ctx context.Context, state *State) error {
	if state.Outcomes == nil {
		if !config.Pipeline.UseCachedInputs {
			return &MissingInputError{Stage: config.StageSync}
		}
		outcomes, err := hydrateOutcomes(state.Identifiers)
		if err != nil {
			return err
		}
		state.Outcomes = outcomes
	}

	inputs := &pond.Inputs{
		Outcomes:  state.Outcomes,
		Articles:  map[string]*analyses.ArticleAnalyses{},
		Downloads: map[string]*downloads.Result{},
	}
	for _, article := range state.Articles {
		if article != nil && article.Bundle != nil && article.Bundle.Content != nil {
			inputs.Articles[article.Bundle.Content.Slug] = article
		}
	}
	for _, result := range state.Downloads {
		if result != nil && result.Success && result.Identifier != nil {
			inputs.Downloads[result.Identifier.Slug()] = result
		}
	}
	return pond.NewStage().Run(ctx, inputs)
}

// runStatus maps a run's error to its journal status.
func runStatus(err error) string {
	switch {
	case err == nil:
		return "succeeded"
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "failed"
	}
}

// journalOutcomes converts the upload outcomes into their journal form.
func journalOutcomes(outcomes []*neurostore.UploadOutcome) []journal.ArticleOutcome {
	if len(outcomes) == 0 {
		return nil
	}
	entries := make([]journal.ArticleOutcome, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome == nil {
			continue
		}
		entries = append(entries, journal.ArticleOutcome{
			Slug:        outcome.Slug,
			BaseStudyID: outcome.BaseStudyID,
			StudyID:     outcome.StudyID,
			Success:     outcome.Success,
			Error:       outcome.Error,
		})
	}
	return entries
}

func logRunComplete(record journal.Record) {
	args := []any{
		"run", record.Id.String(),
		"status", record.Status,
		"stages", strings.Join(record.Stages, ","),
		"elapsed", record.StopTime.Sub(record.StartTime).Round(time.Millisecond).String(),
	}
	for _, key := range []string{"identifiers", "downloaded", "extracted", "collections", "uploaded"} {
		if count, found := record.Counts[key]; found {
			args = append(args, key, count)
		}
	}
	slog.Info("run complete", args...)
}
