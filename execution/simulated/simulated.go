// Package simulated provides a stand-in generation engine that walks a
// job through fixed progress stages without doing any work. It is the
// default engine for development and tests.
package simulated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/genqueue/execution"
	"github.com/xraph/genqueue/job"
)

// Stages are the progress values reported, in order.
var Stages = []int{10, 20, 30, 80, 100}

// Option configures an Engine.
type Option func(*Engine)

// WithStepDelay sets the pause between stages.
func WithStepDelay(d time.Duration) Option {
	return func(e *Engine) { e.stepDelay = d }
}

// WithOutputDir sets the directory reported in the result's videoPath.
func WithOutputDir(dir string) Option {
	return func(e *Engine) { e.outputDir = dir }
}

// WithFailure makes every generation fail with err after reaching stage
// index failAt.
func WithFailure(failAt int, err error) Option {
	return func(e *Engine) {
		e.failAt = failAt
		e.failErr = err
	}
}

// Engine is a simulated execution.Engine.
type Engine struct {
	stepDelay time.Duration
	outputDir string
	failAt    int
	failErr   error
}

var _ execution.Engine = (*Engine)(nil)

// New creates a simulated engine. The default step delay is 2s, which
// puts a full run at about ten seconds.
func New(opts ...Option) *Engine {
	e := &Engine{
		stepDelay: 2 * time.Second,
		outputDir: "/tmp/genqueue",
		failAt:    -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type request struct {
	Prompt         string `json:"prompt"`
	ReferenceImage string `json:"referenceImage,omitempty"`
}

type result struct {
	VideoPath string `json:"videoPath"`
	Prompt    string `json:"prompt,omitempty"`
	Frames    int    `json:"frames"`
}

// Generate reports each stage, pausing between them.
func (e *Engine) Generate(ctx context.Context, j *job.Job, report execution.ProgressFunc) (json.RawMessage, error) {
	var req request
	if err := json.Unmarshal(j.Payload, &req); err != nil {
		return nil, fmt.Errorf("simulated: decode payload: %w", err)
	}

	for i, stage := range Stages {
		if i == e.failAt {
			if e.failErr == nil {
				return nil, errors.New("simulated: generation failed")
			}
			return nil, e.failErr
		}
		if i > 0 && e.stepDelay > 0 {
			t := time.NewTimer(e.stepDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		report(stage)
	}

	return json.Marshal(result{
		VideoPath: fmt.Sprintf("%s/%s.mp4", e.outputDir, j.ID),
		Prompt:    req.Prompt,
		Frames:    16,
	})
}
