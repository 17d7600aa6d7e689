package ai

import (
	"context"
	"sync"
	"time"
)

// Step is one scripted provider answer. Raw is run through the same
// normalization as real responses; Err short-circuits it.
type Step struct {
	Raw   string
	Err   error
	Delay time.Duration
	// IgnoreContext serves Delay in full even after ctx ends, like a peer
	// that answers late.
	IgnoreContext bool
}

// ScriptedGateway replays fixed answers. The last status step repeats once
// the script is exhausted.
type ScriptedGateway struct {
	Submission Step
	Statuses   []Step

	mu          sync.Mutex
	submitCalls int
	statusCalls int
	lastParams  map[string]any
	lastModel   string
}

func (g *ScriptedGateway) Submit(ctx context.Context, kind, model string, params map[string]any) (*SubmitResult, error) {
	g.mu.Lock()
	g.submitCalls++
	g.lastParams = params
	g.lastModel = model
	step := g.Submission
	g.mu.Unlock()

	if err := wait(ctx, step.Delay); err != nil {
		return nil, unavailable("submit", err)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return ParseSubmit(kind, []byte(step.Raw))
}

func (g *ScriptedGateway) Status(ctx context.Context, kind, externalID string) (*StatusResult, error) {
	g.mu.Lock()
	var step Step
	if n := len(g.Statuses); n > 0 {
		i := g.statusCalls
		if i >= n {
			i = n - 1
		}
		step = g.Statuses[i]
	} else {
		step = Step{Raw: `{"status":"running"}`}
	}
	g.statusCalls++
	g.mu.Unlock()

	if step.IgnoreContext {
		time.Sleep(step.Delay)
	} else if err := wait(ctx, step.Delay); err != nil {
		return nil, unavailable("status", err)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return ParseStatus(kind, []byte(step.Raw))
}

func (g *ScriptedGateway) SubmitCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.submitCalls
}

func (g *ScriptedGateway) StatusCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls
}

// LastSubmit returns the model and params of the most recent submission.
func (g *ScriptedGateway) LastSubmit() (string, map[string]any) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastModel, g.lastParams
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
