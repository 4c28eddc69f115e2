// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/alextra-lab/personal-agent-sub000/internal/errors"
	"github.com/alextra-lab/personal-agent-sub000/internal/llm"
)

// Step is one scripted turn: either a response or an error.
type Step struct {
	Response *llm.Response
	Err      error
}

// Fake returns scripted steps in order and records every request it saw.
// When the script runs out it keeps returning the final step.
type Fake struct {
	mu       sync.Mutex
	script   []Step
	Requests []llm.Request
}

func NewFake(steps ...Step) *Fake {
	return &Fake{script: steps}
}

// Respond appends a plain text response step.
func (f *Fake) Respond(content string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, Step{Response: &llm.Response{Content: content, FinishReason: "stop"}})
	return f
}

// RespondWith appends a fully specified response step.
func (f *Fake) RespondWith(resp llm.Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, Step{Response: &resp})
	return f
}

// Fail appends an error step.
func (f *Fake) Fail(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, Step{Err: err})
	return f
}

func (f *Fake) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.KindCancelled, "fake chat", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, req)
	if len(f.script) == 0 {
		return &llm.Response{Content: "ok", FinishReason: "stop"}, nil
	}
	step := f.script[0]
	if len(f.script) > 1 {
		f.script = f.script[1:]
	}
	if step.Err != nil {
		return nil, step.Err
	}
	resp := *step.Response
	return &resp, nil
}

// CallCount returns how many requests the fake has served.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}
