// Package llmclienttest provides an in-memory llmclient.Client double for
// unit tests across pkg/controller, pkg/stageexec, and pkg/chain — none of
// which should need a live Anthropic API key to exercise their control
// flow. Grounded on the teacher's test pattern of a scripted fake response
// queue (see pkg/agent/controller/*_test.go, which stub LLMClient the same
// way: a slice of canned responses consumed in order).
package llmclienttest

import (
	"context"
	"errors"
	"sync"

	"github.com/tarsy-chain/tarsy/pkg/llmclient"
)

// Fake is a scripted llmclient.Client: each call to Generate consumes the
// next entry from Responses, in order. Calling Generate past the end of
// Responses returns ErrExhausted.
type Fake struct {
	mu        sync.Mutex
	Responses []FakeResult
	calls     int
	Requests  [][]llmclient.Message
}

// FakeResult scripts one Generate call's outcome.
type FakeResult struct {
	Response *llmclient.Response
	Err      error
}

var ErrExhausted = errors.New("llmclienttest: fake response queue exhausted")

func New(results ...FakeResult) *Fake {
	return &Fake{Responses: results}
}

// NewText is a convenience constructor for a fake that returns plain-text
// responses in order, with no thinking content or error.
func NewText(texts ...string) *Fake {
	results := make([]FakeResult, len(texts))
	for i, t := range texts {
		results[i] = FakeResult{Response: &llmclient.Response{Content: t}}
	}
	return New(results...)
}

func (f *Fake) Generate(_ context.Context, messages []llmclient.Message, _ llmclient.GenerateOptions) (*llmclient.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Requests = append(f.Requests, messages)
	if f.calls >= len(f.Responses) {
		return nil, ErrExhausted
	}
	result := f.Responses[f.calls]
	f.calls++
	if result.Err != nil {
		return nil, result.Err
	}
	return result.Response, nil
}

// CallCount returns how many Generate calls have been made so far.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
