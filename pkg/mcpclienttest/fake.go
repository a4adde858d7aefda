// Package mcpclienttest provides an in-memory mcpclient.Client double, for
// the same reason llmclienttest exists: pkg/controller and pkg/stageexec
// tests need to exercise tool-dispatch control flow (dedup, concurrency,
// error-to-conversation-feedback) without a live MCP server. Grounded on the
// teacher's own MCP test double (pkg/mcp/testing.go).
package mcpclienttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/tarsy-chain/tarsy/pkg/mcpclient"
)

// Fake is a scripted mcpclient.Client. Tools are fixed per server; call
// results are scripted per (server, tool) and consumed in order, falling
// back to Default when a server/tool's queue is empty.
type Fake struct {
	mu sync.Mutex

	Tools map[string][]mcpclient.Tool // serverID -> tools

	// Results[server][tool] is consumed in FIFO order by CallTool.
	Results map[string]map[string][]mcpclient.CallResult

	// Default is returned when no scripted result remains for a (server, tool) pair.
	Default mcpclient.CallResult

	// Calls records every CallTool invocation, in order, for assertions on
	// dispatch count and concurrency.
	Calls []Call

	closed bool
}

// Call records one CallTool invocation.
type Call struct {
	Server string
	Tool   string
	Args   map[string]any
}

func New() *Fake {
	return &Fake{
		Tools:   make(map[string][]mcpclient.Tool),
		Results: make(map[string]map[string][]mcpclient.CallResult),
		Default: mcpclient.CallResult{Content: "ok"},
	}
}

// WithTools registers the tool list a server reports.
func (f *Fake) WithTools(server string, tools ...mcpclient.Tool) *Fake {
	f.Tools[server] = tools
	return f
}

// WithResult queues one scripted call result for (server, tool).
func (f *Fake) WithResult(server, tool string, result mcpclient.CallResult) *Fake {
	if f.Results[server] == nil {
		f.Results[server] = make(map[string][]mcpclient.CallResult)
	}
	f.Results[server][tool] = append(f.Results[server][tool], result)
	return f
}

func (f *Fake) ListTools(_ context.Context, serverID string) ([]mcpclient.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tools, ok := f.Tools[serverID]
	if !ok {
		return nil, fmt.Errorf("mcpclienttest: no tools registered for server %q", serverID)
	}
	return tools, nil
}

func (f *Fake) CallTool(_ context.Context, serverID, toolName string, args map[string]any) (*mcpclient.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Calls = append(f.Calls, Call{Server: serverID, Tool: toolName, Args: args})

	queue := f.Results[serverID][toolName]
	if len(queue) == 0 {
		result := f.Default
		return &result, nil
	}
	result := queue[0]
	f.Results[serverID][toolName] = queue[1:]
	return &result, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// CallCount returns how many CallTool invocations have been recorded.
func (f *Fake) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}

var _ mcpclient.Client = (*Fake)(nil)
