// Package mcpclient is the MCP transport collaborator named by spec.md §6:
// "the MCP transport layer (stdio/HTTP) with list_tools/call_tool". It wraps
// github.com/modelcontextprotocol/go-sdk/mcp, the teacher's own MCP SDK
// dependency (pkg/mcp/client.go), adapted from the teacher's ent/agent-aware
// Client into a standalone contract pkg/controller can depend on without
// reaching into config internals.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/version"
)

// Recovery/timeout tuning, grounded on the teacher's pkg/mcp/recovery.go.
const (
	initTimeout      = 30 * time.Second
	operationTimeout = 90 * time.Second
	reinitTimeout    = 10 * time.Second
	retryBackoffMin  = 250 * time.Millisecond
	retryBackoffMax  = 750 * time.Millisecond
)

// Tool describes one MCP tool as reported by list_tools.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// CallResult is the outcome of one call_tool invocation. IsError distinguishes
// a tool-level failure (reported by the MCP server as content) from a Go
// error (transport/protocol failure) returned from CallTool itself.
type CallResult struct {
	Content string
	IsError bool
}

// Client is the contract pkg/controller depends on: list tools per server
// and invoke one. Implementations: *MultiServerClient (wired) and
// mcpclienttest.Fake (test double).
type Client interface {
	ListTools(ctx context.Context, serverID string) ([]Tool, error)
	CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*CallResult, error)
	Close() error
}

var _ Client = (*MultiServerClient)(nil)

// MultiServerClient manages live MCP SDK sessions for one or more configured
// servers. One instance is created per investigation session (scoped to the
// session's lifetime) since sessions may be shared across a chain's stages,
// mirroring the teacher's per-session Client.
type MultiServerClient struct {
	registry *config.MCPServerRegistry

	mu            sync.RWMutex
	sessions      map[string]*mcpsdk.ClientSession
	sdkClients    map[string]*mcpsdk.Client
	failedServers map[string]string

	toolCacheMu sync.RWMutex
	toolCache   map[string][]Tool

	reinitMu sync.Map // serverID -> *sync.Mutex

	log *slog.Logger
}

// NewMultiServerClient constructs an unconnected client. Call Initialize to
// connect to the given servers.
func NewMultiServerClient(registry *config.MCPServerRegistry, log *slog.Logger) *MultiServerClient {
	if log == nil {
		log = slog.Default()
	}
	return &MultiServerClient{
		registry:      registry,
		sessions:      make(map[string]*mcpsdk.ClientSession),
		sdkClients:    make(map[string]*mcpsdk.Client),
		failedServers: make(map[string]string),
		toolCache:     make(map[string][]Tool),
		log:           log,
	}
}

// Initialize connects to every listed server, recording failures instead of
// aborting — a session may still usefully run with a subset of servers
// reachable. Callers that need all-or-nothing semantics (e.g. a readiness
// probe) should inspect FailedServers after calling.
func (c *MultiServerClient) Initialize(ctx context.Context, serverIDs []string) {
	for _, id := range serverIDs {
		if err := c.initServer(ctx, id); err != nil {
			c.mu.Lock()
			c.failedServers[id] = err.Error()
			c.mu.Unlock()
			c.log.Warn("mcp server failed to initialize", "server", id, "error", err)
		}
	}
}

func (c *MultiServerClient) initServer(ctx context.Context, serverID string) error {
	muI, _ := c.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()
	return c.initServerLocked(ctx, serverID)
}

func (c *MultiServerClient) initServerLocked(ctx context.Context, serverID string) error {
	c.mu.RLock()
	_, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if exists {
		return nil
	}

	serverCfg, err := c.registry.Get(serverID)
	if err != nil {
		return fmt.Errorf("server %q not found in registry: %w", serverID, err)
	}

	transport, err := createTransport(serverCfg.Transport)
	if err != nil {
		return fmt.Errorf("create transport for %q: %w", serverID, err)
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	sdkClient := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := sdkClient.Connect(initCtx, transport, nil)
	if err != nil {
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return fmt.Errorf("connect to %q: %w", serverID, err)
	}

	c.mu.Lock()
	c.sessions[serverID] = session
	c.sdkClients[serverID] = sdkClient
	delete(c.failedServers, serverID)
	c.mu.Unlock()

	c.log.Info("mcp server connected", "server", serverID)
	return nil
}

// ListTools returns the tool list for one server, using a per-client cache
// populated on first call (each client is session-scoped and short-lived, so
// the cache is never invalidated on a happy path).
func (c *MultiServerClient) ListTools(ctx context.Context, serverID string) ([]Tool, error) {
	c.toolCacheMu.RLock()
	if cached, ok := c.toolCache[serverID]; ok {
		c.toolCacheMu.RUnlock()
		return cached, nil
	}
	c.toolCacheMu.RUnlock()

	c.mu.RLock()
	session, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	result, err := session.ListTools(opCtx, nil)
	if err != nil {
		return nil, fmt.Errorf("list tools from %q: %w", serverID, err)
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, marshalErr := json.Marshal(t.InputSchema)
		if marshalErr != nil {
			schema = nil
		}
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: schema})
	}

	c.toolCacheMu.Lock()
	c.toolCache[serverID] = tools
	c.toolCacheMu.Unlock()

	return tools, nil
}

// ListAllTools lists tools from every connected server, keyed by server ID.
// Partial failures are logged and skipped; an error is returned only when
// every server fails.
func (c *MultiServerClient) ListAllTools(ctx context.Context) (map[string][]Tool, error) {
	c.mu.RLock()
	serverIDs := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		serverIDs = append(serverIDs, id)
	}
	c.mu.RUnlock()

	result := make(map[string][]Tool)
	var lastErr error
	for _, id := range serverIDs {
		tools, err := c.ListTools(ctx, id)
		if err != nil {
			lastErr = err
			c.log.Warn("failed to list tools from mcp server", "server", id, "error", err)
			continue
		}
		result[id] = tools
	}
	if len(result) == 0 && lastErr != nil {
		return nil, fmt.Errorf("all servers failed to list tools: %w", lastErr)
	}
	return result, nil
}

// CallTool executes one tool call, retrying once (with a new session) on a
// recoverable transport failure.
func (c *MultiServerClient) CallTool(ctx context.Context, serverID, toolName string, args map[string]any) (*CallResult, error) {
	result, err := c.callOnce(ctx, serverID, toolName, args)
	if err == nil {
		return result, nil
	}

	action := classifyError(err)
	if action == noRetry {
		return nil, err
	}

	c.log.Info("mcp call failed, retrying", "server", serverID, "tool", toolName, "error", err)

	backoff := retryBackoffMin + time.Duration(rand.Int64N(int64(retryBackoffMax-retryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if action == retryNewSession {
		if err := c.recreateSession(ctx, serverID); err != nil {
			return nil, fmt.Errorf("session recreation failed for %q: %w", serverID, err)
		}
	}

	result, err = c.callOnce(ctx, serverID, toolName, args)
	if err != nil {
		return nil, fmt.Errorf("retry failed for %s.%s: %w", serverID, toolName, err)
	}
	return result, nil
}

func (c *MultiServerClient) callOnce(ctx context.Context, serverID, toolName string, args map[string]any) (*CallResult, error) {
	c.mu.RLock()
	session, exists := c.sessions[serverID]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no session for server %q", serverID)
	}

	opCtx, cancel := context.WithTimeout(ctx, operationTimeout)
	defer cancel()

	result, err := session.CallTool(opCtx, &mcpsdk.CallToolParams{Name: toolName, Arguments: args})
	if err != nil {
		return nil, err
	}
	return &CallResult{Content: extractTextContent(result), IsError: result.IsError}, nil
}

func (c *MultiServerClient) recreateSession(ctx context.Context, serverID string) error {
	muI, _ := c.reinitMu.LoadOrStore(serverID, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	c.mu.Lock()
	if session, exists := c.sessions[serverID]; exists {
		_ = session.Close()
		delete(c.sessions, serverID)
		delete(c.sdkClients, serverID)
	}
	c.mu.Unlock()

	c.toolCacheMu.Lock()
	delete(c.toolCache, serverID)
	c.toolCacheMu.Unlock()

	reinitCtx, cancel := context.WithTimeout(ctx, reinitTimeout)
	defer cancel()
	return c.initServerLocked(reinitCtx, serverID)
}

// FailedServers returns the servers that failed to connect during
// Initialize, keyed by server ID, with a human-readable error each.
func (c *MultiServerClient) FailedServers() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]string, len(c.failedServers))
	for k, v := range c.failedServers {
		result[k] = v
	}
	return result
}

// Close shuts down every live session.
func (c *MultiServerClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, session := range c.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", id, err)
		}
	}
	c.sessions = make(map[string]*mcpsdk.ClientSession)
	c.sdkClients = make(map[string]*mcpsdk.Client)
	c.failedServers = make(map[string]string)

	c.toolCacheMu.Lock()
	c.toolCache = make(map[string][]Tool)
	c.toolCacheMu.Unlock()

	return firstErr
}

func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
