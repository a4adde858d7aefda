package interactionlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

type fakeInteractionWriter struct {
	llm []models.CreateLLMInteractionRequest
	mcp []models.CreateMCPInteractionRequest
}

func (f *fakeInteractionWriter) CreateLLM(_ context.Context, req models.CreateLLMInteractionRequest) (*models.LLMInteraction, error) {
	f.llm = append(f.llm, req)
	return &models.LLMInteraction{InteractionID: "llm-1", SessionID: req.SessionID, DurationMs: req.DurationMs, Success: req.Success}, nil
}

func (f *fakeInteractionWriter) CreateMCP(_ context.Context, req models.CreateMCPInteractionRequest) (*models.MCPInteraction, error) {
	f.mcp = append(f.mcp, req)
	return &models.MCPInteraction{InteractionID: "mcp-1", SessionID: req.SessionID, ServerName: req.ServerName, CommunicationType: req.CommunicationType}, nil
}

type fakeSessionTouch struct {
	touched []string
	err     error
}

func (f *fakeSessionTouch) Heartbeat(_ context.Context, sessionID string) error {
	f.touched = append(f.touched, sessionID)
	return f.err
}

func TestLogLLMPersistsAndTouchesSession(t *testing.T) {
	writer := &fakeInteractionWriter{}
	touch := &fakeSessionTouch{}
	log := New(writer, touch, nil)

	interaction, err := log.LogLLM(context.Background(), LLMCall{
		SessionID: "sess-1",
		ModelName: "claude-3",
		Duration:  250 * time.Millisecond,
		Success:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "sess-1", interaction.SessionID)
	require.Len(t, writer.llm, 1)
	assert.EqualValues(t, 250, writer.llm[0].DurationMs)
	assert.Equal(t, []string{"sess-1"}, touch.touched)
}

func TestLogMCPListDefaultsToAllServersSentinel(t *testing.T) {
	writer := &fakeInteractionWriter{}
	touch := &fakeSessionTouch{}
	log := New(writer, touch, nil)

	_, err := log.LogMCPList(context.Background(), MCPListCall{
		SessionID: "sess-1",
		Success:   true,
	})
	require.NoError(t, err)
	require.Len(t, writer.mcp, 1)
	assert.Equal(t, models.AllServersSentinel, writer.mcp[0].ServerName)
	assert.Equal(t, models.MCPToolList, writer.mcp[0].CommunicationType)
}

func TestLogMCPListHonorsExplicitServerName(t *testing.T) {
	writer := &fakeInteractionWriter{}
	touch := &fakeSessionTouch{}
	log := New(writer, touch, nil)

	_, err := log.LogMCPList(context.Background(), MCPListCall{
		SessionID:  "sess-1",
		ServerName: "kubernetes",
	})
	require.NoError(t, err)
	assert.Equal(t, "kubernetes", writer.mcp[0].ServerName)
}

func TestLogMCPCallRecordsToolCall(t *testing.T) {
	writer := &fakeInteractionWriter{}
	touch := &fakeSessionTouch{}
	log := New(writer, touch, nil)

	toolName := "get_pods"
	_, err := log.LogMCPCall(context.Background(), MCPCall{
		SessionID:  "sess-1",
		ServerName: "kubernetes",
		ToolName:   &toolName,
		Success:    true,
	})
	require.NoError(t, err)
	require.Len(t, writer.mcp, 1)
	assert.Equal(t, models.MCPToolCall, writer.mcp[0].CommunicationType)
	assert.Equal(t, &toolName, writer.mcp[0].ToolName)
}

func TestLogLLMReturnsErrorWithoutTouchingSessionOnWriteFailure(t *testing.T) {
	writer := &failingWriter{}
	touch := &fakeSessionTouch{}
	log := New(writer, touch, nil)

	_, err := log.LogLLM(context.Background(), LLMCall{SessionID: "sess-1"})
	require.Error(t, err)
	assert.Empty(t, touch.touched)
}

func TestHeartbeatFailureDoesNotFailTheLoggedWrite(t *testing.T) {
	writer := &fakeInteractionWriter{}
	touch := &fakeSessionTouch{err: assertError}
	log := New(writer, touch, nil)

	_, err := log.LogLLM(context.Background(), LLMCall{SessionID: "sess-1"})
	require.NoError(t, err)
}

type failingWriter struct{}

func (f *failingWriter) CreateLLM(context.Context, models.CreateLLMInteractionRequest) (*models.LLMInteraction, error) {
	return nil, assertError
}

func (f *failingWriter) CreateMCP(context.Context, models.CreateMCPInteractionRequest) (*models.MCPInteraction, error) {
	return nil, assertError
}

var assertError = assertErr("write failed")

type assertErr string

func (e assertErr) Error() string { return string(e) }
