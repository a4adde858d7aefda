package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-chain/tarsy/pkg/cancel"
	"github.com/tarsy-chain/tarsy/pkg/chain"
	"github.com/tarsy-chain/tarsy/pkg/chatservice"
	"github.com/tarsy-chain/tarsy/pkg/eventbus"
	"github.com/tarsy-chain/tarsy/pkg/llmclienttest"
	"github.com/tarsy-chain/tarsy/pkg/models"
	"github.com/tarsy-chain/tarsy/pkg/scoring"
	"github.com/tarsy-chain/tarsy/pkg/store"
	"github.com/tarsy-chain/tarsy/pkg/warnings"
)

// fakeBus is the minimal in-memory eventbus.Bus double this package's tests
// need: no subscribers ever wake, GetEventsAfter always returns empty.
type fakeBus struct{}

func (fakeBus) Publish(_ context.Context, channel string, payload map[string]any) (*models.Event, error) {
	return &models.Event{Channel: channel, Payload: payload}, nil
}
func (fakeBus) Subscribe(_ string) (<-chan struct{}, func()) {
	ch := make(chan struct{})
	return ch, func() {}
}
func (fakeBus) GetEventsAfter(_ context.Context, _ string, _ int64, _ int) ([]*models.Event, error) {
	return nil, nil
}
func (fakeBus) MaxID(_ context.Context, _ string) (int64, error) { return 0, nil }
func (fakeBus) Close()                                           {}

// newTestServer wires a Server from in-memory fakes, mirroring how
// cmd/tarsy/main.go wires it from real stores/clients.
func newTestServer(t *testing.T, sessions *fakeSessions, stages *fakeStages, chats *fakeChats, llm *llmclienttest.Fake) (*Server, *fakeChatExecutor, *fakeScoreStore) {
	t.Helper()
	cfg := testConfig()
	bus := fakeBus{}

	chatExec := newFakeChatExecutor()
	chatSvc := chatservice.New(cfg, chats, stages, chatExec, bus, nil)

	scoreStore := newFakeScoreStore()
	scoreSvc := scoring.New(cfg, scoreStore, &fakeStageLister{}, llm, nil, nil)

	orch := chain.NewOrchestrator(stages, sessions, chatExec, bus, nil, cancel.New(), cfg, time.Minute)

	s := NewServer(Deps{
		Config: cfg, Sessions: sessions, Stages: stages, Chats: chats,
		Orchestrator: orch, ChatService: chatSvc, ScoreService: scoreSvc,
		Bus: bus, Warnings: warnings.NewRegistry(),
	})
	return s, chatExec, scoreStore
}

func newCtx(method, target string, body string) (*echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

func TestSubmitAlertHandler(t *testing.T) {
	t.Run("happy path queues a session", func(t *testing.T) {
		s, _, _ := newTestServer(t, newFakeSessions(), newFakeStages(), newFakeChats(), llmclienttest.NewText())

		c, rec := newCtx(http.MethodPost, "/api/v1/alerts", `{"alert_type":"kubernetes","alert_payload":"pod crashlooping"}`)
		require.NoError(t, s.submitAlertHandler(c))
		assert.Equal(t, http.StatusAccepted, rec.Code)

		var resp alertResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.NotEmpty(t, resp.SessionID)
		assert.Equal(t, "queued", resp.Status)
	})

	t.Run("rejects missing alert_payload", func(t *testing.T) {
		s, _, _ := newTestServer(t, newFakeSessions(), newFakeStages(), newFakeChats(), llmclienttest.NewText())
		c, rec := newCtx(http.MethodPost, "/api/v1/alerts", `{"alert_type":"kubernetes"}`)
		err := s.submitAlertHandler(c)
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadRequest, httpErr.Code)
		_ = rec
	})

	t.Run("rejects oversized alert_payload", func(t *testing.T) {
		s, _, _ := newTestServer(t, newFakeSessions(), newFakeStages(), newFakeChats(), llmclienttest.NewText())
		huge := strings.Repeat("x", maxAlertDataSize+1)
		c, _ := newCtx(http.MethodPost, "/api/v1/alerts", `{"alert_type":"kubernetes","alert_payload":"`+huge+`"}`)
		err := s.submitAlertHandler(c)
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusRequestEntityTooLarge, httpErr.Code)
	})

	t.Run("rejects unknown mcp server override", func(t *testing.T) {
		s, _, _ := newTestServer(t, newFakeSessions(), newFakeStages(), newFakeChats(), llmclienttest.NewText())
		body := `{"alert_type":"kubernetes","alert_payload":"x","mcp_selection":{"servers":[{"name":"no-such-server"}]}}`
		c, _ := newCtx(http.MethodPost, "/api/v1/alerts", body)
		err := s.submitAlertHandler(c)
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadRequest, httpErr.Code)
	})

	t.Run("rejects unknown alert_type with no matching chain", func(t *testing.T) {
		s, _, _ := newTestServer(t, newFakeSessions(), newFakeStages(), newFakeChats(), llmclienttest.NewText())
		c, _ := newCtx(http.MethodPost, "/api/v1/alerts", `{"alert_type":"no-such-type","alert_payload":"x"}`)
		err := s.submitAlertHandler(c)
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadRequest, httpErr.Code)
	})
}

func TestListAndGetSessionHandlers(t *testing.T) {
	session := &models.Session{SessionID: "sess-1", ChainID: "default-chain", Status: models.SessionCompleted}
	sessions := newFakeSessions(session)
	stages := newFakeStages(&models.StageExecution{ExecutionID: "exec-1", SessionID: "sess-1", StageName: "investigate"})
	s, _, _ := newTestServer(t, sessions, stages, newFakeChats(), llmclienttest.NewText())

	t.Run("list", func(t *testing.T) {
		c, rec := newCtx(http.MethodGet, "/api/v1/sessions", "")
		require.NoError(t, s.listSessionsHandler(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		var got []*models.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Len(t, got, 1)
	})

	t.Run("get existing", func(t *testing.T) {
		c, rec := newCtx(http.MethodGet, "/api/v1/sessions/sess-1", "")
		c.SetParamNames("id")
		c.SetParamValues("sess-1")
		require.NoError(t, s.getSessionHandler(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var got sessionDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "sess-1", got.SessionID)
		require.Len(t, got.Stages, 1)
		assert.Equal(t, "exec-1", got.Stages[0].ExecutionID)
	})

	t.Run("get missing returns 404", func(t *testing.T) {
		c, _ := newCtx(http.MethodGet, "/api/v1/sessions/nope", "")
		c.SetParamNames("id")
		c.SetParamValues("nope")
		err := s.getSessionHandler(c)
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusNotFound, httpErr.Code)
	})
}

func TestCancelStageHandler(t *testing.T) {
	session := &models.Session{SessionID: "sess-1", ChainID: "default-chain", Status: models.SessionInProgress}
	sessions := newFakeSessions(session)
	stages := newFakeStages(&models.StageExecution{ExecutionID: "exec-1", SessionID: "sess-1", Status: models.StageExecutionActive})
	s, _, _ := newTestServer(t, sessions, stages, newFakeChats(), llmclienttest.NewText())

	// A freshly constructed Orchestrator has never started any stage, so
	// no context is registered for exec-1 — cancellation must report
	// success: false without erroring.
	c, rec := newCtx(http.MethodPost, "/api/v1/sessions/sess-1/stages/exec-1/cancel", "")
	c.SetParamNames("id", "stage_id")
	c.SetParamValues("sess-1", "exec-1")
	require.NoError(t, s.cancelStageHandler(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp cancelStageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, string(models.SessionInProgress), resp.SessionStatus)
	assert.Equal(t, string(models.StageExecutionActive), resp.StageStatus)
}

func TestChatHandlers(t *testing.T) {
	session := &models.Session{SessionID: "sess-1", ChainID: "default-chain", Status: models.SessionCompleted}
	sessions := newFakeSessions(session)
	stages := newFakeStages()
	chats := newFakeChats()
	s, chatExec, _ := newTestServer(t, sessions, stages, chats, llmclienttest.NewText())

	c, rec := newCtx(http.MethodPost, "/api/v1/chats", `{"session_id":"sess-1","content":"what happened?"}`)
	require.NoError(t, s.createChatHandler(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	<-chatExec.done

	var created chatTurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ChatID)
	assert.NotEmpty(t, created.ExecutionID)

	c2, rec2 := newCtx(http.MethodPost, "/api/v1/chats/"+created.ChatID+"/messages", `{"content":"and then?"}`)
	c2.SetParamNames("id")
	c2.SetParamValues(created.ChatID)
	require.NoError(t, s.addChatMessageHandler(c2))
	assert.Equal(t, http.StatusAccepted, rec2.Code)
	<-chatExec.done

	t.Run("rejects empty content", func(t *testing.T) {
		c3, _ := newCtx(http.MethodPost, "/api/v1/chats/"+created.ChatID+"/messages", `{"content":""}`)
		c3.SetParamNames("id")
		c3.SetParamValues(created.ChatID)
		err := s.addChatMessageHandler(c3)
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusBadRequest, httpErr.Code)
	})

	t.Run("unknown chat id is 404", func(t *testing.T) {
		c4, _ := newCtx(http.MethodPost, "/api/v1/chats/nope/messages", `{"content":"x"}`)
		c4.SetParamNames("id")
		c4.SetParamValues("nope")
		err := s.addChatMessageHandler(c4)
		var httpErr *echo.HTTPError
		require.ErrorAs(t, err, &httpErr)
		assert.Equal(t, http.StatusNotFound, httpErr.Code)
	})
}

func TestScoreHandlers(t *testing.T) {
	session := &models.Session{SessionID: "sess-1", ChainID: "default-chain", Status: models.SessionCompleted, AlertPayload: "pod crashlooping"}
	sessions := newFakeSessions(session)
	stages := newFakeStages()
	llm := llmclienttest.NewText("Thorough work.\n8", "Nothing obviously missing.")
	s, _, scoreStore := newTestServer(t, sessions, stages, newFakeChats(), llm)

	c, rec := newCtx(http.MethodPost, "/api/v1/sessions/sess-1/scores", "")
	c.SetParamNames("id")
	c.SetParamValues("sess-1")
	require.NoError(t, s.triggerScoreHandler(c))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	<-scoreStore.done

	var triggered scoreResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &triggered))
	assert.NotEmpty(t, triggered.ScoreID)

	c2, rec2 := newCtx(http.MethodGet, "/api/v1/sessions/sess-1/scores", "")
	c2.SetParamNames("id")
	c2.SetParamValues("sess-1")
	require.NoError(t, s.getScoreHandler(c2))
	assert.Equal(t, http.StatusOK, rec2.Code)

	var got scoreResponse
	require.NoError(t, json.Unmarshal(rec2.Body.Bytes(), &got))
	require.NotNil(t, got.TotalScore)
	assert.Equal(t, 8, *got.TotalScore)
	assert.True(t, got.CurrentPromptUsed)

	t.Run("re-trigger without force_rescore returns the existing completed score", func(t *testing.T) {
		c3, rec3 := newCtx(http.MethodPost, "/api/v1/sessions/sess-1/scores", "")
		c3.SetParamNames("id")
		c3.SetParamValues("sess-1")
		require.NoError(t, s.triggerScoreHandler(c3))
		assert.Equal(t, http.StatusOK, rec3.Code)

		var resp scoreResponse
		require.NoError(t, json.Unmarshal(rec3.Body.Bytes(), &resp))
		assert.Equal(t, triggered.ScoreID, resp.ScoreID)
	})
}

func TestSystemHandlers(t *testing.T) {
	sessions := newFakeSessions()
	s, _, _ := newTestServer(t, sessions, newFakeStages(), newFakeChats(), llmclienttest.NewText())

	t.Run("warnings", func(t *testing.T) {
		s.warningsReg.Register(warnings.CategoryMCPHealth, "server down", "", "server-a")
		c, rec := newCtx(http.MethodGet, "/api/v1/system/warnings", "")
		require.NoError(t, s.systemWarningsHandler(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "server down")
	})

	t.Run("mcp servers lists configured servers with no live client wired", func(t *testing.T) {
		c, rec := newCtx(http.MethodGet, "/api/v1/system/mcp-servers", "")
		require.NoError(t, s.mcpServersHandler(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		var got []mcpServerInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Empty(t, got) // no servers configured in testConfig
	})
}

func TestHealthHandler(t *testing.T) {
	sessions := newFakeSessions()
	s, _, _ := newTestServer(t, sessions, newFakeStages(), newFakeChats(), llmclienttest.NewText())

	t.Run("healthy with no active warnings", func(t *testing.T) {
		c, rec := newCtx(http.MethodGet, "/health", "")
		require.NoError(t, s.healthHandler(c))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("degraded once a warning is active", func(t *testing.T) {
		s.warningsReg.Register(warnings.CategoryConfig, "missing optional field", "", "")
		c, rec := newCtx(http.MethodGet, "/health", "")
		require.NoError(t, s.healthHandler(c))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "degraded", body["status"])
	})
}

func TestStreamEventsHandlerRejectsMissingChannel(t *testing.T) {
	s, _, _ := newTestServer(t, newFakeSessions(), newFakeStages(), newFakeChats(), llmclienttest.NewText())
	c, _ := newCtx(http.MethodGet, "/api/v1/events/stream", "")
	err := s.streamEventsHandler(c)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestValidateWiring(t *testing.T) {
	s, _, _ := newTestServer(t, newFakeSessions(), newFakeStages(), newFakeChats(), llmclienttest.NewText())
	assert.NoError(t, s.ValidateWiring())

	empty := &Server{}
	assert.Error(t, empty.ValidateWiring())
}

var _ = store.ErrNotFound
var _ = eventbus.Bus(fakeBus{})
