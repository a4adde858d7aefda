package httpapi

import (
	"context"
	"sync"

	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/models"
	"github.com/tarsy-chain/tarsy/pkg/stageexec"
	"github.com/tarsy-chain/tarsy/pkg/store"
)

// testConfig builds a minimal *config.Config wiring one chain with chat and
// scoring both enabled, following the same shape chatservice_test.go and
// scoring_test.go already use.
func testConfig() *config.Config {
	maxIter := 3
	agents := map[string]*config.AgentConfig{
		"Investigator": {IterationStrategy: config.IterationStrategyReact, MaxIterations: &maxIter},
		"ChatAgent":    {IterationStrategy: config.IterationStrategyReact, MaxIterations: &maxIter},
		"ScoringAgent": {IterationStrategy: config.IterationStrategyReact, MaxIterations: &maxIter},
	}
	providers := map[string]*config.LLMProviderConfig{
		"default": {Type: config.LLMProviderTypeAnthropic, Model: "claude", MaxToolResultTokens: 5000},
	}
	chains := map[string]*config.ChainConfig{
		"default-chain": {
			AlertTypes: []string{"kubernetes"},
			Stages:     []config.StageConfig{{Name: "investigate", Agents: []config.StageAgentConfig{{Name: "Investigator"}}}},
			Chat:       &config.ChatConfig{Enabled: true, Agent: "ChatAgent"},
			Scoring:    &config.ScoringConfig{Enabled: true, Agent: "ScoringAgent"},
		},
	}
	return &config.Config{
		Defaults:            &config.Defaults{LLMProvider: "default", IterationStrategy: config.IterationStrategyReact},
		AgentRegistry:       config.NewAgentRegistry(agents),
		ChainRegistry:       config.NewChainRegistry(chains),
		MCPServerRegistry:   config.NewMCPServerRegistry(nil),
		LLMProviderRegistry: config.NewLLMProviderRegistry(providers),
	}
}

type fakeSessions struct {
	mu   sync.Mutex
	rows map[string]*models.Session
	n    int
}

func newFakeSessions(seed ...*models.Session) *fakeSessions {
	f := &fakeSessions{rows: make(map[string]*models.Session)}
	for _, s := range seed {
		f.rows[s.SessionID] = s
	}
	return f
}

func (f *fakeSessions) Create(_ context.Context, req models.CreateSessionRequest) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	id := "sess-new-" + string(rune('a'+f.n))
	row := &models.Session{
		SessionID: id, AlertType: req.AlertType, AlertPayload: req.AlertPayload,
		ChainID: req.ChainID, Status: models.SessionPending,
	}
	f.rows[id] = row
	return row, nil
}

func (f *fakeSessions) Get(_ context.Context, sessionID string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return row, nil
}

func (f *fakeSessions) List(_ context.Context, _ models.SessionFilters) ([]*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Session
	for _, row := range f.rows {
		out = append(out, row)
	}
	return out, nil
}

type fakeStages struct {
	mu   sync.Mutex
	rows []*models.StageExecution
}

func newFakeStages(rows ...*models.StageExecution) *fakeStages {
	return &fakeStages{rows: rows}
}

func (f *fakeStages) ListBySession(_ context.Context, sessionID string) ([]*models.StageExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.StageExecution
	for _, r := range f.rows {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Satisfies pkg/chain's narrower stageStore interface too, so the same
// fake can back a real *chain.Orchestrator in cancel-handler tests.
func (f *fakeStages) Create(_ context.Context, req models.CreateStageExecutionRequest) (*models.StageExecution, error) {
	return &models.StageExecution{SessionID: req.SessionID, StageName: req.StageName}, nil
}

func (f *fakeStages) Start(_ context.Context, _ string) error { return nil }

func (f *fakeStages) Finish(_ context.Context, _ string, _ models.UpdateStageExecutionStatusRequest) error {
	return nil
}

func (f *fakeStages) ListChildren(_ context.Context, _ string) ([]*models.StageExecution, error) {
	return nil, nil
}

// HasActiveChatExecution/MaxStageIndexBySession satisfy pkg/chatservice's
// narrower stageStore interface too, so the same fake backs both
// collaborators wired into the server under test.
func (f *fakeStages) HasActiveChatExecution(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (f *fakeStages) MaxStageIndexBySession(_ context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := -1
	for _, r := range f.rows {
		if r.SessionID == sessionID && r.StageIndex > max {
			max = r.StageIndex
		}
	}
	return max, nil
}

type fakeChats struct {
	mu       sync.Mutex
	byID     map[string]*models.Chat
	bySess   map[string]*models.Chat
	messages map[string][]*models.ChatUserMessage
}

func newFakeChats() *fakeChats {
	return &fakeChats{
		byID:     make(map[string]*models.Chat),
		bySess:   make(map[string]*models.Chat),
		messages: make(map[string][]*models.ChatUserMessage),
	}
}

func (f *fakeChats) GetChat(_ context.Context, chatID string) (*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.byID[chatID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeChats) ListMessages(_ context.Context, chatID string) ([]*models.ChatUserMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[chatID], nil
}

// CreateChat/GetChatBySession/AddMessage/SetMessageResponse/Heartbeat back
// the chatservice.Service wired into the server under test — fakeChats
// plays both the httpapi chatStore role (GetChat/ListMessages) and the
// chatservice chatStore role so one fake can back both collaborators.
func (f *fakeChats) CreateChat(_ context.Context, req models.CreateChatRequest, chainID string) (*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bySess[req.SessionID]; ok {
		return nil, store.ErrChatAlreadyExists
	}
	c := &models.Chat{ChatID: "chat-" + req.SessionID, SessionID: req.SessionID, ChainID: chainID}
	f.byID[c.ChatID] = c
	f.bySess[req.SessionID] = c
	return c, nil
}

func (f *fakeChats) GetChatBySession(_ context.Context, sessionID string) (*models.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.bySess[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (f *fakeChats) AddMessage(_ context.Context, req models.AddChatMessageRequest) (*models.ChatUserMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "msg-" + req.ChatID + "-" + string(rune('a'+len(f.messages[req.ChatID])))
	m := &models.ChatUserMessage{MessageID: id, ChatID: req.ChatID, Content: req.Content, Author: req.Author}
	f.messages[req.ChatID] = append(f.messages[req.ChatID], m)
	return m, nil
}

func (f *fakeChats) SetMessageResponse(_ context.Context, messageID, executionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msgs := range f.messages {
		for _, m := range msgs {
			if m.MessageID == messageID {
				m.ResponseExecutionID = &executionID
				return nil
			}
		}
	}
	return store.ErrNotFound
}

func (f *fakeChats) Heartbeat(_ context.Context, _ string) error { return nil }

type fakeChatExecutor struct {
	outcome *stageexec.Outcome
	err     error
	done    chan struct{}
}

func newFakeChatExecutor() *fakeChatExecutor {
	return &fakeChatExecutor{outcome: &stageexec.Outcome{Status: models.StageExecutionCompleted}, done: make(chan struct{}, 10)}
}

func (f *fakeChatExecutor) Execute(_ context.Context, _ stageexec.Request) (*stageexec.Outcome, error) {
	f.done <- struct{}{}
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

type fakeScoreStore struct {
	mu   sync.Mutex
	rows map[string]*models.SessionScore
	done chan struct{}
}

func newFakeScoreStore() *fakeScoreStore {
	return &fakeScoreStore{rows: make(map[string]*models.SessionScore), done: make(chan struct{}, 10)}
}

func (f *fakeScoreStore) Create(_ context.Context, req models.CreateSessionScoreRequest) (*models.SessionScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.SessionID == req.SessionID && (r.Status == models.SessionScorePending || r.Status == models.SessionScoreInProgress) {
			return nil, store.ErrScoreAlreadyInFlight
		}
	}
	id := "score-" + req.SessionID + "-" + string(rune('a'+len(f.rows)))
	row := &models.SessionScore{ScoreID: id, SessionID: req.SessionID, ScoreTriggeredBy: req.ScoreTriggeredBy, Status: models.SessionScorePending}
	f.rows[id] = row
	return row, nil
}

func (f *fakeScoreStore) Finish(_ context.Context, scoreID string, status models.SessionScoreStatus, promptHash *string, totalScore *int, analysis, missingTools, errMsg *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[scoreID]
	if !ok {
		return store.ErrNotFound
	}
	row.Status = status
	row.PromptHash = promptHash
	row.TotalScore = totalScore
	row.ScoreAnalysis = analysis
	row.MissingToolsAnalysis = missingTools
	row.Error = errMsg
	f.done <- struct{}{}
	return nil
}

func (f *fakeScoreStore) GetLatestBySession(_ context.Context, sessionID string) (*models.SessionScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *models.SessionScore
	for _, r := range f.rows {
		if r.SessionID == sessionID {
			latest = r
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

type fakeStageLister struct {
	rows []*models.StageExecution
}

func (f *fakeStageLister) ListBySession(_ context.Context, sessionID string) ([]*models.StageExecution, error) {
	var out []*models.StageExecution
	for _, r := range f.rows {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out, nil
}
