// Package httpapi exposes the HTTP surface named by spec.md §6: alert
// submission, session listing/detail, stage cancellation, follow-up chat,
// scoring, the SSE event stream, and system endpoints. Grounded on the
// teacher's pkg/api/server.go (Echo v5 server with Set*-wired optional
// collaborators and a ValidateWiring startup check), trimmed to exactly
// the route list spec.md §6 names — no dashboard static serving, no
// WebSocket endpoint, no trace/timeline/runbook/alert-types routes the
// distilled spec dropped.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/tarsy-chain/tarsy/pkg/chain"
	"github.com/tarsy-chain/tarsy/pkg/chatservice"
	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/eventbus"
	"github.com/tarsy-chain/tarsy/pkg/mcpclient"
	"github.com/tarsy-chain/tarsy/pkg/models"
	"github.com/tarsy-chain/tarsy/pkg/scoring"
	"github.com/tarsy-chain/tarsy/pkg/version"
	"github.com/tarsy-chain/tarsy/pkg/warnings"
)

// maxAlertDataSize bounds POST /alerts' alert_payload field, mirroring the
// teacher's agent.MaxAlertDataSize (1 MiB) — the BodyLimit middleware below
// is set slightly above it to account for JSON envelope overhead.
const maxAlertDataSize = 1024 * 1024

// sessionStore narrows *store.SessionStore to what this package calls.
type sessionStore interface {
	Create(ctx context.Context, req models.CreateSessionRequest) (*models.Session, error)
	Get(ctx context.Context, sessionID string) (*models.Session, error)
	List(ctx context.Context, filters models.SessionFilters) ([]*models.Session, error)
}

// stageStore narrows *store.StageExecutionStore to what this package calls.
type stageStore interface {
	ListBySession(ctx context.Context, sessionID string) ([]*models.StageExecution, error)
}

// chatStore narrows *store.ChatStore to what this package calls.
type chatStore interface {
	GetChat(ctx context.Context, chatID string) (*models.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]*models.ChatUserMessage, error)
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg      *config.Config
	sessions sessionStore
	stages   stageStore
	chats    chatStore

	orchestrator *chain.Orchestrator
	chatSvc      *chatservice.Service
	scoreSvc     *scoring.Service
	bus          eventbus.Bus
	streamer     *eventbus.Streamer
	mcp          mcpclient.Client // nil if not wired — best-effort only
	warningsReg  *warnings.Registry
	auth         *Authenticator // nil disables auth (tests, local dev)
}

// Deps bundles every collaborator Server needs, mirroring how the teacher
// wires its server in cmd/tarsy/main.go but collected into one struct
// since httpapi has no Set*-after-construction phase here.
type Deps struct {
	Config       *config.Config
	Sessions     sessionStore
	Stages       stageStore
	Chats        chatStore
	Orchestrator *chain.Orchestrator
	ChatService  *chatservice.Service
	ScoreService *scoring.Service
	Bus          eventbus.Bus
	MCP          mcpclient.Client
	Warnings     *warnings.Registry
	Auth         *Authenticator
}

func NewServer(deps Deps) *Server {
	e := echo.New()

	s := &Server{
		echo:         e,
		cfg:          deps.Config,
		sessions:     deps.Sessions,
		stages:       deps.Stages,
		chats:        deps.Chats,
		orchestrator: deps.Orchestrator,
		chatSvc:      deps.ChatService,
		scoreSvc:     deps.ScoreService,
		bus:          deps.Bus,
		streamer:     eventbus.NewStreamer(deps.Bus),
		mcp:          deps.MCP,
		warningsReg:  deps.Warnings,
		auth:         deps.Auth,
	}

	s.setupRoutes()
	return s
}

// ValidateWiring checks that every required collaborator was supplied,
// mirroring the teacher's Server.ValidateWiring: catch a wiring gap at
// startup instead of as a nil-pointer panic or 500 at request time.
func (s *Server) ValidateWiring() error {
	var errs []error
	if s.cfg == nil {
		errs = append(errs, errors.New("config not set"))
	}
	if s.sessions == nil {
		errs = append(errs, errors.New("session store not set"))
	}
	if s.stages == nil {
		errs = append(errs, errors.New("stage execution store not set"))
	}
	if s.chats == nil {
		errs = append(errs, errors.New("chat store not set"))
	}
	if s.orchestrator == nil {
		errs = append(errs, errors.New("chain orchestrator not set"))
	}
	if s.chatSvc == nil {
		errs = append(errs, errors.New("chat service not set"))
	}
	if s.scoreSvc == nil {
		errs = append(errs, errors.New("scoring service not set"))
	}
	if s.bus == nil {
		errs = append(errs, errors.New("event bus not set"))
	}
	if s.warningsReg == nil {
		errs = append(errs, errors.New("warnings registry not set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("server wiring incomplete: %w", errors.Join(errs...))
	}
	return nil
}

// setupRoutes registers every route spec.md §6 names, one group behind
// bearer-or-cookie auth and /health outside it.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	if s.auth != nil {
		v1.Use(s.auth.Middleware())
	}

	v1.POST("/alerts", s.submitAlertHandler)

	v1.GET("/sessions", s.listSessionsHandler)
	v1.GET("/sessions/:id", s.getSessionHandler)
	v1.POST("/sessions/:id/stages/:stage_id/cancel", s.cancelStageHandler)

	v1.POST("/chats", s.createChatHandler)
	v1.POST("/chats/:id/messages", s.addChatMessageHandler)

	v1.POST("/sessions/:id/scores", s.triggerScoreHandler)
	v1.GET("/sessions/:id/scores", s.getScoreHandler)

	v1.GET("/events/stream", s.streamEventsHandler)

	v1.GET("/system/warnings", s.systemWarningsHandler)
	v1.GET("/system/mcp-servers", s.mcpServersHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener —
// used by tests to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health. Per spec.md §6: healthy → 200,
// degraded → 503, body always {service, status, timestamp_us, details}.
func (s *Server) healthHandler(c *echo.Context) error {
	details := map[string]any{}
	status := "healthy"

	stats := s.cfg.Stats()
	details["configuration"] = map[string]any{
		"agents":        stats.Agents,
		"chains":        stats.Chains,
		"mcp_servers":   stats.MCPServers,
		"llm_providers": stats.LLMProviders,
	}

	if s.warningsReg != nil {
		active := s.warningsReg.List()
		if len(active) > 0 {
			details["warnings"] = active
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]any{
		"service":      "tarsy",
		"status":       status,
		"timestamp_us": time.Now().UnixMicro(),
		"version":      version.Full(),
		"details":      details,
	})
}
