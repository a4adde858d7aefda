// Package main wires every pkg/* component into a running TARSy server:
// load configuration, open the database, start the claimer pool that drains
// the session queue, and serve the HTTP API. Grounded on the teacher's own
// cmd/tarsy/main.go for overall shape (flag-based config dir, .env loading
// via godotenv, config.Initialize, startup logging) — the teacher's own
// version never got past a partial Phase-2 wiring (several services
// constructed and immediately discarded with "_ = sessionService"-style
// placeholders, a bare gin router with only /health), so the service
// construction and HTTP wiring below follow this module's own packages
// instead of copying that unfinished state.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"

	"github.com/tarsy-chain/tarsy/pkg/cancel"
	"github.com/tarsy-chain/tarsy/pkg/chain"
	"github.com/tarsy-chain/tarsy/pkg/chatservice"
	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/eventbus"
	"github.com/tarsy-chain/tarsy/pkg/httpapi"
	"github.com/tarsy-chain/tarsy/pkg/interactionlog"
	"github.com/tarsy-chain/tarsy/pkg/llmclient"
	"github.com/tarsy-chain/tarsy/pkg/mcpclient"
	"github.com/tarsy-chain/tarsy/pkg/scoring"
	"github.com/tarsy-chain/tarsy/pkg/sessionqueue"
	"github.com/tarsy-chain/tarsy/pkg/stageexec"
	"github.com/tarsy-chain/tarsy/pkg/store"
	"github.com/tarsy-chain/tarsy/pkg/version"
	"github.com/tarsy-chain/tarsy/pkg/warnings"
)

// getEnv mirrors the teacher's own cmd/tarsy/main.go helper of the same name.
func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	} else {
		log.Info("loaded environment file", "path", envPath)
	}

	log.Info("starting tarsy", "version", version.Full(), "config_dir", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configDir, log); err != nil {
		log.Error("tarsy exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configDir string, log *slog.Logger) error {
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("initializing configuration: %w", err)
	}
	stats := cfg.Stats()
	log.Info("configuration loaded",
		"agents", stats.Agents, "chains", stats.Chains,
		"mcp_servers", stats.MCPServers, "llm_providers", stats.LLMProviders)

	dbCfg, err := loadDBConfigFromEnv()
	if err != nil {
		return fmt.Errorf("loading database config: %w", err)
	}

	db, err := store.Open(ctx, dbCfg, store.Migrations())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()
	log.Info("connected to database and applied migrations", "host", dbCfg.Host, "database", dbCfg.Database)

	bus, err := newEventBus(dbCfg, db, log)
	if err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}
	if err := bus.Start(ctx); err != nil {
		return fmt.Errorf("starting event bus: %w", err)
	}
	defer bus.Close()

	mcp := mcpclient.NewMultiServerClient(cfg.MCPServerRegistry, log)

	llmRouter, err := llmclient.NewRouter(cfg.LLMProviderRegistry, cfg.Defaults.LLMProvider, log)
	if err != nil {
		return fmt.Errorf("wiring llm providers: %w", err)
	}

	cancelTracker := cancel.New()
	interactions := interactionlog.New(db.Interactions, db.Sessions, log)

	executor := stageexec.NewExecutor(db.StageExecutions, bus, interactions, cancelTracker, cfg, llmRouter, mcp)

	sessionTimeout := cfg.Queue.SessionTimeout
	orchestrator := chain.NewOrchestrator(db.StageExecutions, db.Sessions, executor, bus, mcp, cancelTracker, cfg, sessionTimeout)

	chatSvc := chatservice.New(cfg, db.Chats, db.StageExecutions, executor, bus, log)
	scoreSvc := scoring.New(cfg, db.Scores, db.StageExecutions, llmRouter, interactions, log)

	podID := getEnv("POD_ID", mustHostname())
	pool := sessionqueue.NewPool(podID, db.Sessions, db.StageExecutions, orchestrator, bus, cfg, cfg.Queue)
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("starting session queue pool: %w", err)
	}

	auth, err := newAuthenticator(log)
	if err != nil {
		return fmt.Errorf("wiring authenticator: %w", err)
	}

	warningsReg := warnings.NewRegistry()
	for name, reason := range mcp.FailedServers() {
		warningsReg.Register(warnings.CategoryMCPHealth, reason, "", name)
	}

	server := httpapi.NewServer(httpapi.Deps{
		Config:       cfg,
		Sessions:     db.Sessions,
		Stages:       db.StageExecutions,
		Chats:        db.Chats,
		Orchestrator: orchestrator,
		ChatService:  chatSvc,
		ScoreService: scoreSvc,
		Bus:          bus,
		MCP:          mcp,
		Warnings:     warningsReg,
		Auth:         auth,
	})
	if err := server.ValidateWiring(); err != nil {
		return fmt.Errorf("server wiring: %w", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	errCh := make(chan error, 1)
	go func() {
		log.Info("serving http", "port", httpPort)
		if err := server.Start(":" + httpPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", "error", err)
	}

	pool.Stop()
	pool.Interrupt(shutdownCtx)

	log.Info("tarsy stopped cleanly")
	return nil
}

func mustHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "tarsy-unknown"
	}
	return h
}

// loadDBConfigFromEnv mirrors the teacher's database.LoadConfigFromEnv
// (pkg/database/config.go) — same DB_* env var names and defaults, adapted
// to pkg/store.Config's pgx-pool field set instead of database/sql's.
func loadDBConfigFromEnv() (store.Config, error) {
	password := os.Getenv("DB_PASSWORD")
	if password == "" {
		return store.Config{}, errors.New("DB_PASSWORD is required")
	}
	return store.Config{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "tarsy"),
		Password:        password,
		Database:        getEnv("DB_NAME", "tarsy"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxConns:        int32(getEnvInt("DB_MAX_OPEN_CONNS", 25)),
		MinConns:        int32(getEnvInt("DB_MAX_IDLE_CONNS", 10)),
		MaxConnLifetime: 1 * time.Hour,
		MaxConnIdleTime: 15 * time.Minute,
	}, nil
}

// newEventBus picks the LISTEN/NOTIFY backend by default, falling back to
// the polling backend when EVENT_BUS=poll — the operator escape hatch
// spec.md §4.1 calls for when a dedicated LISTEN connection isn't available.
func newEventBus(dbCfg store.Config, db *store.Store, log *slog.Logger) (eventbus.Bus, error) {
	switch getEnv("EVENT_BUS", "notify") {
	case "poll":
		interval := time.Duration(getEnvInt("EVENT_BUS_POLL_INTERVAL_MS", 2000)) * time.Millisecond
		return eventbus.NewPollBus(db.Events, interval), nil
	case "notify":
		return eventbus.NewNotifyBus(dbCfg.DSN(), db.Events, log), nil
	default:
		return nil, fmt.Errorf("unknown EVENT_BUS value %q (want \"notify\" or \"poll\")", getEnv("EVENT_BUS", "notify"))
	}
}

// newAuthenticator builds the bearer-JWT authenticator from an RSA public
// key PEM file. With AUTH_JWT_PUBLIC_KEY_PATH unset, auth is left disabled
// (nil) — the same "no auth wired" mode pkg/httpapi's own tests run under,
// appropriate for local/dev runs behind a trusted network boundary.
func newAuthenticator(log *slog.Logger) (*httpapi.Authenticator, error) {
	keyPath := os.Getenv("AUTH_JWT_PUBLIC_KEY_PATH")
	if keyPath == "" {
		log.Warn("AUTH_JWT_PUBLIC_KEY_PATH not set, serving /api/v1 without authentication")
		return nil, nil
	}
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading jwt public key: %w", err)
	}
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing jwt public key: %w", err)
	}
	keyFunc := func(*jwt.Token) (any, error) { return pubKey, nil }

	var requiredOrgs []string
	if orgs := os.Getenv("AUTH_REQUIRED_ORGS"); orgs != "" {
		requiredOrgs = splitCSV(orgs)
	}
	// No OrgValidator implementation is wired: pkg/httpapi.OrgValidator is a
	// contract-only seam (a real GitHub-org-membership check is out of
	// scope), so a non-empty AUTH_REQUIRED_ORGS with no validator would
	// reject every caller. Warn rather than silently ignoring the setting.
	if len(requiredOrgs) > 0 {
		log.Warn("AUTH_REQUIRED_ORGS is set but no org validator is wired in this build; every request will be rejected", "orgs", requiredOrgs)
	}
	return httpapi.NewAuthenticator(keyFunc, requiredOrgs, nil), nil
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
