package sessionqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tarsy-chain/tarsy/pkg/chain"
	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/eventbus"
	"github.com/tarsy-chain/tarsy/pkg/models"
)

// Pool manages a pod's claimer workers plus the orphan-detection sweep,
// grounded on the teacher's WorkerPool (pkg/queue/pool.go).
type Pool struct {
	podID    string
	sessions sessionStore
	stages   stageExecutionStore
	exec     sessionRunner
	bus      eventbus.Bus
	cfg      *config.Config
	queueCfg *config.QueueConfig

	workers  []*worker
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool

	mu             sync.RWMutex
	activeSessions map[string]context.CancelFunc

	orphans orphanState
}

// NewPool wires a claimer pool around a pkg/chain.Orchestrator. queueCfg
// must not be nil; cfg.Queue is the usual source.
func NewPool(podID string, sessions sessionStore, stages stageExecutionStore, exec sessionRunner, bus eventbus.Bus, cfg *config.Config, queueCfg *config.QueueConfig) *Pool {
	return &Pool{
		podID:          podID,
		sessions:       sessions,
		stages:         stages,
		exec:           exec,
		bus:            bus,
		cfg:            cfg,
		queueCfg:       queueCfg,
		stopCh:         make(chan struct{}),
		activeSessions: make(map[string]context.CancelFunc),
	}
}

// Start recovers this pod's own crash-interrupted sessions (startup orphan
// sweep), then spawns queueCfg.WorkerCount claimer workers and the periodic
// orphan-detection loop. Safe to call once; a second call is a no-op.
func (p *Pool) Start(ctx context.Context) error {
	if p.started {
		slog.Warn("session queue pool already started, ignoring duplicate Start call", "pod_id", p.podID)
		return nil
	}
	p.started = true

	if err := p.runStartupSweep(ctx); err != nil {
		slog.Error("startup orphan sweep failed", "pod_id", p.podID, "error", err)
	}

	slog.Info("starting session queue pool", "pod_id", p.podID, "worker_count", p.queueCfg.WorkerCount)
	for i := 0; i < p.queueCfg.WorkerCount; i++ {
		w := newWorker(fmt.Sprintf("%s-worker-%d", p.podID, i), p.podID, p.sessions, p.exec, p.bus, p.cfg, p.queueCfg, p)
		p.workers = append(p.workers, w)
		w.start(ctx)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runOrphanDetection(ctx)
	}()

	return nil
}

// Stop signals every worker to stop polling for new sessions and waits for
// in-flight sessions to finish (graceful shutdown, per spec.md §4.6's
// "interrupted" message only applies when a shutdown forcibly interrupts a
// session still running past its own graceful-shutdown budget — workers
// that finish naturally within the budget report their own Result).
func (p *Pool) Stop() {
	slog.Info("stopping session queue pool gracefully", "pod_id", p.podID)

	active := p.activeSessionIDs()
	if len(active) > 0 {
		slog.Info("waiting for active sessions to complete", "count", len(active), "session_ids", active)
	}

	for _, w := range p.workers {
		w.stop()
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	slog.Info("session queue pool stopped gracefully", "pod_id", p.podID)
}

// Interrupt force-cancels every still-active session's context and marks it
// failed with "interrupted" — called when the graceful-shutdown budget
// (queueCfg.GracefulShutdownTimeout) elapses before Stop's wg.Wait returns,
// per spec.md §4.6: "the pod marks its own in_progress sessions failed with
// 'interrupted'."
func (p *Pool) Interrupt(ctx context.Context) {
	for _, sessionID := range p.activeSessionIDs() {
		p.CancelSession(sessionID)
		errMsg := "interrupted"
		if err := p.sessions.SetTerminal(ctx, sessionID, models.SessionFailed, nil, nil, &errMsg); err != nil {
			slog.Error("failed to mark interrupted session terminal", "session_id", sessionID, "error", err)
			continue
		}
		if err := p.stages.FailNonTerminalBySession(ctx, sessionID, errMsg); err != nil {
			slog.Error("failed to fail non-terminal stages for interrupted session", "session_id", sessionID, "error", err)
		}
		publishTerminal(ctx, p.bus, sessionID, models.SessionFailed)
	}
}

// RegisterSession stores a session's cancel function for CancelSession/
// Interrupt to call.
func (p *Pool) RegisterSession(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeSessions[sessionID] = cancel
}

// UnregisterSession removes a session's cancel function once it finishes.
func (p *Pool) UnregisterSession(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeSessions, sessionID)
}

// CancelSession cancels a running session's context on this pod. Returns
// true if the session was found and cancelled here.
func (p *Pool) CancelSession(sessionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cancel, ok := p.activeSessions[sessionID]
	if !ok {
		return false
	}
	cancel()
	return true
}

func (p *Pool) activeSessionIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.activeSessions))
	for id := range p.activeSessions {
		out = append(out, id)
	}
	return out
}

// ChainOrchestrator type-asserts that *chain.Orchestrator satisfies
// sessionRunner, caught here rather than at the call site.
var _ sessionRunner = (*chain.Orchestrator)(nil)
