package sessionqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/chain"
	"github.com/tarsy-chain/tarsy/pkg/config"
	"github.com/tarsy-chain/tarsy/pkg/eventbus"
	"github.com/tarsy-chain/tarsy/pkg/models"
	"github.com/tarsy-chain/tarsy/pkg/store"
)

// sessionRegistry is what Pool provides to a worker for cancel-function
// bookkeeping — narrowed so a worker can be tested without a full Pool.
type sessionRegistry interface {
	RegisterSession(sessionID string, cancel context.CancelFunc)
	UnregisterSession(sessionID string)
}

// worker is a single claimer: it polls for a pending session, runs it via
// pkg/chain.Orchestrator, and persists the terminal result. Grounded on the
// teacher's Worker (pkg/queue/worker.go).
type worker struct {
	id       string
	podID    string
	sessions sessionStore
	exec     sessionRunner
	bus      eventbus.Bus
	cfg      *config.Config
	queueCfg *config.QueueConfig
	registry sessionRegistry

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newWorker(id, podID string, sessions sessionStore, exec sessionRunner, bus eventbus.Bus, cfg *config.Config, queueCfg *config.QueueConfig, registry sessionRegistry) *worker {
	return &worker{
		id: id, podID: podID, sessions: sessions, exec: exec, bus: bus,
		cfg: cfg, queueCfg: queueCfg, registry: registry,
		stopCh: make(chan struct{}),
	}
}

func (w *worker) start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *worker) stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *worker) run(ctx context.Context) {
	defer w.wg.Done()
	log := slog.With("worker_id", w.id, "pod_id", w.podID)
	log.Info("claimer worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("claimer worker shutting down")
			return
		case <-ctx.Done():
			log.Info("context cancelled, claimer worker shutting down")
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, store.ErrNoSessionsAvailable) || errors.Is(err, ErrAtCapacity) {
					w.sleep(w.pollInterval())
					continue
				}
				log.Error("error processing session", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

func (w *worker) pollAndProcess(ctx context.Context) error {
	active, err := w.sessions.CountActive(ctx)
	if err != nil {
		return fmt.Errorf("checking active sessions: %w", err)
	}
	if active >= w.queueCfg.MaxConcurrentSessions {
		return ErrAtCapacity
	}

	session, err := w.sessions.ClaimNext(ctx, w.podID)
	if err != nil {
		return err
	}

	log := slog.With("session_id", session.SessionID, "worker_id", w.id)
	log.Info("session claimed")
	publishTerminal(ctx, w.bus, session.SessionID, models.SessionInProgress)

	sessionCtx, cancelSession := context.WithTimeout(ctx, w.queueCfg.SessionTimeout)
	defer cancelSession()

	w.registry.RegisterSession(session.SessionID, cancelSession)
	defer w.registry.UnregisterSession(session.SessionID)

	heartbeatCtx, cancelHeartbeat := context.WithCancel(sessionCtx)
	go w.runHeartbeat(heartbeatCtx, session.SessionID)

	result, execErr := w.runSession(sessionCtx, session)
	cancelHeartbeat()

	if execErr != nil {
		return fmt.Errorf("running session %s: %w", session.SessionID, execErr)
	}

	if err := w.sessions.SetTerminal(context.Background(), session.SessionID, result.Status, result.FinalAnalysis, nil, result.Error); err != nil {
		log.Error("failed to persist terminal session status", "error", err)
		return err
	}
	publishTerminal(context.Background(), w.bus, session.SessionID, result.Status)

	log.Info("session processing complete", "status", result.Status)
	return nil
}

// runSession resolves the session's chain config and runs it, translating a
// chain-fatal error (ErrConfiguration never reaches here — pkg/chain
// resolves it into a soft Result; ErrClaimLost/ErrSessionTimeout do) into a
// terminal Result the caller persists.
func (w *worker) runSession(ctx context.Context, session *models.Session) (*chain.Result, error) {
	chainCfg, err := w.cfg.GetChain(session.ChainID)
	if err != nil {
		msg := fmt.Sprintf("unknown chain %q: %v", session.ChainID, err)
		return &chain.Result{Status: models.SessionFailed, Error: &msg}, nil
	}

	result, err := w.exec.RunSession(ctx, session, chainCfg, w.ownershipCheck(session.SessionID))
	if err == nil {
		return result, nil
	}

	if errors.Is(err, chain.ErrClaimLost) {
		msg := "session claim lost to another pod"
		return &chain.Result{Status: models.SessionFailed, Error: &msg}, nil
	}
	return nil, err
}

// ownershipCheck re-reads the session row and confirms this pod still holds
// it; used to detect split-brain (two pods both think they own a session).
func (w *worker) ownershipCheck(sessionID string) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		session, err := w.sessions.Get(ctx, sessionID)
		if err != nil {
			return false, err
		}
		return session.PodID != nil && *session.PodID == w.podID && session.Status == models.SessionInProgress, nil
	}
}

func (w *worker) runHeartbeat(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(w.queueCfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.sessions.Heartbeat(ctx, sessionID); err != nil {
				slog.Warn("heartbeat update failed", "session_id", sessionID, "error", err)
			}
		}
	}
}

func (w *worker) pollInterval() time.Duration {
	base := w.queueCfg.PollInterval
	jitter := w.queueCfg.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}
