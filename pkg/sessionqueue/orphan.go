package sessionqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tarsy-chain/tarsy/pkg/models"
)

// backendRestartMessage is the error recorded on a session (and its
// non-terminal stage executions) recovered by either orphan sweep, per
// spec.md's S6 scenario.
const backendRestartMessage = "Session terminated due to backend restart"

// orphanState tracks the periodic sweep's bookkeeping for observability.
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

func (o *orphanState) record(count int, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastOrphanScan = at
	o.orphansRecovered += count
}

// runStartupSweep recovers this pod's own crash-interrupted sessions: any
// session still in_progress under this pod's identity is definitionally
// orphaned, since a fresh process has no worker running it. Unconditional —
// no staleness threshold, mirroring the teacher's CleanupStartupOrphans.
func (p *Pool) runStartupSweep(ctx context.Context) error {
	sessions, err := p.sessions.FindOwnedBy(ctx, p.podID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return nil
	}
	slog.Warn("recovering sessions orphaned by pod restart", "pod_id", p.podID, "count", len(sessions))
	for _, session := range sessions {
		p.recoverOrphan(ctx, session)
	}
	p.orphans.record(len(sessions), time.Now())
	return nil
}

// runOrphanDetection periodically sweeps for in_progress sessions whose
// last_interaction_at_us is older than queueCfg.OrphanThreshold, regardless
// of which pod owns them — catching a pod that crashed without ever
// restarting to run its own startup sweep. Mirrors the teacher's
// runOrphanDetection/detectAndRecoverOrphans ticker loop.
func (p *Pool) runOrphanDetection(ctx context.Context) {
	ticker := time.NewTicker(p.queueCfg.OrphanDetectionInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.detectAndRecoverOrphans(ctx)
		}
	}
}

func (p *Pool) detectAndRecoverOrphans(ctx context.Context) {
	cutoffUs := nowMicros() - p.queueCfg.OrphanThreshold.Microseconds()
	sessions, err := p.sessions.FindOrphans(ctx, cutoffUs)
	if err != nil {
		slog.Error("orphan detection query failed", "error", err)
		return
	}
	if len(sessions) == 0 {
		p.orphans.record(0, time.Now())
		return
	}
	slog.Warn("recovering orphaned sessions", "count", len(sessions))
	for _, session := range sessions {
		p.recoverOrphan(ctx, session)
	}
	p.orphans.record(len(sessions), time.Now())
}

func (p *Pool) recoverOrphan(ctx context.Context, session *models.Session) {
	errMsg := backendRestartMessage
	if err := p.sessions.SetTerminal(ctx, session.SessionID, models.SessionFailed, nil, nil, &errMsg); err != nil {
		slog.Error("failed to mark orphaned session failed", "session_id", session.SessionID, "error", err)
		return
	}
	if err := p.stages.FailNonTerminalBySession(ctx, session.SessionID, backendRestartMessage); err != nil {
		slog.Error("failed to fail non-terminal stages for orphaned session", "session_id", session.SessionID, "error", err)
	}
	publishTerminal(ctx, p.bus, session.SessionID, models.SessionFailed)
}
