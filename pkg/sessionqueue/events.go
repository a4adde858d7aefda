package sessionqueue

import (
	"context"
	"log/slog"

	"github.com/tarsy-chain/tarsy/pkg/eventbus"
	"github.com/tarsy-chain/tarsy/pkg/models"
)

// publishTerminal publishes a session's terminal status on both the global
// "sessions" channel and its own per-session channel, per spec.md §7/§8 —
// pkg/chain deliberately leaves this to the claimer, since it is the
// component that owns the call to SessionStore.SetTerminal and the event
// must follow that write. Best-effort: publish failures are logged, not
// propagated, mirroring the teacher's publishSessionStatus.
func publishTerminal(ctx context.Context, bus eventbus.Bus, sessionID string, status models.SessionStatus) {
	if bus == nil {
		return
	}
	payload := map[string]any{"type": "session_status", "session_id": sessionID, "status": string(status)}
	if _, err := bus.Publish(ctx, models.ChannelSessions, payload); err != nil {
		slog.Warn("failed to publish session terminal status on global channel", "session_id", sessionID, "error", err)
	}
	if _, err := bus.Publish(ctx, models.SessionChannel(sessionID), payload); err != nil {
		slog.Warn("failed to publish session terminal status on session channel", "session_id", sessionID, "error", err)
	}
}
