package config

import "time"

// Defaults carries the fallback values consulted when a chain, stage, or
// agent entry leaves a field unset: LLM provider selection, iteration
// budget/strategy, parallel-stage success policy, and the alert
// masking applied before any alert payload reaches storage.
type Defaults struct {
	LLMProvider       string            `yaml:"llm_provider,omitempty"`
	MaxIterations     *int              `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`
	IterationStrategy IterationStrategy `yaml:"iteration_strategy,omitempty"`
	SuccessPolicy     SuccessPolicy     `yaml:"success_policy,omitempty"`

	// AlertType/Runbook seed new interactive sessions created without an
	// explicit alert type or runbook attached.
	AlertType string `yaml:"alert_type,omitempty"`
	Runbook   string `yaml:"runbook,omitempty"`

	// ScoringAgent names the agent used to score a session when its chain
	// defines no chain-level ScoringConfig of its own.
	ScoringAgent string `yaml:"scoring_agent,omitempty"`

	AlertMasking *AlertMaskingDefaults `yaml:"alert_masking,omitempty"`
}

// AlertMaskingDefaults names the masking pattern group applied to every
// alert payload before it is persisted.
type AlertMaskingDefaults struct {
	Enabled      bool   `yaml:"enabled"`
	PatternGroup string `yaml:"pattern_group"`
}

// RetentionConfig bounds how long completed sessions and orphaned event rows
// survive, and how often the sweep that enforces those bounds runs.
type RetentionConfig struct {
	SessionRetentionDays int           `yaml:"session_retention_days"`
	EventTTL             time.Duration `yaml:"event_ttl"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
}

// DefaultRetentionConfig is the built-in retention policy: a year of
// completed sessions, hourly safety-net cleanup of orphaned events.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SessionRetentionDays: 365,
		EventTTL:             1 * time.Hour,
		CleanupInterval:      12 * time.Hour,
	}
}

// QueueConfig tunes pkg/sessionqueue's claimer: how many workers poll per
// pod, the global concurrency ceiling enforced via a database COUNT(*), poll
// cadence and jitter, per-session processing deadline, graceful-shutdown
// budget, and the orphan-detection sweep interval/threshold described in
// spec.md §4.6.
type QueueConfig struct {
	WorkerCount           int `yaml:"worker_count"`
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions"`

	PollInterval       time.Duration `yaml:"poll_interval"`
	PollIntervalJitter time.Duration `yaml:"poll_interval_jitter"`

	SessionTimeout          time.Duration `yaml:"session_timeout"`
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// HeartbeatInterval is how often an active claimer touches its
	// session's last_heartbeat column; it must stay well below
	// OrphanThreshold or an actively-worked session reads as orphaned.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	OrphanDetectionInterval time.Duration `yaml:"orphan_detection_interval"`
	OrphanThreshold         time.Duration `yaml:"orphan_threshold"`
}

// DefaultQueueConfig is the built-in claimer tuning: 5 workers per pod, a
// 5-session global concurrency cap, second-scale polling, and a 30-minute
// orphan threshold.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		WorkerCount:             5,
		MaxConcurrentSessions:   5,
		PollInterval:            1 * time.Second,
		PollIntervalJitter:      500 * time.Millisecond,
		SessionTimeout:          15 * time.Minute,
		GracefulShutdownTimeout: 15 * time.Minute,
		HeartbeatInterval:       30 * time.Second,
		OrphanDetectionInterval: 5 * time.Minute,
		OrphanThreshold:         30 * time.Minute,
	}
}
