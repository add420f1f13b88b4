package questline

import (
	"context"
	"fmt"
	"time"
)

// HealthLevel classifies overall queue health.
type HealthLevel string

const (
	HealthHealthy  HealthLevel = "healthy"
	HealthWarning  HealthLevel = "warning"
	HealthCritical HealthLevel = "critical"
)

// MonitorThresholds selects when the monitor escalates from healthy to
// warning to critical.
type MonitorThresholds struct {
	// WarnFailureRate flags the queue when failed/(completed+failed) exceeds it.
	WarnFailureRate float64
	// CriticalFailureRate escalates to critical.
	CriticalFailureRate float64
	// WarnPauseDuration flags queues that have sat paused longer than this.
	WarnPauseDuration time.Duration
	// WarnQueueUtilization flags queues using more than this fraction of
	// MaxQueueSize.
	WarnQueueUtilization float64
	// WarnEfficiency flags queues whose efficiency score fell below it.
	WarnEfficiency float64
}

// DefaultMonitorThresholds returns the thresholds used when a zero value is
// passed to NewMonitor.
func DefaultMonitorThresholds() MonitorThresholds {
	return MonitorThresholds{
		WarnFailureRate:      0.2,
		CriticalFailureRate:  0.5,
		WarnPauseDuration:    6 * time.Hour,
		WarnQueueUtilization: 0.9,
		WarnEfficiency:       0.5,
	}
}

// HealthStatus is the derived health report for one queue. Ephemeral and
// read-only; never persisted as queue state.
type HealthStatus struct {
	Level           HealthLevel `json:"level"`
	EfficiencyScore float64     `json:"efficiency_score"`
	FailureRate     float64     `json:"failure_rate"`
	Warnings        []string    `json:"warnings,omitempty"`
	Recommendations []string    `json:"recommendations,omitempty"`
	CheckedAt       int64       `json:"checked_at"`
}

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Thresholds MonitorThresholds
	// Logger is used for monitor events. Defaults to FmtLogger.
	Logger Logger
}

// Monitor derives efficiency and health classifications from queue state.
// It is strictly read-only over the store and never mutates a queue.
type Monitor struct {
	store *Store
	th    MonitorThresholds
	log   Logger
}

// NewMonitor creates a Monitor over the given store.
func NewMonitor(store *Store, cfg MonitorConfig) *Monitor {
	th := cfg.Thresholds
	if th == (MonitorThresholds{}) {
		th = DefaultMonitorThresholds()
	}
	lg := cfg.Logger
	if lg == nil {
		lg = NewFmtLogger()
	}
	return &Monitor{store: store, th: th, log: lg}
}

// Health loads the player's queue and evaluates it.
func (m *Monitor) Health(ctx context.Context, playerID string) (*HealthStatus, error) {
	q, err := m.store.Get(ctx, playerID)
	if err != nil {
		return nil, err
	}
	return m.Evaluate(q), nil
}

// Evaluate classifies the queue's health from thresholds and emits actionable
// recommendations. Pure with respect to the queue.
func (m *Monitor) Evaluate(q *TaskQueue) *HealthStatus {
	nowMs := m.store.now()
	st := &HealthStatus{
		Level:           HealthHealthy,
		EfficiencyScore: q.Stats.EfficiencyScore,
		CheckedAt:       nowMs,
	}
	warn := func(level HealthLevel, warning, recommendation string) {
		st.Warnings = append(st.Warnings, warning)
		if recommendation != "" {
			st.Recommendations = append(st.Recommendations, recommendation)
		}
		if level == HealthCritical || st.Level == HealthCritical {
			st.Level = HealthCritical
		} else {
			st.Level = HealthWarning
		}
	}

	total := q.Stats.TasksCompleted + q.Stats.TasksFailed
	if total > 0 {
		st.FailureRate = float64(q.Stats.TasksFailed) / float64(total)
	}
	switch {
	case st.FailureRate > m.th.CriticalFailureRate:
		warn(HealthCritical,
			fmt.Sprintf("failure rate %.0f%% exceeds critical threshold", st.FailureRate*100),
			"inspect failing tasks and their validation errors")
	case st.FailureRate > m.th.WarnFailureRate:
		warn(HealthWarning,
			fmt.Sprintf("failure rate %.0f%% is elevated", st.FailureRate*100),
			"review recent task failures")
	}

	if q.IsPaused {
		pausedFor := time.Duration(nowMs-q.UpdatedAt) * time.Millisecond
		if pausedFor > m.th.WarnPauseDuration {
			warn(HealthWarning,
				fmt.Sprintf("queue paused for %s (%s)", pausedFor.Round(time.Minute), q.PauseReason),
				"resolve the pause reason and resume the queue")
		}
	}

	if max := q.Config.MaxQueueSize; max > 0 {
		util := float64(len(q.QueuedTasks)) / float64(max)
		if util >= m.th.WarnQueueUtilization {
			warn(HealthWarning,
				fmt.Sprintf("queue %.0f%% full (%d/%d)", util*100, len(q.QueuedTasks), max),
				"finish or remove pending tasks before adding more")
		}
	}

	if total > 0 && q.Stats.EfficiencyScore < m.th.WarnEfficiency {
		warn(HealthWarning,
			fmt.Sprintf("efficiency score %.2f is low", q.Stats.EfficiencyScore),
			"reduce retries by fixing prerequisites before enqueueing")
	}

	if !VerifyChecksum(q) {
		warn(HealthCritical, "queue checksum mismatch", "run integrity repair")
	}
	return st
}
