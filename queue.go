package questline

import (
	"time"

	iring "github.com/questline/questline-go/internal/ring"
)

// QueueConfig bounds a player's queue and selects its lifecycle behavior.
// Zero bounds are replaced with defaults by DefaultQueueConfig; the behavior
// flags are phrased so the zero value is the default behavior (auto-start on
// first add, pause on an invalid promoted task, retry in place).
type QueueConfig struct {
	// MaxQueueSize bounds the number of pending tasks (backpressure).
	MaxQueueSize int `json:"max_queue_size"`
	// MaxTotalDurationMs bounds the total committed work, current task included.
	MaxTotalDurationMs int64 `json:"max_total_duration_ms"`
	// MaxHistorySize bounds the snapshot ring; oldest entries are evicted first.
	MaxHistorySize int `json:"max_history_size"`
	// ManualStart disables the Idle -> Running transition on AddTask; tasks
	// stay queued.
	ManualStart bool `json:"manual_start,omitempty"`
	// DropOnError drops a promoted task that fails validation as failed and
	// keeps going, instead of pausing the queue.
	DropOnError bool `json:"drop_on_error,omitempty"`
	// DisableRetry fails the current task immediately on a mid-flight
	// validation error instead of retrying in place up to the task's MaxRetry.
	DisableRetry bool `json:"disable_retry,omitempty"`
}

// DefaultQueueConfig returns the bounds applied when Create is called with a
// zero config.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxQueueSize:       20,
		MaxTotalDurationMs: int64(24 * time.Hour / time.Millisecond),
		MaxHistorySize:     50,
	}
}

func (c QueueConfig) withDefaults() QueueConfig {
	d := DefaultQueueConfig()
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}
	if c.MaxTotalDurationMs <= 0 {
		c.MaxTotalDurationMs = d.MaxTotalDurationMs
	}
	if c.MaxHistorySize <= 0 {
		c.MaxHistorySize = d.MaxHistorySize
	}
	return c
}

// QueueStats is the cumulative statistics block carried by a queue. Reward
// totals are keyed by reward type (or "type:item" for item grants) so reward
// conservation is checkable without replaying history.
type QueueStats struct {
	TasksCompleted        int64            `json:"tasks_completed"`
	TasksFailed           int64            `json:"tasks_failed"`
	TotalRetries          int64            `json:"total_retries"`
	TotalTimeSpentMs      int64            `json:"total_time_spent_ms"`
	RewardsEarned         map[string]int64 `json:"rewards_earned,omitempty"`
	AverageTaskDurationMs int64            `json:"average_task_duration_ms"`
	CompletionRate        float64          `json:"completion_rate"`
	EfficiencyScore       float64          `json:"efficiency_score"`
}

// rewardKey builds the RewardsEarned map key for one reward.
func rewardKey(r TaskReward) string {
	if r.Item != "" {
		return r.Type + ":" + r.Item
	}
	return r.Type
}

// accrue folds a reward batch into the stats block.
func (s *QueueStats) accrue(rewards []TaskReward) {
	if len(rewards) == 0 {
		return
	}
	if s.RewardsEarned == nil {
		s.RewardsEarned = make(map[string]int64, len(rewards))
	}
	for _, r := range rewards {
		s.RewardsEarned[rewardKey(r)] += r.Quantity
	}
}

// recompute refreshes the derived fields from the counters. Efficiency weighs
// completions against retries and failures: a queue that never retries scores
// 1.0, every retry or failure pulls the score toward 0.
func (s *QueueStats) recompute() {
	total := s.TasksCompleted + s.TasksFailed
	if total > 0 {
		s.CompletionRate = float64(s.TasksCompleted) / float64(total)
	} else {
		s.CompletionRate = 0
	}
	if s.TasksCompleted > 0 {
		s.AverageTaskDurationMs = s.TotalTimeSpentMs / s.TasksCompleted
	}
	attempts := total + s.TotalRetries
	if attempts > 0 {
		s.EfficiencyScore = float64(s.TasksCompleted) / float64(attempts)
	} else {
		s.EfficiencyScore = 0
	}
}

// QueueSnapshot is an immutable point-in-time capture of queue state, retained
// in a bounded ring for repair and audit.
type QueueSnapshot struct {
	Timestamp      int64    `json:"ts"`
	Version        int64    `json:"version"`
	CurrentTaskID  string   `json:"current_task_id,omitempty"`
	QueuedTaskIDs  []string `json:"queued_task_ids,omitempty"`
	IsRunning      bool     `json:"is_running"`
	IsPaused       bool     `json:"is_paused"`
	TasksCompleted int64    `json:"tasks_completed"`
	Checksum       string   `json:"checksum"`
}

// TaskQueue is the canonical per-player queue document. The Store exclusively
// owns the persisted copy; everything else mutates it only through
// Store.AtomicUpdate.
type TaskQueue struct {
	// PlayerID is the owning player.
	PlayerID string `json:"player_id"`
	// CurrentTask is the task accruing progress; at most one.
	CurrentTask *Task `json:"current_task,omitempty"`
	// QueuedTasks are pending tasks ordered higher priority first, FIFO
	// within equal priority. Never contains the id of CurrentTask.
	QueuedTasks []*Task `json:"queued_tasks,omitempty"`
	// IsRunning is set while the current task accrues progress.
	IsRunning bool `json:"is_running"`
	// IsPaused freezes progress; mutually exclusive with IsRunning.
	IsPaused bool `json:"is_paused"`
	// PauseReason records why the queue paused, visible to observers.
	PauseReason string `json:"pause_reason,omitempty"`
	// Stats is the cumulative statistics block.
	Stats QueueStats `json:"stats"`
	// Config bounds the queue and selects lifecycle behavior.
	Config QueueConfig `json:"config"`
	// Version increases by exactly 1 per committed mutation.
	Version int64 `json:"version"`
	// Checksum is the hash of the canonical serialization of the mutable
	// fields, recomputed on every commit.
	Checksum string `json:"checksum"`
	// StateHistory is the bounded snapshot ring, oldest evicted first.
	StateHistory []QueueSnapshot `json:"state_history,omitempty"`
	// CreatedAt is the timestamp (ms) when the queue document was created.
	CreatedAt int64 `json:"created_at"`
	// UpdatedAt is the timestamp (ms) of the last committed mutation.
	UpdatedAt int64 `json:"updated_at"`
	// LastSyncedAt is the timestamp (ms) of the last reconciliation.
	LastSyncedAt int64 `json:"last_synced_at,omitempty"`
}

// State derives the lifecycle state from the flags.
func (q *TaskQueue) State() QueueState {
	switch {
	case q.IsPaused:
		return StatePaused
	case q.IsRunning:
		return StateRunning
	default:
		return StateIdle
	}
}

// HasTask reports whether id is the current task or one of the queued tasks.
func (q *TaskQueue) HasTask(id string) bool {
	if q.CurrentTask != nil && q.CurrentTask.ID == id {
		return true
	}
	return q.queuedIndex(id) >= 0
}

// FindTask returns the task with the given id, current task included, or nil.
func (q *TaskQueue) FindTask(id string) *Task {
	if q.CurrentTask != nil && q.CurrentTask.ID == id {
		return q.CurrentTask
	}
	if i := q.queuedIndex(id); i >= 0 {
		return q.QueuedTasks[i]
	}
	return nil
}

func (q *TaskQueue) queuedIndex(id string) int {
	for i, t := range q.QueuedTasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// TotalDurationMs returns the committed work in the queue: the current task's
// remaining time plus every queued task's full duration.
func (q *TaskQueue) TotalDurationMs() int64 {
	var total int64
	if q.CurrentTask != nil && !q.CurrentTask.Completed {
		remaining := float64(q.CurrentTask.DurationMs) * (1 - q.CurrentTask.Progress)
		total += int64(remaining)
	}
	for _, t := range q.QueuedTasks {
		total += t.DurationMs
	}
	return total
}

// insertQueued places t into QueuedTasks keeping the ordering invariant:
// higher priority first, FIFO within equal priority.
func (q *TaskQueue) insertQueued(t *Task) {
	i := len(q.QueuedTasks)
	for j, existing := range q.QueuedTasks {
		if existing.Priority < t.Priority {
			i = j
			break
		}
	}
	q.QueuedTasks = append(q.QueuedTasks, nil)
	copy(q.QueuedTasks[i+1:], q.QueuedTasks[i:])
	q.QueuedTasks[i] = t
}

// promoteNext pops the head of QueuedTasks into CurrentTask and returns it.
// Returns nil when nothing is pending; the queue goes idle in that case.
func (q *TaskQueue) promoteNext(nowMs int64) *Task {
	if len(q.QueuedTasks) == 0 {
		q.CurrentTask = nil
		q.IsRunning = false
		return nil
	}
	next := q.QueuedTasks[0]
	q.QueuedTasks = q.QueuedTasks[1:]
	next.StartedAt = nowMs
	q.CurrentTask = next
	return next
}

// snapshot captures the queue's identity fields for the state history ring.
func (q *TaskQueue) snapshot(nowMs int64) QueueSnapshot {
	snap := QueueSnapshot{
		Timestamp:      nowMs,
		Version:        q.Version,
		IsRunning:      q.IsRunning,
		IsPaused:       q.IsPaused,
		TasksCompleted: q.Stats.TasksCompleted,
		Checksum:       q.Checksum,
	}
	if q.CurrentTask != nil {
		snap.CurrentTaskID = q.CurrentTask.ID
	}
	if len(q.QueuedTasks) > 0 {
		ids := make([]string, len(q.QueuedTasks))
		for i, t := range q.QueuedTasks {
			ids[i] = t.ID
		}
		snap.QueuedTaskIDs = ids
	}
	return snap
}

// appendSnapshot pushes snap into the bounded history ring.
func (q *TaskQueue) appendSnapshot(snap QueueSnapshot) {
	max := q.Config.MaxHistorySize
	if max <= 0 {
		max = DefaultQueueConfig().MaxHistorySize
	}
	q.StateHistory = iring.Append(q.StateHistory, snap, max)
}

// Clone returns a deep copy of the queue document.
func (q *TaskQueue) Clone() *TaskQueue {
	if q == nil {
		return nil
	}
	c := *q
	c.CurrentTask = q.CurrentTask.Clone()
	if q.QueuedTasks != nil {
		c.QueuedTasks = make([]*Task, len(q.QueuedTasks))
		for i, t := range q.QueuedTasks {
			c.QueuedTasks[i] = t.Clone()
		}
	}
	if q.Stats.RewardsEarned != nil {
		m := make(map[string]int64, len(q.Stats.RewardsEarned))
		for k, v := range q.Stats.RewardsEarned {
			m[k] = v
		}
		c.Stats.RewardsEarned = m
	}
	if q.StateHistory != nil {
		c.StateHistory = append([]QueueSnapshot(nil), q.StateHistory...)
	}
	return &c
}
