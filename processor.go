package questline

import (
	"context"
	"strings"
	"time"
)

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	// Rewards computes reward batches on task completion. A nil calculator
	// grants nothing.
	Rewards RewardCalculator
	// Logger is used for processor events. Defaults to FmtLogger.
	Logger Logger
}

// Processor runs the clock on a player's current task: it advances progress,
// detects completion, grants rewards, accrues statistics and promotes the next
// queued task. Every tick is one AtomicUpdate, so partial progress is never
// split across two committed versions.
type Processor struct {
	store   *Store
	rewards RewardCalculator
	log     Logger
}

// NewProcessor creates a Processor over the given store.
func NewProcessor(store *Store, cfg ProcessorConfig) *Processor {
	lg := cfg.Logger
	if lg == nil {
		lg = NewFmtLogger()
	}
	return &Processor{store: store, rewards: cfg.Rewards, log: lg}
}

// Tick applies one elapsed wall-clock interval to the player's current task.
// Callers must not double-apply the same interval; the engine's pacer
// guarantees this for engine-driven ticks. Ticking a queue that is not
// running commits nothing.
func (p *Processor) Tick(ctx context.Context, playerID string, elapsed time.Duration) (*TaskQueue, error) {
	return p.store.AtomicUpdate(ctx, playerID, func(q *TaskQueue) error {
		return p.advance(q, elapsed)
	})
}

// advance is the pure tick core, run inside the AtomicUpdate transform.
func (p *Processor) advance(q *TaskQueue, elapsed time.Duration) error {
	if q.State() != StateRunning || q.CurrentTask == nil {
		return ErrNoChange
	}
	nowMs := p.store.now()
	task := q.CurrentTask

	// Re-validate mid-flight: a resource may have been consumed elsewhere
	// since the task started.
	res, err := p.store.validateTask(task, ValidationOptions{})
	if err != nil {
		return err
	}
	if !res.Valid {
		applyValidation(task, res)
		return p.failCurrent(q, nowMs)
	}

	if task.DurationMs > 0 {
		task.Progress += float64(elapsed.Milliseconds()) / float64(task.DurationMs)
	} else {
		task.Progress = 1
	}
	// Epsilon absorbs float accumulation across many partial ticks.
	if task.Progress < 1-1e-9 {
		return nil
	}
	// Elapsed time beyond completion is discarded, not rolled into the next
	// task, so replays of the same interval stay bounded.
	task.Progress = 1

	rewards, err := p.calculateRewards(task)
	if err != nil {
		// Leave the task at full progress and pause; completion is retried
		// on the next tick after resume.
		q.IsRunning = false
		q.IsPaused = true
		q.PauseReason = "reward calculation failed: " + err.Error()
		p.log.Errorf("reward calculation failed: player=%s task=%s err=%v", q.PlayerID, task.ID, err)
		return nil
	}

	task.Completed = true
	task.CompletedAt = nowMs
	task.Rewards = rewards
	q.Stats.TasksCompleted++
	q.Stats.TotalTimeSpentMs += task.DurationMs
	q.Stats.accrue(rewards)
	q.Stats.recompute()
	p.log.Debugf("task completed: player=%s id=%s activity=%s rewards=%d", q.PlayerID, task.ID, task.Activity, len(rewards))

	return p.promoteValidated(q, nowMs)
}

func (p *Processor) calculateRewards(task *Task) ([]TaskReward, error) {
	if p.rewards == nil {
		return nil, nil
	}
	return p.rewards.CalculateRewards(task)
}

// failCurrent handles a mid-flight validation failure on the current task:
// retry in place while the budget allows, otherwise mark failed, drop, and
// promote the next task.
func (p *Processor) failCurrent(q *TaskQueue, nowMs int64) error {
	task := q.CurrentTask
	task.LastError = strings.Join(task.ValidationErrors, "; ")
	task.LastErrorAt = nowMs

	if !q.Config.DisableRetry && task.Retry < task.MaxRetry {
		task.Retry++
		q.Stats.TotalRetries++
		q.Stats.recompute()
		p.log.Warnf("task retrying: player=%s id=%s retry=%d/%d", q.PlayerID, task.ID, task.Retry, task.MaxRetry)
		return nil
	}

	task.Failed = true
	q.Stats.TasksFailed++
	q.Stats.recompute()
	p.log.Warnf("task failed: player=%s id=%s err=%s", q.PlayerID, task.ID, task.LastError)
	return p.promoteValidated(q, nowMs)
}

// promoteValidated promotes the head of the queue, re-validating it first so
// invalid work is never executed. The queue pauses on an invalid head unless
// DropOnError is set, in which case the head is dropped as failed and
// promotion continues.
func (p *Processor) promoteValidated(q *TaskQueue, nowMs int64) error {
	for {
		next := q.promoteNext(nowMs)
		if next == nil {
			// Queue emptied; Running -> Idle.
			return nil
		}
		res, err := p.store.validateTask(next, ValidationOptions{})
		if err != nil {
			return err
		}
		applyValidation(next, res)
		if res.Valid {
			return nil
		}
		if !q.Config.DropOnError {
			q.IsRunning = false
			q.IsPaused = true
			q.PauseReason = "task " + next.ID + " failed validation: " + strings.Join(next.ValidationErrors, "; ")
			p.log.Warnf("queue paused: player=%s reason=%s", q.PlayerID, q.PauseReason)
			return nil
		}
		next.Failed = true
		next.LastError = strings.Join(next.ValidationErrors, "; ")
		next.LastErrorAt = nowMs
		q.Stats.TasksFailed++
		q.Stats.recompute()
		q.CurrentTask = nil
	}
}
