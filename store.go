package questline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	ikeys "github.com/questline/questline-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

// defaultCASAttempts bounds optimistic-concurrency retries inside one
// AtomicUpdate call before ErrConcurrencyConflict surfaces to the caller.
const defaultCASAttempts = 3

// casScript commits a new queue document only if the version counter still
// holds the value the caller loaded. A non-empty ARGV[4] is appended to the
// audit trail in the same commit, so an audit record lands exactly when its
// mutation does. Returns 1 on commit, 0 on conflict.
var casScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then return 0 end
if cur ~= ARGV[1] then return 0 end
redis.call('SET', KEYS[1], ARGV[2])
redis.call('SET', KEYS[2], ARGV[3])
if ARGV[4] ~= '' then redis.call('LPUSH', KEYS[3], ARGV[4]) end
return 1
`)

// createScript initializes the version counter and document only if no queue
// exists for the player yet. Returns 1 on create, 0 if one already exists.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
return 1
`)

// StoreConfig configures a Store.
type StoreConfig struct {
	// Players supplies player snapshots for validation. Required.
	Players PlayerStateProvider
	// Encoder overrides the default JSONEncoder.
	Encoder Encoder
	// Logger is used for store events. Defaults to FmtLogger.
	Logger Logger
	// CASAttempts bounds optimistic-concurrency retries per AtomicUpdate.
	CASAttempts int
}

// Store owns the canonical per-player queue documents in Redis. AtomicUpdate
// is the only mutation primitive: every operation loads the current document,
// transforms it in memory and commits conditionally on the version counter
// (optimistic concurrency, no long-held locks).
type Store struct {
	rdb      redis.UniversalClient
	players  PlayerStateProvider
	enc      Encoder
	log      Logger
	attempts int
	now      func() int64
}

// NewStore creates a Store on top of the given Redis client.
func NewStore(rdb redis.UniversalClient, cfg StoreConfig) *Store {
	enc := cfg.Encoder
	if enc == nil {
		enc = &JSONEncoder{}
	}
	lg := cfg.Logger
	if lg == nil {
		lg = NewFmtLogger()
	}
	attempts := cfg.CASAttempts
	if attempts <= 0 {
		attempts = defaultCASAttempts
	}
	return &Store{
		rdb:      rdb,
		players:  cfg.Players,
		enc:      enc,
		log:      lg,
		attempts: attempts,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// Create initializes an empty queue document for the player at version 0.
// It returns ErrQueueExists when a document is already present.
func (s *Store) Create(ctx context.Context, playerID string, cfg QueueConfig) (*TaskQueue, error) {
	nowMs := s.now()
	q := &TaskQueue{
		PlayerID:  playerID,
		Config:    cfg.withDefaults(),
		CreatedAt: nowMs,
		UpdatedAt: nowMs,
	}
	sum, err := ComputeChecksum(q)
	if err != nil {
		return nil, err
	}
	q.Checksum = sum
	q.appendSnapshot(q.snapshot(nowMs))

	raw, err := s.enc.Encode(q)
	if err != nil {
		return nil, err
	}
	k := ikeys.For(playerID)
	res, err := createScript.Run(ctx, s.rdb, []string{k.Version, k.Queue}, "0", raw).Int()
	if err != nil {
		return nil, err
	}
	if res == 0 {
		return nil, ErrQueueExists
	}
	s.log.Debugf("queue created: player=%s", playerID)
	return q, nil
}

// Get loads the player's queue document. It returns ErrQueueNotFound when no
// document exists.
func (s *Store) Get(ctx context.Context, playerID string) (*TaskQueue, error) {
	raw, err := s.rdb.Get(ctx, ikeys.Queue(playerID)).Bytes()
	if err == redis.Nil {
		return nil, ErrQueueNotFound
	}
	if err != nil {
		return nil, err
	}
	var q TaskQueue
	if err := s.enc.Decode(raw, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// AtomicUpdate loads the current queue, applies transform in memory, bumps the
// version by exactly 1, recomputes the checksum, appends a snapshot and
// commits conditionally on the version counter. On a version race it reloads
// and re-runs transform, bounded by the configured attempt budget; exhaustion
// surfaces ErrConcurrencyConflict.
//
// A transform returning ErrNoChange aborts without committing; the loaded
// queue is returned unchanged. Any other transform error aborts the update
// and is returned as-is.
func (s *Store) AtomicUpdate(ctx context.Context, playerID string, transform func(*TaskQueue) error) (*TaskQueue, error) {
	return s.atomicUpdate(ctx, playerID, nil, transform)
}

// atomicUpdate is AtomicUpdate plus an optional audit payload that commits
// atomically with the document, so the record exists iff the mutation landed.
func (s *Store) atomicUpdate(ctx context.Context, playerID string, audit []byte, transform func(*TaskQueue) error) (*TaskQueue, error) {
	k := ikeys.For(playerID)
	for attempt := 0; attempt < s.attempts; attempt++ {
		q, err := s.Get(ctx, playerID)
		if err != nil {
			return nil, err
		}
		base := q.Version

		if err := transform(q); err != nil {
			if errors.Is(err, ErrNoChange) {
				return q, nil
			}
			return nil, err
		}

		nowMs := s.now()
		q.Version = base + 1
		q.UpdatedAt = nowMs
		sum, err := ComputeChecksum(q)
		if err != nil {
			return nil, err
		}
		q.Checksum = sum
		q.appendSnapshot(q.snapshot(nowMs))

		raw, err := s.enc.Encode(q)
		if err != nil {
			return nil, err
		}
		ok, err := casScript.Run(ctx, s.rdb, []string{k.Version, k.Queue, k.Audit},
			strconv.FormatInt(base, 10), strconv.FormatInt(q.Version, 10), raw, string(audit)).Int()
		if err != nil {
			return nil, err
		}
		if ok == 1 {
			return q, nil
		}
		s.log.Debugf("cas conflict: player=%s base=%d attempt=%d", playerID, base, attempt+1)
	}
	return nil, ErrConcurrencyConflict
}

// AddTask validates and enqueues a new task. The task is rejected with
// ErrQueueFull or ErrDurationLimit when it would exceed the configured bounds,
// with ErrDuplicateTask when the id is already present, and with
// ErrTaskInvalid when validation finds blocking errors and no bypass was
// requested. Unless ManualStart is configured, an idle queue starts running
// and the task becomes current immediately.
func (s *Store) AddTask(ctx context.Context, playerID string, activity ActivityType, duration time.Duration, opts ...AddOption) (*TaskQueue, *Task, error) {
	cfg := &addOptions{}
	for _, opt := range opts {
		opt(cfg)
	}
	id := cfg.id
	if id == "" {
		id = uuid.NewString()
	}
	nowMs := s.now()
	task := &Task{
		ID:            id,
		Activity:      activity,
		PlayerID:      playerID,
		Payload:       TaskPayload{Kind: activity, Data: cfg.payload},
		Prerequisites: cfg.prereqs,
		Requirements:  cfg.reqs,
		DurationMs:    duration.Milliseconds(),
		Priority:      cfg.priority,
		MaxRetry:      cfg.maxRetry,
		CreatedAt:     nowMs,
	}

	res, err := s.validateTask(task, cfg.valopts)
	if err != nil {
		return nil, nil, err
	}
	applyValidation(task, res)
	if !res.Valid {
		return nil, nil, fmt.Errorf("%w: %v", ErrTaskInvalid, task.ValidationErrors)
	}

	// A bypassed validation must leave an audit record, and only when the add
	// actually commits. The record rides through the CAS script with the
	// document so the two can never diverge.
	var audit []byte
	if res.Bypassed {
		rec := AuditRecord{
			ID:        uuid.NewString(),
			PlayerID:  playerID,
			Actor:     actorOrUnknown(ctx),
			Action:    "add_task",
			TaskID:    task.ID,
			Reason:    cfg.valopts.Reason,
			Timestamp: nowMs,
		}
		if audit, err = s.enc.Encode(rec); err != nil {
			return nil, nil, err
		}
	}

	q, err := s.atomicUpdate(ctx, playerID, audit, func(q *TaskQueue) error {
		if q.HasTask(task.ID) {
			return ErrDuplicateTask
		}
		if len(q.QueuedTasks) >= q.Config.MaxQueueSize {
			return ErrQueueFull
		}
		if q.TotalDurationMs()+task.DurationMs > q.Config.MaxTotalDurationMs {
			return ErrDurationLimit
		}
		if q.CurrentTask == nil && !q.IsPaused && !q.Config.ManualStart {
			task.StartedAt = s.now()
			q.CurrentTask = task
			q.IsRunning = true
			return nil
		}
		q.insertQueued(task)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if res.Bypassed {
		s.log.Warnf("validation bypassed: player=%s task=%s reason=%s actor=%s",
			playerID, task.ID, cfg.valopts.Reason, actorOrUnknown(ctx))
	}
	s.log.Debugf("task added: player=%s id=%s activity=%s", playerID, task.ID, activity)
	return q, task, nil
}

// RemoveTask removes a task by id. Removing the current task does not roll
// back accrued progress or rewards; the next queued task is promoted in its
// place.
func (s *Store) RemoveTask(ctx context.Context, playerID, taskID string) (*TaskQueue, error) {
	return s.AtomicUpdate(ctx, playerID, func(q *TaskQueue) error {
		if q.CurrentTask != nil && q.CurrentTask.ID == taskID {
			q.promoteNext(s.now())
			return nil
		}
		i := q.queuedIndex(taskID)
		if i < 0 {
			return ErrTaskNotFound
		}
		q.QueuedTasks = append(q.QueuedTasks[:i], q.QueuedTasks[i+1:]...)
		return nil
	})
}

// ReorderTasks rearranges the pending tasks into the given id order. The order
// must be a permutation of the currently queued ids; anything else is rejected
// with ErrReorderMismatch.
func (s *Store) ReorderTasks(ctx context.Context, playerID string, order []string) (*TaskQueue, error) {
	return s.AtomicUpdate(ctx, playerID, func(q *TaskQueue) error {
		return reorderQueued(q, order)
	})
}

func reorderQueued(q *TaskQueue, order []string) error {
	if len(order) != len(q.QueuedTasks) {
		return fmt.Errorf("%w: got %d ids, queue has %d", ErrReorderMismatch, len(order), len(q.QueuedTasks))
	}
	byID := make(map[string]*Task, len(q.QueuedTasks))
	for _, t := range q.QueuedTasks {
		byID[t.ID] = t
	}
	next := make([]*Task, 0, len(order))
	for _, id := range order {
		t, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: %s not queued", ErrReorderMismatch, id)
		}
		delete(byID, id)
		next = append(next, t)
	}
	q.QueuedTasks = next
	return nil
}

// ClearQueue drops the current task and every pending task. Statistics and
// history are retained; the queue goes idle.
func (s *Store) ClearQueue(ctx context.Context, playerID string) (*TaskQueue, error) {
	return s.AtomicUpdate(ctx, playerID, func(q *TaskQueue) error {
		q.CurrentTask = nil
		q.QueuedTasks = nil
		q.IsRunning = false
		q.IsPaused = false
		q.PauseReason = ""
		return nil
	})
}

// Pause transitions Running -> Paused and records the reason. The current
// task's progress is frozen, not reset. Pausing a queue that is not running
// fails with ErrNotRunning.
func (s *Store) Pause(ctx context.Context, playerID, reason string) (*TaskQueue, error) {
	return s.AtomicUpdate(ctx, playerID, func(q *TaskQueue) error {
		if q.State() != StateRunning {
			return ErrNotRunning
		}
		q.IsRunning = false
		q.IsPaused = true
		q.PauseReason = reason
		return nil
	})
}

// Resume transitions Paused -> Running. The current task is re-validated
// first; unresolved blocking errors fail the resume with ErrResumeBlocked so
// invalid work is never executed. A paused queue with nothing left goes idle.
func (s *Store) Resume(ctx context.Context, playerID string) (*TaskQueue, error) {
	return s.AtomicUpdate(ctx, playerID, func(q *TaskQueue) error {
		if q.State() != StatePaused {
			return ErrNotPaused
		}
		if q.CurrentTask != nil {
			res, err := s.validateTask(q.CurrentTask, ValidationOptions{})
			if err != nil {
				return err
			}
			applyValidation(q.CurrentTask, res)
			if !res.Valid {
				return fmt.Errorf("%w: %v", ErrResumeBlocked, q.CurrentTask.ValidationErrors)
			}
		}
		q.IsPaused = false
		q.PauseReason = ""
		if q.CurrentTask == nil {
			q.promoteNext(s.now())
		}
		q.IsRunning = q.CurrentTask != nil
		return nil
	})
}

// validateTask runs the validator against the configured player provider.
func (s *Store) validateTask(task *Task, opts ValidationOptions) (*ValidationResult, error) {
	var player *PlayerState
	if s.players != nil {
		var err error
		player, err = s.players.PlayerState(task.PlayerID)
		if err != nil {
			return nil, err
		}
	}
	return Validate(task, player, opts)
}

// AuditRecord is one immutable entry in the per-player audit trail. Records
// are append-only; the engine never trims or rewrites them.
type AuditRecord struct {
	ID        string       `json:"id"`
	PlayerID  string       `json:"player_id"`
	Actor     string       `json:"actor"`
	Action    string       `json:"action"`
	TaskID    string       `json:"task_id,omitempty"`
	Reason    BypassReason `json:"reason,omitempty"`
	Timestamp int64        `json:"ts"`
}

// AuditTrail returns up to limit most-recent audit records for the player.
// A limit of zero or less returns the whole trail.
func (s *Store) AuditTrail(ctx context.Context, playerID string, limit int64) ([]AuditRecord, error) {
	end := int64(-1)
	if limit > 0 {
		end = limit - 1
	}
	raws, err := s.rdb.LRange(ctx, ikeys.Audit(playerID), 0, end).Result()
	if err != nil {
		return nil, err
	}
	out := make([]AuditRecord, 0, len(raws))
	for _, raw := range raws {
		var rec AuditRecord
		if err := s.enc.Decode([]byte(raw), &rec); err == nil {
			out = append(out, rec)
		}
	}
	return out, nil
}
