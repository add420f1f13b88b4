package questline

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	ikeys "github.com/questline/questline-go/internal/keys"
	"github.com/redis/go-redis/v9"
)

// RepairActionType enumerates the repairs the guard knows how to apply.
type RepairActionType string

const (
	RepairRemoveDuplicate   RepairActionType = "remove_duplicate_task"
	RepairRemoveInvalid     RepairActionType = "remove_invalid_task"
	RepairClampProgress     RepairActionType = "clamp_progress"
	RepairFixFlags          RepairActionType = "fix_flags"
	RepairFixHistory        RepairActionType = "fix_history"
	RepairRecomputeStats    RepairActionType = "recompute_stats"
	RepairRecomputeChecksum RepairActionType = "recompute_checksum"
	RepairRestoreSnapshot   RepairActionType = "restore_snapshot"
)

// RepairAction is one proposed fix for a detected violation. Violations are
// never auto-corrected: ValidateIntegrity only proposes, Repair applies.
type RepairAction struct {
	Type   RepairActionType `json:"type"`
	TaskID string           `json:"task_id,omitempty"`
	Reason string           `json:"reason"`
}

// IntegrityReport is the outcome of one integrity validation pass. Ephemeral;
// always recomputable from the queue.
type IntegrityReport struct {
	// Valid is true when every invariant holds and the checksum matches.
	Valid bool `json:"valid"`
	// Score is 1.0 for a clean queue, reduced per violation, floored at 0.
	Score float64 `json:"score"`
	// Violations describes each failed invariant.
	Violations []string `json:"violations,omitempty"`
	// RepairActions are the fixes Repair would apply.
	RepairActions []RepairAction `json:"repair_actions,omitempty"`
}

// BackupInfo describes one immutable backup copy.
type BackupInfo struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	// Logger is used for guard events. Defaults to FmtLogger.
	Logger Logger
}

// Guard detects, repairs and backs up corrupted queue state. Backups are
// immutable copies retained independently of the live snapshot history; the
// admin support tooling is a pure consumer of this contract.
type Guard struct {
	store *Store
	log   Logger
}

// NewGuard creates a Guard over the given store.
func NewGuard(store *Store, cfg GuardConfig) *Guard {
	lg := cfg.Logger
	if lg == nil {
		lg = NewFmtLogger()
	}
	return &Guard{store: store, log: lg}
}

// ValidateIntegrity recomputes the checksum and checks the structural
// invariants: at most one current task, no duplicate ids, queued tasks never
// shadow the current task, bounded queue length, progress within [0,1] and a
// monotonic snapshot history. It proposes repair actions without applying any.
func (g *Guard) ValidateIntegrity(q *TaskQueue) *IntegrityReport {
	r := &IntegrityReport{}
	violate := func(action RepairAction, format string, args ...any) {
		r.Violations = append(r.Violations, fmt.Sprintf(format, args...))
		r.RepairActions = append(r.RepairActions, action)
	}

	if !VerifyChecksum(q) {
		violate(RepairAction{Type: RepairRecomputeChecksum, Reason: "stored checksum does not match recomputed value"},
			"checksum mismatch: stored=%s", q.Checksum)
	}
	if q.IsRunning && q.IsPaused {
		violate(RepairAction{Type: RepairFixFlags, Reason: "running and paused are mutually exclusive"},
			"queue is both running and paused")
	}
	if q.IsRunning && q.CurrentTask == nil {
		violate(RepairAction{Type: RepairFixFlags, Reason: "running with no current task"},
			"queue is running with no current task")
	}

	seen := map[string]bool{}
	if q.CurrentTask != nil {
		seen[q.CurrentTask.ID] = true
		checkTaskBounds(q.CurrentTask, "current", violate)
	}
	for _, t := range q.QueuedTasks {
		if seen[t.ID] {
			violate(RepairAction{Type: RepairRemoveDuplicate, TaskID: t.ID, Reason: "duplicate task id"},
				"duplicate task id %s", t.ID)
			continue
		}
		seen[t.ID] = true
		checkTaskBounds(t, "queued", violate)
		if t.Completed {
			violate(RepairAction{Type: RepairRemoveInvalid, TaskID: t.ID, Reason: "completed task still queued"},
				"completed task %s still queued", t.ID)
		}
	}
	if max := q.Config.MaxQueueSize; max > 0 && len(q.QueuedTasks) > max {
		violate(RepairAction{Type: RepairRemoveInvalid, Reason: fmt.Sprintf("queue length %d exceeds max %d", len(q.QueuedTasks), max)},
			"queue length %d exceeds max %d", len(q.QueuedTasks), max)
	}

	for i := 1; i < len(q.StateHistory); i++ {
		prev, cur := q.StateHistory[i-1], q.StateHistory[i]
		if cur.Version < prev.Version || cur.Timestamp < prev.Timestamp {
			violate(RepairAction{Type: RepairFixHistory, Reason: "snapshot history out of order"},
				"snapshot history out of order at index %d", i)
			break
		}
	}
	if len(q.StateHistory) > 0 {
		last := q.StateHistory[len(q.StateHistory)-1]
		if last.Version > q.Version {
			violate(RepairAction{Type: RepairFixHistory, Reason: "snapshot version ahead of queue version"},
				"snapshot version %d ahead of queue version %d", last.Version, q.Version)
		}
	}

	recomputed := q.Stats
	recomputed.recompute()
	if recomputed.CompletionRate != q.Stats.CompletionRate ||
		recomputed.AverageTaskDurationMs != q.Stats.AverageTaskDurationMs ||
		recomputed.EfficiencyScore != q.Stats.EfficiencyScore {
		violate(RepairAction{Type: RepairRecomputeStats, Reason: "derived statistics drifted from counters"},
			"derived statistics drifted from counters")
	}

	r.Score = 1.0 - 0.2*float64(len(r.Violations))
	if r.Score < 0 {
		r.Score = 0
	}
	r.Valid = len(r.Violations) == 0
	// Deep corruption: propose falling back to the last known-good snapshot.
	if r.Score < 0.5 && len(q.StateHistory) > 0 {
		r.RepairActions = append(r.RepairActions, RepairAction{
			Type: RepairRestoreSnapshot, Reason: "multiple invariants violated; reset to last snapshot",
		})
	}
	return r
}

func checkTaskBounds(t *Task, where string, violate func(RepairAction, string, ...any)) {
	if t.Progress < 0 || t.Progress > 1 {
		violate(RepairAction{Type: RepairClampProgress, TaskID: t.ID, Reason: "progress outside [0,1]"},
			"%s task %s progress %.3f outside [0,1]", where, t.ID, t.Progress)
	}
	if t.Completed && t.Progress != 1 {
		violate(RepairAction{Type: RepairClampProgress, TaskID: t.ID, Reason: "completed task with partial progress"},
			"%s task %s completed with progress %.3f", where, t.ID, t.Progress)
	}
}

// Repair applies the proposed actions through one AtomicUpdate and returns
// the repaired queue with the report that drove it. Repair is idempotent:
// a second call on an already-clean queue commits nothing.
func (g *Guard) Repair(ctx context.Context, playerID string) (*TaskQueue, *IntegrityReport, error) {
	var report *IntegrityReport
	q, err := g.store.AtomicUpdate(ctx, playerID, func(q *TaskQueue) error {
		report = g.ValidateIntegrity(q)
		if report.Valid {
			return ErrNoChange
		}
		g.applyRepairs(q, report.RepairActions)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if !report.Valid {
		g.log.Warnf("queue repaired: player=%s actor=%s violations=%d", playerID, actorOrUnknown(ctx), len(report.Violations))
	}
	return q, report, nil
}

func (g *Guard) applyRepairs(q *TaskQueue, actions []RepairAction) {
	restore := false
	for _, a := range actions {
		switch a.Type {
		case RepairRemoveDuplicate:
			removeQueuedDuplicates(q)
		case RepairRemoveInvalid:
			if a.TaskID != "" {
				if i := q.queuedIndex(a.TaskID); i >= 0 {
					q.QueuedTasks = append(q.QueuedTasks[:i], q.QueuedTasks[i+1:]...)
				}
			} else if max := q.Config.MaxQueueSize; max > 0 && len(q.QueuedTasks) > max {
				q.QueuedTasks = q.QueuedTasks[:max]
			}
		case RepairClampProgress:
			if t := q.FindTask(a.TaskID); t != nil {
				clampProgress(t)
			}
		case RepairFixFlags:
			if q.IsRunning && q.IsPaused {
				q.IsRunning = false
			}
			if q.IsRunning && q.CurrentTask == nil {
				q.IsRunning = false
			}
		case RepairFixHistory:
			sort.SliceStable(q.StateHistory, func(i, j int) bool {
				return q.StateHistory[i].Version < q.StateHistory[j].Version
			})
			for len(q.StateHistory) > 0 && q.StateHistory[len(q.StateHistory)-1].Version > q.Version {
				q.StateHistory = q.StateHistory[:len(q.StateHistory)-1]
			}
		case RepairRecomputeStats:
			q.Stats.recompute()
		case RepairRestoreSnapshot:
			restore = true
		case RepairRecomputeChecksum:
			// The store recomputes the checksum on every commit; nothing to
			// do here.
		}
	}
	// Last resort, applied after the targeted fixes so it only reconciles
	// what they could not.
	if restore && len(q.StateHistory) > 0 {
		restoreFromSnapshot(q, q.StateHistory[len(q.StateHistory)-1])
	}
}

func removeQueuedDuplicates(q *TaskQueue) {
	seen := map[string]bool{}
	if q.CurrentTask != nil {
		seen[q.CurrentTask.ID] = true
	}
	next := q.QueuedTasks[:0]
	for _, t := range q.QueuedTasks {
		if seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		next = append(next, t)
	}
	q.QueuedTasks = next
}

func clampProgress(t *Task) {
	if t.Progress < 0 {
		t.Progress = 0
	}
	if t.Progress > 1 {
		t.Progress = 1
	}
	if t.Completed && t.Progress != 1 {
		t.Completed = false
	}
}

// restoreFromSnapshot reconciles queue membership and flags against the last
// known-good snapshot. Snapshots carry ids, not task bodies, so tasks the
// snapshot does not know are dropped and missing ones stay missing.
func restoreFromSnapshot(q *TaskQueue, snap QueueSnapshot) {
	keep := map[string]bool{}
	for _, id := range snap.QueuedTaskIDs {
		keep[id] = true
	}
	next := q.QueuedTasks[:0]
	for _, t := range q.QueuedTasks {
		if keep[t.ID] {
			next = append(next, t)
		}
	}
	q.QueuedTasks = next
	if q.CurrentTask != nil && snap.CurrentTaskID != q.CurrentTask.ID {
		q.CurrentTask = nil
	}
	q.IsRunning = snap.IsRunning && q.CurrentTask != nil
	q.IsPaused = snap.IsPaused
}

// CreateBackup stores an immutable copy of the player's current queue document
// and returns its id. Backups live outside the snapshot ring and survive
// repairs and restores.
func (g *Guard) CreateBackup(ctx context.Context, playerID string) (string, error) {
	raw, err := g.store.rdb.Get(ctx, ikeys.Queue(playerID)).Bytes()
	if err == redis.Nil {
		return "", ErrQueueNotFound
	}
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	nowMs := g.store.now()
	_, err = g.store.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, ikeys.Backup(playerID, id), raw, 0)
		p.ZAdd(ctx, ikeys.Backups(playerID), redis.Z{Score: float64(nowMs), Member: id})
		return nil
	})
	if err != nil {
		return "", err
	}
	g.log.Infof("backup created: player=%s id=%s", playerID, id)
	return id, nil
}

// RestoreFromBackup replaces the live queue content with the backup's,
// committed through AtomicUpdate so versioning stays monotonic: the restored
// queue continues from the live version counter, not the backup's.
func (g *Guard) RestoreFromBackup(ctx context.Context, playerID, backupID string) (*TaskQueue, error) {
	raw, err := g.store.rdb.Get(ctx, ikeys.Backup(playerID, backupID)).Bytes()
	if err == redis.Nil {
		return nil, ErrBackupNotFound
	}
	if err != nil {
		return nil, err
	}
	var backup TaskQueue
	if err := g.store.enc.Decode(raw, &backup); err != nil {
		return nil, err
	}
	q, err := g.store.AtomicUpdate(ctx, playerID, func(q *TaskQueue) error {
		q.CurrentTask = backup.CurrentTask
		q.QueuedTasks = backup.QueuedTasks
		q.IsRunning = backup.IsRunning
		q.IsPaused = backup.IsPaused
		q.PauseReason = backup.PauseReason
		q.Stats = backup.Stats
		q.Config = backup.Config
		return nil
	})
	if err != nil {
		return nil, err
	}
	g.log.Warnf("queue restored from backup: player=%s backup=%s actor=%s", playerID, backupID, actorOrUnknown(ctx))
	return q, nil
}

// ListBackups returns the player's backups, oldest first.
func (g *Guard) ListBackups(ctx context.Context, playerID string) ([]BackupInfo, error) {
	zs, err := g.store.rdb.ZRangeWithScores(ctx, ikeys.Backups(playerID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]BackupInfo, 0, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		out = append(out, BackupInfo{ID: id, CreatedAt: int64(z.Score)})
	}
	return out, nil
}

// PruneBackups deletes the oldest backups beyond keep. It returns how many
// were removed.
func (g *Guard) PruneBackups(ctx context.Context, playerID string, keep int) (int, error) {
	infos, err := g.ListBackups(ctx, playerID)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(infos) <= keep {
		return 0, nil
	}
	victims := infos[:len(infos)-keep]
	_, err = g.store.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, b := range victims {
			p.Del(ctx, ikeys.Backup(playerID, b.ID))
			p.ZRem(ctx, ikeys.Backups(playerID), b.ID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(victims), nil
}
