package questline

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// OpType identifies the kind of mutation an offline client recorded.
type OpType string

const (
	OpAddTask    OpType = "add_task"
	OpRemoveTask OpType = "remove_task"
	OpUpdateTask OpType = "update_task"
	OpReorder    OpType = "reorder"
	OpPause      OpType = "pause"
	OpResume     OpType = "resume"
	OpClear      OpType = "clear"
)

// OfflineOperation is a client-recorded mutation intent produced while
// disconnected. Operations are consumed exactly once by the reconciler and
// never mutated after creation except to flip Applied.
type OfflineOperation struct {
	// ID identifies the operation for audit.
	ID string `json:"id"`
	// Type is the recorded mutation kind.
	Type OpType `json:"type"`
	// TaskID targets remove/update operations.
	TaskID string `json:"task_id,omitempty"`
	// Task carries the full task for add/update operations.
	Task *Task `json:"task,omitempty"`
	// Order carries the id permutation for reorder operations.
	Order []string `json:"order,omitempty"`
	// Reason carries the pause reason for pause operations.
	Reason string `json:"reason,omitempty"`
	// LocalVersion orders operations within the client's offline session.
	LocalVersion int64 `json:"local_version"`
	// BaseVersion is the last server version the client saw before recording.
	BaseVersion int64 `json:"base_version"`
	// Timestamp is when the client recorded the operation (ms).
	Timestamp int64 `json:"ts,omitempty"`
	// Applied is flipped once the reconciler has consumed the operation.
	Applied bool `json:"applied,omitempty"`
}

// SyncBatch is the incoming unit from an offline client: its recorded
// operations plus version markers and a checksum over the operations.
type SyncBatch struct {
	PlayerID    string             `json:"player_id"`
	FromVersion int64              `json:"from_version"`
	ToVersion   int64              `json:"to_version"`
	Operations  []OfflineOperation `json:"operations"`
	Checksum    string             `json:"checksum,omitempty"`
}

// ComputeChecksum hashes the batch's operations (in local-version order) with
// xxhash, matching the queue checksum format.
func (b *SyncBatch) ComputeChecksum() (string, error) {
	ops := append([]OfflineOperation(nil), b.Operations...)
	sort.SliceStable(ops, func(i, j int) bool { return ops[i].LocalVersion < ops[j].LocalVersion })
	raw, err := json.Marshal(ops)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(xxhash.Sum64(raw), 16), nil
}

// ConflictPolicy selects how competing client/server mutations are resolved.
type ConflictPolicy string

const (
	// PolicyServerWins keeps the server value and discards the client intent.
	PolicyServerWins ConflictPolicy = "server_wins"
	// PolicyClientWins applies the client intent over the server value.
	PolicyClientWins ConflictPolicy = "client_wins"
	// PolicyMerge combines structurally-independent fields from both sides,
	// falling back to server_wins for anything that cannot be merged
	// unambiguously.
	PolicyMerge ConflictPolicy = "merge"
)

// ConflictType classifies what diverged.
type ConflictType string

const (
	ConflictTaskModified ConflictType = "task_modified"
	ConflictTaskAdded    ConflictType = "task_added"
	ConflictTaskRemoved  ConflictType = "task_removed"
	ConflictQueueState   ConflictType = "queue_state_changed"
)

// Conflict reports one detected divergence and how it was resolved. Conflicts
// are resolved automatically per policy but always reported, never silently
// dropped.
type Conflict struct {
	Type ConflictType `json:"type"`
	// TaskID is set for task-level conflicts.
	TaskID string `json:"task_id,omitempty"`
	// ClientValue and ServerValue are the competing sides.
	ClientValue any `json:"client_value,omitempty"`
	ServerValue any `json:"server_value,omitempty"`
	// Resolution is the policy actually applied (merge records server_wins
	// when it fell back).
	Resolution ConflictPolicy `json:"resolution"`
}

// SyncReport summarizes one reconciliation: the merged queue plus what was
// applied, skipped and conflicted.
type SyncReport struct {
	Queue       *TaskQueue `json:"queue"`
	Applied     int        `json:"applied"`
	Skipped     int        `json:"skipped"`
	Conflicts   []Conflict `json:"conflicts,omitempty"`
	FromVersion int64      `json:"from_version"`
	ToVersion   int64      `json:"to_version"`
}

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	// Logger is used for reconciliation events. Defaults to FmtLogger.
	Logger Logger
}

// Reconciler replays offline-generated operations against server state,
// detects conflicts, resolves them per policy and produces a merged queue.
// The whole replay commits as one AtomicUpdate: a single new version with the
// checksum recomputed once, not per operation.
type Reconciler struct {
	store *Store
	log   Logger
}

// NewReconciler creates a Reconciler over the given store.
func NewReconciler(store *Store, cfg ReconcilerConfig) *Reconciler {
	lg := cfg.Logger
	if lg == nil {
		lg = NewFmtLogger()
	}
	return &Reconciler{store: store, log: lg}
}

// Reconcile verifies the batch, replays its operations in local-version order
// and commits the merged queue. Every processed operation is consumed exactly
// once: its Applied flag is flipped whether it mutated the queue or resolved
// as a conflict, so replaying the same batch is a no-op. A batch that applies
// nothing commits nothing.
func (r *Reconciler) Reconcile(ctx context.Context, batch *SyncBatch, policy ConflictPolicy) (*SyncReport, error) {
	if batch.Checksum != "" {
		sum, err := batch.ComputeChecksum()
		if err != nil {
			return nil, err
		}
		if sum != batch.Checksum {
			return nil, ErrIntegrity
		}
	}

	order := make([]*OfflineOperation, len(batch.Operations))
	for i := range batch.Operations {
		order[i] = &batch.Operations[i]
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].LocalVersion < order[j].LocalVersion })

	var report *SyncReport
	var consumed []*OfflineOperation
	q, err := r.store.AtomicUpdate(ctx, batch.PlayerID, func(q *TaskQueue) error {
		// The transform may re-run after a CAS conflict; rebuild the report
		// from scratch each attempt.
		report = &SyncReport{FromVersion: q.Version}
		consumed = consumed[:0]
		// Targets resolved server_wins: later client ops against them are
		// skipped without generating additional conflicts. Targets the client
		// itself (re)wrote in this batch never conflict with themselves.
		pinned := make(map[string]bool)
		touched := make(map[string]bool)

		for _, op := range order {
			if op.Applied {
				report.Skipped++
				continue
			}
			if r.applyOp(q, op, policy, report, pinned, touched) {
				report.Applied++
			} else {
				report.Skipped++
			}
			// Consumed either way: a conflict-resolved or terminal no-op
			// operation must not replay as a fresh conflict next sync.
			consumed = append(consumed, op)
		}
		if report.Applied == 0 {
			// Nothing but bookkeeping would change; don't burn a version.
			return ErrNoChange
		}
		q.LastSyncedAt = r.store.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, op := range consumed {
		op.Applied = true
	}
	report.Queue = q
	report.ToVersion = q.Version
	r.log.Infof("reconciled: player=%s applied=%d skipped=%d conflicts=%d v%d->v%d",
		batch.PlayerID, report.Applied, report.Skipped, len(report.Conflicts), report.FromVersion, q.Version)
	return report, nil
}

// applyOp replays one operation. It returns true when the operation mutated
// the queue (including conflict resolutions in the client's favor).
func (r *Reconciler) applyOp(q *TaskQueue, op *OfflineOperation, policy ConflictPolicy, report *SyncReport, pinned, touched map[string]bool) bool {
	diverged := q.Version > op.BaseVersion

	switch op.Type {
	case OpAddTask:
		if op.Task == nil {
			return false
		}
		id := op.Task.ID
		if pinned[id] {
			return false
		}
		if existing := q.FindTask(id); existing != nil && !touched[id] {
			res := resolveTask(policy)
			report.Conflicts = append(report.Conflicts, Conflict{
				Type: ConflictTaskAdded, TaskID: id,
				ClientValue: op.Task, ServerValue: existing, Resolution: res,
			})
			switch res {
			case PolicyServerWins:
				pinned[id] = true
				return false
			case PolicyClientWins:
				replaceTask(q, op.Task.Clone())
				touched[id] = true
				return true
			default: // merge
				replaceTask(q, mergeTask(op.Task, existing))
				touched[id] = true
				return true
			}
		}
		if q.FindTask(id) != nil {
			// Touched earlier in this batch; treat as update.
			replaceTask(q, op.Task.Clone())
			return true
		}
		if len(q.QueuedTasks) >= q.Config.MaxQueueSize {
			// The server queue filled up while the client was offline; the add
			// cannot land, so surface it instead of truncating silently.
			report.Conflicts = append(report.Conflicts, Conflict{
				Type: ConflictTaskAdded, TaskID: id,
				ClientValue: op.Task, Resolution: PolicyServerWins,
			})
			r.log.Warnf("sync: dropping add for full queue: player=%s task=%s", q.PlayerID, id)
			return false
		}
		t := op.Task.Clone()
		if q.CurrentTask == nil && !q.IsPaused && !q.Config.ManualStart {
			q.CurrentTask = t
			q.IsRunning = true
		} else {
			q.insertQueued(t)
		}
		touched[id] = true
		return true

	case OpRemoveTask:
		if pinned[op.TaskID] {
			return false
		}
		if !q.HasTask(op.TaskID) {
			if diverged && !touched[op.TaskID] {
				report.Conflicts = append(report.Conflicts, Conflict{
					Type: ConflictTaskRemoved, TaskID: op.TaskID,
					ClientValue: op, Resolution: PolicyServerWins,
				})
			}
			return false
		}
		removeTaskByID(q, op.TaskID)
		touched[op.TaskID] = true
		return true

	case OpUpdateTask:
		if op.Task == nil {
			return false
		}
		id := op.Task.ID
		if pinned[id] {
			return false
		}
		existing := q.FindTask(id)
		if existing == nil {
			res := resolveTask(policy)
			report.Conflicts = append(report.Conflicts, Conflict{
				Type: ConflictTaskRemoved, TaskID: id,
				ClientValue: op.Task, Resolution: res,
			})
			if res == PolicyClientWins && len(q.QueuedTasks) < q.Config.MaxQueueSize {
				q.insertQueued(op.Task.Clone())
				touched[id] = true
				return true
			}
			pinned[id] = true
			return false
		}
		if diverged && !touched[id] {
			res := resolveTask(policy)
			report.Conflicts = append(report.Conflicts, Conflict{
				Type: ConflictTaskModified, TaskID: id,
				ClientValue: op.Task, ServerValue: existing, Resolution: res,
			})
			switch res {
			case PolicyServerWins:
				pinned[id] = true
				return false
			case PolicyClientWins:
				replaceTask(q, op.Task.Clone())
			default:
				replaceTask(q, mergeTask(op.Task, existing))
			}
			touched[id] = true
			return true
		}
		replaceTask(q, op.Task.Clone())
		touched[id] = true
		return true

	case OpReorder:
		if diverged {
			if err := reorderQueued(q, op.Order); err == nil {
				// The id set still matches; client ordering intent is
				// structurally independent of server-side accrual.
				return true
			}
			res := policy
			if policy == PolicyMerge || policy == PolicyClientWins {
				// Best effort: keep the client's relative order for ids that
				// survived, append the rest in server order.
				applyPartialOrder(q, op.Order)
				res = policy
			} else {
				res = PolicyServerWins
			}
			report.Conflicts = append(report.Conflicts, Conflict{
				Type: ConflictQueueState, ClientValue: op.Order, Resolution: res,
			})
			return res != PolicyServerWins
		}
		if err := reorderQueued(q, op.Order); err != nil {
			return false
		}
		return true

	case OpPause, OpResume, OpClear:
		if diverged && policy != PolicyClientWins {
			// Queue-state conflicts always resolve server_wins under merge.
			report.Conflicts = append(report.Conflicts, Conflict{
				Type: ConflictQueueState, ClientValue: string(op.Type),
				ServerValue: string(q.State()), Resolution: PolicyServerWins,
			})
			return false
		}
		switch op.Type {
		case OpPause:
			if q.State() != StateRunning {
				return false
			}
			q.IsRunning = false
			q.IsPaused = true
			q.PauseReason = op.Reason
		case OpResume:
			if q.State() != StatePaused {
				return false
			}
			q.IsPaused = false
			q.PauseReason = ""
			if q.CurrentTask == nil {
				q.promoteNext(r.store.now())
			}
			q.IsRunning = q.CurrentTask != nil
		case OpClear:
			q.CurrentTask = nil
			q.QueuedTasks = nil
			q.IsRunning = false
			q.IsPaused = false
			q.PauseReason = ""
		}
		return true
	}
	return false
}

// resolveTask maps the configured policy onto a task-level resolution.
func resolveTask(policy ConflictPolicy) ConflictPolicy {
	switch policy {
	case PolicyClientWins, PolicyMerge:
		return policy
	default:
		return PolicyServerWins
	}
}

// mergeTask combines the structurally-independent halves of a task conflict:
// server-side execution state (progress, completion, rewards, retry counters,
// timestamps) with client-side intent (priority). Everything else keeps the
// server value.
func mergeTask(client, server *Task) *Task {
	out := server.Clone()
	out.Priority = client.Priority
	return out
}

func replaceTask(q *TaskQueue, t *Task) {
	if q.CurrentTask != nil && q.CurrentTask.ID == t.ID {
		q.CurrentTask = t
		return
	}
	if i := q.queuedIndex(t.ID); i >= 0 {
		q.QueuedTasks[i] = t
		return
	}
	q.insertQueued(t)
}

func removeTaskByID(q *TaskQueue, id string) {
	if q.CurrentTask != nil && q.CurrentTask.ID == id {
		q.promoteNext(0)
		return
	}
	if i := q.queuedIndex(id); i >= 0 {
		q.QueuedTasks = append(q.QueuedTasks[:i], q.QueuedTasks[i+1:]...)
	}
}

// applyPartialOrder reorders the queued tasks to follow the client's id order
// for ids that still exist, keeping the remainder in server order at the tail.
func applyPartialOrder(q *TaskQueue, order []string) {
	seen := make(map[string]bool, len(order))
	next := make([]*Task, 0, len(q.QueuedTasks))
	for _, id := range order {
		if i := q.queuedIndex(id); i >= 0 && !seen[id] {
			next = append(next, q.QueuedTasks[i])
			seen[id] = true
		}
	}
	for _, t := range q.QueuedTasks {
		if !seen[t.ID] {
			next = append(next, t)
		}
	}
	q.QueuedTasks = next
}
