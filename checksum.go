package questline

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// checksumDoc is the canonical serialization used for checksumming. It covers
// the persisted fields of the queue in a fixed field order and deliberately
// excludes Checksum itself, the snapshot history (snapshots embed checksums)
// and UpdatedAt (set after hashing).
type checksumDoc struct {
	PlayerID     string      `json:"player_id"`
	CurrentTask  *Task       `json:"current_task,omitempty"`
	QueuedTasks  []*Task     `json:"queued_tasks,omitempty"`
	IsRunning    bool        `json:"is_running"`
	IsPaused     bool        `json:"is_paused"`
	PauseReason  string      `json:"pause_reason,omitempty"`
	Stats        QueueStats  `json:"stats"`
	Config       QueueConfig `json:"config"`
	Version      int64       `json:"version"`
	CreatedAt    int64       `json:"created_at"`
	LastSyncedAt int64       `json:"last_synced_at,omitempty"`
}

// ComputeChecksum hashes the canonical serialization of the queue's mutable
// fields with xxhash and returns it as a lowercase hex string. The result is
// stable across persist/reload cycles for the same logical state.
func ComputeChecksum(q *TaskQueue) (string, error) {
	doc := checksumDoc{
		PlayerID:     q.PlayerID,
		CurrentTask:  q.CurrentTask,
		QueuedTasks:  q.QueuedTasks,
		IsRunning:    q.IsRunning,
		IsPaused:     q.IsPaused,
		PauseReason:  q.PauseReason,
		Stats:        q.Stats,
		Config:       q.Config,
		Version:      q.Version,
		CreatedAt:    q.CreatedAt,
		LastSyncedAt: q.LastSyncedAt,
	}
	// Stdlib json marshals map keys in sorted order, which keeps the
	// RewardsEarned block canonical.
	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(xxhash.Sum64(b), 16), nil
}

// VerifyChecksum recomputes the checksum and reports whether it matches the
// one stored on the queue.
func VerifyChecksum(q *TaskQueue) bool {
	sum, err := ComputeChecksum(q)
	if err != nil {
		return false
	}
	return sum == q.Checksum
}
