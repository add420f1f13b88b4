package questline

import "errors"

// ErrQueueNotFound is returned when no queue document exists for the player.
var ErrQueueNotFound = errors.New("questline: queue not found")

// ErrQueueExists is returned when Create is called for a player that already
// has a queue document.
var ErrQueueExists = errors.New("questline: queue already exists")

// ErrQueueFull is returned when AddTask would exceed MaxQueueSize.
var ErrQueueFull = errors.New("questline: queue full")

// ErrDurationLimit is returned when AddTask would exceed MaxTotalDurationMs
// of committed work.
var ErrDurationLimit = errors.New("questline: total queue duration limit exceeded")

// ErrConcurrencyConflict is returned when an AtomicUpdate lost the version
// race more times than the configured retry budget. The caller may retry the
// whole operation against a fresh load.
var ErrConcurrencyConflict = errors.New("questline: concurrent update conflict")

// ErrResumeBlocked is returned when Resume is refused because the current task
// carries unresolved blocking validation errors.
var ErrResumeBlocked = errors.New("questline: resume blocked by validation errors")

// ErrNotPaused is returned when Resume is called on a queue that is not paused.
var ErrNotPaused = errors.New("questline: queue is not paused")

// ErrNotRunning is returned when Pause is called on a queue that is not running.
var ErrNotRunning = errors.New("questline: queue is not running")

// ErrTaskNotFound is returned when a task with the specified ID is not in the queue.
var ErrTaskNotFound = errors.New("questline: task not found")

// ErrDuplicateTask is returned when AddTask is called with an ID that already
// exists in the queue (queued or current).
var ErrDuplicateTask = errors.New("questline: duplicate task id")

// ErrTaskInvalid is returned when AddTask is refused because validation
// produced blocking errors and no bypass was requested.
var ErrTaskInvalid = errors.New("questline: task failed validation")

// ErrBypassReasonRequired is returned when a validation bypass is requested
// without a recorded reason. Bypass is never silent.
var ErrBypassReasonRequired = errors.New("questline: bypass requires a reason")

// ErrReorderMismatch is returned when ReorderTasks is given an id list that
// is not a permutation of the currently queued tasks.
var ErrReorderMismatch = errors.New("questline: reorder list does not match queued tasks")

// ErrUnknownState is returned when an invalid queue state is used.
var ErrUnknownState = errors.New("questline: unknown queue state")

// ErrUnknownActivity is returned when an invalid activity type is used.
var ErrUnknownActivity = errors.New("questline: unknown activity type")

// ErrNoChange may be returned by an AtomicUpdate transform to abort the update
// without committing a new version. The store returns the loaded queue and a
// nil error in that case.
var ErrNoChange = errors.New("questline: no change")

// ErrBackupNotFound is returned when RestoreFromBackup references an unknown
// backup id.
var ErrBackupNotFound = errors.New("questline: backup not found")

// ErrIntegrity is returned when a queue fails integrity validation and the
// caller required a clean state (e.g. batch checksum mismatch during sync).
var ErrIntegrity = errors.New("questline: integrity violation")

// ErrNoCalculator is returned when no reward calculator is registered for a
// completed task's activity type.
var ErrNoCalculator = errors.New("questline: no reward calculator for activity")
