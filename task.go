package questline

// ActivityType identifies the kind of work a task performs. The engine treats
// the payload behind it opaquely; the type is used to route reward calculation
// and to tag the payload union.
type ActivityType string

const (
	// ActivityHarvesting covers gathering tasks (mining, logging, fishing).
	ActivityHarvesting ActivityType = "harvesting"
	// ActivityCombat covers fight encounters.
	ActivityCombat ActivityType = "combat"
	// ActivityCrafting covers item production tasks.
	ActivityCrafting ActivityType = "crafting"
)

// AllActivities lists every valid activity type in a stable order.
var AllActivities = []ActivityType{ActivityHarvesting, ActivityCombat, ActivityCrafting}

// String returns the raw string value of the activity type.
func (a ActivityType) String() string { return string(a) }

// ParseActivity converts a string into an ActivityType, returning an error for
// unknown values.
func ParseActivity(s string) (ActivityType, error) {
	switch s {
	case string(ActivityHarvesting):
		return ActivityHarvesting, nil
	case string(ActivityCombat):
		return ActivityCombat, nil
	case string(ActivityCrafting):
		return ActivityCrafting, nil
	default:
		return "", ErrUnknownActivity
	}
}

// TaskPayload is the activity-specific data riding inside a task, modeled as a
// tagged union: Kind selects the variant, Data holds its raw JSON. The engine
// never interprets Data; only the reward calculator and the validator's
// prerequisite/requirement lists see inside it.
type TaskPayload struct {
	// Kind tags which activity variant Data encodes.
	Kind ActivityType `json:"kind"`
	// Data is the raw JSON for the variant.
	Data []byte `json:"data,omitempty"`
}

// TaskReward is one reward granted on task completion.
type TaskReward struct {
	// Type is the reward category (e.g. "xp", "gold", "item").
	Type string `json:"type"`
	// Item names the rewarded item when Type is an item grant.
	Item string `json:"item,omitempty"`
	// Quantity is the amount granted.
	Quantity int64 `json:"quantity"`
}

// PrereqKind classifies what a prerequisite checks against player state.
type PrereqKind string

const (
	PrereqLevel     PrereqKind = "level"
	PrereqSkill     PrereqKind = "skill"
	PrereqItem      PrereqKind = "item"
	PrereqActivity  PrereqKind = "activity"
	PrereqStat      PrereqKind = "stat"
	PrereqEquipment PrereqKind = "equipment"
)

// Prerequisite is one gating condition a task declares. Met is filled in per
// item during validation so partial failure stays diagnosable.
type Prerequisite struct {
	// Kind selects which player-state dimension is checked.
	Kind PrereqKind `json:"kind"`
	// Name identifies the skill, item, stat, activity or equipment slot.
	Name string `json:"name,omitempty"`
	// Threshold is the minimum level/value required (ignored for item and
	// equipment checks, which are presence checks).
	Threshold int64 `json:"threshold,omitempty"`
	// Met records the outcome of the last validation pass.
	Met bool `json:"met"`
}

// ResourceRequirement is one consumable cost a task declares.
type ResourceRequirement struct {
	// Resource names the consumable.
	Resource string `json:"resource"`
	// Quantity is the amount required.
	Quantity int64 `json:"quantity"`
	// Met records the outcome of the last validation pass.
	Met bool `json:"met"`
}

// Task represents one unit of player activity. It is serialized to JSON as
// part of the queue document stored in Redis.
type Task struct {
	// ID is the unique identifier for the task.
	ID string `json:"id"`
	// Activity is the task category, used to route reward calculation.
	Activity ActivityType `json:"activity"`
	// PlayerID is the owning player.
	PlayerID string `json:"player_id"`
	// Payload is the activity-specific data, opaque to the engine.
	Payload TaskPayload `json:"payload"`
	// Prerequisites are the gating conditions checked before enqueue and
	// before execution.
	Prerequisites []Prerequisite `json:"prerequisites,omitempty"`
	// Requirements are the consumable costs checked alongside prerequisites.
	Requirements []ResourceRequirement `json:"requirements,omitempty"`
	// DurationMs is the total wall-clock time the task takes to complete.
	DurationMs int64 `json:"duration_ms"`
	// Priority orders queued tasks: higher first, FIFO within equal priority.
	Priority int `json:"priority,omitempty"`
	// Progress is the completion fraction in [0,1]. It is monotonically
	// non-decreasing while the task is current.
	Progress float64 `json:"progress,omitempty"`
	// Completed is set when Progress reaches 1 and rewards are granted.
	Completed bool `json:"completed,omitempty"`
	// Failed is set when the task is dropped after retry exhaustion.
	Failed bool `json:"failed,omitempty"`
	// Rewards holds the reward batch granted on completion.
	Rewards []TaskReward `json:"rewards,omitempty"`
	// Retry is the current number of retry attempts made.
	Retry int `json:"retry,omitempty"`
	// MaxRetry is the maximum number of retries before the task is dropped.
	MaxRetry int `json:"max_retry,omitempty"`
	// Valid is the outcome of the last validation pass.
	Valid bool `json:"valid"`
	// ValidationErrors lists blocking problems from the last validation pass.
	ValidationErrors []string `json:"validation_errors,omitempty"`
	// CreatedAt is the timestamp (ms) when the task was enqueued.
	CreatedAt int64 `json:"created_at,omitempty"`
	// StartedAt is the timestamp (ms) when the task became current.
	StartedAt int64 `json:"started_at,omitempty"`
	// CompletedAt is the timestamp (ms) when the task finished.
	CompletedAt int64 `json:"completed_at,omitempty"`
	// LastError is the message from the last failed validation or retry.
	LastError string `json:"last_error,omitempty"`
	// LastErrorAt is the timestamp (ms) of the last failure.
	LastErrorAt int64 `json:"last_error_at,omitempty"`
}

// Clone returns a deep copy of the task. Slices are copied so mutating the
// clone never aliases the original.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.Payload.Data != nil {
		c.Payload.Data = append([]byte(nil), t.Payload.Data...)
	}
	if t.Prerequisites != nil {
		c.Prerequisites = append([]Prerequisite(nil), t.Prerequisites...)
	}
	if t.Requirements != nil {
		c.Requirements = append([]ResourceRequirement(nil), t.Requirements...)
	}
	if t.Rewards != nil {
		c.Rewards = append([]TaskReward(nil), t.Rewards...)
	}
	if t.ValidationErrors != nil {
		c.ValidationErrors = append([]string(nil), t.ValidationErrors...)
	}
	return &c
}
