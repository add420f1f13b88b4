package questline

type addOptions struct {
	id       string
	priority int
	maxRetry int
	payload  []byte
	prereqs  []Prerequisite
	reqs     []ResourceRequirement
	valopts  ValidationOptions
}

// AddOption is a function that configures task behavior during AddTask.
type AddOption func(*addOptions)

// TaskID sets a custom ID for the task. If not provided, a random UUID will be generated.
func TaskID(id string) AddOption {
	return func(o *addOptions) {
		o.id = id
	}
}

// Priority sets the task's queue priority. Higher priorities are promoted
// first; tasks with equal priority stay FIFO.
func Priority(p int) AddOption {
	return func(o *addOptions) {
		o.priority = p
	}
}

// MaxRetry sets the maximum number of in-place retry attempts after a
// mid-flight validation failure.
func MaxRetry(n int) AddOption {
	return func(o *addOptions) {
		o.maxRetry = n
	}
}

// Payload attaches the raw activity-specific data for the task. The engine
// stores it opaquely under the task's activity tag.
func Payload(data []byte) AddOption {
	return func(o *addOptions) {
		o.payload = data
	}
}

// Prerequisites declares the gating conditions checked before enqueue and
// before execution.
func Prerequisites(ps ...Prerequisite) AddOption {
	return func(o *addOptions) {
		o.prereqs = ps
	}
}

// Requirements declares the consumable costs checked alongside prerequisites.
func Requirements(rs ...ResourceRequirement) AddOption {
	return func(o *addOptions) {
		o.reqs = rs
	}
}

// WithBypass requests a validation bypass with the given reason. The store
// refuses a bypass without a reason and writes an immutable audit record for
// every bypass it performs.
func WithBypass(reason BypassReason) AddOption {
	return func(o *addOptions) {
		o.valopts.Bypass = true
		o.valopts.Reason = reason
	}
}
