package questline

// RewardCalculator computes the reward batch for a completed task. The domain
// math behind it (harvesting yields, combat drops, crafting output) lives
// outside the engine; implementations are assumed pure and side-effect-free.
type RewardCalculator interface {
	CalculateRewards(task *Task) ([]TaskReward, error)
}

// RewardFunc is the function signature for computing rewards for one task.
type RewardFunc func(task *Task) ([]TaskReward, error)

// CalculateRewards implements RewardCalculator.
func (f RewardFunc) CalculateRewards(task *Task) ([]TaskReward, error) { return f(task) }

// RewardMiddleware wraps a RewardFunc to provide cross-cutting concerns
// (logging, seasonal multipliers, double-reward events).
type RewardMiddleware func(RewardFunc) RewardFunc

// RewardMux routes completed tasks to the calculator registered for their
// activity type.
type RewardMux struct {
	handlers    map[ActivityType]RewardFunc
	middlewares []RewardMiddleware
}

// NewRewardMux creates a new reward mux.
func NewRewardMux() *RewardMux {
	return &RewardMux{
		handlers:    make(map[ActivityType]RewardFunc),
		middlewares: []RewardMiddleware{},
	}
}

// Handle registers a calculator for a specific activity type.
func (m *RewardMux) Handle(activity ActivityType, fn RewardFunc) {
	m.handlers[activity] = fn
}

// Use adds middleware(s) to the mux. Middlewares are executed in the order they are added.
func (m *RewardMux) Use(mw RewardMiddleware) {
	m.middlewares = append(m.middlewares, mw)
}

// CalculateRewards routes the task to its activity's calculator, wrapped in
// the registered middlewares. It returns ErrNoCalculator when the activity
// has no handler.
func (m *RewardMux) CalculateRewards(task *Task) ([]TaskReward, error) {
	fn, ok := m.handlers[task.Activity]
	if !ok {
		return nil, ErrNoCalculator
	}
	for i := len(m.middlewares) - 1; i >= 0; i-- {
		fn = m.middlewares[i](fn)
	}
	return fn(task)
}
