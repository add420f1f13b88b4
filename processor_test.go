package questline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProcessor_PartialThenComplete(t *testing.T) {
	s, done := newTestStore(t, nil)
	defer done()
	ctx := context.Background()
	_, err := s.Create(ctx, "p1", QueueConfig{})
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityHarvesting, 10*time.Second, TaskID("t1"))
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityCrafting, 5*time.Second, TaskID("t2"))
	require.NoError(t, err)

	mux := NewRewardMux()
	mux.Handle(ActivityHarvesting, func(task *Task) ([]TaskReward, error) {
		return []TaskReward{{Type: "xp", Quantity: 25}, {Type: "item", Item: "ore", Quantity: 3}}, nil
	})
	p := NewProcessor(s, ProcessorConfig{Rewards: mux})

	q, err := p.Tick(ctx, "p1", 4*time.Second)
	require.NoError(t, err)
	require.InDelta(t, 0.4, q.CurrentTask.Progress, 1e-9)
	require.False(t, q.CurrentTask.Completed)

	// The remaining 6s completes t1, grants rewards, and promotes t2.
	q, err = p.Tick(ctx, "p1", 6*time.Second)
	require.NoError(t, err)
	require.Equal(t, "t2", q.CurrentTask.ID)
	require.Equal(t, StateRunning, q.State())
	require.Equal(t, int64(1), q.Stats.TasksCompleted)
	require.Equal(t, int64(25), q.Stats.RewardsEarned["xp"])
	require.Equal(t, int64(3), q.Stats.RewardsEarned["item:ore"])
	require.Equal(t, int64(10_000), q.Stats.TotalTimeSpentMs)
}

func TestProcessor_ExcessElapsedDiscarded(t *testing.T) {
	s, done := newTestStore(t, nil)
	defer done()
	ctx := context.Background()
	_, err := s.Create(ctx, "p1", QueueConfig{})
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityHarvesting, 2*time.Second, TaskID("t1"))
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityHarvesting, 10*time.Second, TaskID("t2"))
	require.NoError(t, err)

	p := NewProcessor(s, ProcessorConfig{})
	// One huge tick finishes t1; the overshoot does not bleed into t2.
	q, err := p.Tick(ctx, "p1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "t2", q.CurrentTask.ID)
	require.Equal(t, 0.0, q.CurrentTask.Progress)
}

func TestProcessor_FloatAccumulationCompletes(t *testing.T) {
	s, done := newTestStore(t, nil)
	defer done()
	ctx := context.Background()
	_, err := s.Create(ctx, "p1", QueueConfig{})
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityHarvesting, time.Second, TaskID("t1"))
	require.NoError(t, err)

	p := NewProcessor(s, ProcessorConfig{})
	// Ten 100ms ticks accumulate 10 × 0.1, which is not exactly 1.0 in
	// floating point. The epsilon in the completion check must still fire.
	var q *TaskQueue
	for i := 0; i < 10; i++ {
		q, err = p.Tick(ctx, "p1", 100*time.Millisecond)
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), q.Stats.TasksCompleted)
	require.Nil(t, q.CurrentTask)
	require.Equal(t, StateIdle, q.State())
}

func TestProcessor_TickNonRunningCommitsNothing(t *testing.T) {
	s, done := newTestStore(t, nil)
	defer done()
	ctx := context.Background()
	_, err := s.Create(ctx, "p1", QueueConfig{})
	require.NoError(t, err)

	p := NewProcessor(s, ProcessorConfig{})
	q, err := p.Tick(ctx, "p1", time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(0), q.Version)

	_, _, err = s.AddTask(ctx, "p1", ActivityHarvesting, 10*time.Second)
	require.NoError(t, err)
	_, err = s.Pause(ctx, "p1", "afk")
	require.NoError(t, err)
	before, err := s.Get(ctx, "p1")
	require.NoError(t, err)

	q, err = p.Tick(ctx, "p1", time.Second)
	require.NoError(t, err)
	require.Equal(t, before.Version, q.Version)
	require.Equal(t, before.CurrentTask.Progress, q.CurrentTask.Progress)
}

func TestProcessor_MidFlightFailureRetriesInPlace(t *testing.T) {
	// Provider loses the required resource after the task starts.
	rich := true
	provider := PlayerStateFunc(func(playerID string) (*PlayerState, error) {
		if rich {
			return &PlayerState{PlayerID: playerID, Resources: map[string]int64{"ore": 100}}, nil
		}
		return &PlayerState{PlayerID: playerID}, nil
	})
	s, done := newTestStore(t, provider)
	defer done()
	ctx := context.Background()
	_, err := s.Create(ctx, "p1", QueueConfig{})
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityCrafting, 10*time.Second, TaskID("t1"),
		MaxRetry(2),
		Requirements(ResourceRequirement{Resource: "ore", Quantity: 10}))
	require.NoError(t, err)

	rich = false
	p := NewProcessor(s, ProcessorConfig{})

	// Two retries in place, progress untouched.
	for i := 1; i <= 2; i++ {
		q, err := p.Tick(ctx, "p1", time.Second)
		require.NoError(t, err)
		require.Equal(t, "t1", q.CurrentTask.ID)
		require.Equal(t, i, q.CurrentTask.Retry)
		require.Equal(t, 0.0, q.CurrentTask.Progress)
		require.NotEmpty(t, q.CurrentTask.LastError)
	}

	// Budget exhausted: failed and dropped, queue goes idle.
	q, err := p.Tick(ctx, "p1", time.Second)
	require.NoError(t, err)
	require.Nil(t, q.CurrentTask)
	require.Equal(t, StateIdle, q.State())
	require.Equal(t, int64(1), q.Stats.TasksFailed)
	require.Equal(t, int64(2), q.Stats.TotalRetries)
}

func TestProcessor_RetryDisabledFailsImmediately(t *testing.T) {
	rich := true
	provider := PlayerStateFunc(func(playerID string) (*PlayerState, error) {
		if rich {
			return &PlayerState{PlayerID: playerID, Resources: map[string]int64{"ore": 100}}, nil
		}
		return &PlayerState{PlayerID: playerID}, nil
	})
	s, done := newTestStore(t, provider)
	defer done()
	ctx := context.Background()
	_, err := s.Create(ctx, "p1", QueueConfig{DisableRetry: true, DropOnError: true})
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityCrafting, 10*time.Second, TaskID("t1"),
		MaxRetry(5),
		Requirements(ResourceRequirement{Resource: "ore", Quantity: 10}))
	require.NoError(t, err)

	rich = false
	p := NewProcessor(s, ProcessorConfig{})
	q, err := p.Tick(ctx, "p1", time.Second)
	require.NoError(t, err)
	require.Nil(t, q.CurrentTask)
	require.Equal(t, int64(1), q.Stats.TasksFailed)
	require.Equal(t, int64(0), q.Stats.TotalRetries)
}

func TestProcessor_InvalidPromotedHeadPausesQueue(t *testing.T) {
	rich := true
	provider := PlayerStateFunc(func(playerID string) (*PlayerState, error) {
		if rich {
			return &PlayerState{PlayerID: playerID, Resources: map[string]int64{"ore": 100, "wood": 100}}, nil
		}
		// Ore survives, wood is gone: t1 still completes, t2 cannot start.
		return &PlayerState{PlayerID: playerID, Resources: map[string]int64{"ore": 100}}, nil
	})
	s, done := newTestStore(t, provider)
	defer done()
	ctx := context.Background()
	_, err := s.Create(ctx, "p1", QueueConfig{})
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityHarvesting, time.Second, TaskID("t1"),
		Requirements(ResourceRequirement{Resource: "ore", Quantity: 10}))
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityCrafting, time.Second, TaskID("t2"),
		Requirements(ResourceRequirement{Resource: "wood", Quantity: 10}))
	require.NoError(t, err)

	rich = false
	p := NewProcessor(s, ProcessorConfig{})
	q, err := p.Tick(ctx, "p1", time.Second)
	require.NoError(t, err)
	require.Equal(t, int64(1), q.Stats.TasksCompleted)
	require.Equal(t, StatePaused, q.State())
	require.Equal(t, "t2", q.CurrentTask.ID)
	require.Contains(t, q.PauseReason, "t2")
}

func TestProcessor_InvalidPromotedHeadDroppedWithDropOnError(t *testing.T) {
	rich := true
	provider := PlayerStateFunc(func(playerID string) (*PlayerState, error) {
		if rich {
			return &PlayerState{PlayerID: playerID, Resources: map[string]int64{"ore": 100, "wood": 100}}, nil
		}
		return &PlayerState{PlayerID: playerID, Resources: map[string]int64{"ore": 100}}, nil
	})
	s, done := newTestStore(t, provider)
	defer done()
	ctx := context.Background()
	_, err := s.Create(ctx, "p1", QueueConfig{DropOnError: true})
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityHarvesting, time.Second, TaskID("t1"),
		Requirements(ResourceRequirement{Resource: "ore", Quantity: 10}))
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityCrafting, time.Second, TaskID("t2"),
		Requirements(ResourceRequirement{Resource: "wood", Quantity: 10}))
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityHarvesting, time.Second, TaskID("t3"),
		Requirements(ResourceRequirement{Resource: "ore", Quantity: 10}))
	require.NoError(t, err)

	rich = false
	p := NewProcessor(s, ProcessorConfig{})
	// t1 completes, t2 is dropped as failed, t3 becomes current.
	q, err := p.Tick(ctx, "p1", time.Second)
	require.NoError(t, err)
	require.Equal(t, "t3", q.CurrentTask.ID)
	require.Equal(t, StateRunning, q.State())
	require.Equal(t, int64(1), q.Stats.TasksCompleted)
	require.Equal(t, int64(1), q.Stats.TasksFailed)
}

func TestProcessor_RewardErrorPausesAndRetriesAfterResume(t *testing.T) {
	s, done := newTestStore(t, nil)
	defer done()
	ctx := context.Background()
	_, err := s.Create(ctx, "p1", QueueConfig{})
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityHarvesting, time.Second, TaskID("t1"))
	require.NoError(t, err)

	broken := true
	p := NewProcessor(s, ProcessorConfig{Rewards: RewardFunc(func(task *Task) ([]TaskReward, error) {
		if broken {
			return nil, errors.New("reward service down")
		}
		return []TaskReward{{Type: "xp", Quantity: 10}}, nil
	})})

	q, err := p.Tick(ctx, "p1", time.Second)
	require.NoError(t, err)
	require.Equal(t, StatePaused, q.State())
	require.Contains(t, q.PauseReason, "reward calculation failed")
	require.False(t, q.CurrentTask.Completed)
	require.Equal(t, 1.0, q.CurrentTask.Progress)
	require.Equal(t, int64(0), q.Stats.TasksCompleted)

	// Once the calculator recovers, resume and the next tick completes it.
	broken = false
	_, err = s.Resume(ctx, "p1")
	require.NoError(t, err)
	q, err = p.Tick(ctx, "p1", 0)
	require.NoError(t, err)
	require.Equal(t, int64(1), q.Stats.TasksCompleted)
	require.Equal(t, int64(10), q.Stats.RewardsEarned["xp"])
}

func TestProcessor_RewardConservation(t *testing.T) {
	s, done := newTestStore(t, nil)
	defer done()
	ctx := context.Background()
	_, err := s.Create(ctx, "p1", QueueConfig{})
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		_, _, err := s.AddTask(ctx, "p1", ActivityHarvesting, time.Second, TaskID(id))
		require.NoError(t, err)
	}

	mux := NewRewardMux()
	mux.Handle(ActivityHarvesting, func(task *Task) ([]TaskReward, error) {
		return []TaskReward{{Type: "xp", Quantity: 7}}, nil
	})
	p := NewProcessor(s, ProcessorConfig{Rewards: mux})

	var q *TaskQueue
	for i := 0; i < 3; i++ {
		q, err = p.Tick(ctx, "p1", time.Second)
		require.NoError(t, err)
	}
	require.Equal(t, int64(3), q.Stats.TasksCompleted)

	// Stats totals equal the sum over completed tasks, nothing lost or
	// double-counted across commits.
	require.Equal(t, int64(21), q.Stats.RewardsEarned["xp"])
	require.Equal(t, 1.0, q.Stats.CompletionRate)
	require.Equal(t, 1.0, q.Stats.EfficiencyScore)
	require.Equal(t, int64(1000), q.Stats.AverageTaskDurationMs)
}
