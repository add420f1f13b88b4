package questline

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEngine_RegisterUnregister(t *testing.T) {
	s, done := newTestStore(t, nil)
	defer done()
	p := NewProcessor(s, ProcessorConfig{})
	e := NewEngine(p, EngineConfig{})

	e.Register("p1")
	e.Register("p2")
	e.Register("p1") // idempotent
	players := e.Players()
	sort.Strings(players)
	require.Equal(t, []string{"p1", "p2"}, players)

	e.Unregister("p1")
	require.Equal(t, []string{"p2"}, e.Players())
}

func TestEngine_StartStopIdempotent(t *testing.T) {
	s, done := newTestStore(t, nil)
	defer done()
	p := NewProcessor(s, ProcessorConfig{})
	e := NewEngine(p, EngineConfig{Interval: 10 * time.Millisecond})

	// Stop before Start is a no-op.
	e.Stop()
	e.Start()
	e.Start() // second Start ignored
	e.Stop()
	e.Stop() // second Stop ignored

	// A fresh engine over the same processor starts and stops cleanly.
	e2 := NewEngine(p, EngineConfig{Interval: 10 * time.Millisecond})
	e2.Start()
	e2.Stop()
}

func TestEngine_TicksRegisteredPlayerToCompletion(t *testing.T) {
	s, done := newTestStore(t, nil)
	defer done()
	ctx := context.Background()
	_, err := s.Create(ctx, "p1", QueueConfig{})
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityHarvesting, 100*time.Millisecond, TaskID("t1"))
	require.NoError(t, err)

	mux := NewRewardMux()
	mux.Handle(ActivityHarvesting, func(task *Task) ([]TaskReward, error) {
		return []TaskReward{{Type: "xp", Quantity: 5}}, nil
	})
	p := NewProcessor(s, ProcessorConfig{Rewards: mux})
	e := NewEngine(p, EngineConfig{Interval: 10 * time.Millisecond, Concurrency: 2})

	e.Register("p1")
	e.Start()
	defer e.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		q, err := s.Get(ctx, "p1")
		require.NoError(t, err)
		if q.Stats.TasksCompleted == 1 {
			require.Equal(t, StateIdle, q.State())
			require.Equal(t, int64(5), q.Stats.RewardsEarned["xp"])
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("task was not completed by the engine in time")
}

func TestEngine_UnregisteredPlayerDoesNotAccrue(t *testing.T) {
	s, done := newTestStore(t, nil)
	defer done()
	ctx := context.Background()
	_, err := s.Create(ctx, "p1", QueueConfig{})
	require.NoError(t, err)
	_, _, err = s.AddTask(ctx, "p1", ActivityHarvesting, time.Hour, TaskID("t1"))
	require.NoError(t, err)

	p := NewProcessor(s, ProcessorConfig{})
	e := NewEngine(p, EngineConfig{Interval: 10 * time.Millisecond})
	e.Start()
	defer e.Stop()

	time.Sleep(50 * time.Millisecond)
	q, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 0.0, q.CurrentTask.Progress)
}
