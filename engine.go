package questline

import (
	"context"
	"sync"
	"time"

	rtm "github.com/questline/questline-go/internal/runtime"
)

// EngineConfig defines the configuration for a background Engine.
type EngineConfig struct {
	// Interval is how often registered players are ticked. Defaults to 1s.
	Interval time.Duration
	// Concurrency is the number of tick worker goroutines.
	Concurrency int
	// Logger is the logger used for engine events.
	Logger Logger
}

// Engine ticks registered players' queues in the background. It is an
// explicit, constructed component with its own lifecycle: create it with
// NewEngine, Start it, Stop it on shutdown. There is no process-wide
// singleton; everything it needs is injected.
type Engine struct {
	rt      *rtm.Runtime
	mu      sync.Mutex
	started bool
	log     Logger
}

// NewEngine creates an engine that drives the given processor.
func NewEngine(proc *Processor, cfg EngineConfig) *Engine {
	l := cfg.Logger
	if l == nil {
		l = NewFmtLogger()
	}
	tick := func(ctx context.Context, playerID string, elapsed time.Duration) error {
		_, err := proc.Tick(ctx, playerID, elapsed)
		return err
	}
	rtc := rtm.Config{
		Interval:    cfg.Interval,
		Concurrency: cfg.Concurrency,
		Logger:      rtLogger{Logger: l},
	}
	return &Engine{rt: rtm.New(rtc, tick), log: l}
}

// Register adds a player to the background tick set. Idempotent.
func (e *Engine) Register(playerID string) { e.rt.Register(playerID) }

// Unregister removes a player from the background tick set. The player's
// queue keeps its state; it simply stops accruing progress until registered
// again (the offline half of the sync protocol).
func (e *Engine) Unregister(playerID string) { e.rt.Unregister(playerID) }

// Players returns a snapshot of the registered player ids.
func (e *Engine) Players() []string { return e.rt.Players() }

// Start launches the engine's tick workers. It is idempotent and non-blocking.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.started {
		e.log.Warnf("engine already started; ignoring Start()")
		e.mu.Unlock()
		return
	}
	e.started = true
	e.mu.Unlock()
	e.log.Infof("starting engine: concurrency=%d interval=%s", e.rt.CfgConcurrency(), e.rt.CfgInterval())
	e.rt.Start()
}

// Stop gracefully shuts down the engine, waiting for in-flight ticks to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.log.Warnf("engine not started; ignoring Stop()")
		e.mu.Unlock()
		return
	}
	e.started = false
	e.mu.Unlock()
	e.log.Infof("stopping engine")
	e.rt.Stop()
}

// rtLogger adapts the public Logger to the internal runtime logger interface.
type rtLogger struct{ Logger }
