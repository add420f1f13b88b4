// Package runtime drives the background tick loop: a scheduler fans
// registered players out to a bounded worker pool every interval, and each
// worker applies the paced elapsed delta through the tick callback.
package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/questline/questline-go/internal/worker"
)

// Logger is a minimal logging interface used internally by the runtime.
// It mirrors the public logger in the root package to avoid an import cycle.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any) {}
func (noopLogger) Infof(string, ...any)  {}
func (noopLogger) Warnf(string, ...any)  {}
func (noopLogger) Errorf(string, ...any) {}

// Ticker applies one elapsed interval to a player's queue.
type Ticker func(ctx context.Context, playerID string, elapsed time.Duration) error

// Config configures the runtime.
type Config struct {
	// Interval is the scheduling period. Defaults to one second.
	Interval time.Duration
	// Concurrency is the number of tick worker goroutines. Defaults to 4.
	Concurrency int
	Logger      Logger
}

// Runtime manages the registered player set and the tick goroutines.
type Runtime struct {
	cfg     Config
	tick    Ticker
	pacer   *worker.Pacer
	mu      sync.Mutex
	started bool
	players map[string]struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	log     Logger
}

// New creates a runtime that ticks registered players through the callback.
func New(cfg Config, tick Ticker) *Runtime {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	lg := cfg.Logger
	if lg == nil {
		lg = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		cfg:     cfg,
		tick:    tick,
		pacer:   worker.NewPacer(),
		players: make(map[string]struct{}),
		ctx:     ctx,
		cancel:  cancel,
		log:     lg,
	}
}

// Register adds a player to the tick set. Idempotent.
func (rt *Runtime) Register(playerID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.players[playerID] = struct{}{}
}

// Unregister removes a player from the tick set and drops its pacing mark so
// a later re-register does not tick the gap.
func (rt *Runtime) Unregister(playerID string) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.players, playerID)
	rt.pacer.Forget(playerID)
}

// Players returns a snapshot of the registered player ids.
func (rt *Runtime) Players() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]string, 0, len(rt.players))
	for p := range rt.players {
		out = append(out, p)
	}
	return out
}

// Start launches the scheduler and workers.
func (rt *Runtime) Start() {
	rt.mu.Lock()
	if rt.started {
		rt.log.Warnf("runtime already started; ignoring Start()")
		rt.mu.Unlock()
		return
	}
	rt.started = true
	rt.mu.Unlock()
	rt.log.Infof("runtime starting: concurrency=%d interval=%s", rt.cfg.Concurrency, rt.cfg.Interval)

	work := make(chan string)

	for i := 0; i < rt.cfg.Concurrency; i++ {
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			rt.workerLoop(work)
		}()
	}

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		defer close(work)
		ticker := time.NewTicker(rt.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-rt.ctx.Done():
				return
			case <-ticker.C:
				for _, p := range rt.Players() {
					select {
					case work <- p:
					case <-rt.ctx.Done():
						return
					}
				}
			}
		}
	}()
}

func (rt *Runtime) workerLoop(work <-chan string) {
	for playerID := range work {
		elapsed := rt.pacer.Elapsed(playerID)
		if elapsed <= 0 {
			continue
		}
		if err := rt.tick(rt.ctx, playerID, elapsed); err != nil {
			rt.log.Warnf("tick failed: player=%s elapsed=%s err=%v", playerID, elapsed, err)
		} else {
			rt.log.Debugf("ticked: player=%s elapsed=%s", playerID, elapsed)
		}
	}
}

// Stop cancels the internal context and waits for all goroutines to exit.
func (rt *Runtime) Stop() {
	rt.mu.Lock()
	if !rt.started {
		rt.log.Warnf("runtime not started; ignoring Stop()")
		rt.mu.Unlock()
		return
	}
	rt.started = false
	rt.mu.Unlock()
	rt.log.Infof("runtime stopping")

	rt.cancel()
	rt.wg.Wait()
}

// CfgConcurrency exposes configured worker concurrency.
func (rt *Runtime) CfgConcurrency() int { return rt.cfg.Concurrency }

// CfgInterval exposes the configured scheduling interval.
func (rt *Runtime) CfgInterval() time.Duration { return rt.cfg.Interval }
