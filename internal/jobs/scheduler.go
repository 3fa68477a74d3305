// Package jobs runs the scheduled background work: the history
// snapshotter, the market and portfolio valuations and the trading bot,
// all keyed off one minute counter persisted in the state store.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/nickelnine37/sportfolios-server/internal/alert"
	"github.com/nickelnine37/sportfolios-server/internal/state"
)

// Runner is one unit of scheduled work, keyed by the shared minute counter.
type Runner interface {
	Run(ctx context.Context, t int64) error
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(ctx context.Context, t int64) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, t int64) error { return f(ctx, t) }

// Always passes every tick.
func Always(int64) bool { return true }

// EveryAt returns a gate passing when t ≡ offset (mod period), in minutes.
func EveryAt(period, offset int64) func(int64) bool {
	return func(t int64) bool { return t%period == offset }
}

type job struct {
	name   string
	gate   func(t int64) bool
	jitter time.Duration
	run    Runner
}

// Scheduler drives the registered jobs on a fixed tick. The minute counter
// is read from the store at the start of each tick and advanced at the end
// whether or not jobs succeed, so one broken job cannot stall the clock.
// Failures and panics are logged and posted to the ops webhook.
type Scheduler struct {
	store  state.Store
	alerts *alert.Notifier
	logger *slog.Logger
	tick   time.Duration
	jobs   []job
	rng    *rand.Rand
	sleep  func(ctx context.Context, d time.Duration)
}

// NewScheduler returns a scheduler with no jobs registered.
func NewScheduler(store state.Store, alerts *alert.Notifier, tick time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		alerts: alerts,
		logger: logger.With("component", "scheduler"),
		tick:   tick,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepCtx,
	}
}

// Add registers a job. Jobs run sequentially in registration order on every
// tick whose counter passes their gate, each after a random delay of up to
// jitter.
func (s *Scheduler) Add(name string, jitter time.Duration, gate func(t int64) bool, r Runner) {
	s.jobs = append(s.jobs, job{name: name, gate: gate, jitter: jitter, run: r})
}

// Run blocks driving the job loop until ctx is cancelled. The first tick
// fires immediately so a restart does not wait out a full interval.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		s.runTick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	t, err := s.store.Minute(ctx)
	if err != nil {
		s.logger.Error("cannot read minute counter", "error", err)
		return
	}

	for _, j := range s.jobs {
		if ctx.Err() != nil {
			return
		}
		if !j.gate(t) {
			continue
		}
		s.runJob(ctx, j, t)
	}

	advance := int64(s.tick / time.Minute)
	if advance < 1 {
		advance = 1
	}
	if err := s.store.SetMinute(ctx, t+advance); err != nil {
		s.logger.Error("cannot advance minute counter", "error", err)
	}
}

func (s *Scheduler) runJob(ctx context.Context, j job, t int64) {
	if j.jitter > 0 {
		s.sleep(ctx, time.Duration(s.rng.Int63n(int64(j.jitter))))
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			s.logger.Error("job panicked", "job", j.name, "t", t, "error", err)
			s.alerts.JobFailure(ctx, j.name, err)
		}
	}()

	start := time.Now()
	if err := j.run.Run(ctx, t); err != nil {
		s.logger.Error("job failed", "job", j.name, "t", t, "error", err)
		s.alerts.JobFailure(ctx, j.name, err)
		return
	}
	s.logger.Debug("job complete", "job", j.name, "t", t, "took", time.Since(start))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
