package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"fizzbot/internal/metrics"
	logx "fizzbot/pkg/logx"
)

const DefaultRetryDelay = 5 * time.Minute

// Cycle runs one full query, compose and deliver pass.
type Cycle func(ctx context.Context) error

type Config struct {
	// RetryDelay follows a failed cycle.
	RetryDelay time.Duration
	// Success picks the wake time after a successful cycle.
	Success cron.Schedule
}

// Result describes one finished cycle and the wait chosen after it.
type Result struct {
	ID      string
	Started time.Time
	Took    time.Duration
	Err     error
	Wait    time.Duration
	NextAt  time.Time
}

func (r Result) OK() bool { return r.Err == nil }

type Loop struct {
	cfg   Config
	cycle Cycle
	log   logx.Logger

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	observe func(Result)
}

type Option func(*Loop)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithSleeper replaces the context-aware timer wait.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) {
		if fn != nil {
			l.sleep = fn
		}
	}
}

// WithObserver is called after every cycle, before the wait.
func WithObserver(fn func(Result)) Option {
	return func(l *Loop) { l.observe = fn }
}

func New(cfg Config, cycle Cycle, log logx.Logger, opts ...Option) (*Loop, error) {
	if cycle == nil {
		return nil, errors.New("scheduler: cycle required")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Success == nil {
		cfg.Success = Hourly()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Loop{
		cfg:   cfg,
		cycle: cycle,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Run repeats cycles until ctx is cancelled. Cycle failures never end the
// loop; the returned error is always the context's.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info("loop started", logx.Duration("retry_delay", l.cfg.RetryDelay))
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := l.RunOnce(ctx)
		if res.Wait <= 0 {
			continue
		}
		if err := l.sleep(ctx, res.Wait); err != nil {
			return err
		}
	}
}

// RunOnce runs a single cycle and decides the following wait.
func (l *Loop) RunOnce(ctx context.Context) Result {
	res := Result{ID: uuid.NewString(), Started: l.now()}
	log := l.log.With(logx.String("cycle", res.ID))

	res.Err = l.runCycle(ctx)
	end := l.now()
	res.Took = end.Sub(res.Started)
	metrics.CycleDuration.Observe(res.Took.Seconds())

	if res.Err == nil {
		res.Wait = UntilNext(l.cfg.Success, end)
		metrics.Cycles.WithLabelValues("success").Inc()
		log.Info("cycle done", logx.Duration("took", res.Took), logx.Duration("sleep", res.Wait))
	} else {
		res.Wait = l.cfg.RetryDelay
		metrics.Cycles.WithLabelValues("failure").Inc()
		if ctx.Err() != nil {
			log.Info("cycle interrupted", logx.Err(res.Err))
		} else {
			log.Error("cycle failed", logx.Err(res.Err), logx.Duration("took", res.Took), logx.Duration("retry_in", res.Wait))
		}
	}
	res.NextAt = end.Add(res.Wait)
	metrics.NextWakeTimestamp.Set(float64(res.NextAt.Unix()))

	if l.observe != nil {
		l.observe(res)
	}
	return res
}

// runCycle turns a panic into an ordinary cycle failure.
func (l *Loop) runCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("cycle panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return l.cycle(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
