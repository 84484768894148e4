// Package supervisor runs the process's long-lived goroutines (poll loop,
// debug server) under one cancellable context with panic recovery.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	logx "fizzbot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log logx.Logger

	firstErr atomic.Value // error
	errOnce  sync.Once
	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	mu    sync.Mutex
	tasks map[string]*taskStats
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// TaskStats is a best-effort view of one named task, for /healthz.
type TaskStats struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	Starts    uint64    `json:"starts"`
	Panics    uint64    `json:"panics"`
	LastStart time.Time `json:"last_start"`
	LastStop  time.Time `json:"last_stop,omitempty"`
	LastErr   string    `json:"last_err,omitempty"`
}

type Snapshot struct {
	FirstError string      `json:"first_error,omitempty"`
	Tasks      []TaskStats `json:"tasks"`
}

type taskStats struct {
	TaskStats
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
		tasks:  map[string]*taskStats{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Supervisor) Snapshot() Snapshot {
	var snap Snapshot
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.mu.Lock()
	for _, t := range s.tasks {
		snap.Tasks = append(snap.Tasks, t.TaskStats)
	}
	s.mu.Unlock()
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].Name < snap.Tasks[j].Name })
	return snap
}

// Go runs fn in a named goroutine. A panic is recovered and recorded as an
// error; context.Canceled is a clean exit.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.noteStart(name)
		s.log.Debug("task started", logx.String("task", name))

		err := s.runSafe(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			err = fmt.Errorf("%s: %w", name, err)
			s.fail(err)
		} else {
			err = nil
		}
		s.noteStop(name, err)
		s.log.Debug("task stopped", logx.String("task", name))
	}()
}

// GoRestart runs fn and restarts it after an error or panic, doubling the
// wait from minWait up to maxWait, until the context is cancelled. A clean return
// stops the task.
func (s *Supervisor) GoRestart(name string, minWait, maxWait time.Duration, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	if minWait <= 0 {
		minWait = 250 * time.Millisecond
	}
	if maxWait < minWait {
		maxWait = minWait
	}
	s.Go(name+".restart", func(ctx context.Context) error {
		wait := minWait
		for ctx.Err() == nil {
			s.noteStart(name)
			start := time.Now()
			err := s.runSafe(name, fn)
			if ctx.Err() != nil || err == nil || errors.Is(err, context.Canceled) {
				s.noteStop(name, nil)
				return nil
			}
			s.noteStop(name, err)

			if time.Since(start) >= 30*time.Second {
				wait = minWait
			}
			s.log.Warn("task restarting", logx.String("task", name), logx.Duration("backoff", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			wait *= 2
			if wait > maxWait {
				wait = maxWait
			}
		}
		return nil
	})
}

func (s *Supervisor) runSafe(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.task(name).Panics++
			s.mu.Unlock()
			s.log.Error("task panicked", logx.String("task", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// Stop cancels the shared context and waits for every task.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}

func (s *Supervisor) task(name string) *taskStats {
	t := s.tasks[name]
	if t == nil {
		t = &taskStats{TaskStats{Name: name}}
		s.tasks[name] = t
	}
	return t
}

func (s *Supervisor) noteStart(name string) {
	s.mu.Lock()
	t := s.task(name)
	t.Running = true
	t.Starts++
	t.LastStart = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) noteStop(name string, err error) {
	s.mu.Lock()
	t := s.task(name)
	t.Running = false
	t.LastStop = time.Now()
	if err != nil {
		t.LastErr = err.Error()
	}
	s.mu.Unlock()
}
