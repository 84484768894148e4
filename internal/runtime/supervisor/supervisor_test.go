package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoRecordsErrorWithoutCancelling(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	boom := errors.New("boom")

	s.Go("failing", func(ctx context.Context) error { return boom })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait = %v, want %v", err, boom)
	}
	if !strings.HasPrefix(err.Error(), "failing:") {
		t.Fatalf("err = %q, want task name prefix", err)
	}
	if s.Context().Err() != nil {
		t.Fatal("a task error must not cancel the shared context")
	}
}

func TestGoRecoversPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("panicky", func(ctx context.Context) error { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("Wait = %v, want panic error", err)
	}
	snap := s.Snapshot()
	if len(snap.Tasks) != 1 || snap.Tasks[0].Panics != 1 || snap.Tasks[0].Running {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestStopIsCleanOnCancel(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop = %v, want nil", err)
	}
}

func TestGoRestartRestartsUntilClean(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", time.Millisecond, 4*time.Millisecond, func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("first")
		case 2:
			panic("second")
		default:
			return nil
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait = %v", err)
	}
	if got := runs.Load(); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
	for _, ts := range s.Snapshot().Tasks {
		if ts.Name == "flaky" && (ts.Starts != 3 || ts.Panics != 1) {
			t.Fatalf("flaky stats = %+v", ts)
		}
	}
}
