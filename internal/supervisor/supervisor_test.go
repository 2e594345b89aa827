package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qolsysgw/panelgw/internal/errs"
	"github.com/qolsysgw/panelgw/pkg/panel"
)

func fastBackoff() panel.BackoffSchedule {
	return panel.BackoffSchedule{Base: time.Millisecond, Factor: 1, Max: time.Millisecond, Jitter: 0}
}

func TestRunReturnsNilOnCleanCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	s := New([]Task{
		{Name: "a", Run: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }},
		{Name: "b", Run: func(ctx context.Context) error { <-ctx.Done(); return nil }},
	}, fastBackoff(), slog.Default())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRestartableTaskIsRetriedAfterFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls int32
	s := New([]Task{
		{
			Name:    "flaky",
			Restart: true,
			Run: func(ctx context.Context) error {
				n := atomic.AddInt32(&calls, 1)
				if n < 3 {
					return errors.New("transient failure")
				}
				<-ctx.Done()
				return ctx.Err()
			},
		},
	}, fastBackoff(), slog.Default())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && atomic.LoadInt32(&calls) < 3 {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt32(&calls); got < 3 {
		t.Fatalf("task only ran %d times, want at least 3", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestNonRestartableTaskFailureTearsDownGroup(t *testing.T) {
	s := New([]Task{
		{Name: "one-shot", Run: func(ctx context.Context) error { return errors.New("boom") }},
		{Name: "sibling", Run: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }},
	}, fastBackoff(), slog.Default())

	err := s.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to return the non-restartable task's error")
	}
}

func TestBugEscapeCancelsGroupAndIsReturned(t *testing.T) {
	s := New([]Task{
		{Name: "buggy", Run: func(ctx context.Context) error { return errs.NewBug("invariant broke") }},
		{Name: "sibling", Run: func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }},
	}, fastBackoff(), slog.Default())

	err := s.Run(context.Background())
	var bug *errs.Bug
	if !errors.As(err, &bug) {
		t.Fatalf("Run returned %v, want an *errs.Bug", err)
	}
}

func TestPanicInTaskIsConvertedToBug(t *testing.T) {
	s := New([]Task{
		{Name: "panicky", Run: func(ctx context.Context) error { panic("kaboom") }},
	}, fastBackoff(), slog.Default())

	err := s.Run(context.Background())
	var bug *errs.Bug
	if !errors.As(err, &bug) {
		t.Fatalf("Run returned %v, want an *errs.Bug", err)
	}
}
