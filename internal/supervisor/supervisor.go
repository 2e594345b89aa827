// Package supervisor starts the bridge's components as sibling tasks
// under one structured task group, restarting individual tasks on
// transient failure and tearing the whole group down on a programming
// error (spec.md §4.6).
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qolsysgw/panelgw/internal/errs"
	"github.com/qolsysgw/panelgw/pkg/panel"
)

// Task is one sibling under the task group.
type Task struct {
	// Name identifies the task in log lines.
	Name string
	// Run blocks until ctx is cancelled or a failure occurs. A nil
	// return or a context.Canceled-wrapping return is treated as a
	// clean shutdown; any other error triggers Restart policy.
	Run func(ctx context.Context) error
	// Restart, when true, causes a non-cancelled exit to be retried
	// with backoff rather than torn down. PanelLink.Run and
	// MqttTransport's connect loop set this; one-shot setup tasks
	// don't need to.
	Restart bool
}

// Supervisor runs a fixed set of Tasks under an errgroup, applying
// spec.md §4.6's restart-or-cancel policy.
type Supervisor struct {
	tasks   []Task
	backoff panel.BackoffSchedule
	logger  *slog.Logger
}

// New creates a Supervisor for tasks, using backoff between restarts
// of a task marked Restart.
func New(tasks []Task, backoff panel.BackoffSchedule, logger *slog.Logger) *Supervisor {
	return &Supervisor{tasks: tasks, backoff: backoff, logger: logger}
}

// Run starts every task and blocks until ctx is cancelled, a
// programming error (errs.Bug, or a task panic) escapes one of them,
// or a task not marked Restart fails; in the latter two cases it
// cancels the group and returns that error so the caller can exit
// non-zero.
func (s *Supervisor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, task := range s.tasks {
		task := task
		g.Go(func() error {
			return s.runTask(ctx, task)
		})
	}

	return g.Wait()
}

func (s *Supervisor) runTask(ctx context.Context, task Task) (escaped error) {
	defer func() {
		if r := recover(); r != nil {
			escaped = errs.NewBug(task.Name + " panicked: " + panicMessage(r))
		}
	}()

	attempt := 0
	for {
		start := time.Now()
		err := task.Run(ctx)

		if err == nil || errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return nil
		}

		var bug *errs.Bug
		if errors.As(err, &bug) {
			s.logger.Error("supervisor: programming error escaped task, cancelling group", "task", task.Name, "error", err)
			return err
		}

		if !task.Restart {
			s.logger.Error("supervisor: task exited and is not restartable", "task", task.Name, "error", err)
			return err
		}

		if time.Since(start) >= 30*time.Second {
			attempt = 0
		}
		delay := s.backoff.Next(attempt)
		attempt++

		s.logger.Warn("supervisor: task exited, restarting", "task", task.Name, "error", err, "backoff", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return "non-error panic value"
}
