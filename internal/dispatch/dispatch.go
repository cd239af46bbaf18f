// Package dispatch plans the runtime × check-kind matrix and executes
// it with bounded parallelism.
package dispatch

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gammazero/workerpool"

	"github.com/SamHausmann/pymatrix/internal/runtimes"
	"github.com/SamHausmann/pymatrix/internal/sandbox"
)

// Executor runs one task to completion. Implemented by *sandbox.Sandbox.
type Executor interface {
	Run(ctx context.Context, task sandbox.Task) sandbox.Outcome
}

// Dispatcher builds tasks from the probed runtime set and fans them
// out to the executor.
type Dispatcher struct {
	Exec      Executor
	Source    string        // source tree under test
	Timeout   time.Duration // per-task budget
	StyleArgs []string      // argv after the interpreter for style checks
	TestArgs  []string      // argv after the interpreter for test runs
	Log       *log.Logger
}

// Plan builds the full cross product of runtimes × check kinds.
// Unavailable runtimes are planned too; their tasks short-circuit in
// Dispatch so that every runtime appears in the report.
func (d *Dispatcher) Plan(specs []runtimes.Spec) []sandbox.Task {
	tasks := make([]sandbox.Task, 0, len(specs)*len(sandbox.Kinds()))
	for _, s := range specs {
		for _, kind := range sandbox.Kinds() {
			args := d.TestArgs
			if kind == sandbox.StyleCheck {
				args = d.StyleArgs
			}
			tasks = append(tasks, sandbox.Task{
				Runtime: s,
				Kind:    kind,
				Source:  d.Source,
				Args:    args,
				Timeout: d.Timeout,
			})
		}
	}
	return tasks
}

// Dispatch executes tasks with at most limit running at once and
// returns one outcome per task. Outcomes arrive in completion order;
// the aggregator is responsible for imposing a deterministic order.
//
// A single collector goroutine owns the outcome slice; workers only
// send on the channel. Cancellation stops queued tasks from starting
// (they yield cancelled outcomes) while in-flight tasks are terminated
// by the executor, so Dispatch always returns len(tasks) outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []sandbox.Task, limit int) []sandbox.Outcome {
	if limit < 1 {
		limit = 1
	}

	outcomes := make(chan sandbox.Outcome)
	collected := make([]sandbox.Outcome, 0, len(tasks))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for o := range outcomes {
			collected = append(collected, o)
		}
	}()

	wp := workerpool.New(limit)
	for _, task := range tasks {
		task := task
		wp.Submit(func() {
			outcomes <- d.runOne(ctx, task)
		})
	}
	wp.StopWait()
	close(outcomes)
	<-done

	return collected
}

func (d *Dispatcher) runOne(ctx context.Context, task sandbox.Task) sandbox.Outcome {
	if !task.Runtime.Available {
		d.Log.Debug("skipping unavailable runtime", "runtime", task.Runtime.ID(), "kind", task.Kind)
		return sandbox.Outcome{
			Runtime: task.Runtime.ID(),
			Kind:    task.Kind,
			Status:  sandbox.SkippedUnavailable,
			Cause:   "interpreter not installed",
		}
	}
	if ctx.Err() != nil {
		// Cancelled before this task started; never reaches the sandbox.
		return sandbox.Outcome{
			Runtime: task.Runtime.ID(),
			Kind:    task.Kind,
			Status:  sandbox.ErroredInfrastructure,
			Cause:   "cancelled before start",
		}
	}

	d.Log.Info("running", "runtime", task.Runtime.ID(), "kind", task.Kind)
	out := d.Exec.Run(ctx, task)
	d.Log.Info("finished", "runtime", out.Runtime, "kind", out.Kind, "status", out.Status, "duration", out.Duration)
	return out
}
