// Package sandbox executes one check under one interpreter with a
// private working copy, a per-task timeout, and bounded output capture.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/SamHausmann/pymatrix/internal/runtimes"
)

// CheckKind is the category of validation a task performs.
type CheckKind string

const (
	// StyleCheck runs the style checker under the task's interpreter.
	StyleCheck CheckKind = "style"
	// TestSuite runs the test suite under the task's interpreter.
	TestSuite CheckKind = "test"
)

// Kinds returns the closed set of check kinds.
func Kinds() []CheckKind { return []CheckKind{StyleCheck, TestSuite} }

// Status classifies the outcome of one task.
type Status string

const (
	// Passed means the tool exited zero.
	Passed Status = "passed"
	// Failed means the tool ran and exited non-zero.
	Failed Status = "failed"
	// SkippedUnavailable means the runtime was not installed, so the
	// task was never executed.
	SkippedUnavailable Status = "skipped-unavailable"
	// ErroredInfrastructure means the task could not be executed to
	// completion: launch failure, timeout, or cancellation.
	ErroredInfrastructure Status = "errored-infrastructure"
)

// Task pairs one runtime with one check kind. Tasks are built by the
// dispatcher and consumed exactly once.
type Task struct {
	Runtime runtimes.Spec
	Kind    CheckKind
	Source  string        // source tree; each task works on a private copy
	Args    []string      // argv after the interpreter path
	Timeout time.Duration // wall-clock budget for the child process
}

// Outcome records the result of executing one task.
type Outcome struct {
	Runtime   string        `json:"runtime"`
	Kind      CheckKind     `json:"kind"`
	Status    Status        `json:"status"`
	ExitCode  int           `json:"exit_code"`
	Output    string        `json:"output,omitempty"` // combined stdout+stderr, bounded
	Truncated bool          `json:"truncated,omitempty"`
	Cause     string        `json:"cause,omitempty"` // set for infrastructure errors and skips
	Duration  time.Duration `json:"duration"`
}

// DefaultWaitDelay is the grace period between context cancellation
// and the process group being killed.
const DefaultWaitDelay = 5 * time.Second

// Sandbox runs tasks in isolation. Side effects are confined to a
// per-task working copy of the source tree, so concurrent tasks never
// see each other's intermediate files.
type Sandbox struct {
	MaxOutput int           // bytes of combined output kept per task
	WaitDelay time.Duration // grace before the process group is killed
}

// Run executes the task's external tool under the task's interpreter.
// Errors are folded into the outcome rather than returned: an
// infrastructure failure must not abort sibling tasks.
func (s *Sandbox) Run(ctx context.Context, task Task) Outcome {
	out := Outcome{Runtime: task.Runtime.ID(), Kind: task.Kind}
	start := time.Now()

	workdir, err := cloneTree(task.Source)
	if err != nil {
		out.Status = ErroredInfrastructure
		out.Cause = "preparing working copy: " + err.Error()
		out.Duration = time.Since(start)
		return out
	}
	defer os.RemoveAll(workdir)

	ctx, cancel := context.WithTimeout(ctx, task.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, task.Runtime.Path, task.Args...)
	cmd.Dir = workdir

	var buf bytes.Buffer
	w := &limitWriter{buf: &buf, limit: s.MaxOutput}
	cmd.Stdout = w
	cmd.Stderr = w

	// Interpreters fork helpers (test runners, compilers); kill the
	// whole process group on expiry so nothing is orphaned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = s.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultWaitDelay
	}

	runErr := cmd.Run()

	out.Duration = time.Since(start)
	out.Output = buf.String()
	out.Truncated = buf.Len() >= s.MaxOutput

	switch {
	case runErr == nil:
		out.Status = Passed
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		out.Status = ErroredInfrastructure
		out.Cause = "timeout after " + task.Timeout.String()
	case errors.Is(ctx.Err(), context.Canceled):
		out.Status = ErroredInfrastructure
		out.Cause = "cancelled"
	default:
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			out.Status = Failed
			out.ExitCode = exitErr.ExitCode()
		} else {
			// Interpreter could not be launched at all.
			out.Status = ErroredInfrastructure
			out.Cause = "launching " + task.Runtime.Path + ": " + runErr.Error()
		}
	}
	return out
}

// cloneTree copies the source tree into a fresh temp directory and
// returns its path. The caller removes it when the task finishes.
func cloneTree(source string) (string, error) {
	src, err := filepath.Abs(source)
	if err != nil {
		return "", err
	}
	dst, err := os.MkdirTemp("", "pymatrix-task-*")
	if err != nil {
		return "", err
	}

	err = filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			// Sockets, devices, symlinks: skip rather than fail.
			return nil
		}
		return copyFile(path, target, d)
	})
	if err != nil {
		os.RemoveAll(dst)
		return "", err
	}
	return dst, nil
}

func copyFile(src, dst string, d os.DirEntry) error {
	info, err := d.Info()
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// limitWriter writes up to limit bytes to buf, then silently discards
// the rest.
type limitWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Write only what fits, but report all bytes as consumed
		// to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
