// Package runner executes a batch of job executables with a bounded
// degree of parallelism on the local machine.
//
// The supervisor itself is a single driver goroutine which alternates
// between a non-blocking dispatch step and one blocking point: waiting
// for any child to exit. Completions are funneled from one watcher
// goroutine per child into a single channel, so they arrive in completion
// order, not submission order. An interactive interrupt can pause the
// whole running set, ask whether to quit and either resume or drain the
// pool, persisting a resume log for a later invocation.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/mhuen/ic3-processing/internal/discover"
	"github.com/mhuen/ic3-processing/internal/metrics"
	"github.com/mhuen/ic3-processing/internal/model"
	"github.com/mhuen/ic3-processing/internal/resume"
)

// ErrInterrupted reports that the user confirmed quitting: the running
// jobs were drained, progress was persisted, nothing else will run.
var ErrInterrupted = errors.New("run interrupted by user")

type completion struct {
	pid   int
	state *os.ProcessState
}

// Runner is the local execution supervisor. One Runner drives one Process
// call at a time.
type Runner struct {
	limit     int
	logDir    string
	runID     string
	collector *metrics.Collector
	confirm   ConfirmFunc
	echo      io.Writer
	exit      func(int)
	ints      *Coordinator

	completions chan completion

	// mu makes the run state readable for status snapshots, mutation
	// happens only on the driver goroutine.
	mu         sync.Mutex
	book       *book
	jobs       []string
	entries    []model.Entry
	finished   int
	maxRunning int
	draining   bool
}

func New(limit int) *Runner {
	if limit < 1 {
		limit = 1
	}
	return &Runner{
		limit:       limit,
		runID:       uuid.NewString(),
		confirm:     StdinConfirm,
		echo:        os.Stderr,
		exit:        os.Exit,
		ints:        NewCoordinator(),
		completions: make(chan completion, limit),
		book:        newBook(),
	}
}

// WithLogDir enables per-job output logs and the resume log in dir.
func (r *Runner) WithLogDir(dir string) *Runner {
	r.logDir = dir
	return r
}

func (r *Runner) WithMetrics(c *metrics.Collector) *Runner {
	r.collector = c
	return r
}

// WithConfirm replaces the interactive quit/retry prompt.
func (r *Runner) WithConfirm(f ConfirmFunc) *Runner {
	r.confirm = f
	return r
}

// WithEcho redirects the user-facing progress lines, default is stderr.
func (r *Runner) WithEcho(w io.Writer) *Runner {
	r.echo = w
	return r
}

// WithExitFunc replaces os.Exit for the forced-termination path.
// This method exists for unit testing only.
func (r *Runner) WithExitFunc(f func(int)) *Runner {
	r.exit = f
	return r
}

func (r *Runner) RunID() string {
	return r.runID
}

// Interrupts exposes the coordinator, tests use it to inject interrupts.
func (r *Runner) Interrupts() *Coordinator {
	return r.ints
}

// Process runs all jobs with at most the configured number of parallel
// child processes and returns one outcome per job, in completion order.
// A non-executable path or a failing job never aborts the batch. When a
// log directory is configured the resume log is stored on completion and
// on a confirmed interrupt; ErrInterrupted is returned in the latter case.
func (r *Runner) Process(ctx context.Context, jobs []string) ([]model.Entry, error) {
	r.mu.Lock()
	r.jobs = slices.Clone(jobs)
	r.entries = nil
	r.finished = 0
	r.maxRunning = 0
	r.draining = false
	r.mu.Unlock()

	r.ints.Install()
	defer r.ints.Restore()

	slog.InfoContext(ctx, "processing jobs", "count", len(jobs), "workers", r.limit)
	fmt.Fprintf(r.echo, "Processing %d jobs with max. %d parallel jobs!\n", len(jobs), r.limit)

	for _, job := range jobs {
		if err := r.submit(ctx, job); err != nil {
			return r.Entries(), err
		}
		for r.running() >= r.limit {
			if err := r.reapOne(ctx); err != nil {
				return r.Entries(), err
			}
		}
	}

	if r.running() > 0 {
		slog.InfoContext(ctx, "all jobs started, waiting for the last ones", "running", r.running())
	}
	for r.running() > 0 {
		if err := r.reapOne(ctx); err != nil {
			return r.Entries(), err
		}
	}

	entries := r.Entries()
	if r.logDir != "" {
		path, err := resume.WriteFile(r.logDir, jobs, entries)
		if err != nil {
			return entries, err
		}
		slog.DebugContext(ctx, "resume log stored", "path", path)
	}
	fmt.Fprintln(r.echo, "Finished!")
	return entries, nil
}

// submit launches one job, or records it as not executable without
// consuming a worker slot. It never blocks.
func (r *Runner) submit(ctx context.Context, job string) error {
	if !isExecutable(job) {
		fmt.Fprintf(r.echo, "%s is not executable! (Skipped)\n", job)
		slog.WarnContext(ctx, "job is not executable, skipped", "job", job)
		r.record(job, model.NotExecutable())
		if r.collector != nil {
			r.collector.RecordSkip()
		}
		return nil
	}

	var sink *os.File
	if r.logDir != "" {
		path := filepath.Join(r.logDir, discover.JobName(job)+".log")
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating job log %s: %w", path, err)
		}
		sink = f
	}

	cmd := exec.Command(job)
	cmd.Stdout = sink // nil discards the output
	cmd.Stderr = sink
	cmd.SysProcAttr = sysProcAttr()

	if err := cmd.Start(); err != nil {
		if sink != nil {
			_ = sink.Close()
		}
		// e.g. a bad interpreter line; no process was spawned
		fmt.Fprintf(r.echo, "%s is not executable! (Skipped)\n", job)
		slog.WarnContext(ctx, "job failed to start, skipped", "job", job, "error", err)
		r.record(job, model.NotExecutable())
		if r.collector != nil {
			r.collector.RecordSkip()
		}
		return nil
	}

	rj := &RunningJob{Path: job, PID: cmd.Process.Pid, cmd: cmd, sink: sink}
	r.mu.Lock()
	r.book.add(rj)
	if n := r.book.size(); n > r.maxRunning {
		r.maxRunning = n
	}
	running := r.book.size()
	maxRunning := r.maxRunning
	r.mu.Unlock()

	if r.collector != nil {
		r.collector.RecordDispatch()
		r.collector.SetRunning(running)
		r.collector.SetRunningMax(maxRunning)
	}
	slog.DebugContext(ctx, "job started", "job", job, "pid", rj.PID)

	// Funnel the exit into the single completion channel. cmd.Wait
	// retries interrupted waits internally, an asynchronous signal never
	// surfaces here as a spurious failure.
	go func() {
		_ = cmd.Wait()
		r.completions <- completion{pid: rj.PID, state: cmd.ProcessState}
	}()
	return nil
}

// reapOne blocks until any running child exits, an interrupt arrives or
// the context is cancelled. This is the only blocking point of the loop.
func (r *Runner) reapOne(ctx context.Context) error {
	select {
	case <-ctx.Done():
		r.signalAll(ctx, terminateProcess)
		return ctx.Err()
	case <-r.ints.C():
		return r.onInterrupt(ctx)
	case c := <-r.completions:
		r.finish(ctx, c)
		return nil
	}
}

func (r *Runner) finish(ctx context.Context, c completion) {
	r.mu.Lock()
	rj, ok := r.book.remove(c.pid)
	running := r.book.size()
	r.mu.Unlock()
	if !ok {
		slog.WarnContext(ctx, "reaped a pid with no job record", "pid", c.pid)
		return
	}
	if rj.sink != nil {
		_ = rj.sink.Close()
	}

	code := exitStatus(c.state)
	finished, total := r.record(rj.Path, model.Exited(code))
	if r.collector != nil {
		r.collector.RecordReap(code)
		r.collector.SetRunning(running)
	}

	fmt.Fprintf(r.echo, "%s finished with exit code %d (%d/%d)\n", rj.Path, code, finished, total)
	if code == 0 {
		slog.InfoContext(ctx, "job finished", "job", rj.Path, "exit_code", code)
	} else {
		slog.WarnContext(ctx, "job failed", "job", rj.Path, "exit_code", code)
	}
}

// onInterrupt implements the pause/confirm/resume-or-drain protocol.
func (r *Runner) onInterrupt(ctx context.Context) error {
	// Stop every running child first so no work proceeds while the user
	// decides.
	r.signalAll(ctx, stopProcess)
	quit := r.confirm("Really want to quit?")
	r.ints.Drain() // a Ctrl-C at the prompt counts as continue

	if !quit {
		fmt.Fprintln(r.echo, "Continuing!")
		r.signalAll(ctx, contProcess)
		return nil
	}
	return r.drain(ctx)
}

// drain lets the running set finish without admitting new jobs, persists
// the outcome table and reports ErrInterrupted. A second interrupt while
// draining terminates every child and exits with a failure status after a
// best-effort flush.
func (r *Runner) drain(ctx context.Context) error {
	r.mu.Lock()
	r.draining = true
	r.mu.Unlock()

	fmt.Fprintln(r.echo, "Waiting for running jobs to finish!")
	slog.InfoContext(ctx, "draining running jobs", "running", r.running())
	r.signalAll(ctx, contProcess)

	for r.running() > 0 {
		select {
		case c := <-r.completions:
			r.finish(ctx, c)
		case <-r.ints.C():
			slog.WarnContext(ctx, "second interrupt, terminating running jobs")
			r.signalAll(ctx, interruptProcess)
			r.flush(ctx)
			r.exit(1)
			return ErrInterrupted // reached only with an injected exit func
		}
	}

	r.flush(ctx)
	return ErrInterrupted
}

// flush stores the resume log with an empty outcome for every job which
// never reached a terminal state.
func (r *Runner) flush(ctx context.Context) {
	if r.logDir == "" {
		return
	}
	r.mu.Lock()
	jobs := slices.Clone(r.jobs)
	r.mu.Unlock()

	path, err := resume.WriteFile(r.logDir, jobs, r.Entries())
	if err != nil {
		slog.ErrorContext(ctx, "storing resume log failed", "error", err)
		return
	}
	slog.InfoContext(ctx, "resume log stored", "path", path)
}

func (r *Runner) signalAll(ctx context.Context, sig func(pid int) error) {
	r.mu.Lock()
	pids := r.book.pids()
	r.mu.Unlock()
	for _, pid := range pids {
		if err := sig(pid); err != nil {
			// the child may have exited in between
			slog.DebugContext(ctx, "signalling child failed", "pid", pid, "error", err)
		}
	}
}

func (r *Runner) record(job string, outcome model.Outcome) (finished, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, model.Entry{Path: job, Outcome: outcome})
	r.finished++
	return r.finished, len(r.jobs)
}

func (r *Runner) running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.book.size()
}

// Entries returns a copy of the outcomes recorded so far, in completion
// order.
func (r *Runner) Entries() []model.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

// Snapshot is a point-in-time view of a run, served by the status server.
type Snapshot struct {
	RunID      string   `json:"run_id"`
	Workers    int      `json:"workers"`
	Total      int      `json:"total"`
	Finished   int      `json:"finished"`
	Running    []string `json:"running"`
	MaxRunning int      `json:"max_running"`
	Draining   bool     `json:"draining"`
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	running := r.book.paths()
	slices.Sort(running)
	return Snapshot{
		RunID:      r.runID,
		Workers:    r.limit,
		Total:      len(r.jobs),
		Finished:   r.finished,
		Running:    running,
		MaxRunning: r.maxRunning,
		Draining:   r.draining,
	}
}

// isExecutable reports whether path is a regular file with at least one
// execute bit set.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	return info.Mode().Perm()&0o111 != 0
}
