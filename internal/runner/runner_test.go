package runner_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mhuen/ic3-processing/internal/model"
	"github.com/mhuen/ic3-processing/internal/resume"
	"github.com/mhuen/ic3-processing/internal/runner"
)

// writeScript stores an executable shell script and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

type processResult struct {
	entries []model.Entry
	err     error
}

// startProcess runs Process on its own goroutine so the test can inject
// interrupts while the driver loop is live.
func startProcess(r *runner.Runner, jobs []string) <-chan processResult {
	done := make(chan processResult, 1)
	go func() {
		entries, err := r.Process(context.Background(), jobs)
		done <- processResult{entries: entries, err: err}
	}()
	return done
}

func waitResult(t *testing.T, done <-chan processResult) processResult {
	t.Helper()
	select {
	case res := <-done:
		return res
	case <-time.After(30 * time.Second):
		t.Fatal("process did not finish in time")
		return processResult{}
	}
}

func outcomeFor(entries []model.Entry, path string) (model.Outcome, bool) {
	for _, e := range entries {
		if e.Path == path {
			return e.Outcome, true
		}
	}
	return model.Outcome{}, false
}

func TestProcessBatch(t *testing.T) {
	t.Parallel()
	requireShell(t)

	dir := t.TempDir()
	logDir := t.TempDir()
	jobs := []string{
		writeScript(t, dir, "job_1.sh", "exit 0"),
		writeScript(t, dir, "job_2.sh", "exit 0"),
		writeScript(t, dir, "job_3.sh", "exit 1"),
		writeScript(t, dir, "job_4.sh", "exit 0"),
		writeScript(t, dir, "job_5.sh", "exit 0"),
	}

	var echo bytes.Buffer
	r := runner.New(2).WithLogDir(logDir).WithEcho(&echo)
	entries, err := r.Process(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	for _, job := range jobs {
		outcome, ok := outcomeFor(entries, job)
		require.True(t, ok, "no outcome for %s", job)
		want := 0
		if job == jobs[2] {
			want = 1
		}
		require.Equal(t, model.Exited(want), outcome)
	}

	// the resume log lists every job in submission order
	parsed, err := resume.ParseFile(filepath.Join(logDir, resume.FileName))
	require.NoError(t, err)
	require.Len(t, parsed, 5)
	for i, e := range parsed {
		require.Equal(t, jobs[i], e.Path)
	}
	require.Equal(t, []string{jobs[2]}, resume.Select(parsed, true))
	require.Empty(t, resume.Select(parsed, false))

	require.Contains(t, echo.String(), "Processing 5 jobs with max. 2 parallel jobs!")
	require.Contains(t, echo.String(), "Finished!")
}

func TestProcessWritesJobLogs(t *testing.T) {
	t.Parallel()
	requireShell(t)

	dir := t.TempDir()
	logDir := t.TempDir()
	job := writeScript(t, dir, "chatty.sh", "echo out; echo err >&2")

	r := runner.New(1).WithLogDir(logDir).WithEcho(&bytes.Buffer{})
	_, err := r.Process(context.Background(), []string{job})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(logDir, "chatty.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "out")
	require.Contains(t, string(data), "err")
}

func TestProcessSkipsNonExecutable(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logDir := t.TempDir()
	job := filepath.Join(dir, "plain.sh")
	require.NoError(t, os.WriteFile(job, []byte("exit 0\n"), 0o644))

	var echo bytes.Buffer
	r := runner.New(2).WithLogDir(logDir).WithEcho(&echo)
	entries, err := r.Process(context.Background(), []string{job})
	require.NoError(t, err)
	require.Equal(t, []model.Entry{{Path: job, Outcome: model.NotExecutable()}}, entries)
	require.Contains(t, echo.String(), "is not executable! (Skipped)")

	// never dispatched, so no worker slot and no per-job log
	require.Zero(t, r.Snapshot().MaxRunning)
	_, err = os.Stat(filepath.Join(logDir, "plain.log"))
	require.True(t, os.IsNotExist(err))
}

func TestProcessBoundsParallelism(t *testing.T) {
	t.Parallel()
	requireShell(t)

	dir := t.TempDir()
	var jobs []string
	for _, name := range []string{"a.sh", "b.sh", "c.sh", "d.sh", "e.sh", "f.sh"} {
		jobs = append(jobs, writeScript(t, dir, name, "exec sleep 0.1"))
	}

	r := runner.New(2).WithEcho(&bytes.Buffer{})
	entries, err := r.Process(context.Background(), jobs)
	require.NoError(t, err)
	require.Len(t, entries, 6)

	snap := r.Snapshot()
	require.LessOrEqual(t, snap.MaxRunning, 2)
	require.Positive(t, snap.MaxRunning)
	require.Equal(t, 6, snap.Finished)
}

func TestInterruptDeclinedContinues(t *testing.T) {
	t.Parallel()
	requireShell(t)

	dir := t.TempDir()
	jobs := []string{
		writeScript(t, dir, "long.sh", "exec sleep 1"),
		writeScript(t, dir, "quick.sh", "exit 0"),
	}

	var asked atomic.Bool
	var echo bytes.Buffer
	r := runner.New(1).
		WithEcho(&echo).
		WithConfirm(func(string) bool {
			asked.Store(true)
			return false
		})

	done := startProcess(r, jobs)
	require.Eventually(t, func() bool {
		return len(r.Snapshot().Running) > 0
	}, 10*time.Second, 10*time.Millisecond)
	r.Interrupts().Trigger()

	res := waitResult(t, done)
	require.NoError(t, res.err)
	require.Len(t, res.entries, 2)
	require.True(t, asked.Load())
	require.Contains(t, echo.String(), "Continuing!")
}

func TestInterruptConfirmedDrains(t *testing.T) {
	t.Parallel()
	requireShell(t)

	dir := t.TempDir()
	logDir := t.TempDir()
	jobs := []string{
		writeScript(t, dir, "long.sh", "exec sleep 1"),
		writeScript(t, dir, "later_1.sh", "exit 0"),
		writeScript(t, dir, "later_2.sh", "exit 0"),
	}

	var echo bytes.Buffer
	r := runner.New(1).
		WithLogDir(logDir).
		WithEcho(&echo).
		WithConfirm(func(string) bool { return true })

	done := startProcess(r, jobs)
	require.Eventually(t, func() bool {
		return len(r.Snapshot().Running) > 0
	}, 10*time.Second, 10*time.Millisecond)
	r.Interrupts().Trigger()

	res := waitResult(t, done)
	require.ErrorIs(t, res.err, runner.ErrInterrupted)
	require.Contains(t, echo.String(), "Waiting for running jobs to finish!")

	// the running job was drained to completion, the rest never started
	outcome, ok := outcomeFor(res.entries, jobs[0])
	require.True(t, ok)
	require.Equal(t, model.Exited(0), outcome)

	parsed, err := resume.ParseFile(filepath.Join(logDir, resume.FileName))
	require.NoError(t, err)
	require.Len(t, parsed, 3)
	require.Equal(t, model.Exited(0), parsed[0].Outcome)
	require.Equal(t, model.Unfinished(), parsed[1].Outcome)
	require.Equal(t, model.Unfinished(), parsed[2].Outcome)
	require.Equal(t, []string{jobs[1], jobs[2]}, resume.Select(parsed, false))
}

func TestSecondInterruptTerminates(t *testing.T) {
	t.Parallel()
	requireShell(t)

	dir := t.TempDir()
	logDir := t.TempDir()
	jobs := []string{
		writeScript(t, dir, "stuck.sh", "exec sleep 30"),
		writeScript(t, dir, "pending.sh", "exit 0"),
	}

	var exitCode atomic.Int64
	exitCode.Store(-1)
	r := runner.New(1).
		WithLogDir(logDir).
		WithEcho(&bytes.Buffer{}).
		WithConfirm(func(string) bool { return true }).
		WithExitFunc(func(code int) { exitCode.Store(int64(code)) })

	done := startProcess(r, jobs)
	require.Eventually(t, func() bool {
		return len(r.Snapshot().Running) > 0
	}, 10*time.Second, 10*time.Millisecond)
	r.Interrupts().Trigger()

	require.Eventually(t, func() bool {
		return r.Snapshot().Draining
	}, 10*time.Second, 10*time.Millisecond)
	r.Interrupts().Trigger()

	res := waitResult(t, done)
	require.ErrorIs(t, res.err, runner.ErrInterrupted)
	require.Equal(t, int64(1), exitCode.Load())

	// the forced flush records every job as unfinished
	parsed, err := resume.ParseFile(filepath.Join(logDir, resume.FileName))
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	require.Equal(t, model.Unfinished(), parsed[0].Outcome)
	require.Equal(t, model.Unfinished(), parsed[1].Outcome)
}

func TestProcessCancelledContext(t *testing.T) {
	t.Parallel()
	requireShell(t)

	dir := t.TempDir()
	job := writeScript(t, dir, "stuck.sh", "exec sleep 30")

	r := runner.New(1).WithEcho(&bytes.Buffer{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan processResult, 1)
	go func() {
		entries, err := r.Process(ctx, []string{job})
		done <- processResult{entries: entries, err: err}
	}()
	require.Eventually(t, func() bool {
		return len(r.Snapshot().Running) > 0
	}, 10*time.Second, 10*time.Millisecond)
	cancel()

	res := waitResult(t, done)
	require.ErrorIs(t, res.err, context.Canceled)
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	r := runner.New(3)
	snap := r.Snapshot()
	require.Equal(t, r.RunID(), snap.RunID)
	require.Equal(t, 3, snap.Workers)
	require.Zero(t, snap.Total)
	require.Empty(t, snap.Running)
	require.False(t, snap.Draining)
}
