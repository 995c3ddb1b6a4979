package runner

import (
	"os"
	"os/exec"
)

// RunningJob is one dispatched child process: the job it represents and
// the sink its combined output goes to. It lives from dispatch to reap and
// is owned by the book for that whole time.
type RunningJob struct {
	Path string
	PID  int

	cmd  *exec.Cmd
	sink *os.File // nil when logging is disabled
}

// book is the job record store, the single source of truth for what is
// currently running, keyed by process id. Only the driver goroutine
// mutates it, the runner's mutex makes it readable for status snapshots.
type book struct {
	records map[int]*RunningJob
}

func newBook() *book {
	return &book{records: make(map[int]*RunningJob)}
}

func (b *book) add(j *RunningJob) {
	b.records[j.PID] = j
}

func (b *book) remove(pid int) (*RunningJob, bool) {
	j, ok := b.records[pid]
	if ok {
		delete(b.records, pid)
	}
	return j, ok
}

func (b *book) size() int {
	return len(b.records)
}

func (b *book) pids() []int {
	pids := make([]int, 0, len(b.records))
	for pid := range b.records {
		pids = append(pids, pid)
	}
	return pids
}

func (b *book) paths() []string {
	paths := make([]string, 0, len(b.records))
	for _, j := range b.records {
		paths = append(paths, j.Path)
	}
	return paths
}
