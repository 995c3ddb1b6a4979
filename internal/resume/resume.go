// Package resume persists the outcome table of one processing run and
// reconstructs the job list for a later invocation.
//
// The format is one line per job, `<path>;<outcome>`, where outcome is the
// decimal exit code, the not_executable literal, or empty for a job which
// never reached a terminal state. Lines follow the original submission
// order.
package resume

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mhuen/ic3-processing/internal/model"
)

// FileName is the name of the resume log inside the log directory.
const FileName = "resume.txt"

// ErrMalformed is returned by Parse when a line does not have exactly
// two `;` separated fields. A malformed file cannot be resumed at all.
var ErrMalformed = errors.New("malformed resume line")

// Write emits one line per descriptor in jobs, in that order. Outcomes are
// looked up in entries, descriptors without an entry are written as
// unfinished.
func Write(w io.Writer, jobs []string, entries []model.Entry) error {
	outcomes := make(map[string]model.Outcome, len(entries))
	for _, e := range entries {
		if _, ok := outcomes[e.Path]; !ok {
			outcomes[e.Path] = e.Outcome
		}
	}

	bw := bufio.NewWriter(w)
	for _, job := range jobs {
		outcome := outcomes[job] // zero value is unfinished
		if _, err := fmt.Fprintf(bw, "%s;%s\n", job, outcome.Token()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile stores the resume log in dir and returns its path.
func WriteFile(dir string, jobs []string, entries []model.Entry) (string, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating resume log: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if err := Write(f, jobs, entries); err != nil {
		return "", fmt.Errorf("writing resume log %s: %w", path, err)
	}
	return path, nil
}

// Parse reads a resume log back into (path, outcome) pairs. Any malformed
// line fails the whole file with ErrMalformed.
func Parse(r io.Reader) ([]model.Entry, error) {
	var entries []model.Entry
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ";")
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: line %d: %q", ErrMalformed, lineNo, line)
		}
		outcome, err := model.ParseOutcome(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, lineNo, err)
		}
		entries = append(entries, model.Entry{Path: fields[0], Outcome: outcome})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading resume log: %w", err)
	}
	return entries, nil
}

// ParseFile reads the resume log at path.
func ParseFile(path string) ([]model.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening resume log: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	return Parse(f)
}

// Select picks the jobs a resumed run should process. With retry the
// failed ones (recorded outcome present and not a clean exit), without it
// only the unfinished ones.
func Select(entries []model.Entry, retry bool) []string {
	var jobs []string
	for _, e := range entries {
		if retry {
			if e.Outcome.Kind != model.KindUnfinished && e.Outcome.Failed() {
				jobs = append(jobs, e.Path)
			}
		} else {
			if e.Outcome.Kind == model.KindUnfinished {
				jobs = append(jobs, e.Path)
			}
		}
	}
	return jobs
}
