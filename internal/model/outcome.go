package model

import (
	"fmt"
	"strconv"
)

// NotExecutableToken is the literal written to a resume log for a job
// whose path was not a regular executable file.
const NotExecutableToken = "not_executable"

// OutcomeKind distinguishes the three terminal dispositions of a job.
type OutcomeKind int

const (
	// KindUnfinished means no outcome is known, the run was interrupted
	// before the job was dispatched or reaped.
	KindUnfinished OutcomeKind = iota
	// KindExited means a process ran and terminated with an exit code.
	KindExited
	// KindNotExecutable means no process was ever spawned for the path.
	KindNotExecutable
)

// Outcome is a tagged result of a job. Code is meaningful only for
// KindExited.
type Outcome struct {
	Kind OutcomeKind
	Code int
}

func Exited(code int) Outcome {
	return Outcome{Kind: KindExited, Code: code}
}

func NotExecutable() Outcome {
	return Outcome{Kind: KindNotExecutable}
}

func Unfinished() Outcome {
	return Outcome{Kind: KindUnfinished}
}

// Token renders the outcome the way the resume log stores it: the decimal
// exit code, the not_executable literal, or an empty string.
func (o Outcome) Token() string {
	switch o.Kind {
	case KindExited:
		return strconv.Itoa(o.Code)
	case KindNotExecutable:
		return NotExecutableToken
	default:
		return ""
	}
}

// Failed reports whether the outcome is known and is not a clean exit.
func (o Outcome) Failed() bool {
	switch o.Kind {
	case KindExited:
		return o.Code != 0
	case KindNotExecutable:
		return true
	default:
		return false
	}
}

func (o Outcome) String() string {
	switch o.Kind {
	case KindExited:
		return "exit code " + strconv.Itoa(o.Code)
	case KindNotExecutable:
		return "not executable"
	default:
		return "unfinished"
	}
}

// ParseOutcome converts a resume log token back to an Outcome.
func ParseOutcome(token string) (Outcome, error) {
	switch token {
	case "":
		return Unfinished(), nil
	case NotExecutableToken:
		return NotExecutable(), nil
	}
	code, err := strconv.Atoi(token)
	if err != nil {
		return Outcome{}, fmt.Errorf("outcome %q is not an exit code: %w", token, err)
	}
	if code < 0 {
		return Outcome{}, fmt.Errorf("outcome %q is a negative exit code", token)
	}
	return Exited(code), nil
}

// Entry is one (job, outcome) pair of an execution log.
type Entry struct {
	Path    string
	Outcome Outcome
}
