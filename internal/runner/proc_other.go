//go:build !unix

package runner

import (
	"errors"
	"os"
	"syscall"
)

var errNoJobControl = errors.New("job control signals are not supported on this platform")

func sysProcAttr() *syscall.SysProcAttr {
	return nil
}

func stopProcess(int) error {
	return errNoJobControl
}

func contProcess(int) error {
	return errNoJobControl
}

func interruptProcess(int) error {
	return errNoJobControl
}

func terminateProcess(int) error {
	return errNoJobControl
}

func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	return state.ExitCode()
}
