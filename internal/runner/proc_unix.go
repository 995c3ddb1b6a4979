//go:build unix

package runner

import (
	"os"
	"syscall"
)

// sysProcAttr puts every child into its own process group, so a Ctrl-C on
// the terminal reaches the supervisor only and job control stays explicit.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func stopProcess(pid int) error {
	return syscall.Kill(pid, syscall.SIGSTOP)
}

func contProcess(pid int) error {
	return syscall.Kill(pid, syscall.SIGCONT)
}

func interruptProcess(pid int) error {
	return syscall.Kill(pid, syscall.SIGINT)
}

func terminateProcess(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// exitStatus maps a reaped process state to the code stored in the
// execution log. A signal-killed child is recorded as 128+signal, the
// shell convention, which keeps the persisted code a non-negative integer.
func exitStatus(state *os.ProcessState) int {
	if state == nil {
		return 1
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return state.ExitCode()
}
