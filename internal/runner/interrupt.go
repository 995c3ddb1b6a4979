package runner

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
)

// Coordinator owns the interrupt delivery channel of a run. Install and
// Restore give the signal subscription an explicit lifecycle instead of a
// process-global handler.
type Coordinator struct {
	ch        chan os.Signal
	installed bool
}

func NewCoordinator() *Coordinator {
	// Capacity one: at most a single pending interrupt matters, repeats
	// before the loop reacts collapse into it.
	return &Coordinator{ch: make(chan os.Signal, 1)}
}

func (c *Coordinator) Install() {
	if c.installed {
		return
	}
	signal.Notify(c.ch, os.Interrupt)
	c.installed = true
}

func (c *Coordinator) Restore() {
	if !c.installed {
		return
	}
	signal.Stop(c.ch)
	c.installed = false
	c.Drain()
}

// C is the channel interrupts arrive on, consumed by the driver loop.
func (c *Coordinator) C() <-chan os.Signal {
	return c.ch
}

// Drain discards a pending interrupt, e.g. a Ctrl-C pressed while the
// quit prompt was already open.
func (c *Coordinator) Drain() {
	select {
	case <-c.ch:
	default:
	}
}

// Trigger injects an interrupt without involving the OS.
// This method exists for unit testing only.
func (c *Coordinator) Trigger() {
	select {
	case c.ch <- os.Interrupt:
	default:
	}
}

// ConfirmFunc answers an interactive yes/no question.
type ConfirmFunc func(prompt string) bool

// StdinConfirm prompts on stderr and reads the answer from stdin.
// Anything but y/yes counts as no.
func StdinConfirm(prompt string) bool {
	fmt.Fprintf(os.Stderr, "\n%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
