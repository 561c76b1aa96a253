// File: internal/session/process.go
package session

import (
	"fmt"
	"os/exec"
	"sync"
)

// driverProcess abstracts the spawned driver so tests can substitute a
// scriptable fake for a real chromedriver.
type driverProcess interface {
	// Alive reports whether the process is still running.
	Alive() bool
	// Kill force-terminates the process and releases its handle. Safe to
	// call more than once and after natural exit.
	Kill() error
	// Pid identifies the process for logging.
	Pid() int
}

// execProcess wraps an exec.Cmd and tracks its exit asynchronously.
type execProcess struct {
	cmd *exec.Cmd

	mu     sync.Mutex
	exited bool
	waited chan struct{}
}

// spawnDriver starts the driver binary with the given arguments.
func spawnDriver(binary string, args []string) (driverProcess, error) {
	cmd := exec.Command(binary, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to spawn driver process %q: %w", binary, err)
	}

	p := &execProcess{cmd: cmd, waited: make(chan struct{})}
	go func() {
		// Wait reaps the child; without it a dead driver stays a zombie and
		// Alive would keep reporting true.
		_ = cmd.Wait()
		p.mu.Lock()
		p.exited = true
		p.mu.Unlock()
		close(p.waited)
	}()
	return p, nil
}

func (p *execProcess) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

func (p *execProcess) Kill() error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return err
	}
	<-p.waited
	return nil
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}
