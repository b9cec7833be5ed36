// Package executor spawns the test-runner process on a pseudo-terminal and
// streams its combined output to the caller in arbitrary-sized chunks. Line
// reassembly is explicitly not this layer's job.
package executor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/unitwatch/unitwatch/internal/command"
)

// interruptGrace is how long Cancel waits before re-sending the interrupt.
// The first signal can be absorbed by the entry-point process while a test
// worker child stays alive.
const interruptGrace = 500 * time.Millisecond

// Logger interface for debug logging
type Logger interface {
	Debug(format string, args ...interface{})
	Error(format string, args ...interface{})
	Info(format string, args ...interface{})
}

// Engine is a long-lived process channel. One engine is reused across
// consecutive runs; serializing overlapping runs is the caller's
// responsibility.
type Engine struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	ptmx   *os.File
	busy   bool
	logger Logger
}

// NewEngine creates an idle engine.
func NewEngine(logger Logger) *Engine {
	return &Engine{logger: logger}
}

// Run starts the invocation attached to a pseudo-terminal, invokes onData
// for every output chunk as it arrives, and blocks until the process exits.
// onExit receives the exit code before Run returns. A spawn failure is
// returned without either callback firing. A run started while another is
// active is rejected; the engine tracks one process at a time.
func (e *Engine) Run(inv *command.Invocation, onData func([]byte), onExit func(code int)) error {
	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		return fmt.Errorf("failed to start %s: a run is already active", inv)
	}
	cmd := exec.Command(inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to spawn %s: %w", inv, err)
	}
	e.cmd = cmd
	e.ptmx = ptmx
	e.busy = true
	e.mu.Unlock()

	e.logger.Debug("spawned pid %d: %s", cmd.Process.Pid, inv)

	buf := make([]byte, 4096)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onData(chunk)
		}
		if err != nil {
			// Linux reports EIO on the master side once the child
			// exits; treat every read error as end of stream.
			break
		}
	}

	code := 0
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	e.mu.Lock()
	_ = ptmx.Close()
	e.cmd = nil
	e.ptmx = nil
	e.busy = false
	e.mu.Unlock()

	e.logger.Debug("pid %d exited with code %d", cmd.Process.Pid, code)
	onExit(code)
	return nil
}

// Cancel delivers an interrupt to the running process group, and repeats it
// once after a grace period if the process is still alive. It does not
// forcibly kill the channel.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	e.interrupt(pid)

	go func() {
		time.Sleep(interruptGrace)
		e.mu.Lock()
		still := e.cmd != nil && e.cmd.Process != nil && e.cmd.Process.Pid == pid
		e.mu.Unlock()
		if still {
			e.interrupt(pid)
		}
	}()
}

// Busy reports whether a run is currently in flight.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busy
}

// interrupt signals the whole process group; pty.Start places the child in
// its own session, so the negative pid reaches workers too.
func (e *Engine) interrupt(pid int) {
	if err := syscall.Kill(-pid, syscall.SIGINT); err != nil {
		e.logger.Debug("failed to interrupt pid %d: %v", pid, err)
	}
}
