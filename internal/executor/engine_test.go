package executor

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unitwatch/unitwatch/internal/command"
	"github.com/unitwatch/unitwatch/internal/logger"
)

// chunkSink accumulates output chunks; the pty read loop delivers them from
// the Run goroutine, so access is serialized but kept locked for clarity.
type chunkSink struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (c *chunkSink) write(chunk []byte) {
	c.mu.Lock()
	c.buf.Write(chunk)
	c.mu.Unlock()
}

func (c *chunkSink) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func TestRunStreamsOutputAndExitCode(t *testing.T) {
	e := NewEngine(logger.NewTestLogger())
	sink := &chunkSink{}
	exitCode := -99

	inv := &command.Invocation{Argv: []string{"sh", "-c", "echo hello; echo world"}}
	err := e.Run(inv, sink.write, func(code int) { exitCode = code })
	require.NoError(t, err)

	assert.Equal(t, 0, exitCode)
	out := sink.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "world")
	assert.False(t, e.Busy())
}

func TestRunReportsNonZeroExit(t *testing.T) {
	e := NewEngine(logger.NewTestLogger())
	exitCode := -99

	inv := &command.Invocation{Argv: []string{"sh", "-c", "exit 3"}}
	err := e.Run(inv, func([]byte) {}, func(code int) { exitCode = code })
	require.NoError(t, err)
	assert.Equal(t, 3, exitCode)
}

func TestRunRespectsWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(logger.NewTestLogger())
	sink := &chunkSink{}

	inv := &command.Invocation{Argv: []string{"pwd"}, Dir: dir}
	err := e.Run(inv, sink.write, func(int) {})
	require.NoError(t, err)
	assert.Contains(t, sink.String(), dir)
}

func TestRunPassesEnvironment(t *testing.T) {
	e := NewEngine(logger.NewTestLogger())
	sink := &chunkSink{}

	inv := &command.Invocation{
		Argv: []string{"sh", "-c", "echo $UNITWATCH_TEST_VAR"},
		Env:  []string{"UNITWATCH_TEST_VAR=marker-value"},
	}
	err := e.Run(inv, sink.write, func(int) {})
	require.NoError(t, err)
	assert.Contains(t, sink.String(), "marker-value")
}

func TestSpawnFailureFiresNoCallbacks(t *testing.T) {
	e := NewEngine(logger.NewTestLogger())
	dataCalled := false
	exitCalled := false

	inv := &command.Invocation{Argv: []string{"/nonexistent/interpreter-xyz"}}
	err := e.Run(inv, func([]byte) { dataCalled = true }, func(int) { exitCalled = true })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to spawn")
	assert.False(t, dataCalled)
	assert.False(t, exitCalled)
	assert.False(t, e.Busy())
}

func TestCancelInterruptsRun(t *testing.T) {
	e := NewEngine(logger.NewTestLogger())
	exitCh := make(chan int, 1)

	go func() {
		inv := &command.Invocation{Argv: []string{"sleep", "30"}}
		_ = e.Run(inv, func([]byte) {}, func(code int) { exitCh <- code })
	}()

	deadline := time.Now().Add(3 * time.Second)
	for !e.Busy() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, e.Busy(), "process never started")

	e.Cancel()

	select {
	case code := <-exitCh:
		assert.NotEqual(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after cancel")
	}
	assert.False(t, e.Busy())
}

func TestRunRejectsOverlappingRun(t *testing.T) {
	e := NewEngine(logger.NewTestLogger())
	firstDone := make(chan struct{})

	go func() {
		inv := &command.Invocation{Argv: []string{"sleep", "30"}}
		_ = e.Run(inv, func([]byte) {}, func(int) {})
		close(firstDone)
	}()

	deadline := time.Now().Add(3 * time.Second)
	for !e.Busy() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, e.Busy(), "first process never started")

	err := e.Run(&command.Invocation{Argv: []string{"sh", "-c", "true"}}, func([]byte) {}, func(int) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already active")
	assert.True(t, e.Busy(), "rejected run must not disturb the active one")

	e.Cancel()
	select {
	case <-firstDone:
	case <-time.After(5 * time.Second):
		t.Fatal("first run did not exit after cancel")
	}
	assert.False(t, e.Busy())
}

func TestCancelWhenIdleIsNoop(t *testing.T) {
	e := NewEngine(logger.NewTestLogger())
	e.Cancel()
	assert.False(t, e.Busy())
}
