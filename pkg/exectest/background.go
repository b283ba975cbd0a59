// Package exectest runs helper subprocesses for the duration of a test.
package exectest

import (
	"bytes"
	"os/exec"
	"sync"
	"testing"
)

// Background supervises a command running alongside a test.
type Background struct {
	Cmd *exec.Cmd
	// Log command output through the test.
	Name      string
	LogStdout bool
	LogStderr bool

	tb      testing.TB
	wg      sync.WaitGroup
	done    chan struct{}
	errLock sync.Mutex
	err     error
}

// NewBackground prepares a command to run in the background of a test.
func NewBackground(tb testing.TB, cmd *exec.Cmd) *Background {
	return &Background{
		tb:   tb,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
}

// Start launches the process. The exec.Cmd must not be touched again until
// Close returns. Start can only be called once.
func (b *Background) Start() {
	prefix := b.Name
	if prefix != "" {
		prefix += ": "
	}
	if b.LogStdout {
		b.Cmd.Stdout = &lineLogger{tb: b.tb, prefix: prefix}
	}
	if b.LogStderr {
		b.Cmd.Stderr = &lineLogger{tb: b.tb, prefix: prefix}
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(b.done)
		err := b.Cmd.Run()
		b.errLock.Lock()
		b.err = err
		b.errLock.Unlock()
	}()
}

// Close kills the process if it is still running and waits for it to exit.
// It must be called before the test finishes and is idempotent.
func (b *Background) Close() {
	if b.Cmd.Process != nil {
		_ = b.Cmd.Process.Kill()
	}
	b.wg.Wait()
}

// Done returns a channel that closes when the command exits.
func (b *Background) Done() <-chan struct{} {
	return b.done
}

// Err returns the exit error of the command, if any.
func (b *Background) Err() error {
	b.errLock.Lock()
	defer b.errLock.Unlock()
	return b.err
}

// lineLogger forwards process output to the test log, one line at a time.
type lineLogger struct {
	tb     testing.TB
	prefix string
	buf    bytes.Buffer
}

func (l *lineLogger) Write(buf []byte) (int, error) {
	l.buf.Write(buf)
	for {
		line, err := l.buf.ReadBytes('\n')
		if err != nil {
			// Partial line, keep it buffered.
			l.buf.Write(line)
			break
		}
		trimmed := bytes.TrimRight(line, "\n")
		if len(trimmed) > 0 {
			l.tb.Log(l.prefix + string(trimmed))
		}
	}
	return len(buf), nil
}
