// Package ffmpeg runs ffmpeg child processes wired to pipes.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBinary = "ffmpeg"
	stderrTail    = 4096
	stopGrace     = 2 * time.Second
)

var ErrExited = errors.New("ffmpeg exited")

// Process is a running child. Stdout is fed through an in-memory pipe so a
// reader that stops early cannot wedge Wait.
type Process struct {
	name  string
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   *io.PipeReader
	tail  *tailBuffer

	done     chan struct{}
	err      error
	stopOnce sync.Once
}

// Start launches bin with args. When withStdin is false the child reads from /dev/null.
func Start(ctx context.Context, name, bin string, args []string, withStdin bool) (*Process, error) {
	if bin == "" {
		bin = DefaultBinary
	}
	pr, pw := io.Pipe()
	cmd := exec.CommandContext(ctx, bin, args...)
	tail := &tailBuffer{max: stderrTail}
	cmd.Stdout = pw
	cmd.Stderr = tail

	p := &Process{name: name, cmd: cmd, out: pr, tail: tail, done: make(chan struct{})}
	if withStdin {
		in, err := cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
		p.stdin = in
	}
	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	log.Debug().Str("module", "ffmpeg").Str("proc", name).Int("pid", cmd.Process.Pid).Strs("args", args).Msg("started")

	go func() {
		p.err = cmd.Wait()
		if p.err != nil {
			_ = pw.CloseWithError(fmt.Errorf("%w: %v", ErrExited, p.err))
		} else {
			_ = pw.Close()
		}
		close(p.done)
		log.Debug().Str("module", "ffmpeg").Str("proc", name).AnErr("exit", p.err).Msg("exited")
	}()
	return p, nil
}

func (p *Process) Stdin() io.Writer      { return p.stdin }
func (p *Process) Stdout() io.Reader     { return p.out }
func (p *Process) Done() <-chan struct{} { return p.done }

// Err is the exit error; valid once Done is closed.
func (p *Process) Err() error {
	<-p.done
	return p.err
}

// Stderr returns the last few KB the child wrote to stderr.
func (p *Process) Stderr() string { return p.tail.String() }

// Stop closes stdin, waits a little for a clean exit and then kills the child.
func (p *Process) Stop() error {
	p.stopOnce.Do(func() {
		if p.stdin != nil {
			_ = p.stdin.Close()
		}
		select {
		case <-p.done:
		case <-time.After(stopGrace):
			_ = p.cmd.Process.Kill()
		}
		// unblocks the copy goroutine if nobody reads stdout any more
		_ = p.out.Close()
		<-p.done
	})
	return nil
}

type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, b...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
