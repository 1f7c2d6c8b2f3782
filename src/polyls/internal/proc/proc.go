// Package proc owns language server subprocess lifetimes: spawning with
// piped standard streams, draining stderr, and deterministic teardown.
package proc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/polyls/polyls/src/polyls/internal/lsperr"
)

const _defaultGracePeriod = 5 * time.Second

// Module provides a Launcher to inject using fx.
var Module = fx.Provide(NewLauncher)

// Spec describes how to start a language server subprocess.
type Spec struct {
	Path string
	Args []string
	Env  []string
	Dir  string

	// GracePeriod is how long Stop waits after a termination signal
	// before force-killing. Zero means the default of 5s.
	GracePeriod time.Duration
}

// Launcher spawns supervised language server subprocesses.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (*Process, error)
}

// Params define values used to build a Launcher.
type Params struct {
	fx.In

	Logger *zap.SugaredLogger
}

type launcher struct {
	logger *zap.SugaredLogger
}

// NewLauncher returns a Launcher that spawns real subprocesses.
func NewLauncher(p Params) Launcher {
	return &launcher{logger: p.Logger}
}

// Process is a running language server subprocess. The stdin/stdout pipes
// are exclusively owned by the session driving it.
type Process struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser

	cmd    *exec.Cmd
	logger *zap.SugaredLogger
	grace  time.Duration

	done     chan error
	stopOnce sync.Once
	stopErr  error
}

// Launch spawns the subprocess with its stdin/stdout piped. stderr is
// drained to the log asynchronously so the child never blocks on it.
func (l *launcher) Launch(ctx context.Context, spec Spec) (*Process, error) {
	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", lsperr.ErrServerLaunch, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", lsperr.ErrServerLaunch, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return nil, fmt.Errorf("%w: stderr pipe: %v", lsperr.ErrServerLaunch, err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("%w: spawning %q: %v", lsperr.ErrServerLaunch, spec.Path, err)
	}
	l.logger.Infow("launched language server", "path", spec.Path, "pid", cmd.Process.Pid)

	grace := spec.GracePeriod
	if grace == 0 {
		grace = _defaultGracePeriod
	}

	p := &Process{
		Stdin:  stdin,
		Stdout: stdout,
		cmd:    cmd,
		logger: l.logger,
		grace:  grace,
		done:   make(chan error, 1),
	}

	go p.drainStderr(stderr)
	go func() {
		p.done <- cmd.Wait()
		close(p.done)
	}()

	return p, nil
}

// Done yields the process exit error once, then is closed.
func (p *Process) Done() <-chan error {
	return p.done
}

// Pid returns the subprocess id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stop terminates the subprocess: close stdin, signal termination, and
// force-kill after the grace period. Idempotent.
func (p *Process) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.Stdin.Close()

		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			// Already gone, or the platform has no SIGTERM; fall through to kill.
			p.logger.Debugw("termination signal failed", "pid", p.cmd.Process.Pid, "error", err)
		}

		timer := time.NewTimer(p.grace)
		defer timer.Stop()

		select {
		case <-p.done:
			p.logger.Infow("language server exited", "pid", p.cmd.Process.Pid)
			return
		case <-ctx.Done():
		case <-timer.C:
			p.logger.Warnw("language server did not exit within grace period, killing", "pid", p.cmd.Process.Pid)
		}

		if err := p.cmd.Process.Kill(); err != nil {
			p.stopErr = err
			return
		}
		<-p.done
	})
	return p.stopErr
}

func (p *Process) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.logger.Debugw("language server stderr", "line", scanner.Text())
	}
}
