// Package launch starts the intero REPL as a child process.
package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/stefan/hspec-lens/internal/intero/transport"
)

const stopTimeout = 1500 * time.Millisecond

// StartError reports that the REPL process could not be started.
type StartError struct {
	Program string
	Targets []string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start %s for targets [%s]: %v", e.Program, strings.Join(e.Targets, " "), e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// Command describes how to start the REPL. Targets are appended to Args.
type Command struct {
	Program string
	Args    []string
	Dir     string
	Env     []string
}

// DefaultCommand runs `stack ghci --with-ghc intero` in dir.
func DefaultCommand(dir string) Command {
	return Command{
		Program: "stack",
		Args:    []string{"ghci", "--with-ghc", "intero"},
		Dir:     dir,
	}
}

// Launch starts the REPL for targets.
func (c Command) Launch(ctx context.Context, targets []string) (transport.Process, error) {
	fail := func(err error) error {
		return &StartError{Program: c.Program, Targets: append([]string(nil), targets...), Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(err)
	}
	if c.Program == "" {
		return nil, fail(errors.New("empty program"))
	}

	args := append(append([]string(nil), c.Args...), targets...)
	// The session outlives ctx, so the process is not bound to it.
	cmd := exec.Command(c.Program, args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fail(fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fail(fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fail(fmt.Errorf("stderr pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return nil, fail(err)
	}

	return &Process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		exited: make(chan struct{}),
	}, nil
}

// Process is a running REPL child.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader

	exited   chan struct{}
	killOnce sync.Once
}

func (p *Process) Stdin() io.Writer  { return p.stdin }
func (p *Process) Stdout() io.Reader { return p.stdout }
func (p *Process) Stderr() io.Reader { return p.stderr }

// Wait reaps the child and returns its exit code. A child killed by a signal
// reports -1.
func (p *Process) Wait() (int, error) {
	err := p.cmd.Wait()
	close(p.exited)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return -1, err
	}
	return p.cmd.ProcessState.ExitCode(), nil
}

// Kill closes stdin and terminates the process group, escalating to a hard
// kill when the group is still alive after stopTimeout.
func (p *Process) Kill() error {
	var err error
	p.killOnce.Do(func() {
		_ = p.stdin.Close()
		err = terminateProcessTree(p.cmd)
		go func() {
			select {
			case <-p.exited:
			case <-time.After(stopTimeout):
				_ = killProcessTree(p.cmd)
			}
		}()
	})
	return err
}
