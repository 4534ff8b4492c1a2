package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrProxyDown indicates the proxy no longer accepts requests.
	ErrProxyDown = errors.New("intero proxy is down")
	// ErrKilled fails every request pending when the proxy was killed.
	ErrKilled = fmt.Errorf("intero process killed: %w", ErrProxyDown)
)

// ProcessExitError reports that the REPL process exited. It carries the
// partial output that had not been framed yet.
type ProcessExitError struct {
	Code   int
	Stdout string
	Stderr string
}

func (e *ProcessExitError) Error() string {
	return fmt.Sprintf("process exited with code %d\n\nstdout:\n%s\n\nstderr:\n%s", e.Code, e.Stdout, e.Stderr)
}

// Is makes an exit error match ErrProxyDown.
func (e *ProcessExitError) Is(target error) bool {
	return target == ErrProxyDown
}

// StdinWriteError reports a failed write to the process input.
type StdinWriteError struct {
	Err error
}

func (e *StdinWriteError) Error() string {
	return fmt.Sprintf("write intero stdin: %v", e.Err)
}

func (e *StdinWriteError) Unwrap() error {
	return e.Err
}
