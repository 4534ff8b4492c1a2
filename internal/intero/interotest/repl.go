// Package interotest provides scripted in-memory REPL processes for tests of
// code built on the intero transport.
package interotest

import (
	"bufio"
	"context"
	"io"
	"sync"

	"github.com/stefan/hspec-lens/internal/intero/transport"
)

// ExitOnCommand, used as a scripted answer, makes the Repl exit with code 1
// instead of answering.
const ExitOnCommand = "\x00exit"

// NoAnswer, used as a scripted answer, records the command and writes
// nothing, leaving the caller waiting until the Repl exits.
const NoAnswer = "\x00silent"

// Repl answers each request line with a scripted stdout frame. It implements
// transport.Process.
type Repl struct {
	stdinR, stdoutR, stderrR *io.PipeReader
	stdinW, stdoutW, stderrW *io.PipeWriter

	mu       sync.Mutex
	scripts  map[string][]string
	received []string

	exitCode  chan int
	closeOnce sync.Once
}

// NewRepl writes banner, then serves scripts: each command pops its next
// answer and the last answer repeats. Unscripted commands get an empty frame.
func NewRepl(banner string, scripts map[string][]string) *Repl {
	copied := make(map[string][]string, len(scripts))
	for cmd, answers := range scripts {
		copied[cmd] = append([]string(nil), answers...)
	}
	r := &Repl{scripts: copied, exitCode: make(chan int, 1)}
	r.stdinR, r.stdinW = io.Pipe()
	r.stdoutR, r.stdoutW = io.Pipe()
	r.stderrR, r.stderrW = io.Pipe()
	go r.serve(banner)
	return r
}

func (r *Repl) Stdin() io.Writer  { return r.stdinW }
func (r *Repl) Stdout() io.Reader { return r.stdoutR }
func (r *Repl) Stderr() io.Reader { return r.stderrR }

func (r *Repl) Wait() (int, error) {
	return <-r.exitCode, nil
}

func (r *Repl) Kill() error {
	r.Exit(-1)
	return nil
}

// Exit closes the streams and reports code from Wait. Only the first call
// has an effect.
func (r *Repl) Exit(code int) {
	r.closeOnce.Do(func() {
		_ = r.stdoutW.Close()
		_ = r.stderrW.Close()
		_ = r.stdinR.Close()
		r.exitCode <- code
	})
}

func (r *Repl) serve(banner string) {
	if banner != "" {
		if _, err := io.WriteString(r.stdoutW, banner); err != nil {
			return
		}
	}
	scanner := bufio.NewScanner(r.stdinR)
	for scanner.Scan() {
		answer := r.next(scanner.Text())
		if answer == ExitOnCommand {
			r.Exit(1)
			return
		}
		if answer == NoAnswer {
			continue
		}
		if _, err := io.WriteString(r.stdoutW, answer+transport.EOT); err != nil {
			return
		}
	}
}

func (r *Repl) next(cmd string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, cmd)
	answers := r.scripts[cmd]
	if len(answers) == 0 {
		return ""
	}
	answer := answers[0]
	if len(answers) > 1 {
		r.scripts[cmd] = answers[1:]
	}
	return answer
}

// Count reports how many times cmd was received.
func (r *Repl) Count(cmd string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.received {
		if got == cmd {
			n++
		}
	}
	return n
}

// Requests returns every received line in order.
func (r *Repl) Requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.received...)
}

// Launcher hands out Repls built by NewRepl. Failures are consumed per
// attempt in order; a nil entry means that attempt succeeds.
type Launcher struct {
	Failures []error
	NewRepl  func(targets []string) *Repl

	mu       sync.Mutex
	attempt  int
	launched [][]string
	repls    []*Repl
}

func (l *Launcher) Launch(_ context.Context, targets []string) (transport.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	attempt := l.attempt
	l.attempt++
	l.launched = append(l.launched, append([]string(nil), targets...))
	if attempt < len(l.Failures) && l.Failures[attempt] != nil {
		return nil, l.Failures[attempt]
	}
	repl := l.NewRepl(targets)
	l.repls = append(l.repls, repl)
	return repl, nil
}

// Attempts reports how many launches were requested.
func (l *Launcher) Attempts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempt
}

// Launched returns the target sets of every launch attempt.
func (l *Launcher) Launched() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]string, len(l.launched))
	for i, targets := range l.launched {
		out[i] = append([]string(nil), targets...)
	}
	return out
}

// LastRepl returns the most recently started Repl.
func (l *Launcher) LastRepl() *Repl {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.repls[len(l.repls)-1]
}

// Repls returns every started Repl in launch order.
func (l *Launcher) Repls() []*Repl {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Repl(nil), l.repls...)
}
