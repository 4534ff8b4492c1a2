// Package transport turns the intero REPL's unsynchronised stdout/stderr
// streams into a request/response API.
package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const readChunkSize = 4096

// Process is the REPL subprocess surface the proxy needs.
type Process interface {
	Stdin() io.Writer
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits and returns its exit code.
	// The proxy calls it only after both output streams reached EOF.
	Wait() (int, error)
	Kill() error
}

// Options tunes a proxy.
type Options struct {
	// StderrDelay is the stderr attribution window; zero means DefaultStderrDelay.
	StderrDelay time.Duration
	Logger      zerolog.Logger
	Traffic     TrafficLogger
}

// Call is one in-flight request. It completes with the next frame in queue
// order, an error event, or a kill.
type Call struct {
	Request string

	once sync.Once
	done chan struct{}
	resp RawResponse
	err  error
}

func newCall(request string) *Call {
	return &Call{Request: request, done: make(chan struct{})}
}

// Done is closed when the call completes.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Result returns the outcome; it is only meaningful after Done is closed.
func (c *Call) Result() (RawResponse, error) {
	return c.resp, c.err
}

// Wait blocks until the call completes or ctx ends. Abandoning the wait keeps
// the call queued so later requests still pair with their own frames.
func (c *Call) Wait(ctx context.Context) (RawResponse, error) {
	select {
	case <-c.done:
		return c.resp, c.err
	case <-ctx.Done():
		return RawResponse{}, ctx.Err()
	}
}

func (c *Call) complete(resp RawResponse, err error) {
	c.once.Do(func() {
		c.resp = resp
		c.err = err
		close(c.done)
	})
}

// Proxy pairs requests with frames in FIFO order. There is no request id on
// the wire; queue position is the only correlation.
type Proxy struct {
	proc    Process
	reader  *FrameReader
	logger  zerolog.Logger
	traffic TrafficLogger

	writeMu sync.Mutex

	mu    sync.Mutex
	queue []*Call
	down  error

	exited chan struct{}
}

// NewProxy attaches to proc and starts reading its output.
func NewProxy(proc Process, opts Options) *Proxy {
	delay := opts.StderrDelay
	if delay == 0 {
		delay = DefaultStderrDelay
	}

	p := &Proxy{
		proc:    proc,
		logger:  opts.Logger,
		traffic: opts.Traffic,
		exited:  make(chan struct{}),
	}
	p.reader = NewFrameReader(delay, p.onFrame)

	var pumps sync.WaitGroup
	pumps.Add(2)
	go p.pump(&pumps, proc.Stdout(), p.reader.WriteOut)
	go p.pump(&pumps, proc.Stderr(), p.reader.WriteErr)
	go p.monitor(&pumps)

	return p
}

// Go writes request and returns its pending call without waiting.
func (p *Proxy) Go(request string) *Call {
	call := newCall(request)

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	if p.down != nil {
		err := p.down
		p.mu.Unlock()
		call.complete(RawResponse{}, err)
		return call
	}
	p.queue = append(p.queue, call)
	p.mu.Unlock()

	p.logTraffic(DirectionRequest, request)
	if _, err := io.WriteString(p.proc.Stdin(), request+"\n"); err != nil {
		p.logger.Warn().Err(err).Str("command", request).Msg("stdin write failed")
		p.failHead(&StdinWriteError{Err: err})
	}
	return call
}

// Send writes request and waits for its frame.
func (p *Proxy) Send(ctx context.Context, request string) (RawResponse, error) {
	return p.Go(request).Wait(ctx)
}

// Pending returns the number of calls waiting for a frame.
func (p *Proxy) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Down returns the error that took the proxy down, or nil while it is up.
func (p *Proxy) Down() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.down
}

// Exited is closed once the process has exited and its exit was handled.
func (p *Proxy) Exited() <-chan struct{} {
	return p.exited
}

// Kill detaches the output readers, fails every pending call with ErrKilled
// and kills the process. Calling it again is a no-op.
func (p *Proxy) Kill() error {
	p.mu.Lock()
	if errors.Is(p.down, ErrKilled) {
		p.mu.Unlock()
		return nil
	}
	alreadyDown := p.down != nil
	p.down = ErrKilled
	pending := p.queue
	p.queue = nil
	p.mu.Unlock()

	p.reader.Stop()
	for _, call := range pending {
		p.logFailed(call, ErrKilled)
		call.complete(RawResponse{}, ErrKilled)
	}
	if alreadyDown {
		return nil
	}
	return p.proc.Kill()
}

func (p *Proxy) onFrame(resp RawResponse) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		p.logger.Debug().Int("bytes", len(resp.Stdout)).Msg("dropping frame with no pending request")
		p.logTraffic(DirectionDropped, resp.Stdout)
		return
	}
	call := p.queue[0]
	p.queue = p.queue[1:]
	p.mu.Unlock()

	p.logTraffic(DirectionFrame, resp.Stdout)
	if resp.Stderr != "" {
		p.logTraffic(DirectionStderr, resp.Stderr)
	}
	call.complete(resp, nil)
}

func (p *Proxy) failHead(err error) {
	p.mu.Lock()
	if len(p.queue) == 0 {
		p.mu.Unlock()
		return
	}
	call := p.queue[0]
	p.queue = p.queue[1:]
	p.mu.Unlock()

	p.logFailed(call, err)
	call.complete(RawResponse{}, err)
}

func (p *Proxy) pump(wg *sync.WaitGroup, r io.Reader, sink func(string)) {
	defer wg.Done()
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sink(string(buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

func (p *Proxy) monitor(pumps *sync.WaitGroup) {
	defer close(p.exited)

	pumps.Wait()
	// Frames already cut belong to requests that are still waiting.
	p.reader.Close()

	code, err := p.proc.Wait()
	if err != nil {
		p.logger.Debug().Err(err).Msg("wait for intero process")
	}
	p.onExit(code)
}

func (p *Proxy) onExit(code int) {
	stdout, stderr := p.reader.Pending()

	p.mu.Lock()
	if p.down != nil {
		p.mu.Unlock()
		return
	}
	exitErr := &ProcessExitError{Code: code, Stdout: stdout, Stderr: stderr}
	p.down = exitErr
	pending := p.queue
	p.queue = nil
	p.mu.Unlock()

	p.logger.Warn().Int("exit_code", code).Int("pending", len(pending)).Msg("intero process exited")
	for _, call := range pending {
		p.logFailed(call, exitErr)
		call.complete(RawResponse{}, exitErr)
	}
}

func (p *Proxy) logTraffic(direction TrafficDirection, payload string) {
	if p.traffic != nil {
		p.traffic.LogTraffic(TrafficLogEntry{Direction: direction, Payload: payload})
	}
}

func (p *Proxy) logFailed(call *Call, err error) {
	if p.traffic != nil {
		p.traffic.LogTraffic(TrafficLogEntry{Direction: DirectionFailed, Payload: call.Request, Error: err.Error()})
	}
}
