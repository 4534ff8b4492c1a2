package transport

import (
	"strings"
	"sync"
	"time"
)

const (
	// EOT terminates every stdout frame once the prompt is set to it.
	EOT = "\u0004"
	// DefaultStderrDelay is how long a cut frame waits for trailing stderr bytes.
	DefaultStderrDelay = 50 * time.Millisecond
)

// RawResponse is one complete reply: the stdout frame plus the stderr text
// attributed to it.
type RawResponse struct {
	Stdout string
	Stderr string
}

type cutFrame struct {
	out string
	at  time.Time
}

// FrameReader packages stdout/stderr chunks into RawResponse frames.
//
// Stdout is cut at EOT. Stderr carries no delimiter, so each cut frame waits
// for the configured delay and then takes whatever stderr accumulated. That
// attribution is best effort: overlapping requests answered faster than the
// delay can swap stderr between frames.
type FrameReader struct {
	delay time.Duration
	emit  func(RawResponse)
	now   func() time.Time

	mu      sync.Mutex
	out     strings.Builder
	errBuf  strings.Builder
	frames  []cutFrame
	closing bool
	stopped bool

	signal    chan struct{}
	quit      chan struct{}
	flush     chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	flushOnce sync.Once
}

// NewFrameReader starts a reader delivering frames to emit in cut order.
// A non-positive delay delivers frames as soon as they are cut.
func NewFrameReader(delay time.Duration, emit func(RawResponse)) *FrameReader {
	r := &FrameReader{
		delay:  delay,
		emit:   emit,
		now:    time.Now,
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		flush:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// WriteOut feeds a stdout chunk. A chunk may hold zero, one or several
// delimiters; text after the last one stays pending.
func (r *FrameReader) WriteOut(chunk string) {
	r.mu.Lock()
	if r.stopped || r.closing {
		r.mu.Unlock()
		return
	}

	parts := strings.Split(chunk, EOT)
	r.out.WriteString(parts[0])
	cut := false
	for _, part := range parts[1:] {
		r.frames = append(r.frames, cutFrame{out: r.out.String(), at: r.now()})
		r.out.Reset()
		r.out.WriteString(part)
		cut = true
	}
	r.mu.Unlock()

	if cut {
		select {
		case r.signal <- struct{}{}:
		default:
		}
	}
}

// WriteErr feeds a stderr chunk.
func (r *FrameReader) WriteErr(chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.errBuf.WriteString(chunk)
}

// Pending returns the stdout text after the last delimiter and the stderr text
// not yet attached to any frame.
func (r *FrameReader) Pending() (stdout, stderr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.out.String(), r.errBuf.String()
}

// Close delivers every frame already cut without waiting out the delay and
// stops the reader. Later chunks are ignored.
func (r *FrameReader) Close() {
	r.mu.Lock()
	r.closing = true
	r.mu.Unlock()
	r.flushOnce.Do(func() { close(r.flush) })
	<-r.done
}

// Stop discards undelivered frames and detaches the reader. It does not wait
// for the delivery loop, so it is safe to call from emit.
func (r *FrameReader) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.frames = nil
	r.out.Reset()
	r.errBuf.Reset()
	r.mu.Unlock()
	r.stopOnce.Do(func() { close(r.quit) })
}

func (r *FrameReader) run() {
	defer close(r.done)

	flushing := false
	for {
		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return
		}
		if len(r.frames) == 0 {
			closing := r.closing
			r.mu.Unlock()
			if closing {
				return
			}
			select {
			case <-r.signal:
			case <-r.quit:
				return
			case <-r.flush:
				flushing = true
			}
			continue
		}
		next := r.frames[0]
		r.mu.Unlock()

		if !flushing {
			if wait := next.at.Add(r.delay).Sub(r.now()); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-timer.C:
				case <-r.quit:
					timer.Stop()
					return
				case <-r.flush:
					timer.Stop()
					flushing = true
				}
			}
		}

		r.mu.Lock()
		if r.stopped {
			r.mu.Unlock()
			return
		}
		r.frames = r.frames[1:]
		stderr := r.errBuf.String()
		r.errBuf.Reset()
		r.mu.Unlock()

		r.emit(RawResponse{Stdout: next.out, Stderr: stderr})
	}
}
