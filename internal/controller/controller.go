// Package controller owns one REPL session per target set and answers
// editor queries across all of them.
package controller

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/stefan/hspec-lens/internal/discovery/annotations"
	"github.com/stefan/hspec-lens/internal/discovery/testindex"
	"github.com/stefan/hspec-lens/internal/intero/session"
	"github.com/stefan/hspec-lens/internal/intero/transport"
)

// ErrClosed is returned by operations on a closed Controller.
var ErrClosed = errors.New("controller closed")

// Lens is a code lens anchored at a test call-site.
type Lens struct {
	// Range is zero-width at the start of the test expression.
	Range annotations.Range `json:"range"`
	Title string            `json:"title"`
}

// Options configures a Controller.
type Options struct {
	Session session.Options
	Logger  zerolog.Logger
}

// Controller holds an immutable snapshot of session states. Reload and retry
// build a new snapshot and swap it in; readers never lock.
type Controller struct {
	launcher session.Launcher
	opts     Options
	logger   zerolog.Logger

	states atomic.Pointer[[]session.State]
	// swapMu serialises snapshot replacement.
	swapMu sync.Mutex
	closed bool
}

// New spawns one session per target set concurrently. Sessions that cannot
// start are kept as *session.Failed and retried by RetryFailed or
// ReloadForFile.
func New(ctx context.Context, launcher session.Launcher, targets [][]string, opts Options) *Controller {
	c := &Controller{
		launcher: launcher,
		opts:     opts,
		logger:   opts.Logger.With().Str("component", "controller").Logger(),
	}

	states := make([]session.State, len(targets))
	var g errgroup.Group
	for i, set := range targets {
		g.Go(func() error {
			states[i] = session.Spawn(ctx, launcher, set, opts.Session)
			return nil
		})
	}
	_ = g.Wait()

	c.states.Store(&states)
	failed := countFailed(states)
	c.logger.Info().Int("sessions", len(states)).Int("failed", failed).Msg("sessions spawned")
	return c
}

// States returns the current snapshot.
func (c *Controller) States() []session.State {
	p := c.states.Load()
	if p == nil {
		return nil
	}
	return append([]session.State(nil), (*p)...)
}

// CodeLenses returns one lens per test in the document, across all live
// sessions. Sessions whose discovery fails or whose REPL has stopped
// contribute nothing; their errors are joined and returned alongside the
// lenses that could be computed.
func (c *Controller) CodeLenses(ctx context.Context, doc testindex.Document) ([]Lens, error) {
	path := DocumentPath(doc.URI)
	states := c.States()

	perSession := make([][]Lens, len(states))
	errs := make([]error, len(states))
	var g errgroup.Group
	for i, st := range states {
		g.Go(func() error {
			switch s := st.(type) {
			case *session.Session:
				if down := s.Down(); down != nil {
					errs[i] = fmt.Errorf("session %s: %w", s.ID(), down)
					return nil
				}
				index, err := s.DiscoveredTests(ctx)
				if err != nil {
					errs[i] = fmt.Errorf("session %s: %w", s.ID(), err)
					return nil
				}
				perSession[i] = lensesFor(index.Lookup(path), doc)
			case *session.Failed:
			default:
				panic(fmt.Sprintf("controller: unexpected session state %T", st))
			}
			return nil
		})
	}
	_ = g.Wait()

	var lenses []Lens
	for _, ls := range perSession {
		lenses = append(lenses, ls...)
	}
	err := errors.Join(errs...)
	if err != nil {
		c.logger.Warn().Err(err).Str("file", path).Msg("code lenses incomplete")
	}
	return lenses, err
}

func lensesFor(tests []*testindex.Test, doc testindex.Document) []Lens {
	lenses := make([]Lens, 0, len(tests))
	for _, t := range tests {
		title, ok := t.Title(doc)
		if !ok || title == "" {
			title = testindex.Unavailable
		}
		lenses = append(lenses, Lens{
			Range: annotations.Range{Start: t.Range.Start, End: t.Range.Start},
			Title: title,
		})
	}
	return lenses
}

// ReloadForFile reloads the sessions whose discovered tests include path, or
// every session when none does. Failed sessions are retried in the same
// pass. A session whose REPL has stopped becomes *session.Failed and waits
// for the next retry. The new snapshot is installed even when some sessions
// error.
func (c *Controller) ReloadForFile(ctx context.Context, path string) error {
	c.swapMu.Lock()
	defer c.swapMu.Unlock()
	if c.closed {
		return ErrClosed
	}

	path = DocumentPath(path)
	states := c.States()
	owners := c.owners(ctx, states, path)

	next := make([]session.State, len(states))
	errs := make([]error, len(states))
	var g errgroup.Group
	for i, st := range states {
		g.Go(func() error {
			next[i] = st
			switch s := st.(type) {
			case *session.Session:
				if down := s.Down(); down != nil {
					errs[i] = fmt.Errorf("session %s: %w", s.ID(), down)
					next[i] = s.Failed(down)
					return nil
				}
				if owners != nil && !owners[i] {
					return nil
				}
				reloaded, err := s.Reload(ctx)
				if err != nil {
					errs[i] = fmt.Errorf("reload session %s: %w", s.ID(), err)
					if errors.Is(err, transport.ErrProxyDown) {
						next[i] = s.Failed(err)
					}
					return nil
				}
				next[i] = reloaded
			case *session.Failed:
				next[i] = s.Retry(ctx)
			default:
				panic(fmt.Sprintf("controller: unexpected session state %T", st))
			}
			return nil
		})
	}
	_ = g.Wait()

	c.states.Store(&next)
	c.logger.Info().
		Str("file", path).
		Int("reloaded", countChanged(states, next)).
		Int("failed", countFailed(next)).
		Msg("sessions reloaded")
	return errors.Join(errs...)
}

// owners marks the sessions whose index contains path. It returns nil when no
// session claims the file. Sessions whose discovery fails are not owners.
func (c *Controller) owners(ctx context.Context, states []session.State, path string) []bool {
	marks := make([]bool, len(states))
	var g errgroup.Group
	for i, st := range states {
		s, ok := st.(*session.Session)
		if !ok {
			continue
		}
		g.Go(func() error {
			index, err := s.DiscoveredTests(ctx)
			if err != nil {
				c.logger.Debug().Err(err).Str("session", s.ID()).Msg("discovery failed while locating file")
				return nil
			}
			marks[i] = index.Contains(path)
			return nil
		})
	}
	_ = g.Wait()

	for _, m := range marks {
		if m {
			return marks
		}
	}
	return nil
}

// RetryFailed respawns every failed session, and every session whose REPL
// has stopped, and returns how many are still failing afterwards.
func (c *Controller) RetryFailed(ctx context.Context) (int, error) {
	c.swapMu.Lock()
	defer c.swapMu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}

	states := c.States()
	next := make([]session.State, len(states))
	var g errgroup.Group
	for i, st := range states {
		g.Go(func() error {
			switch s := st.(type) {
			case *session.Session:
				next[i] = s
				if down := s.Down(); down != nil {
					next[i] = s.Failed(down).Retry(ctx)
				}
			case *session.Failed:
				next[i] = s.Retry(ctx)
			default:
				panic(fmt.Sprintf("controller: unexpected session state %T", st))
			}
			return nil
		})
	}
	_ = g.Wait()

	c.states.Store(&next)
	return countFailed(next), nil
}

// Close stops every live session. Later reloads and retries fail with
// ErrClosed; CodeLenses on a closed controller reports the killed sessions'
// errors.
func (c *Controller) Close() error {
	c.swapMu.Lock()
	defer c.swapMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	states := c.States()
	errs := make([]error, len(states))
	var g errgroup.Group
	for i, st := range states {
		s, ok := st.(*session.Session)
		if !ok {
			continue
		}
		g.Go(func() error {
			errs[i] = s.Close()
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// DocumentPath converts a file:// URI to a filesystem path. Anything else is
// treated as a path already.
func DocumentPath(uri string) string {
	if !strings.HasPrefix(uri, "file://") {
		return filepath.Clean(uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return filepath.Clean(strings.TrimPrefix(uri, "file://"))
	}
	return filepath.Clean(filepath.FromSlash(u.Path))
}

func countFailed(states []session.State) int {
	n := 0
	for _, st := range states {
		if _, ok := st.(*session.Failed); ok {
			n++
		}
	}
	return n
}

func countChanged(before, after []session.State) int {
	n := 0
	for i := range before {
		if before[i] != after[i] {
			n++
		}
	}
	return n
}
