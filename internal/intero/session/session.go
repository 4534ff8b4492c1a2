// Package session runs one intero REPL per target set and exposes test
// discovery on top of it.
package session

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stefan/hspec-lens/internal/discovery/annotations"
	"github.com/stefan/hspec-lens/internal/discovery/testindex"
	"github.com/stefan/hspec-lens/internal/intero/transport"
)

const (
	// PromptCommand makes every prompt an EOT, which frames the responses.
	PromptCommand = `:set prompt "\4"`
	// AllTypesCommand dumps one line per typed sub-expression.
	AllTypesCommand = ":all-types"
	// ReloadCommand reloads the loaded modules.
	ReloadCommand = ":r"

	closeTimeout = 3 * time.Second
)

// Launcher starts a REPL process for a target set.
type Launcher interface {
	Launch(ctx context.Context, targets []string) (transport.Process, error)
}

// Options configures spawned sessions.
type Options struct {
	// Root resolves relative paths reported in the dump.
	Root string
	// StderrDelay is the stderr attribution window of the proxy.
	StderrDelay time.Duration
	// TranscriptDir enables a JSON-lines traffic transcript per session.
	TranscriptDir string
	Logger        zerolog.Logger
}

// State is either *Session or *Failed.
type State interface {
	Targets() []string
	state()
}

// Session is a primed REPL. Reload returns a new Session over the same
// process; closing any of them stops the process.
type Session struct {
	id       string
	targets  []string
	launcher Launcher
	opts     Options
	proxy    *transport.Proxy
	closer   io.Closer
	logger   zerolog.Logger

	// discovering holds one token while :all-types is in flight.
	discovering chan struct{}
	index       testindex.Index
	built       bool
}

// Failed is a session whose process could not be started or primed.
type Failed struct {
	targets  []string
	launcher Launcher
	opts     Options
	err      error
}

func (*Session) state() {}
func (*Failed) state()  {}

// Spawn starts and primes a REPL for targets. Start and priming failures are
// reported as *Failed, never as an error.
func Spawn(ctx context.Context, launcher Launcher, targets []string, opts Options) State {
	targets = append([]string(nil), targets...)
	id := uuid.NewString()
	logger := opts.Logger.With().Str("session", id).Strs("targets", targets).Logger()
	failed := func(err error) *Failed {
		logger.Error().Err(err).Msg("intero session failed to start")
		return &Failed{targets: targets, launcher: launcher, opts: opts, err: err}
	}

	proc, err := launcher.Launch(ctx, targets)
	if err != nil {
		return failed(err)
	}

	var (
		traffic transport.TrafficLogger
		closer  io.Closer
	)
	if opts.TranscriptDir != "" {
		f, path, err := openTranscript(opts.TranscriptDir, id)
		if err != nil {
			logger.Warn().Err(err).Msg("transcript disabled")
		} else {
			logger.Debug().Str("transcript", path).Msg("recording transcript")
			traffic = transport.NewJSONLTrafficLogger(f, id)
			closer = f
		}
	}

	proxy := transport.NewProxy(proc, transport.Options{
		StderrDelay: opts.StderrDelay,
		Logger:      logger,
		Traffic:     traffic,
	})
	s := &Session{
		id:          id,
		targets:     targets,
		launcher:    launcher,
		opts:        opts,
		proxy:       proxy,
		closer:      closer,
		logger:      logger,
		discovering: make(chan struct{}, 1),
	}

	if _, err := s.RunCommand(ctx, PromptCommand); err != nil {
		_ = s.Close()
		return failed(fmt.Errorf("prime session: %w", err))
	}
	logger.Info().Msg("intero session started")
	return s
}

// ID identifies the underlying process in logs and transcripts.
func (s *Session) ID() string {
	return s.id
}

// Targets returns the build targets loaded in this session.
func (s *Session) Targets() []string {
	return append([]string(nil), s.targets...)
}

// RunCommand sends text and returns the stdout of its frame.
func (s *Session) RunCommand(ctx context.Context, text string) (string, error) {
	resp, err := s.proxy.Send(ctx, text)
	if err != nil {
		return "", fmt.Errorf("run %q: %w", text, err)
	}
	if resp.Stderr != "" {
		s.logger.Debug().Str("command", text).Str("stderr", resp.Stderr).Msg("command wrote to stderr")
	}
	return resp.Stdout, nil
}

// DiscoveredTests dumps the loaded modules' types and indexes their tests.
// A successful result is cached for the lifetime of this Session value.
func (s *Session) DiscoveredTests(ctx context.Context) (testindex.Index, error) {
	select {
	case s.discovering <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.discovering }()

	if s.built {
		return s.index, nil
	}

	dump, err := s.RunCommand(ctx, AllTypesCommand)
	if err != nil {
		return nil, err
	}
	files := annotations.Parser{Logger: s.logger}.Parse(dump)
	resolvePaths(files, s.opts.Root)

	s.index = testindex.Builder{Logger: s.logger}.Build(files)
	s.built = true
	s.logger.Debug().Int("files", len(s.index)).Int("tests", s.index.Len()).Msg("tests discovered")
	return s.index, nil
}

// Reload reloads the REPL and returns a Session with an empty discovery
// cache. Whether the reload compiled is not checked.
func (s *Session) Reload(ctx context.Context) (*Session, error) {
	out, err := s.RunCommand(ctx, ReloadCommand)
	if err != nil {
		return nil, err
	}
	if strings.Contains(out, "Failed,") {
		s.logger.Warn().Msg("reload reported failed modules")
	}
	return &Session{
		id:          s.id,
		targets:     s.targets,
		launcher:    s.launcher,
		opts:        s.opts,
		proxy:       s.proxy,
		closer:      s.closer,
		logger:      s.logger,
		discovering: make(chan struct{}, 1),
	}, nil
}

// Down returns the error that stopped the REPL, or nil while it runs.
func (s *Session) Down() error {
	return s.proxy.Down()
}

// Failed releases the session and returns a *Failed that relaunches the same
// targets on Retry.
func (s *Session) Failed(err error) *Failed {
	if cerr := s.Close(); cerr != nil {
		s.logger.Debug().Err(cerr).Msg("close failed session")
	}
	s.logger.Error().Err(err).Msg("intero session failed")
	return &Failed{targets: s.targets, launcher: s.launcher, opts: s.opts, err: err}
}

// Close kills the REPL, failing pending commands, and closes the transcript.
func (s *Session) Close() error {
	err := s.proxy.Kill()
	select {
	case <-s.proxy.Exited():
	case <-time.After(closeTimeout):
		s.logger.Warn().Msg("timed out waiting for intero to exit")
	}
	if s.closer != nil {
		if cerr := s.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Targets returns the build targets the session was meant to load.
func (f *Failed) Targets() []string {
	return append([]string(nil), f.targets...)
}

// Err returns why the session failed.
func (f *Failed) Err() error {
	return f.err
}

// Retry spawns the same targets again with the same launcher and options.
func (f *Failed) Retry(ctx context.Context) State {
	return Spawn(ctx, f.launcher, f.targets, f.opts)
}

func resolvePaths(files annotations.FileExpressions, root string) {
	if root == "" {
		return
	}
	for i := range files {
		if !filepath.IsAbs(files[i].Path) {
			files[i].Path = filepath.Join(root, files[i].Path)
		}
	}
}
