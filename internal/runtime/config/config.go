// Package config resolves hspec-lens settings from defaults, a TOML file,
// HSPEC_LENS_* environment variables and editor initialization options, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/stefan/hspec-lens/internal/intero/launch"
	"github.com/stefan/hspec-lens/internal/intero/session"
	"github.com/stefan/hspec-lens/internal/intero/transport"
	"github.com/stefan/hspec-lens/internal/support/decode"
)

const (
	envPrefix            = "HSPEC_LENS_"
	defaultWatchDebounce = 200 * time.Millisecond
)

// Config is the resolved runtime configuration.
type Config struct {
	Root    string
	Program string
	Args    []string
	// Targets holds one target set per REPL session. An empty set lets the
	// build tool pick the project's default targets.
	Targets       [][]string
	StderrDelay   time.Duration
	TranscriptDir string
	LogLevel      string
	LogPretty     bool
	WatchDebounce time.Duration
}

// Default returns the built-in configuration.
func Default() Config {
	cmd := launch.DefaultCommand(".")
	return Config{
		Root:          ".",
		Program:       cmd.Program,
		Args:          cmd.Args,
		Targets:       [][]string{{}},
		StderrDelay:   transport.DefaultStderrDelay,
		LogLevel:      "info",
		LogPretty:     true,
		WatchDebounce: defaultWatchDebounce,
	}
}

// Load resolves defaults, the TOML file at path (skipped when empty) and the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

type fileConfig struct {
	Root          string     `toml:"root"`
	Command       string     `toml:"command"`
	Args          []string   `toml:"args"`
	Targets       [][]string `toml:"targets"`
	StderrDelay   string     `toml:"stderr_delay"`
	TranscriptDir string     `toml:"transcript_dir"`
	LogLevel      string     `toml:"log_level"`
	LogPretty     bool       `toml:"log_pretty"`
	WatchDebounce string     `toml:"watch_debounce"`
}

func applyFile(cfg *Config, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("root") {
		cfg.Root = strings.TrimSpace(raw.Root)
	}
	if meta.IsDefined("command") {
		cfg.Program = strings.TrimSpace(raw.Command)
	}
	if meta.IsDefined("args") {
		cfg.Args = append([]string{}, raw.Args...)
	}
	if meta.IsDefined("targets") {
		cfg.Targets = normalizeTargets(raw.Targets)
	}
	if meta.IsDefined("stderr_delay") {
		d, err := parseDuration("stderr_delay", raw.StderrDelay)
		if err != nil {
			return err
		}
		cfg.StderrDelay = d
	}
	if meta.IsDefined("transcript_dir") {
		cfg.TranscriptDir = strings.TrimSpace(raw.TranscriptDir)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("log_pretty") {
		cfg.LogPretty = raw.LogPretty
	}
	if meta.IsDefined("watch_debounce") {
		d, err := parseDuration("watch_debounce", raw.WatchDebounce)
		if err != nil {
			return err
		}
		cfg.WatchDebounce = d
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v, ok := lookupEnv("ROOT"); ok {
		cfg.Root = v
	}
	if v, ok := lookupEnv("COMMAND"); ok {
		cfg.Program = v
	}
	if v, ok := lookupEnv("ARGS"); ok {
		cfg.Args = strings.Fields(v)
	}
	if v, ok := lookupEnv("TARGETS"); ok {
		cfg.Targets = ParseTargets(v)
	}
	if v, ok := lookupEnv("STDERR_DELAY"); ok {
		d, err := parseDuration(envPrefix+"STDERR_DELAY", v)
		if err != nil {
			return err
		}
		cfg.StderrDelay = d
	}
	if v, ok := lookupEnv("TRANSCRIPT_DIR"); ok {
		cfg.TranscriptDir = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookupEnv("LOG_PRETTY"); ok {
		pretty, ok := decode.Bool(v)
		if !ok {
			return fmt.Errorf("invalid %sLOG_PRETTY %q", envPrefix, v)
		}
		cfg.LogPretty = pretty
	}
	if v, ok := lookupEnv("WATCH_DEBOUNCE"); ok {
		d, err := parseDuration(envPrefix+"WATCH_DEBOUNCE", v)
		if err != nil {
			return err
		}
		cfg.WatchDebounce = d
	}
	return nil
}

// FromInitializationOptions overlays editor-supplied options on base.
// Keys use the editor's camelCase spelling.
func FromInitializationOptions(base Config, options map[string]any) (Config, error) {
	cfg := base
	cfg.Args = append([]string{}, base.Args...)
	cfg.Targets = normalizeTargets(base.Targets)
	if options == nil {
		return cfg, cfg.Validate()
	}

	if root, ok := decode.NonEmptyTrimmedStringFromMap(options, "root"); ok {
		cfg.Root = root
	}
	if program, ok := decode.NonEmptyTrimmedStringFromMap(options, "command"); ok {
		cfg.Program = program
	}
	if args, ok := decode.StringSliceFromMap(options, "args"); ok {
		cfg.Args = args
	}
	if targets, ok := decode.StringSlicesFromMap(options, "targets"); ok {
		cfg.Targets = normalizeTargets(targets)
	}
	if delayText, ok := decode.NonEmptyTrimmedStringFromMap(options, "stderrDelay"); ok {
		d, err := parseDuration("stderrDelay", delayText)
		if err != nil {
			return cfg, err
		}
		cfg.StderrDelay = d
	}
	if delayMs, ok := decode.IntFromMapTextOrNumber(options, "stderrDelayMs"); ok && delayMs > 0 {
		cfg.StderrDelay = time.Duration(delayMs) * time.Millisecond
	}
	if dir, ok := decode.NonEmptyTrimmedStringFromMap(options, "transcriptDir"); ok {
		cfg.TranscriptDir = dir
	}
	if level, ok := decode.NonEmptyTrimmedStringFromMap(options, "logLevel"); ok {
		cfg.LogLevel = level
	}
	return cfg, cfg.Validate()
}

// Validate reports settings no session could start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Program) == "" {
		return errors.New("config: command must not be empty")
	}
	if c.StderrDelay <= 0 {
		return fmt.Errorf("config: stderr_delay must be positive, got %s", c.StderrDelay)
	}
	if c.WatchDebounce < 0 {
		return fmt.Errorf("config: watch_debounce must not be negative, got %s", c.WatchDebounce)
	}
	if len(c.Targets) == 0 {
		return errors.New("config: at least one target set is required")
	}
	return nil
}

// LaunchCommand builds the REPL command rooted at the project directory.
func (c Config) LaunchCommand() launch.Command {
	return launch.Command{
		Program: c.Program,
		Args:    append([]string{}, c.Args...),
		Dir:     c.Root,
	}
}

// SessionOptions builds the per-session options.
func (c Config) SessionOptions(logger zerolog.Logger) session.Options {
	return session.Options{
		Root:          c.Root,
		StderrDelay:   c.StderrDelay,
		TranscriptDir: c.TranscriptDir,
		Logger:        logger,
	}
}

// ParseTargets reads target sets written as "a,b;c": sets are separated by
// semicolons and targets within a set by commas.
func ParseTargets(raw string) [][]string {
	var sets [][]string
	for _, set := range strings.Split(raw, ";") {
		var targets []string
		for _, target := range strings.Split(set, ",") {
			if t := strings.TrimSpace(target); t != "" {
				targets = append(targets, t)
			}
		}
		if targets != nil {
			sets = append(sets, targets)
		}
	}
	return sets
}

func normalizeTargets(in [][]string) [][]string {
	out := make([][]string, 0, len(in))
	for _, set := range in {
		targets := make([]string, 0, len(set))
		for _, target := range set {
			if t := strings.TrimSpace(target); t != "" {
				targets = append(targets, t)
			}
		}
		out = append(out, targets)
	}
	return out
}

func lookupEnv(suffix string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + suffix)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
