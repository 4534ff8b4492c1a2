// Package cli implements the hspec-lens command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stefan/hspec-lens/internal/controller"
	"github.com/stefan/hspec-lens/internal/intero/session"
	"github.com/stefan/hspec-lens/internal/logging"
	"github.com/stefan/hspec-lens/internal/runtime/config"
)

const defaultConfigFile = "hspec-lens.toml"

// Deps are the collaborators commands are built on. Zero fields take their
// production defaults.
type Deps struct {
	// Launcher overrides the launcher derived from config.
	Launcher func(cfg config.Config) session.Launcher
	// LogOutput overrides the log destination (stderr).
	LogOutput io.Writer
}

type app struct {
	deps        Deps
	configPath  string
	initOptions string
	logLevel    string
	root        string

	cfg    config.Config
	logger zerolog.Logger
}

// NewRootCmd builds the command tree.
func NewRootCmd(deps Deps) *cobra.Command {
	a := &app{deps: deps}

	cmd := &cobra.Command{
		Use:   "hspec-lens",
		Short: "Discover hspec tests and their titles through intero",
		Long: `hspec-lens drives one intero REPL per target set, dumps the loaded
modules' types with :all-types and pairs every hspec test call-site with
the string literal that names it.

Configuration is read from hspec-lens.toml in the project root (or --config),
then HSPEC_LENS_* environment variables, then --init-options, which takes
the JSON initializationOptions object an editor client sends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: <root>/hspec-lens.toml if present)")
	cmd.PersistentFlags().StringVar(&a.initOptions, "init-options", "", `editor options as a JSON object, e.g. {"targets":[["lib:test:spec"]]}`)
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: trace, debug, info, warn, error, disabled")
	cmd.PersistentFlags().StringVar(&a.root, "root", "", "project root (overrides config)")

	cmd.AddCommand(
		a.newDiscoverCmd(),
		a.newLensesCmd(),
		a.newWatchCmd(),
		newTranscriptSummaryCmd(a),
	)
	return cmd
}

// Execute runs the command line with production dependencies.
func Execute() error {
	return NewRootCmd(Deps{}).Execute()
}

func (a *app) load() error {
	path := a.configPath
	if path == "" {
		candidate := filepath.Join(a.rootOr("."), defaultConfigFile)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.initOptions != "" {
		var options map[string]any
		if err := json.Unmarshal([]byte(a.initOptions), &options); err != nil {
			return fmt.Errorf("parse --init-options: %w", err)
		}
		if cfg, err = config.FromInitializationOptions(cfg, options); err != nil {
			return err
		}
	}
	if a.root != "" {
		cfg.Root = a.root
	}
	if a.logLevel != "" {
		if _, ok := logging.ParseLevel(a.logLevel); !ok {
			return fmt.Errorf("unknown log level %q", a.logLevel)
		}
		cfg.LogLevel = a.logLevel
	}
	if abs, err := filepath.Abs(cfg.Root); err == nil {
		cfg.Root = abs
	}
	a.cfg = cfg

	out := a.deps.LogOutput
	if out == nil {
		out = os.Stderr
	}
	a.logger = logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: out})
	return nil
}

func (a *app) rootOr(fallback string) string {
	if a.root != "" {
		return a.root
	}
	if v := os.Getenv("HSPEC_LENS_ROOT"); v != "" {
		return v
	}
	return fallback
}

func (a *app) launcher() session.Launcher {
	if a.deps.Launcher != nil {
		return a.deps.Launcher(a.cfg)
	}
	return a.cfg.LaunchCommand()
}

func (a *app) startController(ctx context.Context) *controller.Controller {
	return controller.New(ctx, a.launcher(), a.cfg.Targets, controller.Options{
		Session: a.cfg.SessionOptions(a.logger),
		Logger:  a.logger,
	})
}
