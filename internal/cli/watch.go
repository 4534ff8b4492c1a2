package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stefan/hspec-lens/internal/workspace/watch"
)

func (a *app) newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep REPLs running and reload them when Haskell sources change",
		Long: `Start a REPL per configured target set and watch the project root.
Saving a .hs file reloads the sessions that own it (all sessions when none
does) and retries sessions that failed to start. Stops on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ctrl := a.startController(ctx)
			defer ctrl.Close()

			w, err := watch.New(a.cfg.Root, a.cfg.WatchDebounce, func(ctx context.Context, path string) error {
				return ctrl.ReloadForFile(ctx, path)
			}, a.logger)
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			if err := w.Start(ctx); err != nil {
				_ = w.Stop()
				return fmt.Errorf("start watcher: %w", err)
			}

			<-ctx.Done()
			a.logger.Info().Msg("stopping")
			return w.Stop()
		},
	}
}
