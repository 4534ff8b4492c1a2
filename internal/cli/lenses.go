package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stefan/hspec-lens/internal/discovery/testindex"
)

func (a *app) newLensesCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "lenses <file>",
		Short: "Print the code lenses an editor would show for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			text, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}

			ctx := cmd.Context()
			ctrl := a.startController(ctx)
			defer ctrl.Close()

			doc := testindex.Document{URI: "file://" + filepath.ToSlash(path), Version: 1, Text: string(text)}
			lenses, err := ctrl.CodeLenses(ctx, doc)
			if err != nil && len(lenses) == 0 {
				return err
			}
			if err != nil {
				a.logger.Warn().Err(err).Msg("some sessions could not answer")
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if lenses == nil {
					return enc.Encode([]any{})
				}
				return enc.Encode(lenses)
			}
			for _, lens := range lenses {
				fmt.Fprintf(out, "%d:%d  %s\n", lens.Range.Start.Line+1, lens.Range.Start.Character, lens.Title)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print lenses as JSON")
	return cmd
}
