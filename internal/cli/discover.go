package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stefan/hspec-lens/internal/discovery/testindex"
	"github.com/stefan/hspec-lens/internal/intero/session"
)

type discoveredTest struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
	Title     string `json:"title"`
}

type discoveredSession struct {
	Targets []string         `json:"targets"`
	Error   string           `json:"error,omitempty"`
	Tests   []discoveredTest `json:"tests"`
}

func (a *app) newDiscoverCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List every test call-site and its title",
		Long: `Start a REPL per configured target set, run :all-types and print each
discovered test with its title, read from the source file on disk.

Lines are 1-based in the text output and 0-based in JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ctrl := a.startController(ctx)
			defer ctrl.Close()

			var results []discoveredSession
			var failed int
			for _, st := range ctrl.States() {
				result := discoveredSession{Targets: st.Targets(), Tests: []discoveredTest{}}
				switch s := st.(type) {
				case *session.Session:
					index, err := s.DiscoveredTests(ctx)
					if err != nil {
						result.Error = err.Error()
						failed++
						break
					}
					result.Tests = describeIndex(index)
				case *session.Failed:
					result.Error = s.Err().Error()
					failed++
				}
				results = append(results, result)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return fmt.Errorf("encode results: %w", err)
				}
			} else {
				printDiscovered(out, results)
			}
			if failed == len(results) && failed > 0 {
				return fmt.Errorf("no session could discover tests")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	return cmd
}

func describeIndex(index testindex.Index) []discoveredTest {
	var tests []discoveredTest
	for _, file := range index {
		doc := testindex.Document{URI: file.Path}
		if text, err := os.ReadFile(file.Path); err == nil {
			doc.Text = string(text)
		}
		for _, t := range file.Tests {
			title, ok := t.Title(doc)
			if !ok || title == "" {
				title = testindex.Unavailable
			}
			tests = append(tests, discoveredTest{
				File:      file.Path,
				Line:      t.Range.Start.Line,
				Character: t.Range.Start.Character,
				Title:     title,
			})
		}
	}
	if tests == nil {
		return []discoveredTest{}
	}
	return tests
}

func printDiscovered(w io.Writer, results []discoveredSession) {
	for _, result := range results {
		targets := strings.Join(result.Targets, " ")
		if targets == "" {
			targets = "(default targets)"
		}
		if result.Error != "" {
			fmt.Fprintf(w, "%s: failed: %s\n", targets, result.Error)
			continue
		}
		fmt.Fprintf(w, "%s: %d tests\n", targets, len(result.Tests))
		for _, t := range result.Tests {
			fmt.Fprintf(w, "  %s:%d:%d  %s\n", t.File, t.Line+1, t.Character, t.Title)
		}
	}
}
