package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stefan/hspec-lens/internal/support/transcript"
)

func newTranscriptSummaryCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "transcript-summary [file]",
		Short: "Summarise a REPL transcript for a bug report",
		Long: `Read a JSON-lines transcript written when transcript_dir is set and
classify what went wrong. Without a file, the newest transcript in
transcript_dir is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				if a.cfg.TranscriptDir == "" {
					return fmt.Errorf("no transcript given and transcript_dir is not configured")
				}
				latest, err := transcript.Latest(a.cfg.TranscriptDir)
				if err != nil {
					return err
				}
				path = latest
			}

			summary, err := transcript.SummarizeFile(path)
			if err != nil {
				return fmt.Errorf("summarize transcript: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(summary); err != nil {
					return fmt.Errorf("encode summary: %w", err)
				}
				return nil
			}
			printSummary(out, path, summary)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print summary as JSON")
	return cmd
}

func printSummary(w io.Writer, path string, s transcript.Summary) {
	fmt.Fprintf(w, "Transcript Summary\n")
	fmt.Fprintf(w, "file: %s\n", path)
	if s.Session != "" {
		fmt.Fprintf(w, "session: %s\n", s.Session)
	}
	if !s.StartedAt.IsZero() {
		fmt.Fprintf(w, "started: %s (%s)\n", s.StartedAt.Format("2006-01-02T15:04:05Z07:00"), s.Duration)
	}
	fmt.Fprintf(w, "entries: %d (skipped %d)\n", s.Entries, s.SkippedLines)
	fmt.Fprintf(w, "requests: %d, frames: %d, stderr chunks: %d, dropped: %d\n", s.Requests, s.Frames, s.StderrChunks, s.Dropped)

	commands := make([]string, 0, len(s.Commands))
	for cmd := range s.Commands {
		commands = append(commands, cmd)
	}
	sort.Strings(commands)
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %-24s %d\n", cmd, s.Commands[cmd])
	}

	if s.Dumps > 0 {
		fmt.Fprintf(w, "last dump: %d files, %d tests\n", s.DumpFiles, s.DumpTests)
	}
	if len(s.Unanswered) > 0 {
		fmt.Fprintf(w, "unanswered: %q\n", s.Unanswered)
	}
	for _, f := range s.Failed {
		fmt.Fprintf(w, "failed: %q: %s\n", f.Request, f.Error)
	}
	if s.LastStderr != "" {
		fmt.Fprintf(w, "last stderr: %s\n", firstLine(s.LastStderr))
	}
	fmt.Fprintf(w, "problem class: %s\n", s.ProblemClass)
	fmt.Fprintf(w, "next actions:\n")
	for _, action := range s.NextActions {
		fmt.Fprintf(w, "- %s\n", action)
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
