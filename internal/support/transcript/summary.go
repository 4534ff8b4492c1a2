// Package transcript summarises JSON-lines REPL transcripts for bug reports.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stefan/hspec-lens/internal/discovery/annotations"
	"github.com/stefan/hspec-lens/internal/discovery/testindex"
	"github.com/stefan/hspec-lens/internal/intero/session"
	"github.com/stefan/hspec-lens/internal/intero/transport"
)

// ErrNoTranscript is returned by Latest when dir holds no transcripts.
var ErrNoTranscript = errors.New("no transcript found")

// Problem classes, most severe first.
const (
	ClassEmpty       = "empty"
	ClassStartup     = "startup"
	ClassFailed      = "failed-request"
	ClassUnanswered  = "unanswered-request"
	ClassUnsolicited = "unsolicited-output"
	ClassCompile     = "compile"
	ClassEmptyDump   = "empty-dump"
	ClassHealthy     = "healthy"
)

// maxLineBytes bounds one transcript record; :all-types frames are large.
const maxLineBytes = 64 << 20

// FailedRequest is a request that left the queue without a frame.
type FailedRequest struct {
	Request string `json:"request"`
	Error   string `json:"error"`
}

type Summary struct {
	Session      string          `json:"session"`
	Entries      int             `json:"entries"`
	SkippedLines int             `json:"skippedLines"`
	StartedAt    time.Time       `json:"startedAt"`
	Duration     time.Duration   `json:"duration"`
	Requests     int             `json:"requests"`
	Frames       int             `json:"frames"`
	StderrChunks int             `json:"stderrChunks"`
	Dropped      int             `json:"dropped"`
	Unanswered   []string        `json:"unanswered"`
	Failed       []FailedRequest `json:"failed"`
	Commands     map[string]int  `json:"commands"`
	Dumps        int             `json:"dumps"`
	DumpFiles    int             `json:"dumpFiles"`
	DumpTests    int             `json:"dumpTests"`
	FailedReload bool            `json:"failedReload"`
	LastStderr   string          `json:"lastStderr"`
	ProblemClass string          `json:"problemClass"`
	NextActions  []string        `json:"nextActions"`
}

// Latest returns the most recently modified session transcript in dir.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "intero-*.jsonl"))
	if err != nil {
		return "", err
	}
	var (
		latest   string
		latestAt time.Time
	)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if latest == "" || info.ModTime().After(latestAt) ||
			(info.ModTime().Equal(latestAt) && path > latest) {
			latest, latestAt = path, info.ModTime()
		}
	}
	if latest == "" {
		return "", fmt.Errorf("%s: %w", dir, ErrNoTranscript)
	}
	return latest, nil
}

// SummarizeFile reads and summarises the transcript at path.
func SummarizeFile(path string) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	return Summarize(f)
}

// Summarize pairs requests with frames in order, as the proxy did, and
// classifies the transcript. Lines that are not transcript records are
// counted and skipped.
func Summarize(r io.Reader) (Summary, error) {
	summary := Summary{Commands: map[string]int{}}
	var (
		pending []string
		stderr  []string
		first   time.Time
		last    time.Time
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry transport.TrafficLogEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil || !knownDirection(entry.Direction) {
			summary.SkippedLines++
			continue
		}
		summary.Entries++
		if summary.Session == "" {
			summary.Session = entry.Session
		}
		if first.IsZero() {
			first = entry.Timestamp
		}
		last = entry.Timestamp

		switch entry.Direction {
		case transport.DirectionRequest:
			summary.Requests++
			summary.Commands[entry.Payload]++
			pending = append(pending, entry.Payload)
		case transport.DirectionFrame:
			summary.Frames++
			if len(pending) == 0 {
				summary.Dropped++
				continue
			}
			request := pending[0]
			pending = pending[1:]
			summary.observeFrame(request, entry.Payload)
		case transport.DirectionStderr:
			summary.StderrChunks++
			stderr = append(stderr, entry.Payload)
		case transport.DirectionDropped:
			summary.Dropped++
		case transport.DirectionFailed:
			// The proxy fails calls from the head of its queue.
			if len(pending) > 0 {
				pending = pending[1:]
			}
			summary.Failed = append(summary.Failed, FailedRequest{Request: entry.Payload, Error: entry.Error})
		}
	}
	if err := scanner.Err(); err != nil {
		return Summary{}, fmt.Errorf("read transcript: %w", err)
	}

	summary.StartedAt = first
	summary.Duration = last.Sub(first)
	summary.Unanswered = append([]string{}, pending...)
	if summary.Failed == nil {
		summary.Failed = []FailedRequest{}
	}
	if len(stderr) > 0 {
		summary.LastStderr = stderr[len(stderr)-1]
	}
	summary.ProblemClass = classify(summary, stderr)
	summary.NextActions = recommendedActions(summary)
	return summary, nil
}

func knownDirection(d transport.TrafficDirection) bool {
	switch d {
	case transport.DirectionRequest, transport.DirectionFrame, transport.DirectionStderr,
		transport.DirectionDropped, transport.DirectionFailed:
		return true
	}
	return false
}

func (s *Summary) observeFrame(request, stdout string) {
	switch request {
	case session.AllTypesCommand:
		files := annotations.Parse(stdout)
		s.Dumps++
		s.DumpFiles = len(files)
		s.DumpTests = testindex.Build(files).Len()
	case session.ReloadCommand:
		if strings.Contains(stdout, "Failed,") {
			s.FailedReload = true
		}
	}
}

func classify(s Summary, stderr []string) string {
	if s.Entries == 0 {
		return ClassEmpty
	}
	if s.Requests > 0 && s.Frames == 0 {
		return ClassStartup
	}
	if firstFailure(s) != nil {
		return ClassFailed
	}
	if len(s.Unanswered) > 0 {
		return ClassUnanswered
	}
	if s.Dropped > 0 {
		return ClassUnsolicited
	}
	if s.FailedReload || hasCompileError(stderr) {
		return ClassCompile
	}
	if s.Dumps > 0 && s.DumpTests == 0 {
		return ClassEmptyDump
	}
	return ClassHealthy
}

// firstFailure skips calls failed by an orderly shutdown.
func firstFailure(s Summary) *FailedRequest {
	for i := range s.Failed {
		if s.Failed[i].Error != transport.ErrKilled.Error() {
			return &s.Failed[i]
		}
	}
	return nil
}

func hasCompileError(stderr []string) bool {
	for _, chunk := range stderr {
		lower := strings.ToLower(chunk)
		if strings.Contains(lower, "error:") || strings.Contains(lower, "could not find module") {
			return true
		}
	}
	return false
}

func recommendedActions(s Summary) []string {
	actions := []string{
		"Attach the transcript JSONL file to the issue.",
	}
	if s.SkippedLines > 0 {
		actions = append(actions, "Check for truncated or hand-edited transcript lines.")
	}

	switch s.ProblemClass {
	case ClassEmpty:
		actions = append(actions, "Confirm transcript_dir is set and the session started.")
	case ClassStartup:
		actions = append(actions, "Run the configured command by hand and confirm intero starts for these targets.")
	case ClassFailed:
		f := firstFailure(s)
		actions = append(actions, fmt.Sprintf("The request %q failed (%s); check the log for the process state.", f.Request, f.Error))
	case ClassUnanswered:
		actions = append(actions, fmt.Sprintf("The REPL stopped answering at %q; check the log for a process exit code.", s.Unanswered[0]))
	case ClassUnsolicited:
		actions = append(actions, "The REPL printed frames nobody asked for; check the prompt was set before other commands.")
	case ClassCompile:
		actions = append(actions, "Fix the compile errors reported by the REPL, then save again to reload.")
	case ClassEmptyDump:
		actions = append(actions, "No hspec tests were found; confirm the test suite target is in a configured target set.")
	default:
		actions = append(actions, "No transport problem detected; compare the code lens titles with the dump excerpt.")
	}
	return actions
}
