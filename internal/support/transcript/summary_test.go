package transcript

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefan/hspec-lens/internal/intero/session"
	"github.com/stefan/hspec-lens/internal/intero/transport"
)

const specDump = "test/LibSpec.hs:(3,3)-(4,22): SpecM () ()\n" +
	"test/LibSpec.hs:(3,6)-(3,19): [Char]\n"

const testSession = "0b7c1e52-session"

type record struct {
	dir     transport.TrafficDirection
	payload string
	err     string
}

func transcriptOf(t *testing.T, records ...record) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	logger := transport.NewJSONLTrafficLogger(&buf, testSession)
	for _, r := range records {
		logger.LogTraffic(transport.TrafficLogEntry{Direction: r.dir, Payload: r.payload, Error: r.err})
	}
	return &buf
}

func req(cmd string) record      { return record{dir: transport.DirectionRequest, payload: cmd} }
func frame(out string) record    { return record{dir: transport.DirectionFrame, payload: out} }
func stderrOf(out string) record { return record{dir: transport.DirectionStderr, payload: out} }

func failedOf(cmd string, err error) record {
	return record{dir: transport.DirectionFailed, payload: cmd, err: err.Error()}
}

func TestSummarize_Healthy(t *testing.T) {
	buf := transcriptOf(t,
		req(session.PromptCommand), frame("Ok, one module loaded.\n"),
		req(session.AllTypesCommand), frame(specDump), stderrOf("Collecting type info for 1 module(s) ...\n"),
		req(session.ReloadCommand), frame("Ok, one module loaded.\n"),
	)

	summary, err := Summarize(buf)
	require.NoError(t, err)

	assert.Equal(t, ClassHealthy, summary.ProblemClass)
	assert.Equal(t, 7, summary.Entries)
	assert.Equal(t, 3, summary.Requests)
	assert.Equal(t, 3, summary.Frames)
	assert.Equal(t, 1, summary.Dumps)
	assert.Equal(t, 1, summary.DumpFiles)
	assert.Equal(t, 1, summary.DumpTests)
	assert.Equal(t, 1, summary.Commands[session.AllTypesCommand])
	assert.Empty(t, summary.Unanswered)
	assert.Empty(t, summary.Failed)
	assert.Equal(t, testSession, summary.Session)
	assert.False(t, summary.StartedAt.IsZero())
	assert.Contains(t, summary.NextActions[0], "Attach")
}

func TestSummarize_Classes(t *testing.T) {
	cases := []struct {
		name    string
		records []record
		want    string
	}{
		{name: "empty", want: ClassEmpty},
		{
			name:    "startup",
			records: []record{req(session.PromptCommand)},
			want:    ClassStartup,
		},
		{
			name: "unanswered",
			records: []record{
				req(session.PromptCommand), frame(""),
				req(session.AllTypesCommand),
			},
			want: ClassUnanswered,
		},
		{
			name: "unsolicited",
			records: []record{
				req(session.PromptCommand), frame(""),
				{dir: transport.DirectionDropped, payload: "stray\n"},
			},
			want: ClassUnsolicited,
		},
		{
			name: "failed request",
			records: []record{
				req(session.PromptCommand), frame(""),
				req(session.AllTypesCommand), failedOf(session.AllTypesCommand, &transport.StdinWriteError{Err: io.ErrClosedPipe}),
			},
			want: ClassFailed,
		},
		{
			name: "failed reload",
			records: []record{
				req(session.PromptCommand), frame(""),
				req(session.ReloadCommand), frame("Failed, no modules loaded.\n"),
			},
			want: ClassCompile,
		},
		{
			name: "compile error on stderr",
			records: []record{
				req(session.PromptCommand), frame(""),
				stderrOf("test/LibSpec.hs:3:1: error:\n    parse error\n"),
			},
			want: ClassCompile,
		},
		{
			name: "dump without tests",
			records: []record{
				req(session.PromptCommand), frame(""),
				req(session.AllTypesCommand), frame("src/Lib.hs:(1,1)-(1,5): Int\n"),
			},
			want: ClassEmptyDump,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			summary, err := Summarize(transcriptOf(t, tc.records...))
			require.NoError(t, err)
			assert.Equal(t, tc.want, summary.ProblemClass)
			assert.GreaterOrEqual(t, len(summary.NextActions), 2)
		})
	}
}

func TestSummarize_UnansweredNamesFirstStuckRequest(t *testing.T) {
	summary, err := Summarize(transcriptOf(t,
		req(session.PromptCommand), frame(""),
		req(session.AllTypesCommand), req(session.ReloadCommand),
	))
	require.NoError(t, err)

	assert.Equal(t, []string{session.AllTypesCommand, session.ReloadCommand}, summary.Unanswered)
	joined := strings.Join(summary.NextActions, " ")
	assert.Contains(t, joined, session.AllTypesCommand)
}

func TestSummarize_FailedRequestsLeaveTheQueue(t *testing.T) {
	writeErr := &transport.StdinWriteError{Err: io.ErrClosedPipe}
	summary, err := Summarize(transcriptOf(t,
		req(session.PromptCommand), frame(""),
		req(session.ReloadCommand), failedOf(session.ReloadCommand, writeErr),
		req(session.AllTypesCommand), frame(specDump),
	))
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Dumps, "the dump frame pairs with :all-types")
	assert.Equal(t, 1, summary.DumpTests)
	assert.Empty(t, summary.Unanswered)
	assert.Equal(t, []FailedRequest{{Request: session.ReloadCommand, Error: writeErr.Error()}}, summary.Failed)
	assert.Equal(t, ClassFailed, summary.ProblemClass)
	assert.Contains(t, strings.Join(summary.NextActions, " "), session.ReloadCommand)
}

func TestSummarize_KilledOnShutdownIsHealthy(t *testing.T) {
	summary, err := Summarize(transcriptOf(t,
		req(session.PromptCommand), frame(""),
		req(session.AllTypesCommand), frame(specDump),
		req(session.ReloadCommand), failedOf(session.ReloadCommand, transport.ErrKilled),
	))
	require.NoError(t, err)

	assert.Empty(t, summary.Unanswered)
	assert.Len(t, summary.Failed, 1)
	assert.Equal(t, ClassHealthy, summary.ProblemClass)
}

func TestSummarize_SkipsForeignLines(t *testing.T) {
	buf := transcriptOf(t, req(session.PromptCommand), frame(""))
	buf.WriteString("not json\n")
	buf.WriteString(`{"unrelated":true}` + "\n")
	buf.WriteString(`{"direction":"sideways","payload":"x"}` + "\n")

	summary, err := Summarize(buf)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Entries)
	assert.Equal(t, 3, summary.SkippedLines)
	assert.Equal(t, ClassHealthy, summary.ProblemClass)
	assert.Contains(t, strings.Join(summary.NextActions, " "), "truncated")
}

func TestSummarize_DurationSpansEntries(t *testing.T) {
	start := time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	require.NoError(t, enc.Encode(transport.TrafficLogEntry{Timestamp: start, Direction: transport.DirectionRequest, Payload: session.PromptCommand}))
	require.NoError(t, enc.Encode(transport.TrafficLogEntry{Timestamp: start.Add(3 * time.Second), Direction: transport.DirectionFrame}))

	summary, err := Summarize(&buf)
	require.NoError(t, err)
	assert.Equal(t, start, summary.StartedAt)
	assert.Equal(t, 3*time.Second, summary.Duration)
}

func TestLatestAndSummarizeFile(t *testing.T) {
	dir := t.TempDir()
	_, err := Latest(dir)
	require.ErrorIs(t, err, ErrNoTranscript)

	older := filepath.Join(dir, "intero-20260209T100000-a.jsonl")
	newer := filepath.Join(dir, "intero-20260209T110000-b.jsonl")
	require.NoError(t, os.WriteFile(older, nil, 0o644))
	require.NoError(t, os.WriteFile(newer, transcriptOf(t, req(session.PromptCommand)).Bytes(), 0o644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))

	latest, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, newer, latest)

	summary, err := SummarizeFile(latest)
	require.NoError(t, err)
	assert.Equal(t, ClassStartup, summary.ProblemClass)

	_, err = SummarizeFile(filepath.Join(dir, "missing.jsonl"))
	require.Error(t, err)
}
