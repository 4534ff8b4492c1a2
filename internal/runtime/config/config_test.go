package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hspec-lens.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "stack", cfg.Program)
	assert.Equal(t, []string{"ghci", "--with-ghc", "intero"}, cfg.Args)
	assert.Equal(t, 50*time.Millisecond, cfg.StderrDelay)
	assert.Equal(t, [][]string{{}}, cfg.Targets)
}

func TestLoad_FileOverridesOnlyDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
root = "/work/project"
targets = [["pkg:lib", " pkg:test:unit "], []]
stderr_delay = "120ms"
log_pretty = false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/work/project", cfg.Root)
	assert.Equal(t, "stack", cfg.Program)
	assert.Equal(t, 120*time.Millisecond, cfg.StderrDelay)
	assert.False(t, cfg.LogPretty)
	assert.Equal(t, "info", cfg.LogLevel)
	if diff := cmp.Diff([][]string{{"pkg:lib", "pkg:test:unit"}, {}}, cfg.Targets); diff != "" {
		t.Fatalf("targets mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `stderr_dealy = "10ms"`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stderr_dealy")
}

func TestLoad_RejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `watch_debounce = "soon"`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "watch_debounce")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
command = "stack"
stderr_delay = "120ms"
`)
	t.Setenv("HSPEC_LENS_COMMAND", "cabal")
	t.Setenv("HSPEC_LENS_ARGS", "repl --with-ghc intero")
	t.Setenv("HSPEC_LENS_STDERR_DELAY", "75ms")
	t.Setenv("HSPEC_LENS_TARGETS", "a:lib, a:test:spec ; b:lib")
	t.Setenv("HSPEC_LENS_LOG_PRETTY", "0")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cabal", cfg.Program)
	assert.Equal(t, []string{"repl", "--with-ghc", "intero"}, cfg.Args)
	assert.Equal(t, 75*time.Millisecond, cfg.StderrDelay)
	assert.Equal(t, [][]string{{"a:lib", "a:test:spec"}, {"b:lib"}}, cfg.Targets)
	assert.False(t, cfg.LogPretty)
}

func TestLoad_RejectsInvalidPrettyFromEnv(t *testing.T) {
	t.Setenv("HSPEC_LENS_LOG_PRETTY", "sometimes")

	_, err := Load("")
	require.Error(t, err)
}

func TestLoad_IgnoresBlankEnvValues(t *testing.T) {
	t.Setenv("HSPEC_LENS_COMMAND", "   ")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "stack", cfg.Program)
}

func TestFromInitializationOptions(t *testing.T) {
	cfg, err := FromInitializationOptions(Default(), map[string]any{
		"root":          " /editor/root ",
		"targets":       []any{[]any{"x:lib"}, []any{"x:test:unit", "x:lib"}},
		"stderrDelayMs": float64(30),
		"transcriptDir": "/tmp/transcripts",
		"logLevel":      "debug",
	})
	require.NoError(t, err)

	assert.Equal(t, "/editor/root", cfg.Root)
	assert.Equal(t, 30*time.Millisecond, cfg.StderrDelay)
	assert.Equal(t, "/tmp/transcripts", cfg.TranscriptDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, [][]string{{"x:lib"}, {"x:test:unit", "x:lib"}}, cfg.Targets)
}

func TestFromInitializationOptions_DurationText(t *testing.T) {
	cfg, err := FromInitializationOptions(Default(), map[string]any{"stderrDelay": "1s"})
	require.NoError(t, err)
	assert.Equal(t, time.Second, cfg.StderrDelay)

	_, err = FromInitializationOptions(Default(), map[string]any{"stderrDelay": "later"})
	require.Error(t, err)
}

func TestFromInitializationOptions_DoesNotAliasBase(t *testing.T) {
	base := Default()
	cfg, err := FromInitializationOptions(base, nil)
	require.NoError(t, err)

	cfg.Args[0] = "changed"
	assert.Equal(t, "ghci", base.Args[0])
}

func TestFromInitializationOptions_EmptyTargetsInvalid(t *testing.T) {
	_, err := FromInitializationOptions(Default(), map[string]any{"targets": []any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target set")
}

func TestLaunchCommandAndSessionOptions(t *testing.T) {
	cfg := Default()
	cfg.Root = "/proj"
	cfg.TranscriptDir = "/proj/.transcripts"

	cmd := cfg.LaunchCommand()
	assert.Equal(t, "/proj", cmd.Dir)
	assert.Equal(t, "stack", cmd.Program)

	opts := cfg.SessionOptions(zerolog.Nop())
	assert.Equal(t, "/proj", opts.Root)
	assert.Equal(t, cfg.StderrDelay, opts.StderrDelay)
	assert.Equal(t, "/proj/.transcripts", opts.TranscriptDir)
}

func TestParseTargets(t *testing.T) {
	assert.Nil(t, ParseTargets(" ; , "))
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}}, ParseTargets("a;b,c"))
}
