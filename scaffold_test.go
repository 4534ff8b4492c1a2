package hspeclens_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stefan/hspec-lens/internal/runtime/config"
)

func mustReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s failed: %v", path, err)
	}
	return string(data)
}

func requireSnippets(t *testing.T, text string, snippets ...string) {
	t.Helper()
	for _, snippet := range snippets {
		if !strings.Contains(text, snippet) {
			t.Fatalf("expected text to contain %q", snippet)
		}
	}
}

func TestScaffold_ExampleConfigLoads(t *testing.T) {
	for _, key := range []string{"ROOT", "COMMAND", "ARGS", "TARGETS", "STDERR_DELAY", "TRANSCRIPT_DIR", "LOG_LEVEL", "LOG_PRETTY", "WATCH_DEBOUNCE"} {
		t.Setenv("HSPEC_LENS_"+key, "")
	}

	cfg, err := config.Load("hspec-lens.example.toml")
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if cfg.Program != "stack" {
		t.Fatalf("unexpected program %q", cfg.Program)
	}
	if len(cfg.Targets) != 1 || len(cfg.Targets[0]) != 2 {
		t.Fatalf("unexpected targets %v", cfg.Targets)
	}
	if cfg.StderrDelay != 50*time.Millisecond {
		t.Fatalf("unexpected stderr delay %s", cfg.StderrDelay)
	}
}

func TestScaffold_ExampleConfigNamesEveryKey(t *testing.T) {
	example := mustReadFile(t, "hspec-lens.example.toml")
	requireSnippets(t, example,
		"root = ", "command = ", "args = ", "targets = ", "stderr_delay = ",
		"transcript_dir = ", "log_level = ", "log_pretty = ", "watch_debounce = ",
	)
}
