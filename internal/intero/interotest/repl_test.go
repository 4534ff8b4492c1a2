package interotest

import (
	"bufio"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stefan/hspec-lens/internal/intero/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func readFrame(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	frame, err := r.ReadString(transport.EOT[0])
	require.NoError(t, err)
	return frame[:len(frame)-1]
}

func TestRepl_AnswersInScriptOrderAndRepeatsLast(t *testing.T) {
	repl := NewRepl("", map[string][]string{"ping": {"one", "two"}})
	defer repl.Kill()
	out := bufio.NewReader(repl.Stdout())

	for _, want := range []string{"one", "two", "two", ""} {
		cmd := "ping"
		if want == "" {
			cmd = "other"
		}
		_, err := io.WriteString(repl.Stdin(), cmd+"\n")
		require.NoError(t, err)
		assert.Equal(t, want, readFrame(t, out))
	}
	assert.Equal(t, 3, repl.Count("ping"))
	assert.Equal(t, []string{"ping", "ping", "ping", "other"}, repl.Requests())
}

func TestRepl_ExitOnCommand(t *testing.T) {
	repl := NewRepl("banner", map[string][]string{"quit": {ExitOnCommand}})
	stdout := make(chan string, 1)
	go func() {
		rest, _ := io.ReadAll(repl.Stdout())
		stdout <- string(rest)
	}()

	_, err := io.WriteString(repl.Stdin(), "quit\n")
	require.NoError(t, err)

	assert.Equal(t, "banner", <-stdout)
	code, err := repl.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, code)
}

func TestRepl_NoAnswerWritesNothing(t *testing.T) {
	repl := NewRepl("", map[string][]string{"hang": {NoAnswer}, "ping": {"pong"}})
	defer repl.Exit(0)

	_, err := io.WriteString(repl.Stdin(), "hang\nping\n")
	require.NoError(t, err)

	buf := make([]byte, len("pong"+transport.EOT))
	_, err = io.ReadFull(repl.Stdout(), buf)
	require.NoError(t, err)
	assert.Equal(t, "pong"+transport.EOT, string(buf))
	assert.Equal(t, 1, repl.Count("hang"))
}

func TestLauncher_ConsumesFailuresInOrder(t *testing.T) {
	boom := errors.New("boom")
	launcher := &Launcher{
		Failures: []error{boom, nil},
		NewRepl:  func([]string) *Repl { return NewRepl("", nil) },
	}

	_, err := launcher.Launch(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, boom)

	proc, err := launcher.Launch(context.Background(), []string{"b"})
	require.NoError(t, err)
	defer proc.Kill()

	assert.Equal(t, 2, launcher.Attempts())
	assert.Equal(t, [][]string{{"a"}, {"b"}}, launcher.Launched())
	assert.Same(t, proc, launcher.LastRepl())
}
