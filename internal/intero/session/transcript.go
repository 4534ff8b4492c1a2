package session

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func openTranscript(dir, sessionID string) (*os.File, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create transcript dir: %w", err)
	}

	name := fmt.Sprintf("intero-%s-%s.jsonl", time.Now().UTC().Format("20060102T150405"), sessionID)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("create transcript file: %w", err)
	}
	return f, path, nil
}
