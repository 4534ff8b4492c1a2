package testindex

import (
	"strings"

	"github.com/stefan/hspec-lens/internal/discovery/annotations"
	"github.com/stefan/hspec-lens/internal/support/lazy"
)

// Unavailable labels a test whose title cannot be extracted from one line.
const Unavailable = "N/A"

// Document is an editor buffer snapshot.
type Document struct {
	URI     string
	Version int
	Text    string
}

type titleResult struct {
	text string
	ok   bool
}

type titleMemo struct {
	version int
	cell    *lazy.Cell[titleResult]
}

// Title returns the test's title as written in doc. It reports false when the
// test has no title literal. Results are memoised per document version; a
// newer version of the same document replaces the memo.
func (t *Test) Title(doc Document) (string, bool) {
	t.mu.Lock()
	memo, ok := t.titles[doc.URI]
	if !ok || memo.version != doc.Version {
		text := doc.Text
		memo = titleMemo{
			version: doc.Version,
			cell: lazy.New(func() titleResult {
				return resolveTitle(text, t.titleRange.Get())
			}),
		}
		t.titles[doc.URI] = memo
	}
	t.mu.Unlock()

	res := memo.cell.Get()
	return res.text, res.ok
}

// resolveTitle cuts the literal out of its line, dropping the quotes.
// Multi-line titles are not extracted.
func resolveTitle(text string, rng *annotations.Range) titleResult {
	if rng == nil {
		return titleResult{}
	}
	if !rng.SingleLine() {
		return titleResult{text: Unavailable, ok: true}
	}

	lines := strings.Split(text, "\n")
	if rng.Start.Line < 0 || rng.Start.Line >= len(lines) {
		return titleResult{text: Unavailable, ok: true}
	}
	line := []rune(strings.TrimSuffix(lines[rng.Start.Line], "\r"))

	start := clamp(rng.Start.Character, 0, len(line))
	end := clamp(rng.End.Character-1, start, len(line))
	return titleResult{text: string(line[start:end]), ok: true}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
