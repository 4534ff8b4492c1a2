// Package annotations parses the `:all-types` dump into per-file lists of
// string literals and hspec actions.
package annotations

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Position is a zero-based line/character location.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Before orders positions by line, then character.
func (p Position) Before(other Position) bool {
	if p.Line != other.Line {
		return p.Line < other.Line
	}
	return p.Character < other.Character
}

// Range is a source span.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// SingleLine reports whether the range starts and ends on the same line.
func (r Range) SingleLine() bool {
	return r.Start.Line == r.End.Line
}

// Kind classifies an expression by its reported type.
type Kind int

const (
	// StringLiteral is an expression of type [Char].
	StringLiteral Kind = iota + 1
	// SpecAction is an expression of type SpecM () (), i.e. one hspec item.
	SpecAction
)

func (k Kind) String() string {
	switch k {
	case StringLiteral:
		return "string"
	case SpecAction:
		return "spec"
	default:
		return "unknown"
	}
}

// Expression is one typed sub-expression kept from the dump.
type Expression struct {
	Range Range
	Kind  Kind
}

// File is one contiguous run of dump lines for the same path, in dump order.
type File struct {
	Path  string
	Exprs []Expression
}

// FileExpressions is the parsed dump. A path that reappears after another
// path opens a second bucket; buckets are never merged.
type FileExpressions []File

const (
	stringLiteralType = "[Char]"
	specActionType    = "SpecM () ()"
)

var linePattern = regexp.MustCompile(`^([^:]+):\((\d+),(\d+)\)-\((\d+),(\d+)\): (.+)$`)

// Parser converts dumps. The zero value is ready to use.
type Parser struct {
	Logger zerolog.Logger
}

// Parse uses a zero Parser.
func Parse(dump string) FileExpressions {
	return Parser{}.Parse(dump)
}

// Parse reads dump line by line. Lines that do not match the annotation
// format are skipped, so unrelated REPL output may be interleaved.
func (p Parser) Parse(dump string) FileExpressions {
	var (
		files   FileExpressions
		skipped int
	)
	for _, line := range strings.Split(dump, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		path, rng, typeText, ok := parseLine(line)
		if !ok {
			skipped++
			continue
		}

		if len(files) == 0 || files[len(files)-1].Path != path {
			files = append(files, File{Path: path})
		}

		kind, keep := classify(typeText)
		if !keep {
			continue
		}
		current := &files[len(files)-1]
		current.Exprs = append(current.Exprs, Expression{Range: rng, Kind: kind})
	}

	if skipped > 0 {
		p.Logger.Debug().Int("skipped", skipped).Int("files", len(files)).Msg("skipped lines outside the annotation format")
	}
	return files
}

func classify(typeText string) (Kind, bool) {
	switch typeText {
	case stringLiteralType:
		return StringLiteral, true
	case specActionType:
		return SpecAction, true
	default:
		return 0, false
	}
}

// parseLine shifts the dump's 1-based lines to zero-based; columns pass
// through unchanged.
func parseLine(line string) (string, Range, string, bool) {
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		return "", Range{}, "", false
	}

	var coords [4]int
	for i := range coords {
		n, err := strconv.Atoi(m[i+2])
		if err != nil {
			return "", Range{}, "", false
		}
		coords[i] = n
	}
	if coords[0] < 1 || coords[2] < 1 {
		return "", Range{}, "", false
	}

	rng := Range{
		Start: Position{Line: coords[0] - 1, Character: coords[1]},
		End:   Position{Line: coords[2] - 1, Character: coords[3]},
	}
	return m[1], rng, m[6], true
}
