// Package testindex turns parsed annotations into hspec tests and resolves
// their titles against live documents.
package testindex

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stefan/hspec-lens/internal/discovery/annotations"
	"github.com/stefan/hspec-lens/internal/support/lazy"
)

// Test is one hspec item: the SpecAction expression and the string literal
// chosen as its title.
type Test struct {
	Range annotations.Range
	File  string

	titleRange *lazy.Cell[*annotations.Range]

	mu     sync.Mutex
	titles map[string]titleMemo
}

// TitleRange returns the source range of the title literal, if one was found.
func (t *Test) TitleRange() (annotations.Range, bool) {
	rng := t.titleRange.Get()
	if rng == nil {
		return annotations.Range{}, false
	}
	return *rng, true
}

// FileTests lists the tests of one dump bucket in dump order.
type FileTests struct {
	Path  string
	Tests []*Test
}

// Index is the discovery result for one session, in dump order.
type Index []FileTests

// Lookup returns the tests of every bucket recorded for path.
func (ix Index) Lookup(path string) []*Test {
	var tests []*Test
	for _, f := range ix {
		if f.Path == path {
			tests = append(tests, f.Tests...)
		}
	}
	return tests
}

// Contains reports whether path appeared in the dump.
func (ix Index) Contains(path string) bool {
	for _, f := range ix {
		if f.Path == path {
			return true
		}
	}
	return false
}

// Len returns the number of tests across all files.
func (ix Index) Len() int {
	n := 0
	for _, f := range ix {
		n += len(f.Tests)
	}
	return n
}

// Builder builds indexes. The zero value is ready to use.
type Builder struct {
	Logger zerolog.Logger

	// sortLiterals replaces sortByStart in tests.
	sortLiterals func([]annotations.Expression) []annotations.Expression
}

// Build uses a zero Builder.
func Build(files annotations.FileExpressions) Index {
	return Builder{}.Build(files)
}

// Build creates one Test per SpecAction. Each bucket's string literals are
// sorted once, on the first title lookup of one of its tests; a bucket with
// no tests never sorts.
func (b Builder) Build(files annotations.FileExpressions) Index {
	sortFn := b.sortLiterals
	if sortFn == nil {
		sortFn = sortByStart
	}

	index := make(Index, 0, len(files))
	for _, f := range files {
		literals := lazy.New(func() []annotations.Expression {
			return sortFn(filterKind(f.Exprs, annotations.StringLiteral))
		})

		var tests []*Test
		for _, expr := range filterKind(f.Exprs, annotations.SpecAction) {
			tests = append(tests, b.newTest(f.Path, expr.Range, literals))
		}
		index = append(index, FileTests{Path: f.Path, Tests: tests})
	}
	return index
}

func (b Builder) newTest(path string, rng annotations.Range, literals *lazy.Cell[[]annotations.Expression]) *Test {
	t := &Test{Range: rng, File: path, titles: map[string]titleMemo{}}
	t.titleRange = lazy.New(func() *annotations.Range {
		for _, lit := range literals.Get() {
			if !lit.Range.Start.Before(t.Range.Start) {
				found := lit.Range
				return &found
			}
		}
		b.Logger.Warn().
			Str("file", t.File).
			Int("line", t.Range.Start.Line).
			Int("character", t.Range.Start.Character).
			Msg("title not found for test")
		return nil
	})
	return t
}

func filterKind(exprs []annotations.Expression, kind annotations.Kind) []annotations.Expression {
	var out []annotations.Expression
	for _, e := range exprs {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func sortByStart(exprs []annotations.Expression) []annotations.Expression {
	sort.SliceStable(exprs, func(i, j int) bool {
		return exprs[i].Range.Start.Before(exprs[j].Range.Start)
	})
	return exprs
}
