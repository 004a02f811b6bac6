// calltips/helpers_extract_test.go
package calltips

import (
	"errors"
	"go/ast"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docRef(lines ...string) *DeclarationRef {
	group := &ast.CommentGroup{}
	for _, l := range lines {
		group.List = append(group.List, &ast.Comment{Text: l})
	}
	return &DeclarationRef{Doc: group, Language: languageGo}
}

func TestExtractFromSource(t *testing.T) {
	src := `package p

// greet says hello.
//
// @tips first line
// continues here
// @tips second
func greet() {}

// plain has documentation but no tips.
func plain() {}

func undocumented() {}

// @tips
func blank() {}

// @tips Use <b>carefully</b>
func bold() {}

/**
 * Adds numbers.
 * @tips Block tip
 * spanning lines
 */
func add() {}

// @tips directive-free
//go:noinline
func directive() {}

// @tipsy not ours
// @tips ours
func lookalike() {}

// @tips only this
// @see elsewhere
func otherTag() {}

type T struct{}

// @tips method tip
func (t *T) Do() {}

// Do at package level has no tips.
func Do() {}

type Greeter interface {
	// @tips interface tip
	Greet()
}
`
	tests := []struct {
		name       string
		funcName   string
		wantNil    bool
		wantText   string
		wantFormat TipsFormat
	}{
		{"Two tags merged with blank line", "greet", false, "first line\ncontinues here\n\nsecond", FormatPlainText},
		{"Doc without tags", "plain", true, "", ""},
		{"No doc at all", "undocumented", true, "", ""},
		{"Blank tag", "blank", true, "", ""},
		{"Markup detected", "bold", false, "Use <b>carefully</b>", FormatMarkup},
		{"Block comment", "add", false, "Block tip\nspanning lines", FormatPlainText},
		{"Compiler directive skipped", "directive", false, "directive-free", FormatPlainText},
		{"Tag prefix is not a match", "lookalike", false, "ours", FormatPlainText},
		{"Other tag ends the segment", "otherTag", false, "only this", FormatPlainText},
		{"Method by receiver", "T.Do", false, "method tip", FormatPlainText},
		{"Function, not the method", "Do", true, "", ""},
		{"Interface method", "Greeter.Greet", false, "interface tip", FormatPlainText},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractFromSource("p.go", []byte(src), tt.funcName, nil, discardLogger())
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantText, got.Content)
			assert.Equal(t, tt.wantFormat, got.Format)
		})
	}
}

func TestExtractFromSourceNotFound(t *testing.T) {
	_, err := ExtractFromSource("p.go", []byte("package p\n"), "missing", nil, discardLogger())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDeclarationNotFound))
}

func TestCustomAnnotationPatterns(t *testing.T) {
	src := `package p

// @note second-group
// @tips first-group
// @hint third-group
// @ignored nope
func f() {}
`
	cfg := DefaultConfig()
	cfg.CustomAnnotationPatterns = []string{"@note", "note", " hint ", "", "@tips"}
	got, err := ExtractFromSource("p.go", []byte(src), "f", NewConfigStore(cfg), discardLogger())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "first-group\n\nsecond-group\n\nthird-group", got.Content)
}

func TestTagNames(t *testing.T) {
	assert.Equal(t, []string{"tips"}, TagNames(nil))
	assert.Equal(t, []string{"tips", "note", "hint"}, TagNames([]string{"@note", "note", " @hint", "@", "tips"}))
}

func TestExtractAnnotationsOrdinals(t *testing.T) {
	lines := []string{"@tips", "@tips real", "@note n", "@tips again"}
	anns := extractAnnotations(lines, []string{"tips", "note"})
	require.Len(t, anns, 3)
	assert.Equal(t, TipsAnnotation{Marker: "tips", Content: "real", Ordinal: 2}, anns[0])
	assert.Equal(t, TipsAnnotation{Marker: "tips", Content: "again", Ordinal: 3}, anns[1])
	assert.Equal(t, TipsAnnotation{Marker: "note", Content: "n", Ordinal: 1}, anns[2])
}

func TestMergeAnnotations(t *testing.T) {
	assert.Nil(t, mergeAnnotations(nil))
	assert.Nil(t, mergeAnnotations([]TipsAnnotation{{Marker: "tips", Content: "  "}}))

	got := mergeAnnotations([]TipsAnnotation{{Marker: "tips", Content: "a"}, {Marker: "tips", Content: "b"}})
	require.NotNil(t, got)
	assert.Equal(t, "a\n\nb", got.Content)
	assert.Equal(t, FormatPlainText, got.Format)
}

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatPlainText, detectFormat("requires x < y"))
	assert.Equal(t, FormatMarkup, detectFormat("see <code>f</code>"))
	assert.Equal(t, FormatPlainText, detectFormat("plain"))
}

func TestSelectExtractor(t *testing.T) {
	extractors := NewExtractors(nil, discardLogger())

	block := SelectExtractor(extractors, docRef("/** @tips b */"))
	require.NotNil(t, block)
	assert.IsType(t, &BlockDocExtractor{}, block)

	line := SelectExtractor(extractors, docRef("// @tips l"))
	require.NotNil(t, line)
	assert.IsType(t, &LineDocExtractor{}, line)

	assert.Nil(t, SelectExtractor(extractors, &DeclarationRef{Language: languageGo}), "no doc")
	assert.Nil(t, SelectExtractor(extractors, nil))

	other := docRef("// @tips l")
	other.Language = "python"
	assert.Nil(t, SelectExtractor(extractors, other), "only Go declarations are supported")
}

func TestBlockExtractorSingleLine(t *testing.T) {
	got := (&BlockDocExtractor{logger: discardLogger()}).ExtractTipsFromMethod(docRef("/** @tips inline */"))
	require.NotNil(t, got)
	assert.Equal(t, "inline", got.Content)
}

func TestCommentLines(t *testing.T) {
	assert.Equal(t, []string{"hello"}, commentLines("// hello"))
	assert.Equal(t, []string{"", "a", "b", ""}, commentLines("/**\n * a\n * b\n */"))
	assert.Equal(t, []string{"x"}, commentLines("/* x */"))
}
