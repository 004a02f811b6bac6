// calltips/helpers_extract.go
// Contains the annotation extractors that pull @tips content out of doc comments.
package calltips

import (
	"fmt"
	"go/ast"
	"log/slog"
	"regexp"
	"strings"
)

// ============================================================================
// Annotation Extraction
// ============================================================================

// TipsExtractor is one documentation convention. The service asks each extractor in
// order and uses the first whose Supports returns true.
type TipsExtractor interface {
	Supports(decl *DeclarationRef) bool
	ExtractTipsFromMethod(decl *DeclarationRef) *TipsContent
}

var (
	// tagLineRegex matches a line that opens a tag: "@name" then whitespace or end of line.
	tagLineRegex = regexp.MustCompile(`^@([A-Za-z_][\w.\-]*)(?:\s+(.*))?$`)
	// markupRegex is a heuristic, not a parser: anything shaped like <...> counts as markup.
	markupRegex = regexp.MustCompile(`<[^>]+>`)
)

// NewExtractors returns the supported conventions in selection order.
func NewExtractors(config ConfigSource, logger *slog.Logger) []TipsExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return []TipsExtractor{
		&BlockDocExtractor{config: config, logger: logger.With("component", "BlockDocExtractor")},
		&LineDocExtractor{config: config, logger: logger.With("component", "LineDocExtractor")},
	}
}

// SelectExtractor returns the first extractor supporting decl, or nil.
func SelectExtractor(extractors []TipsExtractor, decl *DeclarationRef) TipsExtractor {
	for _, ex := range extractors {
		if ex != nil && ex.Supports(decl) {
			return ex
		}
	}
	return nil
}

// BlockDocExtractor handles doc blocks written as /** ... */ with a leading '*' per line.
type BlockDocExtractor struct {
	config ConfigSource
	logger *slog.Logger
}

// Supports reports whether the doc block of decl opens with a block comment.
func (e *BlockDocExtractor) Supports(decl *DeclarationRef) bool {
	return hasDoc(decl) && strings.HasPrefix(decl.Doc.List[0].Text, "/*")
}

// ExtractTipsFromMethod returns the merged tips of decl, or nil when there are none.
func (e *BlockDocExtractor) ExtractTipsFromMethod(decl *DeclarationRef) *TipsContent {
	if !hasDoc(decl) {
		return nil
	}
	var lines []string
	for _, c := range decl.Doc.List {
		lines = append(lines, commentLines(c.Text)...)
	}
	return extractTips(lines, e.config, e.logger)
}

// LineDocExtractor handles doc blocks written as consecutive // comments.
// Compiler directives (//go:..., //line ...) are not documentation and are skipped.
type LineDocExtractor struct {
	config ConfigSource
	logger *slog.Logger
}

// Supports reports whether the doc block of decl opens with a line comment.
func (e *LineDocExtractor) Supports(decl *DeclarationRef) bool {
	return hasDoc(decl) && strings.HasPrefix(decl.Doc.List[0].Text, "//")
}

// ExtractTipsFromMethod returns the merged tips of decl, or nil when there are none.
func (e *LineDocExtractor) ExtractTipsFromMethod(decl *DeclarationRef) *TipsContent {
	if !hasDoc(decl) {
		return nil
	}
	var lines []string
	for _, c := range decl.Doc.List {
		if isDirective(c.Text) {
			continue
		}
		lines = append(lines, commentLines(c.Text)...)
	}
	return extractTips(lines, e.config, e.logger)
}

func hasDoc(decl *DeclarationRef) bool {
	return decl != nil && decl.Language == languageGo && decl.Doc != nil && len(decl.Doc.List) > 0
}

func isDirective(text string) bool {
	return strings.HasPrefix(text, "//go:") || strings.HasPrefix(text, "//line ")
}

// commentLines strips comment delimiters and the leading '*' continuation marker
// from one raw comment, returning its lines trimmed.
func commentLines(text string) []string {
	var body string
	switch {
	case strings.HasPrefix(text, "//"):
		body = strings.TrimPrefix(text, "//")
	case strings.HasPrefix(text, "/*"):
		body = strings.TrimSuffix(text, "*/")
		if strings.HasPrefix(body, "/**") {
			body = strings.TrimPrefix(body, "/**")
		} else {
			body = strings.TrimPrefix(body, "/*")
		}
	default:
		body = text
	}

	raw := strings.Split(body, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "*")
		lines = append(lines, strings.TrimSpace(line))
	}
	return lines
}

// TagNames returns {"tips"} followed by the normalised custom patterns, without duplicates.
func TagNames(customPatterns []string) []string {
	names := []string{DefaultTagName}
	seen := map[string]bool{DefaultTagName: true}
	for _, p := range customPatterns {
		name := normalizeAnnotationPattern(p)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

func normalizeAnnotationPattern(pattern string) string {
	p := strings.TrimSpace(pattern)
	p = strings.TrimPrefix(p, "@")
	return strings.TrimSpace(p)
}

func extractTips(lines []string, config ConfigSource, logger *slog.Logger) *TipsContent {
	var patterns []string
	if config != nil {
		patterns = config.GetCustomAnnotationPatterns()
	}
	anns := extractAnnotations(lines, TagNames(patterns))
	content := mergeAnnotations(anns)
	if logger != nil {
		logger.Debug("Extracted annotations", "count", len(anns), "found", content != nil)
	}
	return content
}

type tagSegment struct {
	name  string
	lines []string
}

// extractAnnotations collects every non-blank occurrence of tagNames in lines.
// Results are grouped by tag name (in tagNames order), source order within a group.
func extractAnnotations(lines []string, tagNames []string) []TipsAnnotation {
	var segments []*tagSegment
	var current *tagSegment
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if m := tagLineRegex.FindStringSubmatch(line); m != nil {
			current = &tagSegment{name: m[1], lines: []string{m[2]}}
			segments = append(segments, current)
			continue
		}
		if current != nil {
			current.lines = append(current.lines, line)
		}
	}

	var anns []TipsAnnotation
	for _, name := range tagNames {
		ordinal := 0
		for _, seg := range segments {
			if seg.name != name {
				continue
			}
			ordinal++
			content := joinContentLines(seg.lines)
			if content == "" {
				continue
			}
			anns = append(anns, TipsAnnotation{Marker: name, Content: content, Ordinal: ordinal})
		}
	}
	return anns
}

func joinContentLines(lines []string) string {
	kept := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "*"))
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

// mergeAnnotations joins annotation contents with a blank line. No annotations, no tip.
func mergeAnnotations(anns []TipsAnnotation) *TipsContent {
	parts := make([]string, 0, len(anns))
	for _, a := range anns {
		if strings.TrimSpace(a.Content) != "" {
			parts = append(parts, a.Content)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	merged := strings.Join(parts, "\n\n")
	return &TipsContent{Content: merged, Format: detectFormat(merged)}
}

func detectFormat(content string) TipsFormat {
	if markupRegex.MatchString(content) {
		return FormatMarkup
	}
	return FormatPlainText
}

// docText flattens a comment group for diagnostics output.
func docText(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

// ExtractFromSource parses src and extracts the tips of the function or method called
// name. Methods may be qualified as "Type.Method"; interface methods are matched by
// method name. A nil result means the declaration has no tips.
func ExtractFromSource(filename string, src []byte, name string, config ConfigSource, logger *slog.Logger) (*TipsContent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parsed, err := parseBuffer(filename, src, 0)
	if err != nil {
		return nil, err
	}
	recvName, funcName := "", name
	if i := strings.LastIndex(name, "."); i >= 0 {
		recvName, funcName = name[:i], name[i+1:]
	}

	var decl *DeclarationRef
	ast.Inspect(parsed.File, func(n ast.Node) bool {
		if decl != nil {
			return false
		}
		switch d := n.(type) {
		case *ast.FuncDecl:
			if d.Name.Name == funcName && receiverTypeName(d) == recvName {
				decl = &DeclarationRef{Node: d, Doc: d.Doc, Fset: parsed.Fset, Filename: filename, Language: languageGo}
			}
		case *ast.TypeSpec:
			iface, ok := d.Type.(*ast.InterfaceType)
			if !ok || iface.Methods == nil || (recvName != "" && recvName != d.Name.Name) {
				return true
			}
			for _, field := range iface.Methods.List {
				for _, id := range field.Names {
					if id.Name == funcName {
						decl = &DeclarationRef{Node: field, Doc: field.Doc, Fset: parsed.Fset, Filename: filename, Language: languageGo}
						return false
					}
				}
			}
		}
		return true
	})
	if decl == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrDeclarationNotFound, name, filename)
	}
	logger.Debug("Declaration found", "name", name, "doc", docText(decl.Doc))
	ex := SelectExtractor(NewExtractors(config, logger), decl)
	if ex == nil {
		logger.Debug("Declaration has no doc comment", "name", name, "file", filename)
		return nil, nil
	}
	return ex.ExtractTipsFromMethod(decl), nil
}

// receiverTypeName returns the base type name of a method receiver, "" for functions.
func receiverTypeName(fd *ast.FuncDecl) string {
	if fd.Recv == nil || len(fd.Recv.List) == 0 {
		return ""
	}
	t := fd.Recv.List[0].Type
	for {
		switch x := t.(type) {
		case *ast.StarExpr:
			t = x.X
		case *ast.IndexExpr:
			t = x.X
		case *ast.IndexListExpr:
			t = x.X
		case *ast.ParenExpr:
			t = x.X
		case *ast.Ident:
			return x.Name
		default:
			return ""
		}
	}
}
