// calltips/helpers_resolver.go
// Contains the call resolver: caret offset -> call expression -> declaration.
package calltips

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/build"
	"go/token"
	"go/types"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/tools/go/ast/astutil"
)

// ============================================================================
// Call Resolver
// ============================================================================

// CallResolver maps a caret offset to the declaration of the call that just closed there.
// A nil result with a nil error means the text at offset is not a resolvable call.
type CallResolver interface {
	Resolve(ctx context.Context, uri DocumentURI, offset int) (*MethodCallInfo, error)
}

// GoCallResolver resolves Go calls with go/packages and go/types.
type GoCallResolver struct {
	docs   *DocumentStore
	cache  *MemoryCache
	ttl    atomic.Int64 // time.Duration of cached declaration parses
	logger *slog.Logger
}

// NewGoCallResolver creates a resolver reading buffers from docs. cache may be nil.
func NewGoCallResolver(docs *DocumentStore, cache *MemoryCache, cfg Config, logger *slog.Logger) *GoCallResolver {
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.MemoryCacheTTL
	if ttl <= 0 {
		ttl = time.Duration(defaultMemoryCacheTTLSecs) * time.Second
	}
	r := &GoCallResolver{
		docs:   docs,
		cache:  cache,
		logger: logger.With("component", "GoCallResolver"),
	}
	r.ttl.Store(int64(ttl))
	return r
}

// SetCacheTTL changes the lifetime of cached declaration parses. Entries stored under
// the old lifetime are dropped.
func (r *GoCallResolver) SetCacheTTL(ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Duration(defaultMemoryCacheTTLSecs) * time.Second
	}
	if old := time.Duration(r.ttl.Swap(int64(ttl))); old != ttl {
		r.logger.Debug("Declaration cache TTL changed", "from", old, "to", ttl)
		r.cache.Clear()
	}
}

// callSite is the syntactic result of locating a call in a buffer.
type callSite struct {
	lparen, rparen int // byte offsets of the delimiters
	calleeOffset   int // byte offset of the identifier naming the callee
	calleeName     string
}

// Resolve implements CallResolver. Panics are recovered into ErrPipelinePanic.
func (r *GoCallResolver) Resolve(ctx context.Context, uri DocumentURI, offset int) (info *MethodCallInfo, err error) {
	resolveLogger := r.logger.With("uri", uri, "offset", offset)
	defer func() {
		if p := recover(); p != nil {
			resolveLogger.Error("Panic recovered during call resolution", "panic", p, "stack", string(debug.Stack()))
			info = nil
			err = fmt.Errorf("%w: resolve: %v", ErrPipelinePanic, p)
		}
	}()

	var (
		snap *Snapshot
		site *callSite
	)
	err = r.docs.Read(uri, func(s *Snapshot) error {
		if s.Path == "" {
			return fmt.Errorf("document %s has no file path", uri)
		}
		snap = s
		site = findCallAt(s.Parsed, offset)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolveFailed, err)
	}
	if site == nil {
		resolveLogger.Debug("No complete call expression at offset")
		return nil, nil
	}
	resolveLogger = resolveLogger.With("callee", site.calleeName)

	overlay := r.docs.Overlay()
	// Pin the overlay to the synced snapshot so offsets agree with the parse above.
	overlay[snap.Path] = snap.Content
	loaded, err := loadPackageAndFile(ctx, snap.Path, overlay, resolveLogger)
	if err != nil {
		return nil, err
	}
	if site.calleeOffset >= loaded.Tok.Size() {
		return nil, fmt.Errorf("%w: loaded file is shorter than the synced buffer", ErrResolveFailed)
	}

	ident := identAt(loaded.File, loaded.Tok.Pos(site.calleeOffset))
	if ident == nil {
		resolveLogger.Debug("Callee identifier not found in type-checked syntax")
		return nil, nil
	}
	fn, ok := loaded.Pkg.TypesInfo.Uses[ident].(*types.Func)
	if !ok {
		// Builtins, conversions, function-typed variables and unresolved names.
		resolveLogger.Debug("Callee does not resolve to a declared function", "object", fmt.Sprintf("%T", loaded.Pkg.TypesInfo.Uses[ident]))
		return nil, nil
	}
	fn = fn.Origin()

	target, err := r.locateDeclaration(fn, loaded.Fset, resolveLogger)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, nil
	}

	info = &MethodCallInfo{
		CalleeName:                 fn.Name(),
		DeclaringTypeQualifiedName: declaringTypeName(fn),
		Signature:                  types.ObjectString(fn, types.RelativeTo(loaded.Pkg.Types)),
		Target:                     target,
	}
	resolveLogger.Debug("Call resolved", "declaring_type", info.DeclaringTypeQualifiedName, "decl_file", target.Filename)
	return info, nil
}

// findCallAt returns the innermost complete call whose closing parenthesis sits at
// offset-1 or offset. Incomplete or malformed calls yield nil.
func findCallAt(pf *ParsedFile, offset int) *callSite {
	if pf == nil || pf.File == nil || pf.Tok == nil {
		return nil
	}
	size := pf.Tok.Size()
	for _, rparenOffset := range []int{offset - 1, offset} {
		if rparenOffset < 0 || rparenOffset >= size || pf.Content[rparenOffset] != ')' {
			continue
		}
		pos := pf.Tok.Pos(rparenOffset)
		path, _ := astutil.PathEnclosingInterval(pf.File, pos, pos+1)
		for _, node := range path {
			call, ok := node.(*ast.CallExpr)
			if !ok || call.Rparen != pos {
				continue
			}
			if site := validateCall(pf, call); site != nil {
				return site
			}
			break
		}
	}
	return nil
}

func validateCall(pf *ParsedFile, call *ast.CallExpr) *callSite {
	if !call.Lparen.IsValid() || !call.Rparen.IsValid() {
		return nil
	}
	lparen, rparen := pf.Tok.Offset(call.Lparen), pf.Tok.Offset(call.Rparen)
	if pf.Content[lparen] != '(' || pf.Content[rparen] != ')' {
		return nil
	}

	start, end := pf.Tok.Offset(call.Pos()), pf.Tok.Offset(call.End())
	for _, perr := range pf.Errors {
		if perr.Pos.Offset >= start && perr.Pos.Offset < end {
			return nil
		}
	}
	hasBad := false
	ast.Inspect(call, func(n ast.Node) bool {
		switch n.(type) {
		case *ast.BadExpr, *ast.BadStmt, *ast.BadDecl:
			hasBad = true
		}
		return !hasBad
	})
	if hasBad {
		return nil
	}

	callee := calleeIdent(call.Fun)
	if callee == nil {
		return nil
	}
	return &callSite{
		lparen:       lparen,
		rparen:       rparen,
		calleeOffset: pf.Tok.Offset(callee.Pos()),
		calleeName:   callee.Name,
	}
}

// calleeIdent returns the identifier naming the called function, or nil when the
// callee is not a plain, qualified, instantiated or parenthesised name.
func calleeIdent(fun ast.Expr) *ast.Ident {
	switch f := astutil.Unparen(fun).(type) {
	case *ast.Ident:
		return f
	case *ast.SelectorExpr:
		return f.Sel
	case *ast.IndexExpr:
		return calleeIdent(f.X)
	case *ast.IndexListExpr:
		return calleeIdent(f.X)
	}
	return nil
}

// identAt finds the identifier starting exactly at pos.
func identAt(file *ast.File, pos token.Pos) *ast.Ident {
	path, _ := astutil.PathEnclosingInterval(file, pos, pos+1)
	for _, node := range path {
		if id, ok := node.(*ast.Ident); ok && id.Pos() == pos {
			return id
		}
	}
	return nil
}

// declaringTypeName is pkgpath.Type for methods (pointer receivers dereferenced) and
// the package path for package-level functions.
func declaringTypeName(fn *types.Func) string {
	sig, _ := fn.Type().(*types.Signature)
	if sig != nil && sig.Recv() != nil {
		t := sig.Recv().Type()
		if ptr, ok := t.(*types.Pointer); ok {
			t = ptr.Elem()
		}
		if named, ok := t.(*types.Named); ok {
			obj := named.Obj()
			if obj.Pkg() == nil {
				return obj.Name()
			}
			return obj.Pkg().Path() + "." + obj.Name()
		}
		return types.TypeString(t, nil)
	}
	if fn.Pkg() != nil {
		return fn.Pkg().Path()
	}
	return ""
}

// locateDeclaration parses the file declaring fn and returns the matching declaration node.
// Objects without source positions (universe methods) yield nil without error.
func (r *GoCallResolver) locateDeclaration(fn *types.Func, fset *token.FileSet, logger *slog.Logger) (*DeclarationRef, error) {
	if !fn.Pos().IsValid() {
		logger.Debug("Resolved function has no source position", "func", fn.FullName())
		return nil, nil
	}
	objPos := fset.Position(fn.Pos())
	filename := expandGoroot(objPos.Filename)
	if filename == "" {
		return nil, nil
	}

	content, fromBuffer := r.docs.ContentForPath(filename)
	if !fromBuffer {
		var err error
		content, err = os.ReadFile(filename)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Debug("Declaration file not on disk", "file", filename)
				return nil, nil
			}
			return nil, fmt.Errorf("%w: reading %s: %w", ErrResolveFailed, filename, err)
		}
	}

	cacheKey := fmt.Sprintf("decl:%s:%s", filename, hashContent(content))
	parsed, _, err := withMemoryCache[*ParsedFile](r.cache, cacheKey, estimateCost(content)*4, time.Duration(r.ttl.Load()), func() (*ParsedFile, error) {
		return parseBuffer(filename, content, 0)
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResolveFailed, err)
	}

	node, doc := findDeclarationNode(parsed, fn.Name(), objPos.Line, objPos.Column)
	if node == nil {
		return nil, fmt.Errorf("%w: %s at %s:%d", ErrDeclarationNotFound, fn.Name(), filename, objPos.Line)
	}
	return &DeclarationRef{
		Object:   fn,
		Node:     node,
		Doc:      doc,
		Fset:     parsed.Fset,
		Filename: filename,
		Language: languageGo,
	}, nil
}

// findDeclarationNode returns the FuncDecl or interface method Field named name at line:col,
// along with its doc comment. A name match on the same line is accepted when the
// column does not line up (export data may carry coarse columns).
func findDeclarationNode(pf *ParsedFile, name string, line, col int) (ast.Node, *ast.CommentGroup) {
	var (
		exactNode, lineNode ast.Node
		exactDoc, lineDoc   *ast.CommentGroup
	)
	consider := func(id *ast.Ident, node ast.Node, doc *ast.CommentGroup) {
		if id == nil || id.Name != name {
			return
		}
		p := pf.Fset.Position(id.Pos())
		if p.Line != line {
			return
		}
		if p.Column == col && exactNode == nil {
			exactNode, exactDoc = node, doc
		} else if lineNode == nil {
			lineNode, lineDoc = node, doc
		}
	}
	ast.Inspect(pf.File, func(n ast.Node) bool {
		switch d := n.(type) {
		case *ast.FuncDecl:
			consider(d.Name, d, d.Doc)
		case *ast.InterfaceType:
			if d.Methods != nil {
				for _, field := range d.Methods.List {
					for _, fieldName := range field.Names {
						consider(fieldName, field, field.Doc)
					}
				}
			}
		}
		return exactNode == nil
	})
	if exactNode != nil {
		return exactNode, exactDoc
	}
	return lineNode, lineDoc
}

// expandGoroot rewrites the $GOROOT prefix used by trimmed export data.
func expandGoroot(filename string) string {
	const gorootPrefix = "$GOROOT"
	if strings.HasPrefix(filename, gorootPrefix) {
		return filepath.Join(build.Default.GOROOT, strings.TrimPrefix(filename, gorootPrefix))
	}
	return filename
}
