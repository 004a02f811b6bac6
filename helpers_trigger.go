// calltips/helpers_trigger.go
// Contains the trigger gate: the cheap synchronous filter in front of the pipeline.
package calltips

import (
	"go/ast"
	"go/token"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/tools/go/ast/astutil"
)

// ============================================================================
// Trigger Gate
// ============================================================================

// TriggerGate admits at most one trigger per keystroke per session.
// Safe for concurrent use; the debounce record is guarded by mu.
type TriggerGate struct {
	mu           sync.Mutex
	window       time.Duration
	offsetWindow int
	last         map[SessionID]TriggerEvent
	now          func() time.Time
	logger       *slog.Logger
}

// NewTriggerGate creates a gate using the debounce settings of cfg.
func NewTriggerGate(cfg Config, logger *slog.Logger) *TriggerGate {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerGate{
		window:       cfg.DebounceWindow(),
		offsetWindow: cfg.DebounceOffsetWindow,
		last:         make(map[SessionID]TriggerEvent),
		now:          time.Now,
		logger:       logger.With("component", "TriggerGate"),
	}
}

// UpdateConfig swaps the debounce windows.
func (g *TriggerGate) UpdateConfig(cfg Config) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.window = cfg.DebounceWindow()
	g.offsetWindow = cfg.DebounceOffsetWindow
}

// Accept decides whether a typed character at offset starts a pipeline run.
// offset is the caret position after the character was inserted. snap may be nil
// when no parse is available, in which case the comment/literal check is skipped.
func (g *TriggerGate) Accept(session SessionID, charTyped rune, offset int, snap *Snapshot, focused bool) bool {
	gateLogger := g.logger.With("session", session, "offset", offset)
	if charTyped != CallCompletionChar {
		return false
	}
	if !focused {
		gateLogger.Debug("Trigger rejected: no active caret")
		return false
	}
	if snap != nil && snap.Parsed != nil && insideCommentOrLiteral(snap.Parsed, offset-1) {
		gateLogger.Debug("Trigger rejected: inside comment or string literal")
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if prev, seen := g.last[session]; seen && isDuplicateTrigger(prev, offset, now, g.window, g.offsetWindow) {
		gateLogger.Debug("Trigger rejected: duplicate", "last_offset", prev.Offset, "since_last", now.Sub(prev.Timestamp))
		return false
	}
	// Recorded before any pipeline work so a slow run cannot admit the same keystroke twice.
	g.last[session] = TriggerEvent{Session: session, Offset: offset, Timestamp: now}
	return true
}

// Forget drops the debounce record of a closed session.
func (g *TriggerGate) Forget(session SessionID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.last, session)
}

func isDuplicateTrigger(prev TriggerEvent, offset int, now time.Time, window time.Duration, offsetWindow int) bool {
	delta := offset - prev.Offset
	if delta < 0 {
		delta = -delta
	}
	return now.Sub(prev.Timestamp) < window && delta <= offsetWindow
}

// insideCommentOrLiteral reports whether offset lies in a comment or a string/char literal.
// The walk goes upward from the innermost node and stops at the first function, declaration
// or file boundary.
func insideCommentOrLiteral(pf *ParsedFile, offset int) bool {
	if pf == nil || pf.File == nil || pf.Tok == nil {
		return false
	}
	if offset < 0 || offset >= pf.Tok.Size() {
		return false
	}
	pos := pf.Tok.Pos(offset)

	for _, cg := range pf.File.Comments {
		if cg.Pos() <= pos && pos < cg.End() {
			return true
		}
	}

	path, _ := astutil.PathEnclosingInterval(pf.File, pos, pos+1)
	for _, node := range path {
		switch n := node.(type) {
		case *ast.BasicLit:
			if (n.Kind == token.STRING || n.Kind == token.CHAR) && n.Pos() <= pos && pos < n.End() {
				if _, err := strconv.Unquote(n.Value); err == nil {
					return true
				}
			}
		case *ast.FuncDecl, *ast.FuncLit, *ast.GenDecl, *ast.File:
			return false
		}
	}
	return false
}
