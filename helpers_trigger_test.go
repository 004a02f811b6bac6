// calltips/helpers_trigger_test.go
package calltips

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// snapshotOf parses src as an open buffer at version 1.
func snapshotOf(t *testing.T, src string) *Snapshot {
	t.Helper()
	parsed, err := parseBuffer("/virtual/test.go", []byte(src), 1)
	require.NoError(t, err)
	return &Snapshot{URI: "file:///virtual/test.go", Path: "/virtual/test.go", Version: 1, Content: []byte(src), Parsed: parsed}
}

// offsetAfter returns the byte offset just past the first occurrence of marker.
func offsetAfter(t *testing.T, src, marker string) int {
	t.Helper()
	idx := strings.Index(src, marker)
	require.GreaterOrEqual(t, idx, 0, "marker %q not in source", marker)
	return idx + len(marker)
}

func newTestGate(now *time.Time) *TriggerGate {
	g := NewTriggerGate(DefaultConfig(), discardLogger())
	g.now = func() time.Time { return *now }
	return g
}

func TestTriggerGateDebounce(t *testing.T) {
	src := "package p\n\nfunc f() {\n\tg()\n\th()\n}\n"
	snap := snapshotOf(t, src)
	gOffset := offsetAfter(t, src, "g()")
	hOffset := offsetAfter(t, src, "h()")

	t0 := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	gate := newTestGate(&now)
	const session SessionID = "file:///virtual/test.go"

	assert.True(t, gate.Accept(session, ')', gOffset, snap, true), "first trigger")

	now = t0.Add(100 * time.Millisecond)
	assert.False(t, gate.Accept(session, ')', gOffset, snap, true), "same offset within window")
	assert.False(t, gate.Accept(session, ')', gOffset+1, snap, true), "adjacent offset within window")

	now = t0.Add(499 * time.Millisecond)
	assert.False(t, gate.Accept(session, ')', gOffset, snap, true), "just inside window")

	now = t0.Add(501 * time.Millisecond)
	assert.True(t, gate.Accept(session, ')', gOffset, snap, true), "window elapsed")

	now = t0.Add(510 * time.Millisecond)
	assert.True(t, gate.Accept(session, ')', hOffset, snap, true), "different call site inside window")

	// Sessions are debounced independently.
	assert.True(t, gate.Accept("file:///virtual/other.go", ')', hOffset, snap, true))
}

func TestTriggerGateRejections(t *testing.T) {
	src := `package p

// call() in a comment
func f() {
	s := "x()"
	c := ')'
	g()
	_, _ = s, c
}
`
	snap := snapshotOf(t, src)
	now := time.Now()

	tests := []struct {
		name    string
		ch      rune
		offset  int
		focused bool
		want    bool
	}{
		{"Complete call", ')', offsetAfter(t, src, "g()"), true, true},
		{"Other character", '(', offsetAfter(t, src, "g("), true, false},
		{"Editor not focused", ')', offsetAfter(t, src, "g()"), false, false},
		{"Inside line comment", ')', offsetAfter(t, src, "call()"), true, false},
		{"Inside string literal", ')', offsetAfter(t, src, `"x()`), true, false},
		{"Inside rune literal", ')', offsetAfter(t, src, `')`), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := newTestGate(&now)
			got := gate.Accept("s", tt.ch, tt.offset, snap, tt.focused)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTriggerGateRejectionDoesNotRecord(t *testing.T) {
	src := "package p\n\nfunc f() { g() }\n"
	snap := snapshotOf(t, src)
	offset := offsetAfter(t, src, "g()")
	now := time.Now()
	gate := newTestGate(&now)

	require.False(t, gate.Accept("s", ')', offset, snap, false))
	assert.True(t, gate.Accept("s", ')', offset, snap, true), "an unfocused rejection must not debounce the next trigger")
}

func TestTriggerGateForget(t *testing.T) {
	src := "package p\n\nfunc f() { g() }\n"
	snap := snapshotOf(t, src)
	offset := offsetAfter(t, src, "g()")
	now := time.Now()
	gate := newTestGate(&now)

	require.True(t, gate.Accept("s", ')', offset, snap, true))
	require.False(t, gate.Accept("s", ')', offset, snap, true))
	gate.Forget("s")
	assert.True(t, gate.Accept("s", ')', offset, snap, true))
}

func TestTriggerGateWithoutSyntax(t *testing.T) {
	now := time.Now()
	gate := newTestGate(&now)
	assert.True(t, gate.Accept("s", ')', 10, nil, true), "no parse available skips the comment check")
}

func TestTriggerGateUpdateConfig(t *testing.T) {
	src := "package p\n\nfunc f() { g() }\n"
	snap := snapshotOf(t, src)
	offset := offsetAfter(t, src, "g()")
	t0 := time.Now()
	now := t0
	gate := newTestGate(&now)

	cfg := DefaultConfig()
	cfg.DebounceWindowMs = 50
	gate.UpdateConfig(cfg)

	require.True(t, gate.Accept("s", ')', offset, snap, true))
	now = t0.Add(60 * time.Millisecond)
	assert.True(t, gate.Accept("s", ')', offset, snap, true))
}

func TestIsDuplicateTrigger(t *testing.T) {
	t0 := time.Now()
	prev := TriggerEvent{Session: "s", Offset: 100, Timestamp: t0}
	window := 500 * time.Millisecond

	assert.True(t, isDuplicateTrigger(prev, 100, t0.Add(10*time.Millisecond), window, 1))
	assert.True(t, isDuplicateTrigger(prev, 99, t0.Add(10*time.Millisecond), window, 1))
	assert.False(t, isDuplicateTrigger(prev, 102, t0.Add(10*time.Millisecond), window, 1))
	assert.False(t, isDuplicateTrigger(prev, 100, t0.Add(window), window, 1))
}
