// calltips/helpers_display_test.go
package calltips

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePresenter records every show and hide it receives.
type fakePresenter struct {
	mu      sync.Mutex
	shows   []TipsContent
	anchors []LSPPosition
	hides   int
	showErr error
	hideErr error
}

func (p *fakePresenter) ShowTip(ctx context.Context, session SessionID, content TipsContent, anchor LSPPosition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.showErr != nil {
		return p.showErr
	}
	p.shows = append(p.shows, content)
	p.anchors = append(p.anchors, anchor)
	return nil
}

func (p *fakePresenter) HideTip(ctx context.Context, session SessionID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hides++
	return p.hideErr
}

func (p *fakePresenter) showCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.shows)
}

func (p *fakePresenter) hideCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hides
}

func (p *fakePresenter) lastShow() (TipsContent, LSPPosition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shows[len(p.shows)-1], p.anchors[len(p.anchors)-1]
}

func noopPost(func()) bool { return true }

// newTestArbiter returns an arbiter with a controllable clock and a long timeout
// whose timer never rejoins a loop.
func newTestArbiter(presenter Presenter, now *time.Time) *DisplayArbiter {
	a := NewDisplayArbiter("s", presenter, 8*time.Second, noopPost, discardLogger())
	a.now = func() time.Time { return *now }
	return a
}

func tip(text string) *TipsContent {
	return &TipsContent{Content: text, Format: FormatPlainText}
}

func TestDisplayArbiterShowAndHide(t *testing.T) {
	ctx := context.Background()
	presenter := &fakePresenter{}
	now := time.Now()
	a := newTestArbiter(presenter, &now)
	anchor := LSPPosition{Line: 3, Character: 14}

	assert.False(t, a.State().Showing())
	assert.True(t, a.CanShowNewTip(tip("A")))
	assert.False(t, a.CanShowNewTip(nil))

	shown, err := a.ShowTip(ctx, tip("A"), anchor)
	require.NoError(t, err)
	assert.True(t, shown)
	state := a.State()
	require.True(t, state.Showing())
	assert.Equal(t, "A", state.Shown.Content)
	assert.Equal(t, anchor, *state.Anchor)
	assert.Equal(t, now, state.ShownAt)
	assert.Equal(t, 1, presenter.showCount())

	require.NoError(t, a.HideTip(ctx, HideExplicit))
	assert.False(t, a.State().Showing())
	assert.Equal(t, 1, presenter.hideCount())

	require.NoError(t, a.HideTip(ctx, HideExplicit), "hiding while hidden is a no-op")
	assert.Equal(t, 1, presenter.hideCount())
}

func TestDisplayArbiterIdenticalShowIsNoop(t *testing.T) {
	ctx := context.Background()
	presenter := &fakePresenter{}
	now := time.Now()
	a := newTestArbiter(presenter, &now)

	_, err := a.ShowTip(ctx, tip("A"), LSPPosition{Line: 1})
	require.NoError(t, err)
	shown, err := a.ShowTip(ctx, tip("A"), LSPPosition{Line: 1})
	require.NoError(t, err)
	assert.False(t, shown)
	assert.Equal(t, 1, presenter.showCount())
	assert.Equal(t, 0, presenter.hideCount())
}

func TestDisplayArbiterSuppressesWhileShowing(t *testing.T) {
	ctx := context.Background()
	presenter := &fakePresenter{}
	t0 := time.Now()
	now := t0
	a := newTestArbiter(presenter, &now)

	_, err := a.ShowTip(ctx, tip("A"), LSPPosition{Line: 1})
	require.NoError(t, err)

	now = t0.Add(2 * time.Second)
	assert.False(t, a.CanShowNewTip(tip("B")))
	shown, err := a.ShowTip(ctx, tip("B"), LSPPosition{Line: 2})
	require.NoError(t, err)
	assert.False(t, shown)
	assert.Equal(t, "A", a.State().Shown.Content, "the visible tip is not interrupted")

	// Past the display timeout the old tip no longer blocks; it is hidden first.
	now = t0.Add(8 * time.Second)
	assert.True(t, a.CanShowNewTip(tip("B")))
	shown, err = a.ShowTip(ctx, tip("B"), LSPPosition{Line: 2})
	require.NoError(t, err)
	assert.True(t, shown)
	assert.Equal(t, 1, presenter.hideCount())
	assert.Equal(t, 2, presenter.showCount())
	assert.Equal(t, "B", a.State().Shown.Content)
}

func TestDisplayArbiterOnCaretMoved(t *testing.T) {
	ctx := context.Background()
	presenter := &fakePresenter{}
	now := time.Now()
	a := newTestArbiter(presenter, &now)
	anchor := LSPPosition{Line: 5, Character: 9}

	require.NoError(t, a.OnCaretMoved(ctx, LSPPosition{Line: 1}), "no tip, nothing to hide")

	_, err := a.ShowTip(ctx, tip("A"), anchor)
	require.NoError(t, err)

	require.NoError(t, a.OnCaretMoved(ctx, anchor))
	assert.True(t, a.State().Showing(), "caret still at the anchor")

	require.NoError(t, a.OnCaretMoved(ctx, LSPPosition{Line: 5, Character: 10}))
	assert.False(t, a.State().Showing())
	assert.Equal(t, 1, presenter.hideCount())
}

func TestDisplayArbiterPresenterErrors(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	failing := &fakePresenter{showErr: errors.New("no window")}
	a := newTestArbiter(failing, &now)
	shown, err := a.ShowTip(ctx, tip("A"), LSPPosition{})
	assert.False(t, shown)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPresenter))
	assert.False(t, a.State().Showing())

	hideFails := &fakePresenter{hideErr: errors.New("gone")}
	b := newTestArbiter(hideFails, &now)
	_, err = b.ShowTip(ctx, tip("A"), LSPPosition{})
	require.NoError(t, err)
	err = b.HideTip(ctx, HideExplicit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPresenter))
	assert.False(t, b.State().Showing(), "state is hidden even when the presenter fails")
}

func TestDisplayArbiterAutoDismiss(t *testing.T) {
	presenter := &fakePresenter{}
	loop := newUILoop(discardLogger())
	defer loop.Stop()

	a := NewDisplayArbiter("s", presenter, 20*time.Millisecond, loop.Post, discardLogger())
	onLoop(loop, func() {
		_, err := a.ShowTip(context.Background(), tip("A"), LSPPosition{Line: 1})
		assert.NoError(t, err)
	})

	assert.Eventually(t, func() bool {
		var showing bool
		onLoop(loop, func() { showing = a.State().Showing() })
		return !showing
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, presenter.hideCount())
}

func TestDisplayArbiterStaleTimerIgnored(t *testing.T) {
	presenter := &fakePresenter{}
	loop := newUILoop(discardLogger())
	defer loop.Stop()

	a := NewDisplayArbiter("s", presenter, 30*time.Millisecond, loop.Post, discardLogger())
	onLoop(loop, func() {
		_, _ = a.ShowTip(context.Background(), tip("A"), LSPPosition{Line: 1})
		_ = a.HideTip(context.Background(), HideExplicit)
	})
	time.Sleep(80 * time.Millisecond)
	loop.Flush()
	assert.Equal(t, 1, presenter.hideCount(), "the cancelled timer must not hide again")
}

// onLoop runs fn on loop and waits for it.
func onLoop(loop *uiLoop, fn func()) {
	loop.Post(fn)
	loop.Flush()
}

func TestUILoopOrderAndRecovery(t *testing.T) {
	loop := newUILoop(discardLogger())

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		loop.Post(func() { got = append(got, i) })
	}
	loop.Post(func() { panic("boom") })
	loop.Post(func() { got = append(got, 99) })
	loop.Flush()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 99}, got)

	loop.Stop()
	assert.False(t, loop.Post(func() {}), "posting after stop is refused")
	loop.Flush() // must not block
	loop.Stop()  // idempotent
}

func TestUILoopKeepsOrderUnderBacklog(t *testing.T) {
	loop := newUILoop(discardLogger())
	defer loop.Stop()

	release := make(chan struct{})
	loop.Post(func() { <-release })

	const n = 500
	var got []int
	for i := 0; i < n; i++ {
		i := i
		require.True(t, loop.Post(func() { got = append(got, i) }), "Post never blocks or refuses while running")
	}
	close(release)
	loop.Flush()

	require.Len(t, got, n)
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}
