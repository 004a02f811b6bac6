// calltips/helpers_display.go
// Contains the display arbiter: the per-session HIDDEN/SHOWING state machine.
package calltips

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ============================================================================
// Presenter (UI boundary)
// ============================================================================

// Presenter renders and removes the tip popup for one session.
type Presenter interface {
	ShowTip(ctx context.Context, session SessionID, content TipsContent, anchor LSPPosition) error
	HideTip(ctx context.Context, session SessionID) error
}

// ============================================================================
// Display Arbiter
// ============================================================================

// DisplayArbiter owns the DisplayState of one session.
// It is not safe for concurrent use: every method must run on the session's UI loop.
//
// Policy: a tip on screen is never interrupted. A new tip that arrives while another
// is showing (and has not yet reached its auto-dismiss point) is dropped.
type DisplayArbiter struct {
	session   SessionID
	presenter Presenter
	timeout   time.Duration
	post      func(task func()) bool // schedules onto the owning UI loop
	now       func() time.Time
	logger    *slog.Logger

	state      DisplayState
	generation uint64
	timer      *time.Timer
}

// NewDisplayArbiter creates an arbiter in the HIDDEN state. post must schedule a task on
// the same UI loop that calls the arbiter; auto-dismiss timers use it to rejoin.
func NewDisplayArbiter(session SessionID, presenter Presenter, timeout time.Duration, post func(func()) bool, logger *slog.Logger) *DisplayArbiter {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = time.Duration(defaultDisplayTimeoutMs) * time.Millisecond
	}
	return &DisplayArbiter{
		session:   session,
		presenter: presenter,
		timeout:   timeout,
		post:      post,
		now:       time.Now,
		logger:    logger.With("component", "DisplayArbiter", "session", session),
	}
}

// State returns a copy of the current display state.
func (a *DisplayArbiter) State() DisplayState { return a.state }

// SetTimeout changes the auto-dismiss delay for tips shown from now on.
func (a *DisplayArbiter) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		a.timeout = timeout
	}
}

// CanShowNewTip reports whether content may be shown now. It is false while another tip
// is on screen and younger than the display timeout.
func (a *DisplayArbiter) CanShowNewTip(content *TipsContent) bool {
	if content == nil {
		return false
	}
	if !a.state.Showing() {
		return true
	}
	return a.expired()
}

func (a *DisplayArbiter) expired() bool {
	return a.state.Showing() && a.now().Sub(a.state.ShownAt) >= a.timeout
}

// ShowTip displays content anchored at anchor and reports whether the state changed.
// Showing the identical content again is a no-op. A tip that outlived its timeout
// without the timer firing yet is hidden first.
func (a *DisplayArbiter) ShowTip(ctx context.Context, content *TipsContent, anchor LSPPosition) (bool, error) {
	if content == nil {
		return false, nil
	}
	if a.state.Showing() && *a.state.Shown == *content {
		a.logger.Debug("Tip already showing, ignoring duplicate show")
		return false, nil
	}
	if !a.CanShowNewTip(content) {
		a.logger.Debug("Tip suppressed: another tip is showing")
		return false, nil
	}
	if a.state.Showing() {
		if err := a.HideTip(ctx, HideReplaced); err != nil {
			a.logger.Warn("Hiding expired tip failed", "error", err)
		}
	}

	if err := a.presenter.ShowTip(ctx, a.session, *content, anchor); err != nil {
		return false, fmt.Errorf("%w: show: %w", ErrPresenter, err)
	}
	shown := *content
	pos := anchor
	a.state = DisplayState{Shown: &shown, ShownAt: a.now(), Anchor: &pos}
	a.armTimer()
	a.logger.Debug("Tip shown", "line", anchor.Line, "character", anchor.Character, "format", content.Format)
	return true, nil
}

// HideTip dismisses the visible tip. Calling it while HIDDEN is a no-op.
// The state becomes HIDDEN even when the presenter fails.
func (a *DisplayArbiter) HideTip(ctx context.Context, reason HideReason) error {
	if !a.state.Showing() {
		return nil
	}
	a.disarmTimer()
	a.state = DisplayState{}
	a.logger.Debug("Hiding tip", "reason", reason)
	if err := a.presenter.HideTip(ctx, a.session); err != nil {
		return fmt.Errorf("%w: hide: %w", ErrPresenter, err)
	}
	return nil
}

// OnCaretMoved hides the tip when the caret leaves its anchor.
func (a *DisplayArbiter) OnCaretMoved(ctx context.Context, pos LSPPosition) error {
	if !a.state.Showing() || a.state.Anchor == nil || *a.state.Anchor == pos {
		return nil
	}
	return a.HideTip(ctx, HideCaretMoved)
}

func (a *DisplayArbiter) armTimer() {
	a.disarmTimer()
	gen := a.generation
	a.timer = time.AfterFunc(a.timeout, func() {
		if a.post == nil {
			return
		}
		a.post(func() {
			// A newer show or an explicit hide bumped the generation.
			if a.generation != gen || !a.state.Showing() {
				return
			}
			if err := a.HideTip(context.Background(), HideTimeout); err != nil {
				a.logger.Warn("Auto-dismiss failed", "error", err)
			}
		})
	})
}

func (a *DisplayArbiter) disarmTimer() {
	a.generation++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
