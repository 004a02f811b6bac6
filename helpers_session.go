// calltips/helpers_session.go
// Contains the per-session UI loop and session record.
package calltips

import (
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// ============================================================================
// UI Loop
// ============================================================================

// uiLoop is a single goroutine that runs posted tasks in order. Everything that
// touches a session's DisplayState runs here. The queue is unbounded so Post never
// blocks and never reorders.
type uiLoop struct {
	mu       sync.Mutex
	queue    []func()
	closed   bool
	wake     chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

func newUILoop(logger *slog.Logger) *uiLoop {
	l := &uiLoop{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
	go l.run()
	return l
}

// Post schedules task without blocking the caller. It reports false once the loop is stopped.
func (l *uiLoop) Post(task func()) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Flush blocks until every task posted before it has run.
func (l *uiLoop) Flush() {
	ran := make(chan struct{})
	if !l.Post(func() { close(ran) }) {
		return
	}
	select {
	case <-ran:
	case <-l.stopped:
	}
}

// Stop ends the loop after the task currently running, if any. Queued tasks are dropped.
func (l *uiLoop) Stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	})
	<-l.stopped
}

func (l *uiLoop) run() {
	defer close(l.stopped)
	for {
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		if len(batch) == 0 {
			select {
			case <-l.done:
				return
			case <-l.wake:
			}
			continue
		}
		for _, task := range batch {
			select {
			case <-l.done:
				return
			default:
			}
			l.runTask(task)
		}
	}
}

func (l *uiLoop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Panic recovered in UI task", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}

// ============================================================================
// Editor Session
// ============================================================================

// editorSession is the state kept for one open document.
// caret and arbiter belong to the UI loop; focused is read by the trigger path.
type editorSession struct {
	id      SessionID
	ui      *uiLoop
	arbiter *DisplayArbiter
	focused atomic.Bool

	caret    LSPPosition
	hasCaret bool
}

func newEditorSession(id SessionID, presenter Presenter, cfg Config, logger *slog.Logger) *editorSession {
	sessLogger := logger.With("session", id)
	s := &editorSession{id: id, ui: newUILoop(sessLogger)}
	s.arbiter = NewDisplayArbiter(id, presenter, cfg.DisplayTimeout(), s.ui.Post, logger)
	s.focused.Store(true)
	return s
}
