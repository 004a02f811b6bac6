// calltips/calltips.go
// Contains the tip service: the pipeline from a typed ')' to a displayed tip.
package calltips

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/sync/semaphore"
)

// =============================================================================
// Tip Service
// =============================================================================

// ServiceStats is a snapshot of the service counters.
type ServiceStats struct {
	TriggersAdmitted int64 `json:"triggers_admitted"`
	TriggersRejected int64 `json:"triggers_rejected"`
	TipsShown        int64 `json:"tips_shown"`
	TipsSuppressed   int64 `json:"tips_suppressed"`
	PipelineErrors   int64 `json:"pipeline_errors"`
	Workers          int   `json:"workers"`
	Sessions         int   `json:"sessions"`
	Documents        int   `json:"documents"`
}

// workerPool bounds concurrent pipeline runs. A run releases the pool it acquired,
// so swapping in a resized pool never disturbs runs in flight.
type workerPool struct {
	sem  *semaphore.Weighted
	size int
}

func newWorkerPool(size int) *workerPool {
	return &workerPool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

type serviceCounters struct {
	admitted, rejected, shown, suppressed, errors atomic.Int64
}

// TipService wires the trigger gate, call resolver, extractors and display arbiters.
// Every exported method is safe for concurrent use and never panics into the caller.
type TipService struct {
	config     *ConfigStore
	docs       *DocumentStore
	cache      *MemoryCache
	gate       *TriggerGate
	resolver   CallResolver
	extractors []TipsExtractor
	presenter  Presenter

	sessions cmap.ConcurrentMap[string, *editorSession]
	pool     atomic.Pointer[workerPool]
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	now      func() time.Time
	counters serviceCounters
	logger   *slog.Logger
}

// TipServiceOption customises a TipService at construction.
type TipServiceOption func(*TipService)

// WithResolver replaces the go/packages resolver.
func WithResolver(r CallResolver) TipServiceOption {
	return func(s *TipService) { s.resolver = r }
}

// WithClock replaces time.Now for the gate, the service and new arbiters.
func WithClock(now func() time.Time) TipServiceOption {
	return func(s *TipService) {
		s.now = now
		s.gate.now = now
	}
}

// NewTipService creates a service that renders through presenter.
func NewTipService(cfg Config, presenter Presenter, logger *slog.Logger, opts ...TipServiceOption) *TipService {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(logger); err != nil {
		logger.Warn("Invalid configuration values replaced with defaults", "error", err)
	}
	serviceLogger := logger.With("component", "TipService")
	ctx, cancel := context.WithCancel(context.Background())

	config := NewConfigStore(cfg)
	docs := NewDocumentStore(logger)
	cache := NewMemoryCache(0, logger)
	s := &TipService{
		config:     config,
		docs:       docs,
		cache:      cache,
		gate:       NewTriggerGate(cfg, logger),
		resolver:   NewGoCallResolver(docs, cache, cfg, logger),
		extractors: NewExtractors(config, logger),
		presenter:  presenter,
		sessions:   cmap.New[*editorSession](),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
		logger:     serviceLogger,
	}
	s.pool.Store(newWorkerPool(cfg.Workers))
	for _, opt := range opts {
		opt(s)
	}
	serviceLogger.Info("Tip service initialised", "workers", cfg.Workers, "tag_names", TagNames(cfg.CustomAnnotationPatterns))
	return s
}

// Docs returns the document store backing the service.
func (s *TipService) Docs() *DocumentStore { return s.docs }

// Config returns the live configuration source.
func (s *TipService) Config() *ConfigStore { return s.config }

// TagNames returns the tag names currently recognised.
func (s *TipService) TagNames() []string {
	return TagNames(s.config.GetCustomAnnotationPatterns())
}

// UpdateConfig applies a new configuration to every component.
func (s *TipService) UpdateConfig(cfg Config) {
	if err := cfg.Validate(s.logger); err != nil {
		s.logger.Warn("Invalid configuration values replaced with defaults", "error", err)
	}
	s.config.Set(cfg)
	s.gate.UpdateConfig(cfg)
	if current := s.pool.Load(); current.size != cfg.Workers {
		s.pool.Store(newWorkerPool(cfg.Workers))
		s.logger.Info("Worker pool resized", "from", current.size, "to", cfg.Workers)
	}
	if r, ok := s.resolver.(*GoCallResolver); ok {
		r.SetCacheTTL(cfg.MemoryCacheTTL)
	}
	timeout := cfg.DisplayTimeout()
	s.sessions.IterCb(func(_ string, sess *editorSession) {
		sess.ui.Post(func() { sess.arbiter.SetTimeout(timeout) })
	})
	if !cfg.Enabled {
		s.hideAll(HideExplicit)
	}
	s.logger.Info("Configuration updated", "enabled", cfg.Enabled, "tag_names", TagNames(cfg.CustomAnnotationPatterns))
}

// =============================================================================
// Session lifecycle
// =============================================================================

// OpenDocument starts tracking a buffer and its editor session.
func (s *TipService) OpenDocument(uri DocumentURI, path string, version int, content []byte) {
	s.docs.Open(uri, path, version, content)
	s.session(uri)
}

// ChangeDocument replaces a tracked buffer. Stale versions are ignored.
func (s *TipService) ChangeDocument(uri DocumentURI, path string, version int, content []byte) bool {
	return s.docs.Update(uri, path, version, content)
}

// CloseDocument hides any tip, stops the session and forgets its state.
func (s *TipService) CloseDocument(uri DocumentURI) {
	if sess, ok := s.sessions.Pop(string(uri)); ok {
		sess.ui.Post(func() {
			if err := sess.arbiter.HideTip(s.ctx, HideFileClosed); err != nil {
				s.logger.Warn("Hiding tip on close failed", "session", sess.id, "error", err)
			}
		})
		sess.ui.Flush()
		sess.ui.Stop()
	}
	s.gate.Forget(SessionID(uri))
	s.docs.Close(uri)
}

// session returns the session for uri, creating it on first sight.
func (s *TipService) session(uri DocumentURI) *editorSession {
	return s.sessions.Upsert(string(uri), nil, func(exists bool, current, _ *editorSession) *editorSession {
		if exists && current != nil {
			return current
		}
		sess := newEditorSession(SessionID(uri), s.presenter, s.config.Get(), s.logger)
		sess.arbiter.now = s.now
		s.logger.Debug("Session created", "session", uri)
		return sess
	})
}

// =============================================================================
// Host events
// =============================================================================

// HandleCharTyped is the typed-character entry point. caret is the position after
// the inserted character. It returns immediately; the report is whether a pipeline
// run was admitted.
func (s *TipService) HandleCharTyped(uri DocumentURI, ch rune, caret LSPPosition) (admitted bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in HandleCharTyped", "panic", r, "stack", string(debug.Stack()))
			admitted = false
		}
	}()
	if ch != CallCompletionChar || !s.config.IsPluginEnabled() {
		return false
	}

	var (
		sess     *editorSession
		offset   int
		accepted bool
	)
	err := s.docs.Read(uri, func(snap *Snapshot) error {
		_, _, off, err := LspPositionToBytePosition(snap.Content, caret)
		if err != nil {
			return err
		}
		offset = off
		sess = s.session(uri)
		accepted = s.gate.Accept(sess.id, ch, offset, snap, sess.focused.Load())
		return nil
	})
	if err != nil {
		s.logger.Debug("Trigger ignored: document or caret unavailable", "uri", uri, "error", err)
		s.counters.rejected.Add(1)
		return false
	}
	if !accepted {
		s.counters.rejected.Add(1)
		return false
	}
	s.counters.admitted.Add(1)

	admittedAt := s.now()
	sess.ui.Post(func() { sess.caret, sess.hasCaret = caret, true })
	s.dispatch(sess, uri, offset, admittedAt)
	return true
}

// OnSelectionChanged records the caret and hides a tip anchored elsewhere.
func (s *TipService) OnSelectionChanged(uri DocumentURI, pos LSPPosition) {
	sess, ok := s.sessions.Get(string(uri))
	if !ok {
		return
	}
	sess.ui.Post(func() {
		sess.caret, sess.hasCaret = pos, true
		if err := sess.arbiter.OnCaretMoved(s.ctx, pos); err != nil {
			s.logger.Warn("Hiding tip on caret move failed", "session", sess.id, "error", err)
		}
	})
}

// OnFocusChanged records focus; losing it hides the tip.
func (s *TipService) OnFocusChanged(uri DocumentURI, focused bool) {
	sess, ok := s.sessions.Get(string(uri))
	if !ok {
		return
	}
	sess.focused.Store(focused)
	if !focused {
		s.hideSession(sess, HideFocusLost)
	}
}

// OnActiveEditorChanged hides tips in every session except the newly active one.
func (s *TipService) OnActiveEditorChanged(active DocumentURI) {
	s.sessions.IterCb(func(key string, sess *editorSession) {
		if key != string(active) {
			s.hideSession(sess, HideEditorChanged)
		}
	})
}

// HideTip dismisses the tip of one session.
func (s *TipService) HideTip(uri DocumentURI) {
	if sess, ok := s.sessions.Get(string(uri)); ok {
		s.hideSession(sess, HideExplicit)
	}
}

// DisplayState returns the display state of a session as seen from its UI loop.
func (s *TipService) DisplayState(uri DocumentURI) (DisplayState, bool) {
	sess, ok := s.sessions.Get(string(uri))
	if !ok {
		return DisplayState{}, false
	}
	var state DisplayState
	done := make(chan struct{})
	if !sess.ui.Post(func() { state = sess.arbiter.State(); close(done) }) {
		return DisplayState{}, false
	}
	select {
	case <-done:
	case <-sess.ui.stopped:
		return DisplayState{}, false
	}
	return state, true
}

func (s *TipService) hideSession(sess *editorSession, reason HideReason) {
	sess.ui.Post(func() {
		if err := sess.arbiter.HideTip(s.ctx, reason); err != nil {
			s.logger.Warn("Hiding tip failed", "session", sess.id, "reason", reason, "error", err)
		}
	})
}

func (s *TipService) hideAll(reason HideReason) {
	s.sessions.IterCb(func(_ string, sess *editorSession) { s.hideSession(sess, reason) })
}

// =============================================================================
// Pipeline
// =============================================================================

// dispatch hands one admitted trigger to the worker pool.
func (s *TipService) dispatch(sess *editorSession, uri DocumentURI, offset int, admittedAt time.Time) {
	runID := uuid.New().String()
	runLogger := s.logger.With("run_id", runID, "session", sess.id, "offset", offset)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.counters.errors.Add(1)
				runLogger.Error("Panic recovered in pipeline run", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		pool := s.pool.Load()
		if err := pool.sem.Acquire(s.ctx, 1); err != nil {
			runLogger.Debug("Pipeline run dropped: service closing", "error", err)
			return
		}
		defer pool.sem.Release(1)

		content, err := s.runPipeline(uri, offset, runLogger)
		if err != nil {
			s.counters.errors.Add(1)
			runLogger.Warn("Pipeline run failed", "error", err)
			return
		}
		if content == nil {
			return
		}
		sess.ui.Post(func() { s.display(sess, content, admittedAt, runLogger) })
	}()
}

// runPipeline resolves the call at offset and extracts its tips. A nil content with a nil
// error means the run was filtered out.
func (s *TipService) runPipeline(uri DocumentURI, offset int, logger *slog.Logger) (*TipsContent, error) {
	cfg := s.config.Get()
	ctx, cancel := context.WithTimeout(s.ctx, cfg.PipelineTimeout())
	defer cancel()

	info, err := s.resolver.Resolve(ctx, uri, offset)
	if err != nil {
		if errors.Is(err, context.Canceled) && s.ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}
	if info == nil {
		logger.Debug("No resolvable call at trigger offset")
		return nil, nil
	}
	content, err := s.extract(info)
	if err != nil || content == nil {
		return nil, err
	}
	logger.Debug("Tip extracted", "callee", info.CalleeName, "declaring_type", info.DeclaringTypeQualifiedName, "format", content.Format)
	return content, nil
}

func (s *TipService) extract(info *MethodCallInfo) (*TipsContent, error) {
	if info == nil || info.Target == nil {
		return nil, nil
	}
	ex := SelectExtractor(s.extractors, info.Target)
	if ex == nil {
		s.logger.Debug("No documentation convention supports declaration", "callee", info.CalleeName)
		return nil, nil
	}
	return ex.ExtractTipsFromMethod(info.Target), nil
}

// display runs on the session UI loop.
func (s *TipService) display(sess *editorSession, content *TipsContent, admittedAt time.Time, logger *slog.Logger) {
	if !s.config.IsPluginEnabled() || !sess.focused.Load() || !sess.hasCaret {
		logger.Debug("Tip dropped: plugin disabled, editor unfocused or no caret")
		return
	}
	if !sess.arbiter.CanShowNewTip(content) {
		s.counters.suppressed.Add(1)
		logger.Debug("Tip suppressed: another tip is showing")
		return
	}
	shown, err := sess.arbiter.ShowTip(s.ctx, content, sess.caret)
	if err != nil {
		s.counters.errors.Add(1)
		logger.Warn("Showing tip failed", "error", err)
		return
	}
	if !shown {
		return
	}
	s.counters.shown.Add(1)
	latency := s.now().Sub(admittedAt)
	if budget := s.config.Get().LatencyBudget(); latency > budget {
		logger.Warn("Tip latency exceeded budget", "latency", latency, "budget", budget)
	} else {
		logger.Debug("Tip displayed", "latency", latency)
	}
}

// ResolveTip runs resolution and extraction synchronously without displaying anything.
// Used by the CLI.
func (s *TipService) ResolveTip(ctx context.Context, uri DocumentURI, caret LSPPosition) (*MethodCallInfo, *TipsContent, error) {
	var offset int
	err := s.docs.Read(uri, func(snap *Snapshot) error {
		_, _, off, err := LspPositionToBytePosition(snap.Content, caret)
		offset = off
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	info, err := s.resolver.Resolve(ctx, uri, offset)
	if err != nil || info == nil {
		return nil, nil, err
	}
	content, err := s.extract(info)
	return info, content, err
}

// =============================================================================
// Lifecycle & metrics
// =============================================================================

// Wait blocks until every dispatched run has finished and its display step has run.
func (s *TipService) Wait() {
	s.wg.Wait()
	s.sessions.IterCb(func(_ string, sess *editorSession) { sess.ui.Flush() })
}

// Close cancels in-flight runs and stops every session.
func (s *TipService) Close() error {
	s.cancel()
	s.wg.Wait()
	for _, key := range s.sessions.Keys() {
		if sess, ok := s.sessions.Pop(key); ok {
			sess.ui.Stop()
		}
	}
	s.cache.Close()
	s.logger.Info("Tip service closed")
	return nil
}

// Stats returns the current counters.
func (s *TipService) Stats() ServiceStats {
	return ServiceStats{
		TriggersAdmitted: s.counters.admitted.Load(),
		TriggersRejected: s.counters.rejected.Load(),
		TipsShown:        s.counters.shown.Load(),
		TipsSuppressed:   s.counters.suppressed.Load(),
		PipelineErrors:   s.counters.errors.Load(),
		Workers:          s.pool.Load().size,
		Sessions:         s.sessions.Count(),
		Documents:        s.docs.Count(),
	}
}

// CacheMetrics returns the declaration cache metrics, or nil when caching is disabled.
func (s *TipService) CacheMetrics() *ristretto.Metrics {
	return s.cache.Metrics()
}

// String implements fmt.Stringer for log output.
func (st ServiceStats) String() string {
	return fmt.Sprintf("admitted=%d rejected=%d shown=%d suppressed=%d errors=%d workers=%d sessions=%d documents=%d",
		st.TriggersAdmitted, st.TriggersRejected, st.TipsShown, st.TipsSuppressed, st.PipelineErrors, st.Workers, st.Sessions, st.Documents)
}
