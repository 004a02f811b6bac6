// calltips/lsp_server.go
// Implements the Language Server Protocol (LSP) server logic.
package calltips

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Server Implementation
// ============================================================================

// Server represents the LSP server instance.
type Server struct {
	connMu         sync.RWMutex
	conn           *jsonrpc2.Conn
	logger         *slog.Logger
	levelVar       *slog.LevelVar // Adjusted on configuration changes; may be nil.
	service        *TipService
	capsMu         sync.RWMutex
	clientCaps     ClientCapabilities
	serverInfo     *ServerInfo
	requestTracker *RequestTracker
}

// NewServer creates a new LSP server instance backed by a fresh TipService.
func NewServer(cfg Config, logger *slog.Logger, levelVar *slog.LevelVar, version string, opts ...TipServiceOption) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		logger:   logger.With("component", "Server"),
		levelVar: levelVar,
		serverInfo: &ServerInfo{
			Name:    "calltips LSP",
			Version: version,
		},
		requestTracker: NewRequestTracker(),
	}
	s.service = NewTipService(cfg, &lspPresenter{server: s, logger: logger.With("component", "LSPPresenter")}, logger, opts...)
	return s
}

// Service returns the tip service driven by this server.
func (s *Server) Service() *TipService { return s.service }

// Run starts the LSP server on r/w and blocks until the connection closes.
func (s *Server) Run(r io.Reader, w io.Writer) {
	s.logger.Info("Starting LSP server run loop")

	stream := &stdrwc{r: r, w: w}
	objectStream := jsonrpc2.NewPlainObjectStream(stream)
	handler := jsonrpc2.HandlerWithError(s.handle)

	conn := jsonrpc2.NewConn(context.Background(), objectStream, handler)
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.logger.Info("JSON-RPC connection established")

	<-conn.DisconnectNotify()
	s.logger.Info("JSON-RPC connection closed")
}

// stdrwc is a simple ReadWriteCloser that wraps stdin/stdout without closing them.
type stdrwc struct {
	r io.Reader
	w io.Writer
}

func (s *stdrwc) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdrwc) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdrwc) Close() error                { return nil }

// handle routes incoming LSP requests/notifications to appropriate methods.
func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result any, err error) {
	methodLogger := s.logger.With("method", req.Method, "is_notification", req.Notif)
	isRequest := !req.Notif
	if isRequest {
		methodLogger = methodLogger.With("req_id", req.ID)
	}
	methodLogger.Debug("Received request/notification")

	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			methodLogger.Error("Panic recovered in handler", "panic_value", r, "stack", stack)

			panicData, marshalErr := json.Marshal(fmt.Sprintf("Panic: %v", r))
			if marshalErr != nil {
				panicData = json.RawMessage(`"failed to marshal panic data"`)
			}
			rawPanicData := json.RawMessage(panicData)
			err = &jsonrpc2.Error{
				Code:    int64(JsonRpcInternalError),
				Message: fmt.Sprintf("Internal server error in method %s", req.Method),
				Data:    &rawPanicData,
			}
			result = nil
		}
	}()

	if isRequest {
		ctx = s.requestTracker.Add(req.ID, ctx)
		defer s.requestTracker.Remove(req.ID)
	}
	select {
	case <-ctx.Done():
		methodLogger.Warn("Request context cancelled before processing started", "error", ctx.Err())
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Request cancelled"}
	default:
	}

	unmarshalParams := func(target any) error {
		if req.Params == nil {
			return errors.New("params field is null")
		}
		return json.Unmarshal(*req.Params, target)
	}
	invalidParams := func(err error) (any, error) {
		methodLogger.Error("Failed to unmarshal params", "error", err)
		if req.Notif {
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid %s params: %v", req.Method, err)}
	}

	switch req.Method {
	case "initialize":
		var params InitializeParams
		if err := unmarshalParams(&params); err != nil {
			return invalidParams(err)
		}
		return s.handleInitialize(ctx, conn, req, params, methodLogger)

	case "initialized":
		methodLogger.Info("Client initialized notification received")
		return nil, nil

	case "shutdown":
		return s.handleShutdown(ctx, conn, req, methodLogger)

	case "exit":
		return s.handleExit(ctx, conn, req, methodLogger)

	case "textDocument/didOpen":
		var params DidOpenTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			return invalidParams(err)
		}
		return s.handleDidOpen(ctx, conn, req, params, methodLogger)

	case "textDocument/didChange":
		var params DidChangeTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			return invalidParams(err)
		}
		return s.handleDidChange(ctx, conn, req, params, methodLogger)

	case "textDocument/didClose":
		var params DidCloseTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			return invalidParams(err)
		}
		return s.handleDidClose(ctx, conn, req, params, methodLogger)

	case "textDocument/onTypeFormatting":
		var params DocumentOnTypeFormattingParams
		if err := unmarshalParams(&params); err != nil {
			return invalidParams(err)
		}
		return s.handleOnTypeFormatting(ctx, conn, req, params, methodLogger)

	case "workspace/didChangeConfiguration":
		var params DidChangeConfigurationParams
		if err := unmarshalParams(&params); err != nil {
			return invalidParams(err)
		}
		return s.handleDidChangeConfiguration(ctx, conn, req, params, methodLogger)

	case "calltips/didChangeSelection":
		var params SelectionChangedParams
		if err := unmarshalParams(&params); err != nil {
			return invalidParams(err)
		}
		return s.handleDidChangeSelection(ctx, conn, req, params, methodLogger)

	case "calltips/didChangeFocus":
		var params FocusChangedParams
		if err := unmarshalParams(&params); err != nil {
			return invalidParams(err)
		}
		return s.handleDidChangeFocus(ctx, conn, req, params, methodLogger)

	case "calltips/didChangeActiveEditor":
		var params ActiveEditorChangedParams
		if err := unmarshalParams(&params); err != nil {
			return invalidParams(err)
		}
		return s.handleDidChangeActiveEditor(ctx, conn, req, params, methodLogger)

	case "calltips/dismiss":
		var params HideTipParams
		if err := unmarshalParams(&params); err != nil {
			return invalidParams(err)
		}
		return s.handleDismiss(ctx, conn, req, params, methodLogger)

	case "calltips/tagNames":
		return s.handleTagNames(ctx, conn, req, methodLogger)

	case "$/cancelRequest":
		var params CancelParams
		if err := unmarshalParams(&params); err != nil {
			return invalidParams(err)
		}
		var cancelID jsonrpc2.ID
		switch idVal := params.ID.(type) {
		case float64:
			cancelID = jsonrpc2.ID{Num: uint64(idVal)}
		case string:
			cancelID = jsonrpc2.ID{Str: idVal, IsString: true}
		default:
			methodLogger.Warn("Could not determine type of cancel request ID", "id_value", params.ID, "id_type", fmt.Sprintf("%T", params.ID))
			return nil, nil
		}
		s.requestTracker.Cancel(cancelID)
		methodLogger.Debug("Cancellation request processed", "cancelled_id", cancelID)
		return nil, nil

	default:
		if req.Notif {
			methodLogger.Debug("Ignoring unhandled notification")
			return nil, nil
		}
		methodLogger.Warn("Unhandled LSP method")
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcMethodNotFound), Message: fmt.Sprintf("Method not supported: %s", req.Method)}
	}
}

// ============================================================================
// LSP Notification Sending Helpers
// ============================================================================

// notify sends a server-to-client notification, reporting a missing connection as an error.
func (s *Server) notify(ctx context.Context, method string, params any) error {
	s.connMu.RLock()
	conn := s.conn
	s.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("cannot send %s: connection is nil", method)
	}
	return conn.Notify(ctx, method, params)
}

func (s *Server) sendShowMessage(msgType MessageType, message string) {
	params := ShowMessageParams{Type: msgType, Message: message}
	if err := s.notify(context.Background(), "window/showMessage", params); err != nil {
		s.logger.Error("Failed to send window/showMessage notification", "error", err, "message_type", msgType)
	}
}

func (s *Server) clientSupportsTips() bool {
	s.capsMu.RLock()
	defer s.capsMu.RUnlock()
	return s.clientCaps.Experimental != nil && s.clientCaps.Experimental.CallTips
}

// ============================================================================
// Metrics Publishing
// ============================================================================

var publishMetricsOnce sync.Once

// PublishExpvarMetrics exposes server and service counters through expvar.
// expvar names are process-global, so only the first server is published.
func PublishExpvarMetrics(s *Server) {
	publishMetricsOnce.Do(func() {
		startTime := time.Now()
		expvar.NewString("serverInfo.name").Set(s.serverInfo.Name)
		expvar.NewString("serverInfo.version").Set(s.serverInfo.Version)
		expvar.NewString("serverStartTime").Set(startTime.Format(time.RFC3339))
		expvar.Publish("goroutines", expvar.Func(func() any { return runtime.NumGoroutine() }))
		expvar.Publish("memory.allocBytes", expvar.Func(func() any {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return m.Alloc
		}))
		expvar.Publish("lsp.pendingRequests", expvar.Func(func() any { return s.requestTracker.Count() }))
		expvar.Publish("calltips.stats", expvar.Func(func() any { return s.service.Stats() }))
		expvar.Publish("cache.memory", expvar.Func(func() any {
			m := s.service.CacheMetrics()
			if m == nil {
				return map[string]uint64{}
			}
			return map[string]uint64{
				"hits":        m.Hits(),
				"misses":      m.Misses(),
				"costAdded":   m.CostAdded(),
				"costEvicted": m.CostEvicted(),
				"keysAdded":   m.KeysAdded(),
				"keysEvicted": m.KeysEvicted(),
			}
		}))
		s.logger.Info("Expvar metrics published")
	})
}

// ============================================================================
// Request Cancellation Tracker
// ============================================================================

// RequestTracker manages cancellation contexts for ongoing LSP requests.
type RequestTracker struct {
	mu       sync.Mutex
	requests map[jsonrpc2.ID]context.CancelFunc
}

// NewRequestTracker creates a new tracker.
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{
		requests: make(map[jsonrpc2.ID]context.CancelFunc),
	}
}

// Add registers a request ID and returns a context cancelled by Cancel(id).
func (rt *RequestTracker) Add(id jsonrpc2.ID, ctx context.Context) context.Context {
	reqCtx, cancel := context.WithCancel(ctx)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.requests[id] = cancel
	return reqCtx
}

// Remove deregisters a request ID and releases its context.
func (rt *RequestTracker) Remove(id jsonrpc2.ID) {
	rt.mu.Lock()
	cancel, found := rt.requests[id]
	delete(rt.requests, id)
	rt.mu.Unlock()
	if found {
		cancel()
	}
}

// Cancel finds the cancel function for a request ID and calls it.
func (rt *RequestTracker) Cancel(id jsonrpc2.ID) {
	rt.mu.Lock()
	cancel, found := rt.requests[id]
	if found {
		delete(rt.requests, id)
	}
	rt.mu.Unlock()

	if found {
		cancel()
	}
}

// Count returns the number of currently tracked requests.
func (rt *RequestTracker) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.requests)
}
