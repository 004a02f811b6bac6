// calltips/lsp_handlers_workspace.go
// Contains LSP method handlers related to workspace and editor-state events.
package calltips

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Workspace Method Handlers
// ============================================================================

// handleDidChangeConfiguration merges the "calltips" settings section into the live config.
// Settings sent without the section wrapper are accepted too.
func (s *Server) handleDidChangeConfiguration(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeConfigurationParams, logger *slog.Logger) (any, error) {
	logger.Info("Handling workspace/didChangeConfiguration")

	var changedSettings struct {
		CallTips *FileConfig `json:"calltips"`
	}
	var fileCfg FileConfig
	if err := json.Unmarshal(params.Settings, &changedSettings); err == nil && changedSettings.CallTips != nil {
		fileCfg = *changedSettings.CallTips
	} else if directErr := json.Unmarshal(params.Settings, &fileCfg); directErr != nil {
		logger.Error("Failed to unmarshal workspace/didChangeConfiguration settings", "error", directErr, "raw_settings", string(params.Settings))
		s.sendShowMessage(MessageTypeWarning, "calltips: ignoring malformed settings: "+directErr.Error())
		return nil, nil
	}

	newConfig := s.service.Config().Get()
	if merged := newConfig.Merge(fileCfg); merged == 0 {
		logger.Debug("No relevant configuration changes found")
		return nil, nil
	}
	s.ApplyConfig(newConfig)
	return nil, nil
}

// ApplyConfig pushes a configuration to the service and the log level.
// Used by didChangeConfiguration and by the config file watcher.
func (s *Server) ApplyConfig(cfg Config) {
	s.service.UpdateConfig(cfg)
	if s.levelVar == nil {
		return
	}
	level, err := ParseLogLevel(s.service.Config().Get().LogLevel)
	if err != nil {
		s.logger.Warn("Cannot update logger level", "level_string", cfg.LogLevel, "error", err)
		return
	}
	s.levelVar.Set(level)
	s.logger.Info("Logger level updated", "level", level)
}

// handleDidChangeSelection records the caret and hides a tip anchored elsewhere.
func (s *Server) handleDidChangeSelection(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params SelectionChangedParams, logger *slog.Logger) (any, error) {
	s.service.OnSelectionChanged(params.TextDocument.URI, params.Position)
	return nil, nil
}

// handleDidChangeFocus records focus for a document's editor.
func (s *Server) handleDidChangeFocus(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params FocusChangedParams, logger *slog.Logger) (any, error) {
	logger.Debug("Focus changed", "uri", params.TextDocument.URI, "focused", params.Focused)
	s.service.OnFocusChanged(params.TextDocument.URI, params.Focused)
	return nil, nil
}

// handleDidChangeActiveEditor hides tips of editors that are no longer active.
func (s *Server) handleDidChangeActiveEditor(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params ActiveEditorChangedParams, logger *slog.Logger) (any, error) {
	logger.Debug("Active editor changed", "uri", params.TextDocument.URI)
	s.service.OnActiveEditorChanged(params.TextDocument.URI)
	return nil, nil
}

// handleDismiss hides the tip of one document on client request (e.g. Escape).
func (s *Server) handleDismiss(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params HideTipParams, logger *slog.Logger) (any, error) {
	s.service.HideTip(params.TextDocument.URI)
	return nil, nil
}

// handleTagNames returns the tag names the server recognises.
func (s *Server) handleTagNames(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, logger *slog.Logger) (any, error) {
	return TagNamesResult{TagNames: s.service.TagNames()}, nil
}
