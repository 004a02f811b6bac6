// calltips/lsp_handlers_textdocument.go
// Contains LSP method handlers related to text document synchronization and typing.
package calltips

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Text Document Synchronization Handlers
// ============================================================================

// handleDidOpen starts tracking a document and its editor session.
func (s *Server) handleDidOpen(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidOpenTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	content := []byte(params.TextDocument.Text)
	openLogger := logger.With("uri", uri, "version", version)
	openLogger.Info("Handling textDocument/didOpen", "size", len(content))

	absPath, err := ValidateAndGetFilePath(string(uri), openLogger)
	if err != nil {
		openLogger.Warn("Document URI not usable, tips disabled for it", "error", err)
		return nil, nil
	}
	s.service.OpenDocument(uri, absPath, version, content)
	return nil, nil
}

// handleDidChange replaces the buffer (full sync). Only the last change is applied.
func (s *Server) handleDidChange(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	changeLogger := logger.With("uri", uri, "new_version", version)

	if len(params.ContentChanges) == 0 {
		changeLogger.Warn("Received didChange notification with no content changes")
		return nil, nil
	}
	absPath, err := ValidateAndGetFilePath(string(uri), changeLogger)
	if err != nil {
		changeLogger.Warn("Document URI not usable, ignoring change", "error", err)
		return nil, nil
	}
	newContent := []byte(params.ContentChanges[len(params.ContentChanges)-1].Text)
	if s.service.ChangeDocument(uri, absPath, version, newContent) {
		changeLogger.Debug("Document content updated", "new_size", len(newContent))
	}
	return nil, nil
}

// handleDidClose hides the session's tip and forgets the document.
func (s *Server) handleDidClose(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidCloseTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	logger.Info("Handling textDocument/didClose", "uri", uri)
	s.service.CloseDocument(uri)
	return nil, nil
}

// handleOnTypeFormatting is the typed-character hook. It never edits the document;
// an admitted ')' starts a background pipeline run and the request returns at once.
func (s *Server) handleOnTypeFormatting(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DocumentOnTypeFormattingParams, logger *slog.Logger) (any, error) {
	ch, size := utf8.DecodeRuneInString(params.Ch)
	if size == 0 || size != len(params.Ch) {
		return []TextEdit{}, nil
	}
	admitted := s.service.HandleCharTyped(params.TextDocument.URI, ch, params.Position)
	logger.Debug("Typed character handled", "uri", params.TextDocument.URI, "ch", params.Ch, "line", params.Position.Line, "character", params.Position.Character, "admitted", admitted)
	return []TextEdit{}, nil
}
