// calltips/lsp_presenter.go
// Contains the Presenter that renders tips through LSP notifications.
package calltips

import (
	"context"
	"fmt"
	"log/slog"
)

// lspPresenter sends calltips/showTip and calltips/hideTip to clients that announced
// experimental.calltips. Other clients get a window/showMessage and no hide.
type lspPresenter struct {
	server *Server
	logger *slog.Logger
}

// ShowTip implements Presenter.
func (p *lspPresenter) ShowTip(ctx context.Context, session SessionID, content TipsContent, anchor LSPPosition) error {
	if p.server.clientSupportsTips() {
		params := ShowTipParams{
			TextDocument: TextDocumentIdentifier{URI: DocumentURI(session)},
			Position:     anchor,
			Content:      content.Content,
			Format:       content.Format,
		}
		if err := p.server.notify(ctx, "calltips/showTip", params); err != nil {
			return fmt.Errorf("calltips/showTip: %w", err)
		}
		p.logger.Debug("Sent calltips/showTip", "session", session, "line", anchor.Line, "character", anchor.Character)
		return nil
	}
	params := ShowMessageParams{Type: MessageTypeInfo, Message: content.Content}
	if err := p.server.notify(ctx, "window/showMessage", params); err != nil {
		return fmt.Errorf("window/showMessage: %w", err)
	}
	return nil
}

// HideTip implements Presenter.
func (p *lspPresenter) HideTip(ctx context.Context, session SessionID) error {
	if !p.server.clientSupportsTips() {
		// window/showMessage popups are dismissed by the client.
		return nil
	}
	params := HideTipParams{TextDocument: TextDocumentIdentifier{URI: DocumentURI(session)}}
	if err := p.server.notify(ctx, "calltips/hideTip", params); err != nil {
		return fmt.Errorf("calltips/hideTip: %w", err)
	}
	return nil
}
