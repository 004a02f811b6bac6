// calltips/lsp_server_test.go
package calltips

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClient struct {
	conn          *jsonrpc2.Conn
	notifications chan *jsonrpc2.Request
	serverDone    chan struct{}
}

// startTestServer runs a Server over an in-memory pipe and returns a connected client.
// The resolver maps g() to tip "G".
func startTestServer(t *testing.T) *testClient {
	t.Helper()
	gOffset := offsetAfter(t, serviceSrc, "g()")
	resolver := &stubResolver{resolve: func(offset int) (*MethodCallInfo, error) {
		if offset == gOffset {
			return tipsCall("g", "@tips G"), nil
		}
		return nil, nil
	}}
	server := NewServer(DefaultConfig(), discardLogger(), nil, "test", WithResolver(resolver))

	serverSide, clientSide := net.Pipe()
	client := &testClient{
		notifications: make(chan *jsonrpc2.Request, 16),
		serverDone:    make(chan struct{}),
	}
	go func() {
		defer close(client.serverDone)
		server.Run(serverSide, serverSide)
	}()
	client.conn = jsonrpc2.NewConn(context.Background(), jsonrpc2.NewPlainObjectStream(clientSide),
		jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
			client.notifications <- req
			return nil, nil
		}))
	t.Cleanup(func() {
		client.conn.Close()
		serverSide.Close()
		_ = server.Service().Close()
	})
	return client
}

func (c *testClient) initialize(t *testing.T, caps ClientCapabilities) InitializeResult {
	t.Helper()
	var result InitializeResult
	err := c.conn.Call(context.Background(), "initialize", InitializeParams{Capabilities: caps}, &result)
	require.NoError(t, err)
	require.NoError(t, c.conn.Notify(context.Background(), "initialized", struct{}{}))
	return result
}

func (c *testClient) openServiceSource(t *testing.T) DocumentURI {
	t.Helper()
	const uri DocumentURI = "file:///work/p.go"
	err := c.conn.Notify(context.Background(), "textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: uri, LanguageID: "go", Version: 1, Text: serviceSrc},
	})
	require.NoError(t, err)
	return uri
}

func (c *testClient) typeParen(t *testing.T, uri DocumentURI, marker string) LSPPosition {
	t.Helper()
	caret, err := OffsetToLSPPosition([]byte(serviceSrc), offsetAfter(t, serviceSrc, marker))
	require.NoError(t, err)
	var edits []TextEdit
	err = c.conn.Call(context.Background(), "textDocument/onTypeFormatting", DocumentOnTypeFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     caret,
		Ch:           ")",
	}, &edits)
	require.NoError(t, err)
	require.NotNil(t, edits, "an empty edit list, not null")
	assert.Empty(t, edits)
	return caret
}

func (c *testClient) expectNotification(t *testing.T, method string) *jsonrpc2.Request {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case req := <-c.notifications:
			if req.Method == method {
				return req
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", method)
			return nil
		}
	}
}

func TestServerAnchoredTips(t *testing.T) {
	client := startTestServer(t)
	result := client.initialize(t, ClientCapabilities{Experimental: &ExperimentalCapabilities{CallTips: true}})
	require.NotNil(t, result.Capabilities.DocumentOnTypeFormattingProvider)
	assert.Equal(t, ")", result.Capabilities.DocumentOnTypeFormattingProvider.FirstTriggerCharacter)
	assert.Contains(t, result.Capabilities.Experimental, "calltips")

	uri := client.openServiceSource(t)
	caret := client.typeParen(t, uri, "g()")

	show := client.expectNotification(t, "calltips/showTip")
	var params ShowTipParams
	require.NoError(t, json.Unmarshal(*show.Params, &params))
	assert.Equal(t, uri, params.TextDocument.URI)
	assert.Equal(t, caret, params.Position)
	assert.Equal(t, "G", params.Content)
	assert.Equal(t, FormatPlainText, params.Format)

	require.NoError(t, client.conn.Notify(context.Background(), "calltips/dismiss", HideTipParams{TextDocument: TextDocumentIdentifier{URI: uri}}))
	hide := client.expectNotification(t, "calltips/hideTip")
	var hideParams HideTipParams
	require.NoError(t, json.Unmarshal(*hide.Params, &hideParams))
	assert.Equal(t, uri, hideParams.TextDocument.URI)

	var tags TagNamesResult
	require.NoError(t, client.conn.Call(context.Background(), "calltips/tagNames", nil, &tags))
	assert.Equal(t, []string{"tips"}, tags.TagNames)

	require.NoError(t, client.conn.Call(context.Background(), "shutdown", nil, nil))
	require.NoError(t, client.conn.Notify(context.Background(), "exit", nil))
	select {
	case <-client.serverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after exit")
	}
}

func TestServerFallsBackToShowMessage(t *testing.T) {
	client := startTestServer(t)
	client.initialize(t, ClientCapabilities{})

	uri := client.openServiceSource(t)
	client.typeParen(t, uri, "g()")

	msg := client.expectNotification(t, "window/showMessage")
	var params ShowMessageParams
	require.NoError(t, json.Unmarshal(*msg.Params, &params))
	assert.Equal(t, MessageTypeInfo, params.Type)
	assert.Equal(t, "G", params.Message)
}

func TestServerConfigurationChange(t *testing.T) {
	client := startTestServer(t)
	client.initialize(t, ClientCapabilities{})

	settings := json.RawMessage(`{"calltips": {"custom_annotation_patterns": ["@note"]}}`)
	require.NoError(t, client.conn.Notify(context.Background(), "workspace/didChangeConfiguration", DidChangeConfigurationParams{Settings: settings}))

	var tags TagNamesResult
	require.NoError(t, client.conn.Call(context.Background(), "calltips/tagNames", nil, &tags))
	assert.Equal(t, []string{"tips", "note"}, tags.TagNames)
}

func TestServerUnknownMethod(t *testing.T) {
	client := startTestServer(t)
	err := client.conn.Call(context.Background(), "textDocument/hover", struct{}{}, nil)
	require.Error(t, err)
	var rpcErr *jsonrpc2.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, int64(JsonRpcMethodNotFound), rpcErr.Code)

	require.NoError(t, client.conn.Notify(context.Background(), "$/someNotification", struct{}{}), "unknown notifications are ignored")
}

func TestRequestTracker(t *testing.T) {
	tracker := NewRequestTracker()
	id := jsonrpc2.ID{Num: 7}
	ctx := tracker.Add(id, context.Background())
	assert.Equal(t, 1, tracker.Count())

	tracker.Cancel(id)
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled")
	}
	tracker.Remove(id)
	assert.Equal(t, 0, tracker.Count())
}
