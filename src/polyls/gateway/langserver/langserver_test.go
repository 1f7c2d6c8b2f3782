package langserver

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tally "github.com/uber-go/tally"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/polyls/polyls/src/polyls/internal/dispatch"
	"github.com/polyls/polyls/src/polyls/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeServer is the far end of a Gateway wired over in-memory pipes. A
// goroutine drains the gateway's outbound frames into a channel so that
// notifications sent synchronously never block on the test reading.
type fakeServer struct {
	frames  chan map[string]json.RawMessage
	writer  *wire.Writer
	gateway *Gateway
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	clientInR, clientInW := io.Pipe()
	serverInR, serverInW := io.Pipe()

	conn := dispatch.NewConn(
		wire.NewReader(clientInR),
		wire.NewWriter(serverInW),
		zap.NewNop().Sugar(),
		tally.NewTestScope("testing", nil),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go conn.Run(ctx)

	s := &fakeServer{
		frames:  make(chan map[string]json.RawMessage, 16),
		writer:  wire.NewWriter(clientInW),
		gateway: New(conn),
	}

	reader := wire.NewReader(serverInR)
	go func() {
		defer close(s.frames)
		for {
			body, err := reader.Read()
			if err != nil {
				return
			}
			var msg map[string]json.RawMessage
			if err := json.Unmarshal(body, &msg); err != nil {
				return
			}
			s.frames <- msg
		}
	}()

	t.Cleanup(func() {
		cancel()
		clientInW.Close()
		serverInW.Close()
		clientInR.Close()
		serverInR.Close()
		<-conn.Done()
	})

	return s
}

func (s *fakeServer) read(t *testing.T) map[string]json.RawMessage {
	t.Helper()
	select {
	case msg, ok := <-s.frames:
		require.True(t, ok, "gateway stream closed")
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return nil
	}
}

// respond answers the next request with result.
func (s *fakeServer) respond(t *testing.T, result interface{}) map[string]json.RawMessage {
	t.Helper()
	msg := s.read(t)
	var id int64
	require.NoError(t, json.Unmarshal(msg["id"], &id))
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
	require.NoError(t, err)
	require.NoError(t, s.writer.Write(body))
	return msg
}

func method(t *testing.T, msg map[string]json.RawMessage) string {
	t.Helper()
	var m string
	require.NoError(t, json.Unmarshal(msg["method"], &m))
	return m
}

func TestInitializeReturnsRawCapabilities(t *testing.T) {
	s := newFakeServer(t)

	done := make(chan map[string]json.RawMessage, 1)
	go func() {
		done <- s.respond(t, map[string]interface{}{
			"capabilities": map[string]interface{}{
				"textDocumentSync":   1,
				"definitionProvider": true,
			},
			"serverInfo": map[string]string{"name": "texlab"},
		})
	}()

	caps, err := s.gateway.Initialize(context.Background(), protocol.InitializeParams{
		RootURI: uri.File("/ws"),
	})
	require.NoError(t, err)

	msg := <-done
	assert.Equal(t, protocol.MethodInitialize, method(t, msg))

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(caps, &decoded))
	assert.Contains(t, decoded, "textDocumentSync")
	assert.Contains(t, decoded, "definitionProvider")
}

func TestNotificationsCarryNoID(t *testing.T) {
	s := newFakeServer(t)

	require.NoError(t, s.gateway.Initialized(context.Background()))
	msg := s.read(t)
	assert.Equal(t, protocol.MethodInitialized, method(t, msg))
	assert.NotContains(t, msg, "id")

	u := uri.File("/ws/main.tex")
	require.NoError(t, s.gateway.DidOpen(context.Background(), protocol.TextDocumentItem{
		URI: u, LanguageID: "latex", Version: 1, Text: "x",
	}))
	msg = s.read(t)
	assert.Equal(t, protocol.MethodTextDocumentDidOpen, method(t, msg))

	require.NoError(t, s.gateway.DidChange(context.Background(), u, 2, []protocol.TextDocumentContentChangeEvent{{Text: "y"}}))
	msg = s.read(t)
	assert.Equal(t, protocol.MethodTextDocumentDidChange, method(t, msg))

	require.NoError(t, s.gateway.DidClose(context.Background(), u))
	msg = s.read(t)
	assert.Equal(t, protocol.MethodTextDocumentDidClose, method(t, msg))
}

func TestShutdownExitSequence(t *testing.T) {
	s := newFakeServer(t)

	go s.respond(t, nil)
	require.NoError(t, s.gateway.Shutdown(context.Background()))

	require.NoError(t, s.gateway.Exit(context.Background()))
	msg := s.read(t)
	assert.Equal(t, protocol.MethodExit, method(t, msg))
}

func TestDocumentSymbolReturnsRaw(t *testing.T) {
	s := newFakeServer(t)

	go s.respond(t, []map[string]interface{}{{"name": "Introduction", "kind": 15}})

	raw, err := s.gateway.DocumentSymbol(context.Background(), uri.File("/ws/main.tex"))
	require.NoError(t, err)

	var symbols []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &symbols))
	require.Len(t, symbols, 1)
}

func TestDefinitionShapes(t *testing.T) {
	loc := map[string]interface{}{
		"uri": "file:///ws/refs.bib",
		"range": map[string]interface{}{
			"start": map[string]int{"line": 3, "character": 0},
			"end":   map[string]int{"line": 3, "character": 10},
		},
	}

	t.Run("array result", func(t *testing.T) {
		s := newFakeServer(t)
		go s.respond(t, []interface{}{loc})

		locs, err := s.gateway.Definition(context.Background(), uri.File("/ws/main.tex"), protocol.Position{Line: 1})
		require.NoError(t, err)
		require.Len(t, locs, 1)
		assert.Equal(t, uri.File("/ws/refs.bib"), locs[0].URI)
	})

	t.Run("single location result", func(t *testing.T) {
		s := newFakeServer(t)
		go s.respond(t, loc)

		locs, err := s.gateway.Definition(context.Background(), uri.File("/ws/main.tex"), protocol.Position{Line: 1})
		require.NoError(t, err)
		require.Len(t, locs, 1)
	})

	t.Run("null result", func(t *testing.T) {
		s := newFakeServer(t)
		go s.respond(t, nil)

		locs, err := s.gateway.Definition(context.Background(), uri.File("/ws/main.tex"), protocol.Position{Line: 1})
		require.NoError(t, err)
		assert.Empty(t, locs)
	})
}

func TestReferences(t *testing.T) {
	s := newFakeServer(t)

	done := make(chan map[string]json.RawMessage, 1)
	go func() {
		done <- s.respond(t, []interface{}{})
	}()

	_, err := s.gateway.References(context.Background(), uri.File("/ws/main.tex"), protocol.Position{Line: 2}, true)
	require.NoError(t, err)

	msg := <-done
	var params struct {
		Context protocol.ReferenceContext `json:"context"`
	}
	require.NoError(t, json.Unmarshal(msg["params"], &params))
	assert.True(t, params.Context.IncludeDeclaration)
}

func TestHover(t *testing.T) {
	t.Run("content", func(t *testing.T) {
		s := newFakeServer(t)
		go s.respond(t, map[string]interface{}{
			"contents": map[string]string{"kind": "markdown", "value": "docs"},
		})

		hover, err := s.gateway.Hover(context.Background(), uri.File("/ws/main.tex"), protocol.Position{})
		require.NoError(t, err)
		require.NotNil(t, hover)
		assert.Equal(t, "docs", hover.Contents.Value)
	})

	t.Run("null means no content", func(t *testing.T) {
		s := newFakeServer(t)
		go s.respond(t, nil)

		hover, err := s.gateway.Hover(context.Background(), uri.File("/ws/main.tex"), protocol.Position{})
		require.NoError(t, err)
		assert.Nil(t, hover)
	})
}
