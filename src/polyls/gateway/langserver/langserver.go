// Package langserver provides typed access to a running language server
// over a dispatch connection.
package langserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/polyls/polyls/src/polyls/internal/dispatch"
)

// Gateway issues protocol requests and notifications to the server side of
// a session. One Gateway wraps one connection.
type Gateway struct {
	conn *dispatch.Conn
}

// New creates a Gateway over conn.
func New(conn *dispatch.Conn) *Gateway {
	return &Gateway{conn: conn}
}

// Initialize performs the initialize request and returns the server's raw
// capabilities object for validation by the caller.
func (g *Gateway) Initialize(ctx context.Context, params protocol.InitializeParams) (json.RawMessage, error) {
	var result struct {
		Capabilities json.RawMessage `json:"capabilities"`
		ServerInfo   json.RawMessage `json:"serverInfo"`
	}
	if err := g.conn.Call(ctx, protocol.MethodInitialize, params, &result); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}
	return result.Capabilities, nil
}

// Initialized sends the initialized notification completing the handshake.
func (g *Gateway) Initialized(ctx context.Context) error {
	return g.conn.Notify(ctx, protocol.MethodInitialized, protocol.InitializedParams{})
}

// Shutdown asks the server to prepare for exit.
func (g *Gateway) Shutdown(ctx context.Context) error {
	var discard json.RawMessage
	if err := g.conn.Call(ctx, protocol.MethodShutdown, nil, &discard); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Exit tells the server to terminate its process.
func (g *Gateway) Exit(ctx context.Context) error {
	return g.conn.Notify(ctx, protocol.MethodExit, nil)
}

// DidOpen announces a newly opened document.
func (g *Gateway) DidOpen(ctx context.Context, item protocol.TextDocumentItem) error {
	return g.conn.Notify(ctx, protocol.MethodTextDocumentDidOpen, protocol.DidOpenTextDocumentParams{
		TextDocument: item,
	})
}

// DidChange announces document edits at a new version.
func (g *Gateway) DidChange(ctx context.Context, u uri.URI, version int32, changes []protocol.TextDocumentContentChangeEvent) error {
	return g.conn.Notify(ctx, protocol.MethodTextDocumentDidChange, protocol.DidChangeTextDocumentParams{
		TextDocument: protocol.VersionedTextDocumentIdentifier{
			TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: u},
			Version:                version,
		},
		ContentChanges: changes,
	})
}

// DidClose announces a closed document.
func (g *Gateway) DidClose(ctx context.Context, u uri.URI) error {
	return g.conn.Notify(ctx, protocol.MethodTextDocumentDidClose, protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: u},
	})
}

// DocumentSymbol requests symbols for a document. The raw result is
// returned since servers answer with either a flat or a hierarchical
// shape.
func (g *Gateway) DocumentSymbol(ctx context.Context, u uri.URI) (json.RawMessage, error) {
	var result json.RawMessage
	err := g.conn.Call(ctx, protocol.MethodTextDocumentDocumentSymbol, protocol.DocumentSymbolParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: u},
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("textDocument/documentSymbol: %w", err)
	}
	return result, nil
}

// Definition resolves the definition locations for a position.
func (g *Gateway) Definition(ctx context.Context, u uri.URI, pos protocol.Position) ([]protocol.Location, error) {
	var result json.RawMessage
	err := g.conn.Call(ctx, protocol.MethodTextDocumentDefinition, protocol.DefinitionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: u},
			Position:     pos,
		},
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("textDocument/definition: %w", err)
	}
	return normalizeLocations(result)
}

// References resolves all references to the symbol at a position.
func (g *Gateway) References(ctx context.Context, u uri.URI, pos protocol.Position, includeDeclaration bool) ([]protocol.Location, error) {
	var result []protocol.Location
	err := g.conn.Call(ctx, protocol.MethodTextDocumentReferences, protocol.ReferenceParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: u},
			Position:     pos,
		},
		Context: protocol.ReferenceContext{IncludeDeclaration: includeDeclaration},
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("textDocument/references: %w", err)
	}
	return result, nil
}

// Hover fetches hover content for a position. A nil result means the
// server had nothing to show.
func (g *Gateway) Hover(ctx context.Context, u uri.URI, pos protocol.Position) (*protocol.Hover, error) {
	var result json.RawMessage
	err := g.conn.Call(ctx, protocol.MethodTextDocumentHover, protocol.HoverParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: u},
			Position:     pos,
		},
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("textDocument/hover: %w", err)
	}
	if isNull(result) {
		return nil, nil
	}
	var hover protocol.Hover
	if err := json.Unmarshal(result, &hover); err != nil {
		return nil, fmt.Errorf("decoding hover result: %w", err)
	}
	return &hover, nil
}

// normalizeLocations accepts the three definition result shapes the
// protocol allows: null, a single Location, or an array of Locations.
func normalizeLocations(raw json.RawMessage) ([]protocol.Location, error) {
	if isNull(raw) {
		return nil, nil
	}
	var many []protocol.Location
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, nil
	}
	var one protocol.Location
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("decoding location result: %w", err)
	}
	return []protocol.Location{one}, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
