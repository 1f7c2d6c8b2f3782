// Package texlab binds the texlab language server for LaTeX and BibTeX
// workspaces.
package texlab

import (
	"context"
	"encoding/json"
	"strings"

	"go.lsp.dev/protocol"
	"go.uber.org/fx"

	"github.com/polyls/polyls/src/polyls/entity"
)

const (
	_version     = "5.25.1"
	_releaseBase = "https://github.com/latex-lsp/texlab/releases/download/v" + _version + "/"
)

// Directories produced by LaTeX tooling that never contain sources worth
// scanning.
var _ignoredDirPrefixes = []string{"_minted", "pythontex-files-"}

// Module is the Fx module for this package.
var Module = fx.Provide(New)

// Binding is the texlab language binding.
type Binding struct{}

// New creates the texlab Binding.
func New() *Binding {
	return &Binding{}
}

// LanguageID returns the LSP language identifier texlab expects.
func (b *Binding) LanguageID() string { return "latex" }

// Extensions lists the file extensions texlab handles.
func (b *Binding) Extensions() []string {
	return []string{".tex", ".sty", ".cls", ".bib"}
}

// Capabilities announces hierarchical symbols, snippet completion, and
// markdown hover, matching what texlab serves.
func (b *Binding) Capabilities() protocol.ClientCapabilities {
	return protocol.ClientCapabilities{
		TextDocument: &protocol.TextDocumentClientCapabilities{
			Synchronization: &protocol.TextDocumentSyncClientCapabilities{
				DidSave: true,
			},
			Completion: &protocol.CompletionTextDocumentClientCapabilities{
				CompletionItem: &protocol.CompletionTextDocumentClientCapabilitiesItem{
					SnippetSupport: true,
				},
			},
			Hover: &protocol.HoverTextDocumentClientCapabilities{
				ContentFormat: []protocol.MarkupKind{protocol.Markdown, protocol.PlainText},
			},
			DocumentSymbol: &protocol.DocumentSymbolClientCapabilities{
				HierarchicalDocumentSymbolSupport: true,
			},
			Definition: &protocol.DefinitionTextDocumentClientCapabilities{},
			References: &protocol.ReferencesTextDocumentClientCapabilities{},
		},
		Workspace: &protocol.WorkspaceClientCapabilities{
			WorkspaceFolders:       true,
			DidChangeConfiguration: &protocol.DidChangeConfigurationWorkspaceClientCapabilities{},
			Symbol:                 &protocol.WorkspaceSymbolClientCapabilities{},
		},
	}
}

// RequiredServerCapabilities lists the capability keys texlab must report
// for a session to be usable.
func (b *Binding) RequiredServerCapabilities() []string {
	return []string{"textDocumentSync", "completionProvider", "definitionProvider"}
}

// Dependencies lists the texlab release artifacts per supported platform.
func (b *Binding) Dependencies() []entity.DependencyDescriptor {
	return []entity.DependencyDescriptor{
		{
			ID:          "texlab",
			URL:         _releaseBase + "texlab-x86_64-linux.tar.gz",
			PlatformID:  "linux-x64",
			ArchiveType: entity.ArchiveGztar,
			BinaryName:  "texlab",
		},
		{
			ID:          "texlab",
			URL:         _releaseBase + "texlab-aarch64-linux.tar.gz",
			PlatformID:  "linux-arm64",
			ArchiveType: entity.ArchiveGztar,
			BinaryName:  "texlab",
		},
		{
			ID:          "texlab",
			URL:         _releaseBase + "texlab-x86_64-macos.tar.gz",
			PlatformID:  "osx-x64",
			ArchiveType: entity.ArchiveGztar,
			BinaryName:  "texlab",
		},
		{
			ID:          "texlab",
			URL:         _releaseBase + "texlab-aarch64-macos.tar.gz",
			PlatformID:  "osx-arm64",
			ArchiveType: entity.ArchiveGztar,
			BinaryName:  "texlab",
		},
		{
			ID:          "texlab",
			URL:         _releaseBase + "texlab-x86_64-windows.zip",
			PlatformID:  "win-x64",
			ArchiveType: entity.ArchiveZip,
			BinaryName:  "texlab.exe",
		},
	}
}

// LaunchCommand starts texlab in stdio mode, its default.
func (b *Binding) LaunchCommand(execPath string) []string {
	return []string{execPath}
}

// IsIgnoredDir skips LaTeX build byproduct directories.
func (b *Binding) IsIgnoredDir(name string) bool {
	if name == "auto" {
		return true
	}
	for _, prefix := range _ignoredDirPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// RegisterHandlers answers the configuration pulls texlab issues so it
// falls back to its built-in defaults.
func (b *Binding) RegisterHandlers(reg entity.HandlerRegistry) {
	reg.OnRequest(protocol.MethodWorkspaceConfiguration, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p protocol.ConfigurationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return []interface{}{}, nil
		}
		results := make([]interface{}, len(p.Items))
		return results, nil
	})
	reg.OnNotification("textDocument/forwardSearchStatus", func(ctx context.Context, params json.RawMessage) {})
}

var _ entity.Binding = (*Binding)(nil)
