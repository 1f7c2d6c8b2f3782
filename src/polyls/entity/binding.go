package entity

import (
	"go.lsp.dev/protocol"

	"github.com/polyls/polyls/src/polyls/internal/dispatch"
)

// Archive kinds supported by dependency resolution.
const (
	ArchiveGztar = "gztar"
	ArchiveZip   = "zip"
)

// DependencyDescriptor names one downloadable artifact for one platform.
// Immutable; exactly one is selected per dependency and host platform.
type DependencyDescriptor struct {
	ID          string `yaml:"id"`
	URL         string `yaml:"url"`
	PlatformID  string `yaml:"platformId"`
	ArchiveType string `yaml:"archiveType"`
	BinaryName  string `yaml:"binaryName"`
}

// HandlerRegistry is the surface bindings use to hook server-initiated
// traffic before the session starts.
type HandlerRegistry interface {
	OnRequest(method string, h dispatch.RequestHandler)
	OnNotification(method string, h dispatch.NotificationHandler)
}

// Binding supplies everything language-specific about a server: how to
// obtain and launch it, the capabilities to announce, which reported
// capabilities are mandatory, and workspace scanning policy. The session
// engine is otherwise language-agnostic.
type Binding interface {
	// LanguageID is the LSP language identifier, e.g. "latex".
	LanguageID() string
	// Extensions lists file extensions (with dot) the server handles.
	Extensions() []string
	// Capabilities is the client capabilities payload for the initialize request.
	Capabilities() protocol.ClientCapabilities
	// RequiredServerCapabilities lists capability keys that must appear in
	// the server's initialize response for the session to proceed.
	RequiredServerCapabilities() []string
	// Dependencies lists the per-platform artifacts for the server binary.
	Dependencies() []DependencyDescriptor
	// LaunchCommand builds the argv to start the server from a resolved executable.
	LaunchCommand(execPath string) []string
	// IsIgnoredDir reports whether the workspace scanner should skip a directory.
	IsIgnoredDir(name string) bool
	// RegisterHandlers installs the binding's server-initiated message handlers.
	RegisterHandlers(reg HandlerRegistry)
}
