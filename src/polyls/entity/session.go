package entity

import (
	"go.lsp.dev/uri"
)

// SessionState tracks a language server session through its lifecycle.
type SessionState int32

const (
	// SessionStateCreated is a session that has not been started.
	SessionStateCreated SessionState = iota
	// SessionStateStarting covers process launch through the initialize handshake.
	SessionStateStarting
	// SessionStateInitialized is the only state in which document operations are valid.
	SessionStateInitialized
	// SessionStateShuttingDown is entered on stop or unrecoverable protocol error.
	SessionStateShuttingDown
	// SessionStateStopped is terminal.
	SessionStateStopped
)

// String returns a human-readable state name.
func (s SessionState) String() string {
	switch s {
	case SessionStateCreated:
		return "created"
	case SessionStateStarting:
		return "starting"
	case SessionStateInitialized:
		return "initialized"
	case SessionStateShuttingDown:
		return "shutting down"
	case SessionStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Document is the tracked state of one open file. Version starts at 1 on
// open and increases by exactly one per change notification.
type Document struct {
	URI        uri.URI
	LanguageID string
	Version    int32
	Text       string
}
