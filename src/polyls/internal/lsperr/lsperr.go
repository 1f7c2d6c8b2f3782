// Package lsperr defines the error taxonomy shared by the session engine.
// Fatal errors tear down the whole session; per-request errors are local
// to the caller that triggered them.
package lsperr

import (
	stderr "errors"
	"fmt"
)

// New returns an error that formats as the given text.
// Each call to New returns a distinct error value even if the text is identical.
func New(msg string) error {
	return stderr.New(msg)
}

var (
	// ErrTransportClosed reports that the server's stream closed while a frame was expected.
	ErrTransportClosed = New("transport closed")
	// ErrServerLaunch reports that the server subprocess could not be spawned.
	ErrServerLaunch = New("language server launch failed")
	// ErrDependencyInstall reports that a downloaded dependency did not yield the expected binary.
	ErrDependencyInstall = New("dependency install failed")
	// ErrUnsupportedPlatform reports that no dependency descriptor matches the host platform.
	ErrUnsupportedPlatform = New("unsupported platform")
	// ErrIncompatibleServer reports that the server's reported capabilities are missing required keys.
	ErrIncompatibleServer = New("incompatible server capabilities")
	// ErrInvalidSessionState reports an operation issued outside the state that permits it.
	ErrInvalidSessionState = New("invalid session state")
	// ErrRequestTimeout reports that a request's deadline elapsed before its response arrived.
	ErrRequestTimeout = New("request timed out")
	// ErrSessionTerminated reports that the session stopped while the operation was in flight.
	ErrSessionTerminated = New("session terminated")
	// ErrStaleDocumentVersion reports a change notification carrying an out-of-order version.
	ErrStaleDocumentVersion = New("stale document version")
	// ErrDocumentNotOpen reports an operation on a document that was never opened.
	ErrDocumentNotOpen = New("document not open")
	// ErrDocumentAlreadyOpen reports a second open for an already tracked document.
	ErrDocumentAlreadyOpen = New("document already open")
)

// FramingError reports a malformed header block on the wire.
// Framing errors are fatal to the session; there is no resynchronization.
type FramingError struct {
	Header string
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("malformed frame header %q: %s", e.Header, e.Reason)
}

// IsFatal reports whether the error invalidates the session as a whole.
func IsFatal(err error) bool {
	var framing *FramingError
	return stderr.Is(err, ErrTransportClosed) || stderr.As(err, &framing)
}

// IsStartupFailure reports whether the error prevents a session from ever reaching Initialized.
func IsStartupFailure(err error) bool {
	return stderr.Is(err, ErrServerLaunch) ||
		stderr.Is(err, ErrDependencyInstall) ||
		stderr.Is(err, ErrUnsupportedPlatform) ||
		stderr.Is(err, ErrIncompatibleServer)
}
