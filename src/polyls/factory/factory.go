// Package factory provides fixtures and fakes shared across package tests.
package factory

import (
	"go.lsp.dev/uri"

	"github.com/polyls/polyls/src/polyls/entity"
	"github.com/polyls/polyls/src/polyls/internal/dispatch"
)

// Document returns a tracked document suitable for tests.
func Document(path string) entity.Document {
	return entity.Document{
		URI:        uri.File(path),
		LanguageID: "latex",
		Version:    1,
		Text:       "\\documentclass{article}\n",
	}
}

// Descriptor returns a dependency descriptor for the given platform.
func Descriptor(platformID string) entity.DependencyDescriptor {
	return entity.DependencyDescriptor{
		ID:          "texlab",
		URL:         "https://example.invalid/texlab.tar.gz",
		PlatformID:  platformID,
		ArchiveType: entity.ArchiveGztar,
		BinaryName:  "texlab",
	}
}

// Registry records handler registrations for inspection.
type Registry struct {
	requests      map[string]dispatch.RequestHandler
	notifications map[string]dispatch.NotificationHandler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		requests:      make(map[string]dispatch.RequestHandler),
		notifications: make(map[string]dispatch.NotificationHandler),
	}
}

// OnRequest records a request handler.
func (r *Registry) OnRequest(method string, h dispatch.RequestHandler) {
	r.requests[method] = h
}

// OnNotification records a notification handler.
func (r *Registry) OnNotification(method string, h dispatch.NotificationHandler) {
	r.notifications[method] = h
}

// Request returns the recorded request handler for method.
func (r *Registry) Request(method string) (dispatch.RequestHandler, bool) {
	h, ok := r.requests[method]
	return h, ok
}

// Notifications returns all recorded notification handlers by method.
func (r *Registry) Notifications() map[string]dispatch.NotificationHandler {
	return r.notifications
}

var _ entity.HandlerRegistry = (*Registry)(nil)
