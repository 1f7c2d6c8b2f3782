// Package repository holds in-memory state shared across a session's
// lifetime.
package repository

import (
	"fmt"
	"sort"
	"sync"

	tally "github.com/uber-go/tally"
	"go.lsp.dev/uri"
	"go.uber.org/fx"

	"github.com/polyls/polyls/src/polyls/entity"
	"github.com/polyls/polyls/src/polyls/internal/lsperr"
)

// Documents tracks the open documents of a session and enforces the
// version discipline the protocol expects: versions start at the open
// value and strictly increase per change.
type Documents interface {
	Open(doc entity.Document) error
	Get(u uri.URI) (entity.Document, error)
	Update(u uri.URI, version int32, text string) (entity.Document, error)
	Close(u uri.URI) (entity.Document, error)
	List() []entity.Document
	Count() int
}

// DocumentsParams define values used to build a Documents repository.
type DocumentsParams struct {
	fx.In

	Stats tally.Scope
}

type documents struct {
	mu    sync.RWMutex
	docs  map[uri.URI]entity.Document
	gauge tally.Gauge
}

// NewDocuments creates an empty Documents repository.
func NewDocuments(p DocumentsParams) Documents {
	return &documents{
		docs:  make(map[uri.URI]entity.Document),
		gauge: p.Stats.SubScope("documents").Gauge("open_documents"),
	}
}

// Open registers a document. Opening a URI that is already open fails.
func (d *documents) Open(doc entity.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.docs[doc.URI]; ok {
		return fmt.Errorf("%w: %s", lsperr.ErrDocumentAlreadyOpen, doc.URI)
	}
	d.docs[doc.URI] = doc
	d.gauge.Update(float64(len(d.docs)))
	return nil
}

// Get returns the current state of an open document.
func (d *documents) Get(u uri.URI) (entity.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.docs[u]
	if !ok {
		return entity.Document{}, fmt.Errorf("%w: %s", lsperr.ErrDocumentNotOpen, u)
	}
	return doc, nil
}

// Update replaces a document's text at a new version. The version must be
// strictly greater than the stored one.
func (d *documents) Update(u uri.URI, version int32, text string) (entity.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.docs[u]
	if !ok {
		return entity.Document{}, fmt.Errorf("%w: %s", lsperr.ErrDocumentNotOpen, u)
	}
	if version <= doc.Version {
		return entity.Document{}, fmt.Errorf("%w: %s has version %d, got %d",
			lsperr.ErrStaleDocumentVersion, u, doc.Version, version)
	}

	doc.Version = version
	doc.Text = text
	d.docs[u] = doc
	return doc, nil
}

// Close removes a document and returns its last state.
func (d *documents) Close(u uri.URI) (entity.Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.docs[u]
	if !ok {
		return entity.Document{}, fmt.Errorf("%w: %s", lsperr.ErrDocumentNotOpen, u)
	}
	delete(d.docs, u)
	d.gauge.Update(float64(len(d.docs)))
	return doc, nil
}

// List returns all open documents ordered by URI.
func (d *documents) List() []entity.Document {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]entity.Document, 0, len(d.docs))
	for _, doc := range d.docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Count returns the number of open documents.
func (d *documents) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.docs)
}
