// Package session implements the lifecycle of one language server: process
// launch, the initialize handshake, document synchronization, and request
// helpers for language queries.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	tally "github.com/uber-go/tally"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/atomic"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/polyls/polyls/src/polyls/entity"
	"github.com/polyls/polyls/src/polyls/gateway/langserver"
	"github.com/polyls/polyls/src/polyls/internal/deps"
	"github.com/polyls/polyls/src/polyls/internal/dispatch"
	"github.com/polyls/polyls/src/polyls/internal/fs"
	"github.com/polyls/polyls/src/polyls/internal/lsperr"
	"github.com/polyls/polyls/src/polyls/internal/proc"
	"github.com/polyls/polyls/src/polyls/internal/scanner"
	"github.com/polyls/polyls/src/polyls/internal/watcher"
	"github.com/polyls/polyls/src/polyls/internal/wire"
	"github.com/polyls/polyls/src/polyls/mapper"
	"github.com/polyls/polyls/src/polyls/repository"
)

const (
	_configKeyRequestTimeout = "session.requestTimeout"
	_configKeyGracePeriod    = "session.shutdownGracePeriod"

	_defaultRequestTimeout = 30 * time.Second
	_defaultGracePeriod    = 5 * time.Second
)

// Module is the Fx module for this package.
var Module = fx.Provide(NewFactory)

// FactoryParams define values used to build a session Factory.
type FactoryParams struct {
	fx.In

	Config   config.Provider
	Logger   *zap.SugaredLogger
	Stats    tally.Scope
	Launcher proc.Launcher
	Resolver deps.Resolver
	FS       fs.FS
	Scanner  scanner.Scanner
}

// Factory builds sessions sharing process launch, dependency resolution,
// and configuration defaults.
type Factory struct {
	logger   *zap.SugaredLogger
	stats    tally.Scope
	launcher proc.Launcher
	resolver deps.Resolver
	fs       fs.FS
	scanner  scanner.Scanner

	requestTimeout time.Duration
	gracePeriod    time.Duration
}

// NewFactory creates a Factory from configuration.
func NewFactory(p FactoryParams) (*Factory, error) {
	requestTimeout, err := durationOrDefault(p.Config, _configKeyRequestTimeout, _defaultRequestTimeout)
	if err != nil {
		return nil, err
	}
	gracePeriod, err := durationOrDefault(p.Config, _configKeyGracePeriod, _defaultGracePeriod)
	if err != nil {
		return nil, err
	}

	return &Factory{
		logger:         p.Logger,
		stats:          p.Stats.SubScope("session"),
		launcher:       p.Launcher,
		resolver:       p.Resolver,
		fs:             p.FS,
		scanner:        p.Scanner,
		requestTimeout: requestTimeout,
		gracePeriod:    gracePeriod,
	}, nil
}

func durationOrDefault(provider config.Provider, key string, fallback time.Duration) (time.Duration, error) {
	var value string
	provider.Get(key).Populate(&value)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return d, nil
}

// New creates a session for one workspace and binding. The session is in
// the created state until Start is called.
func (f *Factory) New(workspaceRoot string, binding entity.Binding) (*Session, error) {
	disk, err := watcher.New(watcher.Params{Logger: f.logger})
	if err != nil {
		return nil, fmt.Errorf("creating disk watcher: %w", err)
	}

	logger := f.logger.With("language", binding.LanguageID(), "workspace", workspaceRoot)
	return &Session{
		workspaceRoot:  workspaceRoot,
		binding:        binding,
		logger:         logger,
		stats:          f.stats,
		launcher:       f.launcher,
		resolver:       f.resolver,
		fs:             f.fs,
		scanner:        f.scanner,
		disk:           disk,
		docs:           repository.NewDocuments(repository.DocumentsParams{Stats: f.stats}),
		requestTimeout: f.requestTimeout,
		gracePeriod:    f.gracePeriod,
		state:          atomic.NewInt32(int32(entity.SessionStateCreated)),
		diagnostics:    make(map[uri.URI][]protocol.Diagnostic),
	}, nil
}

// Session drives one language server subprocess for one workspace.
type Session struct {
	workspaceRoot string
	binding       entity.Binding

	logger   *zap.SugaredLogger
	stats    tally.Scope
	launcher proc.Launcher
	resolver deps.Resolver
	fs       fs.FS
	scanner  scanner.Scanner
	disk     watcher.Watcher
	docs     repository.Documents

	requestTimeout time.Duration
	gracePeriod    time.Duration

	state      *atomic.Int32
	process    *proc.Process
	conn       *dispatch.Conn
	gateway    *langserver.Gateway
	connCancel context.CancelFunc

	diagMu      sync.RWMutex
	diagnostics map[uri.URI][]protocol.Diagnostic

	stopOnce sync.Once
	stopErr  error
}

// State returns the session's current lifecycle state.
func (s *Session) State() entity.SessionState {
	return entity.SessionState(s.state.Load())
}

// Start launches the server, performs the initialize handshake, and
// validates the capabilities the binding requires. On any failure the
// session lands in the stopped state and cannot be restarted.
func (s *Session) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(entity.SessionStateCreated), int32(entity.SessionStateStarting)) {
		return fmt.Errorf("%w: start requires state %s, session is %s",
			lsperr.ErrInvalidSessionState, entity.SessionStateCreated, s.State())
	}

	if err := s.start(ctx); err != nil {
		s.teardown(fmt.Errorf("session startup failed: %w", err))
		return err
	}

	s.state.Store(int32(entity.SessionStateInitialized))
	s.logger.Infow("session initialized", "pid", s.process.Pid())
	return nil
}

func (s *Session) start(ctx context.Context) error {
	execPath, err := s.resolver.Resolve(ctx, s.binding)
	if err != nil {
		return err
	}

	argv := s.binding.LaunchCommand(execPath)
	process, err := s.launcher.Launch(ctx, proc.Spec{
		Path:        argv[0],
		Args:        argv[1:],
		Dir:         s.workspaceRoot,
		GracePeriod: s.gracePeriod,
	})
	if err != nil {
		return err
	}
	s.process = process

	s.conn = dispatch.NewConn(
		wire.NewReader(process.Stdout),
		wire.NewWriter(process.Stdin),
		s.logger,
		s.stats,
	)
	s.gateway = langserver.New(s.conn)

	s.registerDefaultHandlers()
	s.binding.RegisterHandlers(connRegistry{s.conn})

	connCtx, cancel := context.WithCancel(context.Background())
	s.connCancel = cancel
	go s.conn.Run(connCtx)
	go s.superviseConn()

	if err := s.handshake(ctx); err != nil {
		return err
	}

	if err := s.disk.Start(s.onDiskChange); err != nil {
		return err
	}
	return nil
}

func (s *Session) handshake(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	caps, err := s.gateway.Initialize(ctx, protocol.InitializeParams{
		ProcessID: int32(os.Getpid()),
		RootURI:   uri.File(s.workspaceRoot),
		WorkspaceFolders: []protocol.WorkspaceFolder{{
			URI:  string(uri.File(s.workspaceRoot)),
			Name: filepath.Base(s.workspaceRoot),
		}},
		Capabilities: s.binding.Capabilities(),
		Trace:        protocol.TraceOff,
	})
	if err != nil {
		return err
	}

	if err := validateCapabilities(caps, s.binding.RequiredServerCapabilities()); err != nil {
		return err
	}

	return s.gateway.Initialized(ctx)
}

// validateCapabilities checks key presence only: the value shape of each
// capability varies per server and is not interpreted here.
func validateCapabilities(raw json.RawMessage, required []string) error {
	var caps map[string]json.RawMessage
	if err := json.Unmarshal(raw, &caps); err != nil {
		return fmt.Errorf("%w: malformed capabilities: %v", lsperr.ErrIncompatibleServer, err)
	}
	for _, key := range required {
		if _, ok := caps[key]; !ok {
			return fmt.Errorf("%w: server did not report %q", lsperr.ErrIncompatibleServer, key)
		}
	}
	return nil
}

// superviseConn tears the session down when the connection dies out from
// under it, failing all pending requests.
func (s *Session) superviseConn() {
	<-s.conn.Done()

	state := s.State()
	if state == entity.SessionStateShuttingDown || state == entity.SessionStateStopped {
		return
	}
	s.logger.Warnw("connection lost, stopping session", "error", s.conn.Err())
	s.teardown(s.conn.Err())
}

// Stop shuts the server down gracefully: shutdown request, exit
// notification, then process termination. Idempotent.
func (s *Session) Stop(ctx context.Context) error {
	switch s.State() {
	case entity.SessionStateStopped, entity.SessionStateShuttingDown:
		return s.stopErr
	case entity.SessionStateCreated:
		s.state.Store(int32(entity.SessionStateStopped))
		return nil
	}

	if s.gateway == nil {
		s.teardown(nil)
		return s.stopErr
	}

	s.state.Store(int32(entity.SessionStateShuttingDown))

	var err error
	shutdownCtx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	if e := s.gateway.Shutdown(shutdownCtx); e != nil {
		err = multierr.Append(err, e)
	}
	if e := s.gateway.Exit(shutdownCtx); e != nil {
		err = multierr.Append(err, e)
	}
	cancel()

	s.teardown(nil)
	s.stopErr = multierr.Append(err, s.stopErr)
	return s.stopErr
}

// teardown releases all resources and moves the session to stopped.
// Safe to call from any state; runs at most once.
func (s *Session) teardown(cause error) {
	s.stopOnce.Do(func() {
		s.state.Store(int32(entity.SessionStateStopped))

		var err error
		if s.conn != nil {
			s.conn.Close(cause)
		}
		if s.process != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*s.gracePeriod)
			err = multierr.Append(err, s.process.Stop(stopCtx))
			cancel()
		}
		if s.connCancel != nil {
			s.connCancel()
		}
		err = multierr.Append(err, s.disk.Close())
		s.stopErr = err

		if cause != nil {
			s.logger.Infow("session stopped", "cause", cause)
		} else {
			s.logger.Infow("session stopped")
		}
	})
}

func (s *Session) requireInitialized() error {
	if state := s.State(); state != entity.SessionStateInitialized {
		if state == entity.SessionStateStopped || state == entity.SessionStateShuttingDown {
			return fmt.Errorf("%w: session is %s", lsperr.ErrSessionTerminated, state)
		}
		return fmt.Errorf("%w: operation requires state %s, session is %s",
			lsperr.ErrInvalidSessionState, entity.SessionStateInitialized, state)
	}
	return nil
}

func (s *Session) requestCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.requestTimeout)
}

// ScanWorkspace lists the workspace files the binding's server handles.
func (s *Session) ScanWorkspace() ([]string, error) {
	return s.scanner.Scan(s.workspaceRoot, s.binding)
}

// OpenDocument reads path from disk and announces it to the server at
// version 1. The document's directory is watched for external edits.
func (s *Session) OpenDocument(ctx context.Context, path string) (entity.Document, error) {
	if err := s.requireInitialized(); err != nil {
		return entity.Document{}, err
	}

	text, err := s.fs.ReadFile(path)
	if err != nil {
		return entity.Document{}, fmt.Errorf("reading %q: %w", path, err)
	}

	doc := entity.Document{
		URI:        uri.File(path),
		LanguageID: s.binding.LanguageID(),
		Version:    1,
		Text:       string(text),
	}
	if err := s.docs.Open(doc); err != nil {
		return entity.Document{}, err
	}

	if err := s.gateway.DidOpen(ctx, protocol.TextDocumentItem{
		URI:        doc.URI,
		LanguageID: protocol.LanguageIdentifier(doc.LanguageID),
		Version:    doc.Version,
		Text:       doc.Text,
	}); err != nil {
		s.docs.Close(doc.URI)
		return entity.Document{}, err
	}

	if err := s.disk.Watch(filepath.Dir(path)); err != nil {
		s.logger.Warnw("watching document directory failed", "path", path, "error", err)
	}
	return doc, nil
}

// NotifyChange replaces a document's content at the next version and sends
// the server range-scoped change events computed from the difference.
func (s *Session) NotifyChange(ctx context.Context, u uri.URI, newText string) (entity.Document, error) {
	if err := s.requireInitialized(); err != nil {
		return entity.Document{}, err
	}

	current, err := s.docs.Get(u)
	if err != nil {
		return entity.Document{}, err
	}

	changes := mapper.Incremental(current.Text, newText)
	if len(changes) == 0 {
		return current, nil
	}

	updated, err := s.docs.Update(u, current.Version+1, newText)
	if err != nil {
		return entity.Document{}, err
	}

	if err := s.gateway.DidChange(ctx, u, updated.Version, changes); err != nil {
		return entity.Document{}, err
	}
	return updated, nil
}

// CloseDocument closes a document and discards its diagnostics.
func (s *Session) CloseDocument(ctx context.Context, u uri.URI) error {
	if err := s.requireInitialized(); err != nil {
		return err
	}

	if _, err := s.docs.Close(u); err != nil {
		return err
	}

	s.diagMu.Lock()
	delete(s.diagnostics, u)
	s.diagMu.Unlock()

	return s.gateway.DidClose(ctx, u)
}

// OpenDocuments lists documents currently synchronized with the server.
func (s *Session) OpenDocuments() []entity.Document {
	return s.docs.List()
}

// DocumentSymbols queries symbols for an open document, normalized to a
// single ordered list regardless of the shape the server answered with.
func (s *Session) DocumentSymbols(ctx context.Context, u uri.URI) (SymbolQueryResult, error) {
	if err := s.requireInitialized(); err != nil {
		return SymbolQueryResult{}, err
	}
	if _, err := s.docs.Get(u); err != nil {
		return SymbolQueryResult{}, err
	}

	ctx, cancel := s.requestCtx(ctx)
	defer cancel()

	raw, err := s.gateway.DocumentSymbol(ctx, u)
	if err != nil {
		return SymbolQueryResult{}, err
	}
	return normalizeSymbols(raw)
}

// Definition resolves the definition locations at a position.
func (s *Session) Definition(ctx context.Context, u uri.URI, pos protocol.Position) ([]protocol.Location, error) {
	if err := s.requireInitialized(); err != nil {
		return nil, err
	}
	ctx, cancel := s.requestCtx(ctx)
	defer cancel()
	return s.gateway.Definition(ctx, u, pos)
}

// References resolves all references to the symbol at a position.
func (s *Session) References(ctx context.Context, u uri.URI, pos protocol.Position, includeDeclaration bool) ([]protocol.Location, error) {
	if err := s.requireInitialized(); err != nil {
		return nil, err
	}
	ctx, cancel := s.requestCtx(ctx)
	defer cancel()
	return s.gateway.References(ctx, u, pos, includeDeclaration)
}

// Hover fetches hover content at a position; nil when the server has none.
func (s *Session) Hover(ctx context.Context, u uri.URI, pos protocol.Position) (*protocol.Hover, error) {
	if err := s.requireInitialized(); err != nil {
		return nil, err
	}
	ctx, cancel := s.requestCtx(ctx)
	defer cancel()
	return s.gateway.Hover(ctx, u, pos)
}

// Diagnostics returns the last diagnostics the server published for a
// document.
func (s *Session) Diagnostics(u uri.URI) []protocol.Diagnostic {
	s.diagMu.RLock()
	defer s.diagMu.RUnlock()
	return s.diagnostics[u]
}

// onDiskChange resyncs an open document edited outside the session.
func (s *Session) onDiskChange(path string) {
	if s.State() != entity.SessionStateInitialized {
		return
	}

	u := uri.File(path)
	current, err := s.docs.Get(u)
	if err != nil {
		return
	}

	text, err := s.fs.ReadFile(path)
	if err != nil {
		s.logger.Warnw("re-reading changed document failed", "path", path, "error", err)
		return
	}
	if string(text) == current.Text {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.requestTimeout)
	defer cancel()
	if _, err := s.NotifyChange(ctx, u, string(text)); err != nil {
		s.logger.Warnw("resyncing changed document failed", "path", path, "error", err)
	}
}

// registerDefaultHandlers installs baseline handling for server-initiated
// traffic so common notifications never dead-end.
func (s *Session) registerDefaultHandlers() {
	s.conn.OnRequest(protocol.MethodClientRegisterCapability, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		return nil, nil
	})
	s.conn.OnNotification(protocol.MethodWindowLogMessage, func(ctx context.Context, params json.RawMessage) {
		var p protocol.LogMessageParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		s.logger.Debugw("server log", "type", p.Type, "message", p.Message)
	})
	s.conn.OnNotification(protocol.MethodProgress, func(ctx context.Context, params json.RawMessage) {})
	s.conn.OnNotification(protocol.MethodTextDocumentPublishDiagnostics, func(ctx context.Context, params json.RawMessage) {
		var p protocol.PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			s.logger.Warnw("malformed diagnostics notification", "error", err)
			return
		}
		s.diagMu.Lock()
		s.diagnostics[p.URI] = p.Diagnostics
		s.diagMu.Unlock()
	})
}

// connRegistry exposes a connection's handler registration to bindings.
type connRegistry struct {
	conn *dispatch.Conn
}

func (r connRegistry) OnRequest(method string, h dispatch.RequestHandler) {
	r.conn.OnRequest(method, h)
}

func (r connRegistry) OnNotification(method string, h dispatch.NotificationHandler) {
	r.conn.OnNotification(method, h)
}
