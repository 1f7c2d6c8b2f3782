// Package dispatch correlates JSON-RPC traffic with a single language
// server over a framed stream: outgoing requests get monotonically
// increasing ids and a pending slot, incoming frames are classified as
// responses, server requests, or notifications and routed accordingly.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	tally "github.com/uber-go/tally"
	"go.lsp.dev/jsonrpc2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/polyls/polyls/src/polyls/internal/lsperr"
	"github.com/polyls/polyls/src/polyls/internal/wire"
)

const _jsonrpcVersion = "2.0"

// RequestHandler answers a server-initiated request. The returned value is
// marshaled into the response; a returned *jsonrpc2.Error is sent as the
// response error object, any other error becomes an InternalError.
type RequestHandler func(ctx context.Context, params json.RawMessage) (interface{}, error)

// NotificationHandler consumes a server-initiated notification.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// Conn multiplexes concurrent callers onto one language server stream.
//
// Handlers run on the single reader goroutine, so a handler must not
// issue a synchronous Call on the same Conn or it will deadlock.
type Conn struct {
	writer *wire.Writer
	reader *wire.Reader
	logger *zap.SugaredLogger
	stats  tally.Scope

	nextID  *atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan *message

	handlersMu    sync.Mutex
	reqHandlers   map[string]RequestHandler
	notifHandlers map[string]NotificationHandler

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// message is the wire shape shared by requests, responses and notifications.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpc2.Error `json:"error,omitempty"`
}

// NewConn returns a Conn over the given framed streams. Run must be called
// before any Call can complete.
func NewConn(reader *wire.Reader, writer *wire.Writer, logger *zap.SugaredLogger, stats tally.Scope) *Conn {
	return &Conn{
		writer:        writer,
		reader:        reader,
		logger:        logger,
		stats:         stats.SubScope("dispatch"),
		nextID:        atomic.NewInt64(0),
		pending:       make(map[int64]chan *message),
		reqHandlers:   make(map[string]RequestHandler),
		notifHandlers: make(map[string]NotificationHandler),
		done:          make(chan struct{}),
	}
}

// OnRequest registers the handler answering server requests for a method.
// At most one handler per method; re-registration replaces the previous one.
func (c *Conn) OnRequest(method string, h RequestHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.reqHandlers[method] = h
}

// OnNotification registers the handler consuming server notifications for a method.
func (c *Conn) OnNotification(method string, h NotificationHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.notifHandlers[method] = h
}

// Run consumes frames until the stream fails or Close is called.
// It blocks; callers run it on its own goroutine.
func (c *Conn) Run(ctx context.Context) {
	for {
		body, err := c.reader.Read()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debugw("reader stopped", "error", err)
			}
			c.Close(err)
			return
		}

		var msg message
		if err := json.Unmarshal(body, &msg); err != nil {
			c.logger.Warnw("dropping unparseable frame", "error", err)
			c.stats.Counter("malformed_frames").Inc(1)
			continue
		}

		switch {
		case msg.ID != nil && msg.Method == "":
			c.resolvePending(&msg)
		case msg.ID != nil:
			c.handleServerRequest(ctx, &msg)
		case msg.Method != "":
			c.handleServerNotification(ctx, &msg)
		default:
			c.stats.Counter("malformed_frames").Inc(1)
		}
	}
}

// Call sends a request and blocks until its response arrives, the context
// expires, or the connection terminates. Responses are matched by id only;
// concurrent callers each wait on their own slot. A non-nil result receives
// the unmarshaled response result.
func (c *Conn) Call(ctx context.Context, method string, params, result interface{}) error {
	select {
	case <-c.done:
		return lsperr.ErrSessionTerminated
	default:
	}

	id := c.nextID.Inc()
	ch := make(chan *message, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.stats.Gauge("pending_requests").Update(float64(len(c.pending)))
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.stats.Gauge("pending_requests").Update(float64(len(c.pending)))
		c.mu.Unlock()
	}()

	if err := c.write(&message{JSONRPC: _jsonrpcVersion, ID: &id, Method: method, Params: mustRaw(params)}); err != nil {
		return fmt.Errorf("sending %q request: %w", method, err)
	}

	sw := c.stats.Timer("request_duration").Start()
	defer sw.Stop()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%q: %w", method, lsperr.ErrRequestTimeout)
		}
		return ctx.Err()
	case <-c.done:
		return lsperr.ErrSessionTerminated
	case resp := <-ch:
		if resp.Error != nil {
			return fmt.Errorf("%q: %w", method, resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("unmarshaling %q result: %w", method, err)
			}
		}
		return nil
	}
}

// Notify sends a notification. No id is allocated and nothing is awaited.
func (c *Conn) Notify(ctx context.Context, method string, params interface{}) error {
	select {
	case <-c.done:
		return lsperr.ErrSessionTerminated
	default:
	}
	return c.write(&message{JSONRPC: _jsonrpcVersion, Method: method, Params: mustRaw(params)})
}

// Close terminates the connection, failing every pending request.
// The first terminal error wins; later calls are no-ops.
func (c *Conn) Close(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()
		close(c.done)

		c.mu.Lock()
		c.pending = make(map[int64]chan *message)
		c.stats.Gauge("pending_requests").Update(0)
		c.mu.Unlock()
	})
}

// Done is closed once the connection has terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error, if the connection has terminated.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Conn) resolvePending(msg *message) {
	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	if ok {
		delete(c.pending, *msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		// Late response for a timed-out or cancelled request.
		c.stats.Counter("orphan_responses").Inc(1)
		return
	}
	ch <- msg
}

func (c *Conn) handleServerRequest(ctx context.Context, msg *message) {
	c.handlersMu.Lock()
	h, ok := c.reqHandlers[msg.Method]
	c.handlersMu.Unlock()

	reply := &message{JSONRPC: _jsonrpcVersion, ID: msg.ID}
	if !ok {
		reply.Error = jsonrpc2.NewError(jsonrpc2.MethodNotFound, fmt.Sprintf("no handler for %q", msg.Method))
	} else if result, err := h(ctx, msg.Params); err != nil {
		var rpcErr *jsonrpc2.Error
		if !errors.As(err, &rpcErr) {
			rpcErr = jsonrpc2.NewError(jsonrpc2.InternalError, err.Error())
		}
		reply.Error = rpcErr
	} else {
		reply.Result = mustRaw(result)
		if reply.Result == nil {
			reply.Result = json.RawMessage("null")
		}
	}

	if err := c.write(reply); err != nil {
		c.logger.Warnw("failed to answer server request", "method", msg.Method, "error", err)
	}
}

func (c *Conn) handleServerNotification(ctx context.Context, msg *message) {
	c.handlersMu.Lock()
	h, ok := c.notifHandlers[msg.Method]
	c.handlersMu.Unlock()

	if !ok {
		// Unhandled notifications are dropped without acknowledgment.
		return
	}
	h(ctx, msg.Params)
}

func (c *Conn) write(msg *message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	return c.writer.Write(body)
}

func mustRaw(v interface{}) json.RawMessage {
	if v == nil {
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
