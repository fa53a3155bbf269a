package lsp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Transport handles JSON-RPC 2.0 communication over stdio.
// It implements the LSP base protocol with Content-Length framing and
// correlates asynchronously arriving responses back to their callers.
//
// All outbound traffic flows through a single writer goroutine so the wire
// never interleaves two message bodies; a request is entered into the
// pending map before its bytes reach the wire, so a response can never
// race ahead of its own registration.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]chan callResult

	outbound chan outboundMessage

	handlersMu sync.Mutex
	handlers   map[string]NotificationHandler

	strict bool
	logger *zap.Logger

	closed atomic.Bool
	done   chan struct{}
}

// NotificationHandler handles incoming notifications from the server.
type NotificationHandler func(method string, params json.RawMessage)

// callResult carries the outcome of one request back to its caller.
type callResult struct {
	result json.RawMessage
	err    error
}

// outboundMessage is a queued request or notification. Notifications have
// no reply slot; requests carry the channel the dispatcher will fulfill.
type outboundMessage struct {
	id     uint64
	method string
	params any
	reply  chan callResult
}

// envelope is the outbound JSON-RPC message shape.
type envelope struct {
	JSONRPC string  `json:"jsonrpc"`
	ID      *uint64 `json:"id,omitempty"`
	Method  string  `json:"method"`
	Params  any     `json:"params,omitempty"`
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithStrictDecode makes a frame that fails JSON parsing tear down the
// connection instead of being dropped silently. The lenient default favors
// session availability; strict mode favors never losing a response.
func WithStrictDecode(strict bool) TransportOption {
	return func(t *Transport) {
		t.strict = strict
	}
}

// WithTransportLogger sets the logger used for dropped-frame diagnostics.
func WithTransportLogger(logger *zap.Logger) TransportOption {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport creates a new transport over the given connection.
// The reader and writer are typically the child process's stdout and stdin.
func NewTransport(r io.Reader, w io.Writer, c io.Closer, opts ...TransportOption) *Transport {
	t := &Transport{
		reader:   bufio.NewReaderSize(r, 64*1024),
		writer:   w,
		closer:   c,
		pending:  make(map[uint64]chan callResult),
		outbound: make(chan outboundMessage, 64),
		handlers: make(map[string]NotificationHandler),
		logger:   zap.NewNop(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the writer and reader loops. The transport shuts down when
// ctx is cancelled, the stream ends, or Close is called.
func (t *Transport) Start(ctx context.Context) {
	go t.writeLoop()
	go t.readLoop()
	go func() {
		select {
		case <-ctx.Done():
			t.fail(ctx.Err())
		case <-t.done:
		}
	}()
}

// Close shuts down the transport. All in-flight calls resolve immediately
// with a transport error; subsequent calls fail with ErrShutdown. Safe to
// call more than once.
func (t *Transport) Close() error {
	t.fail(ErrShutdown)
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// IsClosed returns true if the transport has been closed.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// fail transitions the transport to closed and resolves every pending call
// with a transport error. Idempotent; only the first cause is kept.
func (t *Transport) fail(cause error) {
	if t.closed.Swap(true) {
		return
	}
	close(t.done)

	t.mu.Lock()
	pending := t.pending
	t.pending = make(map[uint64]chan callResult)
	t.mu.Unlock()

	err := &TransportError{Err: cause}
	for _, ch := range pending {
		ch <- callResult{err: err} // buffered, never blocks
	}
}

// Call sends a request and waits for the matching response.
// The response's result field is unmarshaled into result if non-nil.
func (t *Transport) Call(ctx context.Context, method string, params any, result any) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	id := t.nextID.Add(1)
	reply := make(chan callResult, 1)

	msg := outboundMessage{id: id, method: method, params: params, reply: reply}
	select {
	case t.outbound <- msg:
	case <-t.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case res := <-reply:
		if res.err != nil {
			return res.err
		}
		if result != nil && len(res.result) > 0 && !bytes.Equal(res.result, []byte("null")) {
			if err := json.Unmarshal(res.result, result); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
			}
		}
		return nil
	case <-t.done:
		return ErrShutdown
	case <-ctx.Done():
		// Evict the reply slot; the id is never reused, so a late
		// response for it is dropped as unknown.
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return ctx.Err()
	}
}

// Notify sends a notification. It returns once the message is queued; the
// protocol has no acknowledgment, so delivery failure only surfaces through
// a later transport failure.
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	select {
	case t.outbound <- outboundMessage{method: method, params: params}:
		return nil
	case <-t.done:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnNotification registers a handler for server-initiated notifications.
// The method "*" acts as a wildcard fallback.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.handlersMu.Lock()
	t.handlers[method] = handler
	t.handlersMu.Unlock()
}

// writeLoop is the single writer; outbound messages hit the wire in the
// order they were enqueued.
func (t *Transport) writeLoop() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.outbound:
			t.writeMessage(msg)
		}
	}
}

func (t *Transport) writeMessage(msg outboundMessage) {
	env := envelope{JSONRPC: "2.0", Method: msg.method, Params: msg.params}
	if msg.reply != nil {
		env.ID = &msg.id
	}

	data, err := json.Marshal(env)
	if err != nil {
		if msg.reply != nil {
			msg.reply <- callResult{err: fmt.Errorf("marshal message: %w", err)}
		}
		return
	}

	// Reserve the id before any bytes reach the wire. The reader may see
	// the response arbitrarily soon after the frame is flushed.
	if msg.reply != nil {
		t.mu.Lock()
		t.pending[msg.id] = msg.reply
		t.mu.Unlock()
	}

	if err := WriteFrame(t.writer, data); err != nil {
		if msg.reply != nil {
			t.mu.Lock()
			delete(t.pending, msg.id)
			t.mu.Unlock()
			// A concurrent fail() may have filled the slot already.
			select {
			case msg.reply <- callResult{err: &TransportError{Err: err}}:
			default:
			}
		}
		// A partial frame corrupts everything after it on this stream.
		t.fail(err)
	}
}

// readLoop decodes frames from the connection and dispatches them.
func (t *Transport) readLoop() {
	for {
		payload, err := ReadFrame(t.reader)
		if err != nil {
			if !t.closed.Load() {
				t.fail(err)
			}
			return
		}
		t.dispatch(payload)
	}
}

// dispatch routes one decoded frame: responses resolve their pending call,
// notifications go to registered handlers, anything else is dropped.
func (t *Transport) dispatch(payload []byte) {
	var probe struct {
		ID     *uint64         `json:"id"`
		Method string          `json:"method"`
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		if t.strict {
			t.fail(fmt.Errorf("malformed frame: %w", err))
			return
		}
		t.logger.Debug("dropping undecodable frame", zap.Error(err))
		return
	}

	if probe.ID != nil && probe.Method == "" {
		t.resolve(*probe.ID, probe.Result, probe.Error)
		return
	}

	if probe.Method != "" {
		t.handleNotification(probe.Method, probe.Params)
	}
}

// resolve fulfills the reply slot for id at most once. Unknown or duplicate
// ids are dropped without error.
func (t *Transport) resolve(id uint64, result json.RawMessage, rpcErr *RPCError) {
	t.mu.Lock()
	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	if rpcErr != nil {
		ch <- callResult{err: rpcErr}
		return
	}
	if result == nil {
		result = json.RawMessage("null")
	}
	ch <- callResult{result: result}
}

// handleNotification runs the registered handler in its own goroutine so a
// slow handler never blocks the read loop.
func (t *Transport) handleNotification(method string, params json.RawMessage) {
	t.handlersMu.Lock()
	handler, ok := t.handlers[method]
	if !ok {
		handler, ok = t.handlers["*"]
	}
	t.handlersMu.Unlock()

	if ok && handler != nil {
		go handler(method, params)
	}
}
