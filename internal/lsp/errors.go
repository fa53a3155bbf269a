package lsp

import (
	"errors"
	"fmt"
)

// Standard errors returned by the LSP client.
var (
	// ErrNotStarted indicates the server has not been started.
	ErrNotStarted = errors.New("lsp server not started")

	// ErrAlreadyStarted indicates the server is already running.
	ErrAlreadyStarted = errors.New("lsp server already started")

	// ErrShutdown indicates the transport has been shut down.
	ErrShutdown = errors.New("lsp transport shut down")

	// ErrServerNotReady indicates the server has not finished initializing.
	ErrServerNotReady = errors.New("server not ready")

	// ErrDocumentNotOpen indicates the document is not open.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrServerCrashed indicates the server process terminated unexpectedly.
	ErrServerCrashed = errors.New("server crashed")

	// ErrInvalidResponse indicates an invalid response from the server.
	ErrInvalidResponse = errors.New("invalid response from server")
)

// RPCError represents a JSON-RPC error from the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// CodeMethodNotFound is the JSON-RPC code for an unsupported method.
// RPCError.Code carries any other server-reported code verbatim.
const CodeMethodNotFound = -32601

// TransportError wraps a failure of the underlying connection. Every call
// pending when the connection dies resolves with one of these.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}
