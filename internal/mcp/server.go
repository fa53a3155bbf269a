// Package mcp implements a minimal Model Context Protocol server over
// newline-delimited JSON-RPC on a pair of streams, usually the process's
// own stdin and stdout.
package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Handler executes one tool call. Returned values are serialized to JSON
// and wrapped as text content; a returned error becomes an isError tool
// result visible to the model, not a protocol failure.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Server dispatches MCP requests to registered tools. Responses go through
// a single mutex-guarded writer so concurrent handlers never interleave
// output lines.
type Server struct {
	name    string
	version string
	logger  *zap.Logger

	reader *bufio.Reader

	writeMu sync.Mutex
	writer  io.Writer

	mu       sync.Mutex
	tools    []Tool
	handlers map[string]Handler
}

// NewServer creates a server reading requests from r and writing responses
// to w.
func NewServer(name, version string, r io.Reader, w io.Writer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		name:     name,
		version:  version,
		logger:   logger,
		reader:   bufio.NewReaderSize(r, 1024*1024),
		writer:   w,
		handlers: make(map[string]Handler),
	}
}

// Register adds a tool and its handler. Registering a name twice replaces
// the handler but keeps one tools/list entry.
func (s *Server) Register(tool Tool, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.handlers[tool.Name]; !exists {
		s.tools = append(s.tools, tool)
	}
	s.handlers[tool.Name] = handler
}

// Run serves requests until the input stream ends or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		for {
			line, err := s.reader.ReadBytes('\n')
			if len(line) > 0 {
				buf := make([]byte, len(line))
				copy(buf, line)
				select {
				case lines <- buf:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read request: %w", err)
		case line := <-lines:
			s.handleLine(ctx, line)
		}
	}
}

// handleLine decodes and dispatches one request line.
func (s *Server) handleLine(ctx context.Context, line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Debug("dropping undecodable request line", zap.Error(err))
		s.writeError(nil, CodeParseError, "parse error")
		return
	}

	s.logger.Debug("request", zap.String("method", req.Method))

	switch req.Method {
	case "initialize":
		s.writeResult(req.ID, initializeResult{
			ProtocolVersion: protocolVersion,
			Capabilities:    serverCapabilities{Tools: map[string]any{}},
			ServerInfo:      serverInfo{Name: s.name, Version: s.version},
		})
	case "notifications/initialized", "notifications/cancelled":
		// Notifications get no reply.
	case "ping":
		s.writeResult(req.ID, map[string]any{})
	case "tools/list":
		s.mu.Lock()
		tools := make([]Tool, len(s.tools))
		copy(tools, s.tools)
		s.mu.Unlock()
		s.writeResult(req.ID, listToolsResult{Tools: tools})
	case "tools/call":
		s.handleToolCall(ctx, req)
	default:
		if req.ID != nil {
			s.writeError(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
		}
	}
}

// handleToolCall runs the named tool and wraps its outcome as tool content.
func (s *Server) handleToolCall(ctx context.Context, req Request) {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		s.writeError(req.ID, CodeInvalidParams, "invalid tools/call params")
		return
	}

	s.mu.Lock()
	handler, ok := s.handlers[params.Name]
	s.mu.Unlock()
	if !ok {
		s.writeError(req.ID, CodeInvalidParams, fmt.Sprintf("unknown tool: %s", params.Name))
		return
	}

	args := params.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	result, err := handler(ctx, args)
	if err != nil {
		s.logger.Debug("tool failed", zap.String("tool", params.Name), zap.Error(err))
		s.writeResult(req.ID, CallToolResult{
			Content: []TextContent{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
		return
	}

	text, err := renderResult(result)
	if err != nil {
		s.writeResult(req.ID, CallToolResult{
			Content: []TextContent{{Type: "text", Text: fmt.Sprintf("encode result: %v", err)}},
			IsError: true,
		})
		return
	}

	s.writeResult(req.ID, CallToolResult{
		Content: []TextContent{{Type: "text", Text: text}},
	})
}

// renderResult turns a handler's return value into the text block body.
// Strings pass through; everything else is serialized as JSON.
func renderResult(result any) (string, error) {
	switch v := result.(type) {
	case string:
		return v, nil
	case nil:
		return "null", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

func (s *Server) writeResult(id any, result any) {
	s.writeResponse(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) writeError(id any, code int, message string) {
	s.writeResponse(Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}})
}

func (s *Server) writeResponse(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", zap.Error(err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}
