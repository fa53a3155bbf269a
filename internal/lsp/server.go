package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ServerStatus indicates the current state of a server.
type ServerStatus int

const (
	ServerStatusStopped ServerStatus = iota
	ServerStatusStarting
	ServerStatusInitializing
	ServerStatusReady
	ServerStatusShuttingDown
	ServerStatusError
)

// String returns a human-readable status name.
func (s ServerStatus) String() string {
	switch s {
	case ServerStatusStopped:
		return "stopped"
	case ServerStatusStarting:
		return "starting"
	case ServerStatusInitializing:
		return "initializing"
	case ServerStatusReady:
		return "ready"
	case ServerStatusShuttingDown:
		return "shutting down"
	case ServerStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ServerConfig defines how to start a language server.
type ServerConfig struct {
	// Command is the executable to run (default: "rust-analyzer").
	Command string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkspaceRoot is the project root, also used as the process working
	// directory.
	WorkspaceRoot string

	// InitializationOptions are sent during initialize.
	InitializationOptions any

	// Timeout bounds each request (default: 30s).
	Timeout time.Duration

	// StrictDecode tears down the session on undecodable frames.
	StrictDecode bool

	// Logger receives process lifecycle events and the child's stderr.
	Logger *zap.Logger
}

// DefaultInitializationOptions returns the rust-analyzer settings the bridge
// sends during initialize. Build scripts and proc macros are enabled so trait
// solving sees the same world as a real build.
func DefaultInitializationOptions() map[string]any {
	return map[string]any{
		"cargo": map[string]any{
			"buildScripts": map[string]any{
				"enable": true,
			},
		},
		"checkOnSave": true,
		"check": map[string]any{
			"command": "check",
		},
		"diagnostics": map[string]any{
			"enable":             true,
			"experimental":       map[string]any{"enable": true},
			"styleLints":         map[string]any{"enable": true},
			"useRustcErrorCodes": true,
		},
		"procMacro": map[string]any{
			"enable": true,
		},
	}
}

// Server supervises a single rust-analyzer process: it spawns the executable,
// wires its stdio into a Transport, performs the initialize handshake, and
// tears everything down on Shutdown. Teardown is always explicit; nothing is
// tied to garbage collection.
type Server struct {
	mu sync.Mutex

	config ServerConfig
	logger *zap.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	transport *Transport

	status       atomic.Int32
	capabilities ServerCapabilities
	serverInfo   *InitializeServerInfo

	documents   map[DocumentURI]*Document
	documentsMu sync.RWMutex

	diagnostics   map[DocumentURI][]Diagnostic
	diagnosticsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	exitCh chan error
}

// Document represents an open document tracked by the server.
type Document struct {
	URI        DocumentURI
	LanguageID string
	Version    int
}

// NewServer creates a new server instance (not yet started).
func NewServer(config ServerConfig) *Server {
	if config.Command == "" {
		config.Command = "rust-analyzer"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.InitializationOptions == nil {
		config.InitializationOptions = DefaultInitializationOptions()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:      config,
		logger:      logger,
		documents:   make(map[DocumentURI]*Document),
		diagnostics: make(map[DocumentURI][]Diagnostic),
		exitCh:      make(chan error, 1),
	}
	s.status.Store(int32(ServerStatusStopped))
	return s
}

// Start starts the language server process and initializes it. A failed
// start leaves the server in the error state; it is not retried.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status() != ServerStatusStopped {
		return ErrAlreadyStarted
	}

	s.status.Store(int32(ServerStatusStarting))
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.startProcess(); err != nil {
		s.status.Store(int32(ServerStatusError))
		return err
	}

	opts := []TransportOption{WithTransportLogger(s.logger)}
	if s.config.StrictDecode {
		opts = append(opts, WithStrictDecode(true))
	}
	s.transport = NewTransport(s.stdout, s.stdin, nil, opts...)
	s.registerNotificationHandlers()
	s.transport.Start(s.ctx)

	go s.drainStderr()
	go s.monitorProcess()

	s.status.Store(int32(ServerStatusInitializing))
	if err := s.initialize(s.ctx); err != nil {
		s.status.Store(int32(ServerStatusError))
		s.stopProcess()
		return fmt.Errorf("initialize: %w", err)
	}

	s.status.Store(int32(ServerStatusReady))
	s.logger.Info("language server ready",
		zap.String("command", s.config.Command),
		zap.String("workspace", s.config.WorkspaceRoot))
	return nil
}

// startProcess starts the language server executable with stdio pipes.
func (s *Server) startProcess() error {
	cmd := exec.CommandContext(s.ctx, s.config.Command, s.config.Args...)

	cmd.Env = os.Environ()
	for k, v := range s.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	if s.config.WorkspaceRoot != "" {
		cmd.Dir = s.config.WorkspaceRoot
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start %s: %w", s.config.Command, err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr

	return nil
}

// drainStderr forwards the child's stderr line by line to the logger.
// Leaving the pipe undrained would stall the child once its buffer fills.
func (s *Server) drainStderr() {
	scanner := bufio.NewScanner(s.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Debug("rust-analyzer stderr", zap.String("line", scanner.Text()))
	}
}

// monitorProcess watches the process and fails the transport when it exits,
// so in-flight calls do not hang on a dead server.
func (s *Server) monitorProcess() {
	err := s.cmd.Wait()

	if ServerStatus(s.status.Load()) != ServerStatusShuttingDown {
		s.logger.Warn("language server exited unexpectedly", zap.Error(err))
	}

	select {
	case s.exitCh <- err:
	default:
	}

	if s.transport != nil {
		s.transport.fail(ErrServerCrashed)
	}
}

// stopProcess stops the server process.
func (s *Server) stopProcess() {
	if s.transport != nil {
		s.transport.Close()
	}

	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.stdout != nil {
		s.stdout.Close()
	}
	if s.stderr != nil {
		s.stderr.Close()
	}

	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
}

// initialize performs the LSP initialize handshake.
func (s *Server) initialize(ctx context.Context) error {
	rootURI := FilePathToURI(s.config.WorkspaceRoot)

	params := InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               rootURI,
		Capabilities:          ClientCapabilities{},
		InitializationOptions: s.config.InitializationOptions,
		WorkspaceFolders: []WorkspaceFolder{
			{URI: rootURI, Name: "workspace"},
		},
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	var result InitializeResult
	if err := s.transport.Call(ctx, "initialize", params, &result); err != nil {
		return fmt.Errorf("initialize request: %w", err)
	}

	s.capabilities = result.Capabilities
	s.serverInfo = result.ServerInfo

	if err := s.transport.Notify(ctx, "initialized", InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}

	return nil
}

// registerNotificationHandlers sets up handlers for server notifications.
func (s *Server) registerNotificationHandlers() {
	s.transport.OnNotification("textDocument/publishDiagnostics", func(method string, params json.RawMessage) {
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}

		s.diagnosticsMu.Lock()
		if len(p.Diagnostics) == 0 {
			delete(s.diagnostics, p.URI)
		} else {
			s.diagnostics[p.URI] = p.Diagnostics
		}
		s.diagnosticsMu.Unlock()
	})

	s.transport.OnNotification("window/logMessage", func(method string, params json.RawMessage) {
		var p struct {
			Type    int    `json:"type"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		s.logger.Debug("server log", zap.String("message", p.Message))
	})
}

// Shutdown gracefully shuts down the server: shutdown request, exit
// notification, then kill. Safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := ServerStatus(s.status.Load())
	if status == ServerStatusStopped || status == ServerStatusShuttingDown {
		return nil
	}

	s.status.Store(int32(ServerStatusShuttingDown))

	if s.transport != nil && !s.transport.IsClosed() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		_ = s.transport.Call(shutdownCtx, "shutdown", nil, nil)
		_ = s.transport.Notify(shutdownCtx, "exit", nil)
	}

	if s.cancel != nil {
		s.cancel()
	}

	s.stopProcess()

	s.status.Store(int32(ServerStatusStopped))
	s.logger.Info("language server stopped")
	return nil
}

// Status returns the current server status.
func (s *Server) Status() ServerStatus {
	return ServerStatus(s.status.Load())
}

// Capabilities returns the server's capabilities.
func (s *Server) Capabilities() ServerCapabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// ServerInfo returns the name and version reported during initialization.
func (s *Server) ServerInfo() *InitializeServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// WorkspaceRoot returns the configured workspace root.
func (s *Server) WorkspaceRoot() string {
	return s.config.WorkspaceRoot
}

// ExitChannel returns a channel that receives when the process exits.
func (s *Server) ExitChannel() <-chan error {
	return s.exitCh
}

// Call sends a raw request to the server and decodes the result field.
// Extension methods not covered by the typed helpers go through here.
func (s *Server) Call(ctx context.Context, method string, params any, result any) error {
	switch s.Status() {
	case ServerStatusReady:
	case ServerStatusStopped:
		return ErrNotStarted
	default:
		return ErrServerNotReady
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	return s.transport.Call(ctx, method, params, result)
}

// Notify sends a raw notification to the server.
func (s *Server) Notify(ctx context.Context, method string, params any) error {
	switch s.Status() {
	case ServerStatusReady:
	case ServerStatusStopped:
		return ErrNotStarted
	default:
		return ErrServerNotReady
	}
	return s.transport.Notify(ctx, method, params)
}

// --- Document Management ---

// OpenDocument reads a file from disk and notifies the server it is open.
// Reopening an already open file bumps its version with the fresh content.
func (s *Server) OpenDocument(ctx context.Context, path string) error {
	if s.Status() != ServerStatusReady {
		return ErrServerNotReady
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	uri := FilePathToURI(path)
	languageID := DetectLanguageID(path)

	s.documentsMu.Lock()
	if doc, exists := s.documents[uri]; exists {
		doc.Version++
		version := doc.Version
		s.documentsMu.Unlock()

		params := DidChangeTextDocumentParams{
			TextDocument: VersionedTextDocumentIdentifier{
				TextDocumentIdentifier: TextDocumentIdentifier{URI: uri},
				Version:                version,
			},
			ContentChanges: []TextDocumentContentChangeEvent{{Text: string(content)}},
		}
		return s.transport.Notify(ctx, "textDocument/didChange", params)
	}

	s.documents[uri] = &Document{URI: uri, LanguageID: languageID, Version: 1}
	s.documentsMu.Unlock()

	params := DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    1,
			Text:       string(content),
		},
	}
	return s.transport.Notify(ctx, "textDocument/didOpen", params)
}

// CloseDocument notifies the server that a document was closed.
func (s *Server) CloseDocument(ctx context.Context, path string) error {
	if s.Status() != ServerStatusReady {
		return ErrServerNotReady
	}

	uri := FilePathToURI(path)

	s.documentsMu.Lock()
	if _, exists := s.documents[uri]; !exists {
		s.documentsMu.Unlock()
		return ErrDocumentNotOpen
	}
	delete(s.documents, uri)
	s.documentsMu.Unlock()

	params := DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	}
	return s.transport.Notify(ctx, "textDocument/didClose", params)
}

// IsDocumentOpen returns true if the document is open.
func (s *Server) IsDocumentOpen(path string) bool {
	uri := FilePathToURI(path)
	s.documentsMu.RLock()
	_, exists := s.documents[uri]
	s.documentsMu.RUnlock()
	return exists
}

// --- Diagnostics ---

// Diagnostics returns the cached diagnostics for a file. The cache is fed by
// publishDiagnostics notifications, so it reflects whatever the server has
// pushed so far, not an on-demand analysis.
func (s *Server) Diagnostics(path string) []Diagnostic {
	uri := FilePathToURI(path)
	s.diagnosticsMu.RLock()
	defer s.diagnosticsMu.RUnlock()
	return s.diagnostics[uri]
}

// AllDiagnostics returns diagnostics for all files keyed by path.
func (s *Server) AllDiagnostics() map[string][]Diagnostic {
	s.diagnosticsMu.RLock()
	defer s.diagnosticsMu.RUnlock()

	result := make(map[string][]Diagnostic, len(s.diagnostics))
	for uri, diags := range s.diagnostics {
		result[URIToFilePath(uri)] = diags
	}
	return result
}

// --- LSP Requests ---

// Hover requests hover information at a position.
func (s *Server) Hover(ctx context.Context, path string, pos Position) (*Hover, error) {
	params := HoverParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		},
	}

	var result *Hover
	if err := s.Call(ctx, "textDocument/hover", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Definition returns the definition location(s) for the symbol at a position.
func (s *Server) Definition(ctx context.Context, path string, pos Position) ([]Location, error) {
	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Position:     pos,
	}

	var result json.RawMessage
	if err := s.Call(ctx, "textDocument/definition", params, &result); err != nil {
		return nil, err
	}
	return ParseLocationResult(result)
}

// References finds all references to the symbol at a position.
func (s *Server) References(ctx context.Context, path string, pos Position, includeDecl bool) ([]Location, error) {
	params := ReferenceParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		},
		Context: ReferenceContext{IncludeDeclaration: includeDecl},
	}

	var result []Location
	if err := s.Call(ctx, "textDocument/references", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Completion requests completion items at a position.
func (s *Server) Completion(ctx context.Context, path string, pos Position) (*CompletionList, error) {
	params := CompletionParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
			Position:     pos,
		},
		Context: &CompletionContext{TriggerKind: CompletionTriggerKindInvoked},
	}

	var result json.RawMessage
	if err := s.Call(ctx, "textDocument/completion", params, &result); err != nil {
		return nil, err
	}

	if len(result) == 0 {
		return &CompletionList{}, nil
	}

	// The response may be a CompletionList or a bare item array.
	var list CompletionList
	if err := json.Unmarshal(result, &list); err == nil && (list.Items != nil || list.IsIncomplete) {
		return &list, nil
	}
	var items []CompletionItem
	if err := json.Unmarshal(result, &items); err == nil {
		return &CompletionList{Items: items}, nil
	}
	return nil, fmt.Errorf("%w: unrecognized completion shape", ErrInvalidResponse)
}

// DocumentSymbols returns symbols in a document.
func (s *Server) DocumentSymbols(ctx context.Context, path string) ([]DocumentSymbol, error) {
	params := DocumentSymbolParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
	}

	var result []DocumentSymbol
	if err := s.Call(ctx, "textDocument/documentSymbol", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Format formats an entire document.
func (s *Server) Format(ctx context.Context, path string) ([]TextEdit, error) {
	params := DocumentFormattingParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Options:      FormattingOptions{TabSize: 4, InsertSpaces: true},
	}

	var result []TextEdit
	if err := s.Call(ctx, "textDocument/formatting", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CodeActions returns available code actions for a range.
func (s *Server) CodeActions(ctx context.Context, path string, rng Range) ([]CodeAction, error) {
	params := CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Range:        rng,
		Context:      CodeActionContext{Diagnostics: []Diagnostic{}},
	}

	var result []CodeAction
	if err := s.Call(ctx, "textDocument/codeAction", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}
