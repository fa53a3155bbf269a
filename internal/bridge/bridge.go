// Package bridge exposes a rust-analyzer session as MCP tools. It owns the
// language server's lifecycle and the failed-obligations store, and wires
// both behind the tool handlers the MCP server dispatches to.
package bridge

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/rabridge/internal/lsp"
	"github.com/dshills/rabridge/internal/obligations"
)

// Options configure the wrapped rust-analyzer session.
type Options struct {
	// Workspace is the project root. Empty means the current directory.
	Workspace string

	// Command is the analyzer binary (default: "rust-analyzer").
	Command string

	// Args are extra analyzer arguments.
	Args []string

	// Env are extra environment variables for the analyzer.
	Env map[string]string

	// RequestTimeout bounds each LSP request.
	RequestTimeout time.Duration

	// StrictDecode tears the session down on undecodable frames.
	StrictDecode bool

	// Logger receives session lifecycle events. Defaults to a nop logger.
	Logger *zap.Logger
}

// Bridge binds one rust-analyzer server and one obligations store under a
// single lock. The server starts lazily on the first tool call; the store
// survives workspace switches so already-issued goal indices stay valid.
type Bridge struct {
	mu     sync.Mutex
	opts   Options
	logger *zap.Logger
	server *lsp.Server
	store  *obligations.Store
}

// New creates a bridge. The analyzer is not started until a tool needs it.
func New(opts Options) *Bridge {
	if opts.Workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			opts.Workspace = wd
		} else {
			opts.Workspace = "."
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		opts:   opts,
		logger: logger,
		store:  obligations.NewStore(),
	}
}

// Store exposes the obligations store.
func (b *Bridge) Store() *obligations.Store {
	return b.store
}

// Workspace returns the current workspace root.
func (b *Bridge) Workspace() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.opts.Workspace
}

// Shutdown stops the analyzer if it is running.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.server == nil {
		return nil
	}
	err := b.server.Shutdown(ctx)
	b.server = nil
	return err
}

// ensureServer starts the analyzer on first use. Callers hold b.mu.
func (b *Bridge) ensureServer(ctx context.Context) (*lsp.Server, error) {
	if b.server != nil {
		return b.server, nil
	}

	srv := lsp.NewServer(lsp.ServerConfig{
		Command:       b.opts.Command,
		Args:          b.opts.Args,
		Env:           b.opts.Env,
		WorkspaceRoot: b.opts.Workspace,
		Timeout:       b.opts.RequestTimeout,
		StrictDecode:  b.opts.StrictDecode,
		Logger:        b.logger,
	})
	if err := srv.Start(ctx); err != nil {
		return nil, fmt.Errorf("start analyzer: %w", err)
	}
	b.server = srv
	return srv, nil
}

// ensureDocument opens the file if this session has not opened it yet and
// returns both the server and the file's URI.
func (b *Bridge) ensureDocument(ctx context.Context, filePath string) (*lsp.Server, lsp.DocumentURI, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	srv, err := b.ensureServer(ctx)
	if err != nil {
		return nil, "", err
	}

	if !srv.IsDocumentOpen(filePath) {
		if err := srv.OpenDocument(ctx, filePath); err != nil {
			return nil, "", fmt.Errorf("open document: %w", err)
		}
	}
	return srv, lsp.FilePathToURI(filePath), nil
}

// setWorkspace restarts the analyzer against a new root. Open-document
// state dies with the old server; the obligations store is kept.
func (b *Bridge) setWorkspace(ctx context.Context, workspacePath string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.server != nil {
		if err := b.server.Shutdown(ctx); err != nil {
			b.logger.Warn("shutdown before workspace switch", zap.Error(err))
		}
		b.server = nil
	}

	b.opts.Workspace = workspacePath
	_, err := b.ensureServer(ctx)
	return err
}
