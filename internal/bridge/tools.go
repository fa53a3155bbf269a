package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/rabridge/internal/lsp"
	"github.com/dshills/rabridge/internal/mcp"
	"github.com/dshills/rabridge/internal/obligations"
)

// filePositionArgs locate a symbol in a file.
type filePositionArgs struct {
	FilePath  string `json:"file_path"`
	Line      int    `json:"line"`
	Character int    `json:"character"`
}

// fileOnlyArgs name just a file.
type fileOnlyArgs struct {
	FilePath string `json:"file_path"`
}

// rangeArgs span a region of a file.
type rangeArgs struct {
	FilePath     string `json:"file_path"`
	Line         int    `json:"line"`
	Character    int    `json:"character"`
	EndLine      int    `json:"end_line"`
	EndCharacter int    `json:"end_character"`
}

// workspaceArgs select a project root.
type workspaceArgs struct {
	WorkspacePath string `json:"workspace_path"`
}

// goalIndexArgs carry one index or a list; validation happens downstream.
type goalIndexArgs struct {
	GoalIndex json.RawMessage `json:"goal_index"`
}

func filePositionSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string", "description": "Path to the Rust file"},
			"line":      map[string]any{"type": "integer", "description": "Zero-based line number"},
			"character": map[string]any{"type": "integer", "description": "Zero-based character offset"},
		},
		"required": []string{"file_path", "line", "character"},
	}
}

func fileOnlySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"file_path": map[string]any{"type": "string", "description": "Path to the Rust file"},
		},
		"required": []string{"file_path"},
	}
}

// RegisterTools adds every analyzer tool to the MCP server.
func (b *Bridge) RegisterTools(srv *mcp.Server) {
	srv.Register(mcp.Tool{
		Name:        "rust_analyzer_hover",
		Description: "Get hover information for a symbol at a specific position in a Rust file",
		InputSchema: filePositionSchema(),
	}, b.handleHover)

	srv.Register(mcp.Tool{
		Name:        "rust_analyzer_definition",
		Description: "Go to definition of a symbol at a specific position",
		InputSchema: filePositionSchema(),
	}, b.handleDefinition)

	srv.Register(mcp.Tool{
		Name:        "rust_analyzer_references",
		Description: "Find all references to a symbol at a specific position",
		InputSchema: filePositionSchema(),
	}, b.handleReferences)

	srv.Register(mcp.Tool{
		Name:        "rust_analyzer_completion",
		Description: "Get code completion suggestions at a specific position",
		InputSchema: filePositionSchema(),
	}, b.handleCompletion)

	srv.Register(mcp.Tool{
		Name:        "rust_analyzer_symbols",
		Description: "Get document symbols (functions, structs, etc.) for a Rust file",
		InputSchema: fileOnlySchema(),
	}, b.handleSymbols)

	srv.Register(mcp.Tool{
		Name:        "rust_analyzer_format",
		Description: "Format a Rust file using rust-analyzer",
		InputSchema: fileOnlySchema(),
	}, b.handleFormat)

	srv.Register(mcp.Tool{
		Name:        "rust_analyzer_code_actions",
		Description: "Get available code actions for a range in a Rust file",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"file_path":     map[string]any{"type": "string", "description": "Path to the Rust file"},
				"line":          map[string]any{"type": "integer", "description": "Start line"},
				"character":     map[string]any{"type": "integer", "description": "Start character"},
				"end_line":      map[string]any{"type": "integer", "description": "End line"},
				"end_character": map[string]any{"type": "integer", "description": "End character"},
			},
			"required": []string{"file_path", "line", "character", "end_line", "end_character"},
		},
	}, b.handleCodeActions)

	srv.Register(mcp.Tool{
		Name:        "rust_analyzer_set_workspace",
		Description: "Set the workspace root directory for rust-analyzer",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"workspace_path": map[string]any{"type": "string", "description": "Absolute path of the project root"},
			},
			"required": []string{"workspace_path"},
		},
	}, b.handleSetWorkspace)

	srv.Register(mcp.Tool{
		Name:        "rust_analyzer_diagnostics",
		Description: "Get compiler diagnostics (errors, warnings, hints) for a Rust file",
		InputSchema: fileOnlySchema(),
	}, b.handleDiagnostics)

	srv.Register(mcp.Tool{
		Name:        "rust_analyzer_failed_obligations",
		Description: "Get failed trait obligations at a position. Returns a goal_index when nested goals exist.",
		InputSchema: filePositionSchema(),
	}, b.handleFailedObligations)

	srv.Register(mcp.Tool{
		Name:        "rust_analyzer_failed_obligations_goal",
		Description: "Explore a specific nested_goal (or list of nested_goals) and its candidates.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"goal_index": map[string]any{
					"description": "A goal_index string, or an array of them, from a previous failed_obligations call",
				},
			},
			"required": []string{"goal_index"},
		},
	}, b.handleFailedObligationsGoal)
}

func decodeArgs[T any](raw json.RawMessage) (T, error) {
	var args T
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("invalid arguments: %w", err)
	}
	return args, nil
}

func (b *Bridge) handleHover(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[filePositionArgs](raw)
	if err != nil {
		return nil, err
	}
	srv, _, err := b.ensureDocument(ctx, args.FilePath)
	if err != nil {
		return nil, err
	}
	result, err := srv.Hover(ctx, args.FilePath, lsp.Position{Line: args.Line, Character: args.Character})
	if err != nil {
		return nil, fmt.Errorf("hover request failed: %w", err)
	}
	return result, nil
}

func (b *Bridge) handleDefinition(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[filePositionArgs](raw)
	if err != nil {
		return nil, err
	}
	srv, _, err := b.ensureDocument(ctx, args.FilePath)
	if err != nil {
		return nil, err
	}
	result, err := srv.Definition(ctx, args.FilePath, lsp.Position{Line: args.Line, Character: args.Character})
	if err != nil {
		return nil, fmt.Errorf("definition request failed: %w", err)
	}
	return result, nil
}

func (b *Bridge) handleReferences(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[filePositionArgs](raw)
	if err != nil {
		return nil, err
	}
	srv, _, err := b.ensureDocument(ctx, args.FilePath)
	if err != nil {
		return nil, err
	}
	result, err := srv.References(ctx, args.FilePath, lsp.Position{Line: args.Line, Character: args.Character}, true)
	if err != nil {
		return nil, fmt.Errorf("references request failed: %w", err)
	}
	return result, nil
}

func (b *Bridge) handleCompletion(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[filePositionArgs](raw)
	if err != nil {
		return nil, err
	}
	srv, _, err := b.ensureDocument(ctx, args.FilePath)
	if err != nil {
		return nil, err
	}
	result, err := srv.Completion(ctx, args.FilePath, lsp.Position{Line: args.Line, Character: args.Character})
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	return result, nil
}

func (b *Bridge) handleSymbols(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[fileOnlyArgs](raw)
	if err != nil {
		return nil, err
	}
	srv, _, err := b.ensureDocument(ctx, args.FilePath)
	if err != nil {
		return nil, err
	}
	result, err := srv.DocumentSymbols(ctx, args.FilePath)
	if err != nil {
		return nil, fmt.Errorf("document symbols request failed: %w", err)
	}
	return result, nil
}

func (b *Bridge) handleFormat(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[fileOnlyArgs](raw)
	if err != nil {
		return nil, err
	}
	srv, _, err := b.ensureDocument(ctx, args.FilePath)
	if err != nil {
		return nil, err
	}
	result, err := srv.Format(ctx, args.FilePath)
	if err != nil {
		return nil, fmt.Errorf("format request failed: %w", err)
	}
	return result, nil
}

func (b *Bridge) handleCodeActions(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[rangeArgs](raw)
	if err != nil {
		return nil, err
	}
	srv, _, err := b.ensureDocument(ctx, args.FilePath)
	if err != nil {
		return nil, err
	}
	rng := lsp.Range{
		Start: lsp.Position{Line: args.Line, Character: args.Character},
		End:   lsp.Position{Line: args.EndLine, Character: args.EndCharacter},
	}
	result, err := srv.CodeActions(ctx, args.FilePath, rng)
	if err != nil {
		return nil, fmt.Errorf("code actions request failed: %w", err)
	}
	return result, nil
}

func (b *Bridge) handleSetWorkspace(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[workspaceArgs](raw)
	if err != nil {
		return nil, err
	}
	if args.WorkspacePath == "" {
		return nil, fmt.Errorf("workspace_path is required")
	}
	if err := b.setWorkspace(ctx, args.WorkspacePath); err != nil {
		return nil, err
	}
	return "Workspace set successfully", nil
}

func (b *Bridge) handleDiagnostics(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[fileOnlyArgs](raw)
	if err != nil {
		return nil, err
	}
	srv, _, err := b.ensureDocument(ctx, args.FilePath)
	if err != nil {
		return nil, err
	}

	// Diagnostics are push-based; give the analyzer a moment to publish
	// before reading the cache.
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	diags := srv.Diagnostics(args.FilePath)
	if diags == nil {
		diags = []lsp.Diagnostic{}
	}
	return diags, nil
}

func (b *Bridge) handleFailedObligations(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[filePositionArgs](raw)
	if err != nil {
		return nil, err
	}
	srv, uri, err := b.ensureDocument(ctx, args.FilePath)
	if err != nil {
		return nil, err
	}

	params := obligations.NewPositionParams(string(uri), args.Line, args.Character)
	roots, err := obligations.Query(ctx, srv, b.store, params)
	if err != nil {
		return nil, fmt.Errorf("failed obligations request failed: %w", err)
	}
	return roots, nil
}

func (b *Bridge) handleFailedObligationsGoal(ctx context.Context, raw json.RawMessage) (any, error) {
	args, err := decodeArgs[goalIndexArgs](raw)
	if err != nil {
		return nil, err
	}
	if len(args.GoalIndex) == 0 {
		return nil, fmt.Errorf("goal_index must be a string or array of strings")
	}
	return obligations.Expand(b.store, args.GoalIndex)
}
