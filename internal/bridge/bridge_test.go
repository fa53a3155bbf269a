package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/dshills/rabridge/internal/mcp"
	"github.com/dshills/rabridge/internal/obligations"
)

func TestNew_DefaultsWorkspace(t *testing.T) {
	b := New(Options{})
	if b.Workspace() == "" {
		t.Error("workspace should default to a non-empty directory")
	}
}

func TestRegisterTools_ExposesAllTools(t *testing.T) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	srv := mcp.NewServer("rabridge", "test", inR, outW, nil)
	b := New(Options{Workspace: t.TempDir()})
	b.RegisterTools(srv)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)
	defer inW.Close()

	if _, err := inW.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}` + "\n")); err != nil {
		t.Fatal(err)
	}

	line, err := bufio.NewReader(outR).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read tools/list reply: %v", err)
	}

	var resp struct {
		Result struct {
			Tools []mcp.Tool `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("decode reply: %v", err)
	}

	want := []string{
		"rust_analyzer_hover",
		"rust_analyzer_definition",
		"rust_analyzer_references",
		"rust_analyzer_completion",
		"rust_analyzer_symbols",
		"rust_analyzer_format",
		"rust_analyzer_code_actions",
		"rust_analyzer_set_workspace",
		"rust_analyzer_diagnostics",
		"rust_analyzer_failed_obligations",
		"rust_analyzer_failed_obligations_goal",
	}
	if len(resp.Result.Tools) != len(want) {
		t.Fatalf("tool count = %d, want %d", len(resp.Result.Tools), len(want))
	}
	names := make(map[string]bool, len(resp.Result.Tools))
	for _, tool := range resp.Result.Tools {
		names[tool.Name] = true
		if tool.Description == "" {
			t.Errorf("tool %s has no description", tool.Name)
		}
		if tool.InputSchema == nil {
			t.Errorf("tool %s has no input schema", tool.Name)
		}
	}
	for _, name := range want {
		if !names[name] {
			t.Errorf("missing tool %s", name)
		}
	}
}

func TestHandleFailedObligationsGoal_ResolvesStoredIndex(t *testing.T) {
	b := New(Options{Workspace: t.TempDir()})

	root := b.Store().StoreRoot(obligations.ProofTree{
		Goal:   "G",
		Result: "fail",
		Candidates: []obligations.ProofCandidate{
			{Kind: "impl", Result: "fail", NestedGoals: []obligations.ProofTree{
				{Goal: "H", Result: "fail", Candidates: []obligations.ProofCandidate{
					{Kind: "impl", Result: "fail"},
				}},
			}},
		},
	})
	idx := *root.Candidates.List()[0].NestedGoals[0].GoalIndex

	args, _ := json.Marshal(map[string]any{"goal_index": idx})
	result, err := b.handleFailedObligationsGoal(context.Background(), args)
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	tree, ok := result.(obligations.GoalTree)
	if !ok || tree.Goal != "H" {
		t.Errorf("result = %#v, want H", result)
	}
}

func TestHandleFailedObligationsGoal_Validation(t *testing.T) {
	b := New(Options{Workspace: t.TempDir()})

	tests := []struct {
		name string
		args string
	}{
		{"missing goal_index", `{}`},
		{"numeric goal_index", `{"goal_index":7}`},
		{"empty array", `{"goal_index":[]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := b.handleFailedObligationsGoal(context.Background(), json.RawMessage(tt.args)); err == nil {
				t.Errorf("expected validation error for %s", tt.args)
			}
		})
	}
}

func TestHandleFailedObligationsGoal_UnknownIndex(t *testing.T) {
	b := New(Options{Workspace: t.TempDir()})

	args := json.RawMessage(`{"goal_index":"never-issued"}`)
	_, err := b.handleFailedObligationsGoal(context.Background(), args)

	var unknown *obligations.UnknownIndexError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownIndexError, got %v", err)
	}
}

func TestHandleSetWorkspace_RequiresPath(t *testing.T) {
	b := New(Options{Workspace: t.TempDir()})

	if _, err := b.handleSetWorkspace(context.Background(), json.RawMessage(`{"workspace_path":""}`)); err == nil {
		t.Error("expected error for empty workspace_path")
	}
}

func TestHandlers_RejectMalformedArguments(t *testing.T) {
	b := New(Options{Workspace: t.TempDir()})
	ctx := context.Background()
	bad := json.RawMessage(`{"file_path":42}`)

	handlers := map[string]func(context.Context, json.RawMessage) (any, error){
		"hover":      b.handleHover,
		"definition": b.handleDefinition,
		"symbols":    b.handleSymbols,
		"format":     b.handleFormat,
	}
	for name, handler := range handlers {
		if _, err := handler(ctx, bad); err == nil {
			t.Errorf("%s accepted malformed arguments", name)
		}
	}
}

func TestShutdown_WithoutServerIsNoop(t *testing.T) {
	b := New(Options{Workspace: t.TempDir()})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() without server = %v", err)
	}
}
