package obligations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// methodGetFailedObligations is the rust-analyzer extension that returns the
// failed trait obligations at a position.
const methodGetFailedObligations = "rust-analyzer/getFailedObligations"

// Caller issues raw requests against a language server. *lsp.Server
// satisfies it.
type Caller interface {
	Call(ctx context.Context, method string, params any, result any) error
}

// PositionParams locates the query in a document.
type PositionParams struct {
	TextDocument struct {
		URI string `json:"uri"`
	} `json:"textDocument"`
	Position struct {
		Line      int `json:"line"`
		Character int `json:"character"`
	} `json:"position"`
}

// NewPositionParams builds query params for a uri and zero-based position.
func NewPositionParams(uri string, line, character int) PositionParams {
	var p PositionParams
	p.TextDocument.URI = uri
	p.Position.Line = line
	p.Position.Character = character
	return p
}

// Query asks the analyzer for the failed obligations at a position and
// stores each returned proof tree. The analyzer encodes the trees as a JSON
// string inside the result; an empty string means no failures.
func Query(ctx context.Context, caller Caller, store *Store, params PositionParams) ([]GoalTree, error) {
	var raw string
	if err := caller.Call(ctx, methodGetFailedObligations, params, &raw); err != nil {
		return nil, err
	}
	if raw == "" {
		return []GoalTree{}, nil
	}

	var trees []ProofTree
	if err := json.Unmarshal([]byte(raw), &trees); err != nil {
		return nil, fmt.Errorf("decode failed obligations: %w", err)
	}

	roots := make([]GoalTree, 0, len(trees))
	for _, tree := range trees {
		roots = append(roots, store.StoreRoot(tree))
	}
	return roots, nil
}

// Expand resolves one index or a batch. The input is either a JSON string
// or a non-empty array of strings; anything else is rejected before any
// lookup. A single index yields the bare tree, several yield the list, and
// one unknown index fails the whole call.
func Expand(store *Store, goalIndex json.RawMessage) (any, error) {
	indices, err := parseIndices(goalIndex)
	if err != nil {
		return nil, err
	}

	results, err := store.ResolveAll(indices)
	if err != nil {
		return nil, err
	}

	if len(results) == 1 {
		return results[0], nil
	}
	return results, nil
}

// parseIndices validates and normalizes the goal_index argument.
func parseIndices(raw json.RawMessage) ([]string, error) {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errors.New("goal_index must be a string or array of strings")
	}

	indices := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			indices = append(indices, s)
		}
	}
	if len(indices) == 0 {
		return nil, errors.New("at least one goal_index is required")
	}
	return indices, nil
}
