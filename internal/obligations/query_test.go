package obligations

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

// fakeCaller answers every request with a fixed raw string result.
type fakeCaller struct {
	method string
	params any
	result string
	err    error
}

func (f *fakeCaller) Call(ctx context.Context, method string, params any, result any) error {
	f.method = method
	f.params = params
	if f.err != nil {
		return f.err
	}
	*(result.(*string)) = f.result
	return nil
}

func TestQuery_EmptyResult(t *testing.T) {
	store := NewStore()
	caller := &fakeCaller{result: ""}

	roots, err := Query(context.Background(), caller, store, NewPositionParams("file:///src/main.rs", 3, 7))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(roots) != 0 {
		t.Errorf("expected no roots, got %d", len(roots))
	}
	if caller.method != "rust-analyzer/getFailedObligations" {
		t.Errorf("method = %q", caller.method)
	}
}

func TestQuery_StoresEachRoot(t *testing.T) {
	store := NewStore()

	trees := []ProofTree{
		{Goal: "A", Result: "fail", Candidates: []ProofCandidate{
			{Kind: "impl", Result: "fail", NestedGoals: []ProofTree{
				{Goal: "B", Result: "fail", Candidates: []ProofCandidate{{Kind: "impl", Result: "fail"}}},
			}},
		}},
		{Goal: "C", Result: "fail", Candidates: []ProofCandidate{}},
	}
	payload, err := json.Marshal(trees)
	if err != nil {
		t.Fatal(err)
	}

	// The analyzer nests the tree JSON inside a string result.
	caller := &fakeCaller{result: string(payload)}

	roots, err := Query(context.Background(), caller, store, NewPositionParams("file:///src/lib.rs", 0, 0))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(roots) != 2 {
		t.Fatalf("expected 2 roots, got %d", len(roots))
	}
	if roots[0].Goal != "A" || roots[1].Goal != "C" {
		t.Errorf("root goals = %q, %q", roots[0].Goal, roots[1].Goal)
	}
	for i, root := range roots {
		if root.GoalIndex != nil {
			t.Errorf("root %d carries an index", i)
		}
	}

	// B had candidates, so it was persisted and is reachable by its index.
	idx := roots[0].Candidates.List()[0].NestedGoals[0].GoalIndex
	if idx == nil {
		t.Fatal("nested goal B should carry an index")
	}
	b, err := store.Resolve(*idx)
	if err != nil {
		t.Fatalf("Resolve(B) error = %v", err)
	}
	if b.Goal != "B" {
		t.Errorf("resolved goal = %q, want B", b.Goal)
	}
}

func TestQuery_MalformedPayload(t *testing.T) {
	store := NewStore()
	caller := &fakeCaller{result: "not json"}

	_, err := Query(context.Background(), caller, store, PositionParams{})
	if err == nil {
		t.Fatal("expected decode error")
	}
}

func TestQuery_CallerErrorPropagates(t *testing.T) {
	store := NewStore()
	boom := errors.New("server crashed")
	caller := &fakeCaller{err: boom}

	_, err := Query(context.Background(), caller, store, PositionParams{})
	if !errors.Is(err, boom) {
		t.Errorf("expected caller error, got %v", err)
	}
}

func TestExpand_SingleAndBatch(t *testing.T) {
	store := NewStore()
	root := store.StoreRoot(ProofTree{
		Goal:   "G",
		Result: "fail",
		Candidates: []ProofCandidate{
			{Kind: "impl", Result: "fail", NestedGoals: []ProofTree{
				{Goal: "H", Result: "fail", Candidates: []ProofCandidate{{Kind: "impl", Result: "fail"}}},
				{Goal: "K", Result: "fail", Candidates: []ProofCandidate{{Kind: "builtin", Result: "fail"}}},
			}},
		},
	})
	goals := root.Candidates.List()[0].NestedGoals
	hIdx, kIdx := *goals[0].GoalIndex, *goals[1].GoalIndex

	// A single string yields the bare tree.
	single, err := Expand(store, json.RawMessage(`"`+hIdx+`"`))
	if err != nil {
		t.Fatalf("Expand(single) error = %v", err)
	}
	if tree, ok := single.(GoalTree); !ok || tree.Goal != "H" {
		t.Errorf("single expand = %#v", single)
	}

	// An array yields the ordered list.
	raw, _ := json.Marshal([]string{kIdx, hIdx})
	batch, err := Expand(store, raw)
	if err != nil {
		t.Fatalf("Expand(batch) error = %v", err)
	}
	list, ok := batch.([]GoalTree)
	if !ok || len(list) != 2 {
		t.Fatalf("batch expand = %#v", batch)
	}
	if list[0].Goal != "K" || list[1].Goal != "H" {
		t.Errorf("batch order = %q, %q, want K, H", list[0].Goal, list[1].Goal)
	}
}

func TestExpand_InputValidation(t *testing.T) {
	store := NewStore()

	tests := []struct {
		name  string
		input string
	}{
		{"number", `42`},
		{"object", `{"goal_index":"x"}`},
		{"empty array", `[]`},
		{"array without strings", `[1,2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Expand(store, json.RawMessage(tt.input)); err == nil {
				t.Errorf("Expand(%s) should fail", tt.input)
			}
		})
	}
}

func TestExpand_UnknownIndexFailsBatch(t *testing.T) {
	store := NewStore()
	root := store.StoreRoot(ProofTree{
		Goal:   "G",
		Result: "fail",
		Candidates: []ProofCandidate{
			{Kind: "impl", Result: "fail", NestedGoals: []ProofTree{
				{Goal: "H", Result: "fail", Candidates: []ProofCandidate{{Kind: "impl", Result: "fail"}}},
			}},
		},
	})
	valid := *root.Candidates.List()[0].NestedGoals[0].GoalIndex

	raw, _ := json.Marshal([]string{valid, "expired"})
	_, err := Expand(store, raw)
	if err == nil {
		t.Fatal("expected batch failure")
	}
	var unknown *UnknownIndexError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownIndexError, got %T: %v", err, err)
	}
	if unknown.Index != "expired" {
		t.Errorf("error index = %q", unknown.Index)
	}
}
