package obligations

import (
	"encoding/json"
	"errors"
	"testing"
)

func leaf(goal, result string) ProofTree {
	return ProofTree{Goal: goal, Result: result, Candidates: []ProofCandidate{}}
}

func TestStore_RootWithLeafChild(t *testing.T) {
	store := NewStore()

	tree := ProofTree{
		Goal:   "G",
		Result: "fail",
		Candidates: []ProofCandidate{
			{Kind: "impl", Result: "fail", NestedGoals: []ProofTree{leaf("H", "fail")}},
		},
	}

	root := store.StoreRoot(tree)

	if root.GoalIndex != nil {
		t.Errorf("root index must be stripped, got %q", *root.GoalIndex)
	}
	if root.Goal != "G" || root.Result != "fail" {
		t.Errorf("root content = %q/%q", root.Goal, root.Result)
	}

	cands := root.Candidates.List()
	if len(cands) != 1 {
		t.Fatalf("expected 1 expanded candidate, got %d", len(cands))
	}
	if cands[0].Kind != "impl" {
		t.Errorf("candidate kind = %q", cands[0].Kind)
	}
	if len(cands[0].NestedGoals) != 1 {
		t.Fatalf("expected 1 nested goal, got %d", len(cands[0].NestedGoals))
	}

	h := cands[0].NestedGoals[0]
	if h.Goal != "H" {
		t.Errorf("nested goal = %q, want H", h.Goal)
	}
	if h.GoalIndex != nil {
		t.Errorf("leaf must not get an index, got %q", *h.GoalIndex)
	}
	if !h.Candidates.IsSummary() || h.Candidates.Count() != 0 {
		t.Errorf("leaf stand-in should be a zero count summary")
	}

	// H is a leaf, so nothing was persisted.
	if store.Len() != 0 {
		t.Errorf("store should be empty, has %d entries", store.Len())
	}
}

func TestStore_TwoLevelNesting(t *testing.T) {
	store := NewStore()

	tree := ProofTree{
		Goal:   "G",
		Result: "fail",
		Candidates: []ProofCandidate{
			{
				Kind:   "impl",
				Result: "fail",
				NestedGoals: []ProofTree{
					{
						Goal:   "H",
						Result: "fail",
						Candidates: []ProofCandidate{
							{Kind: "param_env", Result: "fail", NestedGoals: []ProofTree{leaf("I", "fail")}},
							{Kind: "builtin", Result: "ok", NestedGoals: []ProofTree{}},
						},
					},
				},
			},
		},
	}

	root := store.StoreRoot(tree)

	// The root's view summarizes H: count only, plus the index to expand it.
	h := root.Candidates.List()[0].NestedGoals[0]
	if h.GoalIndex == nil {
		t.Fatal("nested goal with candidates must carry an index")
	}
	if !h.Candidates.IsSummary() || h.Candidates.Count() != 2 {
		t.Errorf("summary count = %d (summary=%v), want 2", h.Candidates.Count(), h.Candidates.IsSummary())
	}

	// Expanding the index reveals H's full candidate list.
	expanded, err := store.Resolve(*h.GoalIndex)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if expanded.Goal != "H" || expanded.Result != "fail" {
		t.Errorf("expanded node = %q/%q, want H/fail", expanded.Goal, expanded.Result)
	}
	hCands := expanded.Candidates.List()
	if len(hCands) != 2 {
		t.Fatalf("expected 2 expanded candidates for H, got %d", len(hCands))
	}
	if hCands[0].Kind != "param_env" || hCands[1].Kind != "builtin" {
		t.Errorf("candidate kinds = %q, %q", hCands[0].Kind, hCands[1].Kind)
	}

	// I is a leaf under H's first candidate: bare, no index.
	i := hCands[0].NestedGoals[0]
	if i.Goal != "I" || i.GoalIndex != nil {
		t.Errorf("leaf I should be bare, got %+v", i)
	}

	if store.Len() != 1 {
		t.Errorf("store should hold exactly H, has %d entries", store.Len())
	}
}

func TestStore_LeafRootGetsNoIndex(t *testing.T) {
	store := NewStore()

	root := store.StoreRoot(leaf("G", "ok"))
	if root.GoalIndex != nil {
		t.Errorf("candidate-less root must have no index, got %q", *root.GoalIndex)
	}
	if store.Len() != 0 {
		t.Errorf("nothing should be stored for a leaf root")
	}
}

func TestStore_ResolveUnknownIndex(t *testing.T) {
	store := NewStore()

	_, err := store.Resolve("no-such-index")
	if err == nil {
		t.Fatal("expected error for unknown index")
	}

	var unknown *UnknownIndexError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected *UnknownIndexError, got %T", err)
	}
	if unknown.Index != "no-such-index" {
		t.Errorf("error index = %q", unknown.Index)
	}
}

func TestStore_ResolveAllFailsWhole(t *testing.T) {
	store := NewStore()

	tree := ProofTree{
		Goal:   "G",
		Result: "fail",
		Candidates: []ProofCandidate{
			{Kind: "impl", Result: "fail", NestedGoals: []ProofTree{
				{Goal: "H", Result: "fail", Candidates: []ProofCandidate{
					{Kind: "impl", Result: "fail", NestedGoals: nil},
				}},
			}},
		},
	}
	root := store.StoreRoot(tree)
	valid := *root.Candidates.List()[0].NestedGoals[0].GoalIndex

	results, err := store.ResolveAll([]string{valid, "bogus"})
	if err == nil {
		t.Fatal("expected batch failure")
	}
	if results != nil {
		t.Errorf("failed batch must return no partial results, got %d", len(results))
	}

	// The valid index alone still works.
	if _, err := store.ResolveAll([]string{valid}); err != nil {
		t.Errorf("ResolveAll(valid) error = %v", err)
	}
}

func TestStore_IndicesAreUniquePerSubtree(t *testing.T) {
	store := NewStore()

	mk := func(goal string) ProofTree {
		return ProofTree{
			Goal:   goal,
			Result: "fail",
			Candidates: []ProofCandidate{
				{Kind: "impl", Result: "fail", NestedGoals: []ProofTree{
					{Goal: goal + "-child", Result: "fail", Candidates: []ProofCandidate{
						{Kind: "impl", Result: "fail"},
					}},
				}},
			},
		}
	}

	seen := map[string]bool{}
	for i := 0; i < 10; i++ {
		root := store.StoreRoot(mk("G"))
		idx := *root.Candidates.List()[0].NestedGoals[0].GoalIndex
		if seen[idx] {
			t.Fatalf("index %q issued twice", idx)
		}
		seen[idx] = true
	}
	if store.Len() != 10 {
		t.Errorf("store.Len() = %d, want 10", store.Len())
	}
}

func TestCandidates_WireShapes(t *testing.T) {
	summary, err := json.Marshal(GoalTree{Goal: "G", Result: "fail", Candidates: CandidateCount(3)})
	if err != nil {
		t.Fatalf("marshal summary: %v", err)
	}
	if string(summary) != `{"goal":"G","result":"fail","candidates":3}` {
		t.Errorf("summary wire shape = %s", summary)
	}

	expanded, err := json.Marshal(GoalTree{Goal: "G", Result: "fail", Candidates: CandidateList(nil)})
	if err != nil {
		t.Fatalf("marshal expanded: %v", err)
	}
	if string(expanded) != `{"goal":"G","result":"fail","candidates":[]}` {
		t.Errorf("expanded wire shape = %s", expanded)
	}

	var tree GoalTree
	if err := json.Unmarshal([]byte(`{"goal":"G","result":"fail","candidates":5}`), &tree); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if !tree.Candidates.IsSummary() || tree.Candidates.Count() != 5 {
		t.Errorf("decoded summary = %+v", tree.Candidates)
	}
}
