package obligations

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// UnknownIndexError wraps lookups for indices that were never issued or belong
// to a previous session.
type UnknownIndexError struct {
	Index string
}

func (e *UnknownIndexError) Error() string {
	return fmt.Sprintf("invalid goal_index %q or expired data", e.Index)
}

// Store holds flattened goal trees keyed by opaque index. It is append-only:
// an index, once issued, stays valid for the life of the store, so callers
// can interleave exploration of several failures without invalidating each
// other. Growth is bounded by the session.
type Store struct {
	mu    sync.Mutex
	trees map[string]GoalTree
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{trees: make(map[string]GoalTree)}
}

// Len returns the number of stored subtrees.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trees)
}

// StoreRoot flattens one proof tree and returns the root view. Each nested
// goal that itself has candidates is persisted fully expanded under a fresh
// index, and appears in its parent's candidate list as a summary carrying
// only the candidate count and that index. Leaves stay bare. The returned
// root keeps its full candidate list but never carries an index of its own.
func (s *Store) StoreRoot(tree ProofTree) GoalTree {
	s.mu.Lock()
	defer s.mu.Unlock()

	root := s.flatten(tree)
	root.GoalIndex = nil
	return root
}

// flatten builds the one-level view of tree, persisting every nested goal
// that has candidates. Children are flattened before their parent, so an
// inserted subtree is already in summary form below its own first level.
func (s *Store) flatten(tree ProofTree) GoalTree {
	candidates := make([]GoalCandidate, 0, len(tree.Candidates))
	for _, cand := range tree.Candidates {
		goals := make([]GoalTree, 0, len(cand.NestedGoals))
		for _, nested := range cand.NestedGoals {
			child := s.flatten(nested)
			if child.GoalIndex != nil {
				s.trees[*child.GoalIndex] = child
			}
			goals = append(goals, GoalTree{
				Goal:       nested.Goal,
				Result:     nested.Result,
				GoalIndex:  child.GoalIndex,
				Candidates: CandidateCount(len(nested.Candidates)),
			})
		}
		candidates = append(candidates, GoalCandidate{
			Kind:        cand.Kind,
			Result:      cand.Result,
			ImplHeader:  cand.ImplHeader,
			NestedGoals: goals,
		})
	}

	var index *string
	if len(candidates) > 0 {
		id := uuid.NewString()
		index = &id
	}
	return GoalTree{
		Goal:       tree.Goal,
		Result:     tree.Result,
		GoalIndex:  index,
		Candidates: CandidateList(candidates),
	}
}

// Resolve returns the stored subtree for index.
func (s *Store) Resolve(index string) (GoalTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, ok := s.trees[index]
	if !ok {
		return GoalTree{}, &UnknownIndexError{Index: index}
	}
	return tree, nil
}

// ResolveAll resolves every index or fails on the first unknown one. Order
// of results follows the order of indices.
func (s *Store) ResolveAll(indices []string) ([]GoalTree, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]GoalTree, 0, len(indices))
	for _, index := range indices {
		tree, ok := s.trees[index]
		if !ok {
			return nil, &UnknownIndexError{Index: index}
		}
		results = append(results, tree)
	}
	return results, nil
}
