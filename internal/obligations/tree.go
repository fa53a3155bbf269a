// Package obligations turns rust-analyzer's recursive failed-obligation
// proof trees into an incrementally explorable form: one level of detail per
// query, with opaque indices standing in for unexplored subtrees.
package obligations

import (
	"encoding/json"
	"fmt"
)

// ProofTree is the raw goal node decoded from the analyzer's
// getFailedObligations payload. It is fully recursive; a deep trait failure
// produces arbitrarily nested candidates.
type ProofTree struct {
	Goal       string           `json:"goal"`
	Result     string           `json:"result"`
	Depth      int              `json:"depth"`
	Candidates []ProofCandidate `json:"candidates"`
}

// ProofCandidate is one attempted proof strategy for a goal.
type ProofCandidate struct {
	Kind        string      `json:"kind"`
	Result      string      `json:"result"`
	ImplHeader  *string     `json:"impl_header"`
	NestedGoals []ProofTree `json:"nested_goals"`
}

// GoalTree is the flattened view handed back to callers. A node carrying a
// GoalIndex has deeper structure stored away; the index is the only way to
// reveal it.
type GoalTree struct {
	Goal       string     `json:"goal"`
	Result     string     `json:"result"`
	GoalIndex  *string    `json:"goal_index,omitempty"`
	Candidates Candidates `json:"candidates"`
}

// GoalCandidate mirrors ProofCandidate with flattened nested goals.
type GoalCandidate struct {
	Kind        string     `json:"kind"`
	Result      string     `json:"result"`
	ImplHeader  *string    `json:"impl_header"`
	NestedGoals []GoalTree `json:"nested_goals"`
}

// Candidates is either a bare count (a summary of pruned structure) or the
// full candidate list. On the wire a summary is a JSON number and an
// expansion is a JSON array; there is no tag.
type Candidates struct {
	summary bool
	count   int
	list    []GoalCandidate
}

// CandidateCount returns a summary holding only the number of candidates.
func CandidateCount(n int) Candidates {
	return Candidates{summary: true, count: n}
}

// CandidateList returns a fully expanded candidate list.
func CandidateList(list []GoalCandidate) Candidates {
	if list == nil {
		list = []GoalCandidate{}
	}
	return Candidates{list: list}
}

// IsSummary reports whether only a count is present.
func (c Candidates) IsSummary() bool {
	return c.summary
}

// Count returns the number of candidates in either representation.
func (c Candidates) Count() int {
	if c.summary {
		return c.count
	}
	return len(c.list)
}

// List returns the expanded candidates, or nil for a summary.
func (c Candidates) List() []GoalCandidate {
	if c.summary {
		return nil
	}
	return c.list
}

// MarshalJSON emits a number for a summary and an array for an expansion.
func (c Candidates) MarshalJSON() ([]byte, error) {
	if c.summary {
		return json.Marshal(c.count)
	}
	return json.Marshal(c.list)
}

// UnmarshalJSON accepts either wire shape.
func (c *Candidates) UnmarshalJSON(data []byte) error {
	var count int
	if err := json.Unmarshal(data, &count); err == nil {
		*c = CandidateCount(count)
		return nil
	}
	var list []GoalCandidate
	if err := json.Unmarshal(data, &list); err == nil {
		*c = CandidateList(list)
		return nil
	}
	return fmt.Errorf("candidates: expected count or candidate list, got %s", data)
}
