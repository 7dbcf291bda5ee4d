package hits

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// ScoreOrder tells which of two scores is the better match.
type ScoreOrder int

const (
	LowerIsBetter  ScoreOrder = iota // E-values
	HigherIsBetter                   // similarity scores
)

// ParseScoreOrder accepts "lower"/"evalue" and "higher"/"similarity".
func ParseScoreOrder(s string) (ScoreOrder, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lower", "evalue":
		return LowerIsBetter, nil
	case "higher", "similarity":
		return HigherIsBetter, nil
	default:
		return LowerIsBetter, fmt.Errorf("unknown score order %q", s)
	}
}

func (o ScoreOrder) String() string {
	if o == HigherIsBetter {
		return "higher"
	}
	return "lower"
}

// Better reports whether score a beats score b.
func (o ScoreOrder) Better(a, b float64) bool {
	if o == HigherIsBetter {
		return a > b
	}
	return a < b
}

// Filter is the identifier set and score side-table handed to the pipeline.
// It is immutable: accessors return copies.
type Filter struct {
	ids    []string
	ranks  map[string]int
	scores map[string]float64
}

// Adapt folds hit lists into a Filter. Lists are given primary kind first.
// Within one list a repeated identifier keeps its first rank and its best
// score; an identifier already taken by an earlier list keeps that list's
// rank and score.
func Adapt(order ScoreOrder, lists ...[]Hit) *Filter {
	f := &Filter{
		ranks:  make(map[string]int),
		scores: make(map[string]float64),
	}
	owner := make(map[string]int)

	for k, list := range lists {
		for _, h := range list {
			if o, ok := owner[h.ID]; ok {
				if o == k && order.Better(h.Score, f.scores[h.ID]) {
					f.scores[h.ID] = h.Score
				}
				continue
			}
			owner[h.ID] = k
			f.ids = append(f.ids, h.ID)
			f.ranks[h.ID] = h.Rank
			f.scores[h.ID] = h.Score
		}
	}
	return f
}

// Empty returns a filter that matches nothing.
func Empty() *Filter {
	return Adapt(LowerIsBetter)
}

// Len returns the number of identifiers.
func (f *Filter) Len() int {
	return len(f.ids)
}

// IDs returns identifiers in first-seen order.
func (f *Filter) IDs() []string {
	return slices.Clone(f.ids)
}

// Contains reports whether the identifier is in the set.
func (f *Filter) Contains(id string) bool {
	_, ok := f.scores[id]
	return ok
}

// Score returns the best score recorded for the identifier.
func (f *Filter) Score(id string) (float64, bool) {
	s, ok := f.scores[id]
	return s, ok
}

// Rank returns the identifier's rank in the result kind that contributed it.
func (f *Filter) Rank(id string) (int, bool) {
	r, ok := f.ranks[id]
	return r, ok
}

// Scores returns a copy of the identifier -> score table.
func (f *Filter) Scores() map[string]float64 {
	return maps.Clone(f.scores)
}

// MarshalJSON encodes the filter as {"ids": [...], "scores": {...}}.
func (f *Filter) MarshalJSON() ([]byte, error) {
	ids := f.ids
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(struct {
		IDs    []string           `json:"ids"`
		Scores map[string]float64 `json:"scores"`
	}{IDs: ids, Scores: f.scores})
}
