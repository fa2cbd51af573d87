// Package budget fits an aggregated context into a backend token budget
// via progressive truncation. The ladder is an ordered list of pure
// transforms applied left to right with early exit, so each level is
// independently testable. Inputs are never mutated.
package budget

import (
	"encoding/json"
	"fmt"

	"strategist/internal/aggregate"
	"strategist/internal/tracker"
)

// MaxLevel is the deepest optimization level.
const MaxLevel = 4

// Plan records how a context was fitted to its budget.
type Plan struct {
	WindowTokens      int  `json:"window_tokens"`
	ReservedTokens    int  `json:"reserved_tokens"`
	AvailableTokens   int  `json:"available_tokens"`
	OriginalTokens    int  `json:"original_tokens"`
	FinalTokens       int  `json:"final_tokens"`
	OptimizationLevel int  `json:"optimization_level"`
	Truncated         bool `json:"truncated"`
}

// InfeasibleError reports a budget no truncation level can satisfy.
type InfeasibleError struct {
	Window    int
	Reserved  int
	Output    int
	Available int
	Required  int // tokens still needed at the deepest level, 0 when available <= 0
}

func (e *InfeasibleError) Error() string {
	if e.Available <= 0 {
		return fmt.Sprintf("budget infeasible: window %d leaves %d tokens after reserving %d + %d output",
			e.Window, e.Available, e.Reserved, e.Output)
	}
	return fmt.Sprintf("budget infeasible: context needs %d tokens, only %d available at deepest truncation",
		e.Required, e.Available)
}

// EstimateTokens approximates token count from text length (~4 chars per
// token). A documented approximation, not backend-exact tokenization.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// ContextTokens sizes a context by its serialized form, matching what the
// prompt builder ultimately sends.
func ContextTokens(c aggregate.Context) int {
	b, err := json.Marshal(c)
	if err != nil {
		return 0
	}
	return EstimateTokens(string(b))
}

// ladder holds the truncation levels in application order. Level N output
// is level N-1 output transformed once more, so sizes are non-increasing.
var ladder = []func(aggregate.Context) aggregate.Context{
	dropCommentDigest,
	trimLowPriorityDescriptions,
	capExtras,
	essentialOnly,
}

// ApplyLevel returns a copy of c truncated to the given level (0 = as-is).
func ApplyLevel(c aggregate.Context, level int) aggregate.Context {
	out := c.Clone()
	if level > len(ladder) {
		level = len(ladder)
	}
	for i := 0; i < level; i++ {
		out = ladder[i](out)
	}
	return out
}

// FitToBudget fits c into windowTokens minus reservations. It returns the
// first ladder level that fits; the original context is never modified.
func FitToBudget(c aggregate.Context, windowTokens, reservedTokens, outputTokens int) (aggregate.Context, Plan, error) {
	available := windowTokens - reservedTokens - outputTokens
	plan := Plan{
		WindowTokens:    windowTokens,
		ReservedTokens:  reservedTokens,
		AvailableTokens: available,
		OriginalTokens:  ContextTokens(c),
	}
	if available <= 0 {
		return aggregate.Context{}, plan, &InfeasibleError{
			Window: windowTokens, Reserved: reservedTokens, Output: outputTokens,
			Available: available,
		}
	}

	current := c.Clone()
	tokens := plan.OriginalTokens
	for level := 0; ; level++ {
		if tokens <= available {
			plan.OptimizationLevel = level
			plan.FinalTokens = tokens
			plan.Truncated = level > 0
			return current, plan, nil
		}
		if level >= len(ladder) {
			plan.OptimizationLevel = level
			plan.FinalTokens = tokens
			plan.Truncated = true
			return aggregate.Context{}, plan, &InfeasibleError{
				Window: windowTokens, Reserved: reservedTokens, Output: outputTokens,
				Available: available, Required: tokens,
			}
		}
		current = ladder[level](current)
		tokens = ContextTokens(current)
	}
}

// L1: the comment digest is pure color and goes first.
func dropCommentDigest(c aggregate.Context) aggregate.Context {
	out := c.Clone()
	out.CommentDigest = ""
	return out
}

// L2: feature areas whose most urgent child is Medium or below lose long
// descriptions.
func trimLowPriorityDescriptions(c aggregate.Context) aggregate.Context {
	out := c.Clone()
	for i := range out.FeatureAreas {
		fa := &out.FeatureAreas[i]
		if highestPriorityRank(*fa) > tracker.PriorityRank("Medium") {
			continue
		}
		if len(fa.Description) > 200 {
			fa.Description = fa.Description[:200] + "..."
		}
	}
	return out
}

func highestPriorityRank(fa aggregate.FeatureArea) int {
	max := tracker.PriorityRank(fa.Priority)
	for _, ct := range fa.ChildTickets {
		if r := tracker.PriorityRank(ct.Priority); r > max {
			max = r
		}
	}
	return max
}

// L3: acceptance criteria capped at 3 per area, child tickets reduced to
// the key/title/kind/priority tuple, cross-cutting concerns capped at 3.
// Every child entry stays present: ticket identity survives all levels.
func capExtras(c aggregate.Context) aggregate.Context {
	out := c.Clone()
	for i := range out.FeatureAreas {
		fa := &out.FeatureAreas[i]
		if len(fa.AcceptanceCriteria) > 3 {
			fa.AcceptanceCriteria = fa.AcceptanceCriteria[:3]
		}
		for j := range fa.ChildTickets {
			fa.ChildTickets[j].Status = ""
		}
	}
	if len(out.CrossCuttingConcerns) > 3 {
		out.CrossCuttingConcerns = out.CrossCuttingConcerns[:3]
	}
	return out
}

// L4: only ticket identity and epic grouping remain, plus the summary's
// full label and component sets which are preserved at every level.
func essentialOnly(c aggregate.Context) aggregate.Context {
	out := c.Clone()
	out.CommentDigest = ""
	out.TechnicalContext = ""
	out.CrossCuttingConcerns = nil
	for i := range out.FeatureAreas {
		fa := &out.FeatureAreas[i]
		fa.Description = ""
		fa.AcceptanceCriteria = nil
		fa.RiskIndicators = nil
		for j := range fa.ChildTickets {
			fa.ChildTickets[j].Status = ""
		}
	}
	return out
}
