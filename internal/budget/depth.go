package budget

// Depth is the requested thoroughness tier. It controls per-section word
// targets and whether generation goes section by section.
type Depth string

const (
	DepthStandard      Depth = "standard"
	DepthDetailed      Depth = "detailed"
	DepthComprehensive Depth = "comprehensive"
)

var depthTargets = map[Depth]int{
	DepthStandard:      4000,  // ~3,000 words
	DepthDetailed:      8000,  // ~6,000 words
	DepthComprehensive: 12000, // ~9,000 words
}

// OutputTokens returns the output-token target for a depth, capped below
// the model's maximum single response.
func (d Depth) OutputTokens(maxOutput int) int {
	target, ok := depthTargets[d]
	if !ok {
		target = depthTargets[DepthDetailed]
	}
	capped := maxOutput - 1000
	if capped < 1 {
		capped = maxOutput
	}
	if target > capped {
		return capped
	}
	return target
}

// Sectional reports whether the requested output exceeds 80% of the
// backend's maximum single response, in which case generation must go
// section by section.
func (d Depth) Sectional(maxOutput int) bool {
	target, ok := depthTargets[d]
	if !ok {
		target = depthTargets[DepthDetailed]
	}
	return float64(target) > float64(maxOutput)*0.8
}

func (d Depth) Valid() bool {
	_, ok := depthTargets[d]
	return ok
}
