package aggregate

// Clone returns a deep copy. The budgeter derives reduced copies from it
// and must never mutate the original context.
func (c Context) Clone() Context {
	out := c
	out.ProjectSummary = c.ProjectSummary.clone()
	if c.FeatureAreas != nil {
		out.FeatureAreas = make([]FeatureArea, len(c.FeatureAreas))
		for i, fa := range c.FeatureAreas {
			out.FeatureAreas[i] = fa.clone()
		}
	}
	out.CrossCuttingConcerns = cloneStrings(c.CrossCuttingConcerns)
	out.FetchFailures = cloneStrings(c.FetchFailures)
	return out
}

func (p ProjectSummary) clone() ProjectSummary {
	out := p
	out.Epics = cloneStrings(p.Epics)
	out.Components = cloneStrings(p.Components)
	out.Labels = cloneStrings(p.Labels)
	out.KindBreakdown = cloneCounts(p.KindBreakdown)
	out.PriorityBreakdown = cloneCounts(p.PriorityBreakdown)
	return out
}

func (f FeatureArea) clone() FeatureArea {
	out := f
	if f.ChildTickets != nil {
		out.ChildTickets = make([]TicketRef, len(f.ChildTickets))
		copy(out.ChildTickets, f.ChildTickets)
	}
	out.AcceptanceCriteria = cloneStrings(f.AcceptanceCriteria)
	out.RiskIndicators = cloneStrings(f.RiskIndicators)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneCounts(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
