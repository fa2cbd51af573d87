// Package aggregate groups normalized tickets into feature areas and
// derives summary statistics and risk signals for prompt assembly.
// Aggregate is pure and deterministic for a given ticket set, so it is
// safe to call from concurrent requests.
package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"strategist/internal/tracker"
)

// UngroupedKey names the implicit feature area holding tickets whose
// parent/epic link resolves to nothing in the input set.
const UngroupedKey = "UNGROUPED"

type ProjectSummary struct {
	TotalTickets      int            `json:"total_tickets"`
	Epics             []string       `json:"epics"`
	KindBreakdown     map[string]int `json:"kind_breakdown"`
	PriorityBreakdown map[string]int `json:"priority_breakdown"`
	Components        []string       `json:"components"`
	Labels            []string       `json:"labels"`
}

// TicketRef is the slice of a ticket that feature areas carry. Key, Title,
// Kind and Priority survive every budget optimization level; Status is
// detail that may be shed.
type TicketRef struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	Kind     string `json:"kind"`
	Priority string `json:"priority"`
	Status   string `json:"status,omitempty"`
}

type FeatureArea struct {
	EpicKey            string      `json:"epic_key"`
	EpicTitle          string      `json:"epic_title"`
	Description        string      `json:"description,omitempty"`
	Priority           string      `json:"priority,omitempty"`
	ChildTickets       []TicketRef `json:"child_tickets"`
	AcceptanceCriteria []string    `json:"acceptance_criteria,omitempty"`
	RiskIndicators     []string    `json:"risk_indicators,omitempty"`
}

type Context struct {
	ProjectSummary       ProjectSummary `json:"project_summary"`
	FeatureAreas         []FeatureArea  `json:"feature_areas"`
	CrossCuttingConcerns []string       `json:"cross_cutting_concerns,omitempty"`
	TechnicalContext     string         `json:"technical_context,omitempty"`
	CommentDigest        string         `json:"comment_digest,omitempty"`
	// FetchFailures records tickets that could not be retrieved; a partial
	// fetch proceeds with what arrived instead of aborting.
	FetchFailures []string `json:"fetch_failures,omitempty"`
}

// Aggregate builds the bounded generation context from a ticket set.
// Epics are emitted in first-seen order for reproducibility; everything
// set-valued is sorted.
func Aggregate(tickets []tracker.Ticket) Context {
	ctx := Context{
		ProjectSummary: ProjectSummary{
			KindBreakdown:     map[string]int{},
			PriorityBreakdown: map[string]int{},
		},
	}
	if len(tickets) == 0 {
		return ctx
	}

	componentSet := map[string]bool{}
	labelSet := map[string]bool{}

	type group struct {
		epic     *tracker.Ticket
		children []tracker.Ticket
	}
	groups := map[string]*group{}
	var epicOrder []string
	var orphans []tracker.Ticket

	for i := range tickets {
		t := tickets[i]
		ctx.ProjectSummary.TotalTickets++
		kind := t.Kind
		if kind == "" {
			kind = "Unknown"
		}
		ctx.ProjectSummary.KindBreakdown[kind]++
		prio := t.Priority
		if prio == "" {
			prio = "None"
		}
		ctx.ProjectSummary.PriorityBreakdown[prio]++
		for _, c := range t.Components {
			componentSet[c] = true
		}
		for _, l := range t.Labels {
			labelSet[l] = true
		}

		if t.Kind == "Epic" {
			ctx.ProjectSummary.Epics = append(ctx.ProjectSummary.Epics, t.Key+": "+t.Title)
			if g, ok := groups[t.Key]; ok {
				g.epic = &tickets[i]
			} else {
				groups[t.Key] = &group{epic: &tickets[i]}
				epicOrder = append(epicOrder, t.Key)
			}
		}
	}

	// Second pass: attach non-epics to their resolved epic, in input order.
	for i := range tickets {
		t := tickets[i]
		if t.Kind == "Epic" {
			continue
		}
		if g, ok := groups[t.ParentKey]; ok {
			g.children = append(g.children, t)
		} else {
			orphans = append(orphans, t)
		}
	}

	ctx.ProjectSummary.Components = sortedKeys(componentSet)
	ctx.ProjectSummary.Labels = sortedKeys(labelSet)

	keywordAreas := map[string]map[string]bool{} // risk keyword -> area keys

	buildArea := func(key, title, description, priority string, children []tracker.Ticket, epic *tracker.Ticket) FeatureArea {
		fa := FeatureArea{
			EpicKey:     key,
			EpicTitle:   title,
			Description: description,
			Priority:    priority,
		}
		riskSet := map[string]bool{}
		if epic != nil {
			for _, r := range riskIndicators(*epic) {
				riskSet[r] = true
			}
			for _, kw := range riskKeywordsIn(*epic) {
				markKeyword(keywordAreas, kw, key)
			}
		}
		for _, child := range children {
			fa.ChildTickets = append(fa.ChildTickets, TicketRef{
				Key:      child.Key,
				Title:    child.Title,
				Kind:     child.Kind,
				Priority: child.Priority,
				Status:   child.Status,
			})
			if ac := strings.TrimSpace(child.AcceptanceCriteria); ac != "" {
				if len(ac) > 200 {
					ac = ac[:200]
				}
				fa.AcceptanceCriteria = append(fa.AcceptanceCriteria, "["+child.Key+"] "+ac)
			}
			for _, r := range riskIndicators(child) {
				riskSet[r] = true
			}
			for _, kw := range riskKeywordsIn(child) {
				markKeyword(keywordAreas, kw, key)
			}
		}
		fa.RiskIndicators = sortedKeys(riskSet)
		return fa
	}

	for _, key := range epicOrder {
		g := groups[key]
		epic := g.epic
		fa := buildArea(key, epic.Title, epic.Description, epic.Priority, g.children, epic)
		ctx.FeatureAreas = append(ctx.FeatureAreas, fa)
	}
	if len(orphans) > 0 {
		fa := buildArea(UngroupedKey, "Ungrouped", "Tickets not associated with a fetched epic", "", orphans, nil)
		ctx.FeatureAreas = append(ctx.FeatureAreas, fa)
	}

	// Cross-cutting: a risk keyword that triggered in at least two distinct
	// feature areas is a project-wide concern, not a local one.
	concernSet := map[string]bool{}
	for kw, areas := range keywordAreas {
		if len(areas) >= 2 {
			concernSet[riskLexicon[kw]] = true
		}
	}
	ctx.CrossCuttingConcerns = sortedKeys(concernSet)

	ctx.TechnicalContext = technicalContext(tickets)
	ctx.CommentDigest = commentDigest(tickets)
	return ctx
}

func markKeyword(m map[string]map[string]bool, kw, area string) {
	if m[kw] == nil {
		m[kw] = map[string]bool{}
	}
	m[kw][area] = true
}

func commentDigest(tickets []tracker.Ticket) string {
	var lines []string
	for _, t := range tickets {
		for _, c := range t.Comments {
			body := c.Body
			if len(body) > 100 {
				body = body[:100]
			}
			lines = append(lines, fmt.Sprintf("[%s] %s: %s", t.Key, c.Author, body))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
