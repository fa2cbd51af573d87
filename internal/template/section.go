// Package template extracts a numbered section hierarchy from an
// arbitrary-layout template document. Parsing never fails hard: when the
// detectors cannot confirm enough structure, a fixed default hierarchy is
// returned so downstream generation always has sections to work with.
package template

import "strings"

// Section is one heading of the target document's structure. Sections form
// an ordered forest; a child's depth is always its parent's depth plus one.
type Section struct {
	Number   string     `json:"number"`
	Title    string     `json:"title"`
	Depth    int        `json:"depth"`
	Children []*Section `json:"children,omitempty"`
}

// Result is what parsing produces: the forest, the raw text for prompt
// context, and whether the fixed fallback structure was used.
type Result struct {
	Sections []*Section `json:"sections"`
	RawText  string     `json:"raw_text"`
	Total    int        `json:"total"`
	Fallback bool       `json:"fallback"`
}

// buildHierarchy turns a flat, document-ordered section list into a forest
// by stack reduction: pop while the stack top is at least as deep, attach
// under the new top, push. Depths are normalized on attach so the
// child = parent+1 invariant holds even when numbering skips levels.
func buildHierarchy(flat []Section) []*Section {
	var roots []*Section
	var stack []*Section
	for i := range flat {
		node := &Section{Number: flat[i].Number, Title: flat[i].Title, Depth: flat[i].Depth}
		for len(stack) > 0 && stack[len(stack)-1].Depth >= node.Depth {
			stack = stack[:len(stack)-1]
		}
		if len(stack) == 0 {
			node.Depth = 1
			roots = append(roots, node)
		} else {
			parent := stack[len(stack)-1]
			node.Depth = parent.Depth + 1
			parent.Children = append(parent.Children, node)
		}
		stack = append(stack, node)
	}
	return roots
}

// Walk visits the forest depth-first in pre-order.
func Walk(sections []*Section, visit func(*Section)) {
	for _, s := range sections {
		visit(s)
		Walk(s.Children, visit)
	}
}

// Count returns the number of sections in the forest.
func Count(sections []*Section) int {
	n := 0
	Walk(sections, func(*Section) { n++ })
	return n
}

// HierarchyText renders the forest as an indented outline for prompts.
func HierarchyText(sections []*Section) string {
	var b strings.Builder
	var render func(list []*Section, indent int)
	render = func(list []*Section, indent int) {
		for _, s := range list {
			b.WriteString(strings.Repeat("  ", indent))
			b.WriteString(s.Number)
			b.WriteString(". ")
			b.WriteString(s.Title)
			b.WriteString("\n")
			render(s.Children, indent+1)
		}
	}
	render(sections, 0)
	return strings.TrimRight(b.String(), "\n")
}

// Default is the fixed fallback hierarchy. Downstream generation must never
// receive zero structure.
func Default() []*Section {
	sub := func(number, title string) *Section {
		return &Section{Number: number, Title: title, Depth: 2}
	}
	top := func(number, title string, children ...*Section) *Section {
		return &Section{Number: number, Title: title, Depth: 1, Children: children}
	}
	return []*Section{
		top("1", "Introduction", sub("1.1", "Purpose"), sub("1.2", "Scope"), sub("1.3", "Objectives")),
		top("2", "Project Overview", sub("2.1", "Description"), sub("2.2", "Stakeholders"), sub("2.3", "Architecture")),
		top("3", "Test Approach & Methodology", sub("3.1", "Testing Philosophy"), sub("3.2", "Testing Levels"), sub("3.3", "Testing Types")),
		top("4", "Test Automation Strategy", sub("4.1", "Automation Approach"), sub("4.2", "Framework & Tools")),
		top("5", "Test Environment Strategy", sub("5.1", "Environment Topology"), sub("5.2", "Test Data Management")),
		top("6", "Defect Management Strategy", sub("6.1", "Defect Lifecycle"), sub("6.2", "Severity & Priority")),
		top("7", "Risk-Based Testing & Risk Management", sub("7.1", "Risk Assessment Framework"), sub("7.2", "Risk Register")),
		top("8", "Entry & Exit Criteria", sub("8.1", "Entry Criteria"), sub("8.2", "Exit Criteria")),
		top("9", "Test Metrics, KPIs & Reporting", sub("9.1", "Key Metrics"), sub("9.2", "Reporting Cadence")),
		top("10", "Roles and Responsibilities"),
		top("11", "Test Schedule & Milestones", sub("11.1", "Schedule"), sub("11.2", "Quality Gates")),
		top("12", "Communication & Escalation Plan", sub("12.1", "Communication Matrix"), sub("12.2", "Escalation Path")),
		top("13", "Appendices", sub("13.1", "Glossary"), sub("13.2", "Assumptions"), sub("13.3", "Constraints")),
	}
}
