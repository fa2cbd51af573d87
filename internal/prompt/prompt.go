// Package prompt assembles generation prompts from the aggregated project
// context and the parsed template hierarchy. Combined and sectional modes
// share the same context formatting so both produce consistent documents.
package prompt

import (
	"fmt"
	"sort"
	"strings"

	"strategist/internal/aggregate"
	"strategist/internal/budget"
	"strategist/internal/template"
)

// SystemPrompt frames every generation call. It is fixed per document
// kind, not per request.
const SystemPrompt = `You are a Principal QA Architect and Test Strategist with 20+ years of experience in enterprise software quality assurance across industries including fintech, healthcare, e-commerce, and SaaS.

Your task is to generate a detailed, enterprise-grade Test Strategy document based on:
1. The provided template structure (which you MUST follow exactly)
2. The project context (tickets, epics, features, requirements)
3. Any additional context provided by the user

CRITICAL GUIDELINES:
1. A Test Strategy is a STRATEGIC document, not a test plan. Focus on:
   - WHY we test (risk, business impact, compliance)
   - WHAT types of testing are needed and their relative priority
   - HOW testing will be organized (approach, levels, automation strategy)
   - WHO is responsible for what
   - WHEN quality gates are enforced
   - Do NOT list individual test cases, that belongs in test plans

2. Fill EVERY section of the template with substantive, project-specific content. Never leave a section with just placeholder text or generic boilerplate.

3. Derive specific recommendations from the project context:
   - If tickets mention "API", include an API testing strategy
   - If tickets mention "payment" or "PII", emphasize security testing
   - If components include "Mobile", include a mobile testing strategy
   - If labels include "performance", detail the performance testing approach
   - Analyze priorities to determine risk-based testing allocation

4. Include concrete, actionable content:
   - Specific tool recommendations (based on implied tech stack)
   - Realistic coverage targets with justification
   - Specific metrics with target values
   - Realistic risk items with mitigations (not generic risks)

5. Use professional QA terminology and maintain executive-level readability.

6. Maintain internal consistency: if you mention a tool in an early section, reference the same tool by name wherever later sections need it.

7. Format output in clean Markdown with proper heading hierarchy matching the template. Use tables where the template uses tables. Use bullet points sparingly and meaningfully.`

var depthInstructions = map[budget.Depth]string{
	budget.DepthStandard: `Generate a focused test strategy covering all template sections with moderate detail.
Each major section should be 200-400 words. Total output: ~3,000-5,000 words.
Be concise but comprehensive. Focus on key decisions and rationale.`,

	budget.DepthDetailed: `Generate a thorough test strategy with specific examples and detailed recommendations.
Each major section should be 400-700 words. Include specific tool configurations,
sample metrics calculations, and detailed risk analysis. Total output: ~5,000-8,000 words.`,

	budget.DepthComprehensive: `Generate an exhaustive test strategy suitable for enterprise governance review.
Each major section should be 600-1000 words. Include worked examples, sample
test case outlines for critical areas, detailed RACI matrix, specific SLA
calculations, tool comparison rationale, and appendices with supporting detail.
Total output: ~8,000-12,000 words.`,
}

// DepthInstruction returns the word-count band text for a depth tier,
// defaulting to the detailed tier for unknown values.
func DepthInstruction(d budget.Depth) string {
	if s, ok := depthInstructions[d]; ok {
		return s
	}
	return depthInstructions[budget.DepthDetailed]
}

// Request carries the per-request knobs shared by both prompt modes.
type Request struct {
	Depth             budget.Depth
	FocusAreas        []string
	AdditionalContext string
}

// BuildCombined builds the single prompt used when the whole document
// fits one backend response.
func BuildCombined(sections []*template.Section, ctx aggregate.Context, req Request) string {
	var b strings.Builder
	b.WriteString(DepthInstruction(req.Depth))
	b.WriteString("\n\n## TEMPLATE STRUCTURE\n")
	b.WriteString("Follow this exact structure for your response:\n\n")
	b.WriteString(template.HierarchyText(sections))
	b.WriteString("\n\n")
	b.WriteString(FormatContext(ctx))
	writeFocusAreas(&b, req.FocusAreas)
	writeAdditionalContext(&b, req.AdditionalContext)
	b.WriteString("---\n\n")
	b.WriteString("Generate the complete document now, following the template structure exactly.\n")
	b.WriteString("Ensure every section is populated with project-specific, actionable content derived\n")
	b.WriteString("from the context above. Do not include placeholder text like '[fill in]'; make\n")
	b.WriteString("informed recommendations based on the available context and note your assumptions.")
	return b.String()
}

// BuildSection builds the prompt for one section in sectional mode.
// previousContent is the concatenation of every section emitted so far;
// it is included in full so a tool named earlier stays referencable by
// name in later sections.
func BuildSection(section *template.Section, all []*template.Section, ctx aggregate.Context, req Request, previousContent string) string {
	var b strings.Builder
	b.WriteString(DepthInstruction(req.Depth))
	fmt.Fprintf(&b, "\n\n## SECTION TO GENERATE: %s. %s\n\n", section.Number, section.Title)

	if len(section.Children) > 0 {
		b.WriteString("This section includes the following subsections:\n")
		for _, sub := range section.Children {
			fmt.Fprintf(&b, "- %s. %s\n", sub.Number, sub.Title)
		}
		b.WriteString("\n")
	}

	b.WriteString("## FULL TEMPLATE STRUCTURE (for context)\n")
	b.WriteString(template.HierarchyText(all))
	b.WriteString("\n\n")

	if previousContent != "" {
		b.WriteString("## PREVIOUSLY GENERATED CONTENT (for consistency)\n")
		b.WriteString(previousContent)
		b.WriteString("\n\n")
	}

	b.WriteString(FormatContext(SectionSlice(ctx, section.Title)))
	writeFocusAreas(&b, req.FocusAreas)
	writeAdditionalContext(&b, req.AdditionalContext)
	b.WriteString("---\n")
	fmt.Fprintf(&b, "Generate ONLY section %s. %s now.\n", section.Number, section.Title)
	b.WriteString("Maintain consistency with previously generated content.\n")
	b.WriteString("Use proper Markdown formatting with appropriate heading levels.")
	return b.String()
}

// SectionSlice narrows the context to feature areas whose title, key or
// risk indicators share a keyword with the section title. When nothing
// matches, the full context is returned so no section generates blind.
func SectionSlice(ctx aggregate.Context, sectionTitle string) aggregate.Context {
	words := keywords(sectionTitle)
	if len(words) == 0 {
		return ctx
	}
	var matched []aggregate.FeatureArea
	for _, fa := range ctx.FeatureAreas {
		if areaMatches(fa, words) {
			matched = append(matched, fa)
		}
	}
	if len(matched) == 0 {
		return ctx
	}
	out := ctx
	out.FeatureAreas = matched
	return out
}

// stopwords that carry no matching signal in section titles.
var titleStopwords = map[string]bool{
	"and": true, "the": true, "for": true, "of": true, "to": true,
	"strategy": true, "approach": true, "test": true, "testing": true,
	"overview": true, "introduction": true, "section": true,
}

func keywords(title string) []string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) >= 3 && !titleStopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

func areaMatches(fa aggregate.FeatureArea, words []string) bool {
	hay := strings.ToLower(fa.EpicKey + " " + fa.EpicTitle + " " + strings.Join(fa.RiskIndicators, " "))
	for _, w := range words {
		if strings.Contains(hay, w) {
			return true
		}
	}
	return false
}

// FormatContext renders the aggregated context as the markdown block the
// prompts embed. Output is deterministic for a given context.
func FormatContext(ctx aggregate.Context) string {
	var b strings.Builder
	b.WriteString("## PROJECT CONTEXT\n\n### Project Summary\n")
	ps := ctx.ProjectSummary
	fmt.Fprintf(&b, "- **Total Tickets Analyzed**: %d\n", ps.TotalTickets)
	if len(ps.Epics) > 0 {
		fmt.Fprintf(&b, "- **Epics**: %s\n", strings.Join(ps.Epics, ", "))
	} else {
		b.WriteString("- **Epics**: None specified\n")
	}
	if len(ps.KindBreakdown) > 0 {
		fmt.Fprintf(&b, "- **Issue Types**: %s\n", formatBreakdown(ps.KindBreakdown))
	}
	if len(ps.PriorityBreakdown) > 0 {
		fmt.Fprintf(&b, "- **Priority Distribution**: %s\n", formatBreakdown(ps.PriorityBreakdown))
	}
	if len(ps.Components) > 0 {
		fmt.Fprintf(&b, "- **Components**: %s\n", strings.Join(ps.Components, ", "))
	}
	if len(ps.Labels) > 0 {
		fmt.Fprintf(&b, "- **Labels**: %s\n", strings.Join(ps.Labels, ", "))
	}
	b.WriteString("\n### Feature Areas\n")

	for _, fa := range ctx.FeatureAreas {
		fmt.Fprintf(&b, "\n#### %s: %s\n", fa.EpicKey, fa.EpicTitle)
		if fa.Priority != "" {
			fmt.Fprintf(&b, "- **Priority**: %s\n", fa.Priority)
		} else {
			b.WriteString("- **Priority**: Not set\n")
		}
		if fa.Description != "" {
			desc := fa.Description
			if len(desc) > 300 {
				desc = desc[:300] + "..."
			}
			fmt.Fprintf(&b, "- **Description**: %s\n", desc)
		}
		if len(fa.ChildTickets) > 0 {
			fmt.Fprintf(&b, "- **Related Tickets** (%d):\n", len(fa.ChildTickets))
			for i, t := range fa.ChildTickets {
				if i == 8 {
					fmt.Fprintf(&b, "  - ... and %d more\n", len(fa.ChildTickets)-8)
					break
				}
				prio := t.Priority
				if prio == "" {
					prio = "No priority"
				}
				fmt.Fprintf(&b, "  - %s: %s (%s, %s)\n", t.Key, t.Title, t.Kind, prio)
			}
		}
		if len(fa.AcceptanceCriteria) > 0 {
			b.WriteString("- **Acceptance Criteria**:\n")
			for i, ac := range fa.AcceptanceCriteria {
				if i == 3 {
					break
				}
				fmt.Fprintf(&b, "  - %s\n", ac)
			}
		}
		if len(fa.RiskIndicators) > 0 {
			risks := fa.RiskIndicators
			if len(risks) > 5 {
				risks = risks[:5]
			}
			fmt.Fprintf(&b, "- **Risk Indicators**: %s\n", strings.Join(risks, ", "))
		}
	}
	b.WriteString("\n")

	if len(ctx.CrossCuttingConcerns) > 0 {
		b.WriteString("### Cross-Cutting Concerns Identified\n")
		for _, c := range ctx.CrossCuttingConcerns {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	if ctx.TechnicalContext != "" {
		b.WriteString("### Technical Context Signals\n")
		b.WriteString(ctx.TechnicalContext)
		b.WriteString("\n\n")
	}
	if ctx.CommentDigest != "" {
		b.WriteString("### Recent Discussion\n")
		b.WriteString(ctx.CommentDigest)
		b.WriteString("\n\n")
	}
	if len(ctx.FetchFailures) > 0 {
		fmt.Fprintf(&b, "### Note\nThe following tickets could not be retrieved and are absent from the context: %s\n\n",
			strings.Join(ctx.FetchFailures, ", "))
	}
	return b.String()
}

func formatBreakdown(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, m[k]))
	}
	return strings.Join(parts, ", ")
}

func writeFocusAreas(b *strings.Builder, areas []string) {
	if len(areas) == 0 {
		return
	}
	b.WriteString("### User-Selected Focus Areas\n")
	b.WriteString("Emphasize these areas in your strategy:\n")
	for _, a := range areas {
		fmt.Fprintf(b, "- %s\n", titleCase(strings.ReplaceAll(a, "_", " ")))
	}
	b.WriteString("\n")
}

func writeAdditionalContext(b *strings.Builder, extra string) {
	if extra == "" {
		return
	}
	b.WriteString("### Additional Context Provided by User\n")
	b.WriteString(extra)
	b.WriteString("\n\n")
}

func titleCase(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = strings.ToUpper(f[:1]) + f[1:]
	}
	return strings.Join(fields, " ")
}

// ExtractTitle derives a document title from the first epic, falling
// back to a generic one when the context has no epics.
func ExtractTitle(ctx aggregate.Context) string {
	epics := ctx.ProjectSummary.Epics
	if len(epics) == 0 {
		return "Test Strategy Document"
	}
	epic := epics[0]
	if idx := strings.Index(epic, ":"); idx >= 0 {
		return "Test Strategy: " + strings.TrimSpace(epic[idx+1:])
	}
	return "Test Strategy: " + epic
}
