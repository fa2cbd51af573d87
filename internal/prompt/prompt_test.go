package prompt

import (
	"strings"
	"testing"

	"strategist/internal/aggregate"
	"strategist/internal/budget"
	"strategist/internal/template"
)

func sampleContext() aggregate.Context {
	return aggregate.Context{
		ProjectSummary: aggregate.ProjectSummary{
			TotalTickets:      4,
			Epics:             []string{"EP-1: Checkout Payments", "EP-2: Reporting"},
			KindBreakdown:     map[string]int{"Story": 3, "Epic": 1},
			PriorityBreakdown: map[string]int{"High": 2, "Medium": 2},
			Components:        []string{"api", "mobile"},
			Labels:            []string{"performance"},
		},
		FeatureAreas: []aggregate.FeatureArea{
			{
				EpicKey:   "EP-1",
				EpicTitle: "Checkout Payments",
				Priority:  "High",
				ChildTickets: []aggregate.TicketRef{
					{Key: "ST-1", Title: "Card capture", Kind: "Story", Priority: "High"},
				},
				AcceptanceCriteria: []string{"[ST-1] Card numbers are never logged"},
				RiskIndicators:     []string{"Payment processing"},
			},
			{
				EpicKey:      "EP-2",
				EpicTitle:    "Reporting",
				ChildTickets: []aggregate.TicketRef{{Key: "ST-2", Title: "CSV export", Kind: "Story"}},
			},
		},
		CrossCuttingConcerns: []string{"Payment processing"},
		TechnicalContext:     "Detected technology signals: api, mobile",
		FetchFailures:        []string{"ST-9"},
	}
}

func sampleSections() []*template.Section {
	root1 := &template.Section{Number: "1", Title: "Introduction", Depth: 0}
	root2 := &template.Section{Number: "2", Title: "Payment Risk Assessment", Depth: 0,
		Children: []*template.Section{{Number: "2.1", Title: "Risk Matrix", Depth: 1}}}
	return []*template.Section{root1, root2}
}

func TestBuildCombined_CarriesTemplateAndContext(t *testing.T) {
	got := BuildCombined(sampleSections(), sampleContext(), Request{
		Depth:             budget.DepthStandard,
		FocusAreas:        []string{"security_testing"},
		AdditionalContext: "Regulated market, PCI-DSS applies.",
	})

	for _, want := range []string{
		"1. Introduction",
		"2. Payment Risk Assessment",
		"  2.1. Risk Matrix",
		"EP-1: Checkout Payments",
		"Issue Types**: Epic: 1, Story: 3",
		"Security Testing",
		"PCI-DSS applies",
		"ST-9",
		"200-400 words",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("combined prompt missing %q", want)
		}
	}
}

func TestBuildSection_IncludesAllPreviousContentVerbatim(t *testing.T) {
	sections := sampleSections()
	previous := strings.Repeat("Section one names the tool Playwright. ", 200)
	got := BuildSection(sections[1], sections, sampleContext(), Request{Depth: budget.DepthDetailed}, previous)

	if !strings.Contains(got, previous) {
		t.Fatal("previously generated content must appear in full, not truncated")
	}
	if !strings.Contains(got, "SECTION TO GENERATE: 2. Payment Risk Assessment") {
		t.Error("section header missing")
	}
	if !strings.Contains(got, "- 2.1. Risk Matrix") {
		t.Error("subsection listing missing")
	}
	if !strings.Contains(got, "Generate ONLY section 2. Payment Risk Assessment") {
		t.Error("closing instruction missing")
	}
}

func TestSectionSlice_NarrowsByKeyword(t *testing.T) {
	ctx := sampleContext()

	narrowed := SectionSlice(ctx, "Payment Risk Assessment")
	if len(narrowed.FeatureAreas) != 1 || narrowed.FeatureAreas[0].EpicKey != "EP-1" {
		t.Fatalf("expected only the payments area, got %+v", narrowed.FeatureAreas)
	}

	// No keyword overlap falls back to the full context.
	full := SectionSlice(ctx, "Entry and Exit Criteria")
	if len(full.FeatureAreas) != 2 {
		t.Fatalf("expected full context fallback, got %d areas", len(full.FeatureAreas))
	}

	// Stopword-only titles never narrow.
	if got := SectionSlice(ctx, "Test Strategy Overview"); len(got.FeatureAreas) != 2 {
		t.Fatal("stopword-only title must return full context")
	}
}

func TestFormatContext_TruncatesLongLists(t *testing.T) {
	ctx := sampleContext()
	area := &ctx.FeatureAreas[0]
	for i := 0; i < 12; i++ {
		area.ChildTickets = append(area.ChildTickets, aggregate.TicketRef{Key: "X", Title: "t", Kind: "Story"})
	}
	got := FormatContext(ctx)
	if !strings.Contains(got, "... and 5 more") {
		t.Errorf("ticket list not capped at 8:\n%s", got)
	}
}

func TestDepthInstruction_UnknownDefaultsToDetailed(t *testing.T) {
	if DepthInstruction(budget.Depth("bogus")) != depthInstructions[budget.DepthDetailed] {
		t.Fatal("unknown depth must fall back to detailed")
	}
}

func TestExtractTitle(t *testing.T) {
	if got := ExtractTitle(sampleContext()); got != "Test Strategy: Checkout Payments" {
		t.Fatalf("got %q", got)
	}
	if got := ExtractTitle(aggregate.Context{}); got != "Test Strategy Document" {
		t.Fatalf("empty context: %q", got)
	}
}
