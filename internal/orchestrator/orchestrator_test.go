package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"strategist/internal/budget"
	"strategist/internal/llmclient"
	"strategist/internal/tracker"
)

type fakeReply struct {
	text string
	err  error
}

// fakeClient replays a script of replies, recording every prompt. When
// the script runs out the last entry repeats.
type fakeClient struct {
	window   int
	maxOut   int
	script   []fakeReply
	blocking bool

	prompts []string
	params  []llmclient.SizeParams
}

func (f *fakeClient) GenerateStream(ctx context.Context, prompt, systemPrompt string, p llmclient.SizeParams, onChunk func(string)) (string, error) {
	f.prompts = append(f.prompts, prompt)
	f.params = append(f.params, p)
	if f.blocking {
		<-ctx.Done()
		return "", &llmclient.BackendError{Kind: llmclient.ErrTimeout, Err: ctx.Err()}
	}
	i := len(f.prompts) - 1
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	r := f.script[i]
	if r.err != nil {
		return "", r.err
	}
	if onChunk != nil {
		onChunk(r.text)
	}
	return r.text, nil
}

func (f *fakeClient) Name() string                            { return "fake" }
func (f *fakeClient) TestConnection(context.Context) error    { return nil }
func (f *fakeClient) ListModels(context.Context) ([]string, error) { return []string{"fake"}, nil }
func (f *fakeClient) CountTokens(s string) int                { return llmclient.CountTokens(s) }
func (f *fakeClient) TokenCapacity() int                      { return f.window }
func (f *fakeClient) MaxOutputTokens() int                    { return f.maxOut }
func (f *fakeClient) Close() error                            { return nil }

// flatTemplate has enough numbered headings for numbering-alone
// detection, all top level.
const flatTemplate = `1. Scope Definition
2. Risk Analysis
3. Automation Approach
4. Environment Plan
5. Data Management
6. Defect Handling
7. Reporting Cadence
8. Team Allocation
9. Schedule Milestones
10. Appendix Material`

func sampleTickets() []tracker.Ticket {
	return []tracker.Ticket{
		{Key: "EP-1", Title: "Checkout", Kind: "Epic", Priority: "High"},
		{Key: "ST-1", Title: "Card capture", Kind: "Story", Priority: "High", ParentKey: "EP-1"},
	}
}

// immediate replaces the scheduled wait and records requested delays.
func immediate(delays *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	}
}

func TestRun_SectionalCarriesPreviousSectionsVerbatim(t *testing.T) {
	var script []fakeReply
	for i := 1; i <= 10; i++ {
		script = append(script, fakeReply{text: fmt.Sprintf("Body %d recommends Tool-%d for this area.", i, i)})
	}
	// 4000-token standard target exceeds 80% of a 4096 max response, so
	// generation goes sectional.
	fc := &fakeClient{window: 131072, maxOut: 4096, script: script}
	o := New(fc)

	var events []Event
	state, err := o.Run(context.Background(), Request{
		Tickets:      sampleTickets(),
		TemplateText: flatTemplate,
		Depth:        budget.DepthStandard,
	}, func(e Event) { events = append(events, e) })
	if err != nil {
		t.Fatal(err)
	}
	if !state.Sectional {
		t.Fatal("expected sectional mode")
	}
	if len(fc.prompts) != 10 {
		t.Fatalf("expected 10 section calls, got %d", len(fc.prompts))
	}

	// Section 2's prompt must contain section 1's emitted text verbatim,
	// and the final section must still see the first.
	if !strings.Contains(fc.prompts[1], script[0].text) {
		t.Error("prompt 2 missing section 1 content")
	}
	if !strings.Contains(fc.prompts[9], script[0].text) || !strings.Contains(fc.prompts[9], script[8].text) {
		t.Error("final prompt must carry all previously emitted sections")
	}

	if len(state.CompletedSections) != 10 {
		t.Fatalf("completed: %d", len(state.CompletedSections))
	}
	for i, cs := range state.CompletedSections {
		if cs.Content != script[i].text {
			t.Fatalf("section %d out of order: %q", i, cs.Content)
		}
	}

	last := events[len(events)-1]
	if last.Kind != EventRequestDone {
		t.Fatalf("last event %s", last.Kind)
	}
	if !strings.Contains(last.Content, script[0].text) {
		t.Error("request_done must carry the assembled document")
	}
	var started, completed, chunks int
	for _, e := range events {
		switch e.Kind {
		case EventSectionStarted:
			started++
		case EventSectionCompleted:
			completed++
		case EventTextChunk:
			chunks++
		}
	}
	if started != 10 || completed != 10 || chunks != 10 {
		t.Fatalf("events: started=%d completed=%d chunks=%d", started, completed, chunks)
	}
	if state.Stage != StageDone {
		t.Fatalf("stage %s", state.Stage)
	}
}

func TestRun_RetryBackoffDoublesThenSucceeds(t *testing.T) {
	rl := &llmclient.BackendError{Kind: llmclient.ErrRateLimited}
	fc := &fakeClient{window: 131072, maxOut: 100000, script: []fakeReply{
		{err: rl}, {err: rl}, {err: rl}, {text: "# Strategy\nfinal"},
	}}
	o := New(fc)
	var delays []time.Duration
	o.sleep = immediate(&delays)

	var waits []float64
	state, err := o.Run(context.Background(), Request{
		Tickets: sampleTickets(), TemplateText: flatTemplate, Depth: budget.DepthDetailed,
	}, func(e Event) {
		if e.RetrySeconds > 0 {
			waits = append(waits, e.RetrySeconds)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if state.Sectional {
		t.Fatal("expected combined mode")
	}
	if len(fc.prompts) != 4 {
		t.Fatalf("attempts: %d", len(fc.prompts))
	}
	if len(delays) != 3 {
		t.Fatalf("retries: %d", len(delays))
	}
	for i := 1; i < len(delays); i++ {
		if delays[i] <= delays[i-1] {
			t.Fatalf("delays not strictly increasing: %v", delays)
		}
	}
	if len(waits) != 3 {
		t.Fatalf("retry waits not surfaced: %v", waits)
	}
	if state.Content() != "# Strategy\nfinal" {
		t.Fatalf("content: %q", state.Content())
	}
}

func TestRun_ServerRetryAfterExtendsWait(t *testing.T) {
	rl := &llmclient.BackendError{Kind: llmclient.ErrRateLimited, RetryAfter: 30 * time.Second}
	fc := &fakeClient{window: 131072, maxOut: 100000, script: []fakeReply{
		{err: rl}, {text: "done"},
	}}
	o := New(fc)
	var delays []time.Duration
	o.sleep = immediate(&delays)

	if _, err := o.Run(context.Background(), Request{
		Tickets: sampleTickets(), TemplateText: flatTemplate, Depth: budget.DepthDetailed,
	}, nil); err != nil {
		t.Fatal(err)
	}
	if len(delays) != 1 || delays[0] != 30*time.Second {
		t.Fatalf("server hint ignored: %v", delays)
	}
}

func TestRun_RetryExhaustionPreservesPartialState(t *testing.T) {
	rl := &llmclient.BackendError{Kind: llmclient.ErrRateLimited}
	var script []fakeReply
	script = append(script,
		fakeReply{text: "section one"},
		fakeReply{text: "section two"},
		fakeReply{err: rl}, // section three never recovers
	)
	fc := &fakeClient{window: 131072, maxOut: 4096, script: script}
	o := New(fc)
	var delays []time.Duration
	o.sleep = immediate(&delays)

	var events []Event
	state, err := o.Run(context.Background(), Request{
		Tickets: sampleTickets(), TemplateText: flatTemplate, Depth: budget.DepthStandard,
	}, func(e Event) { events = append(events, e) })
	if err == nil {
		t.Fatal("expected retry exhaustion")
	}
	if len(delays) != 3 {
		t.Fatalf("expected exactly 3 retries, got %d", len(delays))
	}
	// 2 successes + 1 initial attempt + 3 retries for the failing section.
	if len(fc.prompts) != 6 {
		t.Fatalf("calls: %d", len(fc.prompts))
	}
	if state.Stage != StageErrored {
		t.Fatalf("stage %s", state.Stage)
	}
	if len(state.CompletedSections) != 2 {
		t.Fatalf("partial sections: %d", len(state.CompletedSections))
	}
	if !strings.Contains(state.Content(), "section one") {
		t.Error("partial content discarded")
	}

	last := events[len(events)-1]
	if last.Kind != EventRequestError {
		t.Fatalf("last event %s", last.Kind)
	}
	if !strings.Contains(last.Content, "section two") {
		t.Error("request_error must carry partial content")
	}
}

func TestRun_ContextTooLargeRebudgetsOnce(t *testing.T) {
	ctl := &llmclient.BackendError{Kind: llmclient.ErrContextTooLarge}
	fc := &fakeClient{window: 131072, maxOut: 100000, script: []fakeReply{
		{err: ctl}, {text: "fits now"},
	}}
	o := New(fc)

	// Comments give the first truncation level something visible to shed.
	tickets := sampleTickets()
	tickets[1].Comments = []tracker.Comment{{Author: "dana", Body: "flaky in staging"}}

	state, err := o.Run(context.Background(), Request{
		Tickets: tickets, TemplateText: flatTemplate, Depth: budget.DepthDetailed,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(fc.prompts) != 2 {
		t.Fatalf("attempts: %d", len(fc.prompts))
	}
	if strings.Contains(fc.prompts[0], "flaky in staging") == strings.Contains(fc.prompts[1], "flaky in staging") {
		t.Error("second prompt must use a deeper-truncated context")
	}
	if state.Content() != "fits now" {
		t.Fatalf("content: %q", state.Content())
	}
}

func TestRun_ContextTooLargeAfterRebudgetIsFatal(t *testing.T) {
	ctl := &llmclient.BackendError{Kind: llmclient.ErrContextTooLarge}
	fc := &fakeClient{window: 131072, maxOut: 100000, script: []fakeReply{{err: ctl}}}
	o := New(fc)
	var delays []time.Duration
	o.sleep = immediate(&delays)

	state, err := o.Run(context.Background(), Request{
		Tickets: sampleTickets(), TemplateText: flatTemplate, Depth: budget.DepthDetailed,
	}, nil)
	if err == nil {
		t.Fatal("expected fatal context overflow")
	}
	if len(fc.prompts) != 2 {
		t.Fatalf("one rebudget retry only, got %d attempts", len(fc.prompts))
	}
	if len(delays) != 0 {
		t.Fatal("context overflow must not use transient backoff")
	}
	if state.Stage != StageErrored {
		t.Fatalf("stage %s", state.Stage)
	}
}

func TestRun_AuthFailureNeverRetries(t *testing.T) {
	fc := &fakeClient{window: 131072, maxOut: 100000, script: []fakeReply{
		{err: &llmclient.BackendError{Kind: llmclient.ErrAuthFailure}},
	}}
	o := New(fc)
	var delays []time.Duration
	o.sleep = immediate(&delays)

	_, err := o.Run(context.Background(), Request{
		Tickets: sampleTickets(), TemplateText: flatTemplate, Depth: budget.DepthDetailed,
	}, nil)
	var be *llmclient.BackendError
	if !errors.As(err, &be) || be.Kind != llmclient.ErrAuthFailure {
		t.Fatalf("err: %v", err)
	}
	if len(fc.prompts) != 1 || len(delays) != 0 {
		t.Fatalf("auth failure retried: attempts=%d delays=%d", len(fc.prompts), len(delays))
	}
}

func TestRun_BudgetInfeasibleSurfaces(t *testing.T) {
	// Window too small for the reserve plus requested output.
	fc := &fakeClient{window: 4000, maxOut: 4096, script: []fakeReply{{text: "x"}}}
	o := New(fc)

	var events []Event
	state, err := o.Run(context.Background(), Request{
		Tickets: sampleTickets(), TemplateText: flatTemplate, Depth: budget.DepthStandard,
	}, func(e Event) { events = append(events, e) })
	var ie *budget.InfeasibleError
	if !errors.As(err, &ie) {
		t.Fatalf("err: %v", err)
	}
	if len(fc.prompts) != 0 {
		t.Fatal("backend must not be called on an infeasible budget")
	}
	if state.Stage != StageErrored {
		t.Fatalf("stage %s", state.Stage)
	}
	if events[len(events)-1].Kind != EventRequestError {
		t.Fatal("request_error missing")
	}
}

func TestRun_SectionWallClockIsFatal(t *testing.T) {
	fc := &fakeClient{window: 131072, maxOut: 100000, blocking: true}
	o := New(fc, WithSectionTimeout(20*time.Millisecond))

	_, err := o.Run(context.Background(), Request{
		Tickets: sampleTickets(), TemplateText: flatTemplate, Depth: budget.DepthDetailed,
	}, nil)
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("err: %v", err)
	}
	if len(fc.prompts) != 1 {
		t.Fatalf("a timed-out section must not retry, attempts=%d", len(fc.prompts))
	}
}

func TestRun_CancellationPreservesCompletedSections(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fc := &fakeClient{window: 131072, maxOut: 4096, script: []fakeReply{{text: "first"}}}

	calls := 0
	fcWrap := clientFunc(func(c context.Context, p, s string, sp llmclient.SizeParams, on func(string)) (string, error) {
		calls++
		if calls == 2 {
			cancel()
			<-c.Done()
			return "", &llmclient.BackendError{Kind: llmclient.ErrTimeout, Err: c.Err()}
		}
		return fc.GenerateStream(c, p, s, sp, on)
	})

	state, err := New(fcWrap).Run(ctx, Request{
		Tickets: sampleTickets(), TemplateText: flatTemplate, Depth: budget.DepthStandard,
	}, nil)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if len(state.CompletedSections) != 1 || state.CompletedSections[0].Content != "first" {
		t.Fatalf("completed sections lost: %+v", state.CompletedSections)
	}
}

// clientFunc overrides GenerateStream while delegating the rest.
type clientFunc func(context.Context, string, string, llmclient.SizeParams, func(string)) (string, error)

func (f clientFunc) GenerateStream(ctx context.Context, p, s string, sp llmclient.SizeParams, on func(string)) (string, error) {
	return f(ctx, p, s, sp, on)
}

func (f clientFunc) Name() string                                 { return "fake" }
func (f clientFunc) TestConnection(context.Context) error         { return nil }
func (f clientFunc) ListModels(context.Context) ([]string, error) { return nil, nil }
func (f clientFunc) CountTokens(s string) int                     { return llmclient.CountTokens(s) }
func (f clientFunc) TokenCapacity() int                           { return 131072 }
func (f clientFunc) MaxOutputTokens() int                         { return 4096 }
func (f clientFunc) Close() error                                 { return nil }
