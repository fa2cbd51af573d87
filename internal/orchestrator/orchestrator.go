// Package orchestrator drives a generation request through its state
// machine: context analysis, template parsing, sectional or combined
// emission, finalization. One Run owns one State; concurrent requests
// share nothing mutable.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"strategist/internal/aggregate"
	"strategist/internal/budget"
	"strategist/internal/llmclient"
	"strategist/internal/prompt"
	"strategist/internal/template"
	"strategist/internal/tracker"
)

// Stage identifies a state-machine position.
type Stage string

const (
	StageIdle             Stage = "idle"
	StageAnalyzingContext Stage = "analyzing_context"
	StageParsingTemplate  Stage = "parsing_template"
	StageEmittingSection  Stage = "emitting_section"
	StageFinalizing       Stage = "finalizing"
	StageDone             Stage = "done"
	StageErrored          Stage = "errored"
)

// EventKind tags events pushed to the presentation layer.
type EventKind string

const (
	EventStageChanged     EventKind = "stage_changed"
	EventSectionStarted   EventKind = "section_started"
	EventTextChunk        EventKind = "text_chunk"
	EventSectionCompleted EventKind = "section_completed"
	EventRequestDone      EventKind = "request_done"
	EventRequestError     EventKind = "request_error"
)

// Event is the streamed progress record. Payloads are denormalized so a
// consumer can reconstruct the document and its progress from the event
// sequence alone.
type Event struct {
	Kind          EventKind `json:"type"`
	Stage         Stage     `json:"stage,omitempty"`
	Section       string    `json:"section,omitempty"`
	SectionNumber string    `json:"section_number,omitempty"`
	Chunk         string    `json:"chunk,omitempty"`
	TokensUsed    int       `json:"tokens_used,omitempty"`
	RetrySeconds  float64   `json:"retry_in_seconds,omitempty"`
	Message       string    `json:"message,omitempty"`
	Title         string    `json:"title,omitempty"`
	Content       string    `json:"content,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// CompletedSection is one finished piece of the document, in emission
// order.
type CompletedSection struct {
	Number  string `json:"number"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// State is the per-request generation state. It is owned by a single Run
// and surfaced, possibly partial, on every exit path.
type State struct {
	Stage             Stage              `json:"stage"`
	Title             string             `json:"title,omitempty"`
	CompletedSections []CompletedSection `json:"completed_sections"`
	CurrentIndex      int                `json:"current_index"`
	TokensUsed        int                `json:"tokens_used"`
	BackendErrors     []string           `json:"backend_errors,omitempty"`
	Plan              budget.Plan        `json:"plan"`
	Sectional         bool               `json:"sectional"`
}

// Content reassembles the document from completed sections.
func (s *State) Content() string {
	var out string
	for i, cs := range s.CompletedSections {
		if i > 0 {
			out += "\n\n"
		}
		out += cs.Content
	}
	return out
}

// Request describes one generation run. Tickets arrive already fetched;
// the template arrives as a path or raw text, or defaults.
type Request struct {
	Tickets           []tracker.Ticket
	FetchFailures     []string
	TemplatePath      string
	TemplateText      string
	Depth             budget.Depth
	FocusAreas        []string
	AdditionalContext string
	Temperature       float32
}

const (
	maxSectionRetries = 3
	baseBackoff       = 2 * time.Second
	// promptReserve covers the system prompt, template outline and fixed
	// instruction scaffolding around the aggregated context.
	promptReserve         = 2000
	defaultSectionTimeout = 5 * time.Minute
	minSectionTokens      = 256
)

// Orchestrator runs generation requests against a backend client. It is
// stateless across runs and safe for concurrent use.
type Orchestrator struct {
	client         llmclient.Client
	sectionTimeout time.Duration

	// sleep waits for d or until the context ends. Injected in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*Orchestrator)

func WithSectionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.sectionTimeout = d }
}

func New(client llmclient.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		client:         client,
		sectionTimeout: defaultSectionTimeout,
		sleep:          scheduledWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func scheduledWait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes the request, pushing events to emit as they occur. The
// returned State is never nil; on error it carries whatever completed
// before the failure.
func (o *Orchestrator) Run(ctx context.Context, req Request, emit func(Event)) (*State, error) {
	if emit == nil {
		emit = func(Event) {}
	}
	state := &State{Stage: StageIdle}

	fail := func(err error) (*State, error) {
		state.Stage = StageErrored
		state.BackendErrors = append(state.BackendErrors, err.Error())
		emit(Event{Kind: EventRequestError, Stage: StageErrored, Error: err.Error(),
			TokensUsed: state.TokensUsed, Content: state.Content()})
		return state, err
	}

	// AnalyzingContext: aggregate and fit to the backend window.
	o.setStage(state, StageAnalyzingContext, emit)
	full := aggregate.Aggregate(req.Tickets)
	full.FetchFailures = append(full.FetchFailures, req.FetchFailures...)

	outputTokens := req.Depth.OutputTokens(o.client.MaxOutputTokens())
	fitted, plan, err := budget.FitToBudget(full, o.client.TokenCapacity(), promptReserve, outputTokens)
	if err != nil {
		return fail(err)
	}
	state.Plan = plan
	state.Title = prompt.ExtractTitle(fitted)

	// ParsingTemplate: never fatal, parse errors degrade to the default
	// hierarchy inside the template package.
	o.setStage(state, StageParsingTemplate, emit)
	sections := o.resolveTemplate(req)

	state.Sectional = req.Depth.Sectional(o.client.MaxOutputTokens())
	preq := prompt.Request{Depth: req.Depth, FocusAreas: req.FocusAreas, AdditionalContext: req.AdditionalContext}

	o.setStage(state, StageEmittingSection, emit)
	if state.Sectional {
		if err := o.runSectional(ctx, state, sections, full, fitted, plan.OptimizationLevel, preq, req, outputTokens, emit); err != nil {
			return fail(err)
		}
	} else {
		if err := o.runCombined(ctx, state, sections, full, fitted, plan.OptimizationLevel, preq, req, outputTokens, emit); err != nil {
			return fail(err)
		}
	}

	o.setStage(state, StageFinalizing, emit)
	o.setStage(state, StageDone, emit)
	emit(Event{Kind: EventRequestDone, Stage: StageDone, Title: state.Title,
		Content: state.Content(), TokensUsed: state.TokensUsed})
	return state, nil
}

func (o *Orchestrator) setStage(state *State, stage Stage, emit func(Event)) {
	state.Stage = stage
	emit(Event{Kind: EventStageChanged, Stage: stage})
}

func (o *Orchestrator) resolveTemplate(req Request) []*template.Section {
	switch {
	case req.TemplatePath != "":
		res, err := template.Parse(req.TemplatePath)
		if err != nil {
			log.Printf("template parse degraded to default: %v", err)
		}
		return res.Sections
	case req.TemplateText != "":
		return template.ParseText(req.TemplateText).Sections
	default:
		return template.Default()
	}
}

func (o *Orchestrator) runSectional(ctx context.Context, state *State, sections []*template.Section,
	full, fitted aggregate.Context, level int, preq prompt.Request, req Request, outputTokens int, emit func(Event)) error {

	var flat []*template.Section
	template.Walk(sections, func(s *template.Section) { flat = append(flat, s) })

	perSection := outputTokens / len(flat)
	if perSection < minSectionTokens {
		perSection = minSectionTokens
	}

	var previous string
	for i, sec := range flat {
		state.CurrentIndex = i
		emit(Event{Kind: EventSectionStarted, Stage: StageEmittingSection,
			Section: sec.Title, SectionNumber: sec.Number})

		build := func(c aggregate.Context) string {
			return prompt.BuildSection(sec, sections, c, preq, previous)
		}
		text, err := o.generate(ctx, state, build, full, fitted, &level,
			llmclient.SizeParams{MaxTokens: perSection, Temperature: req.Temperature}, emit)
		if err != nil {
			return fmt.Errorf("section %s %q: %w", sec.Number, sec.Title, err)
		}

		state.CompletedSections = append(state.CompletedSections, CompletedSection{
			Number: sec.Number, Title: sec.Title, Content: text,
		})
		state.TokensUsed += o.client.CountTokens(text)
		if previous != "" {
			previous += "\n\n"
		}
		previous += text
		emit(Event{Kind: EventSectionCompleted, Stage: StageEmittingSection,
			Section: sec.Title, SectionNumber: sec.Number, TokensUsed: state.TokensUsed})
	}
	return nil
}

func (o *Orchestrator) runCombined(ctx context.Context, state *State, sections []*template.Section,
	full, fitted aggregate.Context, level int, preq prompt.Request, req Request, outputTokens int, emit func(Event)) error {

	emit(Event{Kind: EventSectionStarted, Stage: StageEmittingSection, Section: state.Title})
	build := func(c aggregate.Context) string {
		return prompt.BuildCombined(sections, c, preq)
	}
	text, err := o.generate(ctx, state, build, full, fitted, &level,
		llmclient.SizeParams{MaxTokens: outputTokens, Temperature: req.Temperature}, emit)
	if err != nil {
		return err
	}
	state.CompletedSections = append(state.CompletedSections, CompletedSection{
		Title: state.Title, Content: text,
	})
	state.TokensUsed += o.client.CountTokens(text)
	emit(Event{Kind: EventSectionCompleted, Stage: StageEmittingSection,
		Section: state.Title, TokensUsed: state.TokensUsed})
	return nil
}

// generate performs one section's backend call with the retry policy:
// transient errors retry up to maxSectionRetries with doubling backoff,
// a context-too-large error buys exactly one extra truncation pass, and
// the per-section wall clock is fatal regardless of retries left.
// level is shared across sections so a truncation escalation sticks for
// the rest of the run.
func (o *Orchestrator) generate(ctx context.Context, state *State,
	build func(aggregate.Context) string, full, fitted aggregate.Context, level *int,
	params llmclient.SizeParams, emit func(Event)) (string, error) {

	sctx, cancel := context.WithTimeout(ctx, o.sectionTimeout)
	defer cancel()

	current := fitted
	backoff := baseBackoff
	retries := 0
	rebudgeted := false

	for {
		text, err := o.client.GenerateStream(sctx, build(current), prompt.SystemPrompt, params, func(chunk string) {
			emit(Event{Kind: EventTextChunk, Stage: StageEmittingSection, Chunk: chunk})
		})
		if err == nil {
			return text, nil
		}
		state.BackendErrors = append(state.BackendErrors, err.Error())

		// A section deadline or caller cancellation ends the run even when
		// the backend error itself would be retryable.
		if sctx.Err() != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("request canceled: %w", ctx.Err())
			}
			return "", fmt.Errorf("section timed out after %s: %w", o.sectionTimeout, err)
		}

		if llmclient.IsContextTooLarge(err) {
			if rebudgeted || *level >= budget.MaxLevel {
				return "", fmt.Errorf("context too large at deepest truncation: %w", err)
			}
			*level++
			rebudgeted = true
			current = budget.ApplyLevel(full, *level)
			log.Printf("context too large, retrying at truncation level %d", *level)
			continue
		}

		if !llmclient.Retryable(err) || retries >= maxSectionRetries {
			return "", err
		}
		retries++

		wait := backoff
		var be *llmclient.BackendError
		if errors.As(err, &be) && be.RetryAfter > wait {
			wait = be.RetryAfter
		}
		emit(Event{Kind: EventStageChanged, Stage: StageEmittingSection,
			RetrySeconds: wait.Seconds(),
			Message:      fmt.Sprintf("backend busy, retry %d/%d in %s", retries, maxSectionRetries, wait)})
		if err := o.sleep(sctx, wait); err != nil {
			return "", fmt.Errorf("request canceled during retry wait: %w", err)
		}
		backoff *= 2
	}
}
