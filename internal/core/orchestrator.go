package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"intake-chatbot/internal/llm"
	"intake-chatbot/pkg"
)

// Loop-control defaults. Tool round-trips and validation retries draw from
// the same iteration budget, so a turn heavy on tool calls can starve its
// repair retries; the budget is configurable for hosts that hit this.
const (
	DefaultMaxIterations         = 5
	DefaultMaxValidationAttempts = 3
	DefaultBackoffBase           = 100 * time.Millisecond
	DefaultBackoffCap            = 1000 * time.Millisecond
	DefaultHistoryWindow         = 20
)

// Limits groups the loop-control knobs so hosts pass one value instead of
// repeating individual fields.
type Limits struct {
	MaxIterations         int
	MaxValidationAttempts int
	BackoffBase           time.Duration
	BackoffCap            time.Duration
	HistoryWindow         int
}

// Normalize treats non-positive values as unset and applies defaults.
func (l Limits) Normalize() Limits {
	if l.MaxIterations <= 0 {
		l.MaxIterations = DefaultMaxIterations
	}
	if l.MaxValidationAttempts <= 0 {
		l.MaxValidationAttempts = DefaultMaxValidationAttempts
	}
	if l.BackoffBase <= 0 {
		l.BackoffBase = DefaultBackoffBase
	}
	if l.BackoffCap <= 0 {
		l.BackoffCap = DefaultBackoffCap
	}
	if l.HistoryWindow <= 0 {
		l.HistoryWindow = DefaultHistoryWindow
	}
	return l
}

// TurnResult is the outcome of one successful turn. Notes is the rationale
// trail: every retry, tool call and policy acceptance appears there so no
// failure is silently swallowed.
type TurnResult struct {
	Record              pkg.RecordMetadata
	Insights            pkg.Insights
	Suggested           *pkg.SuggestedLinkage
	Selection           *pkg.IssueSelection
	Complete            bool
	AssistantReply      string
	InsightsOutstanding bool
	TriggerRationale    []string
	Notes               []string
}

// Orchestrator drives one conversation turn against the generator: it
// assembles the request, runs the bounded tool/validation loop, and returns
// the validated outcome. The generator is injected so tests can script it.
type Orchestrator struct {
	Generator llm.Generator
	Tools     *Dispatcher
	Linker    *Linker
	Limits    Limits
	Log       *zap.Logger

	// Now and Sleep are injectable for deterministic tests. Sleep must
	// honor ctx cancellation.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator wires an orchestrator with default clock and sleeper.
func NewOrchestrator(gen llm.Generator, tools *Dispatcher, linker *Linker, limits Limits, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		Generator: gen,
		Tools:     tools,
		Linker:    linker,
		Limits:    limits,
		Log:       log,
		Now:       time.Now,
		Sleep:     sleepCtx,
	}
}

// Advance runs one turn. It returns the turn result plus the updated
// history (tool results and corrective feedback are appended in causal
// order, then the assistant reply). On a terminal error the original
// history is returned unchanged so the triggering utterance is rolled back
// and the user can retry cleanly. extraContext, when non-empty, is
// appended to the context summary; the session uses it to carry the
// insight-collection instruction across turns.
func (o *Orchestrator) Advance(ctx context.Context, history []pkg.Utterance, userText string,
	issues []pkg.Issue, recent []pkg.Record, extraContext string) (*TurnResult, []pkg.Utterance, error) {

	lim := o.Limits.Normalize()
	now := o.now()

	work := make([]pkg.Utterance, 0, len(history)+4)
	work = append(work, history...)
	work = append(work, pkg.Utterance{Role: pkg.RoleUser, Text: userText, CreatedAt: now})

	req := llm.Request{
		SystemContract: SystemContractText(),
		ContextSummary: BuildContextSummary(issues, recent, now),
		Tools:          ToolDefs(),
	}
	if extraContext != "" {
		req.ContextSummary += "\n\n" + extraContext
	}

	var notes []string
	attempts := 0

	for iter := 1; iter <= lim.MaxIterations; iter++ {
		req.History = boundedHistory(work, lim.HistoryWindow)

		resp, err := o.Generator.Generate(ctx, req)
		if err != nil {
			if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
				return nil, history, ctx.Err()
			}
			kind := ErrGeneratorError
			if errors.Is(err, context.DeadlineExceeded) {
				kind = ErrGeneratorTimeout
			}
			verr := turnErr(kind, "generator call failed: %v", err)
			attempts++
			notes = append(notes, fmt.Sprintf("attempt %d: %s", attempts, verr.Error()))
			o.Log.Warn("generator call failed",
				zap.Int("attempt", attempts), zap.String("kind", string(kind)), zap.Error(err))
			if attempts >= lim.MaxValidationAttempts {
				// Nothing was ever produced to accept, so the turn fails.
				return nil, history, verr
			}
			if err := o.backoff(ctx, lim, attempts); err != nil {
				return nil, history, err
			}
			continue
		}

		if resp.Kind == llm.KindToolUse {
			// Tool calls run strictly in the order returned; all results
			// are appended before the next generator invocation.
			for _, call := range resp.Calls {
				work = append(work, pkg.Utterance{
					Role:      pkg.RoleAssistant,
					Text:      fmt.Sprintf("[requested tool %s with arguments %s]", call.Name, call.Args),
					CreatedAt: o.now(),
				})
				result := o.Tools.Execute(ctx, call.Name, call.Args)
				notes = append(notes, fmt.Sprintf("tool %s executed", call.Name))
				work = append(work, pkg.Utterance{
					Role:      pkg.RoleUser,
					Text:      fmt.Sprintf("[tool %s result] %s", call.Name, result),
					CreatedAt: o.now(),
				})
			}
			continue
		}

		env, verr := Validate(resp.Body, now)
		if verr != nil {
			attempts++
			notes = append(notes, fmt.Sprintf("attempt %d: %s", attempts, verr.Error()))
			o.Log.Warn("generator output failed validation",
				zap.Int("attempt", attempts), zap.String("kind", string(verr.Kind)),
				zap.String("field", verr.Field))
			if attempts >= lim.MaxValidationAttempts {
				// Documented policy: the final allowed attempt accepts a
				// best-effort partial result rather than blocking the user.
				env = bestEffort(resp.Body, now)
				notes = append(notes, "accepted best-effort partial result on final validation attempt")
				o.Log.Warn("accepting best-effort partial result",
					zap.Int("attempts", attempts))
				return o.finish(env, work, notes, now)
			}
			work = append(work,
				pkg.Utterance{Role: pkg.RoleAssistant, Text: resp.Body, CreatedAt: o.now()},
				pkg.Utterance{Role: pkg.RoleUser, Text: SynthesizeFeedback(verr), CreatedAt: o.now()},
			)
			if err := o.backoff(ctx, lim, attempts); err != nil {
				return nil, history, err
			}
			continue
		}

		return o.finish(env, work, notes, now)
	}

	o.Log.Error("turn exceeded iteration budget",
		zap.Int("max_iterations", lim.MaxIterations), zap.Int("validation_attempts", attempts))
	return nil, history, turnErr(ErrIterationLimit,
		"turn did not converge within %d iterations", lim.MaxIterations)
}

// finish applies trigger evaluation and suggestion checking to a validated
// envelope and appends the assistant reply to history.
func (o *Orchestrator) finish(env *Envelope, work []pkg.Utterance, notes []string, now time.Time) (*TurnResult, []pkg.Utterance, error) {
	trig := EvaluateTrigger(env.Metadata, now)
	outstanding := trig.Fires && !insightsComplete(env.AdditionalInsights)

	complete := env.ConversationComplete
	if complete && outstanding {
		complete = false
		notes = append(notes, "completion deferred: insight fields still outstanding")
	}
	if complete && env.IssueSelection == nil {
		complete = false
		notes = append(notes, "completion deferred: issue selection not yet resolved")
	}

	work = append(work, pkg.Utterance{
		Role:      pkg.RoleAssistant,
		Text:      env.AIMessage,
		CreatedAt: o.now(),
	})

	return &TurnResult{
		Record:              env.Metadata,
		Insights:            env.AdditionalInsights,
		Suggested:           o.Linker.CheckSuggestion(env.SuggestedIssue),
		Selection:           env.IssueSelection,
		Complete:            complete,
		AssistantReply:      env.AIMessage,
		InsightsOutstanding: outstanding,
		TriggerRationale:    trig.Rationale,
		Notes:               notes,
	}, work, nil
}

// bestEffort salvages what it can from a response that failed validation:
// individually valid metadata fields are kept, invalid ones fall back to
// null. When the body is not JSON at all the raw text becomes the
// assistant message and the record is left untouched.
func bestEffort(raw string, today time.Time) *Envelope {
	var re rawEnvelope
	if err := json.Unmarshal([]byte(StripFences(raw)), &re); err != nil || re.Metadata == nil {
		return &Envelope{AIMessage: StripFences(raw)}
	}
	env := &Envelope{
		IssueSelection:       re.IssueSelection,
		SuggestedIssue:       re.SuggestedIssue,
		AIMessage:            re.AIMessage,
		ConversationComplete: false,
	}
	if re.AdditionalInsights != nil {
		env.AdditionalInsights = *re.AdditionalInsights
	}
	env.Metadata.Description = re.Metadata.Description
	if re.Metadata.Location != nil {
		if loc := pkg.Location(*re.Metadata.Location); pkg.ValidLocation(loc) {
			env.Metadata.Location = &loc
		}
	}
	if re.Metadata.Onset != nil {
		if onset, verr := validateOnset(*re.Metadata.Onset, today); verr == nil {
			env.Metadata.Onset = &onset
		}
	}
	if re.Metadata.Severity != nil {
		if sev, verr := validateSeverity(*re.Metadata.Severity); verr == nil {
			env.Metadata.Severity = &sev
		}
	}
	if re.IssueSelection != nil {
		switch re.IssueSelection.Type {
		case pkg.SelectionExisting, pkg.SelectionNew, pkg.SelectionNone:
		default:
			env.IssueSelection = nil
		}
	}
	return env
}

func (o *Orchestrator) backoff(ctx context.Context, lim Limits, attempt int) error {
	delay := lim.BackoffBase << (attempt - 1)
	if delay > lim.BackoffCap {
		delay = lim.BackoffCap
	}
	return o.sleep(ctx, delay)
}

func insightsComplete(i pkg.Insights) bool {
	return i.Provocation != nil && i.Quality != nil && i.Radiation != nil && i.Timing != nil
}

func boundedHistory(history []pkg.Utterance, window int) []pkg.Utterance {
	if len(history) <= window {
		return history
	}
	return history[len(history)-window:]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) error {
	if o.Sleep != nil {
		return o.Sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}
