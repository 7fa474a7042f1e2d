// Copyright 2026 The Bastion Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package hook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/peg/bastion/internal/match"
	"github.com/peg/bastion/internal/metrics"
)

// Action is the aggregate decision of one dispatch.
type Action int

const (
	// ActionAllow means no hook objected.
	ActionAllow Action = iota

	// ActionWarn means at least one hook warned but none blocked.
	ActionWarn

	// ActionBlock means a hook denied the dispatch.
	ActionBlock
)

// String returns a human-readable action name.
func (a Action) String() string {
	switch a {
	case ActionAllow:
		return "allow"
	case ActionWarn:
		return "warn"
	case ActionBlock:
		return "block"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Report records one handler invocation. Reports never mutate after
// creation; they exist purely for observability.
type Report struct {
	// HookID identifies the hook that ran.
	HookID string

	// HookType is the dispatch's lifecycle type.
	HookType Type

	// Success is false when the handler errored, panicked, or timed out.
	Success bool

	// Duration is how long the invocation took (or the timeout, for
	// handlers that never resolved).
	Duration time.Duration

	// Result is the handler's result. Zero value for failed invocations.
	Result Result

	// Err is the failure description. "Timeout" for handlers that
	// exceeded their budget.
	Err string

	// Timestamp is when the invocation started (UTC).
	Timestamp time.Time
}

// Finding attributes a violation or warning to the hook that raised it.
type Finding struct {
	// HookID is the hook that raised the finding.
	HookID string

	// Message is the hook's reason.
	Message string
}

// PreActionResult aggregates a pre-action dispatch.
type PreActionResult struct {
	// Allowed is false if any hook denied the call.
	Allowed bool

	// Action is block if any violation, warn if any warning, else allow.
	Action Action

	// Violations holds deny findings. At most one: the pre-action path
	// stops at the first deny.
	Violations []Finding

	// Warnings holds warn findings, including downgraded hook failures.
	Warnings []Finding

	// Reports holds one entry per hook that was invoked.
	Reports []Report
}

// PostActionResult aggregates a post-action dispatch. Post-action hooks
// cannot block retroactively, so there is no decision here.
type PostActionResult struct {
	Reports []Report
}

// PromptResult aggregates a prompt-submitted dispatch.
type PromptResult struct {
	// Proceed is false if any hook blocked or redirected the prompt.
	Proceed bool

	// Action is block if any hook denied or redirected, warn on warnings,
	// else allow.
	Action Action

	// Violations holds block/redirect findings.
	Violations []Finding

	// Warnings holds warn findings.
	Warnings []Finding

	// Injections holds each hook's context injection string, in
	// execution order.
	Injections []string

	// Skills is the deduplicated union of skills requested by all hooks,
	// in first-seen order.
	Skills []string

	// Reports holds one entry per hook that was invoked.
	Reports []Report
}

// StopResult aggregates a stop dispatch.
type StopResult struct {
	Reports []Report
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(x *Executor) {
		if logger != nil {
			x.logger = logger
		}
	}
}

// Executor dispatches tool calls through the applicable hooks of one
// lifecycle type at a time.
//
// Hooks run strictly in priority order: there is no parallel fan-out
// within a dispatch, so an early deny short-circuits deterministically.
// Each handler races against its own timeout; the loser of the race is
// discarded, not awaited. Distinct dispatches may run concurrently — the
// registry is the only shared state and it is read-only during dispatch.
type Executor struct {
	reg    *Registry
	logger *slog.Logger
}

// NewExecutor creates an executor over the given registry.
func NewExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	x := &Executor{
		reg:    reg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(x)
		}
	}
	return x
}

// RunPreAction dispatches a tool call to the applicable pre-action hooks.
// The first deny stops iteration: remaining hooks are not invoked and the
// call is not allowed. Handler failures and timeouts downgrade to warnings
// — a broken hook never silently grants access, and never blocks on its
// own either.
func (x *Executor) RunPreAction(ctx context.Context, call CallContext) PreActionResult {
	start := time.Now()
	res := PreActionResult{Allowed: true}

	for _, def := range x.reg.ListApplicable(TypePreAction, scopeOf(call)) {
		if len(def.ToolPatterns) > 0 && !match.Any(def.ToolPatterns, call.Tool) {
			continue
		}

		result, report, failed := x.invoke(ctx, def, call)
		res.Reports = append(res.Reports, report)

		if failed {
			res.Warnings = append(res.Warnings, Finding{HookID: def.ID, Message: report.Err})
			continue
		}

		switch result.Verdict {
		case VerdictDeny:
			res.Violations = append(res.Violations, Finding{HookID: def.ID, Message: result.Message})
			res.Allowed = false
			res.Action = ActionBlock
			metrics.RecordDispatch(string(TypePreAction), res.Action.String(), time.Since(start))
			return res
		case VerdictWarn:
			res.Warnings = append(res.Warnings, Finding{HookID: def.ID, Message: result.Message})
		}
	}

	if len(res.Warnings) > 0 {
		res.Action = ActionWarn
	}
	metrics.RecordDispatch(string(TypePreAction), res.Action.String(), time.Since(start))
	return res
}

// RunPostAction dispatches a completed tool call to the applicable
// post-action hooks. Nothing can be blocked retroactively: all matching
// hooks run (subject to the on-error-only filter) and only reports are
// aggregated.
func (x *Executor) RunPostAction(ctx context.Context, call CallContext) PostActionResult {
	start := time.Now()
	var res PostActionResult

	for _, def := range x.reg.ListApplicable(TypePostAction, scopeOf(call)) {
		if len(def.ToolPatterns) > 0 && !match.Any(def.ToolPatterns, call.Tool) {
			continue
		}
		if def.OnErrorOnly && call.CallError == "" {
			continue
		}

		_, report, _ := x.invoke(ctx, def, call)
		res.Reports = append(res.Reports, report)
	}

	metrics.RecordDispatch(string(TypePostAction), ActionAllow.String(), time.Since(start))
	return res
}

// RunPromptSubmitted dispatches a submitted prompt to the applicable
// prompt hooks. A block or redirect from any hook sets Proceed=false, but
// iteration continues so every hook's context injection and skill request
// is still collected.
func (x *Executor) RunPromptSubmitted(ctx context.Context, call CallContext) PromptResult {
	start := time.Now()
	res := PromptResult{Proceed: true}
	seenSkills := make(map[string]struct{})

	for _, def := range x.reg.ListApplicable(TypePromptSubmitted, scopeOf(call)) {
		if !promptMatches(def, call) {
			continue
		}

		result, report, failed := x.invoke(ctx, def, call)
		res.Reports = append(res.Reports, report)

		if failed {
			res.Warnings = append(res.Warnings, Finding{HookID: def.ID, Message: report.Err})
			continue
		}

		if result.Inject != "" {
			res.Injections = append(res.Injections, result.Inject)
		}
		for _, skill := range result.Skills {
			if _, ok := seenSkills[skill]; ok {
				continue
			}
			seenSkills[skill] = struct{}{}
			res.Skills = append(res.Skills, skill)
		}

		switch result.Verdict {
		case VerdictDeny, VerdictRedirect:
			res.Proceed = false
			res.Violations = append(res.Violations, Finding{HookID: def.ID, Message: result.Message})
		case VerdictWarn:
			res.Warnings = append(res.Warnings, Finding{HookID: def.ID, Message: result.Message})
		}
	}

	switch {
	case len(res.Violations) > 0:
		res.Action = ActionBlock
	case len(res.Warnings) > 0:
		res.Action = ActionWarn
	}
	metrics.RecordDispatch(string(TypePromptSubmitted), res.Action.String(), time.Since(start))
	return res
}

// RunStop dispatches a stop notification to the applicable stop hooks.
// Stop hooks are best-effort: a failing handler is recorded and the loop
// moves on. Hooks that do not declare RunOnFailure are skipped when the
// stop itself was caused by a failure.
func (x *Executor) RunStop(ctx context.Context, call CallContext) StopResult {
	start := time.Now()
	var res StopResult

	for _, def := range x.reg.ListApplicable(TypeStop, scopeOf(call)) {
		if len(def.Triggers) > 0 && !containsString(def.Triggers, call.Trigger) {
			continue
		}
		if call.CallError != "" && !def.RunOnFailure {
			continue
		}

		_, report, _ := x.invoke(ctx, def, call)
		res.Reports = append(res.Reports, report)
	}

	metrics.RecordDispatch(string(TypeStop), ActionAllow.String(), time.Since(start))
	return res
}

// invoke runs one handler with a race between its completion and the
// hook's timeout. Only one of the two wins; a slow handler's eventual
// completion is discarded, not awaited. failed is true for errors,
// panics, and timeouts — the caller decides how to downgrade.
func (x *Executor) invoke(ctx context.Context, def Definition, call CallContext) (Result, Report, bool) {
	start := time.Now()
	report := Report{
		HookID:    def.ID,
		HookType:  def.Type,
		Timestamp: start.UTC(),
	}

	hctx, cancel := context.WithTimeout(ctx, def.EffectiveTimeout())
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", p)}
			}
		}()
		result, err := def.Handler(hctx, call)
		done <- outcome{result: result, err: err}
	}()

	select {
	case o := <-done:
		report.Duration = time.Since(start)
		metrics.ObserveHookDuration(string(def.Type), report.Duration)
		if o.err != nil {
			report.Err = o.err.Error()
			metrics.RecordHookFailure(string(def.Type), "error")
			x.logger.Warn("hook: handler failed",
				"hook_id", def.ID,
				"type", def.Type,
				"error", o.err,
			)
			return Result{Verdict: VerdictWarn, Message: report.Err}, report, true
		}
		report.Success = true
		report.Result = o.result
		return o.result, report, false

	case <-hctx.Done():
		report.Duration = time.Since(start)
		metrics.ObserveHookDuration(string(def.Type), report.Duration)

		// The budget context also fires when the parent context is
		// cancelled, which is a host decision, not a slow hook.
		if ctx.Err() != nil {
			report.Err = "Canceled"
			metrics.RecordHookFailure(string(def.Type), "canceled")
			x.logger.Warn("hook: dispatch canceled",
				"hook_id", def.ID,
				"type", def.Type,
				"cause", context.Cause(ctx),
			)
			return Result{Verdict: VerdictWarn, Message: "dispatch canceled"}, report, true
		}

		report.Err = "Timeout"
		metrics.RecordHookFailure(string(def.Type), "timeout")
		x.logger.Warn("hook: handler timed out",
			"hook_id", def.ID,
			"type", def.Type,
			"timeout", def.EffectiveTimeout(),
		)
		return Result{Verdict: VerdictWarn, Message: "hook timed out"}, report, true
	}
}

// promptMatches applies the prompt-specific filters: regex patterns over
// the prompt text and an optional command-name allow-list.
func promptMatches(def Definition, call CallContext) bool {
	if len(def.Commands) > 0 && !containsString(def.Commands, call.Command) {
		return false
	}
	if len(def.promptRegex) == 0 {
		return true
	}
	for _, re := range def.promptRegex {
		if re.MatchString(call.Prompt) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func scopeOf(call CallContext) ScopeFilter {
	return ScopeFilter{AgentID: call.AgentID, TaskID: call.TaskID}
}
