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

package sdk

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/peg/bastion/internal/audit"
	"github.com/peg/bastion/internal/checkpoint"
	"github.com/peg/bastion/internal/hook"
	"github.com/peg/bastion/internal/rules"
)

// contextKey is an unexported type for context keys, preventing collisions
// with keys from other packages.
type contextKey string

const (
	// AgentKey is the context key for the agent identifier.
	AgentKey contextKey = "bastion-agent"

	// TaskKey is the context key for the task identifier.
	TaskKey contextKey = "bastion-task"

	// securityHookID is the built-in pre-action hook that bridges the
	// rule engine into every dispatch. It runs before user hooks.
	securityHookID = "pre_action-builtin-security"
)

// ToolFunc is a runtime tool function wrapped by Bastion enforcement.
type ToolFunc func(ctx context.Context, params map[string]any) (any, error)

// AuditSink receives audit events emitted by dispatches.
// Implemented by audit.JSONLSink.
type AuditSink interface {
	// Write records a single audit event.
	Write(event audit.Event) error
}

// CheckpointClient persists task state snapshots. When enabled, Bastion
// drives it from stop hooks and from pre-action hooks on mutating tools.
type CheckpointClient interface {
	CreateCheckpoint(ctx context.Context, taskID, trigger, phase string, payload map[string]any) error
}

// Bastion is the integration surface for agent runtimes: a hook
// registry, a dispatch executor, and the security rule engine behind
// one facade.
type Bastion struct {
	registry    *hook.Registry
	executor    *hook.Executor
	rules       *rules.Engine
	sink        AuditSink
	logger      *slog.Logger
	checkpoints *checkpoint.Adapter
}

// Option configures a Bastion instance.
type Option func(*Bastion)

// WithLogger sets the logger used by the facade and its executor.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bastion) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithAuditSink attaches an audit sink. Every dispatch that carries a
// decision is recorded; sink errors are logged, never propagated.
func WithAuditSink(sink AuditSink) Option {
	return func(b *Bastion) {
		b.sink = sink
	}
}

// WithRuleEngine substitutes a pre-built rule engine, e.g. one created
// with rules.WithoutDefaults.
func WithRuleEngine(engine *rules.Engine) Option {
	return func(b *Bastion) {
		if engine != nil {
			b.rules = engine
		}
	}
}

// New creates a Bastion with the default security rules active. The
// rule engine is wired in as a built-in pre-action hook with priority 1,
// so security screening runs before user hooks.
func New(opts ...Option) (*Bastion, error) {
	b := &Bastion{
		registry: hook.NewRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	if b.rules == nil {
		b.rules = rules.NewEngine(rules.WithLogger(b.logger))
	}
	b.executor = hook.NewExecutor(b.registry, hook.WithLogger(b.logger))

	_, err := b.registry.Register(hook.Definition{
		ID:       securityHookID,
		Name:     "builtin-security",
		Type:     hook.TypePreAction,
		Priority: 1,
		Handler:  b.securityHandler,
	}, hook.ScopeGlobal, "", "")
	if err != nil {
		return nil, err
	}
	return b, nil
}

// securityHandler bridges a rule engine pass into the pre-action
// dispatch: violations deny, warnings warn.
func (b *Bastion) securityHandler(ctx context.Context, call hook.CallContext) (hook.Result, error) {
	eval := b.rules.Evaluate(call.Tool, call.Input, call.Metadata)

	if len(eval.Violations) > 0 {
		return hook.Result{
			Verdict: hook.VerdictDeny,
			Message: findingSummary(eval.Violations),
		}, nil
	}
	if len(eval.Warnings) > 0 {
		return hook.Result{
			Verdict: hook.VerdictWarn,
			Message: findingSummary(eval.Warnings),
		}, nil
	}
	return hook.Result{Verdict: hook.VerdictAllow}, nil
}

func findingSummary(findings []rules.Result) string {
	parts := make([]string, 0, len(findings))
	for _, f := range findings {
		parts = append(parts, f.RuleName+": "+f.Reason)
	}
	return strings.Join(parts, "; ")
}

// RegisterHook registers a hook definition at the given scope. Agent
// scope requires agentID; task scope requires taskID.
func (b *Bastion) RegisterHook(def hook.Definition, scope hook.Scope, agentID, taskID string) (hook.Registration, error) {
	return b.registry.Register(def, scope, agentID, taskID)
}

// UnregisterHook removes a hook. Returns false if no such hook exists.
func (b *Bastion) UnregisterHook(hookID string, t hook.Type) bool {
	return b.registry.Unregister(hookID, t)
}

// ToggleHook enables or disables a hook without unregistering it.
func (b *Bastion) ToggleHook(hookID string, t hook.Type, enabled bool) bool {
	return b.registry.Toggle(hookID, t, enabled)
}

// ListAllHooks returns a summary of every registered hook.
func (b *Bastion) ListAllHooks() []hook.Summary {
	return b.registry.Summaries()
}

// RegistryStats returns per-type hook counts.
func (b *Bastion) RegistryStats() map[hook.Type]int {
	return b.registry.Stats()
}

// ExecutePreActionHooks dispatches a tool call through the applicable
// pre-action hooks, including the built-in security screen.
func (b *Bastion) ExecutePreActionHooks(ctx context.Context, call hook.CallContext) hook.PreActionResult {
	call = b.normalize(ctx, call)
	res := b.executor.RunPreAction(ctx, call)

	b.record(audit.Event{
		AgentID:  call.AgentID,
		TaskID:   call.TaskID,
		HookType: string(hook.TypePreAction),
		Tool:     call.Tool,
		Decision: audit.Decision{
			Action:     res.Action.String(),
			Allowed:    res.Allowed,
			Violations: findingMessages(res.Violations),
			Warnings:   findingMessages(res.Warnings),
		},
		Reports: reportSummaries(res.Reports),
	})
	return res
}

// ExecutePostActionHooks dispatches a completed tool call through the
// applicable post-action hooks. Set call.CallError for failed calls.
func (b *Bastion) ExecutePostActionHooks(ctx context.Context, call hook.CallContext) hook.PostActionResult {
	call = b.normalize(ctx, call)
	res := b.executor.RunPostAction(ctx, call)

	b.record(audit.Event{
		AgentID:  call.AgentID,
		TaskID:   call.TaskID,
		HookType: string(hook.TypePostAction),
		Tool:     call.Tool,
		Decision: audit.Decision{Action: hook.ActionAllow.String(), Allowed: true},
		Reports:  reportSummaries(res.Reports),
	})
	return res
}

// ExecutePromptHooks dispatches a submitted prompt through the
// applicable prompt hooks, collecting injections and skill requests.
func (b *Bastion) ExecutePromptHooks(ctx context.Context, call hook.CallContext) hook.PromptResult {
	call = b.normalize(ctx, call)
	res := b.executor.RunPromptSubmitted(ctx, call)

	b.record(audit.Event{
		AgentID:  call.AgentID,
		TaskID:   call.TaskID,
		HookType: string(hook.TypePromptSubmitted),
		Decision: audit.Decision{
			Action:     res.Action.String(),
			Allowed:    res.Proceed,
			Violations: findingMessages(res.Violations),
			Warnings:   findingMessages(res.Warnings),
		},
		Reports: reportSummaries(res.Reports),
	})
	return res
}

// ExecuteStopHooks dispatches a stop notification. Set call.Trigger to
// the stop reason and call.CallError when the stop was caused by a
// failed call.
func (b *Bastion) ExecuteStopHooks(ctx context.Context, call hook.CallContext) hook.StopResult {
	call = b.normalize(ctx, call)
	res := b.executor.RunStop(ctx, call)

	b.record(audit.Event{
		AgentID:  call.AgentID,
		TaskID:   call.TaskID,
		HookType: string(hook.TypeStop),
		Trigger:  call.Trigger,
		Decision: audit.Decision{Action: hook.ActionAllow.String(), Allowed: true},
		Reports:  reportSummaries(res.Reports),
	})
	return res
}

// RegisterSecurityRule adds a rule to the engine.
func (b *Bastion) RegisterSecurityRule(r rules.Rule) error {
	return b.rules.RegisterRule(r)
}

// ListSecurityRules returns every registered rule, highest priority first.
func (b *Bastion) ListSecurityRules() []rules.Rule {
	return b.rules.ListRules()
}

// EvaluateSecurityRules runs the rule engine directly, outside any
// dispatch. Useful for standalone screening.
func (b *Bastion) EvaluateSecurityRules(tool string, params map[string]any) rules.Evaluation {
	return b.rules.Evaluate(tool, params, nil)
}

// DryRunSecurityRules evaluates without recording metrics.
func (b *Bastion) DryRunSecurityRules(tool string, params map[string]any) rules.Evaluation {
	return b.rules.DryRun(tool, params, nil)
}

// Rules exposes the underlying rule engine, for custom rule loading and
// hot reload wiring.
func (b *Bastion) Rules() *rules.Engine {
	return b.rules
}

// LoadRulesFile loads a custom rule file into the engine, replacing any
// rules previously loaded from the same file.
func (b *Bastion) LoadRulesFile(path string) error {
	return rules.LoadInto(b.rules, rules.NewFileStore(path))
}

// WatchRulesFile loads a custom rule file and hot-reloads it whenever it
// changes. Invalid writes keep the previous rule set active. Blocks until
// ctx is cancelled; run it in its own goroutine.
func (b *Bastion) WatchRulesFile(ctx context.Context, path string) error {
	store := rules.NewFileStore(path)
	if err := rules.LoadInto(b.rules, store); err != nil {
		return err
	}
	return rules.Watch(ctx, b.rules, store, b.logger)
}

// EnableCheckpoints registers checkpoint hooks backed by client: a stop
// hook for iteration and task completion, and a pre-action hook that
// snapshots before mutating tools run. Checkpoint failures never affect
// dispatch outcomes.
func (b *Bastion) EnableCheckpoints(client CheckpointClient) error {
	if b.checkpoints != nil {
		b.checkpoints.Detach(b.registry)
	}
	b.checkpoints = checkpoint.NewAdapter(client, checkpoint.WithLogger(b.logger))
	return b.checkpoints.Attach(b.registry)
}

// DisableCheckpoints removes the checkpoint hooks, if enabled.
func (b *Bastion) DisableCheckpoints() {
	if b.checkpoints != nil {
		b.checkpoints.Detach(b.registry)
		b.checkpoints = nil
	}
}

// Wrap returns an enforcement wrapper for a tool function. The wrapper
// runs pre-action hooks before the call and post-action hooks after;
// a deny surfaces as *ErrDenied without invoking fn.
func (b *Bastion) Wrap(toolName string, fn ToolFunc) ToolFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		call := hook.CallContext{
			Tool:  toolName,
			Input: params,
		}

		pre := b.ExecutePreActionHooks(ctx, call)
		if !pre.Allowed {
			return nil, &ErrDenied{
				Tool:    toolName,
				HookID:  firstHookID(pre.Violations),
				Message: findingText(pre.Violations),
			}
		}

		start := time.Now()
		result, err := fn(ctx, params)

		post := call
		if err != nil {
			post.CallError = err.Error()
		}
		b.ExecutePostActionHooks(ctx, post)

		b.logger.Debug("sdk: tool completed",
			"tool", toolName,
			"duration", time.Since(start),
			"error", err,
		)
		return result, err
	}
}

// normalize fills scope identifiers and the timestamp from context
// values when the call leaves them empty.
func (b *Bastion) normalize(ctx context.Context, call hook.CallContext) hook.CallContext {
	if call.AgentID == "" {
		call.AgentID, _ = ctx.Value(AgentKey).(string)
	}
	if call.TaskID == "" {
		call.TaskID, _ = ctx.Value(TaskKey).(string)
	}
	if call.Timestamp.IsZero() {
		call.Timestamp = time.Now().UTC()
	}
	return call
}

func (b *Bastion) record(event audit.Event) {
	if b.sink == nil {
		return
	}
	if err := b.sink.Write(event); err != nil {
		b.logger.Error("sdk: audit write failed", "error", err)
	}
}

func findingMessages(findings []hook.Finding) []string {
	if len(findings) == 0 {
		return nil
	}
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Message)
	}
	return out
}

func findingText(findings []hook.Finding) string {
	if len(findings) == 0 {
		return "blocked"
	}
	return findings[0].Message
}

func firstHookID(findings []hook.Finding) string {
	if len(findings) == 0 {
		return ""
	}
	return findings[0].HookID
}

func reportSummaries(reports []hook.Report) []audit.ReportSummary {
	if len(reports) == 0 {
		return nil
	}
	out := make([]audit.ReportSummary, 0, len(reports))
	for _, r := range reports {
		out = append(out, audit.ReportSummary{
			HookID:     r.HookID,
			Success:    r.Success,
			DurationMS: r.Duration.Milliseconds(),
			Error:      r.Err,
		})
	}
	return out
}
