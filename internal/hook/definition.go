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

// Package hook implements Bastion's lifecycle hook registry and executor.
//
// Hooks are registered callbacks invoked around agent tool calls at four
// lifecycle points: pre-action, post-action, prompt-submitted, and stop.
// The executor runs applicable hooks strictly in priority order, racing
// each handler against its timeout, and aggregates a single allow/warn/
// block decision per dispatch.
package hook

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// Type identifies the lifecycle point a hook is attached to.
type Type string

const (
	// TypePreAction runs before a tool call executes and can block it.
	TypePreAction Type = "pre_action"

	// TypePostAction runs after a tool call completes. It cannot block
	// retroactively; it observes and annotates.
	TypePostAction Type = "post_action"

	// TypePromptSubmitted runs when the user submits a prompt, before the
	// agent processes it. Hooks can block, redirect, inject context, or
	// request skills to load.
	TypePromptSubmitted Type = "prompt_submitted"

	// TypeStop runs when a session or task stops. Stop hooks are
	// best-effort notification, not gating.
	TypeStop Type = "stop"
)

// Types lists all hook types in dispatch order conventions.
var Types = []Type{TypePreAction, TypePostAction, TypePromptSubmitted, TypeStop}

// Valid reports whether t is a known hook type.
func (t Type) Valid() bool {
	switch t {
	case TypePreAction, TypePostAction, TypePromptSubmitted, TypeStop:
		return true
	default:
		return false
	}
}

// Scope is the binding breadth of a hook registration.
type Scope string

const (
	// ScopeGlobal hooks apply to every dispatch.
	ScopeGlobal Scope = "global"

	// ScopeAgent hooks apply only to dispatches for their bound agent.
	ScopeAgent Scope = "agent"

	// ScopeTask hooks apply only to dispatches for their bound task.
	ScopeTask Scope = "task"
)

// Verdict is a single handler's opinion about a dispatch.
type Verdict int

const (
	// VerdictAllow lets the dispatch proceed.
	VerdictAllow Verdict = iota

	// VerdictWarn lets the dispatch proceed but records a warning.
	VerdictWarn

	// VerdictDeny blocks the dispatch (pre-action) or the prompt
	// (prompt-submitted).
	VerdictDeny

	// VerdictRedirect asks the host to redirect a submitted prompt.
	// Only meaningful for prompt-submitted hooks.
	VerdictRedirect
)

// String returns a human-readable verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictWarn:
		return "warn"
	case VerdictDeny:
		return "deny"
	case VerdictRedirect:
		return "redirect"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// CallContext carries one tool call (or prompt, or stop notification)
// through a dispatch. It is passed by value into every handler and is
// immutable for the duration of the dispatch.
type CallContext struct {
	// Tool is the tool being invoked (e.g. "Bash", "Write").
	Tool string

	// Input contains the tool-specific parameters.
	Input map[string]any

	// Timestamp is when the call was initiated.
	Timestamp time.Time

	// AgentID identifies the calling agent. Empty for unscoped dispatches.
	AgentID string

	// TaskID identifies the current task, if any.
	TaskID string

	// Metadata carries host-defined annotations.
	Metadata map[string]any

	// Prompt is the submitted prompt text (prompt-submitted dispatches).
	Prompt string

	// Command is the slash-command name, if the prompt invoked one.
	Command string

	// Trigger is the stop reason (stop dispatches), e.g. "iteration_complete".
	Trigger string

	// CallError holds the tool call's error, if any (post-action dispatches).
	CallError string
}

// Result is what a handler returns for one dispatch.
type Result struct {
	// Verdict is the handler's decision.
	Verdict Verdict

	// Message is a human-readable reason, surfaced on warn and deny.
	Message string

	// Inject is extra context for the agent (prompt-submitted only).
	// Injections from multiple hooks are concatenated in execution order.
	Inject string

	// Skills lists skill names to load (prompt-submitted only). Merged
	// into a deduplicated set across all hooks of the dispatch.
	Skills []string
}

// Handler is the callback invoked for one dispatch. The context is
// cancelled when the hook's timeout expires; a handler that ignores the
// cancellation keeps running in the background but its result is discarded.
type Handler func(ctx context.Context, call CallContext) (Result, error)

// Definition describes a hook: identity, lifecycle type, ordering, and
// the type-specific filters that narrow which dispatches it sees.
type Definition struct {
	// ID uniquely identifies the hook within its type.
	// Assigned a generated ULID on registration if empty.
	ID string

	// Name is a human-readable label for listings and reports.
	Name string

	// Type is the lifecycle point this hook attaches to.
	Type Type

	// Enabled allows disabling a hook without unregistering it.
	// Defaults to true.
	Enabled *bool

	// Priority controls execution order. Lower number = earlier.
	// Default: 3.
	Priority int

	// Timeout bounds one handler invocation. Default: 5s. Capped at 30s.
	Timeout time.Duration

	// Handler is the callback to invoke.
	Handler Handler

	// ToolPatterns filters pre/post-action hooks by tool name glob.
	// Empty means all tools.
	ToolPatterns []string

	// OnErrorOnly makes a post-action hook run only for failed calls.
	OnErrorOnly bool

	// PromptPatterns filters prompt-submitted hooks by prompt regex.
	// Empty means all prompts.
	PromptPatterns []string

	// Commands filters prompt-submitted hooks by slash-command name.
	// Empty means all commands (including none).
	Commands []string

	// Triggers lists the stop reasons a stop hook responds to.
	// Empty means all reasons.
	Triggers []string

	// RunOnFailure makes a stop hook run even when the stop was caused
	// by a failed tool call. Default: skip those stops.
	RunOnFailure bool

	promptRegex []*regexp.Regexp
}

const (
	defaultPriority = 3
	defaultTimeout  = 5 * time.Second
	maxTimeout      = 30 * time.Second
)

// IsEnabled returns whether this hook is active. Defaults to true.
func (d Definition) IsEnabled() bool {
	if d.Enabled == nil {
		return true
	}
	return *d.Enabled
}

// EffectivePriority returns the hook's priority, defaulting to 3.
func (d Definition) EffectivePriority() int {
	if d.Priority == 0 {
		return defaultPriority
	}
	return d.Priority
}

// EffectiveTimeout returns the handler timeout, defaulting to 5s and
// capped at 30s to prevent a single hook stalling a dispatch.
func (d Definition) EffectiveTimeout() time.Duration {
	if d.Timeout <= 0 {
		return defaultTimeout
	}
	if d.Timeout > maxTimeout {
		return maxTimeout
	}
	return d.Timeout
}

// validate checks structural requirements and compiles prompt patterns.
func (d *Definition) validate() error {
	if !d.Type.Valid() {
		return fmt.Errorf("hook: unknown hook type %q", d.Type)
	}
	if d.Handler == nil {
		return fmt.Errorf("hook: definition %q has no handler", d.ID)
	}

	d.promptRegex = d.promptRegex[:0]
	for _, p := range d.PromptPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("hook: invalid prompt pattern %q: %w", p, err)
		}
		d.promptRegex = append(d.promptRegex, re)
	}
	return nil
}

// Bool is a helper for the Enabled pointer field.
func Bool(v bool) *bool {
	return &v
}
