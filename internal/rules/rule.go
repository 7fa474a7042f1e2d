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

// Package rules implements Bastion's security rule engine.
//
// The engine keeps its own registry, independent of the hook registry:
// rules have no scope concept and are always global. Evaluation runs
// every enabled rule in descending priority order and never stops early —
// the caller always receives the complete set of findings, unlike the
// pre-action hook path which fail-fasts on the first deny.
package rules

import (
	"fmt"
	"time"
)

// Action is a rule's (and the evaluation's aggregate) verdict.
type Action int

const (
	// ActionAllow permits the tool call.
	ActionAllow Action = iota

	// ActionWarn permits the tool call but records a warning finding.
	ActionWarn

	// ActionBlock denies the tool call.
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

// Severity grades a finding's impact.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Input is what a rule evaluates: one tool call payload.
type Input struct {
	// Tool is the tool being invoked.
	Tool string

	// Params contains the tool-specific parameters.
	Params map[string]any

	// Metadata carries optional host annotations.
	Metadata map[string]any
}

// Result is a single rule's finding. A nil *Result means "no opinion".
type Result struct {
	// Action is the rule's verdict for this call.
	Action Action

	// RuleName identifies the rule that fired.
	RuleName string

	// Reason explains why the rule fired.
	Reason string

	// Severity grades the finding.
	Severity Severity

	// MatchedPattern is the pattern that triggered, when applicable.
	MatchedPattern string

	// Recommendation is remediation guidance for the agent or user.
	Recommendation string
}

// EvaluateFunc inspects a tool call and returns a finding or nil.
// Implementations must be pure and synchronous: no IO, no shared state.
type EvaluateFunc func(in Input) *Result

// Rule is a pattern-based security check.
type Rule struct {
	// ID uniquely identifies the rule.
	ID string

	// Name is the finding label (e.g. "secret-detection").
	Name string

	// Description explains what the rule looks for.
	Description string

	// Enabled allows disabling a rule without unregistering it.
	// Defaults to true.
	Enabled *bool

	// Priority controls evaluation order. Higher number = evaluated
	// first. Default: 0.
	Priority int

	// Evaluate inspects one tool call. Returning nil means no opinion.
	Evaluate EvaluateFunc
}

// IsEnabled returns whether the rule is active. Defaults to true.
func (r Rule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

// Evaluation is the aggregate outcome of one rule engine pass.
type Evaluation struct {
	// Allowed is true when no rule blocked.
	Allowed bool

	// Action is block if any violation, warn if any warning, else allow.
	Action Action

	// Violations holds every block finding.
	Violations []Result

	// Warnings holds every warn finding.
	Warnings []Result

	// ExecutionTime is how long the full pass took.
	ExecutionTime time.Duration
}

// Bool is a helper for the Enabled pointer field.
func Bool(v bool) *bool {
	return &v
}
