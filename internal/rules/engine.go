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

package rules

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/peg/bastion/internal/metrics"
)

// MaxRules is the registration ceiling for the rule engine.
const MaxRules = 100

// ErrCapacityExceeded is returned by RegisterRule when the registration
// count would exceed MaxRules.
type ErrCapacityExceeded struct {
	Limit int
}

func (e *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("rules: registration capacity exceeded (limit %d)", e.Limit)
}

// sourceBuiltin tags rules registered by DefaultRules; file-loaded rules
// carry their store's tag so a reload can swap them atomically.
const sourceBuiltin = "builtin"

type ruleEntry struct {
	rule   Rule
	source string
	seq    uint64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithoutDefaults creates the engine empty, without the built-in rule set.
func WithoutDefaults() EngineOption {
	return func(e *Engine) {
		e.skipDefaults = true
	}
}

// Engine is the security rule registry and evaluator.
//
// Rules are always global — there is no scope concept here, and the
// registry is independent of the hook registry. Rule evaluation is
// synchronous and side-effect-free, so concurrent Evaluate calls need no
// coordination beyond the registry's read lock.
type Engine struct {
	mu           sync.RWMutex
	entries      map[string]*ruleEntry
	nextSeq      uint64
	logger       *slog.Logger
	skipDefaults bool
}

// NewEngine creates a rule engine with the default rule set registered.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		entries: make(map[string]*ruleEntry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}

	if !e.skipDefaults {
		for _, r := range DefaultRules() {
			// Default rules are well-formed; registration cannot fail
			// on an empty registry.
			_ = e.registerTagged(r, sourceBuiltin)
		}
	}

	return e
}

// RegisterRule adds a custom rule. Fails on duplicate id or when the
// registration ceiling is reached — the only error this engine surfaces
// synchronously to a caller.
func (e *Engine) RegisterRule(r Rule) error {
	return e.registerTagged(r, "")
}

func (e *Engine) registerTagged(r Rule, source string) error {
	if r.ID == "" {
		return fmt.Errorf("rules: rule has no id")
	}
	if r.Evaluate == nil {
		return fmt.Errorf("rules: rule %q has no evaluate function", r.ID)
	}
	if r.Name == "" {
		r.Name = r.ID
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.entries) >= MaxRules {
		return &ErrCapacityExceeded{Limit: MaxRules}
	}
	if _, exists := e.entries[r.ID]; exists {
		return fmt.Errorf("rules: duplicate rule id %q", r.ID)
	}

	e.nextSeq++
	e.entries[r.ID] = &ruleEntry{rule: r, source: source, seq: e.nextSeq}
	metrics.SetRegisteredRules(len(e.entries))
	return nil
}

// UnregisterRule removes a rule. Returns true if it existed.
func (e *Engine) UnregisterRule(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.entries[id]; !ok {
		return false
	}
	delete(e.entries, id)
	metrics.SetRegisteredRules(len(e.entries))
	return true
}

// ToggleRule enables or disables a rule in place. Returns true if it
// existed.
func (e *Engine) ToggleRule(id string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	entry, ok := e.entries[id]
	if !ok {
		return false
	}
	entry.rule.Enabled = &enabled
	return true
}

// ListRules returns all rules sorted the way evaluation visits them:
// descending priority, ties by registration order.
func (e *Engine) ListRules() []Rule {
	// Rules are copied while the read lock is held: ToggleRule mutates
	// entries in place, so an entry pointer must never outlive the lock.
	e.mu.RLock()
	selected := make([]rankedRule, 0, len(e.entries))
	for _, entry := range e.entries {
		selected = append(selected, rankedRule{rule: entry.rule, seq: entry.seq})
	}
	e.mu.RUnlock()

	sortRanked(selected)

	out := make([]Rule, len(selected))
	for i, s := range selected {
		out[i] = s.rule
	}
	return out
}

// RuleCount returns the number of registered rules.
func (e *Engine) RuleCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// Evaluate runs every enabled rule against a tool call and returns the
// complete set of findings.
//
// Unlike the pre-action hook path, evaluation never stops at the first
// block: the caller always sees all violations and warnings. A rule that
// panics is logged and treated as returning nil — fail-open for that one
// rule only, never aborting the pass.
func (e *Engine) Evaluate(tool string, params map[string]any, metadata map[string]any) Evaluation {
	ev := e.evaluate(tool, params, metadata)
	metrics.RecordRuleEvaluation(ev.Action.String(), ev.ExecutionTime)
	return ev
}

// DryRun performs the same evaluation as Evaluate without recording
// metrics, for testing hypothetical calls.
func (e *Engine) DryRun(tool string, params map[string]any, metadata map[string]any) Evaluation {
	return e.evaluate(tool, params, metadata)
}

func (e *Engine) evaluate(tool string, params map[string]any, metadata map[string]any) Evaluation {
	start := time.Now()

	e.mu.RLock()
	selected := make([]rankedRule, 0, len(e.entries))
	for _, entry := range e.entries {
		if entry.rule.IsEnabled() {
			selected = append(selected, rankedRule{rule: entry.rule, seq: entry.seq})
		}
	}
	e.mu.RUnlock()

	sortRanked(selected)

	in := Input{Tool: tool, Params: params, Metadata: metadata}
	ev := Evaluation{Allowed: true}

	for _, s := range selected {
		result := e.evaluateOne(s.rule, in)
		if result == nil {
			continue
		}
		if result.RuleName == "" {
			result.RuleName = s.rule.Name
		}

		switch result.Action {
		case ActionBlock:
			ev.Violations = append(ev.Violations, *result)
		case ActionWarn:
			ev.Warnings = append(ev.Warnings, *result)
		}
	}

	ev.Allowed = len(ev.Violations) == 0
	switch {
	case len(ev.Violations) > 0:
		ev.Action = ActionBlock
	case len(ev.Warnings) > 0:
		ev.Action = ActionWarn
	}
	ev.ExecutionTime = time.Since(start)

	return ev
}

// evaluateOne isolates a single rule's panic so one broken rule cannot
// take down the whole evaluation.
func (e *Engine) evaluateOne(r Rule, in Input) (result *Result) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			e.logger.Warn("rules: rule evaluation panicked; skipping rule",
				"rule_id", r.ID,
				"panic", fmt.Sprint(p),
			)
		}
	}()
	return r.Evaluate(in)
}

// ReplaceSource atomically swaps all rules tagged with source for the
// given replacements. Used by the custom-rule file reloader: the old set
// stays active if any replacement fails registration.
func (e *Engine) ReplaceSource(source string, replacements []Rule) error {
	if source == "" || source == sourceBuiltin {
		return fmt.Errorf("rules: invalid reload source %q", source)
	}
	for _, r := range replacements {
		if r.ID == "" || r.Evaluate == nil {
			return fmt.Errorf("rules: invalid replacement rule %q", r.ID)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	retained := 0
	for _, entry := range e.entries {
		if entry.source != source {
			retained++
		}
	}
	if retained+len(replacements) > MaxRules {
		return &ErrCapacityExceeded{Limit: MaxRules}
	}

	// Check id collisions against rules from other sources.
	for _, r := range replacements {
		if existing, ok := e.entries[r.ID]; ok && existing.source != source {
			return fmt.Errorf("rules: rule id %q already registered", r.ID)
		}
	}

	for id, entry := range e.entries {
		if entry.source == source {
			delete(e.entries, id)
		}
	}
	for _, r := range replacements {
		if r.Name == "" {
			r.Name = r.ID
		}
		e.nextSeq++
		e.entries[r.ID] = &ruleEntry{rule: r, source: source, seq: e.nextSeq}
	}

	metrics.SetRegisteredRules(len(e.entries))
	e.logger.Info("rules: source reloaded", "source", source, "count", len(replacements))
	return nil
}

// rankedRule is a rule copy detached from its registry entry, safe to
// sort and evaluate outside the lock.
type rankedRule struct {
	rule Rule
	seq  uint64
}

func sortRanked(entries []rankedRule) {
	sort.Slice(entries, func(i, j int) bool {
		pi, pj := entries[i].rule.Priority, entries[j].rule.Priority
		if pi != pj {
			return pi > pj // higher priority evaluates first
		}
		return entries[i].seq < entries[j].seq
	})
}
