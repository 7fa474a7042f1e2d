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
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticRule(id string, priority int, result *Result) Rule {
	return Rule{
		ID:       id,
		Name:     id,
		Priority: priority,
		Evaluate: func(in Input) *Result { return result },
	}
}

func TestNewEngineRegistersDefaults(t *testing.T) {
	e := NewEngine()
	assert.Equal(t, len(DefaultRules()), e.RuleCount())

	e = NewEngine(WithoutDefaults())
	assert.Equal(t, 0, e.RuleCount())
}

func TestEvaluateCollectsAllFindings(t *testing.T) {
	e := NewEngine(WithoutDefaults())

	require.NoError(t, e.RegisterRule(staticRule("block-1", 100, &Result{Action: ActionBlock, RuleName: "block-1", Reason: "first"})))
	require.NoError(t, e.RegisterRule(staticRule("block-2", 50, &Result{Action: ActionBlock, RuleName: "block-2", Reason: "second"})))
	require.NoError(t, e.RegisterRule(staticRule("warn-1", 10, &Result{Action: ActionWarn, RuleName: "warn-1", Reason: "heads up"})))

	ev := e.Evaluate("Bash", map[string]any{"command": "x"}, nil)

	assert.False(t, ev.Allowed)
	assert.Equal(t, ActionBlock, ev.Action)
	require.Len(t, ev.Violations, 2, "evaluation must not stop at the first block")
	assert.Equal(t, "block-1", ev.Violations[0].RuleName)
	assert.Equal(t, "block-2", ev.Violations[1].RuleName)
	require.Len(t, ev.Warnings, 1)
}

func TestEvaluatePriorityDescending(t *testing.T) {
	e := NewEngine(WithoutDefaults())

	var order []string
	mk := func(id string, priority int) Rule {
		return Rule{
			ID: id, Priority: priority,
			Evaluate: func(in Input) *Result {
				order = append(order, id)
				return nil
			},
		}
	}
	require.NoError(t, e.RegisterRule(mk("low", 1)))
	require.NoError(t, e.RegisterRule(mk("high", 99)))
	require.NoError(t, e.RegisterRule(mk("mid", 50)))

	e.Evaluate("Bash", nil, nil)
	assert.Equal(t, []string{"high", "mid", "low"}, order)
}

func TestEvaluateAllowedWhenNoViolations(t *testing.T) {
	e := NewEngine(WithoutDefaults())
	require.NoError(t, e.RegisterRule(staticRule("warn-only", 1, &Result{Action: ActionWarn, RuleName: "warn-only"})))

	ev := e.Evaluate("Write", nil, nil)
	assert.True(t, ev.Allowed, "warnings alone never block")
	assert.Equal(t, ActionWarn, ev.Action)
}

func TestRulePanicFailsOpenForThatRuleOnly(t *testing.T) {
	e := NewEngine(WithoutDefaults())

	require.NoError(t, e.RegisterRule(Rule{
		ID: "panicky", Priority: 100,
		Evaluate: func(in Input) *Result { panic("bad regex state") },
	}))
	require.NoError(t, e.RegisterRule(staticRule("steady", 1, &Result{Action: ActionBlock, RuleName: "steady"})))

	ev := e.Evaluate("Bash", nil, nil)

	assert.False(t, ev.Allowed, "other rules still evaluate after a panic")
	require.Len(t, ev.Violations, 1)
	assert.Equal(t, "steady", ev.Violations[0].RuleName)
}

func TestRegisterRuleValidation(t *testing.T) {
	e := NewEngine(WithoutDefaults())

	assert.Error(t, e.RegisterRule(Rule{Evaluate: func(in Input) *Result { return nil }}), "missing id")
	assert.Error(t, e.RegisterRule(Rule{ID: "no-eval"}), "missing evaluate")

	require.NoError(t, e.RegisterRule(staticRule("dup", 1, nil)))
	assert.Error(t, e.RegisterRule(staticRule("dup", 1, nil)), "duplicate id")
}

func TestRegisterRuleCapacity(t *testing.T) {
	e := NewEngine(WithoutDefaults())

	for i := 0; i < MaxRules; i++ {
		require.NoError(t, e.RegisterRule(staticRule(fmt.Sprintf("r%d", i), i, nil)))
	}

	err := e.RegisterRule(staticRule("overflow", 0, nil))
	require.Error(t, err)

	var capErr *ErrCapacityExceeded
	assert.True(t, errors.As(err, &capErr))
}

func TestToggleRule(t *testing.T) {
	e := NewEngine(WithoutDefaults())
	require.NoError(t, e.RegisterRule(staticRule("switch", 1, &Result{Action: ActionBlock, RuleName: "switch"})))

	require.True(t, e.ToggleRule("switch", false))
	ev := e.Evaluate("Bash", nil, nil)
	assert.True(t, ev.Allowed, "disabled rules do not evaluate")

	require.True(t, e.ToggleRule("switch", true))
	ev = e.Evaluate("Bash", nil, nil)
	assert.False(t, ev.Allowed)

	assert.False(t, e.ToggleRule("missing", true))
}

func TestUnregisterRule(t *testing.T) {
	e := NewEngine(WithoutDefaults())
	require.NoError(t, e.RegisterRule(staticRule("gone", 1, nil)))

	assert.True(t, e.UnregisterRule("gone"))
	assert.False(t, e.UnregisterRule("gone"))
	assert.Equal(t, 0, e.RuleCount())
}

func TestDefaultRulesCannotBeShadowed(t *testing.T) {
	e := NewEngine()
	err := e.RegisterRule(staticRule("secret-detection", 1, nil))
	assert.Error(t, err, "built-in rule ids are reserved")
}

func TestReplaceSource(t *testing.T) {
	e := NewEngine(WithoutDefaults())
	require.NoError(t, e.RegisterRule(staticRule("manual", 1, nil)))

	source := "file:/tmp/custom.yaml"
	require.NoError(t, e.ReplaceSource(source, []Rule{
		staticRule("file-a", 10, nil),
		staticRule("file-b", 20, nil),
	}))
	assert.Equal(t, 3, e.RuleCount())

	// Reload replaces only the file's rules.
	require.NoError(t, e.ReplaceSource(source, []Rule{
		staticRule("file-c", 10, nil),
	}))
	assert.Equal(t, 2, e.RuleCount())

	ids := make(map[string]bool)
	for _, r := range e.ListRules() {
		ids[r.ID] = true
	}
	assert.True(t, ids["manual"])
	assert.True(t, ids["file-c"])
	assert.False(t, ids["file-a"])
}

func TestReplaceSourceRejectsCollisions(t *testing.T) {
	e := NewEngine(WithoutDefaults())
	require.NoError(t, e.RegisterRule(staticRule("manual", 1, nil)))

	err := e.ReplaceSource("file:x", []Rule{staticRule("manual", 1, nil)})
	assert.Error(t, err, "file rules must not shadow rules from other sources")

	assert.Error(t, e.ReplaceSource("", nil))
	assert.Error(t, e.ReplaceSource(sourceBuiltin, nil))
}

func TestEvaluateConcurrentWithToggle(t *testing.T) {
	e := NewEngine(WithoutDefaults())
	require.NoError(t, e.RegisterRule(staticRule("flappy", 10, &Result{
		Action:   ActionBlock,
		RuleName: "flappy",
		Reason:   "blocked",
	})))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			e.ToggleRule("flappy", i%2 == 0)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = e.DryRun("Bash", map[string]any{"command": "ls"}, nil)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = e.ListRules()
		}
	}()
	wg.Wait()
}
