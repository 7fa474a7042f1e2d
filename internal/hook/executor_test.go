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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRegister(t *testing.T, r *Registry, def Definition) {
	t.Helper()
	_, err := r.Register(def, ScopeGlobal, "", "")
	require.NoError(t, err)
}

func TestPreActionExecutionOrder(t *testing.T) {
	r := NewRegistry()
	var order []string

	record := func(id string) Handler {
		return func(ctx context.Context, call CallContext) (Result, error) {
			order = append(order, id)
			return Result{Verdict: VerdictAllow}, nil
		}
	}

	mustRegister(t, r, Definition{ID: "third", Name: "third", Type: TypePreAction, Priority: 5, Handler: record("third")})
	mustRegister(t, r, Definition{ID: "first", Name: "first", Type: TypePreAction, Priority: 1, Handler: record("first")})
	mustRegister(t, r, Definition{ID: "second", Name: "second", Type: TypePreAction, Priority: 3, Handler: record("second")})

	x := NewExecutor(r)
	res := x.RunPreAction(context.Background(), CallContext{Tool: "Bash"})

	assert.True(t, res.Allowed)
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Len(t, res.Reports, 3)
}

func TestPreActionDenyStopsIteration(t *testing.T) {
	r := NewRegistry()
	laterRan := false

	mustRegister(t, r, Definition{
		ID: "denier", Name: "denier", Type: TypePreAction, Priority: 1,
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			return Result{Verdict: VerdictDeny, Message: "not allowed"}, nil
		},
	})
	mustRegister(t, r, Definition{
		ID: "later", Name: "later", Type: TypePreAction, Priority: 2,
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			laterRan = true
			return Result{Verdict: VerdictAllow}, nil
		},
	})

	x := NewExecutor(r)
	res := x.RunPreAction(context.Background(), CallContext{Tool: "Bash"})

	assert.False(t, res.Allowed)
	assert.Equal(t, ActionBlock, res.Action)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "denier", res.Violations[0].HookID)
	assert.Equal(t, "not allowed", res.Violations[0].Message)
	assert.False(t, laterRan, "hooks after a deny must not be invoked")
	assert.Len(t, res.Reports, 1)
}

func TestPreActionToolPatternFilter(t *testing.T) {
	r := NewRegistry()
	invocations := 0

	mustRegister(t, r, Definition{
		ID: "writes-only", Name: "writes-only", Type: TypePreAction,
		ToolPatterns: []string{"Write", "Edit", "mcp__*"},
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			invocations++
			return Result{Verdict: VerdictAllow}, nil
		},
	})

	x := NewExecutor(r)
	x.RunPreAction(context.Background(), CallContext{Tool: "Bash"})
	x.RunPreAction(context.Background(), CallContext{Tool: "Write"})
	x.RunPreAction(context.Background(), CallContext{Tool: "mcp__fs__write_file"})

	assert.Equal(t, 2, invocations)
}

func TestHandlerErrorDowngradesToWarning(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Definition{
		ID: "broken", Name: "broken", Type: TypePreAction,
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			return Result{}, errors.New("backend unavailable")
		},
	})

	x := NewExecutor(r)
	res := x.RunPreAction(context.Background(), CallContext{Tool: "Bash"})

	assert.True(t, res.Allowed, "a broken hook must not block")
	assert.Equal(t, ActionWarn, res.Action)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "backend unavailable")
	require.Len(t, res.Reports, 1)
	assert.False(t, res.Reports[0].Success)
}

func TestHandlerPanicDowngradesToWarning(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Definition{
		ID: "panicky", Name: "panicky", Type: TypePreAction,
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			panic("boom")
		},
	})

	x := NewExecutor(r)
	res := x.RunPreAction(context.Background(), CallContext{Tool: "Bash"})

	assert.True(t, res.Allowed)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Message, "panic")
}

func TestHandlerTimeout(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Definition{
		ID: "slow", Name: "slow", Type: TypePreAction, Timeout: 50 * time.Millisecond,
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			select {
			case <-time.After(5 * time.Second):
				return Result{Verdict: VerdictDeny}, nil
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		},
	})

	x := NewExecutor(r)
	start := time.Now()
	res := x.RunPreAction(context.Background(), CallContext{Tool: "Bash"})
	elapsed := time.Since(start)

	assert.True(t, res.Allowed, "a timed-out hook must not block")
	assert.Less(t, elapsed, 2*time.Second, "dispatch must not wait out the slow handler")
	require.Len(t, res.Reports, 1)
	assert.Equal(t, "Timeout", res.Reports[0].Err)
	assert.False(t, res.Reports[0].Success)
}

func TestParentCancellationIsNotATimeout(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Definition{
		ID: "blocked", Name: "blocked", Type: TypePreAction, Timeout: 10 * time.Second,
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			time.Sleep(5 * time.Second)
			return Result{Verdict: VerdictAllow}, nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	x := NewExecutor(r)
	start := time.Now()
	res := x.RunPreAction(ctx, CallContext{Tool: "Bash"})

	assert.True(t, res.Allowed, "a cancelled dispatch must not block")
	assert.Less(t, time.Since(start), 2*time.Second)
	require.Len(t, res.Reports, 1)
	assert.Equal(t, "Canceled", res.Reports[0].Err, "host cancellation must not be reported as a hook timeout")
	assert.False(t, res.Reports[0].Success)
}

func TestPostActionOnErrorOnly(t *testing.T) {
	r := NewRegistry()
	seen := 0

	mustRegister(t, r, Definition{
		ID: "on-error", Name: "on-error", Type: TypePostAction, OnErrorOnly: true,
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			seen++
			return Result{Verdict: VerdictAllow}, nil
		},
	})

	x := NewExecutor(r)
	x.RunPostAction(context.Background(), CallContext{Tool: "Bash"})
	assert.Equal(t, 0, seen)

	x.RunPostAction(context.Background(), CallContext{Tool: "Bash", CallError: "exit status 1"})
	assert.Equal(t, 1, seen)
}

func TestPromptBlockStillCollectsRemaining(t *testing.T) {
	r := NewRegistry()

	mustRegister(t, r, Definition{
		ID: "blocker", Name: "blocker", Type: TypePromptSubmitted, Priority: 1,
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			return Result{Verdict: VerdictDeny, Message: "off limits"}, nil
		},
	})
	mustRegister(t, r, Definition{
		ID: "injector", Name: "injector", Type: TypePromptSubmitted, Priority: 2,
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			return Result{Verdict: VerdictAllow, Inject: "project context", Skills: []string{"search"}}, nil
		},
	})

	x := NewExecutor(r)
	res := x.RunPromptSubmitted(context.Background(), CallContext{Prompt: "delete everything"})

	assert.False(t, res.Proceed)
	assert.Equal(t, ActionBlock, res.Action)
	assert.Equal(t, []string{"project context"}, res.Injections, "later hooks still run after a block")
	assert.Equal(t, []string{"search"}, res.Skills)
}

func TestPromptSkillDeduplication(t *testing.T) {
	r := NewRegistry()

	mk := func(id string, priority int, skills ...string) Definition {
		return Definition{
			ID: id, Name: id, Type: TypePromptSubmitted, Priority: priority,
			Handler: func(ctx context.Context, call CallContext) (Result, error) {
				return Result{Verdict: VerdictAllow, Skills: skills}, nil
			},
		}
	}
	mustRegister(t, r, mk("a", 1, "review", "search"))
	mustRegister(t, r, mk("b", 2, "search", "plan"))

	x := NewExecutor(r)
	res := x.RunPromptSubmitted(context.Background(), CallContext{Prompt: "hello"})

	assert.Equal(t, []string{"review", "search", "plan"}, res.Skills)
}

func TestPromptPatternAndCommandFilters(t *testing.T) {
	r := NewRegistry()
	matched := 0

	mustRegister(t, r, Definition{
		ID: "deploy-watch", Name: "deploy-watch", Type: TypePromptSubmitted,
		PromptPatterns: []string{`(?i)\bdeploy\b`},
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			matched++
			return Result{Verdict: VerdictAllow}, nil
		},
	})
	mustRegister(t, r, Definition{
		ID: "cmd-only", Name: "cmd-only", Type: TypePromptSubmitted,
		Commands: []string{"release"},
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			matched += 10
			return Result{Verdict: VerdictAllow}, nil
		},
	})

	x := NewExecutor(r)

	x.RunPromptSubmitted(context.Background(), CallContext{Prompt: "Deploy to staging"})
	assert.Equal(t, 1, matched)

	x.RunPromptSubmitted(context.Background(), CallContext{Prompt: "run it", Command: "release"})
	assert.Equal(t, 11, matched)

	x.RunPromptSubmitted(context.Background(), CallContext{Prompt: "refactor parser"})
	assert.Equal(t, 11, matched)
}

func TestStopTriggerFilter(t *testing.T) {
	r := NewRegistry()
	var triggers []string

	mustRegister(t, r, Definition{
		ID: "on-complete", Name: "on-complete", Type: TypeStop,
		Triggers: []string{"task_complete"},
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			triggers = append(triggers, call.Trigger)
			return Result{Verdict: VerdictAllow}, nil
		},
	})

	x := NewExecutor(r)
	x.RunStop(context.Background(), CallContext{Trigger: "task_complete"})
	x.RunStop(context.Background(), CallContext{Trigger: "user_interrupt"})

	assert.Equal(t, []string{"task_complete"}, triggers)
}

func TestStopRunOnFailure(t *testing.T) {
	r := NewRegistry()
	ran := map[string]int{}

	mk := func(id string, runOnFailure bool) Definition {
		return Definition{
			ID: id, Name: id, Type: TypeStop, RunOnFailure: runOnFailure,
			Handler: func(ctx context.Context, call CallContext) (Result, error) {
				ran[id]++
				return Result{Verdict: VerdictAllow}, nil
			},
		}
	}
	mustRegister(t, r, mk("normal", false))
	mustRegister(t, r, mk("cleanup", true))

	x := NewExecutor(r)

	x.RunStop(context.Background(), CallContext{Trigger: "task_complete"})
	assert.Equal(t, 1, ran["normal"])
	assert.Equal(t, 1, ran["cleanup"])

	x.RunStop(context.Background(), CallContext{Trigger: "task_complete", CallError: "tool crashed"})
	assert.Equal(t, 1, ran["normal"], "failure stops skip hooks without RunOnFailure")
	assert.Equal(t, 2, ran["cleanup"])
}

func TestStopHandlerFailureIsBestEffort(t *testing.T) {
	r := NewRegistry()
	secondRan := false

	mustRegister(t, r, Definition{
		ID: "failing", Name: "failing", Type: TypeStop, Priority: 1,
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			return Result{}, errors.New("flush failed")
		},
	})
	mustRegister(t, r, Definition{
		ID: "after", Name: "after", Type: TypeStop, Priority: 2,
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			secondRan = true
			return Result{Verdict: VerdictAllow}, nil
		},
	})

	x := NewExecutor(r)
	res := x.RunStop(context.Background(), CallContext{Trigger: "task_complete"})

	assert.True(t, secondRan)
	require.Len(t, res.Reports, 2)
	assert.False(t, res.Reports[0].Success)
	assert.True(t, res.Reports[1].Success)
}

func TestAgentScopedDispatch(t *testing.T) {
	r := NewRegistry()
	var agents []string

	_, err := r.Register(Definition{
		ID: "agent-a-hook", Name: "agent-a-hook", Type: TypePreAction,
		Handler: func(ctx context.Context, call CallContext) (Result, error) {
			agents = append(agents, call.AgentID)
			return Result{Verdict: VerdictAllow}, nil
		},
	}, ScopeAgent, "A", "")
	require.NoError(t, err)

	x := NewExecutor(r)
	x.RunPreAction(context.Background(), CallContext{Tool: "Bash", AgentID: "A"})
	x.RunPreAction(context.Background(), CallContext{Tool: "Bash", AgentID: "B"})
	x.RunPreAction(context.Background(), CallContext{Tool: "Bash"})

	assert.Equal(t, []string{"A"}, agents)
}
