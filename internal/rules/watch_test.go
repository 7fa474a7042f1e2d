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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleDoc(id, pattern string) string {
	return fmt.Sprintf(`version: "1"
rules:
  - id: %s
    target: command
    action: block
    severity: critical
    patterns:
      - '%s'
    message: "blocked by %s"
`, id, pattern, id)
}

func waitForRule(t *testing.T, e *Engine, id string, deadline time.Duration) bool {
	t.Helper()
	stop := time.Now().Add(deadline)
	for time.Now().Before(stop) {
		for _, r := range e.ListRules() {
			if r.ID == id {
				return true
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

func TestWatchReloadsRuleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ruleDoc("first", `\bfoo\b`)), 0o644))

	engine := NewEngine(WithoutDefaults())
	store := NewFileStore(path)
	require.NoError(t, LoadInto(engine, store))
	require.Equal(t, 1, engine.RuleCount())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, engine, store, nil)
	}()

	// Give the watcher a moment to establish before the first rewrite.
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(ruleDoc("second", `\bbar\b`)), 0o644))
	assert.True(t, waitForRule(t, engine, "second", 5*time.Second), "reload should pick up the new rule")
	assert.Equal(t, 1, engine.RuleCount(), "reload replaces, not appends")

	eval := engine.DryRun("Bash", map[string]any{"command": "echo bar"}, nil)
	assert.False(t, eval.Allowed)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop on cancel")
	}
}

func TestWatchKeepsRulesOnBrokenWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(ruleDoc("steady", `\bfoo\b`)), 0o644))

	engine := NewEngine(WithoutDefaults())
	store := NewFileStore(path)
	require.NoError(t, LoadInto(engine, store))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = Watch(ctx, engine, store, nil) }()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("{{{{ not yaml"), 0o644))

	// The broken write is rejected after the settle delay; the previous
	// rule set must stay active throughout.
	time.Sleep(time.Second)
	assert.Equal(t, 1, engine.RuleCount())
	eval := engine.DryRun("Bash", map[string]any{"command": "echo foo"}, nil)
	assert.False(t, eval.Allowed)
}
