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

// Package checkpoint attaches task-state snapshotting to the hook
// lifecycle. A checkpoint client is driven from stop and pre-action
// hooks; checkpoint failures are logged and never affect dispatch
// outcomes.
package checkpoint

import (
	"context"
	"log/slog"

	"github.com/peg/bastion/internal/hook"
)

// Client persists a task checkpoint. Implementations talk to whatever
// store the host uses; the adapter never interprets the payload.
type Client interface {
	CreateCheckpoint(ctx context.Context, taskID, trigger, phase string, payload map[string]any) error
}

// Adapter wires a checkpoint client into a hook registry.
type Adapter struct {
	client Client
	logger *slog.Logger

	stopHookID string
	preHookID  string
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAdapter creates a checkpoint adapter around client.
func NewAdapter(client Client, opts ...Option) *Adapter {
	a := &Adapter{
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Attach registers the adapter's hooks on reg: a stop hook that
// checkpoints when an iteration completes, and a pre-action hook that
// checkpoints before state-mutating tools run. Both hooks always allow.
func (a *Adapter) Attach(reg *hook.Registry) error {
	stop, err := reg.Register(hook.Definition{
		Name:     "checkpoint-on-stop",
		Type:     hook.TypeStop,
		Priority: 1,
		Triggers: []string{"iteration_complete", "task_complete"},
		Handler:  a.onStop,
	}, hook.ScopeGlobal, "", "")
	if err != nil {
		return err
	}
	a.stopHookID = stop.HookID

	pre, err := reg.Register(hook.Definition{
		Name:         "checkpoint-before-mutation",
		Type:         hook.TypePreAction,
		Priority:     2,
		ToolPatterns: []string{"Write", "Edit", "MultiEdit", "NotebookEdit", "Bash"},
		Handler:      a.onPreAction,
	}, hook.ScopeGlobal, "", "")
	if err != nil {
		reg.Unregister(a.stopHookID, hook.TypeStop)
		return err
	}
	a.preHookID = pre.HookID

	return nil
}

// Detach removes the adapter's hooks from reg.
func (a *Adapter) Detach(reg *hook.Registry) {
	if a.stopHookID != "" {
		reg.Unregister(a.stopHookID, hook.TypeStop)
		a.stopHookID = ""
	}
	if a.preHookID != "" {
		reg.Unregister(a.preHookID, hook.TypePreAction)
		a.preHookID = ""
	}
}

func (a *Adapter) onStop(ctx context.Context, call hook.CallContext) (hook.Result, error) {
	payload := map[string]any{
		"agent_id": call.AgentID,
	}
	for k, v := range call.Metadata {
		payload[k] = v
	}

	if err := a.client.CreateCheckpoint(ctx, call.TaskID, call.Trigger, "stop", payload); err != nil {
		a.logger.Warn("checkpoint: stop checkpoint failed",
			"task_id", call.TaskID,
			"trigger", call.Trigger,
			"error", err,
		)
	}
	return hook.Result{Verdict: hook.VerdictAllow}, nil
}

func (a *Adapter) onPreAction(ctx context.Context, call hook.CallContext) (hook.Result, error) {
	payload := map[string]any{
		"agent_id": call.AgentID,
		"tool":     call.Tool,
	}

	if err := a.client.CreateCheckpoint(ctx, call.TaskID, "pre_mutation", call.Tool, payload); err != nil {
		a.logger.Warn("checkpoint: pre-action checkpoint failed",
			"task_id", call.TaskID,
			"tool", call.Tool,
			"error", err,
		)
	}
	return hook.Result{Verdict: hook.VerdictAllow}, nil
}
