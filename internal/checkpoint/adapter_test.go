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

package checkpoint

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peg/bastion/internal/hook"
)

type recordedCheckpoint struct {
	taskID  string
	trigger string
	phase   string
}

type fakeClient struct {
	mu      sync.Mutex
	created []recordedCheckpoint
	err     error
}

func (c *fakeClient) CreateCheckpoint(ctx context.Context, taskID, trigger, phase string, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, recordedCheckpoint{taskID: taskID, trigger: trigger, phase: phase})
	return c.err
}

func (c *fakeClient) all() []recordedCheckpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]recordedCheckpoint(nil), c.created...)
}

func TestAdapterCheckpointsOnStop(t *testing.T) {
	reg := hook.NewRegistry()
	client := &fakeClient{}
	adapter := NewAdapter(client)
	require.NoError(t, adapter.Attach(reg))

	x := hook.NewExecutor(reg)
	res := x.RunStop(context.Background(), hook.CallContext{
		TaskID:  "task-1",
		Trigger: "iteration_complete",
	})

	require.Len(t, res.Reports, 1)
	assert.True(t, res.Reports[0].Success)

	created := client.all()
	require.Len(t, created, 1)
	assert.Equal(t, "task-1", created[0].taskID)
	assert.Equal(t, "iteration_complete", created[0].trigger)
	assert.Equal(t, "stop", created[0].phase)
}

func TestAdapterSkipsUnlistedTriggers(t *testing.T) {
	reg := hook.NewRegistry()
	client := &fakeClient{}
	require.NoError(t, NewAdapter(client).Attach(reg))

	x := hook.NewExecutor(reg)
	x.RunStop(context.Background(), hook.CallContext{
		TaskID:  "task-1",
		Trigger: "user_interrupt",
	})

	assert.Empty(t, client.all())
}

func TestAdapterCheckpointsBeforeMutation(t *testing.T) {
	reg := hook.NewRegistry()
	client := &fakeClient{}
	require.NoError(t, NewAdapter(client).Attach(reg))

	x := hook.NewExecutor(reg)

	res := x.RunPreAction(context.Background(), hook.CallContext{
		Tool:   "Write",
		TaskID: "task-2",
		Input:  map[string]any{"file_path": "main.go"},
	})
	assert.True(t, res.Allowed)

	// Read-only tools do not checkpoint.
	x.RunPreAction(context.Background(), hook.CallContext{Tool: "Read", TaskID: "task-2"})

	created := client.all()
	require.Len(t, created, 1)
	assert.Equal(t, "pre_mutation", created[0].trigger)
	assert.Equal(t, "Write", created[0].phase)
}

func TestAdapterFailuresNeverBlock(t *testing.T) {
	reg := hook.NewRegistry()
	client := &fakeClient{err: errors.New("store unavailable")}
	require.NoError(t, NewAdapter(client).Attach(reg))

	x := hook.NewExecutor(reg)

	pre := x.RunPreAction(context.Background(), hook.CallContext{Tool: "Bash", TaskID: "task-3"})
	assert.True(t, pre.Allowed, "checkpoint failure must not block the call")

	stop := x.RunStop(context.Background(), hook.CallContext{TaskID: "task-3", Trigger: "task_complete"})
	for _, report := range stop.Reports {
		if !report.Success {
			t.Errorf("stop hook reported failure for a swallowed checkpoint error: %+v", report)
		}
	}
}

func TestAdapterDetach(t *testing.T) {
	reg := hook.NewRegistry()
	client := &fakeClient{}
	adapter := NewAdapter(client)
	require.NoError(t, adapter.Attach(reg))

	adapter.Detach(reg)

	x := hook.NewExecutor(reg)
	x.RunStop(context.Background(), hook.CallContext{TaskID: "task-4", Trigger: "task_complete"})
	x.RunPreAction(context.Background(), hook.CallContext{Tool: "Write", TaskID: "task-4"})

	assert.Empty(t, client.all())
}
