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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/peg/bastion/internal/metrics"
)

// MaxHooksPerType is the registration ceiling for each lifecycle type.
const MaxHooksPerType = 100

// ErrCapacityExceeded is returned by Register when a type's registration
// count would exceed MaxHooksPerType. It is the only registry error
// surfaced synchronously to callers.
type ErrCapacityExceeded struct {
	Type  Type
	Limit int
}

func (e *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("hook: registration capacity exceeded for type %s (limit %d)", e.Type, e.Limit)
}

// entry is a Definition plus registration metadata. Entries are owned
// exclusively by the registry; reads hand out copies, never pointers.
type entry struct {
	def          Definition
	scope        Scope
	agentID      string
	taskID       string
	registeredAt time.Time
	seq          uint64
}

// ScopeFilter narrows ListApplicable to a dispatch's agent and task.
type ScopeFilter struct {
	AgentID string
	TaskID  string
}

// Summary describes one registered hook for listings.
type Summary struct {
	ID           string
	Name         string
	Type         Type
	Scope        Scope
	AgentID      string
	TaskID       string
	Enabled      bool
	Priority     int
	Timeout      time.Duration
	RegisteredAt time.Time
}

// Registration is returned by Register.
type Registration struct {
	HookID       string
	RegisteredAt time.Time
	Scope        Scope
	Active       bool
}

// Registry stores hook definitions keyed by type and id.
//
// All mutation is local, synchronous, and in-process; reads take the
// shared lock so dispatch never blocks behind other readers.
type Registry struct {
	mu      sync.RWMutex
	entries map[Type]map[string]*entry
	nextSeq uint64
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	entries := make(map[Type]map[string]*entry, len(Types))
	for _, t := range Types {
		entries[t] = make(map[string]*entry)
		metrics.SetRegisteredHooks(string(t), 0)
	}
	return &Registry{entries: entries}
}

// Register adds a hook definition under the given scope. A generated ULID
// id is assigned when the definition has none. Agent- and task-scoped
// registrations record their binding ids; global registrations ignore them.
func (r *Registry) Register(def Definition, scope Scope, agentID, taskID string) (Registration, error) {
	if err := (&def).validate(); err != nil {
		return Registration{}, err
	}
	switch scope {
	case ScopeGlobal, ScopeAgent, ScopeTask:
	case "":
		scope = ScopeGlobal
	default:
		return Registration{}, fmt.Errorf("hook: unknown scope %q", scope)
	}
	if scope == ScopeAgent && agentID == "" {
		return Registration{}, fmt.Errorf("hook: agent-scoped registration requires an agent id")
	}
	if scope == ScopeTask && taskID == "" {
		return Registration{}, fmt.Errorf("hook: task-scoped registration requires a task id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.entries[def.Type]
	if len(byID) >= MaxHooksPerType {
		return Registration{}, &ErrCapacityExceeded{Type: def.Type, Limit: MaxHooksPerType}
	}

	if def.ID == "" {
		def.ID = strings.ToLower(string(def.Type)) + "-" + ulid.Make().String()
	}
	if _, exists := byID[def.ID]; exists {
		return Registration{}, fmt.Errorf("hook: id %q already registered for type %s", def.ID, def.Type)
	}

	r.nextSeq++
	e := &entry{
		def:          def,
		scope:        scope,
		registeredAt: time.Now().UTC(),
		seq:          r.nextSeq,
	}
	if scope == ScopeAgent {
		e.agentID = agentID
	}
	if scope == ScopeTask {
		e.taskID = taskID
	}
	byID[def.ID] = e
	metrics.SetRegisteredHooks(string(def.Type), len(byID))

	return Registration{
		HookID:       def.ID,
		RegisteredAt: e.registeredAt,
		Scope:        scope,
		Active:       def.IsEnabled(),
	}, nil
}

// Unregister removes a hook. Returns true if it existed.
func (r *Registry) Unregister(hookID string, t Type) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.entries[t]
	if !ok {
		return false
	}
	if _, found := byID[hookID]; !found {
		return false
	}
	delete(byID, hookID)
	metrics.SetRegisteredHooks(string(t), len(byID))
	return true
}

// Toggle enables or disables a hook in place. Returns true if it existed.
func (r *Registry) Toggle(hookID string, t Type, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.entries[t]
	if !ok {
		return false
	}
	e, found := byID[hookID]
	if !found {
		return false
	}
	e.def.Enabled = &enabled
	return true
}

// ListApplicable returns the enabled hooks of the given type that apply to
// the dispatch's scope, sorted ascending by effective priority with ties
// broken by registration order. Definitions are returned by value.
//
// Scope filtering: global hooks always match; agent-scoped hooks match
// only when the dispatch's agent id equals the hook's bound agent id;
// task-scoped hooks likewise for task ids.
func (r *Registry) ListApplicable(t Type, filter ScopeFilter) []Definition {
	type ranked struct {
		def Definition
		seq uint64
	}

	// Copy definitions while still holding the read lock: Toggle mutates
	// entries in place, so an entry pointer must never outlive the lock.
	r.mu.RLock()
	byID := r.entries[t]
	selected := make([]ranked, 0, len(byID))
	for _, e := range byID {
		if !e.def.IsEnabled() {
			continue
		}
		switch e.scope {
		case ScopeGlobal:
		case ScopeAgent:
			if filter.AgentID == "" || filter.AgentID != e.agentID {
				continue
			}
		case ScopeTask:
			if filter.TaskID == "" || filter.TaskID != e.taskID {
				continue
			}
		}
		selected = append(selected, ranked{def: e.def, seq: e.seq})
	}
	r.mu.RUnlock()

	sort.Slice(selected, func(i, j int) bool {
		pi, pj := selected[i].def.EffectivePriority(), selected[j].def.EffectivePriority()
		if pi != pj {
			return pi < pj
		}
		return selected[i].seq < selected[j].seq
	})

	defs := make([]Definition, len(selected))
	for i, s := range selected {
		defs[i] = s.def
	}
	return defs
}

// Summaries returns one Summary per registered hook across all types,
// sorted by type then registration order.
func (r *Registry) Summaries() []Summary {
	type ranked struct {
		summary Summary
		seq     uint64
	}

	r.mu.RLock()
	var all []ranked
	for _, byID := range r.entries {
		for _, e := range byID {
			all = append(all, ranked{
				summary: Summary{
					ID:           e.def.ID,
					Name:         e.def.Name,
					Type:         e.def.Type,
					Scope:        e.scope,
					AgentID:      e.agentID,
					TaskID:       e.taskID,
					Enabled:      e.def.IsEnabled(),
					Priority:     e.def.EffectivePriority(),
					Timeout:      e.def.EffectiveTimeout(),
					RegisteredAt: e.registeredAt,
				},
				seq: e.seq,
			})
		}
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].summary.Type != all[j].summary.Type {
			return all[i].summary.Type < all[j].summary.Type
		}
		return all[i].seq < all[j].seq
	})

	out := make([]Summary, len(all))
	for i, s := range all {
		out[i] = s.summary
	}
	return out
}

// Stats returns the registration count per hook type.
func (r *Registry) Stats() map[Type]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make(map[Type]int, len(r.entries))
	for t, byID := range r.entries {
		stats[t] = len(byID)
	}
	return stats
}
