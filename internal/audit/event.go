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

// Package audit provides a tamper-evident trail of hook dispatches.
//
// Every dispatch can be recorded as an Event with a cryptographic hash
// chain. Each event's hash includes the previous event's hash, creating an
// append-only chain where any tampering is detectable.
package audit

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Event records one hook dispatch.
//
// Events are written to the audit trail in JSONL format, one per line.
// The hash chain ensures integrity: modifying any event breaks the chain
// for all subsequent events.
type Event struct {
	// ID is a ULID — time-ordered, lexicographically sortable, unique.
	ID string `json:"id"`

	// Timestamp is when the dispatch started (UTC).
	Timestamp time.Time `json:"timestamp"`

	// AgentID identifies the calling agent, if the dispatch was scoped.
	AgentID string `json:"agent_id,omitempty"`

	// TaskID identifies the task, if the dispatch was scoped.
	TaskID string `json:"task_id,omitempty"`

	// HookType is the dispatch's lifecycle type.
	HookType string `json:"hook_type"`

	// Tool is the tool that was intercepted (pre/post-action dispatches).
	Tool string `json:"tool,omitempty"`

	// Trigger is the stop reason (stop dispatches).
	Trigger string `json:"trigger,omitempty"`

	// Decision records the aggregate outcome.
	Decision Decision `json:"decision"`

	// Reports summarizes each handler invocation of the dispatch.
	Reports []ReportSummary `json:"reports,omitempty"`

	// PrevHash is the hash of the preceding event in the chain.
	// Empty string for the first event.
	PrevHash string `json:"prev_hash"`

	// Hash is the SHA-256 hash of this event (excluding the hash field
	// itself). Computed by ComputeHash after all other fields are set.
	Hash string `json:"hash"`
}

// Decision is the dispatch's aggregate outcome, recorded in the event.
type Decision struct {
	// Action is "allow", "warn", or "block".
	Action string `json:"action"`

	// Allowed is false when the dispatch was blocked.
	Allowed bool `json:"allowed"`

	// Violations lists the block findings' messages.
	Violations []string `json:"violations,omitempty"`

	// Warnings lists the warn findings' messages.
	Warnings []string `json:"warnings,omitempty"`

	// EvalTimeUS is the full dispatch duration in microseconds.
	EvalTimeUS int64 `json:"evaluation_time_us"`
}

// ReportSummary condenses one handler invocation for the trail.
type ReportSummary struct {
	// HookID identifies the hook that ran.
	HookID string `json:"hook_id"`

	// Success is false for errored, panicked, or timed-out handlers.
	Success bool `json:"success"`

	// DurationMS is the invocation duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`

	// Error is the failure description, "Timeout" for timeouts.
	Error string `json:"error,omitempty"`
}

// ComputeHash calculates the SHA-256 hash for this event.
//
// The hash covers all fields EXCEPT the Hash field itself, and
// incorporates PrevHash, creating the chain:
//
//	hash(event_N) = SHA-256(prev_hash + json(event_N without hash))
func (e *Event) ComputeHash() error {
	e.Hash = ""

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event for hashing: %w", err)
	}

	payload := append([]byte(e.PrevHash), data...)
	h := sha256.Sum256(payload)
	e.Hash = "sha256:" + hex.EncodeToString(h[:])
	return nil
}

// VerifyHash checks whether the event's hash is correct.
func (e *Event) VerifyHash() (bool, error) {
	expected := e.Hash

	if err := e.ComputeHash(); err != nil {
		return false, err
	}
	computed := e.Hash
	e.Hash = expected

	return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
}
