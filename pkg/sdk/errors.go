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

// Package sdk provides the public API for integrating Bastion into
// agent runtimes.
//
// The SDK wraps tool functions with lifecycle hooks and security
// screening. When a wrapped function is called, Bastion dispatches the
// call through the registered pre-action hooks (the built-in security
// screen included) and either lets it proceed or returns an error.
//
// Basic usage:
//
//	b, _ := sdk.New()
//	safeExec := b.Wrap("Bash", unsafeExec)
//	result, err := safeExec(ctx, map[string]any{"command": "git push"})
//	// If denied: err is *ErrDenied
package sdk

import "fmt"

// ErrDenied is returned when a tool call is blocked by a hook.
type ErrDenied struct {
	// Tool is the tool that was blocked (e.g. "Bash").
	Tool string

	// HookID identifies the hook that denied the call.
	HookID string

	// Message is a human-readable reason for the denial.
	Message string
}

// Error implements the error interface.
func (e *ErrDenied) Error() string {
	if e.HookID != "" {
		return fmt.Sprintf("bastion: denied %q by hook %q: %s", e.Tool, e.HookID, e.Message)
	}
	return fmt.Sprintf("bastion: denied %q: %s", e.Tool, e.Message)
}
