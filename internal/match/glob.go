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

// Package match provides the glob matching shared by the hook registry's
// tool-name filters and the security rules' path patterns.
package match

import (
	"path/filepath"
	"strings"
)

// Glob reports whether name matches the glob pattern.
//
// This extends filepath.Match with support for "**" (matches any path depth)
// and command-style patterns where spaces separate arguments:
//
//	"git *"        matches "git push", "git push origin main"
//	"fs.*"         matches "fs.read", "fs.write"
//	"**/.ssh/id_*" matches "/home/user/.ssh/id_rsa"
//
// An empty pattern matches nothing. A "*" pattern matches everything.
func Glob(pattern, name string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}

	// Handle "**" as a recursive wildcard.
	// Limit the number of "**" segments to prevent quadratic complexity.
	if strings.Contains(pattern, "**") {
		if strings.Count(pattern, "**") > 3 {
			return false
		}
		return matchDoubleGlob(pattern, name)
	}

	// A trailing "*" should match the rest of the string regardless of
	// slashes or spaces. filepath.Match treats "*" as a single segment glob
	// (no "/" crossing), which breaks patterns like "mcp__*" matching
	// "mcp__filesystem__write_file".
	if strings.HasSuffix(pattern, "*") && !strings.HasSuffix(pattern, "**") {
		prefix := strings.TrimSuffix(pattern, "*")
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}

	// For patterns with leading "*" (e.g. "*credentials*"), use substring
	// matching: split on "*" and verify all parts appear in order.
	// filepath.Match can't handle these because "*" doesn't cross "/".
	if strings.HasPrefix(pattern, "*") {
		return matchWildcardSegments(pattern, name)
	}

	matched, err := filepath.Match(pattern, name)
	if err != nil {
		return false // invalid pattern = no match, not a panic
	}
	return matched
}

// matchDoubleGlob handles "**" patterns by splitting on the first double-star
// and checking prefix matching + recursive suffix matching.
func matchDoubleGlob(pattern, name string) bool {
	parts := strings.SplitN(pattern, "**", 2)
	prefix := parts[0]
	suffix := parts[1]

	if prefix != "" && !strings.HasPrefix(name, prefix) {
		return false
	}

	if suffix == "" {
		return true
	}

	remainder := name
	if prefix != "" {
		remainder = name[len(prefix):]
	}

	if strings.Contains(suffix, "**") {
		for i := 0; i <= len(remainder); i++ {
			if matchDoubleGlob(suffix, remainder[i:]) {
				return true
			}
		}
		return false
	}

	return matchSuffixGlob(suffix, remainder)
}

// matchSuffixGlob checks if any tail of s matches the glob pattern.
// The pattern must not contain "**" (use matchDoubleGlob for that).
func matchSuffixGlob(pattern, s string) bool {
	for i := 0; i <= len(s); i++ {
		if matched, _ := filepath.Match(pattern, s[i:]); matched {
			return true
		}
	}
	return false
}

// matchWildcardSegments handles patterns like "*secrets*.json" by splitting
// on "*" and checking that all non-empty segments appear in order. When the
// pattern does not end in "*", the final segment must anchor at the end of
// the name, so "*.pem" matches "cert.pem" but not "cert.pemfile".
func matchWildcardSegments(pattern, name string) bool {
	parts := strings.Split(pattern, "*")
	if last := parts[len(parts)-1]; last != "" {
		if !strings.HasSuffix(name, last) {
			return false
		}
		name = name[:len(name)-len(last)]
		parts = parts[:len(parts)-1]
	}
	remaining := name
	for _, part := range parts {
		if part == "" {
			continue
		}
		idx := strings.Index(remaining, part)
		if idx < 0 {
			return false
		}
		remaining = remaining[idx+len(part):]
	}
	return true
}

// Any reports whether name matches any of the given glob patterns.
func Any(patterns []string, name string) bool {
	for _, p := range patterns {
		if Glob(p, name) {
			return true
		}
	}
	return false
}

// First returns the first pattern that matches value, or "".
func First(patterns []string, value string) string {
	for _, p := range patterns {
		if Glob(p, value) {
			return p
		}
	}
	return ""
}

// CleanPaths canonicalizes a file path for rule matching. It applies
// filepath.Clean to resolve ".." and "." segments, then attempts
// filepath.EvalSymlinks (falling back to the cleaned path if the file does
// not exist yet), so traversal tricks like "/etc/../etc/shadow" are
// normalized before glob matching. Returns both the cleaned and the
// symlink-resolved forms; on macOS /etc resolves to /private/etc, so
// patterns need to be checked against both.
func CleanPaths(p string) (cleaned string, resolved string) {
	if p == "" {
		return p, p
	}
	cleaned = filepath.Clean(p)
	r, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		return cleaned, cleaned
	}
	return cleaned, r
}
