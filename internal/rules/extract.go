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
	"strconv"
	"strings"
)

// Tool classification is by explicit allow-list: rules only fire for the
// classification they target. Everything not listed is neither a
// file-write nor a command-execution tool and passes through untouched.
var (
	fileWriteTools = map[string]bool{
		"Write":        true,
		"Edit":         true,
		"MultiEdit":    true,
		"NotebookEdit": true,
		"write":        true,
		"write_file":   true,
		"create_file":  true,
		"edit_file":    true,
		"fs.write":     true,
		"str_replace":  true,
		"append_file":  true,
	}

	commandExecTools = map[string]bool{
		"Bash":        true,
		"Shell":       true,
		"exec":        true,
		"shell.exec":  true,
		"run_command": true,
		"run_shell":   true,
		"execute":     true,
	}
)

// IsFileWriteTool reports whether tool writes file content.
func IsFileWriteTool(tool string) bool {
	return fileWriteTools[tool]
}

// IsCommandExecTool reports whether tool executes shell commands.
func IsCommandExecTool(tool string) bool {
	return commandExecTools[tool]
}

const maxExtractDepth = 8

// ExtractStrings walks a tool-input payload depth-first and collects every
// string value it contains, including strings nested in maps and slices.
// Numbers and booleans are rendered too, so patterns like "chmod 777" fire
// even when arguments arrive as separate typed values. Depth is bounded to
// keep hostile payloads from recursing forever.
func ExtractStrings(params map[string]any) []string {
	var out []string
	for _, v := range params {
		out = extractValue(v, out, 0)
	}
	return out
}

func extractValue(v any, out []string, depth int) []string {
	if depth > maxExtractDepth {
		return out
	}
	switch typed := v.(type) {
	case string:
		if typed != "" {
			out = append(out, typed)
		}
	case []any:
		for _, item := range typed {
			out = extractValue(item, out, depth+1)
		}
	case map[string]any:
		for _, item := range typed {
			out = extractValue(item, out, depth+1)
		}
	case float64:
		out = append(out, strconv.FormatFloat(typed, 'f', -1, 64))
	case int:
		out = append(out, strconv.Itoa(typed))
	case bool:
		out = append(out, strconv.FormatBool(typed))
	}
	return out
}

// JoinedText returns all extracted strings joined for regex scanning.
func JoinedText(params map[string]any) string {
	return strings.Join(ExtractStrings(params), "\n")
}

// FilePath extracts the target path from a file-write payload. The key
// varies by host runtime, so several spellings are checked.
func FilePath(params map[string]any) string {
	for _, key := range []string{"file_path", "path", "filename", "file", "notebook_path"} {
		if p, ok := params[key].(string); ok && p != "" {
			return p
		}
	}
	return ""
}

// Content extracts the written content from a file-write payload.
func Content(params map[string]any) string {
	for _, key := range []string{"content", "new_string", "new_str", "text", "new_source"} {
		if c, ok := params[key].(string); ok && c != "" {
			return c
		}
	}
	return ""
}

// Command extracts the command string from a command-execution payload.
func Command(params map[string]any) string {
	for _, key := range []string{"command", "cmd", "script"} {
		if c, ok := params[key].(string); ok && c != "" {
			return c
		}
	}
	return ""
}
