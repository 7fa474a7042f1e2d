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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractStringsNested(t *testing.T) {
	params := map[string]any{
		"command": "rm -rf /",
		"env": map[string]any{
			"TOKEN": "abc123",
			"flags": []any{"-v", "--force"},
		},
		"retries": 3,
		"dry_run": false,
		"empty":   "",
	}

	got := ExtractStrings(params)

	assert.Contains(t, got, "rm -rf /")
	assert.Contains(t, got, "abc123")
	assert.Contains(t, got, "--force")
	assert.Contains(t, got, "3")
	assert.Contains(t, got, "false")
	assert.NotContains(t, got, "")
}

func TestExtractStringsDepthBound(t *testing.T) {
	// Build a payload nested past the depth cap.
	deep := any("needle")
	for i := 0; i < maxExtractDepth+2; i++ {
		deep = map[string]any{"level": deep}
	}

	got := ExtractStrings(map[string]any{"payload": deep})
	assert.NotContains(t, got, "needle", "values past the depth cap are not scanned")
}

func TestJoinedTextScansAcrossFields(t *testing.T) {
	text := JoinedText(map[string]any{
		"file_path": "config.ts",
		"content":   "const x = 1;",
	})
	assert.Contains(t, text, "config.ts")
	assert.Contains(t, text, "const x = 1;")
}

func TestFilePathKeyVariants(t *testing.T) {
	assert.Equal(t, "a.go", FilePath(map[string]any{"file_path": "a.go"}))
	assert.Equal(t, "b.go", FilePath(map[string]any{"path": "b.go"}))
	assert.Equal(t, "nb.ipynb", FilePath(map[string]any{"notebook_path": "nb.ipynb"}))
	assert.Equal(t, "", FilePath(map[string]any{"other": "c.go"}))
	assert.Equal(t, "", FilePath(nil))
}

func TestCommandKeyVariants(t *testing.T) {
	assert.Equal(t, "ls", Command(map[string]any{"command": "ls"}))
	assert.Equal(t, "pwd", Command(map[string]any{"cmd": "pwd"}))
	assert.Equal(t, "make all", Command(map[string]any{"script": "make all"}))
	assert.Equal(t, "", Command(map[string]any{"args": "x"}))
}

func TestContentKeyVariants(t *testing.T) {
	assert.Equal(t, "body", Content(map[string]any{"content": "body"}))
	assert.Equal(t, "patch", Content(map[string]any{"new_string": "patch"}))
	assert.Equal(t, "", Content(map[string]any{}))
}

func TestToolClassification(t *testing.T) {
	for _, tool := range []string{"Write", "Edit", "MultiEdit", "NotebookEdit", "fs.write", "str_replace"} {
		assert.True(t, IsFileWriteTool(tool), tool)
	}
	for _, tool := range []string{"Bash", "Shell", "exec", "shell.exec", "run_command"} {
		assert.True(t, IsCommandExecTool(tool), tool)
	}

	assert.False(t, IsFileWriteTool("Read"))
	assert.False(t, IsCommandExecTool("Write"))
	assert.False(t, IsFileWriteTool("bash"))
}
