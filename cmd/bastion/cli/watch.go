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

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/peg/bastion/internal/watch"
)

func newWatchCmd(_ *rootOptions) *cobra.Command {
	var auditDir string
	var agent string
	var action string
	var tool string
	var hookType string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live TUI feed of dispatch decisions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resolvedDir, err := expandHome(auditDir)
			if err != nil {
				return err
			}
			resolvedDir = filepath.Clean(resolvedDir)

			if err := os.MkdirAll(resolvedDir, 0o700); err != nil {
				return fmt.Errorf("watch: create audit dir: %w", err)
			}

			return watch.Run(cmd.Context(), watch.Config{
				AuditPath: resolvedDir,
				Agent:     agent,
				Action:    action,
				Tool:      tool,
				HookType:  hookType,
				Out:       cmd.OutOrStdout(),
			})
		},
	}

	cmd.Flags().StringVar(&auditDir, "audit-dir", "~/.bastion/audit", "Directory containing audit JSONL files")
	cmd.Flags().StringVar(&agent, "agent", "all", "Filter to a single agent in view")
	cmd.Flags().StringVar(&action, "action", "", "Filter by decision (allow, warn, block)")
	cmd.Flags().StringVar(&tool, "tool", "", "Filter by tool name (e.g. Bash, Write)")
	cmd.Flags().StringVar(&hookType, "type", "", "Filter by lifecycle type (pre_action, post_action, prompt_submitted, stop)")

	return cmd
}

func expandHome(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("watch: audit path is empty")
	}
	if !strings.HasPrefix(trimmed, "~/") && trimmed != "~" {
		return trimmed, nil
	}

	home, err := homeDir()
	if err != nil {
		return "", err
	}
	if trimmed == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(trimmed, "~/")), nil
}

func homeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("watch: resolve home directory: %w", err)
	}
	if strings.TrimSpace(home) == "" {
		return "", fmt.Errorf("watch: home directory is empty")
	}
	return home, nil
}
