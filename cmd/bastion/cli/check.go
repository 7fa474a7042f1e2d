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

	"github.com/spf13/cobra"

	"github.com/peg/bastion/internal/rules"
	"github.com/peg/bastion/rulesets"
)

// errBlocked maps a blocked check to exit code 2, so scripts can
// distinguish "blocked" from "broken".
type errBlocked struct {
	findings []rules.Result
}

func (e *errBlocked) Error() string {
	if len(e.findings) == 0 {
		return "blocked"
	}
	return fmt.Sprintf("blocked by %s: %s", e.findings[0].RuleName, e.findings[0].Reason)
}

func (e *errBlocked) ExitCode() int { return 2 }

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var tool string
	var command string
	var filePath string
	var content string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Screen a hypothetical tool call against the security rules",
		Example: `  bastion check --tool Bash --command "rm -rf /"
  bastion check --tool Write --file config.ts --content 'const key = "sk-..."'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := buildEngine(opts)
			if err != nil {
				return err
			}

			params := map[string]any{}
			if command != "" {
				params["command"] = command
			}
			if filePath != "" {
				params["file_path"] = filePath
			}
			if content != "" {
				params["content"] = content
			}

			eval := engine.DryRun(tool, params, nil)

			out := cmd.OutOrStdout()
			for _, v := range eval.Violations {
				fmt.Fprintf(out, "BLOCK %s [%s]: %s\n", v.RuleName, v.Severity, v.Reason)
				if v.Recommendation != "" {
					fmt.Fprintf(out, "      %s\n", v.Recommendation)
				}
			}
			for _, w := range eval.Warnings {
				fmt.Fprintf(out, "WARN  %s [%s]: %s\n", w.RuleName, w.Severity, w.Reason)
			}

			if !eval.Allowed {
				return &errBlocked{findings: eval.Violations}
			}

			fmt.Fprintf(out, "allow: %s (%d rules, %s)\n", tool, engine.RuleCount(), eval.ExecutionTime)
			return nil
		},
	}

	cmd.Flags().StringVar(&tool, "tool", "Bash", "Tool name of the hypothetical call")
	cmd.Flags().StringVar(&command, "command", "", "Shell command parameter")
	cmd.Flags().StringVar(&filePath, "file", "", "File path parameter")
	cmd.Flags().StringVar(&content, "content", "", "File content parameter")

	return cmd
}

// buildEngine assembles a rule engine from the defaults plus the
// profile and custom rules file named by the root flags.
func buildEngine(opts *rootOptions) (*rules.Engine, error) {
	engine := rules.NewEngine()

	if opts.profile != "" {
		data, err := rulesets.Profile(opts.profile)
		if err != nil {
			return nil, err
		}
		profileRules, err := rules.ParseCustom(data)
		if err != nil {
			return nil, fmt.Errorf("cli: parse profile %s: %w", opts.profile, err)
		}
		for _, r := range profileRules {
			if err := engine.RegisterRule(r); err != nil {
				return nil, fmt.Errorf("cli: register profile rule %s: %w", r.ID, err)
			}
		}
	}

	if opts.rulesFile != "" {
		store := rules.NewFileStore(opts.rulesFile)
		if err := rules.LoadInto(engine, store); err != nil {
			return nil, err
		}
	}

	return engine, nil
}
