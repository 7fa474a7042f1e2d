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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/peg/bastion/internal/rules"
)

func newRulesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage security rules",
	}
	cmd.AddCommand(newRulesListCmd(opts), newRulesLintCmd())
	return cmd
}

func newRulesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the active security rules, highest priority first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			engine, err := buildEngine(opts)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PRIORITY\tID\tENABLED\tDESCRIPTION")
			for _, r := range engine.ListRules() {
				fmt.Fprintf(w, "%d\t%s\t%t\t%s\n", r.Priority, r.ID, r.IsEnabled(), r.Description)
			}
			return w.Flush()
		},
	}
}

func newRulesLintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <rules.yaml>",
		Short: "Validate a custom rules file without loading it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("cli: read rules file: %w", err)
			}
			parsed, err := rules.ParseCustom(data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rules OK\n", args[0], len(parsed))
			return nil
		},
	}
}
