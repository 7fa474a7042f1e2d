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

	"github.com/peg/bastion/internal/audit"
)

func newVerifyCmd(_ *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <audit-file-or-dir>",
		Short: "Verify the hash chain of an audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := expandHome(args[0])
			if err != nil {
				return err
			}

			info, err := os.Stat(target)
			if err != nil {
				return fmt.Errorf("verify: stat %s: %w", target, err)
			}

			var files []string
			seamChecked := false
			if info.IsDir() {
				files, err = audit.LogFilesInOrder(target)
				if err != nil {
					return fmt.Errorf("verify: list audit files: %w", err)
				}
				// Directory verification walks files in rotation order and
				// checks the seams, so a replaced earlier file is caught.
				seamChecked = true
			} else {
				files = []string{target}
			}
			if len(files) == 0 {
				return fmt.Errorf("verify: no .jsonl files in %s", target)
			}

			out := cmd.OutOrStdout()
			var firstErr error
			prev := ""
			for _, file := range files {
				var count int
				var last string
				if seamChecked {
					count, last, err = audit.VerifyChainFrom(file, prev)
				} else {
					count, err = audit.VerifyChain(file)
				}
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", filepath.Base(file), err)
					if firstErr == nil {
						firstErr = err
					}
					// A broken file leaves no trustworthy hash to seam the
					// next file against.
					prev = ""
					continue
				}
				fmt.Fprintf(out, "OK   %s: %d events\n", filepath.Base(file), count)
				prev = last
			}
			if firstErr != nil {
				return fmt.Errorf("verify: %s", strings.TrimPrefix(firstErr.Error(), "audit: "))
			}
			return nil
		},
	}
}
