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

// Package cli contains bastion command-line subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	rulesFile string
	profile   string
	verbose   bool
}

// Execute runs the bastion CLI command tree.
func Execute() error {
	cmd := NewRootCmd(context.Background(), os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		var ec interface{ ExitCode() int }
		if !errors.As(err, &ec) {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		return err
	}
	return nil
}

// ExitCode returns the process exit code implied by err.
// Non-nil errors default to exit code 1 unless they expose ExitCode().
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var ec interface{ ExitCode() int }
	if errors.As(err, &ec) {
		code := ec.ExitCode()
		if code > 0 {
			return code
		}
	}

	return 1
}

// NewRootCmd builds the bastion root command.
func NewRootCmd(ctx context.Context, outWriter, errWriter io.Writer) *cobra.Command {
	opts := &rootOptions{}
	var showVersion bool
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := &cobra.Command{
		Use:           "bastion",
		Short:         "Tool-call interception and security screening for AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.verbose {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				return writeVersion(cmd.OutOrStdout())
			}
			return cmd.Help()
		},
	}
	cmd.SetContext(ctx)
	cmd.SetOut(outWriter)
	cmd.SetErr(errWriter)

	cmd.PersistentFlags().StringVar(&opts.rulesFile, "rules", "", "Path to a custom rules YAML file")
	cmd.PersistentFlags().StringVar(&opts.profile, "profile", "", "Bundled ruleset profile to load (standard, paranoid)")
	cmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(&showVersion, "version", false, "Print version information and exit")

	const (
		groupRules   = "rules"
		groupRuntime = "runtime"
	)
	cmd.AddGroup(
		&cobra.Group{ID: groupRules, Title: "Rules"},
		&cobra.Group{ID: groupRuntime, Title: "Runtime"},
	)

	versionCmd := newVersionCmd()
	checkCmd := newCheckCmd(opts)
	rulesCmd := newRulesCmd(opts)
	watchCmd := newWatchCmd(opts)
	verifyCmd := newVerifyCmd(opts)

	checkCmd.GroupID = groupRules
	rulesCmd.GroupID = groupRules
	watchCmd.GroupID = groupRuntime
	verifyCmd.GroupID = groupRuntime

	cmd.AddCommand(versionCmd, checkCmd, rulesCmd, watchCmd, verifyCmd)

	return cmd
}
