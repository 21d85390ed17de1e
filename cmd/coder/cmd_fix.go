package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/martinemde/coder/agentloop"
	"github.com/spf13/cobra"
)

var (
	fixIssue              string
	fixFurtherInstruction string
	refactorFile          string
)

var fixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Fix an issue and open a pull request",
	Example: `  coder fix --issue 42
  coder fix --issue '#42' --further-instruction "the bug is in the parser"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		number, err := parseIssueNumber(fixIssue)
		if err != nil {
			return err
		}
		return runWorkflow(cmd, agentloop.WorkflowFix, func(tree string) string {
			return agentloop.FixPrompt(number, fixFurtherInstruction, tree)
		})
	},
}

var refactorCmd = &cobra.Command{
	Use:   "refactor",
	Short: "Refactor a file, or the whole project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runWorkflow(cmd, agentloop.WorkflowRefactor, func(tree string) string {
			return agentloop.RefactorPrompt(refactorFile, tree)
		})
	},
}

func init() {
	fixCmd.Flags().StringVarP(&fixIssue, "issue", "i", "", "issue number, as 42 or #42")
	fixCmd.Flags().StringVar(&fixFurtherInstruction, "further-instruction", "", "extra guidance for the agent")
	_ = fixCmd.MarkFlagRequired("issue")

	refactorCmd.Flags().StringVar(&refactorFile, "file", "", "file to refactor, relative to the repository root")
}

// parseIssueNumber accepts "42" or "#42".
func parseIssueNumber(s string) (int, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "#")
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("Invalid issue number: %s", s)
	}
	switch {
	case n == 0:
		return 0, errors.New("Issue number cannot be 0")
	case n < 0:
		return 0, errors.New("Issue number cannot be negative")
	}
	return n, nil
}
