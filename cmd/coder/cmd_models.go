package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/martinemde/coder/unifiedllm"
	"github.com/spf13/cobra"
)

var modelsProvider string

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models coder knows about",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return printModels(cmd.OutOrStdout(), unifiedllm.ListModels(modelsProvider))
	},
}

func init() {
	modelsCmd.Flags().StringVar(&modelsProvider, "provider", "", "only list models from this provider")
}

func printModels(out io.Writer, models []unifiedllm.ModelInfo) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tMODEL\tCONTEXT\tTOOLS\tREASONING")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", m.Provider, m.ID, m.ContextWindow, yesNo(m.SupportsTools), yesNo(m.Reasoning))
	}
	return tw.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
