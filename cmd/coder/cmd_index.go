package main

import (
	"fmt"

	"github.com/martinemde/coder/vcs"
	"github.com/martinemde/coder/workspace"
	"github.com/spf13/cobra"
)

var indexMaxFileSize int64

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Snapshot the repository tree and file contents into .coder/index.yaml",
	Long: `Snapshot the repository for the agent. Every file git tracks or would
track (honouring .gitignore) is captured, except binary and oversized files.
Run it again whenever the repository changes outside of coder.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().Int64Var(&indexMaxFileSize, "max-file-size", workspace.DefaultMaxFileSize, "skip files larger than this many bytes")
}

func runIndex(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(nil)
	if err != nil {
		return err
	}
	root, err := repoRoot()
	if err != nil {
		return err
	}

	repo := vcs.NewRepository(root, logger)
	snap, err := workspace.Build(cmd.Context(), root, repo, workspace.BuildOptions{
		MaxFileSize: indexMaxFileSize,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	path := resolve(root, workspace.DefaultPath)
	if err := snap.SaveTo(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d files into %s\n", len(snap.Content), path)
	return nil
}
