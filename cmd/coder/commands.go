package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/martinemde/coder/config"
	"github.com/martinemde/coder/logging"
	"github.com/spf13/cobra"
)

// --- Global flags ---
var (
	repoDir     string
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:   "coder",
		Short: "An agent that fixes issues and refactors code",
		Long: `coder converses with a language model to diagnose and fix a reported
issue, or to refactor code, in the repository it is run from. The model reads
and writes files, runs the configured lint, analysis and test commands, and
opens a pull request when it is done.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&repoDir, "repo", "C", ".", "repository root")
	pf.StringVar(&configPath, "config", config.DefaultPath, "config file, relative to the repository root")
	pf.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides logging.level")
	pf.StringVar(&logFormat, "log-format", "", "log format (text, json); overrides logging.format")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	rootCmd.AddCommand(initCmd, indexCmd, fixCmd, refactorCmd, modelsCmd)
}

// repoRoot returns the absolute repository root.
func repoRoot() (string, error) {
	root, err := filepath.Abs(repoDir)
	if err != nil {
		return "", fmt.Errorf("resolving repository root: %w", err)
	}
	return root, nil
}

// resolve joins a repository-relative path onto root.
func resolve(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// newLogger builds the logger from the config, letting flags win. cfg may be
// nil for commands that run before a config exists.
func newLogger(cfg *config.Config) (*slog.Logger, error) {
	level, format := logLevel, logFormat
	if cfg != nil {
		if level == "" {
			level = cfg.Logging.Level
		}
		if format == "" {
			format = cfg.Logging.Format
		}
	}
	lvl, err := logging.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	fmtName, err := logging.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	logger := logging.New(logging.Config{Level: lvl, Format: fmtName, Output: os.Stderr})
	slog.SetDefault(logger)
	return logger, nil
}
