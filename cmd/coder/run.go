package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/martinemde/coder/agentloop"
	"github.com/martinemde/coder/config"
	"github.com/martinemde/coder/metrics"
	"github.com/martinemde/coder/scm"
	"github.com/martinemde/coder/unifiedllm"
	"github.com/martinemde/coder/vcs"
	"github.com/martinemde/coder/workspace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

const gatewayProvider = "gateway"

// runWorkflow wires every collaborator for w and drives one session to a
// terminal state. prompt receives the snapshot's project tree.
func runWorkflow(cmd *cobra.Command, w agentloop.Workflow, prompt func(tree string) string) error {
	ctx := cmd.Context()
	root, err := repoRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(resolve(root, configPath))
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	snap, err := workspace.Load(resolve(root, workspace.DefaultPath))
	if err != nil {
		return err
	}

	var tracker scm.Tracker
	if w == agentloop.WorkflowFix {
		if tracker, err = newTracker(cfg, logger); err != nil {
			return err
		}
	}

	client, err := newClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)
	if metricsAddr != "" {
		srv, err := metrics.Listen(metricsAddr, reg, logger)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		go srv.Serve()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	template, err := readIssueTemplate(root, cfg.SCM.IssueTemplate)
	if err != nil {
		return err
	}

	repo := vcs.NewRepository(root, logger)
	registry, err := agentloop.NewToolRegistry(w.Tools())
	if err != nil {
		return err
	}
	lang := cfg.ActiveLanguage()
	executor := agentloop.NewExecutor(agentloop.ExecutorConfig{
		RepositoryPath: root,
		BaseBranch:     cfg.SCM.BaseBranch,
		Remote:         cfg.SCM.Remote,
		IssueTemplate:  template,
		Language:       cfg.Agent.Language,
		Commands: agentloop.LanguageCommands{
			Lint:    lang.Lint,
			Analyse: lang.Analyse,
			Test:    lang.Test,
		},
		RequireValidatedIssue: w == agentloop.WorkflowFix,
	}, tracker, repo, snap, &agentloop.LocalRunner{Timeout: cfg.Agent.SessionTimeout}, logger)

	branch, err := repo.CurrentBranch(ctx)
	if err != nil {
		logger.Warn("could not determine current branch", "error", err)
	}
	env := agentloop.EnvironmentInfo{
		RepositoryPath: root,
		Branch:         branch,
		Model:          cfg.Agent.Model,
		Provider:       cfg.Agent.Provider,
		Language:       cfg.Agent.Language,
		Date:           time.Now(),
	}

	emitter := agentloop.NewEventEmitter(0)
	session, err := agentloop.NewSession(agentloop.SessionConfig{
		SystemPrompt:  agentloop.SystemPrompt(w, env, agentloop.DiscoverProjectDocs(root)),
		InitialPrompt: prompt(snap.Tree),
		Metadata: agentloop.Metadata{
			RepositoryPath:   root,
			Model:            cfg.Agent.Model,
			Provider:         cfg.Agent.Provider,
			MaxTokens:        cfg.Agent.MaxTokens,
			PinSystemMessage: cfg.Agent.PinSystemMessage,
		},
		Timeout:             cfg.Agent.SessionTimeout,
		IterationDelay:      cfg.Agent.IterationDelay,
		MaxIterations:       cfg.Agent.MaxIterations,
		LoopDetection:       cfg.Agent.LoopDetection,
		LoopDetectionWindow: cfg.Agent.LoopDetectionWindow,
	}, client, registry, executor,
		agentloop.WithLogger(logger),
		agentloop.WithMetrics(recorder),
		agentloop.WithEmitter(emitter),
		agentloop.WithFailureHandler(failureDumper(resolve(root, failuresDir), logger)),
	)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		renderEvents(out, emitter.Events())
	}()

	outcome, runErr := session.Run(ctx)
	emitter.Close()
	<-rendered

	if runErr != nil {
		return runErr
	}
	printOutcome(out, outcome)
	return nil
}

func newTracker(cfg *config.Config, logger *slog.Logger) (scm.Tracker, error) {
	token, err := cfg.SCMToken()
	if err != nil {
		return nil, err
	}
	return scm.New(scm.Config{
		Kind:    scm.Kind(cfg.SCM.Kind),
		BaseURL: cfg.SCM.BaseURL,
		Owner:   cfg.SCM.Owner,
		Repo:    cfg.SCM.Repo,
		Token:   token,
		Logger:  logger,
	})
}

// newClient builds the inference client for api.backend.
func newClient(cfg *config.Config, logger *slog.Logger) (*unifiedllm.Client, error) {
	var (
		name    string
		adapter unifiedllm.ProviderAdapter
	)
	switch cfg.API.Backend {
	case "gollm":
		a, err := unifiedllm.NewGollmAdapter(cfg.Agent.Provider, "", unifiedllm.WithGollmModel(cfg.Agent.Model))
		if err != nil {
			return nil, err
		}
		name, adapter = cfg.Agent.Provider, a
	default:
		httpClient := &http.Client{Timeout: cfg.API.RequestTimeout}
		name = gatewayProvider
		adapter = unifiedllm.NewOpenAIAdapter(gatewayProvider, cfg.Secrets.GatewayAPIKey,
			unifiedllm.WithBaseURL(gatewayBaseURL(cfg.API.Endpoint)),
			unifiedllm.WithHTTPClient(httpClient),
			unifiedllm.WithModel(cfg.Agent.Model),
			unifiedllm.WithProviderPrefixedModels(true),
		)
	}
	logger.Debug("inference client configured",
		"backend", cfg.API.Backend,
		"provider", name,
		"token_present", cfg.Secrets.GatewayAPIKey != "")

	opts := []unifiedllm.ClientOption{
		unifiedllm.WithProvider(name, adapter),
		unifiedllm.WithDefaultProvider(name),
		unifiedllm.WithMiddleware(unifiedllm.LoggingMiddleware(logger)),
	}
	if cfg.API.MaxRetries > 0 {
		policy := unifiedllm.DefaultRetryPolicy()
		policy.MaxRetries = cfg.API.MaxRetries
		policy.OnRetry = func(err error, attempt int, delay time.Duration) {
			logger.Warn("retrying inference request", "attempt", attempt, "delay", delay, "error", err)
		}
		opts = append(opts, unifiedllm.WithMiddleware(unifiedllm.RetryMiddleware(policy)))
	}
	return unifiedllm.NewClient(opts...), nil
}

// gatewayBaseURL appends the API version path unless the endpoint has one.
func gatewayBaseURL(endpoint string) string {
	endpoint = strings.TrimRight(endpoint, "/")
	if strings.HasSuffix(endpoint, "/v1") {
		return endpoint
	}
	return endpoint + "/v1"
}

func readIssueTemplate(root, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(resolve(root, path))
	if err != nil {
		return "", fmt.Errorf("reading issue template: %w", err)
	}
	return string(data), nil
}
