// Package scm talks to the remote issue tracker and source-control service.
// Two backends are provided: GitHub (REST v3) and GitLab (REST v4). Both
// return the same small, sanitized value types so that callers never see
// provider-specific payloads.
package scm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 8 << 20

// Issue is an issue as seen by the agent.
type Issue struct {
	Number int      `json:"number" yaml:"number"`
	Title  string   `json:"title" yaml:"title"`
	Body   string   `json:"body,omitempty" yaml:"body,omitempty"`
	Labels []string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// PullRequestRequest describes a pull (or merge) request to open.
type PullRequestRequest struct {
	Base  string
	Head  string
	Title string
	Body  string
}

// PullRequest is the created pull (or merge) request.
type PullRequest struct {
	Number  int    `json:"number" yaml:"number"`
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	Body    string `json:"body,omitempty" yaml:"body,omitempty"`
	HTMLURL string `json:"url" yaml:"url"`
}

// Tracker is the issue tracker and source-control collaborator.
type Tracker interface {
	GetIssue(ctx context.Context, number int) (*Issue, error)
	CreatePullRequest(ctx context.Context, request PullRequestRequest) (*PullRequest, error)
}

// Kind selects a backend.
type Kind string

const (
	KindGitHub Kind = "github"
	KindGitLab Kind = "gitlab"
)

// Config holds configuration for creating a Tracker.
type Config struct {
	Kind Kind

	// BaseURL is the API root. Defaults to the public service for Kind.
	BaseURL string

	// Owner and Repo identify the repository ("namespace/project" on GitLab).
	Owner string
	Repo  string

	// Token authenticates every request.
	Token string

	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// New creates a Tracker for cfg.Kind.
func New(cfg Config) (Tracker, error) {
	switch cfg.Kind {
	case KindGitHub, "":
		return NewGitHub(cfg)
	case KindGitLab:
		return NewGitLab(cfg)
	default:
		return nil, fmt.Errorf("scm: unsupported kind %q", cfg.Kind)
	}
}

// restClient is the JSON-over-HTTP plumbing shared by both backends.
type restClient struct {
	provider   string
	baseURL    string
	httpClient *http.Client
	headers    func(http.Header)
	logger     *slog.Logger
}

func newRESTClient(provider, defaultBaseURL string, cfg Config, headers func(http.Header)) (*restClient, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("%s: owner and repo are required", provider)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%s: no token configured", provider)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &restClient{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		headers:    headers,
		logger:     logger.With("scm", provider),
	}, nil
}

// do sends a JSON request and decodes a JSON response into result.
// Non-2xx responses are returned as *APIError.
func (c *restClient) do(ctx context.Context, method, path string, requestBody, result any) error {
	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("%s: encoding request body: %w", c.provider, err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	url := c.baseURL + path
	request, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: creating request: %w", c.provider, err)
	}
	c.headers(request.Header)
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("scm request", "method", method, "path", path)
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s: %s %s: %w", c.provider, method, url, err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: reading response body: %w", c.provider, err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return parseAPIError(c.provider, response.StatusCode, body)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%s: decoding response: %w", c.provider, err)
	}
	return nil
}
