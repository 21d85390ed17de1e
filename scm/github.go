package scm

import (
	"context"
	"fmt"
	"net/http"
)

// githubAPIVersion pins the GitHub REST API version header.
const githubAPIVersion = "2022-11-28"

const defaultGitHubURL = "https://api.github.com"

// GitHub is a Tracker backed by the GitHub REST API.
type GitHub struct {
	rest  *restClient
	owner string
	repo  string
}

// NewGitHub creates a GitHub tracker.
func NewGitHub(cfg Config) (*GitHub, error) {
	token := cfg.Token
	rest, err := newRESTClient("github", defaultGitHubURL, cfg, func(h http.Header) {
		h.Set("Authorization", "Bearer "+token)
		h.Set("Accept", "application/vnd.github+json")
		h.Set("X-GitHub-Api-Version", githubAPIVersion)
	})
	if err != nil {
		return nil, err
	}
	return &GitHub{rest: rest, owner: cfg.Owner, repo: cfg.Repo}, nil
}

type githubIssue struct {
	Number int     `json:"number"`
	Title  string  `json:"title"`
	Body   *string `json:"body"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
}

// GetIssue retrieves a single issue by number.
func (g *GitHub) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var raw githubIssue
	path := fmt.Sprintf("/repos/%s/%s/issues/%d", g.owner, g.repo, number)
	if err := g.rest.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("getting issue %s/%s#%d: %w", g.owner, g.repo, number, err)
	}

	issue := &Issue{Number: raw.Number, Title: raw.Title}
	if raw.Body != nil {
		issue.Body = *raw.Body
	}
	for _, label := range raw.Labels {
		issue.Labels = append(issue.Labels, label.Name)
	}
	return issue, nil
}

// CreatePullRequest opens a pull request from request.Head into request.Base.
func (g *GitHub) CreatePullRequest(ctx context.Context, request PullRequestRequest) (*PullRequest, error) {
	payload := map[string]string{
		"title": request.Title,
		"head":  request.Head,
		"base":  request.Base,
		"body":  request.Body,
	}
	var raw struct {
		Number  int     `json:"number"`
		Title   string  `json:"title"`
		Body    *string `json:"body"`
		HTMLURL string  `json:"html_url"`
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls", g.owner, g.repo)
	if err := g.rest.do(ctx, http.MethodPost, path, payload, &raw); err != nil {
		return nil, fmt.Errorf("creating pull request in %s/%s: %w", g.owner, g.repo, err)
	}

	pr := &PullRequest{Number: raw.Number, Title: raw.Title, HTMLURL: raw.HTMLURL}
	if raw.Body != nil {
		pr.Body = *raw.Body
	}
	g.rest.logger.Info("pull request created", "number", pr.Number, "url", pr.HTMLURL)
	return pr, nil
}
