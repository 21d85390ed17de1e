package scm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const defaultGitLabURL = "https://gitlab.com/api/v4"

// GitLab is a Tracker backed by the GitLab v4 API. Pull requests are
// opened as merge requests.
type GitLab struct {
	rest    *restClient
	project string // URL-escaped "namespace/project"
}

// NewGitLab creates a GitLab tracker.
func NewGitLab(cfg Config) (*GitLab, error) {
	token := cfg.Token
	rest, err := newRESTClient("gitlab", defaultGitLabURL, cfg, func(h http.Header) {
		h.Set("PRIVATE-TOKEN", token)
		h.Set("Accept", "application/json")
	})
	if err != nil {
		return nil, err
	}
	return &GitLab{rest: rest, project: url.PathEscape(cfg.Owner + "/" + cfg.Repo)}, nil
}

// GetIssue retrieves a single issue by its project-scoped IID.
func (g *GitLab) GetIssue(ctx context.Context, number int) (*Issue, error) {
	var raw struct {
		IID         int      `json:"iid"`
		Title       string   `json:"title"`
		Description *string  `json:"description"`
		Labels      []string `json:"labels"`
	}
	path := fmt.Sprintf("/projects/%s/issues/%d", g.project, number)
	if err := g.rest.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("getting issue #%d: %w", number, err)
	}

	issue := &Issue{Number: raw.IID, Title: raw.Title, Labels: raw.Labels}
	if raw.Description != nil {
		issue.Body = *raw.Description
	}
	return issue, nil
}

// CreatePullRequest opens a merge request from request.Head into request.Base.
func (g *GitLab) CreatePullRequest(ctx context.Context, request PullRequestRequest) (*PullRequest, error) {
	payload := map[string]any{
		"source_branch":        request.Head,
		"target_branch":        request.Base,
		"title":                request.Title,
		"description":          request.Body,
		"remove_source_branch": true,
	}
	var raw struct {
		IID         int     `json:"iid"`
		Title       string  `json:"title"`
		Description *string `json:"description"`
		WebURL      string  `json:"web_url"`
	}
	path := fmt.Sprintf("/projects/%s/merge_requests", g.project)
	if err := g.rest.do(ctx, http.MethodPost, path, payload, &raw); err != nil {
		return nil, fmt.Errorf("creating merge request: %w", err)
	}

	pr := &PullRequest{Number: raw.IID, Title: raw.Title, HTMLURL: raw.WebURL}
	if raw.Description != nil {
		pr.Body = *raw.Description
	}
	g.rest.logger.Info("merge request created", "number", pr.Number, "url", pr.HTMLURL)
	return pr, nil
}
