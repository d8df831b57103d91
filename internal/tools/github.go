package tools

import (
	"context"
	"fmt"
	"os"

	"github.com/google/go-github/v68/github"
	"github.com/rgould/conductor/internal/config"
	"golang.org/x/oauth2"
)

// issueCreator abstracts the GitHub API call we make, enabling test mocks.
type issueCreator interface {
	Create(ctx context.Context, owner, repo string, issue *github.IssueRequest) (*github.Issue, *github.Response, error)
}

// NewGitHubIssueTool returns a github_open_issue tool that files an issue in
// the configured repository. High risk: it publishes content outside the
// host.
func NewGitHubIssueTool(cfg config.GitHubConfig) Tool {
	var client issueCreator
	if token := os.Getenv(cfg.TokenEnv); token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		client = github.NewClient(oauth2.NewClient(context.Background(), ts)).Issues
	}
	return newGitHubIssueTool(cfg, client)
}

func newGitHubIssueTool(cfg config.GitHubConfig, client issueCreator) Tool {
	t, _ := NewTool(
		"github_open_issue",
		"Open a GitHub issue in the configured repository.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{"type": "string", "description": "Issue title."},
				"body":  map[string]any{"type": "string", "description": "Issue body, optional."},
			},
			"required":             []string{"title"},
			"additionalProperties": false,
		},
		RiskHigh,
		[]string{"task_agent", "dev_agent"},
		func(ctx context.Context, params map[string]any) (map[string]any, error) {
			if client == nil {
				return nil, fmt.Errorf("github token is not configured")
			}
			if cfg.Owner == "" || cfg.Repo == "" {
				return nil, fmt.Errorf("github owner/repo are not configured")
			}
			title, _ := params["title"].(string)
			body, _ := params["body"].(string)
			issue, _, err := client.Create(ctx, cfg.Owner, cfg.Repo, &github.IssueRequest{
				Title: github.String(title),
				Body:  github.String(body),
			})
			if err != nil {
				return nil, fmt.Errorf("create issue: %w", err)
			}
			return map[string]any{
				"number": issue.GetNumber(),
				"url":    issue.GetHTMLURL(),
			}, nil
		},
	)
	return t
}
