package scm

import (
	"context"
	"fmt"
	"strconv"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"opencr/internal"
)

// GitHubAdapter implements Adapter on the official GitHub SDK.
type GitHubAdapter struct {
	client        *gh.Client
	commandPrefix string
}

// NewGitHubAdapter wraps an already-authenticated SDK client.
func NewGitHubAdapter(client *gh.Client, commandPrefix string) *GitHubAdapter {
	return &GitHubAdapter{client: client, commandPrefix: commandPrefix}
}

func newGitHubClient(ctx context.Context, token, baseURL string) (*gh.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)

	base := normalizeGitHubBaseURL(baseURL)
	if base != githubDefaultBaseURL {
		return gh.NewEnterpriseClient(base, base, httpClient)
	}
	return gh.NewClient(httpClient), nil
}

func (a *GitHubAdapter) FetchChange(ctx context.Context, repo internal.Repository, changeID string) (Change, error) {
	number, err := strconv.Atoi(changeID)
	if err != nil {
		return Change{}, fmt.Errorf("github change id must be a pull request number: %q", changeID)
	}

	pr, _, err := a.client.PullRequests.Get(ctx, repo.Owner, repo.Name, number)
	if err != nil {
		return Change{}, err
	}

	change := Change{
		ID:      changeID,
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		State:   pr.GetState(),
		Author:  pr.GetUser().GetLogin(),
		HeadSHA: pr.GetHead().GetSHA(),
		BaseSHA: pr.GetBase().GetSHA(),
	}

	opts := &gh.ListOptions{PerPage: 100}
	for {
		files, resp, err := a.client.PullRequests.ListFiles(ctx, repo.Owner, repo.Name, number, opts)
		if err != nil {
			return Change{}, err
		}
		for _, f := range files {
			change.Files = append(change.Files, ChangedFile{
				Path:      f.GetFilename(),
				Status:    f.GetStatus(),
				Additions: f.GetAdditions(),
				Deletions: f.GetDeletions(),
				Patch:     f.GetPatch(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return change, nil
}

func (a *GitHubAdapter) PostComment(ctx context.Context, repo internal.Repository, changeID, body, idempotencyKey string) error {
	number, err := strconv.Atoi(changeID)
	if err != nil {
		return fmt.Errorf("github change id must be a pull request number: %q", changeID)
	}

	comment := &gh.IssueComment{Body: gh.String(body + commentMarker(idempotencyKey))}
	_, _, err = a.client.Issues.CreateComment(ctx, repo.Owner, repo.Name, number, comment)
	return err
}

func (a *GitHubAdapter) PostStatus(ctx context.Context, repo internal.Repository, status Status) error {
	repoStatus := &gh.RepoStatus{
		State:       gh.String(string(status.State)),
		Context:     gh.String(status.Context),
		Description: gh.String(status.Description),
	}
	if status.TargetURL != "" {
		repoStatus.TargetURL = gh.String(status.TargetURL)
	}
	_, _, err := a.client.Repositories.CreateStatus(ctx, repo.Owner, repo.Name, status.Ref, repoStatus)
	return err
}

func (a *GitHubAdapter) ParseCommand(commentBody string) (Command, bool) {
	return ParseCommand(commentBody, a.commandPrefix)
}
