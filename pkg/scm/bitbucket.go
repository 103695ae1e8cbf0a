package scm

import (
	"context"
	"encoding/json"
	"os"

	bb "github.com/ktrysmt/go-bitbucket"

	"opencr/internal"
)

// BitbucketAdapter implements Adapter on the ktrysmt SDK. Bitbucket Cloud
// build statuses are not wired yet, so PostStatus reports ErrUnsupported.
type BitbucketAdapter struct {
	client        *bb.Client
	commandPrefix string
}

// NewBitbucketAdapter wraps an already-authenticated SDK client.
func NewBitbucketAdapter(client *bb.Client, commandPrefix string) *BitbucketAdapter {
	return &BitbucketAdapter{client: client, commandPrefix: commandPrefix}
}

func newBitbucketClient(token, baseURL string) (*bb.Client, error) {
	if baseURL != "" {
		// The SDK only reads its base URL from the environment.
		_ = os.Setenv("BITBUCKET_API_BASE_URL", baseURL)
	}
	return bb.NewOAuthbearerToken(token)
}

func (a *BitbucketAdapter) FetchChange(ctx context.Context, repo internal.Repository, changeID string) (Change, error) {
	opts := (&bb.PullRequestsOptions{
		Owner:    repo.Owner,
		RepoSlug: repo.Name,
		ID:       changeID,
	}).WithContext(ctx)
	res, err := a.client.Repositories.PullRequests.Get(opts)
	if err != nil {
		return Change{}, err
	}

	// The SDK returns decoded JSON; round-trip it into the shape we keep.
	raw, err := json.Marshal(res)
	if err != nil {
		return Change{}, err
	}
	var pr struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		State       string `json:"state"`
		Author      struct {
			Nickname string `json:"nickname"`
		} `json:"author"`
		Source struct {
			Commit struct {
				Hash string `json:"hash"`
			} `json:"commit"`
		} `json:"source"`
		Destination struct {
			Commit struct {
				Hash string `json:"hash"`
			} `json:"commit"`
		} `json:"destination"`
	}
	if err := json.Unmarshal(raw, &pr); err != nil {
		return Change{}, err
	}

	return Change{
		ID:      changeID,
		Title:   pr.Title,
		Body:    pr.Description,
		State:   pr.State,
		Author:  pr.Author.Nickname,
		HeadSHA: pr.Source.Commit.Hash,
		BaseSHA: pr.Destination.Commit.Hash,
	}, nil
}

func (a *BitbucketAdapter) PostComment(ctx context.Context, repo internal.Repository, changeID, body, idempotencyKey string) error {
	opts := (&bb.PullRequestCommentOptions{
		Owner:         repo.Owner,
		RepoSlug:      repo.Name,
		PullRequestID: changeID,
		Content:       body + commentMarker(idempotencyKey),
	}).WithContext(ctx)
	_, err := a.client.Repositories.PullRequests.AddComment(opts)
	return err
}

func (a *BitbucketAdapter) PostStatus(ctx context.Context, repo internal.Repository, status Status) error {
	return ErrUnsupported
}

func (a *BitbucketAdapter) ParseCommand(commentBody string) (Command, bool) {
	return ParseCommand(commentBody, a.commandPrefix)
}
