package scm

import (
	"context"
	"fmt"
	"strconv"

	gl "github.com/xanzy/go-gitlab"

	"opencr/internal"
)

// GitLabAdapter implements Adapter on the xanzy GitLab SDK. Change IDs are
// merge request IIDs scoped to the project.
type GitLabAdapter struct {
	client        *gl.Client
	commandPrefix string
}

// NewGitLabAdapter wraps an already-authenticated SDK client.
func NewGitLabAdapter(client *gl.Client, commandPrefix string) *GitLabAdapter {
	return &GitLabAdapter{client: client, commandPrefix: commandPrefix}
}

func newGitLabClient(token, baseURL string) (*gl.Client, error) {
	if baseURL != "" {
		return gl.NewClient(token, gl.WithBaseURL(baseURL))
	}
	return gl.NewClient(token)
}

func (a *GitLabAdapter) FetchChange(ctx context.Context, repo internal.Repository, changeID string) (Change, error) {
	iid, err := strconv.Atoi(changeID)
	if err != nil {
		return Change{}, fmt.Errorf("gitlab change id must be a merge request iid: %q", changeID)
	}

	mr, _, err := a.client.MergeRequests.GetMergeRequestChanges(repo.FullName, iid, &gl.GetMergeRequestChangesOptions{}, gl.WithContext(ctx))
	if err != nil {
		return Change{}, err
	}

	change := Change{
		ID:    changeID,
		Title: mr.Title,
		Body:  mr.Description,
		State: mr.State,
	}
	if mr.Author != nil {
		change.Author = mr.Author.Username
	}
	change.HeadSHA = mr.SHA
	if mr.DiffRefs.BaseSha != "" {
		change.BaseSHA = mr.DiffRefs.BaseSha
	}
	for _, diff := range mr.Changes {
		change.Files = append(change.Files, ChangedFile{
			Path:   diff.NewPath,
			Status: diffStatus(diff),
			Patch:  diff.Diff,
		})
	}
	return change, nil
}

func diffStatus(diff *gl.MergeRequestDiff) string {
	switch {
	case diff.NewFile:
		return "added"
	case diff.DeletedFile:
		return "removed"
	case diff.RenamedFile:
		return "renamed"
	default:
		return "modified"
	}
}

func (a *GitLabAdapter) PostComment(ctx context.Context, repo internal.Repository, changeID, body, idempotencyKey string) error {
	iid, err := strconv.Atoi(changeID)
	if err != nil {
		return fmt.Errorf("gitlab change id must be a merge request iid: %q", changeID)
	}
	_, _, err = a.client.Notes.CreateMergeRequestNote(repo.FullName, iid, &gl.CreateMergeRequestNoteOptions{
		Body: gl.Ptr(body + commentMarker(idempotencyKey)),
	}, gl.WithContext(ctx))
	return err
}

func (a *GitLabAdapter) PostStatus(ctx context.Context, repo internal.Repository, status Status) error {
	opts := &gl.SetCommitStatusOptions{
		State:       buildState(status.State),
		Context:     gl.Ptr(status.Context),
		Description: gl.Ptr(status.Description),
	}
	if status.TargetURL != "" {
		opts.TargetURL = gl.Ptr(status.TargetURL)
	}
	_, _, err := a.client.Commits.SetCommitStatus(repo.FullName, status.Ref, opts, gl.WithContext(ctx))
	return err
}

func buildState(state StatusState) gl.BuildStateValue {
	switch state {
	case StatusPending:
		return gl.Pending
	case StatusSuccess:
		return gl.Success
	default:
		// GitLab has no distinct "error" state.
		return gl.Failed
	}
}

func (a *GitLabAdapter) ParseCommand(commentBody string) (Command, bool) {
	return ParseCommand(commentBody, a.commandPrefix)
}
