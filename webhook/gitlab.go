package webhook

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-playground/webhooks/v6/gitlab"

	"opencr/internal"
	"opencr/pkg/registry"
)

var gitlabEvents = []gitlab.Event{
	gitlab.PushEvents,
	gitlab.MergeRequestEvents,
	gitlab.CommentEvents,
}

type gitlabNormalizer struct {
	hook *gitlab.Webhook
}

// NewGitLabHandler builds the GitLab receiver endpoint. The X-Gitlab-Token
// header is checked against the per-app secret from the registry.
func NewGitLabHandler(reg *registry.Registry, publisher internal.Publisher, router *internal.Router, logger *log.Logger, cfg internal.ServerConfig) (*Handler, error) {
	hook, err := gitlab.New()
	if err != nil {
		return nil, err
	}
	return newHandler(&gitlabNormalizer{hook: hook}, reg, publisher, router, logger, cfg), nil
}

func (n *gitlabNormalizer) platform() string { return "gitlab" }

func (n *gitlabNormalizer) deliveryID(r *http.Request) string {
	return r.Header.Get("X-Gitlab-Event-UUID")
}

func (n *gitlabNormalizer) signature(r *http.Request) string {
	return r.Header.Get("X-Gitlab-Token")
}

func (n *gitlabNormalizer) normalize(r *http.Request, body []byte) (internal.Event, error) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	payload, err := n.hook.Parse(r, gitlabEvents...)
	if err != nil {
		if errors.Is(err, gitlab.ErrEventNotFound) {
			return internal.Event{}, ErrUnsupportedEvent
		}
		return internal.Event{}, err
	}

	switch p := payload.(type) {
	case gitlab.MergeRequestEventPayload:
		kind, ok := gitlabMergeRequestKind(p.ObjectAttributes.Action)
		if !ok {
			return internal.Event{}, ErrUnsupportedEvent
		}
		event := internal.Event{
			Kind:     kind,
			Repo:     repoFromFullName(p.Project.PathWithNamespace),
			ChangeID: strconv.FormatInt(p.ObjectAttributes.IID, 10),
		}
		if sha := p.ObjectAttributes.LastCommit.ID; sha != "" {
			event.Metadata = map[string]string{"head_sha": sha}
		}
		return event, nil

	case gitlab.CommentEventPayload:
		// Notes on commits, issues and snippets carry no change to act on.
		// The SDK misspells the noteable_type field as NotebookType.
		if p.ObjectAttributes.NotebookType != "MergeRequest" {
			return internal.Event{}, ErrUnsupportedEvent
		}
		return internal.Event{
			Kind:     internal.KindCommentCreated,
			Repo:     repoFromFullName(p.Project.PathWithNamespace),
			ChangeID: strconv.FormatInt(p.MergeRequest.IID, 10),
		}, nil

	case gitlab.PushEventPayload:
		return internal.Event{
			Kind: internal.KindPush,
			Repo: repoFromFullName(p.Project.PathWithNamespace),
		}, nil
	}
	return internal.Event{}, ErrUnsupportedEvent
}

func gitlabMergeRequestKind(action string) (internal.Kind, bool) {
	switch action {
	case "open":
		return internal.KindPullRequestOpened, true
	case "close", "merge":
		return internal.KindPullRequestClosed, true
	case "reopen":
		return internal.KindPullRequestReopened, true
	case "update":
		return internal.KindPullRequestSynchronized, true
	}
	return internal.KindOther, false
}
