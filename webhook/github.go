package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-playground/webhooks/v6/github"

	"opencr/internal"
	"opencr/pkg/registry"
)

// githubEvents lists the deliveries with a normalized representation.
// Everything else is acknowledged and dropped.
var githubEvents = []github.Event{
	github.PingEvent,
	github.PushEvent,
	github.PullRequestEvent,
	github.PullRequestReviewEvent,
	github.PullRequestReviewCommentEvent,
	github.IssueCommentEvent,
}

type githubNormalizer struct {
	hook *github.Webhook
}

// NewGitHubHandler builds the GitHub receiver endpoint. Signatures are
// checked against the per-app secret from the registry, so the parser itself
// runs without one.
func NewGitHubHandler(reg *registry.Registry, publisher internal.Publisher, router *internal.Router, logger *log.Logger, cfg internal.ServerConfig) (*Handler, error) {
	hook, err := github.New()
	if err != nil {
		return nil, err
	}
	return newHandler(&githubNormalizer{hook: hook}, reg, publisher, router, logger, cfg), nil
}

func (n *githubNormalizer) platform() string { return "github" }

func (n *githubNormalizer) deliveryID(r *http.Request) string {
	return r.Header.Get("X-GitHub-Delivery")
}

func (n *githubNormalizer) signature(r *http.Request) string {
	return r.Header.Get("X-Hub-Signature-256")
}

func (n *githubNormalizer) normalize(r *http.Request, body []byte) (internal.Event, error) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	payload, err := n.hook.Parse(r, githubEvents...)
	if err != nil {
		if errors.Is(err, github.ErrEventNotFound) {
			return internal.Event{}, ErrUnsupportedEvent
		}
		return internal.Event{}, err
	}

	switch p := payload.(type) {
	case github.PingPayload:
		return internal.Event{Kind: internal.KindPing}, nil

	case github.PullRequestPayload:
		kind, ok := githubPullRequestKind(p.Action)
		if !ok {
			return internal.Event{}, ErrUnsupportedEvent
		}
		event := internal.Event{
			Kind:     kind,
			Repo:     repoFromFullName(p.Repository.FullName),
			ChangeID: strconv.FormatInt(p.PullRequest.Number, 10),
			Metadata: map[string]string{"head_sha": p.PullRequest.Head.Sha},
		}
		attachGitHubInstallation(&event, body)
		return event, nil

	case github.PullRequestReviewPayload:
		if p.Action != "submitted" {
			return internal.Event{}, ErrUnsupportedEvent
		}
		event := internal.Event{
			Kind:     internal.KindReviewSubmitted,
			Repo:     repoFromFullName(p.Repository.FullName),
			ChangeID: strconv.FormatInt(p.PullRequest.Number, 10),
		}
		attachGitHubInstallation(&event, body)
		return event, nil

	case github.PullRequestReviewCommentPayload:
		if p.Action != "created" {
			return internal.Event{}, ErrUnsupportedEvent
		}
		event := internal.Event{
			Kind:     internal.KindReviewCommentCreated,
			Repo:     repoFromFullName(p.Repository.FullName),
			ChangeID: strconv.FormatInt(p.PullRequest.Number, 10),
		}
		attachGitHubInstallation(&event, body)
		return event, nil

	case github.IssueCommentPayload:
		// Issue comments on plain issues carry no change to act on.
		if !issueCommentOnPullRequest(body) {
			return internal.Event{}, ErrUnsupportedEvent
		}
		kind, ok := githubCommentKind(p.Action)
		if !ok {
			return internal.Event{}, ErrUnsupportedEvent
		}
		event := internal.Event{
			Kind:     kind,
			Repo:     repoFromFullName(p.Repository.FullName),
			ChangeID: strconv.FormatInt(p.Issue.Number, 10),
		}
		attachGitHubInstallation(&event, body)
		return event, nil

	case github.PushPayload:
		event := internal.Event{
			Kind: internal.KindPush,
			Repo: repoFromFullName(p.Repository.FullName),
		}
		attachGitHubInstallation(&event, body)
		return event, nil
	}
	return internal.Event{}, ErrUnsupportedEvent
}

func githubPullRequestKind(action string) (internal.Kind, bool) {
	switch action {
	case "opened":
		return internal.KindPullRequestOpened, true
	case "closed":
		return internal.KindPullRequestClosed, true
	case "reopened":
		return internal.KindPullRequestReopened, true
	case "edited":
		return internal.KindPullRequestEdited, true
	case "synchronize":
		return internal.KindPullRequestSynchronized, true
	}
	return internal.KindOther, false
}

func githubCommentKind(action string) (internal.Kind, bool) {
	switch action {
	case "created":
		return internal.KindCommentCreated, true
	case "edited":
		return internal.KindCommentEdited, true
	case "deleted":
		return internal.KindCommentDeleted, true
	}
	return internal.KindOther, false
}

// issueCommentOnPullRequest checks the raw payload for the pull_request
// link that distinguishes PR conversations from plain issues.
func issueCommentOnPullRequest(body []byte) bool {
	var probe struct {
		Issue struct {
			PullRequest *struct {
				URL string `json:"url"`
			} `json:"pull_request"`
		} `json:"issue"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	return probe.Issue.PullRequest != nil
}

// attachGitHubInstallation records the GitHub App installation id when the
// delivery carries one. The worker needs it for installation-token auth.
func attachGitHubInstallation(event *internal.Event, body []byte) {
	var probe struct {
		Installation struct {
			ID int64 `json:"id"`
		} `json:"installation"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Installation.ID == 0 {
		return
	}
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	event.Metadata["installation_id"] = strconv.FormatInt(probe.Installation.ID, 10)
}
