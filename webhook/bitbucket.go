package webhook

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-playground/webhooks/v6/bitbucket"

	"opencr/internal"
	"opencr/pkg/registry"
)

var bitbucketEvents = []bitbucket.Event{
	bitbucket.RepoPushEvent,
	bitbucket.PullRequestCreatedEvent,
	bitbucket.PullRequestUpdatedEvent,
	bitbucket.PullRequestMergedEvent,
	bitbucket.PullRequestDeclinedEvent,
	bitbucket.PullRequestCommentCreatedEvent,
}

type bitbucketNormalizer struct {
	hook *bitbucket.Webhook
}

// NewBitbucketHandler builds the Bitbucket receiver endpoint. Deliveries are
// authenticated by HMAC signature against the per-app secret; the hook UUID
// check is not used.
func NewBitbucketHandler(reg *registry.Registry, publisher internal.Publisher, router *internal.Router, logger *log.Logger, cfg internal.ServerConfig) (*Handler, error) {
	hook, err := bitbucket.New()
	if err != nil {
		return nil, err
	}
	return newHandler(&bitbucketNormalizer{hook: hook}, reg, publisher, router, logger, cfg), nil
}

func (n *bitbucketNormalizer) platform() string { return "bitbucket" }

func (n *bitbucketNormalizer) deliveryID(r *http.Request) string {
	return r.Header.Get("X-Request-UUID")
}

func (n *bitbucketNormalizer) signature(r *http.Request) string {
	return r.Header.Get("X-Hub-Signature-256")
}

func (n *bitbucketNormalizer) normalize(r *http.Request, body []byte) (internal.Event, error) {
	r.Body = io.NopCloser(bytes.NewReader(body))
	payload, err := n.hook.Parse(r, bitbucketEvents...)
	if err != nil {
		if errors.Is(err, bitbucket.ErrEventNotFound) {
			return internal.Event{}, ErrUnsupportedEvent
		}
		return internal.Event{}, err
	}

	switch p := payload.(type) {
	case bitbucket.PullRequestCreatedPayload:
		return internal.Event{
			Kind:     internal.KindPullRequestOpened,
			Repo:     repoFromFullName(p.Repository.FullName),
			ChangeID: strconv.FormatInt(p.PullRequest.ID, 10),
		}, nil

	case bitbucket.PullRequestUpdatedPayload:
		return internal.Event{
			Kind:     internal.KindPullRequestSynchronized,
			Repo:     repoFromFullName(p.Repository.FullName),
			ChangeID: strconv.FormatInt(p.PullRequest.ID, 10),
		}, nil

	case bitbucket.PullRequestMergedPayload:
		return internal.Event{
			Kind:     internal.KindPullRequestClosed,
			Repo:     repoFromFullName(p.Repository.FullName),
			ChangeID: strconv.FormatInt(p.PullRequest.ID, 10),
		}, nil

	case bitbucket.PullRequestDeclinedPayload:
		return internal.Event{
			Kind:     internal.KindPullRequestClosed,
			Repo:     repoFromFullName(p.Repository.FullName),
			ChangeID: strconv.FormatInt(p.PullRequest.ID, 10),
		}, nil

	case bitbucket.PullRequestCommentCreatedPayload:
		return internal.Event{
			Kind:     internal.KindCommentCreated,
			Repo:     repoFromFullName(p.Repository.FullName),
			ChangeID: strconv.FormatInt(p.PullRequest.ID, 10),
		}, nil

	case bitbucket.RepoPushPayload:
		return internal.Event{
			Kind: internal.KindPush,
			Repo: repoFromFullName(p.Repository.FullName),
		}, nil
	}
	return internal.Event{}, ErrUnsupportedEvent
}
