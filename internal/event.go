package internal

import (
	"encoding/json"
	"strings"
	"time"
)

// Kind identifies a normalized event type, platform differences already
// folded away. The values follow the "<object>.<action>" convention of the
// validated topics.
type Kind string

const (
	KindPing Kind = "ping"
	KindPush Kind = "push"

	KindPullRequestOpened       Kind = "pull_request.opened"
	KindPullRequestClosed       Kind = "pull_request.closed"
	KindPullRequestReopened     Kind = "pull_request.reopened"
	KindPullRequestEdited       Kind = "pull_request.edited"
	KindPullRequestSynchronized Kind = "pull_request.synchronized"

	KindReviewSubmitted      Kind = "pull_request_review.submitted"
	KindReviewCommentCreated Kind = "pull_request_review_comment.created"

	KindCommentCreated Kind = "comment.created"
	KindCommentEdited  Kind = "comment.edited"
	KindCommentDeleted Kind = "comment.deleted"

	KindOther Kind = "other"
)

// Repository identifies the repository an event belongs to. Owner and Name
// are lower-cased during enrichment so that equality checks and partition
// keys are stable across platforms.
type Repository struct {
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	FullName string `json:"full_name"`
}

// Normalize lower-cases the identity and rebuilds FullName from its parts.
func (r Repository) Normalize() Repository {
	r.Owner = strings.ToLower(strings.TrimSpace(r.Owner))
	r.Name = strings.ToLower(strings.TrimSpace(r.Name))
	if r.Owner != "" && r.Name != "" {
		r.FullName = r.Owner + "/" + r.Name
	} else {
		r.FullName = strings.ToLower(strings.TrimSpace(r.FullName))
	}
	return r
}

// Event is the platform-agnostic change notification exchanged on the
// durable log. It is immutable once published.
type Event struct {
	Kind       Kind              `json:"kind"`
	Platform   string            `json:"platform"`
	AppID      string            `json:"app_id"`
	Repo       Repository        `json:"repository"`
	ChangeID   string            `json:"change_id,omitempty"`
	DeliveryID string            `json:"delivery_id"`
	ReceivedAt time.Time         `json:"received_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
}

// PartitionKey returns the key used to order events on the log. All events
// for one repository share a key; events without a repository fall back to
// the delivery id so they still land on a deterministic partition.
func (e Event) PartitionKey() string {
	if e.Repo.FullName != "" {
		return e.Platform + "/" + e.Repo.FullName
	}
	return e.Platform + "/" + e.DeliveryID
}

// Metadata keys attached to published messages.
const (
	MetaPartitionKey = "partition_key"
	MetaDeliveryID   = "delivery_id"
	MetaPlatform     = "platform"
	MetaKind         = "kind"
	MetaAppID        = "app_id"
)

// RawTopic names the per-platform topic carrying pre-validation deliveries.
func RawTopic(platform string) string { return platform + ".raw" }

// ValidatedTopic names the per-platform topic carrying normalized events.
func ValidatedTopic(platform string) string { return platform + ".validated" }
