// Package scm abstracts the source platforms behind one capability set so
// consumers never carry platform-specific logic. One Adapter exists per
// platform; selection happens by the event's platform tag.
package scm

import (
	"context"
	"errors"
	"strings"

	"opencr/internal"
)

// ErrUnsupported is returned by adapters for capabilities the platform
// integration does not implement yet.
var ErrUnsupported = errors.New("operation not supported for platform")

// ChangedFile is one file touched by a change.
type ChangedFile struct {
	Path      string `json:"path"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
}

// Change is a platform-agnostic pull/merge request snapshot.
type Change struct {
	ID      string        `json:"id"`
	Title   string        `json:"title"`
	Body    string        `json:"body"`
	State   string        `json:"state"`
	Author  string        `json:"author"`
	HeadSHA string        `json:"head_sha"`
	BaseSHA string        `json:"base_sha"`
	Files   []ChangedFile `json:"files,omitempty"`
}

// StatusState enumerates commit status outcomes.
type StatusState string

const (
	StatusPending StatusState = "pending"
	StatusSuccess StatusState = "success"
	StatusFailure StatusState = "failure"
	StatusError   StatusState = "error"
)

// Status is a commit status to publish on a change's head.
type Status struct {
	Ref         string      `json:"ref"`
	State       StatusState `json:"state"`
	Context     string      `json:"context"`
	Description string      `json:"description"`
	TargetURL   string      `json:"target_url,omitempty"`
}

// Command is a bot command parsed out of a comment.
type Command struct {
	Name string
	Args string
}

// Adapter is the per-platform capability set.
type Adapter interface {
	// FetchChange loads the change and its file list.
	FetchChange(ctx context.Context, repo internal.Repository, changeID string) (Change, error)

	// PostComment posts a comment on the change. A non-empty idempotencyKey
	// is embedded as an invisible marker so duplicates are identifiable on
	// the platform side too.
	PostComment(ctx context.Context, repo internal.Repository, changeID, body, idempotencyKey string) error

	// PostStatus publishes a commit status.
	PostStatus(ctx context.Context, repo internal.Repository, status Status) error

	// ParseCommand extracts a bot command from a comment body. Text without
	// the command prefix is not an error; it simply yields no command.
	ParseCommand(commentBody string) (Command, bool)
}

// ParseCommand recognizes `<prefix> <command> [args...]` at the start of a
// comment. The prefix match is case-insensitive.
func ParseCommand(body, prefix string) (Command, bool) {
	body = strings.TrimSpace(body)
	prefix = strings.TrimSpace(prefix)
	if body == "" || prefix == "" {
		return Command{}, false
	}
	if len(body) < len(prefix) || !strings.EqualFold(body[:len(prefix)], prefix) {
		return Command{}, false
	}
	rest := body[len(prefix):]
	if rest != "" && !strings.HasPrefix(rest, " ") && !strings.HasPrefix(rest, "\n") && !strings.HasPrefix(rest, "\t") {
		// "@opencrx ..." is addressed to someone else.
		return Command{}, false
	}

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return Command{}, false
	}
	name := strings.ToLower(fields[0])
	args := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rest), fields[0]))
	return Command{Name: name, Args: args}, true
}

// commentMarker renders the idempotency marker embedded in posted comments.
func commentMarker(idempotencyKey string) string {
	if idempotencyKey == "" {
		return ""
	}
	return "\n\n<!-- opencr:" + idempotencyKey + " -->"
}
