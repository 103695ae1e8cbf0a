// Package poster publishes processing results back to the source platforms.
// Every post carries an idempotency key; keys seen before are suppressed so
// redelivered results never produce duplicate comments or statuses.
package poster

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"opencr/internal"
	"opencr/pkg/registry"
	"opencr/pkg/scm"
)

// RequestKind selects the platform capability a result is posted with.
type RequestKind string

const (
	KindComment      RequestKind = "comment"
	KindStatus       RequestKind = "status"
	KindCommandReply RequestKind = "command_reply"
)

// Request is one result to post.
type Request struct {
	Platform       string              `json:"platform"`
	AppID          string              `json:"app_id"`
	Repo           internal.Repository `json:"repository"`
	ChangeID       string              `json:"change_id"`
	Kind           RequestKind         `json:"kind"`
	IdempotencyKey string              `json:"idempotency_key"`
	Body           string              `json:"body,omitempty"`
	Status         *scm.Status         `json:"status,omitempty"`
	InstallationID int64               `json:"installation_id,omitempty"`
}

// Outcome reports what happened to a request.
type Outcome string

const (
	OutcomePosted     Outcome = "posted"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// AdapterSource hands out authenticated platform adapters.
type AdapterSource interface {
	Adapter(ctx context.Context, platform string, app registry.App, installationID int64) (scm.Adapter, error)
}

// Poster posts results with duplicate suppression and bounded retries.
type Poster struct {
	adapters    AdapterSource
	registry    *registry.Registry
	seen        *expirable.LRU[string, struct{}]
	maxAttempts int
	backoffInit time.Duration
	logger      *log.Logger
}

func New(adapters AdapterSource, reg *registry.Registry, cfg internal.PosterConfig, logger *log.Logger) *Poster {
	if logger == nil {
		logger = internal.NewLogger("poster")
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 4096
	}
	ttl := time.Duration(cfg.CacheTTLMS) * time.Millisecond
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoffInit := time.Duration(cfg.BackoffInitialMS) * time.Millisecond
	if backoffInit <= 0 {
		backoffInit = 250 * time.Millisecond
	}
	return &Poster{
		adapters:    adapters,
		registry:    reg,
		seen:        expirable.NewLRU[string, struct{}](size, nil, ttl),
		maxAttempts: maxAttempts,
		backoffInit: backoffInit,
		logger:      logger,
	}
}

// Post publishes one result. Requests whose idempotency key was already
// posted are suppressed without touching the platform.
func (p *Poster) Post(ctx context.Context, req Request) (Outcome, error) {
	key := req.IdempotencyKey
	if key == "" {
		key = DeriveKey(req)
	}
	if _, dup := p.seen.Get(key); dup {
		internal.IncPostOutcome(string(OutcomeSuppressed))
		p.logger.Printf("suppress key=%s platform=%s repo=%s", key, req.Platform, req.Repo.FullName)
		return OutcomeSuppressed, nil
	}

	app, err := p.registry.Resolve(req.AppID)
	if err != nil {
		internal.IncPostOutcome(string(OutcomeFailed))
		return OutcomeFailed, err
	}
	if err := p.authorize(app, req); err != nil {
		internal.IncPostOutcome(string(OutcomeFailed))
		return OutcomeFailed, err
	}

	adapter, err := p.adapters.Adapter(ctx, req.Platform, app, req.InstallationID)
	if err != nil {
		internal.IncPostOutcome(string(OutcomeFailed))
		return OutcomeFailed, err
	}

	err = p.retry(ctx, func() error {
		switch req.Kind {
		case KindComment, KindCommandReply:
			return adapter.PostComment(ctx, req.Repo, req.ChangeID, req.Body, key)
		case KindStatus:
			if req.Status == nil {
				return backoff.Permanent(errors.New("status request without a status"))
			}
			return adapter.PostStatus(ctx, req.Repo, *req.Status)
		default:
			return backoff.Permanent(fmt.Errorf("unknown request kind %q", req.Kind))
		}
	})
	if errors.Is(err, scm.ErrUnsupported) {
		// Platforms without the capability: nothing to retry, nothing posted.
		internal.IncPostOutcome(string(OutcomeSkipped))
		p.logger.Printf("skip key=%s platform=%s kind=%s: %v", key, req.Platform, req.Kind, err)
		return OutcomeSkipped, nil
	}
	if err != nil {
		internal.IncPostOutcome(string(OutcomeFailed))
		return OutcomeFailed, err
	}

	p.seen.Add(key, struct{}{})
	internal.IncPostOutcome(string(OutcomePosted))
	return OutcomePosted, nil
}

func (p *Poster) authorize(app registry.App, req Request) error {
	var needed registry.Permission
	switch req.Kind {
	case KindComment, KindCommandReply:
		needed = registry.PermWriteComment
	case KindStatus:
		needed = registry.PermWriteStatus
	default:
		return fmt.Errorf("unknown request kind %q", req.Kind)
	}
	if !app.HasPermission(needed) {
		return fmt.Errorf("app %q lacks %s", app.ID, needed)
	}
	if req.Repo.FullName != "" && !app.InScope(req.Repo) {
		return fmt.Errorf("repository %s out of scope for app %q", req.Repo.FullName, app.ID)
	}
	return nil
}

func (p *Poster) retry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.backoffInit
	bounded := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), uint64(p.maxAttempts-1))
	return backoff.Retry(func() error {
		err := op()
		if errors.Is(err, scm.ErrUnsupported) || errors.Is(err, scm.ErrNoCredentials) {
			return backoff.Permanent(err)
		}
		return err
	}, bounded)
}

// DeriveKey builds a deterministic idempotency key for requests that carry
// none. Identical results for the same delivery always collide.
func DeriveKey(req Request) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s", req.Platform, req.AppID, req.Repo.FullName, req.ChangeID, req.Kind, req.Body)
	if req.Status != nil {
		fmt.Fprintf(h, "|%s|%s|%s", req.Status.Ref, req.Status.State, req.Status.Context)
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}
