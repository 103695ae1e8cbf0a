package poster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"opencr/internal"
	"opencr/pkg/registry"
	"opencr/pkg/scm"
)

type stubAdapter struct {
	comments     int
	statuses     int
	failuresLeft int
	unsupported  bool
}

func (a *stubAdapter) FetchChange(ctx context.Context, repo internal.Repository, changeID string) (scm.Change, error) {
	return scm.Change{}, nil
}

func (a *stubAdapter) PostComment(ctx context.Context, repo internal.Repository, changeID, body, idempotencyKey string) error {
	if a.failuresLeft > 0 {
		a.failuresLeft--
		return errors.New("transient api failure")
	}
	a.comments++
	return nil
}

func (a *stubAdapter) PostStatus(ctx context.Context, repo internal.Repository, status scm.Status) error {
	if a.unsupported {
		return scm.ErrUnsupported
	}
	a.statuses++
	return nil
}

func (a *stubAdapter) ParseCommand(commentBody string) (scm.Command, bool) {
	return scm.ParseCommand(commentBody, "@opencr")
}

type stubSource struct {
	adapter *stubAdapter
}

func (s *stubSource) Adapter(ctx context.Context, platform string, app registry.App, installationID int64) (scm.Adapter, error) {
	return s.adapter, nil
}

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	appsYAML := `
apps:
  - id: a1
    active: true
    webhook_secret: s3cret
    permissions: [receive:webhook, write:comment, write:status]
`
	path := filepath.Join(t.TempDir(), "apps.yaml")
	if err := os.WriteFile(path, []byte(appsYAML), 0o600); err != nil {
		t.Fatalf("write apps file: %v", err)
	}
	reg, err := registry.Load(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}

func newTestPoster(t *testing.T, adapter *stubAdapter) *Poster {
	t.Helper()
	return New(&stubSource{adapter: adapter}, newTestRegistry(t), internal.PosterConfig{
		CacheSize:        16,
		CacheTTLMS:       60000,
		MaxAttempts:      3,
		BackoffInitialMS: 1,
	}, nil)
}

func commentRequest(key string) Request {
	return Request{
		Platform:       "github",
		AppID:          "a1",
		Repo:           internal.Repository{Owner: "acme", Name: "api", FullName: "acme/api"},
		ChangeID:       "7",
		Kind:           KindComment,
		IdempotencyKey: key,
		Body:           "Review complete.",
	}
}

func TestPostThenSuppressDuplicate(t *testing.T) {
	adapter := &stubAdapter{}
	p := newTestPoster(t, adapter)

	outcome, err := p.Post(context.Background(), commentRequest("key-1"))
	if err != nil || outcome != OutcomePosted {
		t.Fatalf("first post: outcome=%s err=%v", outcome, err)
	}
	outcome, err = p.Post(context.Background(), commentRequest("key-1"))
	if err != nil || outcome != OutcomeSuppressed {
		t.Fatalf("duplicate post: outcome=%s err=%v", outcome, err)
	}
	if adapter.comments != 1 {
		t.Fatalf("expected exactly one platform comment, got %d", adapter.comments)
	}
}

func TestPostRetriesTransientFailures(t *testing.T) {
	adapter := &stubAdapter{failuresLeft: 2}
	p := newTestPoster(t, adapter)

	outcome, err := p.Post(context.Background(), commentRequest("key-2"))
	if err != nil || outcome != OutcomePosted {
		t.Fatalf("expected success after retries: outcome=%s err=%v", outcome, err)
	}
	if adapter.comments != 1 {
		t.Fatalf("expected one successful comment, got %d", adapter.comments)
	}
}

func TestPostFailsAfterRetryBudget(t *testing.T) {
	adapter := &stubAdapter{failuresLeft: 10}
	p := newTestPoster(t, adapter)

	outcome, err := p.Post(context.Background(), commentRequest("key-3"))
	if err == nil || outcome != OutcomeFailed {
		t.Fatalf("expected failure: outcome=%s err=%v", outcome, err)
	}
	// A failed key is not cached; a later attempt may still post.
	adapter.failuresLeft = 0
	outcome, err = p.Post(context.Background(), commentRequest("key-3"))
	if err != nil || outcome != OutcomePosted {
		t.Fatalf("expected recovery: outcome=%s err=%v", outcome, err)
	}
}

func TestPostStatusUnsupportedPlatformSkipped(t *testing.T) {
	adapter := &stubAdapter{unsupported: true}
	p := newTestPoster(t, adapter)

	req := commentRequest("key-4")
	req.Kind = KindStatus
	req.Status = &scm.Status{Ref: "feedc0de", State: scm.StatusPending, Context: "opencr/review"}

	outcome, err := p.Post(context.Background(), req)
	if err != nil || outcome != OutcomeSkipped {
		t.Fatalf("expected skip: outcome=%s err=%v", outcome, err)
	}
}

func TestPostRejectsMissingPermission(t *testing.T) {
	adapter := &stubAdapter{}
	appsYAML := `
apps:
  - id: a1
    active: true
    webhook_secret: s3cret
    permissions: [receive:webhook]
`
	path := filepath.Join(t.TempDir(), "apps.yaml")
	if err := os.WriteFile(path, []byte(appsYAML), 0o600); err != nil {
		t.Fatalf("write apps file: %v", err)
	}
	reg, err := registry.Load(path)
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	p := New(&stubSource{adapter: adapter}, reg, internal.PosterConfig{MaxAttempts: 1}, nil)

	outcome, err := p.Post(context.Background(), commentRequest("key-5"))
	if err == nil || outcome != OutcomeFailed {
		t.Fatalf("expected permission failure: outcome=%s err=%v", outcome, err)
	}
	if adapter.comments != 0 {
		t.Fatalf("unauthorized request must not reach the platform")
	}
}

func TestDeriveKeyDeterministic(t *testing.T) {
	a := DeriveKey(commentRequest(""))
	b := DeriveKey(commentRequest(""))
	if a != b {
		t.Fatalf("derived keys must be stable: %s vs %s", a, b)
	}
	other := commentRequest("")
	other.Body = "different"
	if DeriveKey(other) == a {
		t.Fatalf("different bodies must derive different keys")
	}
}
