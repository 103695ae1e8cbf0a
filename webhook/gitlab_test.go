package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"opencr/internal"
)

func newGitLabTestHandler(t *testing.T, pub internal.Publisher) *Handler {
	t.Helper()
	h, err := NewGitLabHandler(newTestRegistry(t), pub, nil, nil, internal.ServerConfig{
		WebhookTimeoutMS: 5000,
		MaxBodyBytes:     1 << 20,
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func gitlabRequest(app, event, token string, body []byte) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/gitlab/"+app, strings.NewReader(string(body)))
	r.SetPathValue("app", app)
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Gitlab-Event", event)
	r.Header.Set("X-Gitlab-Event-UUID", "g-1")
	if token != "" {
		r.Header.Set("X-Gitlab-Token", token)
	}
	return r
}

func TestGitLabMergeRequestOpened(t *testing.T) {
	pub := &capturingPublisher{}
	h := newGitLabTestHandler(t, pub)

	body := []byte(`{
	  "object_kind": "merge_request",
	  "project": {"path_with_namespace": "Acme/API"},
	  "object_attributes": {"iid": 3, "action": "open", "last_commit": {"id": "beef"}}
	}`)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, gitlabRequest("a1", "Merge Request Hook", testSecret, body))

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	validated := pub.byTopic("gitlab.validated")
	if len(validated) != 1 {
		t.Fatalf("expected 1 validated event, got %d", len(validated))
	}
	evt := validated[0]
	if evt.Kind != internal.KindPullRequestOpened || evt.ChangeID != "3" {
		t.Fatalf("unexpected event: %+v", evt)
	}
	if evt.Repo.FullName != "acme/api" {
		t.Fatalf("repository identity not case-folded: %q", evt.Repo.FullName)
	}
	if evt.Metadata["head_sha"] != "beef" {
		t.Fatalf("unexpected metadata: %v", evt.Metadata)
	}
}

func TestGitLabWrongTokenRejected(t *testing.T) {
	pub := &capturingPublisher{}
	h := newGitLabTestHandler(t, pub)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, gitlabRequest("a1", "Merge Request Hook", "not-it", []byte(`{}`)))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if len(pub.published) != 0 {
		t.Fatalf("rejected delivery must not publish")
	}
}

func TestGitLabNonMergeRequestNoteDropped(t *testing.T) {
	pub := &capturingPublisher{}
	h := newGitLabTestHandler(t, pub)

	body := []byte(`{
	  "object_kind": "note",
	  "project": {"path_with_namespace": "acme/api"},
	  "object_attributes": {"note": "on a commit", "noteable_type": "Commit"}
	}`)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, gitlabRequest("a1", "Note Hook", testSecret, body))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if len(pub.byTopic("gitlab.validated")) != 0 {
		t.Fatalf("commit notes must be dropped")
	}
}
