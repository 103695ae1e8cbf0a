package scm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	gh "github.com/google/go-github/v57/github"

	"opencr/internal"
)

func newTestGitHubAdapter(t *testing.T, handler http.Handler) (*GitHubAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := gh.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	client.BaseURL = base
	return NewGitHubAdapter(client, "@opencr"), srv
}

func TestGitHubFetchChange(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/api/pulls/7", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"title": "Add retry budget",
			"body":  "Bounded retries for the poster.",
			"state": "open",
			"user":  map[string]interface{}{"login": "mira"},
			"head":  map[string]interface{}{"sha": "feedc0de"},
			"base":  map[string]interface{}{"sha": "c0ffee42"},
		})
	})
	mux.HandleFunc("GET /repos/acme/api/pulls/7/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"filename": "poster/poster.go", "status": "modified", "additions": 12, "deletions": 3},
		})
	})
	adapter, _ := newTestGitHubAdapter(t, mux)

	change, err := adapter.FetchChange(context.Background(), internal.Repository{Owner: "acme", Name: "api"}, "7")
	if err != nil {
		t.Fatalf("fetch change: %v", err)
	}
	if change.Title != "Add retry budget" || change.Author != "mira" {
		t.Fatalf("unexpected change: %+v", change)
	}
	if change.HeadSHA != "feedc0de" || change.BaseSHA != "c0ffee42" {
		t.Fatalf("unexpected shas: %+v", change)
	}
	if len(change.Files) != 1 || change.Files[0].Path != "poster/poster.go" || change.Files[0].Additions != 12 {
		t.Fatalf("unexpected files: %+v", change.Files)
	}
}

func TestGitHubFetchChangeRejectsNonNumericID(t *testing.T) {
	adapter, _ := newTestGitHubAdapter(t, http.NotFoundHandler())
	if _, err := adapter.FetchChange(context.Background(), internal.Repository{Owner: "acme", Name: "api"}, "abc"); err == nil {
		t.Fatalf("expected error for non-numeric change id")
	}
}

func TestGitHubPostCommentEmbedsMarker(t *testing.T) {
	var posted string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/api/issues/7/comments", func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Body string `json:"body"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			t.Errorf("decode comment: %v", err)
		}
		posted = in.Body
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": 1})
	})
	adapter, _ := newTestGitHubAdapter(t, mux)

	err := adapter.PostComment(context.Background(), internal.Repository{Owner: "acme", Name: "api"}, "7", "Review done.", "key-1")
	if err != nil {
		t.Fatalf("post comment: %v", err)
	}
	if !strings.HasPrefix(posted, "Review done.") || !strings.Contains(posted, "<!-- opencr:key-1 -->") {
		t.Fatalf("marker missing from posted body: %q", posted)
	}
}

func TestGitHubPostStatus(t *testing.T) {
	var got map[string]interface{}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/acme/api/statuses/feedc0de", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode status: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": 1})
	})
	adapter, _ := newTestGitHubAdapter(t, mux)

	err := adapter.PostStatus(context.Background(), internal.Repository{Owner: "acme", Name: "api"}, Status{
		Ref:         "feedc0de",
		State:       StatusPending,
		Context:     "opencr/review",
		Description: "review queued",
	})
	if err != nil {
		t.Fatalf("post status: %v", err)
	}
	if got["state"] != "pending" || got["context"] != "opencr/review" {
		t.Fatalf("unexpected status payload: %v", got)
	}
}
