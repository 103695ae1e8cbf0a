package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"opencr/internal"
)

const appsYAML = `apps:
  - id: a1
    name: Review Bot
    owner: platform-team
    webhook_secret: s3cret
    api_key: key-1
    active: true
    permissions: [receive:webhook, write:comment]
    scopes:
      - owner: org
        repositories: [repo, "tools-*"]
  - id: a2
    name: Disabled App
    owner: platform-team
    webhook_secret: other
    api_key: key-2
    active: false
`

func writeApps(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apps.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write apps: %v", err)
	}
	return path
}

func TestResolve(t *testing.T) {
	reg, err := Load(writeApps(t, appsYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	app, err := reg.Resolve("a1")
	if err != nil {
		t.Fatalf("resolve a1: %v", err)
	}
	if app.Name != "Review Bot" {
		t.Fatalf("unexpected app: %+v", app)
	}
	if !app.HasPermission(PermReceiveWebhook) {
		t.Fatal("expected receive:webhook permission")
	}
	if app.HasPermission(PermWriteStatus) {
		t.Fatal("did not expect write:status permission")
	}
}

func TestResolveUnknownAndInactive(t *testing.T) {
	reg, err := Load(writeApps(t, appsYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if _, err := reg.Resolve("nope"); !errors.Is(err, ErrAppNotFound) {
		t.Fatalf("expected ErrAppNotFound for unknown app, got %v", err)
	}
	if _, err := reg.Resolve("a2"); !errors.Is(err, ErrAppNotFound) {
		t.Fatalf("expected ErrAppNotFound for inactive app, got %v", err)
	}
}

func TestInScope(t *testing.T) {
	reg, err := Load(writeApps(t, appsYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	app, err := reg.Resolve("a1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	cases := []struct {
		repo internal.Repository
		want bool
	}{
		{internal.Repository{Owner: "org", Name: "repo"}.Normalize(), true},
		{internal.Repository{Owner: "org", Name: "tools-ci"}.Normalize(), true},
		{internal.Repository{Owner: "org", Name: "secret"}.Normalize(), false},
		{internal.Repository{Owner: "other", Name: "repo"}.Normalize(), false},
	}
	for _, tc := range cases {
		if got := app.InScope(tc.repo); got != tc.want {
			t.Fatalf("InScope(%s) = %v, want %v", tc.repo.FullName, got, tc.want)
		}
	}
}

func TestInScopeUnrestrictedWithoutScopes(t *testing.T) {
	app := App{ID: "x", Active: true}
	if !app.InScope(internal.Repository{Owner: "any", Name: "thing"}.Normalize()) {
		t.Fatal("app without scopes must be unrestricted")
	}
}

func TestReloadSwapsSnapshot(t *testing.T) {
	path := writeApps(t, appsYAML)
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	updated := `apps:
  - id: a1
    name: Renamed Bot
    owner: platform-team
    webhook_secret: rotated
    api_key: key-1
    active: true
`
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite apps: %v", err)
	}
	if err := reg.Reload(path); err != nil {
		t.Fatalf("reload: %v", err)
	}

	app, err := reg.Resolve("a1")
	if err != nil {
		t.Fatalf("resolve after reload: %v", err)
	}
	if app.Name != "Renamed Bot" || app.WebhookSecret != "rotated" {
		t.Fatalf("snapshot not swapped: %+v", app)
	}
	if _, err := reg.Resolve("a2"); !errors.Is(err, ErrAppNotFound) {
		t.Fatal("expected removed app to be gone after reload")
	}
}

func TestReloadKeepsOldSnapshotOnError(t *testing.T) {
	path := writeApps(t, appsYAML)
	reg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := os.WriteFile(path, []byte("apps: [{name: no-id}]"), 0o600); err != nil {
		t.Fatalf("rewrite apps: %v", err)
	}
	if err := reg.Reload(path); err == nil {
		t.Fatal("expected reload error for app without id")
	}

	if _, err := reg.Resolve("a1"); err != nil {
		t.Fatalf("old snapshot must survive a failed reload: %v", err)
	}
}
