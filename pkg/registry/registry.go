package registry

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"opencr/internal"
)

// ErrAppNotFound is returned for unknown or inactive app ids.
var ErrAppNotFound = errors.New("app not found")

// Permission is an enumerated capability an app may hold.
type Permission string

const (
	PermReceiveWebhook Permission = "receive:webhook"
	PermReadRepository Permission = "read:repository"
	PermReadChange     Permission = "read:pull_request"
	PermWriteComment   Permission = "write:comment"
	PermWriteStatus    Permission = "write:status"
)

// Scope restricts an app to repositories under an owner. Patterns use
// path.Match syntax; an empty repository list means every repository of the
// owner.
type Scope struct {
	Owner        string   `yaml:"owner"`
	Repositories []string `yaml:"repositories"`
}

// Credentials hold the per-platform API tokens an app posts results with.
type Credentials struct {
	GitHubToken    string `yaml:"github_token"`
	GitLabToken    string `yaml:"gitlab_token"`
	BitbucketToken string `yaml:"bitbucket_token"`
}

// App is one registered tenant. Records are immutable after load; updates
// go through a full registry reload and snapshot swap.
type App struct {
	ID            string       `yaml:"id"`
	Name          string       `yaml:"name"`
	Owner         string       `yaml:"owner"`
	WebhookSecret string       `yaml:"webhook_secret"`
	APIKey        string       `yaml:"api_key"`
	Active        bool         `yaml:"active"`
	Permissions   []Permission `yaml:"permissions"`
	Scopes        []Scope      `yaml:"scopes"`
	Credentials   Credentials  `yaml:"credentials"`
}

// HasPermission reports whether the app holds the capability.
func (a App) HasPermission(p Permission) bool {
	for _, held := range a.Permissions {
		if held == p {
			return true
		}
	}
	return false
}

// InScope reports whether the app may act on the repository. An app with no
// scopes is unrestricted.
func (a App) InScope(repo internal.Repository) bool {
	if len(a.Scopes) == 0 {
		return true
	}
	for _, scope := range a.Scopes {
		if !strings.EqualFold(strings.TrimSpace(scope.Owner), repo.Owner) {
			continue
		}
		if len(scope.Repositories) == 0 {
			return true
		}
		for _, pattern := range scope.Repositories {
			pattern = strings.ToLower(strings.TrimSpace(pattern))
			if ok, err := path.Match(pattern, repo.Name); err == nil && ok {
				return true
			}
		}
	}
	return false
}

// Token returns the app's API credential for a platform.
func (a App) Token(platform string) string {
	switch platform {
	case "github":
		return a.Credentials.GitHubToken
	case "gitlab":
		return a.Credentials.GitLabToken
	case "bitbucket":
		return a.Credentials.BitbucketToken
	default:
		return ""
	}
}

type snapshot struct {
	apps map[string]App
}

// Registry is a read-mostly app lookup. Reload replaces the whole snapshot
// atomically so in-flight verifications never see a half-updated record.
type Registry struct {
	current atomic.Pointer[snapshot]
}

type appsFile struct {
	Apps []App `yaml:"apps"`
}

// Load reads an apps file and returns a registry serving its snapshot.
func Load(filePath string) (*Registry, error) {
	reg := &Registry{}
	if err := reg.Reload(filePath); err != nil {
		return nil, err
	}
	return reg, nil
}

// Reload re-reads the apps file and swaps the snapshot. On error the
// previous snapshot stays in place.
func (r *Registry) Reload(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	expanded := os.ExpandEnv(string(data))

	var file appsFile
	if err := yaml.Unmarshal([]byte(expanded), &file); err != nil {
		return err
	}

	apps := make(map[string]App, len(file.Apps))
	for i, app := range file.Apps {
		if app.ID == "" {
			return fmt.Errorf("app %d is missing an id", i)
		}
		if app.WebhookSecret == "" {
			return fmt.Errorf("app %s is missing a webhook secret", app.ID)
		}
		if _, dup := apps[app.ID]; dup {
			return fmt.Errorf("duplicate app id %s", app.ID)
		}
		apps[app.ID] = app
	}

	r.current.Store(&snapshot{apps: apps})
	return nil
}

// Resolve looks up an active app by id.
func (r *Registry) Resolve(appID string) (App, error) {
	snap := r.current.Load()
	if snap == nil {
		return App{}, ErrAppNotFound
	}
	app, ok := snap.apps[appID]
	if !ok || !app.Active {
		return App{}, ErrAppNotFound
	}
	return app, nil
}

// Len returns the number of registered apps, active or not.
func (r *Registry) Len() int {
	snap := r.current.Load()
	if snap == nil {
		return 0
	}
	return len(snap.apps)
}
