package scm

import (
	"context"
	"errors"
	"fmt"

	"opencr/internal"
	"opencr/pkg/registry"
)

// ErrNoCredentials is returned when neither the app record nor the provider
// configuration yields a usable API credential.
var ErrNoCredentials = errors.New("no api credentials for platform")

// Factory builds platform adapters for a resolved app. GitHub can fall back
// to GitHub App installation tokens when the app record carries no token.
type Factory struct {
	providers     internal.ProvidersConfig
	commandPrefix string
	githubApp     *githubAppAuth
}

func NewFactory(providers internal.ProvidersConfig, commandPrefix string) *Factory {
	f := &Factory{providers: providers, commandPrefix: commandPrefix}
	if providers.GitHub.AppID != 0 && providers.GitHub.PrivateKeyPath != "" {
		f.githubApp = newGitHubAppAuth(providers.GitHub.AppID, providers.GitHub.PrivateKeyPath, providers.GitHub.BaseURL)
	}
	return f
}

// Adapter returns the adapter for the platform, authenticated with the app's
// credentials. installationID is only consulted for GitHub App auth.
func (f *Factory) Adapter(ctx context.Context, platform string, app registry.App, installationID int64) (Adapter, error) {
	switch platform {
	case "github":
		token := app.Token(platform)
		if token == "" && f.githubApp != nil {
			var err error
			token, err = f.githubApp.installationToken(ctx, installationID)
			if err != nil {
				return nil, err
			}
		}
		if token == "" {
			return nil, fmt.Errorf("%w: github app %q", ErrNoCredentials, app.ID)
		}
		client, err := newGitHubClient(ctx, token, f.providers.GitHub.BaseURL)
		if err != nil {
			return nil, err
		}
		return NewGitHubAdapter(client, f.commandPrefix), nil

	case "gitlab":
		token := app.Token(platform)
		if token == "" {
			return nil, fmt.Errorf("%w: gitlab app %q", ErrNoCredentials, app.ID)
		}
		client, err := newGitLabClient(token, f.providers.GitLab.BaseURL)
		if err != nil {
			return nil, err
		}
		return NewGitLabAdapter(client, f.commandPrefix), nil

	case "bitbucket":
		token := app.Token(platform)
		if token == "" {
			return nil, fmt.Errorf("%w: bitbucket app %q", ErrNoCredentials, app.ID)
		}
		client, err := newBitbucketClient(token, f.providers.Bitbucket.BaseURL)
		if err != nil {
			return nil, err
		}
		return NewBitbucketAdapter(client, f.commandPrefix), nil

	default:
		return nil, fmt.Errorf("unknown platform %q", platform)
	}
}
