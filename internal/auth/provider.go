// Package auth obtains bearer tokens for the service under test and attaches
// them to outgoing scenario requests.
package auth

import (
	"context"
	"fmt"

	"github.com/torosent/stagefire/internal/config"
)

// Provider supplies the access token sent with every request. Implementations
// cache tokens and are safe for concurrent use by all VUs.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// FromConfig builds the provider cfg selects. It returns nil, nil when
// authentication is disabled.
func FromConfig(ctx context.Context, cfg config.AuthConfig) (Provider, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case config.AuthTypeStatic:
		return NewStaticTokenProvider(cfg.StaticToken), nil
	case config.AuthTypeOAuth2ClientCredentials:
		return NewClientCredentialsProvider(ctx, OAuth2Options{
			TokenURL:            cfg.TokenURL,
			ClientID:            cfg.ClientID,
			ClientSecret:        cfg.ClientSecret,
			Scopes:              cfg.Scopes,
			RefreshBeforeExpiry: cfg.RefreshBeforeExpiry,
		}), nil
	case config.AuthTypeOAuth2ResourceOwner:
		return NewResourceOwnerProvider(ctx, OAuth2Options{
			TokenURL:            cfg.TokenURL,
			ClientID:            cfg.ClientID,
			ClientSecret:        cfg.ClientSecret,
			Username:            cfg.Username,
			Password:            cfg.Password,
			Scopes:              cfg.Scopes,
			RefreshBeforeExpiry: cfg.RefreshBeforeExpiry,
		}), nil
	default:
		return nil, fmt.Errorf("auth: unsupported type %q", cfg.Type)
	}
}
