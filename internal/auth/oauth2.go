package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const tokenRequestTimeout = 30 * time.Second

// OAuth2Options configure the token endpoint flows.
type OAuth2Options struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	// Username and Password are only used by the resource owner flow.
	Username string
	Password string
	Scopes   []string
	// RefreshBeforeExpiry renews a token this long before it expires so a
	// request never carries one that lapses in flight.
	RefreshBeforeExpiry time.Duration
	// HTTPClient talks to the token endpoint; it defaults to a client with
	// a 30s timeout.
	HTTPClient *http.Client
}

// tokenProvider adapts an oauth2.TokenSource. Concurrent callers share one
// cached token and at most one refresh is in flight.
type tokenProvider struct {
	src oauth2.TokenSource
}

func (p *tokenProvider) Token(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tok, err := p.src.Token()
	if err != nil {
		return "", fmt.Errorf("fetch token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("fetch token: no access token in response")
	}
	return tok.AccessToken, nil
}

func tokenContext(ctx context.Context, opt OAuth2Options) context.Context {
	client := opt.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: tokenRequestTimeout}
	}
	// The source outlives the caller's request, so only its values are kept.
	return context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, client)
}

// NewClientCredentialsProvider implements the OAuth2 client credentials grant.
func NewClientCredentialsProvider(ctx context.Context, opt OAuth2Options) Provider {
	cc := &clientcredentials.Config{
		ClientID:     opt.ClientID,
		ClientSecret: opt.ClientSecret,
		TokenURL:     opt.TokenURL,
		Scopes:       opt.Scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	src := clientCredentialsSource{ctx: tokenContext(ctx, opt), conf: cc}
	return &tokenProvider{src: oauth2.ReuseTokenSourceWithExpiry(nil, src, opt.RefreshBeforeExpiry)}
}

// NewResourceOwnerProvider implements the resource owner password grant. It
// is a legacy flow; prefer client credentials where the identity provider
// supports it.
func NewResourceOwnerProvider(ctx context.Context, opt OAuth2Options) Provider {
	conf := &oauth2.Config{
		ClientID:     opt.ClientID,
		ClientSecret: opt.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: opt.TokenURL, AuthStyle: oauth2.AuthStyleInHeader},
		Scopes:       opt.Scopes,
	}
	tctx := tokenContext(ctx, opt)
	src := passwordSource{ctx: tctx, conf: conf, username: opt.Username, password: opt.Password}
	return &tokenProvider{src: oauth2.ReuseTokenSourceWithExpiry(nil, src, opt.RefreshBeforeExpiry)}
}

// clientCredentialsSource fetches a new token on every call; caching is left
// to the wrapping reuse source so RefreshBeforeExpiry applies.
type clientCredentialsSource struct {
	ctx  context.Context
	conf *clientcredentials.Config
}

func (s clientCredentialsSource) Token() (*oauth2.Token, error) {
	return s.conf.Token(s.ctx)
}

// passwordSource requests a fresh token with the user's credentials each
// time the cached one expires.
type passwordSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string
}

func (s passwordSource) Token() (*oauth2.Token, error) {
	return s.conf.PasswordCredentialsToken(s.ctx, s.username, s.password)
}
