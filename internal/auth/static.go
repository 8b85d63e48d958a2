package auth

import "context"

// StaticTokenProvider returns a token obtained outside the tool, such as an
// OIDC token pasted from a login flow.
type StaticTokenProvider struct {
	token string
}

func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: token}
}

func (p *StaticTokenProvider) Token(context.Context) (string, error) {
	return p.token, nil
}
