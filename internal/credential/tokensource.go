package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
)

// AssertionExpiry is the lifetime of the signed grant assertion.
const AssertionExpiry = time.Hour

// DefaultScopes grant read access to the realtime database.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/firebase.database",
	"https://www.googleapis.com/auth/userinfo.email",
}

// ErrTokenExchange is returned when the token endpoint rejects the grant.
var ErrTokenExchange = errors.New("token exchange failed")

// TokenSourceConfig holds configuration for NewTokenSource.
type TokenSourceConfig struct {
	Account *ServiceAccount

	// Scopes requested for the access token (default: DefaultScopes).
	Scopes []string

	// HTTPClient performs the token exchange (default: http.DefaultClient).
	HTTPClient *http.Client
}

// NewTokenSource returns a caching JWT-bearer token source for the service
// account. ctx must outlive the source.
func NewTokenSource(ctx context.Context, cfg TokenSourceConfig) oauth2.TokenSource {
	if cfg.Account == nil || cfg.Account.key == nil {
		return errorSource{fmt.Errorf("%w: service account not loaded", ErrInvalid)}
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	if cfg.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, cfg.HTTPClient)
	}

	conf := &jwt.Config{
		Email:        cfg.Account.ClientEmail,
		PrivateKey:   []byte(cfg.Account.PrivateKey),
		PrivateKeyID: cfg.Account.PrivateKeyID,
		Scopes:       scopes,
		TokenURL:     cfg.Account.TokenURI,
		Expires:      AssertionExpiry,
	}
	return exchangeSource{src: conf.TokenSource(ctx)}
}

// exchangeSource classifies failures of the wrapped source. Rejections by
// the token endpoint match ErrTokenExchange.
type exchangeSource struct {
	src oauth2.TokenSource
}

func (s exchangeSource) Token() (*oauth2.Token, error) {
	tok, err := s.src.Token()
	if err == nil {
		return tok, nil
	}
	var rejected *oauth2.RetrieveError
	if errors.As(err, &rejected) {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchange, err)
	}
	return nil, fmt.Errorf("request token: %w", err)
}

type errorSource struct{ err error }

func (s errorSource) Token() (*oauth2.Token, error) { return nil, s.err }
