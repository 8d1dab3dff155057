package domain

import (
	"context"
	"strings"
	"time"
)

// Credential is the OAuth2 token set the client authenticates with.
type Credential struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	Scopes       []string
}

// Expired reports whether the access token has passed its expiry at now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// TokenResponse is the decoded body of a token endpoint response. A zero
// field means the field was absent.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Scope        string
}

// Validate requires every field a usable credential depends on.
func (r TokenResponse) Validate() error {
	var missing []string
	if r.AccessToken == "" {
		missing = append(missing, "access_token")
	}
	if r.RefreshToken == "" {
		missing = append(missing, "refresh_token")
	}
	if r.ExpiresIn <= 0 {
		missing = append(missing, "expires_in")
	}
	if r.TokenType == "" {
		missing = append(missing, "token_type")
	}
	if len(missing) > 0 {
		return NewDomainError("TokenResponse.Validate", ErrMalformedTokenResponse,
			"missing "+strings.Join(missing, ", "))
	}
	return nil
}

// TokenExchanger talks to the OAuth2 token endpoint.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code, redirectURI string) (TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (TokenResponse, error)
	// RPCToken fetches a short-lived token accepted by AUTHORIZE.
	RPCToken(ctx context.Context) (string, error)
}

// CredentialStore persists credentials per application id.
type CredentialStore interface {
	// Load returns ErrCredentialNotFound when nothing is stored.
	Load(ctx context.Context, clientID string) (*Credential, error)
	Save(ctx context.Context, clientID string, cred Credential) error
	Delete(ctx context.Context, clientID string) error
	Close() error
}
