package auth

import "time"

// Kind separates short-lived access tokens from single-use refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

func (k Kind) valid() bool {
	return k == KindAccess || k == KindRefresh
}

// DefaultSubject is the identity of the single API-key holder.
const DefaultSubject = "default"

// Credential methods recorded on an Identity.
const (
	MethodAPIKey   = "api_key"
	MethodToken    = "jwt"
	MethodDisabled = "disabled"
)

// Claims is the decoded payload of a signed token.
type Claims struct {
	Subject   string
	Kind      Kind
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Identity is what AuthMiddleware attaches to an authenticated request.
type Identity struct {
	Subject string
	Method  string
}
