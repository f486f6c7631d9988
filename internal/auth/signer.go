package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type tokenClaims struct {
	Kind Kind `json:"typ"`
	jwt.RegisteredClaims
}

// TokenSigner mints and verifies HS256 tokens. It is the only holder of the
// signing secret; replacing the secret invalidates every outstanding token.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

func NewTokenSigner(secret string) (*TokenSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token signing secret is required")
	}
	return &TokenSigner{secret: []byte(secret), now: time.Now}, nil
}

func (s *TokenSigner) WithClock(now func() time.Time) *TokenSigner {
	if now != nil {
		s.now = now
	}
	return s
}

// Issue signs a new token for subject. JWT timestamps have second precision,
// so lifetimes under a second are rejected.
func (s *TokenSigner) Issue(subject string, kind Kind, lifetime time.Duration) (string, Claims, error) {
	if subject == "" {
		return "", Claims{}, errors.New("token subject is required")
	}
	if !kind.valid() {
		return "", Claims{}, fmt.Errorf("unknown token kind %q", kind)
	}
	if lifetime < time.Second {
		return "", Claims{}, fmt.Errorf("token lifetime must be at least one second, got %s", lifetime)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", Claims{}, fmt.Errorf("generate token id: %w", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	claims := Claims{
		Subject:   subject,
		Kind:      kind,
		ID:        id.String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(lifetime),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			ID:        claims.ID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	encoded, err := token.SignedString(s.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign jwt: %w", err)
	}

	return encoded, claims, nil
}

// Verify fails with ErrExpiredToken when the signature is good but the token
// is past expiry, and with ErrInvalidToken for everything else.
func (s *TokenSigner) Verify(tokenString string) (Claims, error) {
	return s.parse(tokenString, true)
}

// VerifyIgnoringExpiry checks signature and shape only.
func (s *TokenSigner) VerifyIgnoringExpiry(tokenString string) (Claims, error) {
	return s.parse(tokenString, false)
}

func (s *TokenSigner) parse(tokenString string, checkExpiry bool) (Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Claims{}, ErrInvalidToken
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
		// Reject non-zero trailing bits so every character of the token is significant.
		jwt.WithStrictDecoding(),
	}
	if !checkExpiry {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &parsed, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return parsed.toClaims()
}

func (c tokenClaims) toClaims() (Claims, error) {
	if !c.Kind.valid() || c.Subject == "" || c.ID == "" || c.IssuedAt == nil || c.ExpiresAt == nil {
		return Claims{}, fmt.Errorf("%w: missing required claims", ErrInvalidToken)
	}
	if !c.ExpiresAt.After(c.IssuedAt.Time) {
		return Claims{}, fmt.Errorf("%w: expiry precedes issue time", ErrInvalidToken)
	}

	return Claims{
		Subject:   c.Subject,
		Kind:      c.Kind,
		ID:        c.ID,
		IssuedAt:  c.IssuedAt.UTC(),
		ExpiresAt: c.ExpiresAt.UTC(),
	}, nil
}
