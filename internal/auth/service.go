package auth

import (
	"errors"
	"fmt"
	"time"

	"citeo/internal/observability"
)

const (
	defaultAccessTTL  = 60 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
)

// Service is the token issuer: it exchanges the API key for a token pair,
// rotates refresh tokens and revokes tokens on logout.
type Service struct {
	credentials *CredentialValidator
	signer      *TokenSigner
	store       *RevocationStore
	logger      *observability.Logger
	metrics     *observability.Metrics
	accessTTL   time.Duration
	refreshTTL  time.Duration
}

func NewService(credentials *CredentialValidator, signer *TokenSigner, store *RevocationStore, logger *observability.Logger) *Service {
	return &Service{
		credentials: credentials,
		signer:      signer,
		store:       store,
		logger:      logger,
		accessTTL:   defaultAccessTTL,
		refreshTTL:  defaultRefreshTTL,
	}
}

// WithTokenTTL overrides the lifetimes. Non-positive values keep the
// defaults, and the refresh lifetime must exceed the access lifetime.
func (s *Service) WithTokenTTL(accessTTL, refreshTTL time.Duration) error {
	access, refresh := s.accessTTL, s.refreshTTL
	if accessTTL > 0 {
		access = accessTTL
	}
	if refreshTTL > 0 {
		refresh = refreshTTL
	}
	if access >= refresh {
		return fmt.Errorf("access token ttl %s must be shorter than refresh token ttl %s", access, refresh)
	}
	s.accessTTL, s.refreshTTL = access, refresh
	return nil
}

func (s *Service) WithMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

func (s *Service) AccessTTL() time.Duration {
	return s.accessTTL
}

func (s *Service) Login(apiKey string) (Tokens, error) {
	if !s.credentials.Validate(apiKey) {
		s.logger.Warn("auth_login_rejected", map[string]any{"reason": "invalid_api_key"})
		s.metrics.RecordAuthDecision(MethodAPIKey, "rejected")
		return Tokens{}, ErrUnauthorized
	}

	tokens, err := s.issueTokens(DefaultSubject)
	if err != nil {
		return Tokens{}, err
	}

	s.metrics.RecordAuthDecision(MethodAPIKey, "login")
	s.logger.Info("auth_login_succeeded", map[string]any{"subject": DefaultSubject})
	return tokens, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// consumed before the new pair is minted, so a replayed token fails.
func (s *Service) Refresh(refreshToken string) (Tokens, error) {
	claims, err := s.signer.Verify(refreshToken)
	if err == nil && claims.Kind != KindRefresh {
		err = errWrongTokenKind
	}
	if err == nil && !s.store.Consume(claims.ID, claims.ExpiresAt) {
		err = errTokenRevoked
	}
	if err != nil {
		fields := map[string]any{"reason": rejectReason(err)}
		if claims.ID != "" {
			fields["token_id"] = claims.ID
		}
		s.logger.Warn("auth_refresh_rejected", fields)
		s.metrics.RecordAuthDecision(MethodToken, "refresh_rejected")
		return Tokens{}, ErrUnauthorized
	}

	tokens, err := s.issueTokens(claims.Subject)
	if err != nil {
		// The old token is already rotated out; the client has to log in again.
		return Tokens{}, err
	}

	s.metrics.RecordAuthDecision(MethodToken, "refreshed")
	s.logger.Info("auth_refresh_token_rotated", map[string]any{"token_id": claims.ID, "subject": claims.Subject})
	return tokens, nil
}

// RevokeToken marks the token's id revoked, ignoring expiry. Unparseable
// tokens are logged and ignored. It reports whether anything changed.
func (s *Service) RevokeToken(token string) bool {
	claims, err := s.signer.VerifyIgnoringExpiry(token)
	if err != nil {
		s.logger.Warn("auth_revoke_ignored", map[string]any{"reason": rejectReason(err)})
		return false
	}

	if !s.store.Revoke(claims.ID, claims.ExpiresAt) {
		s.logger.Info("auth_revoke_noop", map[string]any{"token_id": claims.ID, "kind": string(claims.Kind)})
		return false
	}

	s.logger.Info("auth_token_revoked", map[string]any{"token_id": claims.ID, "kind": string(claims.Kind)})
	return true
}

func (s *Service) ActiveTokenCount() int {
	return s.store.Active()
}

func (s *Service) issueTokens(subject string) (Tokens, error) {
	access, _, err := s.signer.Issue(subject, KindAccess, s.accessTTL)
	if err != nil {
		return Tokens{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, refreshClaims, err := s.signer.Issue(subject, KindRefresh, s.refreshTTL)
	if err != nil {
		return Tokens{}, fmt.Errorf("issue refresh token: %w", err)
	}
	s.store.Track(refreshClaims.ID, refreshClaims.ExpiresAt)

	s.metrics.RecordTokenIssued(string(KindAccess))
	s.metrics.RecordTokenIssued(string(KindRefresh))

	return Tokens{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// IsUnauthorized reports whether err should surface as a 401.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidToken)
}
