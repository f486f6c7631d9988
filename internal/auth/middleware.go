package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"citeo/internal/observability"
)

// Protection is the level an endpoint declares when it is mounted.
type Protection int

const (
	Public Protection = iota
	Protected
	ProtectedRateLimited
)

const (
	APIKeyHeader     = "X-API-Key"
	APIKeyQueryParam = "api_key"
)

type TokenVerifier interface {
	Verify(token string) (Claims, error)
}

type RevocationChecker interface {
	IsRevoked(id string) bool
}

type CredentialChecker interface {
	Validate(presented string) bool
}

type Limiter interface {
	Allow(caller, endpoint string) (bool, time.Duration)
}

type MiddlewareOptions struct {
	Verifier    TokenVerifier
	Revocations RevocationChecker
	Credentials CredentialChecker
	Limiter     Limiter
	Logger      *observability.Logger
	Metrics     *observability.Metrics

	// InsecureDisabled lets every request through with a "disabled"
	// identity. Config validation refuses it in production.
	InsecureDisabled bool
	// AllowQueryAPIKey accepts ?api_key=. URLs end up in access logs, so it
	// is off unless asked for.
	AllowQueryAPIKey bool
}

type Middleware struct {
	opts MiddlewareOptions
}

func NewMiddleware(opts MiddlewareOptions) (*Middleware, error) {
	if !opts.InsecureDisabled {
		if opts.Verifier == nil || opts.Revocations == nil || opts.Credentials == nil {
			return nil, errors.New("auth middleware requires a verifier, revocation checker and credential checker")
		}
	}
	if opts.Limiter == nil {
		return nil, errors.New("auth middleware requires a rate limiter")
	}
	return &Middleware{opts: opts}, nil
}

func (m *Middleware) Protect(next http.Handler) http.Handler {
	return m.Require(Protected, "", next)
}

func (m *Middleware) ProtectRateLimited(endpoint string, next http.Handler) http.Handler {
	return m.Require(ProtectedRateLimited, endpoint, next)
}

// Require wraps next according to level. Public handlers are returned as is.
func (m *Middleware) Require(level Protection, endpoint string, next http.Handler) http.Handler {
	if level == Public {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.Authenticate(r)
		if err != nil {
			writeAuthError(w, err)
			return
		}

		if level == ProtectedRateLimited && identity.Method != MethodDisabled {
			if allowed, retryAfter := m.opts.Limiter.Allow(identity.Subject, endpoint); !allowed {
				m.opts.Metrics.RecordRateLimited(endpoint)
				m.opts.Logger.Warn("auth_rate_limited", map[string]any{
					"subject":  identity.Subject,
					"endpoint": endpoint,
				})
				writeAuthError(w, RateLimitedError{Endpoint: endpoint, RetryAfter: retryAfter})
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// Authenticate resolves the request's credentials. A bearer token is tried
// first, then the API key. Failures are always ErrUnauthorized; the precise
// reason only goes to the log.
func (m *Middleware) Authenticate(r *http.Request) (Identity, error) {
	if m.opts.InsecureDisabled {
		return Identity{Subject: DefaultSubject, Method: MethodDisabled}, nil
	}

	if token, ok := bearerToken(r); ok {
		identity, err := m.authenticateBearer(token)
		if err == nil {
			m.opts.Metrics.RecordAuthDecision(MethodToken, "accepted")
			return identity, nil
		}
		m.opts.Metrics.RecordAuthDecision(MethodToken, "rejected")
		m.opts.Logger.Warn("auth_bearer_rejected", map[string]any{
			"reason": rejectReason(err),
			"path":   r.URL.Path,
		})
	}

	if key := m.apiKey(r); key != "" {
		if m.opts.Credentials.Validate(key) {
			m.opts.Metrics.RecordAuthDecision(MethodAPIKey, "accepted")
			return Identity{Subject: DefaultSubject, Method: MethodAPIKey}, nil
		}
		m.opts.Metrics.RecordAuthDecision(MethodAPIKey, "rejected")
		m.opts.Logger.Warn("auth_api_key_rejected", map[string]any{"path": r.URL.Path})
	}

	return Identity{}, ErrUnauthorized
}

func (m *Middleware) authenticateBearer(token string) (Identity, error) {
	claims, err := m.opts.Verifier.Verify(token)
	if err != nil {
		return Identity{}, err
	}
	if claims.Kind != KindAccess {
		return Identity{}, errWrongTokenKind
	}
	if m.opts.Revocations.IsRevoked(claims.ID) {
		return Identity{}, errTokenRevoked
	}
	return Identity{Subject: claims.Subject, Method: MethodToken}, nil
}

func (m *Middleware) apiKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
		return key
	}
	if m.opts.AllowQueryAPIKey {
		return strings.TrimSpace(r.URL.Query().Get(APIKeyQueryParam))
	}
	return ""
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

// writeAuthError is the single mapping from auth failures to HTTP status.
func writeAuthError(w http.ResponseWriter, err error) {
	var limited RateLimitedError
	switch {
	case errors.As(err, &limited):
		writeRateLimited(w, limited)
	case IsUnauthorized(err):
		w.Header().Set("WWW-Authenticate", `Bearer, ApiKey`)
		writeError(w, http.StatusUnauthorized, "not authenticated")
	default:
		observability.CaptureError("auth", err)
		writeError(w, http.StatusInternalServerError, "authentication failed")
	}
}
