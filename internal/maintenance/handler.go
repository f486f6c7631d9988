package maintenance

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"citeo/internal/observability"
)

// NonceCleaner deletes consumed signed-link nonces older than retention.
type NonceCleaner interface {
	CleanupExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// Purger evicts expired in-memory entries and reports how many it removed.
type Purger interface {
	Purge() int
}

type Result struct {
	DeletedNonces            int64 `json:"deleted_nonces"`
	EvictedRevocations       int   `json:"evicted_revocations"`
	EvictedRateLimitCounters int   `json:"evicted_rate_limit_counters"`
}

type CleanupHandler struct {
	nonces         NonceCleaner
	revocations    Purger
	rateLimits     Purger
	logger         *observability.Logger
	cronSecret     string
	nonceRetention time.Duration
}

// NewCleanupHandler builds the cron cleanup endpoint. nonces may be nil when
// signed links are disabled.
func NewCleanupHandler(
	nonces NonceCleaner,
	revocations Purger,
	rateLimits Purger,
	logger *observability.Logger,
	cronSecret string,
	nonceRetention time.Duration,
) *CleanupHandler {
	return &CleanupHandler{
		nonces:         nonces,
		revocations:    revocations,
		rateLimits:     rateLimits,
		logger:         logger,
		cronSecret:     strings.TrimSpace(cronSecret),
		nonceRetention: nonceRetention,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	var result Result
	if h.nonces != nil {
		deleted, err := h.nonces.CleanupExpired(r.Context(), h.nonceRetention)
		if err != nil {
			observability.CaptureError("maintenance", err)
			h.logger.Error("nonce_cleanup_failed", map[string]any{"error": err.Error()})
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
			return
		}
		result.DeletedNonces = deleted
	}
	if h.revocations != nil {
		result.EvictedRevocations = h.revocations.Purge()
	}
	if h.rateLimits != nil {
		result.EvictedRateLimitCounters = h.rateLimits.Purge()
	}

	h.logger.Info("cleanup_completed", map[string]any{
		"deleted_nonces":              result.DeletedNonces,
		"evicted_revocations":         result.EvictedRevocations,
		"evicted_rate_limit_counters": result.EvictedRateLimitCounters,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}

	presented := sha256.Sum256([]byte(strings.TrimSpace(parts[1])))
	expected := sha256.Sum256([]byte(h.cronSecret))
	return subtle.ConstantTimeCompare(presented[:], expected[:]) == 1
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
