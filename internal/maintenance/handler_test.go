package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCleaner struct {
	retention time.Duration
	deleted   int64
	err       error
}

func (s *stubCleaner) CleanupExpired(_ context.Context, retention time.Duration) (int64, error) {
	s.retention = retention
	return s.deleted, s.err
}

type stubPurger int

func (p stubPurger) Purge() int { return int(p) }

func cleanupRequest(method, authorization string) *http.Request {
	req := httptest.NewRequest(method, "/internal/maintenance/cleanup", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	return req
}

func TestCleanupRunsEveryPurge(t *testing.T) {
	cleaner := &stubCleaner{deleted: 4}
	handler := NewCleanupHandler(cleaner, stubPurger(2), stubPurger(9), nil, "cron-secret", 48*time.Hour)

	rec := httptest.NewRecorder()
	handler.Handle(rec, cleanupRequest(http.MethodPost, "Bearer cron-secret"))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 48*time.Hour, cleaner.retention)

	var body struct {
		Status string `json:"status"`
		Result Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, Result{DeletedNonces: 4, EvictedRevocations: 2, EvictedRateLimitCounters: 9}, body.Result)
}

func TestCleanupWithoutNonceStore(t *testing.T) {
	handler := NewCleanupHandler(nil, stubPurger(1), stubPurger(0), nil, "cron-secret", time.Hour)

	rec := httptest.NewRecorder()
	handler.Handle(rec, cleanupRequest(http.MethodGet, "bearer cron-secret"))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCleanupRejectsWrongSecret(t *testing.T) {
	handler := NewCleanupHandler(nil, stubPurger(0), stubPurger(0), nil, "cron-secret", time.Hour)

	for _, header := range []string{"", "Bearer wrong", "Basic cron-secret", "cron-secret"} {
		rec := httptest.NewRecorder()
		handler.Handle(rec, cleanupRequest(http.MethodPost, header))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestCleanupDisabledWithoutSecret(t *testing.T) {
	handler := NewCleanupHandler(nil, stubPurger(0), stubPurger(0), nil, "", time.Hour)

	rec := httptest.NewRecorder()
	handler.Handle(rec, cleanupRequest(http.MethodPost, "Bearer anything"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCleanupRejectsOtherMethods(t *testing.T) {
	handler := NewCleanupHandler(nil, stubPurger(0), stubPurger(0), nil, "cron-secret", time.Hour)

	rec := httptest.NewRecorder()
	handler.Handle(rec, cleanupRequest(http.MethodDelete, "Bearer cron-secret"))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCleanupNonceFailure(t *testing.T) {
	cleaner := &stubCleaner{err: errors.New("database unavailable")}
	handler := NewCleanupHandler(cleaner, stubPurger(0), stubPurger(0), nil, "cron-secret", time.Hour)

	rec := httptest.NewRecorder()
	handler.Handle(rec, cleanupRequest(http.MethodPost, "Bearer cron-secret"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
