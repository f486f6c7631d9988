package signedurl

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "signed-url-test-secret"

func newTestSigner(t *testing.T, now *time.Time) (*Signer, *MemoryNonceStore) {
	t.Helper()

	store := NewMemoryNonceStore()
	signer, err := NewSigner(testSecret, 24*time.Hour, "https://citeo.example/", store)
	require.NoError(t, err)
	signer.WithClock(func() time.Time { return *now })
	return signer, store
}

func paramsFromURL(t *testing.T, raw string) Params {
	t.Helper()

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	params, err := ParseParams(parsed.Query())
	require.NoError(t, err)
	return params
}

func TestAnalysisURLRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer, _ := newTestSigner(t, &now)

	raw, err := signer.AnalysisURL("2401.12345", "telegram")
	require.NoError(t, err)

	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "citeo.example", parsed.Host)
	assert.Equal(t, TriggerPath, parsed.Path)

	params := paramsFromURL(t, raw)
	assert.Equal(t, "2401.12345", params.ArxivID)
	assert.Equal(t, "telegram", params.Platform)
	assert.Equal(t, now.Unix(), params.Timestamp)

	require.NoError(t, signer.Verify(context.Background(), params))
}

func TestVerifyConsumesNonceOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer, _ := newTestSigner(t, &now)

	raw, err := signer.AnalysisURL("2401.12345", "feishu")
	require.NoError(t, err)
	params := paramsFromURL(t, raw)

	require.NoError(t, signer.Verify(context.Background(), params))
	assert.ErrorIs(t, signer.Verify(context.Background(), params), ErrNonceUsed)
}

func TestVerifyConcurrentUseSucceedsOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer, _ := newTestSigner(t, &now)

	raw, err := signer.AnalysisURL("2401.12345", "telegram")
	require.NoError(t, err)
	params := paramsFromURL(t, raw)

	var wg sync.WaitGroup
	var successes atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if signer.Verify(context.Background(), params) == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
}

func TestVerifyRejections(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		mutate func(p *Params)
		want   error
	}{
		{
			name:   "tampered arxiv id",
			mutate: func(p *Params) { p.ArxivID = "2401.99999" },
			want:   ErrInvalidSignature,
		},
		{
			name:   "tampered signature",
			mutate: func(p *Params) { p.Signature = flipFirstHex(p.Signature) },
			want:   ErrInvalidSignature,
		},
		{
			name:   "unsupported platform",
			mutate: func(p *Params) { p.Platform = "slack" },
			want:   ErrInvalidPlatform,
		},
		{
			name:   "expired",
			mutate: func(p *Params) { p.Timestamp = now.Add(-25 * time.Hour).Unix() },
			want:   ErrExpired,
		},
		{
			name:   "future timestamp",
			mutate: func(p *Params) { p.Timestamp = now.Add(10 * time.Minute).Unix() },
			want:   ErrFutureTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, store := newTestSigner(t, &now)

			raw, err := signer.AnalysisURL("2401.12345", "telegram")
			require.NoError(t, err)
			params := paramsFromURL(t, raw)
			tt.mutate(&params)

			err = signer.Verify(context.Background(), params)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsRejection(err))
			assert.Empty(t, store.used, "rejected links must not consume a nonce")
		})
	}
}

func TestVerifyAllowsSmallClockSkew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer, _ := newTestSigner(t, &now)

	raw, err := signer.AnalysisURL("2401.12345", "telegram")
	require.NoError(t, err)

	now = now.Add(-2 * time.Minute)
	require.NoError(t, signer.Verify(context.Background(), paramsFromURL(t, raw)))
}

func TestAnalysisURLRejectsUnknownPlatform(t *testing.T) {
	now := time.Now()
	signer, _ := newTestSigner(t, &now)

	_, err := signer.AnalysisURL("2401.12345", "email")
	assert.ErrorIs(t, err, ErrInvalidPlatform)
}

func TestParseParamsRequiresEveryField(t *testing.T) {
	_, err := ParseParams(url.Values{"arxiv_id": {"2401.12345"}})
	assert.ErrorIs(t, err, ErrMissingParams)

	_, err = ParseParams(url.Values{
		"arxiv_id":  {"2401.12345"},
		"platform":  {"telegram"},
		"timestamp": {"not-a-number"},
		"nonce":     {"n"},
		"signature": {"s"},
	})
	assert.ErrorIs(t, err, ErrMissingParams)
}

func TestNewSignerValidatesInput(t *testing.T) {
	store := NewMemoryNonceStore()

	_, err := NewSigner("short", time.Hour, "", store)
	assert.Error(t, err)

	_, err = NewSigner(testSecret, 0, "", store)
	assert.Error(t, err)

	_, err = NewSigner(testSecret, time.Hour, "", nil)
	assert.Error(t, err)
}

func TestCleanupExpiredDeletesOldNonces(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer, store := newTestSigner(t, &now)
	ctx := context.Background()

	_, err := store.Consume(ctx, "old", "2401.00001", "telegram", now.Add(-72*time.Hour))
	require.NoError(t, err)
	_, err = store.Consume(ctx, "recent", "2401.00002", "telegram", now.Add(-time.Hour))
	require.NoError(t, err)

	deleted, err := signer.CleanupExpired(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	fresh, err := store.Consume(ctx, "recent", "2401.00002", "telegram", now)
	require.NoError(t, err)
	assert.False(t, fresh)
}

func flipFirstHex(sig string) string {
	first := "0"
	if sig[0] == '0' {
		first = "1"
	}
	return first + sig[1:]
}
