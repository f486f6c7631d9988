package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSigner(t *testing.T, clock *testClock) *TokenSigner {
	t.Helper()

	signer, err := NewTokenSigner(testJWTSecret)
	require.NoError(t, err)
	return signer.WithClock(clock.Now)
}

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	clock := newTestClock()
	signer := newTestSigner(t, clock)

	token, issued, err := signer.Issue(DefaultSubject, KindAccess, time.Hour)
	require.NoError(t, err)
	assert.True(t, clock.Now().Equal(issued.IssuedAt))
	assert.True(t, clock.Now().Add(time.Hour).Equal(issued.ExpiresAt))
	assert.NotEmpty(t, issued.ID)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, DefaultSubject, claims.Subject)
	assert.Equal(t, KindAccess, claims.Kind)
	assert.Equal(t, issued.ID, claims.ID)
	assert.True(t, issued.IssuedAt.Equal(claims.IssuedAt))
	assert.True(t, issued.ExpiresAt.Equal(claims.ExpiresAt))
}

func TestIssueGivesDistinctIDs(t *testing.T) {
	signer := newTestSigner(t, newTestClock())

	_, first, err := signer.Issue(DefaultSubject, KindRefresh, time.Hour)
	require.NoError(t, err)
	_, second, err := signer.Issue(DefaultSubject, KindRefresh, time.Hour)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestIssueRejectsBadInput(t *testing.T) {
	signer := newTestSigner(t, newTestClock())

	_, _, err := signer.Issue("", KindAccess, time.Hour)
	assert.Error(t, err)

	_, _, err = signer.Issue(DefaultSubject, Kind("admin"), time.Hour)
	assert.Error(t, err)

	_, _, err = signer.Issue(DefaultSubject, KindAccess, 0)
	assert.Error(t, err)

	_, _, err = signer.Issue(DefaultSubject, KindAccess, -time.Minute)
	assert.Error(t, err)
}

func TestVerifyExpiredToken(t *testing.T) {
	clock := newTestClock()
	signer := newTestSigner(t, clock)

	token, _, err := signer.Issue(DefaultSubject, KindAccess, time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute + time.Second)

	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	claims, err := signer.VerifyIgnoringExpiry(token)
	require.NoError(t, err)
	assert.Equal(t, KindAccess, claims.Kind)
}

func TestVerifyRejectsTamperedToken(t *testing.T) {
	signer := newTestSigner(t, newTestClock())

	token, _, err := signer.Issue(DefaultSubject, KindAccess, time.Hour)
	require.NoError(t, err)

	for i := range token {
		if token[i] == '.' {
			continue
		}
		for _, replacement := range []byte{'A', 'B', '_'} {
			if token[i] == replacement {
				continue
			}
			tampered := []byte(token)
			tampered[i] = replacement

			_, err := signer.Verify(string(tampered))
			require.ErrorIs(t, err, ErrInvalidToken, "position %d %q->%q", i, token[i], replacement)
			require.NotErrorIs(t, err, ErrExpiredToken, "position %d", i)
		}
	}
}

func TestVerifyRejectsAlteredLastCharacter(t *testing.T) {
	signer := newTestSigner(t, newTestClock())

	for n := 0; n < 20; n++ {
		token, _, err := signer.Issue(DefaultSubject, KindRefresh, time.Hour)
		require.NoError(t, err)

		last := len(token) - 1
		for _, c := range []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_") {
			if c == token[last] {
				continue
			}
			tampered := []byte(token)
			tampered[last] = c

			_, err := signer.Verify(string(tampered))
			require.ErrorIs(t, err, ErrInvalidToken, "%q->%q", token[last], c)
		}
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	clock := newTestClock()
	token, _, err := newTestSigner(t, clock).Issue(DefaultSubject, KindAccess, time.Hour)
	require.NoError(t, err)

	other, err := NewTokenSigner("another-secret-that-is-long-enough-123")
	require.NoError(t, err)
	other.WithClock(clock.Now)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredTokenWithBadSignature(t *testing.T) {
	clock := newTestClock()
	token, _, err := newTestSigner(t, clock).Issue(DefaultSubject, KindAccess, time.Minute)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	other, err := NewTokenSigner("another-secret-that-is-long-enough-123")
	require.NoError(t, err)
	other.WithClock(clock.Now)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.NotErrorIs(t, err, ErrExpiredToken)

	_, err = other.VerifyIgnoringExpiry(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	signer := newTestSigner(t, newTestClock())

	for _, token := range []string{"", "   ", "not.a.jwt", "a.b"} {
		_, err := signer.Verify(token)
		assert.ErrorIs(t, err, ErrInvalidToken, token)
	}
}

func TestVerifyRejectsOtherAlgorithms(t *testing.T) {
	clock := newTestClock()
	signer := newTestSigner(t, clock)

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, tokenClaims{
		Kind: KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   DefaultSubject,
			ID:        "id",
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	})
	encoded, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	_, err = signer.Verify(encoded)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsMissingClaims(t *testing.T) {
	clock := newTestClock()
	signer := newTestSigner(t, clock)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Kind: KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   DefaultSubject,
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		},
	})
	encoded, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	_, err = signer.Verify(encoded)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewTokenSignerRequiresSecret(t *testing.T) {
	_, err := NewTokenSigner(" ")
	assert.Error(t, err)
}
