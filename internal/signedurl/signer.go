// Package signedurl builds and checks the one-time links embedded in
// notification messages. A link carries an HMAC-SHA256 signature over the
// paper id, platform, timestamp and nonce, and each nonce can be used once.
package signedurl

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"
)

const (
	TriggerPath  = "/api/papers/trigger-analysis"
	maxClockSkew = 5 * time.Minute
	keyInfo      = "citeo signed-url v1"
)

var allowedPlatforms = map[string]bool{
	"telegram": true,
	"feishu":   true,
}

var (
	ErrMissingParams    = errors.New("missing signed url parameters")
	ErrFutureTimestamp  = errors.New("signed url timestamp is in the future")
	ErrExpired          = errors.New("signed url has expired")
	ErrInvalidPlatform  = errors.New("signed url platform is not supported")
	ErrInvalidSignature = errors.New("signed url signature is invalid")
	ErrNonceUsed        = errors.New("signed url has already been used")
)

// NonceStore remembers consumed nonces.
type NonceStore interface {
	// Consume records nonce and reports false if it was already recorded.
	Consume(ctx context.Context, nonce, arxivID, platform string, at time.Time) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Params struct {
	ArxivID   string
	Platform  string
	Timestamp int64
	Nonce     string
	Signature string
}

func ParseParams(values url.Values) (Params, error) {
	p := Params{
		ArxivID:   strings.TrimSpace(values.Get("arxiv_id")),
		Platform:  strings.TrimSpace(values.Get("platform")),
		Nonce:     strings.TrimSpace(values.Get("nonce")),
		Signature: strings.TrimSpace(values.Get("signature")),
	}
	if p.ArxivID == "" || p.Platform == "" || p.Nonce == "" || p.Signature == "" {
		return Params{}, ErrMissingParams
	}

	ts, err := strconv.ParseInt(strings.TrimSpace(values.Get("timestamp")), 10, 64)
	if err != nil {
		return Params{}, ErrMissingParams
	}
	p.Timestamp = ts
	return p, nil
}

type Signer struct {
	key     []byte
	expiry  time.Duration
	baseURL string
	nonces  NonceStore
	now     func() time.Time
}

func NewSigner(secret string, expiry time.Duration, baseURL string, nonces NonceStore) (*Signer, error) {
	if len(secret) < 16 {
		return nil, errors.New("signing secret must be at least 16 characters")
	}
	if expiry <= 0 {
		return nil, errors.New("signed url expiry must be positive")
	}
	if nonces == nil {
		return nil, errors.New("nonce store is required")
	}

	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}

	return &Signer{
		key:     key,
		expiry:  expiry,
		baseURL: strings.TrimRight(baseURL, "/"),
		nonces:  nonces,
		now:     time.Now,
	}, nil
}

func (s *Signer) WithClock(now func() time.Time) *Signer {
	if now != nil {
		s.now = now
	}
	return s
}

// AnalysisURL returns a fresh one-time link that triggers analysis of
// arxivID from the given platform.
func (s *Signer) AnalysisURL(arxivID, platform string) (string, error) {
	if !allowedPlatforms[platform] {
		return "", ErrInvalidPlatform
	}

	p := Params{
		ArxivID:   arxivID,
		Platform:  platform,
		Timestamp: s.now().Unix(),
		Nonce:     uuid.NewString(),
	}
	p.Signature = s.sign(p)

	query := url.Values{}
	query.Set("arxiv_id", p.ArxivID)
	query.Set("platform", p.Platform)
	query.Set("timestamp", strconv.FormatInt(p.Timestamp, 10))
	query.Set("nonce", p.Nonce)
	query.Set("signature", p.Signature)

	return s.baseURL + TriggerPath + "?" + query.Encode(), nil
}

// Verify checks p and consumes its nonce. The signature is checked before
// the nonce is touched so forged links cannot burn real ones.
func (s *Signer) Verify(ctx context.Context, p Params) error {
	now := s.now()
	issued := time.Unix(p.Timestamp, 0)

	if issued.After(now.Add(maxClockSkew)) {
		return ErrFutureTimestamp
	}
	if now.Sub(issued) > s.expiry {
		return ErrExpired
	}
	if !allowedPlatforms[p.Platform] {
		return ErrInvalidPlatform
	}

	expected := s.sign(p)
	if !hmac.Equal([]byte(p.Signature), []byte(expected)) {
		return ErrInvalidSignature
	}

	fresh, err := s.nonces.Consume(ctx, p.Nonce, p.ArxivID, p.Platform, now)
	if err != nil {
		return fmt.Errorf("consume nonce: %w", err)
	}
	if !fresh {
		return ErrNonceUsed
	}
	return nil
}

// CleanupExpired deletes nonces older than retention.
func (s *Signer) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	return s.nonces.DeleteOlderThan(ctx, s.now().Add(-retention))
}

func (s *Signer) sign(p Params) string {
	canonical := fmt.Sprintf("%s|%s|%d|%s", p.ArxivID, p.Platform, p.Timestamp, p.Nonce)
	mac := hmac.New(sha256.New, s.key)
	_, _ = mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))
}

// IsRejection reports whether err is a verdict on the link itself rather
// than a storage failure.
func IsRejection(err error) bool {
	return errors.Is(err, ErrMissingParams) ||
		errors.Is(err, ErrFutureTimestamp) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrInvalidPlatform) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrNonceUsed)
}
