package papers

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"
)

// EndpointAnalyze is the rate limit key for analysis requests.
const EndpointAnalyze = "papers.analyze"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var arxivIDPattern = regexp.MustCompile(`^\d{4}\.\d{4,5}(v\d+)?$`)

var (
	ErrInvalidArxivID = errors.New("invalid arxiv id")
	ErrPaperNotFound  = errors.New("paper analysis not found")
)

type Analysis struct {
	ArxivID     string    `json:"arxiv_id"`
	Status      Status    `json:"status"`
	Source      string    `json:"source"`
	RequestedAt time.Time `json:"requested_at"`
}

// Analyzer is the boundary to the analysis pipeline.
type Analyzer interface {
	RequestAnalysis(ctx context.Context, arxivID, source string, force bool) (Analysis, error)
	AnalysisStatus(ctx context.Context, arxivID string) (Analysis, error)
}

func NormalizeArxivID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if !arxivIDPattern.MatchString(id) {
		return "", ErrInvalidArxivID
	}
	return id, nil
}

// StatusBoard is an in-memory Analyzer that records requests for the
// pipeline workers to pick up.
type StatusBoard struct {
	mu       sync.Mutex
	analyses map[string]Analysis
	now      func() time.Time
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{
		analyses: make(map[string]Analysis),
		now:      time.Now,
	}
}

func (b *StatusBoard) WithClock(now func() time.Time) *StatusBoard {
	if now != nil {
		b.now = now
	}
	return b
}

// RequestAnalysis queues arxivID. A pending or running analysis is returned
// as is; a finished one is only queued again when force is set.
func (b *StatusBoard) RequestAnalysis(_ context.Context, arxivID, source string, force bool) (Analysis, error) {
	id, err := NormalizeArxivID(arxivID)
	if err != nil {
		return Analysis{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if current, ok := b.analyses[id]; ok {
		switch {
		case current.Status == StatusPending || current.Status == StatusProcessing:
			return current, nil
		case current.Status == StatusCompleted && !force:
			return current, nil
		}
	}

	analysis := Analysis{
		ArxivID:     id,
		Status:      StatusPending,
		Source:      source,
		RequestedAt: b.now().UTC(),
	}
	b.analyses[id] = analysis
	return analysis, nil
}

func (b *StatusBoard) AnalysisStatus(_ context.Context, arxivID string) (Analysis, error) {
	id, err := NormalizeArxivID(arxivID)
	if err != nil {
		return Analysis{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	analysis, ok := b.analyses[id]
	if !ok {
		return Analysis{}, ErrPaperNotFound
	}
	return analysis, nil
}

// SetStatus records progress reported by the pipeline.
func (b *StatusBoard) SetStatus(arxivID string, status Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	analysis, ok := b.analyses[arxivID]
	if !ok {
		return ErrPaperNotFound
	}
	analysis.Status = status
	b.analyses[arxivID] = analysis
	return nil
}
