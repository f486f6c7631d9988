package papers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"citeo/internal/auth"
	"citeo/internal/observability"
	"citeo/internal/signedurl"
)

// LinkVerifier checks and consumes a one-time link.
type LinkVerifier interface {
	Verify(ctx context.Context, params signedurl.Params) error
}

type Handler struct {
	analyzer Analyzer
	links    LinkVerifier
	logger   *observability.Logger
}

// NewHandler builds the paper endpoints. links may be nil when signed links
// are not configured.
func NewHandler(analyzer Analyzer, links LinkVerifier, logger *observability.Logger) *Handler {
	return &Handler{analyzer: analyzer, links: links, logger: logger}
}

type statusResponse struct {
	ArxivID string `json:"arxiv_id"`
	Status  Status `json:"status"`
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	identity, _ := auth.IdentityFromContext(r.Context())

	analysis, err := h.analyzer.RequestAnalysis(r.Context(), r.PathValue("arxiv_id"), "api", force)
	if err != nil {
		h.writeAnalyzerError(w, err)
		return
	}

	h.logger.Info("paper_analysis_requested", map[string]any{
		"arxiv_id": analysis.ArxivID,
		"subject":  identity.Subject,
		"method":   identity.Method,
		"force":    force,
	})

	writeJSON(w, http.StatusAccepted, statusResponse{ArxivID: analysis.ArxivID, Status: analysis.Status})
}

func (h *Handler) Analysis(w http.ResponseWriter, r *http.Request) {
	analysis, err := h.analyzer.AnalysisStatus(r.Context(), r.PathValue("arxiv_id"))
	if err != nil {
		h.writeAnalyzerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// TriggerAnalysis serves the one-time links sent with notifications. The link
// itself is the credential, so this route sits outside the auth middleware.
func (h *Handler) TriggerAnalysis(w http.ResponseWriter, r *http.Request) {
	if h.links == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	params, err := signedurl.ParseParams(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}

	if err := h.links.Verify(r.Context(), params); err != nil {
		if signedurl.IsRejection(err) {
			h.logger.Warn("signed_link_rejected", map[string]any{
				"arxiv_id": params.ArxivID,
				"platform": params.Platform,
				"reason":   err.Error(),
			})
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		observability.CaptureError("papers", err)
		h.logger.Error("signed_link_verify_failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to verify link")
		return
	}

	analysis, err := h.analyzer.RequestAnalysis(r.Context(), params.ArxivID, params.Platform, false)
	if err != nil {
		h.writeAnalyzerError(w, err)
		return
	}

	h.logger.Info("paper_analysis_triggered", map[string]any{
		"arxiv_id": analysis.ArxivID,
		"platform": params.Platform,
	})

	writeJSON(w, http.StatusAccepted, statusResponse{ArxivID: analysis.ArxivID, Status: analysis.Status})
}

func (h *Handler) writeAnalyzerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidArxivID):
		writeError(w, http.StatusBadRequest, "invalid arxiv id")
	case errors.Is(err, ErrPaperNotFound):
		writeError(w, http.StatusNotFound, "paper analysis not found")
	default:
		observability.CaptureError("papers", err)
		h.logger.Error("paper_analyzer_failed", map[string]any{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "analysis request failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
