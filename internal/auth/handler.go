package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"citeo/internal/observability"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type tokenRequest struct {
	APIKey string `json:"api_key"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type revokeRequest struct {
	Token string `json:"token"`
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var body tokenRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	tokens, err := h.service.Login(strings.TrimSpace(body.APIKey))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	tokens, err := h.service.Refresh(strings.TrimSpace(body.RefreshToken))
	if err != nil {
		writeAuthError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tokens)
}

// Revoke always answers 200 once the body decodes: revoking an unknown,
// expired or already revoked token is not an error.
func (h *Handler) Revoke(w http.ResponseWriter, r *http.Request) {
	var body revokeRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	h.service.RevokeToken(strings.TrimSpace(body.Token))
	writeJSON(w, http.StatusOK, messageResponse{Message: "Token revoked successfully"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Authentication service is healthy. Active tokens: %d", h.service.ActiveTokenCount()),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		observability.CaptureError("auth", fmt.Errorf("encode response: %w", err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
