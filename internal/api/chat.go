package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/signdesk/internal/chat"
	"github.com/ashureev/signdesk/internal/identity"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	Email     string `json:"email"`
}

// ValidateEmailRequest is the body of POST /validate-email.
type ValidateEmailRequest struct {
	Email     string `json:"email"`
	SessionID string `json:"session_id"`
}

// SaveQuoteRequest is the body of POST /save-quote.
type SaveQuoteRequest struct {
	SessionID string         `json:"session_id"`
	Email     string         `json:"email"`
	FormData  map[string]any `json:"form_data"`
}

// RegisterRoutes registers the chat routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.HandleChat)
	r.Post("/validate-email", h.ValidateEmail)
	r.Post("/save-quote", h.SaveQuote)
	r.Get("/get-quote/{session_id}", h.GetQuote)
	r.Get("/session/{session_id}/messages", h.GetSessionMessages)
}

// sessionKey picks the body key, then the key resolved by identity.Middleware.
func sessionKey(r *http.Request, fromBody string) string {
	if key := identity.SanitizeSessionKey(fromBody); key != "" {
		return key
	}
	return identity.SessionKeyFromContext(r.Context())
}

// HandleChat runs one chat turn. A request without a session key starts a
// new session.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !h.limiter.Allow(clientIP(r)) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req ChatRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.SessionID != "" && identity.SanitizeSessionKey(req.SessionID) == "" {
		Error(w, http.StatusBadRequest, "invalid session_id")
		return
	}

	key := sessionKey(r, req.SessionID)
	if key == "" {
		key = identity.NewSessionKey()
	}

	h.logger.Info("Chat request",
		"session_id", key,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"message_length", len(req.Message))

	res, err := h.chat.HandleTurn(r.Context(), key, req.Message, req.Email)
	if err != nil {
		if errors.Is(err, chat.ErrGeneration) {
			JSON(w, http.StatusInternalServerError, map[string]interface{}{
				"error":         "response generation failed",
				"message":       res.Reply,
				"session_id":    res.SessionKey,
				"message_count": res.MessageCount,
			})
			return
		}
		Error(w, statusFor(err), err.Error())
		return
	}
	JSON(w, http.StatusOK, res)
}

// ValidateEmail checks an email address and links it to the session's CRM
// contact when valid.
func (h *Handler) ValidateEmail(w http.ResponseWriter, r *http.Request) {
	var req ValidateEmailRequest
	if !decode(w, r, &req) {
		return
	}
	res := h.chat.ValidateEmail(r.Context(), sessionKey(r, req.SessionID), req.Email)
	if !res.Valid {
		JSON(w, http.StatusBadRequest, res)
		return
	}
	JSON(w, http.StatusOK, res)
}

// SaveQuote stores a quote-form submission.
func (h *Handler) SaveQuote(w http.ResponseWriter, r *http.Request) {
	var req SaveQuoteRequest
	if !decode(w, r, &req) {
		return
	}
	quoteID, err := h.chat.SaveQuoteSubmission(r.Context(), sessionKey(r, req.SessionID), req.Email, req.FormData)
	if err != nil {
		h.logger.Error("Quote save failed", "session_id", req.SessionID, "error", err)
		Error(w, statusFor(err), err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"quote_id": quoteID,
		"message":  "Quote saved successfully",
	})
}

// GetQuote returns the stored quote, or an empty form when none exists.
func (h *Handler) GetQuote(w http.ResponseWriter, r *http.Request) {
	key := identity.SanitizeSessionKey(chi.URLParam(r, "session_id"))
	if key == "" {
		Error(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	q, err := h.chat.GetQuote(r.Context(), key)
	if err != nil {
		Error(w, statusFor(err), err.Error())
		return
	}
	if q == nil {
		JSON(w, http.StatusOK, map[string]interface{}{"form_data": map[string]any{}})
		return
	}
	JSON(w, http.StatusOK, q)
}

// GetSessionMessages returns the session transcript.
func (h *Handler) GetSessionMessages(w http.ResponseWriter, r *http.Request) {
	key := identity.SanitizeSessionKey(chi.URLParam(r, "session_id"))
	if key == "" {
		Error(w, http.StatusBadRequest, "invalid session_id")
		return
	}
	tr, err := h.chat.GetSessionTranscript(r.Context(), key)
	if err != nil {
		Error(w, statusFor(err), err.Error())
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"success":       tr.Found,
		"session_id":    tr.SessionKey,
		"messages":      tr.Messages,
		"email":         tr.Email,
		"message_count": tr.MessageCount(),
	})
}
