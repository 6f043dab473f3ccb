// Package api exposes the settings and history service over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/luma/internal/exchange"
	"github.com/kalambet/luma/internal/history"
	"github.com/kalambet/luma/internal/metrics"
	"github.com/kalambet/luma/internal/settings"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps carries the service components the handlers dispatch to.
type Deps struct {
	Settings *settings.Engine
	History  *history.Ledger
	Exchange *exchange.Exchanger
	APIKey   string
}

// NewHandler builds the service router. /health and /metrics are open; every
// other route sits behind the API-key gate.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(metrics.Middleware)

	r.Get("/health", handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(deps.APIKey))

		r.Get("/settings", handleGetSettings(deps))
		r.Post("/settings", handleUpsertSettings(deps))
		r.Post("/profile", handleUpsertProfile(deps))
		r.Post("/notifications", handleUpsertNotifications(deps))
		r.Post("/theme", handleSetTheme(deps))
		r.Post("/security/biometric", handleSetBiometricLock(deps))

		r.Post("/history", handleAppendHistory(deps))
		r.Get("/history", handleListHistory(deps))
		r.Post("/history/clear", handleClearHistory(deps))
		r.Get("/history/export", handleExport(deps))
		r.Post("/history/import", handleImport(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func handleGetSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		view, err := deps.Settings.Get(r.Context(), userID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, view)
	}
}

func handleUpsertSettings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readBody(w, r)
		if !ok {
			return
		}

		var envelope struct {
			UserID   string          `json:"user_id"`
			Settings json.RawMessage `json:"settings"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if envelope.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		// Fields may arrive nested under "settings" or inline at the top
		// level; unknown keys (including user_id itself) are ignored.
		patchJSON := body
		if len(envelope.Settings) > 0 {
			patchJSON = envelope.Settings
		}
		var patch settings.Patch
		if err := json.Unmarshal(patchJSON, &patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid settings payload: %v", err)
			return
		}

		if _, err := deps.Settings.Apply(r.Context(), envelope.UserID, patch); err != nil {
			writeServiceError(w, err)
			return
		}
		writeOK(w)
	}
}

func handleUpsertProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID    string  `json:"user_id"`
			Name      *string `json:"name"`
			Email     *string `json:"email"`
			AvatarURL *string `json:"avatar_url"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		patch := settings.Patch{Name: req.Name, Email: req.Email, AvatarURL: req.AvatarURL}
		if _, err := deps.Settings.Apply(r.Context(), req.UserID, patch); err != nil {
			writeServiceError(w, err)
			return
		}
		writeOK(w)
	}
}

func handleUpsertNotifications(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID                string `json:"user_id"`
			NotificationsEnabled  *bool  `json:"notifications_enabled"`
			ChatNotifications     *bool  `json:"chat_notifications"`
			UpdateNotifications   *bool  `json:"update_notifications"`
			ReminderNotifications *bool  `json:"reminder_notifications"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		patch := settings.Patch{
			NotificationsEnabled:  req.NotificationsEnabled,
			ChatNotifications:     req.ChatNotifications,
			UpdateNotifications:   req.UpdateNotifications,
			ReminderNotifications: req.ReminderNotifications,
		}
		if _, err := deps.Settings.Apply(r.Context(), req.UserID, patch); err != nil {
			writeServiceError(w, err)
			return
		}
		writeOK(w)
	}
}

func handleSetTheme(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID    string  `json:"user_id"`
			ThemeMode *string `json:"theme_mode"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" || req.ThemeMode == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id and theme_mode are required")
			return
		}

		// dark_mode derivation happens in the engine.
		if _, err := deps.Settings.Apply(r.Context(), req.UserID, settings.Patch{ThemeMode: req.ThemeMode}); err != nil {
			writeServiceError(w, err)
			return
		}
		writeOK(w)
	}
}

func handleSetBiometricLock(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID  string `json:"user_id"`
			Enabled *bool  `json:"enabled"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" || req.Enabled == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id and enabled are required")
			return
		}

		if _, err := deps.Settings.Apply(r.Context(), req.UserID, settings.Patch{BiometricLock: req.Enabled}); err != nil {
			writeServiceError(w, err)
			return
		}
		writeOK(w)
	}
}

func handleAppendHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID  string  `json:"user_id"`
			Role    string  `json:"role"`
			Message *string `json:"message"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		// message must be present but may be empty.
		if req.UserID == "" || req.Role == "" || req.Message == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id, role, and message are required")
			return
		}

		if _, err := deps.History.Append(r.Context(), req.UserID, req.Role, *req.Message); err != nil {
			writeServiceError(w, err)
			return
		}
		writeOK(w)
	}
}

// historyItem is the wire shape of one transcript entry.
type historyItem struct {
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

func handleListHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		entries, err := deps.History.ReadAll(r.Context(), userID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		items := make([]historyItem, len(entries))
		for i, e := range entries {
			items[i] = historyItem{Role: e.Role, Message: e.Message, CreatedAt: e.CreatedAt}
		}
		writeJSON(w, items)
	}
}

func handleClearHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string `json:"user_id"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		removed, err := deps.History.Clear(r.Context(), req.UserID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, map[string]any{"ok": true, "removed": removed})
	}
}

func handleExport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		snap, err := deps.Exchange.Export(r.Context(), userID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, snap)
	}
}

func handleImport(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		replace := false
		if q := r.URL.Query().Get("replace"); q == "1" || q == "true" {
			replace = true
		}

		body, ok := readBody(w, r)
		if !ok {
			return
		}
		var req struct {
			UserID string `json:"user_id"`
			exchange.RawSnapshot
		}
		if err := json.Unmarshal(body, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		if err := deps.Exchange.Import(r.Context(), req.UserID, req.RawSnapshot, replace); err != nil {
			writeServiceError(w, err)
			return
		}
		writeOK(w)
	}
}

// readBody reads a size-capped request body, writing a 400 on failure.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "reading request body: %v", err)
		return nil, false
	}
	return body, true
}

// decodeBody decodes a size-capped JSON request body into v, writing a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// writeServiceError maps component errors to HTTP responses: invalid input to
// 400, anything else (a store failure) to 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, settings.ErrInvalidField),
		errors.Is(err, settings.ErrEmptyUserID),
		errors.Is(err, history.ErrInvalidRole):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, exchange.ErrMalformedSnapshot):
		httpError(w, http.StatusBadRequest, "malformed_snapshot", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
	}
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
