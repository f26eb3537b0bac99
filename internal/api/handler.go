// Package api provides HTTP handlers for the chat gateway.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/chatgate/internal/domain"
	"github.com/ashureev/chatgate/internal/identity"
	"github.com/ashureev/chatgate/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// OnlineLister reports the users currently present on the gateway.
type OnlineLister interface {
	OnlineUsers(ctx context.Context) ([]*domain.User, error)
}

// Handler serves the REST surface next to the WebSocket endpoint.
type Handler struct {
	repo   store.Repository
	auth   identity.Authenticator
	online OnlineLister
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, auth identity.Authenticator, online OnlineLister) *Handler {
	return &Handler{
		repo:   repo,
		auth:   auth,
		online: online,
	}
}

// RegisterRoutes mounts the /api routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(identity.Middleware(h.auth))
			r.Get("/me", h.GetMe)
			r.Get("/online", h.GetOnline)
		})
	})
}

// Health returns the health status of the API and its store.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// GetMe returns the authenticated user's record.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil {
		slog.Error("Failed to load user", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	if user == nil {
		Error(w, http.StatusNotFound, "user not found")
		return
	}

	JSON(w, http.StatusOK, user)
}

// GetOnline returns the presence snapshot.
func (h *Handler) GetOnline(w http.ResponseWriter, r *http.Request) {
	users, err := h.online.OnlineUsers(r.Context())
	if err != nil {
		slog.Error("Failed to list online users", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
