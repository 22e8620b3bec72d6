package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/groundwater/internal/apperr"
	"github.com/sells-group/groundwater/internal/auth"
	"github.com/sells-group/groundwater/internal/model"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	dash   Dashboard
	auth   Authenticator
	health Pinger
}

// authResponse is the envelope of the account routes.
type authResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	User    *model.UserProfile `json:"user,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}

// logFailure records a request error with its cause. Only 5xx are logged at
// error level.
func logFailure(route string, err error) {
	log := zap.L().With(zap.String("route", route), zap.String("kind", apperr.KindOf(err).String()))
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		log.Error("api: request failed", zap.Error(err))
		return
	}
	log.Debug("api: request rejected", zap.Error(err))
}

func (h *handlers) authFailure(w http.ResponseWriter, route string, err error, fallback string) {
	logFailure(route, err)
	writeJSON(w, apperr.HTTPStatus(err), authResponse{
		Success: false,
		Message: apperr.PublicMessage(err, fallback),
	})
}

func (h *handlers) signup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.authFailure(w, "signup", err, "")
		return
	}

	user, err := h.auth.Signup(r.Context(), req)
	if err != nil {
		h.authFailure(w, "signup", err, "Internal server error during registration")
		return
	}
	writeJSON(w, http.StatusCreated, authResponse{Success: true, Message: "User registered successfully", User: user})
}

func (h *handlers) signin(w http.ResponseWriter, r *http.Request) {
	var req auth.SigninRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.authFailure(w, "signin", err, "")
		return
	}

	user, err := h.auth.Signin(r.Context(), req)
	if err != nil {
		h.authFailure(w, "signin", err, "Internal server error during login")
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Success: true, Message: "Login successful", User: user})
}

func (h *handlers) home(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if strings.TrimSpace(q.Get("user_id")) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id required"})
		return
	}

	cards, err := h.dash.Home(r.Context(), q.Get("search"))
	if err != nil {
		logFailure("home", err)
		writeJSON(w, apperr.HTTPStatus(err), errorResponse{Error: apperr.PublicMessage(err, "Server error")})
		return
	}
	writeJSON(w, http.StatusOK, cards)
}

func (h *handlers) districts(w http.ResponseWriter, r *http.Request) {
	listing, err := h.dash.Districts(r.Context())
	if err != nil {
		logFailure("districts", err)
		writeJSON(w, apperr.HTTPStatus(err), errorResponse{Error: apperr.PublicMessage(err, "Failed to fetch districts")})
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.health.Ping(ctx); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
