package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/abctrading/tradeauth"
	"github.com/abctrading/tradeauth/middleware"
)

// Authenticator is the part of *tradeauth.Engine the handlers call.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*tradeauth.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*tradeauth.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	ValidateAccess(ctx context.Context, accessToken string) (*tradeauth.AuthResult, error)
}

// --- Request DTOs ---

type loginRequest struct {
	Username string `json:"username" validate:"required,max=256"`
	Password string `json:"password" validate:"required,max=1024"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required,max=512,printascii"`
}

// --- Response types ---

type tokenResponse struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	ExpiresAt        time.Time `json:"expiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type meResponse struct {
	UserID    string    `json:"userId"`
	Scope     string    `json:"scope"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func newTokenResponse(p *tradeauth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		TokenType:        "Bearer",
		ExpiresAt:        p.ExpiresAt.UTC(),
		RefreshExpiresAt: p.RefreshExpiresAt.UTC(),
	}
}

// AuthHandler serves /api/v1/auth.
type AuthHandler struct {
	auth    Authenticator
	errs    errorWriter
	maxBody int64
}

func (h *AuthHandler) limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)

	var req loginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBodyError(w, err)
		return
	}

	pair, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

// Refresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)

	var req refreshRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBodyError(w, err)
		return
	}

	pair, err := h.auth.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.errs.write(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, newTokenResponse(pair))
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.limitBody(w, r)

	var req refreshRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeBodyError(w, err)
		return
	}

	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		h.errs.write(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /api/v1/auth/me. It runs behind middleware.RequireAccess.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	res, ok := middleware.AuthResultFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, codeUnauthorized, "authentication failed")
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		UserID:    res.UserID,
		Scope:     res.Scope,
		ExpiresAt: res.ExpiresAt.UTC(),
	})
}
