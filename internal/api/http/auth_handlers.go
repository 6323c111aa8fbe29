package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/mcqlabs/examhub/internal/auth"
	"github.com/mcqlabs/examhub/internal/auth/middleware"
	"github.com/mcqlabs/examhub/internal/user"
)

// POST /auth/register  {"username":..., "email":..., "password":...}
func RegisterHandler(users *user.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Username == "" || req.Email == "" || req.Password == "" {
			writeErrMsg(w, http.StatusBadRequest, "username, email and password required")
			return
		}
		taken, err := users.Exists(r.Context(), req.Username, req.Email)
		if err != nil {
			writeErr(w, err)
			return
		}
		if taken {
			writeErrMsg(w, http.StatusBadRequest, "username or email already registered")
			return
		}
		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			writeErr(w, err)
			return
		}
		u, err := users.Create(r.Context(), req.Username, req.Email, hash)
		if err != nil {
			log.Printf("api: register %q: %v", req.Username, err)
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, u)
	}
}

// POST /auth/login  {"username":..., "password":...}
func LoginHandler(users *user.Store, tokens *middleware.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		id, hash, err := users.PasswordHash(r.Context(), req.Username)
		if errors.Is(err, user.ErrNotFound) || (err == nil && !auth.VerifyPassword(req.Password, hash)) {
			writeErrMsg(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		u, err := users.GetByID(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		if !u.IsActive {
			writeErrMsg(w, http.StatusUnauthorized, "account deactivated")
			return
		}
		tok, err := tokens.IssueToken(u)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"access_token": tok,
			"token_type":   "bearer",
		})
	}
}
