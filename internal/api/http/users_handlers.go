package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcqlabs/examhub/internal/auth"
	"github.com/mcqlabs/examhub/internal/auth/middleware"
	"github.com/mcqlabs/examhub/internal/user"
)

// GET /users/me
func MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, ok := middleware.CurrentUser(r.Context())
		if !ok {
			writeErrMsg(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

func selfOrAdmin(r *http.Request) (user.User, string, bool) {
	me, ok := middleware.CurrentUser(r.Context())
	id := chi.URLParam(r, "id")
	if !ok {
		return user.User{}, id, false
	}
	return me, id, me.ID == id || me.IsAdmin
}

// GET /users/{id}
func GetUserHandler(users *user.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, id, allowed := selfOrAdmin(r)
		if !allowed {
			writeErrMsg(w, http.StatusForbidden, "forbidden")
			return
		}
		u, err := users.GetByID(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// PUT /users/{id}
// Partial update: only the fields present in the body change. A password
// change requires the old password unless an admin is acting on another user.
func UpdateUserHandler(users *user.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, id, allowed := selfOrAdmin(r)
		if !allowed {
			writeErrMsg(w, http.StatusForbidden, "forbidden")
			return
		}
		var req struct {
			Username    *string `json:"username"`
			Email       *string `json:"email"`
			FullName    *string `json:"full_name"`
			PhoneNumber *string `json:"phone_number"`
			Birth       *string `json:"birth"`
			NewPassword *string `json:"new_password"`
			OldPassword *string `json:"old_password"`
			IsActive    *bool   `json:"is_active"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		up := user.ProfileUpdate{
			Username:    req.Username,
			Email:       req.Email,
			FullName:    req.FullName,
			PhoneNumber: req.PhoneNumber,
			Birth:       req.Birth,
		}

		if req.NewPassword != nil && *req.NewPassword != "" {
			if me.ID == id {
				target, err := users.GetByID(r.Context(), id)
				if err != nil {
					writeErr(w, err)
					return
				}
				_, hash, err := users.PasswordHash(r.Context(), target.Username)
				if err != nil {
					writeErr(w, err)
					return
				}
				if req.OldPassword == nil || !auth.VerifyPassword(*req.OldPassword, hash) {
					writeErrMsg(w, http.StatusBadRequest, "old password does not match")
					return
				}
			} else if !me.IsAdmin {
				writeErrMsg(w, http.StatusForbidden, "forbidden")
				return
			}
			newHash, err := auth.HashPassword(*req.NewPassword)
			if err != nil {
				writeErr(w, err)
				return
			}
			up.PasswordHash = &newHash
		}

		if req.IsActive != nil {
			if !me.IsAdmin {
				writeErrMsg(w, http.StatusForbidden, "only admins can change is_active")
				return
			}
			up.IsActive = req.IsActive
		}

		if err := users.UpdateProfile(r.Context(), id, up); err != nil {
			writeErr(w, err)
			return
		}
		u, err := users.GetByID(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	}
}

// PUT /users/{id}/deactivate
func DeactivateUserHandler(users *user.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, id, allowed := selfOrAdmin(r)
		if !allowed {
			writeErrMsg(w, http.StatusForbidden, "forbidden")
			return
		}
		if err := users.SetActive(r.Context(), id, false); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
	}
}

// PUT /users/{id}/activate  (admin only)
func ActivateUserHandler(users *user.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, ok := middleware.CurrentUser(r.Context())
		if !ok || !me.IsAdmin {
			writeErrMsg(w, http.StatusForbidden, "forbidden")
			return
		}
		if err := users.SetActive(r.Context(), chi.URLParam(r, "id"), true); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "activated"})
	}
}
