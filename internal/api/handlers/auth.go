// auth.go — регистрация, вход и текущий пользователь.
package handlers

import (
	"net/http"

	"github.com/bigkaa/filedrop/internal/service"
)

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginRequest — username принимает и email.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Register обрабатывает POST /api/auth/register.
func (h *APIHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.auth.Register(r.Context(), service.RegisterParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		h.writeServiceError(w, r, "register", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAuthResponse(res))
}

// Login обрабатывает POST /api/auth/login.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeServiceError(w, r, "login", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuthResponse(res))
}

// Me обрабатывает GET /api/auth/me.
func (h *APIHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	u, err := h.auth.Me(r.Context(), id.UserID)
	if err != nil {
		h.writeServiceError(w, r, "me", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}
