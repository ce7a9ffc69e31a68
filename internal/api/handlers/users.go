// users.go — управление пользователями (только admin, проверка в middleware).
package handlers

import (
	"net/http"

	"github.com/bigkaa/filedrop/internal/service"
)

type createUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// updateUserRequest — merge patch: отсутствующие поля не меняются.
type updateUserRequest struct {
	Username    *string `json:"username"`
	Email       *string `json:"email"`
	Password    *string `json:"password"`
	Role        *string `json:"role"`
	CanUpload   *bool   `json:"canUpload"`
	CanDownload *bool   `json:"canDownload"`
	CanManage   *bool   `json:"canManage"`
}

// ListUsers обрабатывает GET /api/users.
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "list_users", err)
		return
	}

	resp := make([]userResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateUser обрабатывает POST /api/users.
func (h *APIHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.users.Create(r.Context(), service.CreateUserParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		h.writeServiceError(w, r, "create_user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

// GetUser обрабатывает GET /api/users/{id}.
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "get_user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// UpdateUser обрабатывает PUT /api/users/{id}.
func (h *APIHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.users.Update(r.Context(), id, service.UpdateUserParams{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		Role:        req.Role,
		CanUpload:   req.CanUpload,
		CanDownload: req.CanDownload,
		CanManage:   req.CanManage,
	})
	if err != nil {
		h.writeServiceError(w, r, "update_user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// DeleteUser обрабатывает DELETE /api/users/{id}.
// Удалить собственную учётную запись нельзя.
func (h *APIHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := identity(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.users.Delete(r.Context(), actor.UserID, id); err != nil {
		h.writeServiceError(w, r, "delete_user", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Пользователь удалён"})
}
