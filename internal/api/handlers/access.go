// access.go — выдача, отзыв и журнал доступа к файлам (только admin).
package handlers

import (
	"net/http"

	apierrors "github.com/bigkaa/filedrop/internal/api/errors"
	"github.com/bigkaa/filedrop/internal/repository"
)

type grantRequest struct {
	UserID int64 `json:"userId"`
}

// GrantAccess обрабатывает POST /api/files/{id}/access.
// 409 — доступ уже выдан.
func (h *APIHandler) GrantAccess(w http.ResponseWriter, r *http.Request) {
	fileID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req grantRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		apierrors.ValidationError(w, "Обязателен userId")
		return
	}

	grant, err := h.access.Grant(r.Context(), fileID, req.UserID)
	if err != nil {
		h.writeServiceError(w, r, "grant_access", err)
		return
	}
	writeJSON(w, http.StatusCreated, grantResponse{
		ID:        grant.ID,
		FileID:    grant.FileID,
		UserID:    grant.UserID,
		GrantedAt: grant.GrantedAt,
	})
}

// RevokeAccess обрабатывает DELETE /api/files/{id}/access/{userId}.
// Отсутствие выдачи — не ошибка; 404 только если нет файла.
func (h *APIHandler) RevokeAccess(w http.ResponseWriter, r *http.Request) {
	fileID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := pathID(w, r, "userId")
	if !ok {
		return
	}

	if err := h.access.Revoke(r.Context(), fileID, userID); err != nil {
		h.writeServiceError(w, r, "revoke_access", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Доступ отозван"})
}

// ListAccess обрабатывает GET /api/files/{id}/access.
// Журнал выдач, новые первыми.
func (h *APIHandler) ListAccess(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	fileID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	f, err := h.files.Get(r.Context(), id, fileID)
	if err != nil {
		h.writeServiceError(w, r, "list_access", err)
		return
	}

	granted, err := h.access.ListGranted(r.Context(), fileID, repository.OrderGrantedDesc)
	if err != nil {
		h.writeServiceError(w, r, "list_access", err)
		return
	}

	list := make([]accessEntry, 0, len(granted))
	for _, g := range granted {
		list = append(list, accessEntry{
			UserID:    g.UserID,
			Username:  g.Username,
			Email:     g.Email,
			GrantedAt: g.GrantedAt,
		})
	}
	writeJSON(w, http.StatusOK, accessListResponse{
		FileID:     f.ID,
		FileName:   f.FileName,
		AccessList: list,
	})
}
