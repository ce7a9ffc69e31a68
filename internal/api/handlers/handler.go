// Пакет handlers — HTTP-обработчики API filedrop.
// Ошибки сервисного слоя переводятся в единый формат apierrors.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/filedrop/internal/api/errors"
	"github.com/bigkaa/filedrop/internal/api/middleware"
	"github.com/bigkaa/filedrop/internal/service"
)

// maxJSONBody — ограничение тела JSON-запросов.
const maxJSONBody = 1 << 20

// APIHandler — обработчики /api, делегирующие в сервисы.
type APIHandler struct {
	auth    *service.AuthService
	users   *service.UserService
	files   *service.FileService
	access  *service.AccessService
	uploads *service.UploadService
	chunked *service.ChunkedUploadService
	logger  *slog.Logger
}

// NewAPIHandler создаёт обработчики API.
func NewAPIHandler(
	auth *service.AuthService,
	users *service.UserService,
	files *service.FileService,
	access *service.AccessService,
	uploads *service.UploadService,
	chunked *service.ChunkedUploadService,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		auth:    auth,
		users:   users,
		files:   files,
		access:  access,
		uploads: uploads,
		chunked: chunked,
		logger:  logger.With(slog.String("component", "api")),
	}
}

// writeJSON записывает JSON-ответ с указанным статус-кодом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// messageResponse — ответ без данных.
type messageResponse struct {
	Message string `json:"message"`
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ.
// Неожиданные ошибки логируются с контекстом операции.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrConflict):
		apierrors.Conflict(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		apierrors.Unauthorized(w, "Неверные учётные данные")
	case errors.Is(err, service.ErrTooLarge):
		apierrors.FileTooLarge(w, err.Error())
	case errors.Is(err, service.ErrIO):
		h.logger.Error("Ошибка ввода-вывода",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.IOError(w, "Ошибка чтения или записи на диск")
	default:
		h.logger.Error("Внутренняя ошибка",
			slog.String("operation", op),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
	}
}

// decodeJSON читает тело запроса в v. Ошибка уже записана в ответ.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректное тело запроса: %v", err))
		return false
	}
	return true
}

// pathID разбирает числовой параметр маршрута. Ошибка уже записана в ответ.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный идентификатор %s: %q", name, raw))
		return 0, false
	}
	return id, true
}

// identity возвращает пользователя запроса. Без него — 401.
func identity(w http.ResponseWriter, r *http.Request) (middleware.Identity, bool) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return middleware.Identity{}, false
	}
	return id, true
}
