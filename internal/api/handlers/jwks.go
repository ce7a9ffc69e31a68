// jwks.go — публикация открытых ключей подписи токенов.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/filedrop/internal/api/errors"
)

// KeySetProvider — источник JWK Set.
type KeySetProvider interface {
	JWKS(ctx context.Context) (json.RawMessage, error)
}

// JWKSHandler обслуживает GET /.well-known/jwks.json.
type JWKSHandler struct {
	keys   KeySetProvider
	logger *slog.Logger
}

// NewJWKSHandler создаёт обработчик JWKS.
func NewJWKSHandler(keys KeySetProvider, logger *slog.Logger) *JWKSHandler {
	return &JWKSHandler{
		keys:   keys,
		logger: logger.With(slog.String("component", "jwks")),
	}
}

// ServeHTTP отдаёт JWK Set в формате RFC 7517.
func (h *JWKSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := h.keys.JWKS(r.Context())
	if err != nil {
		h.logger.Error("Ошибка формирования JWKS", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось сформировать JWKS")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}
