// auth.go — JWT middleware для аутентификации и авторизации.
// Токены RS256 выпускает сам сервис (internal/auth); валидация идёт через
// keyfunc над тем же jwkset storage, что публикуется в /.well-known/jwks.json.
// После проверки подписи личность перечитывается из хранилища: удалённый
// пользователь получает 401, для проверки роли используется текущая роль.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/filedrop/internal/api/errors"
	"github.com/bigkaa/filedrop/internal/auth"
	"github.com/bigkaa/filedrop/internal/domain/rbac"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyIdentity — ключ Identity в контексте запроса.
const ContextKeyIdentity contextKey = "identity"

// ErrUnknownIdentity — пользователь из токена не существует.
var ErrUnknownIdentity = errors.New("пользователь токена не найден")

// Identity — аутентифицированный пользователь запроса.
type Identity struct {
	UserID   int64
	Username string
	Role     string
}

// IdentityResolver перечитывает пользователя по ID из токена.
// Возвращает ErrUnknownIdentity, если пользователя нет.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, userID int64) (Identity, error)
}

// JWTAuth — middleware для JWT-аутентификации.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	issuer    string
	jwtLeeway time.Duration
	resolver  IdentityResolver
	logger    *slog.Logger
}

// JWTAuthConfig — параметры для создания JWT middleware.
type JWTAuthConfig struct {
	// Storage — jwkset storage с публичными ключами
	Storage jwkset.Storage
	// Issuer — ожидаемое значение iss (пусто — не проверяется)
	Issuer string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware над jwkset storage.
func NewJWTAuth(authCfg JWTAuthConfig, resolver IdentityResolver, logger *slog.Logger) (*JWTAuth, error) {
	k, err := keyfunc.New(keyfunc.Options{
		Storage: authCfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return NewJWTAuthWithKeyfunc(k, authCfg.Issuer, authCfg.JWTLeeway, resolver, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	jwtLeeway time.Duration,
	resolver IdentityResolver,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:      kf,
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
		resolver:  resolver,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Токен берётся из заголовка Authorization (Bearer) или параметра ?token=
// (ссылки на скачивание). Проверяются подпись (RS256), exp, iss;
// Identity помещается в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, msg := extractToken(r)
			if tokenString == "" {
				apierrors.Unauthorized(w, msg)
				return
			}

			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				opts = append(opts, jwt.WithIssuer(j.issuer))
			}

			claims := &auth.Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()), opts...)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			userID, err := claims.UserID()
			if err != nil {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			identity, err := j.resolver.ResolveIdentity(r.Context(), userID)
			if err != nil {
				if errors.Is(err, ErrUnknownIdentity) {
					apierrors.Unauthorized(w, "Пользователь не найден")
					return
				}
				j.logger.Error("Ошибка получения пользователя токена",
					slog.Int64("user_id", userID),
					slog.String("error", err.Error()),
				)
				apierrors.InternalError(w, "Внутренняя ошибка")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyIdentity, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken возвращает токен из Authorization или ?token=.
// При отсутствии токена возвращает "" и сообщение для ответа 401.
func extractToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, ""
		}
		return "", "Отсутствует заголовок Authorization"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", "Неверный формат Authorization: ожидается Bearer <token>"
	}
	if parts[1] == "" {
		return "", "Пустой Bearer token"
	}
	return parts[1], ""
}

// RequireRole возвращает middleware, пропускающий только указанные роли.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}

			for _, role := range roles {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}

			apierrors.Forbidden(w, "Недостаточно прав: требуется роль "+strings.Join(roles, " или "))
		})
	}
}

// RequireUploader — роль uploader или admin.
func RequireUploader() func(http.Handler) http.Handler {
	return RequireRole(rbac.RoleUploader, rbac.RoleAdmin)
}

// RequireAdmin — роль admin.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(rbac.RoleAdmin)
}

// IdentityFromContext извлекает Identity из контекста запроса.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(ContextKeyIdentity).(Identity)
	return identity, ok
}

// WithIdentity помещает Identity в контекст.
// Используется в тестах обработчиков.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, identity)
}
