package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bigkaa/filedrop/internal/auth"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key"

// testIssuer — ожидаемое значение iss.
const testIssuer = "filedrop"

// stubResolver — IdentityResolver над map.
type stubResolver struct {
	users map[int64]Identity
	err   error
}

func (s *stubResolver) ResolveIdentity(_ context.Context, userID int64) (Identity, error) {
	if s.err != nil {
		return Identity{}, s.err
	}
	id, ok := s.users[userID]
	if !ok {
		return Identity{}, ErrUnknownIdentity
	}
	return id, nil
}

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// generateTestToken генерирует JWT токен для тестов.
func generateTestToken(key *rsa.PrivateKey, claims auth.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	return token.SignedString(key)
}

// validClaims — claims пользователя 1 со сроком действия час.
func validClaims(role string) auth.Claims {
	return auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Username: "alice",
		Role:     role,
	}
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// newTestJWTAuth создаёт JWTAuth с RSA ключом для тестов.
func newTestJWTAuth(key *rsa.PrivateKey, resolver IdentityResolver) *JWTAuth {
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		panic("не удалось создать keyfunc из JWKS JSON: " + err.Error())
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewJWTAuthWithKeyfunc(kf, testIssuer, 0, resolver, logger)
}

// defaultResolver — пользователь 1 с текущей ролью uploader.
func defaultResolver() *stubResolver {
	return &stubResolver{users: map[int64]Identity{
		1: {UserID: 1, Username: "alice", Role: "uploader"},
	}}
}

// TestJWTAuth_ValidToken проверяет валидный JWT и перечитывание роли.
func TestJWTAuth_ValidToken(t *testing.T) {
	key, err := generateTestKey()
	if err != nil {
		t.Fatal(err)
	}

	a := newTestJWTAuth(key, defaultResolver())
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatal("Identity отсутствует в контексте")
		}
		if identity.UserID != 1 || identity.Username != "alice" {
			t.Errorf("неожиданная Identity: %+v", identity)
		}
		// Роль берётся из хранилища, а не из токена
		if identity.Role != "uploader" {
			t.Errorf("ожидалась текущая роль uploader, получена %s", identity.Role)
		}
		w.WriteHeader(http.StatusOK)
	}))

	tokenString, err := generateTestToken(key, validClaims("admin"))
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
}

// TestJWTAuth_QueryToken проверяет токен в параметре ?token=.
func TestJWTAuth_QueryToken(t *testing.T) {
	key, _ := generateTestKey()
	a := newTestJWTAuth(key, defaultResolver())
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tokenString, _ := generateTestToken(key, validClaims("uploader"))

	req := httptest.NewRequest(http.MethodGet, "/api/files/1/download?token="+tokenString, nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("ожидался статус 200, получен %d", rec.Code)
	}
}

// TestJWTAuth_DeletedUser проверяет 401 для удалённого пользователя.
func TestJWTAuth_DeletedUser(t *testing.T) {
	key, _ := generateTestKey()
	a := newTestJWTAuth(key, &stubResolver{users: map[int64]Identity{}})
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	tokenString, _ := generateTestToken(key, validClaims("admin"))
	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

// TestJWTAuth_ResolverError проверяет 500 при ошибке чтения пользователя.
func TestJWTAuth_ResolverError(t *testing.T) {
	key, _ := generateTestKey()
	a := newTestJWTAuth(key, &stubResolver{err: errors.New("диск недоступен")})
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	tokenString, _ := generateTestToken(key, validClaims("admin"))
	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("ожидался статус 500, получен %d", rec.Code)
	}
}

// TestJWTAuth_MissingToken проверяет отсутствие Authorization header.
func TestJWTAuth_MissingToken(t *testing.T) {
	key, _ := generateTestKey()
	a := newTestJWTAuth(key, defaultResolver())
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

// TestJWTAuth_RejectedTokens проверяет просроченный, чужой и некорректный токены.
func TestJWTAuth_RejectedTokens(t *testing.T) {
	key, _ := generateTestKey()
	foreign, _ := generateTestKey()
	a := newTestJWTAuth(key, defaultResolver())
	handler := a.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler не должен быть вызван")
	}))

	expired := validClaims("admin")
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	expiredToken, _ := generateTestToken(key, expired)

	wrongIssuer := validClaims("admin")
	wrongIssuer.Issuer = "someone-else"
	wrongIssuerToken, _ := generateTestToken(key, wrongIssuer)

	badSub := validClaims("admin")
	badSub.Subject = "abc"
	badSubToken, _ := generateTestToken(key, badSub)

	foreignToken, _ := generateTestToken(foreign, validClaims("admin"))

	tests := []struct {
		name   string
		header string
	}{
		{"просроченный", "Bearer " + expiredToken},
		{"чужой issuer", "Bearer " + wrongIssuerToken},
		{"нечисловой sub", "Bearer " + badSubToken},
		{"чужой ключ", "Bearer " + foreignToken},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"без префикса bearer", "token123"},
		{"пустой bearer", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
		})
	}
}

// TestRequireRole проверяет проверку роли.
func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		identity   *Identity
		mw         func(http.Handler) http.Handler
		wantStatus int
	}{
		{"admin для admin", &Identity{Role: "admin"}, RequireAdmin(), http.StatusOK},
		{"uploader для admin", &Identity{Role: "uploader"}, RequireAdmin(), http.StatusForbidden},
		{"uploader для загрузки", &Identity{Role: "uploader"}, RequireUploader(), http.StatusOK},
		{"admin для загрузки", &Identity{Role: "admin"}, RequireUploader(), http.StatusOK},
		{"downloader для загрузки", &Identity{Role: "downloader"}, RequireUploader(), http.StatusForbidden},
		{"без Identity", nil, RequireAdmin(), http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := tt.mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.identity != nil {
				req = req.WithContext(WithIdentity(req.Context(), *tt.identity))
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("ожидался статус %d, получен %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

// TestIdentityFromContext_Empty проверяет пустой контекст.
func TestIdentityFromContext_Empty(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Error("ожидалось отсутствие Identity")
	}
}
