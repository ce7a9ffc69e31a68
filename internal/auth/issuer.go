// Пакет auth — выпуск JWT (RS256) и хэширование паролей.
// Публичный ключ публикуется через jwkset storage; middleware валидирует
// токены через keyfunc над тем же storage.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/golang-jwt/jwt/v5"
)

// rsaKeyBits — размер генерируемого ключа.
const rsaKeyBits = 2048

// Claims — JWT claims filedrop.
// sub — ID пользователя, username и role — на момент выпуска.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

// UserID возвращает ID пользователя из sub.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("некорректный sub %q", c.Subject)
	}
	return id, nil
}

// IssuerConfig — параметры выпуска токенов.
type IssuerConfig struct {
	// PrivateKeyPath — путь к PEM (PKCS#1 или PKCS#8); пусто — генерировать
	PrivateKeyPath string
	// Issuer — значение iss
	Issuer string
	// TTL — время жизни токена
	TTL time.Duration
}

// Issuer — выпуск и публикация ключей JWT.
type Issuer struct {
	key     *rsa.PrivateKey
	kid     string
	issuer  string
	ttl     time.Duration
	storage jwkset.Storage
}

// NewIssuer загружает или генерирует RSA-ключ и публикует публичную часть
// в in-memory jwkset storage.
func NewIssuer(ctx context.Context, cfg IssuerConfig, logger *slog.Logger) (*Issuer, error) {
	logger = logger.With(slog.String("component", "jwt_issuer"))

	var (
		key *rsa.PrivateKey
		err error
	)
	if cfg.PrivateKeyPath != "" {
		key, err = loadPrivateKey(cfg.PrivateKeyPath)
		if err != nil {
			return nil, err
		}
		logger.Info("Ключ подписи JWT загружен", slog.String("path", cfg.PrivateKeyPath))
	} else {
		key, err = rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, fmt.Errorf("генерация RSA-ключа: %w", err)
		}
		logger.Warn("FD_JWT_PRIVATE_KEY не задан, сгенерирован временный ключ: токены станут недействительны после рестарта")
	}

	return newIssuer(ctx, key, cfg)
}

// NewIssuerWithKey создаёт Issuer с готовым ключом.
// Используется в тестах.
func NewIssuerWithKey(ctx context.Context, key *rsa.PrivateKey, cfg IssuerConfig) (*Issuer, error) {
	return newIssuer(ctx, key, cfg)
}

func newIssuer(ctx context.Context, key *rsa.PrivateKey, cfg IssuerConfig) (*Issuer, error) {
	kid, err := keyID(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	jwk, err := jwkset.NewJWKFromKey(&key.PublicKey, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{
			ALG: jwkset.AlgRS256,
			KID: kid,
			USE: jwkset.UseSig,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWK: %w", err)
	}

	storage := jwkset.NewMemoryStorage()
	if err := storage.KeyWrite(ctx, jwk); err != nil {
		return nil, fmt.Errorf("запись JWK в storage: %w", err)
	}

	return &Issuer{
		key:     key,
		kid:     kid,
		issuer:  cfg.Issuer,
		ttl:     cfg.TTL,
		storage: storage,
	}, nil
}

// Issue выпускает токен для пользователя. Возвращает токен и время истечения.
func (i *Issuer) Issue(userID int64, username, role string) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(i.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: username,
		Role:     role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = i.kid

	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("подпись JWT: %w", err)
	}
	return signed, expiresAt, nil
}

// Storage возвращает jwkset storage с публичным ключом.
func (i *Issuer) Storage() jwkset.Storage {
	return i.storage
}

// IssuerName возвращает значение iss.
func (i *Issuer) IssuerName() string {
	return i.issuer
}

// JWKS возвращает JSON публичного набора ключей.
func (i *Issuer) JWKS(ctx context.Context) (json.RawMessage, error) {
	return i.storage.JSONPublic(ctx)
}

// loadPrivateKey читает RSA-ключ из PEM-файла (PKCS#1 или PKCS#8).
func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("чтение ключа JWT %s: %w", path, err)
	}
	return ParsePrivateKeyPEM(data)
}

// ParsePrivateKeyPEM разбирает RSA-ключ в PEM (PKCS#1 или PKCS#8).
func ParsePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("ключ JWT: PEM-блок не найден")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ключ JWT: неподдерживаемый формат: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("ключ JWT: ожидается RSA")
	}
	return key, nil
}

// keyID — kid как base64url от SHA-256 публичного ключа (PKIX DER), первые 16 байт.
func keyID(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("сериализация публичного ключа: %w", err)
	}
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:16]), nil
}
