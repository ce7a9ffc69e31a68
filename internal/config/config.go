// Пакет config — загрузка и валидация конфигурации filedrop
// из переменных окружения FD_*.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации filedrop.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к JSON-файлу метаданных
	DataFile string
	// Директория объектов (и чанков в .chunks)
	UploadDir string
	// Путь к директории WAL
	WALDir string
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Максимальный размер одного чанка в байтах
	MaxChunkSize int64
	// Максимальное значение x-total-chunks
	MaxTotalChunks int

	// Путь к PEM приватного ключа подписи JWT; пусто — ключ генерируется при старте
	JWTPrivateKey string
	JWTIssuer     string
	JWTTTL        time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway  time.Duration
	BcryptCost int

	// Администратор, создаваемый при первом старте (если задан пароль)
	AdminUsername string
	AdminEmail    string
	AdminPassword string

	// Ограничения кэша сессий чанковой загрузки
	UploadSessionsMax int
	UploadSessionTTL  time.Duration

	// Интервал автоматической сверки (0 — отключена)
	ReconcileInterval time.Duration

	// Путь к TLS сертификату
	TLSCert string
	// Путь к TLS приватному ключу
	TLSKey string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Файл логов с ротацией; пусто — stdout
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// FD_PORT — порт HTTP-сервера (по умолчанию 5000)
	port, err := getEnvInt("FD_PORT", 5000)
	if err != nil {
		return nil, fmt.Errorf("FD_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("FD_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	cfg.DataFile = getEnvDefault("FD_DATA_FILE", "./data/data.json")
	cfg.UploadDir = getEnvDefault("FD_UPLOAD_DIR", "./uploads")
	cfg.WALDir = getEnvDefault("FD_WAL_DIR", "./data/wal")

	// FD_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 2 GiB)
	cfg.MaxFileSize, err = getEnvInt64("FD_MAX_FILE_SIZE", 2<<30)
	if err != nil {
		return nil, fmt.Errorf("FD_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("FD_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// FD_MAX_CHUNK_SIZE — максимальный размер чанка (по умолчанию 100 MiB)
	cfg.MaxChunkSize, err = getEnvInt64("FD_MAX_CHUNK_SIZE", 100<<20)
	if err != nil {
		return nil, fmt.Errorf("FD_MAX_CHUNK_SIZE: %w", err)
	}
	if cfg.MaxChunkSize <= 0 {
		return nil, fmt.Errorf("FD_MAX_CHUNK_SIZE: значение должно быть положительным")
	}

	// FD_MAX_TOTAL_CHUNKS — максимальное количество чанков одной загрузки
	cfg.MaxTotalChunks, err = getEnvInt("FD_MAX_TOTAL_CHUNKS", 10000)
	if err != nil {
		return nil, fmt.Errorf("FD_MAX_TOTAL_CHUNKS: %w", err)
	}
	if cfg.MaxTotalChunks <= 0 {
		return nil, fmt.Errorf("FD_MAX_TOTAL_CHUNKS: значение должно быть положительным")
	}

	cfg.JWTPrivateKey = getEnvDefault("FD_JWT_PRIVATE_KEY", "")
	cfg.JWTIssuer = getEnvDefault("FD_JWT_ISSUER", "filedrop")

	cfg.JWTTTL, err = getEnvDuration("FD_JWT_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FD_JWT_TTL: %w", err)
	}
	if cfg.JWTTTL <= 0 {
		return nil, fmt.Errorf("FD_JWT_TTL: значение должно быть положительным")
	}

	cfg.JWTLeeway, err = getEnvDuration("FD_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_JWT_LEEWAY: %w", err)
	}

	// FD_BCRYPT_COST — стоимость bcrypt (4-31)
	cfg.BcryptCost, err = getEnvInt("FD_BCRYPT_COST", bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("FD_BCRYPT_COST: %w", err)
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("FD_BCRYPT_COST: значение %d вне диапазона %d-%d",
			cfg.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	cfg.AdminUsername = getEnvDefault("FD_ADMIN_USERNAME", "admin")
	cfg.AdminEmail = getEnvDefault("FD_ADMIN_EMAIL", "admin@filemanager.com")
	cfg.AdminPassword = getEnvDefault("FD_ADMIN_PASSWORD", "")

	cfg.UploadSessionsMax, err = getEnvInt("FD_UPLOAD_SESSIONS_MAX", 10000)
	if err != nil {
		return nil, fmt.Errorf("FD_UPLOAD_SESSIONS_MAX: %w", err)
	}
	if cfg.UploadSessionsMax <= 0 {
		return nil, fmt.Errorf("FD_UPLOAD_SESSIONS_MAX: значение должно быть положительным")
	}

	cfg.UploadSessionTTL, err = getEnvDuration("FD_UPLOAD_SESSION_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FD_UPLOAD_SESSION_TTL: %w", err)
	}

	// FD_RECONCILE_INTERVAL — интервал сверки (по умолчанию 6h, 0 — выключено)
	cfg.ReconcileInterval, err = getEnvDuration("FD_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FD_RECONCILE_INTERVAL: %w", err)
	}

	// FD_TLS_CERT и FD_TLS_KEY задаются только вместе
	cfg.TLSCert = getEnvDefault("FD_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("FD_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("FD_TLS_CERT и FD_TLS_KEY должны задаваться вместе")
	}

	cfg.ShutdownTimeout, err = getEnvDuration("FD_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FD_SHUTDOWN_TIMEOUT: %w", err)
	}

	// FD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FD_LOG_LEVEL: %w", err)
	}

	// FD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.LogFile = getEnvDefault("FD_LOG_FILE", "")
	if cfg.LogMaxSizeMB, err = getEnvInt("FD_LOG_MAX_SIZE_MB", 100); err != nil {
		return nil, fmt.Errorf("FD_LOG_MAX_SIZE_MB: %w", err)
	}
	if cfg.LogMaxBackups, err = getEnvInt("FD_LOG_MAX_BACKUPS", 5); err != nil {
		return nil, fmt.Errorf("FD_LOG_MAX_BACKUPS: %w", err)
	}
	if cfg.LogMaxAgeDays, err = getEnvInt("FD_LOG_MAX_AGE_DAYS", 30); err != nil {
		return nil, fmt.Errorf("FD_LOG_MAX_AGE_DAYS: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// При заданном LogFile пишет в файл с ротацией lumberjack.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	out := logWriter(cfg)

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// logWriter возвращает приёмник логов: stdout или файл с ротацией.
func logWriter(cfg *Config) io.Writer {
	if cfg.LogFile == "" {
		return os.Stdout
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "не удалось создать директорию логов: %v\n", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAgeDays,
		Compress:   true,
		LocalTime:  true,
	}
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
