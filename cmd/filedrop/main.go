// Точка входа filedrop — сервиса обмена файлами с ролевым доступом.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/filedrop/internal/api/handlers"
	"github.com/bigkaa/filedrop/internal/api/middleware"
	"github.com/bigkaa/filedrop/internal/auth"
	"github.com/bigkaa/filedrop/internal/config"
	"github.com/bigkaa/filedrop/internal/repository"
	"github.com/bigkaa/filedrop/internal/server"
	"github.com/bigkaa/filedrop/internal/service"
	"github.com/bigkaa/filedrop/internal/storage/chunkstore"
	"github.com/bigkaa/filedrop/internal/storage/filestore"
	"github.com/bigkaa/filedrop/internal/storage/jsonstore"
	"github.com/bigkaa/filedrop/internal/storage/wal"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("filedrop запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_file", cfg.DataFile),
		slog.String("upload_dir", cfg.UploadDir),
		slog.Int("max_total_chunks", cfg.MaxTotalChunks),
	)

	ctx := context.Background()

	// --- Инициализация хранилищ ---

	// 1. Метаданные. Повреждённый файл — фатальная ошибка, не перезаписываем
	store, err := jsonstore.Open(cfg.DataFile, logger)
	if err != nil {
		fatal(logger, "Ошибка загрузки хранилища метаданных", err)
	}

	// 2. Объекты и чанки
	objects, err := filestore.New(cfg.UploadDir, cfg.MaxFileSize)
	if err != nil {
		fatal(logger, "Ошибка инициализации FileStore", err)
	}
	chunks, err := chunkstore.New(cfg.UploadDir, cfg.MaxChunkSize)
	if err != nil {
		fatal(logger, "Ошибка инициализации ChunkStore", err)
	}

	// 3. WAL-движок и восстановление незавершённых операций
	walEngine, err := wal.Open(cfg.WALDir, logger)
	if err != nil {
		fatal(logger, "Ошибка открытия журнала WAL", err)
	}
	defer walEngine.Close()

	logger.Info("Хранилища открыты",
		slog.String("objects_dir", objects.Dir()),
		slog.String("chunks_dir", chunks.Dir()),
		slog.String("wal_dir", walEngine.Dir()),
	)

	repos := repository.New(store)

	if _, err := service.RecoverTransactions(ctx, walEngine, repos.Files, objects, logger); err != nil {
		fatal(logger, "Ошибка восстановления WAL", err)
	}

	// 4. Подпись токенов
	issuer, err := auth.NewIssuer(ctx, auth.IssuerConfig{
		PrivateKeyPath: cfg.JWTPrivateKey,
		Issuer:         cfg.JWTIssuer,
		TTL:            cfg.JWTTTL,
	}, logger)
	if err != nil {
		fatal(logger, "Ошибка инициализации ключа JWT", err)
	}

	// 5. Сервисы
	authSvc := service.NewAuthService(repos.Users, issuer, cfg.BcryptCost, logger)
	userSvc := service.NewUserService(repos.Users, objects, cfg.BcryptCost, logger)
	accessSvc := service.NewAccessService(repos.Access, repos.Files, logger)
	fileSvc := service.NewFileService(repos, accessSvc, objects, walEngine, logger)
	uploadSvc := service.NewUploadService(repos.Files, objects, walEngine, logger)
	sessions := service.NewSessionTracker(cfg.UploadSessionsMax, cfg.UploadSessionTTL)
	chunkedSvc := service.NewChunkedUploadService(uploadSvc, chunks, sessions, cfg.MaxTotalChunks, logger)

	created, err := authSvc.BootstrapAdmin(ctx, cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword)
	if err != nil {
		fatal(logger, "Ошибка создания администратора", err)
	}
	if created {
		logger.Info("Создан администратор", slog.String("username", cfg.AdminUsername))
	}

	// Обновляем Prometheus метрики файлов
	middleware.FilesTotal.Set(float64(store.Counts()[jsonstore.Files.Name()]))

	// 6. Фоновая сверка
	reconcileSvc := service.NewReconcileService(repos.Files, objects, cfg.ReconcileInterval, logger)
	reconcileSvc.Start(ctx)
	defer reconcileSvc.Stop()

	// 7. JWT middleware над ключами того же issuer
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		Storage:   issuer.Storage(),
		Issuer:    issuer.IssuerName(),
		JWTLeeway: cfg.JWTLeeway,
	}, authSvc, logger)
	if err != nil {
		fatal(logger, "Ошибка инициализации JWT middleware", err)
	}

	// 8. Handlers и HTTP-сервер
	h := server.Handlers{
		API:         handlers.NewAPIHandler(authSvc, userSvc, fileSvc, accessSvc, uploadSvc, chunkedSvc, logger),
		Health:      handlers.NewHealthHandler(store, objects.Dir(), walEngine.Dir()),
		Maintenance: handlers.NewMaintenanceHandler(reconcileSvc),
		JWKS:        handlers.NewJWKSHandler(issuer, logger),
	}

	srv := server.New(cfg, logger, h, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		reconcileSvc.Stop()
		os.Exit(1)
	}

	logger.Info("filedrop остановлен")
}

// fatal логирует ошибку запуска и завершает процесс.
func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
