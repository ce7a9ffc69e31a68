// Пакет server — HTTP-сервер filedrop с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/filedrop/internal/api/handlers"
	"github.com/bigkaa/filedrop/internal/api/middleware"
	"github.com/bigkaa/filedrop/internal/config"
)

// Handlers — набор обработчиков, монтируемых в роутер.
type Handlers struct {
	API         *handlers.APIHandler
	Health      *handlers.HealthHandler
	Maintenance *handlers.MaintenanceHandler
	JWKS        http.Handler
}

// Server — HTTP-сервер filedrop.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, jwtAuth *middleware.JWTAuth) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, h, jwtAuth),
		ReadHeaderTimeout: 10 * time.Second,
		// Без ReadTimeout/WriteTimeout: загрузка и скачивание больших
		// файлов длятся дольше любого разумного лимита
		IdleTimeout: 120 * time.Second,
	}

	// Настройка TLS
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
		cfg:        cfg,
	}
}

// NewRouter собирает chi роутер: публичные endpoints и группа /api под JWT.
// Порядок middleware: RequestID → Metrics → RequestLogger → Recoverer.
func NewRouter(logger *slog.Logger, h Handlers, jwtAuth *middleware.JWTAuth) http.Handler {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)

	// Публичные endpoints
	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())
	router.Method(http.MethodGet, "/.well-known/jwks.json", h.JWKS)

	api := h.API
	router.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", api.Register)
		r.Post("/auth/login", api.Login)

		r.Group(func(r chi.Router) {
			r.Use(jwtAuth.Middleware())
			protectedRoutes(r, h)
		})
	})

	return router
}

// protectedRoutes монтирует endpoints, требующие токена.
func protectedRoutes(r chi.Router, h Handlers) {
	api := h.API

	r.Get("/auth/me", api.Me)

	r.Route("/files", func(r chi.Router) {
		r.Get("/", api.ListFiles)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUploader())
			r.Post("/upload", api.UploadFile)
			r.Post("/upload/chunk", api.UploadChunk)
		})

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", api.GetFile)
			r.Get("/download", api.DownloadFile)
			// Право на удаление (admin или автор) проверяет сервис
			r.Delete("/", api.DeleteFile)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireAdmin())
				r.Get("/access", api.ListAccess)
				r.Post("/access", api.GrantAccess)
				r.Delete("/access/{userId}", api.RevokeAccess)
			})
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Use(middleware.RequireAdmin())
		r.Get("/", api.ListUsers)
		r.Post("/", api.CreateUser)
		r.Get("/{id}", api.GetUser)
		r.Put("/{id}", api.UpdateUser)
		r.Delete("/{id}", api.DeleteUser)
	})

	r.With(middleware.RequireAdmin()).Post("/maintenance/reconcile", h.Maintenance.Reconcile)
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с cfg.ShutdownTimeout.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSCert != ""),
		)

		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
