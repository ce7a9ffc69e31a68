// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/filedrop/internal/config"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// StoreChecker — хранилище метаданных, проверяемое readiness probe.
type StoreChecker interface {
	Path() string
	Counts() map[string]int
}

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	store   StoreChecker
	// uploadDir — директория объектов
	uploadDir string
	walDir    string
}

// NewHealthHandler создаёт обработчик health endpoints.
// store может быть nil — тогда readiness всегда fail.
func NewHealthHandler(store StoreChecker, uploadDir, walDir string) *HealthHandler {
	return &HealthHandler{
		version:   config.Version,
		store:     store,
		uploadDir: uploadDir,
		walDir:    walDir,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "filedrop",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: хранилище метаданных загружено, директории загрузок и WAL
// доступны на запись.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]any{
		"store":   h.checkStore(),
		"uploads": checkWritable(h.uploadDir, "Директория загрузок недоступна для записи: "),
		"wal":     checkWritable(h.walDir, "Директория WAL недоступна для записи: "),
	}

	overallStatus := "ok"
	httpStatus := http.StatusOK
	for _, c := range checks {
		if c.(map[string]any)["status"] != "ok" {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	resp := map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "filedrop",
		"checks":    checks,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(resp)
}

// checkStore проверяет, что хранилище метаданных загружено.
func (h *HealthHandler) checkStore() map[string]any {
	if h.store == nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Хранилище метаданных не загружено",
		}
	}
	return map[string]any{
		"status":      "ok",
		"path":        h.store.Path(),
		"collections": h.store.Counts(),
	}
}

// checkWritable проверяет доступность директории на запись.
func checkWritable(dir, failPrefix string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": failPrefix + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
