package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/filedrop/internal/service"
)

// fakeStore — StoreChecker для тестов.
type fakeStore struct{}

func (fakeStore) Path() string           { return "/tmp/data.json" }
func (fakeStore) Counts() map[string]int { return map[string]int{"files": 2} }

// TestHealthReady проверяет readiness при доступных директориях
// и при отсутствующем хранилище.
func TestHealthReady(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name       string
		store      StoreChecker
		uploadDir  string
		wantStatus int
	}{
		{"всё доступно", fakeStore{}, dir, http.StatusOK},
		{"хранилище не загружено", nil, dir, http.StatusServiceUnavailable},
		{"нет директории загрузок", fakeStore{}, filepath.Join(dir, "missing"), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.store, tt.uploadDir, dir)
			w := httptest.NewRecorder()
			h.HealthReady(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("статус: ожидался %d, получен %d", tt.wantStatus, w.Code)
			}
			var body map[string]any
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("ошибка декодирования: %v", err)
			}
			if _, ok := body["checks"]; !ok {
				t.Error("в ответе нет checks")
			}
		})
	}

	// Проверочный файл не остаётся на диске
	if _, err := os.Stat(filepath.Join(dir, ".health_check")); !os.IsNotExist(err) {
		t.Error("остался .health_check")
	}
}

// TestHealthLive проверяет liveness без зависимостей.
func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(nil, "", "")
	w := httptest.NewRecorder()
	h.HealthLive(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if w.Code != http.StatusOK {
		t.Errorf("статус: %d", w.Code)
	}
}

// fakeReconciler — ReconcileRunner для тестов.
type fakeReconciler struct {
	busy bool
}

func (f *fakeReconciler) RunOnce(context.Context) (*service.ReconcileReport, bool) {
	if f.busy {
		return nil, true
	}
	return &service.ReconcileReport{FilesChecked: 3}, false
}

// TestReconcile проверяет ответ сверки и 409 при параллельном запуске.
func TestReconcile(t *testing.T) {
	w := httptest.NewRecorder()
	NewMaintenanceHandler(&fakeReconciler{}).Reconcile(w,
		httptest.NewRequest(http.MethodPost, "/api/maintenance/reconcile", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("статус: %d", w.Code)
	}
	var report service.ReconcileReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if report.FilesChecked != 3 {
		t.Errorf("FilesChecked: %d", report.FilesChecked)
	}

	w = httptest.NewRecorder()
	NewMaintenanceHandler(&fakeReconciler{busy: true}).Reconcile(w,
		httptest.NewRequest(http.MethodPost, "/api/maintenance/reconcile", nil))
	if w.Code != http.StatusConflict {
		t.Errorf("ожидался 409, получен %d", w.Code)
	}
}
