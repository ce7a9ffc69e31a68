// reconcile.go — фоновая сверка директории загрузок с записями файлов.
//
// Обнаруживает проблемы:
//   - orphaned_object: объект на диске без записи файла
//   - missing_object: запись файла без объекта на диске
//   - size_mismatch: размер объекта не совпадает с записью
//
// Только отчёт: ничего не удаляется и не исправляется.
// Запускается горутиной с периодическим тикером (FD_RECONCILE_INTERVAL)
// и по запросу администратора.
package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filedrop/internal/repository"
	"github.com/bigkaa/filedrop/internal/storage/filestore"
)

// Prometheus метрики сверки
var (
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_reconcile_runs_total",
		Help: "Общее количество запусков сверки",
	})

	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fd_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных сверкой",
	}, []string{"type"})

	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fd_reconcile_duration_seconds",
		Help:    "Длительность выполнения сверки в секундах",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// IssueType — тип расхождения.
type IssueType string

const (
	IssueOrphanedObject IssueType = "orphaned_object"
	IssueMissingObject  IssueType = "missing_object"
	IssueSizeMismatch   IssueType = "size_mismatch"
)

// ReconcileIssue — одно обнаруженное расхождение.
type ReconcileIssue struct {
	Type        IssueType `json:"type"`
	FileID      int64     `json:"fileId,omitempty"`
	StoragePath string    `json:"path"`
	Description string    `json:"description"`
}

// ReconcileSummary — количество проблем по типам.
type ReconcileSummary struct {
	OK              int `json:"ok"`
	OrphanedObjects int `json:"orphanedObjects"`
	MissingObjects  int `json:"missingObjects"`
	SizeMismatches  int `json:"sizeMismatches"`
}

// ReconcileReport — результат одного прохода сверки.
type ReconcileReport struct {
	StartedAt      time.Time        `json:"startedAt"`
	CompletedAt    time.Time        `json:"completedAt"`
	FilesChecked   int              `json:"filesChecked"`
	ObjectsScanned int              `json:"objectsScanned"`
	Issues         []ReconcileIssue `json:"issues"`
	Summary        ReconcileSummary `json:"summary"`
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	files    repository.FileRepository
	store    *filestore.FileStore
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool
	cancel    context.CancelFunc
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	files repository.FileRepository,
	store *filestore.FileStore,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		files:    files,
		store:    store,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
// Интервал 0 — тикер не запускается, остаётся только запуск по запросу.
func (rs *ReconcileService) Start(ctx context.Context) {
	if rs.interval <= 0 {
		rs.logger.Info("Периодическая сверка отключена")
		return
	}

	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel

	go rs.run(rsCtx)

	rs.logger.Info("Сверка запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновую сверку.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
		rs.logger.Info("Сверка остановлена")
	}
}

// IsInProgress возвращает true, если сверка выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

func (rs *ReconcileService) run(ctx context.Context) {
	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход сверки.
// Если проход уже выполняется, возвращает nil, true.
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Сверка уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	report := &ReconcileReport{StartedAt: time.Now().UTC(), Issues: []ReconcileIssue{}}
	rs.logger.Info("Сверка начата")

	rs.reconcile(ctx, report)

	report.CompletedAt = time.Now().UTC()
	duration := report.CompletedAt.Sub(report.StartedAt)

	problemFiles := 0
	for _, issue := range report.Issues {
		switch issue.Type {
		case IssueOrphanedObject:
			report.Summary.OrphanedObjects++
		case IssueMissingObject:
			report.Summary.MissingObjects++
			problemFiles++
		case IssueSizeMismatch:
			report.Summary.SizeMismatches++
			problemFiles++
		}
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}
	report.Summary.OK = report.FilesChecked - problemFiles

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())

	rs.logger.Info("Сверка завершена",
		slog.Int("files_checked", report.FilesChecked),
		slog.Int("objects_scanned", report.ObjectsScanned),
		slog.Int("issues", len(report.Issues)),
		slog.Duration("duration", duration),
	)
	return report, false
}

// reconcile сравнивает объекты на диске с записями файлов.
func (rs *ReconcileService) reconcile(ctx context.Context, report *ReconcileReport) {
	objects, err := rs.store.ListObjects()
	if err != nil {
		rs.logger.Error("Ошибка чтения директории загрузок", slog.String("error", err.Error()))
		return
	}
	files, err := rs.files.List(ctx)
	if err != nil {
		rs.logger.Error("Ошибка чтения записей файлов", slog.String("error", err.Error()))
		return
	}

	report.ObjectsScanned = len(objects)
	report.FilesChecked = len(files)

	onDisk := make(map[string]int64, len(objects))
	for _, o := range objects {
		onDisk[o.StoragePath] = o.Size
	}

	referenced := make(map[string]bool, len(files))
	for _, f := range files {
		referenced[f.StoragePath] = true

		size, ok := onDisk[f.StoragePath]
		switch {
		case !ok:
			report.Issues = append(report.Issues, ReconcileIssue{
				Type:        IssueMissingObject,
				FileID:      f.ID,
				StoragePath: f.StoragePath,
				Description: "Запись файла без объекта на диске",
			})
		case size != f.Size:
			report.Issues = append(report.Issues, ReconcileIssue{
				Type:        IssueSizeMismatch,
				FileID:      f.ID,
				StoragePath: f.StoragePath,
				Description: "Размер объекта на диске не совпадает с записью файла",
			})
		}
	}

	var orphans []string
	for name := range onDisk {
		if !referenced[name] {
			orphans = append(orphans, name)
		}
	}
	sort.Strings(orphans)
	for _, name := range orphans {
		report.Issues = append(report.Issues, ReconcileIssue{
			Type:        IssueOrphanedObject,
			StoragePath: name,
			Description: "Объект на диске без записи файла",
		})
	}
}
