// Пакет jsonstore — хранилище коллекций в одном JSON-документе (data.json).
//
// Документ целиком находится в памяти и сбрасывается на диск после каждой
// мутации: JSON → temp файл → fsync → atomic rename. Все мутации проходят
// через Store.Write под единственным writer-локом; чтения выполняются
// под read-локом и никогда не пишут на диск.
package jsonstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filedrop/internal/domain/model"
)

// Ошибки хранилища.
var (
	// ErrNotFound — ни одна запись не подошла под предикат.
	ErrNotFound = errors.New("запись не найдена")
	// ErrIO — документ не удалось записать на диск.
	ErrIO = errors.New("ошибка записи хранилища на диск")
	// ErrCorrupt — файл хранилища существует, но не является корректным JSON.
	ErrCorrupt = errors.New("файл хранилища повреждён")
)

var storeFlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "fd_store_flush_duration_seconds",
	Help:    "Длительность записи data.json на диск в секундах",
	Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

// Document — содержимое data.json. Порядок полей задаёт порядок ключей в файле.
type Document struct {
	Users       []model.User         `json:"users"`
	Files       []model.File         `json:"files"`
	Downloads   []model.FileDownload `json:"file_downloads"`
	Permissions []model.Permission   `json:"user_permissions"`
	Access      []model.FileAccess   `json:"file_access"`
	NextIDs     map[string]int64     `json:"nextIds"`
}

// newDocument возвращает пустой документ со счётчиками, начинающимися с 1.
func newDocument() *Document {
	d := &Document{}
	d.normalize()
	return d
}

// normalize заполняет отсутствующие коллекции и счётчики.
// Счётчик никогда не бывает меньше max(id)+1, поэтому ID не переиспользуются
// даже если nextIds в файле отсутствует или отстаёт.
func (d *Document) normalize() {
	if d.Users == nil {
		d.Users = []model.User{}
	}
	if d.Files == nil {
		d.Files = []model.File{}
	}
	if d.Downloads == nil {
		d.Downloads = []model.FileDownload{}
	}
	if d.Permissions == nil {
		d.Permissions = []model.Permission{}
	}
	if d.Access == nil {
		d.Access = []model.FileAccess{}
	}
	if d.NextIDs == nil {
		d.NextIDs = make(map[string]int64, len(collectionNames))
	}

	maxIDs := map[string]int64{
		Users.name:       maxID(d.Users, Users),
		Files.name:       maxID(d.Files, Files),
		Downloads.name:   maxID(d.Downloads, Downloads),
		Permissions.name: maxID(d.Permissions, Permissions),
		Access.name:      maxID(d.Access, Access),
	}
	for _, name := range collectionNames {
		next := d.NextIDs[name]
		if next < maxIDs[name]+1 {
			next = maxIDs[name] + 1
		}
		d.NextIDs[name] = next
	}
}

// clone возвращает независимую копию документа (записи — значения, без указателей).
func (d *Document) clone() *Document {
	return &Document{
		Users:       slices.Clone(d.Users),
		Files:       slices.Clone(d.Files),
		Downloads:   slices.Clone(d.Downloads),
		Permissions: slices.Clone(d.Permissions),
		Access:      slices.Clone(d.Access),
		NextIDs:     maps.Clone(d.NextIDs),
	}
}

// Store — JSON-хранилище коллекций.
type Store struct {
	path   string
	mu     sync.RWMutex
	doc    *Document
	logger *slog.Logger
}

// Open загружает хранилище из файла path.
// Отсутствующий файл — пустое хранилище (сразу записывается на диск).
// Повреждённый файл — ошибка ErrCorrupt: оператор должен разобраться вручную.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger.With(slog.String("component", "jsonstore")),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", filepath.Dir(path), err)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.doc = newDocument()
		if err := s.flushLocked(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIO, err)
		}
		s.logger.Info("Создано пустое хранилище", slog.String("path", path))
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("ошибка чтения %s: %w", path, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	doc.normalize()
	s.doc = &doc

	s.logger.Info("Хранилище загружено",
		slog.String("path", path),
		slog.Int("users", len(doc.Users)),
		slog.Int("files", len(doc.Files)),
		slog.Int("file_access", len(doc.Access)),
		slog.Int("file_downloads", len(doc.Downloads)),
	)
	return s, nil
}

// Path возвращает путь к data.json.
func (s *Store) Path() string {
	return s.path
}

// Write выполняет fn под эксклюзивным локом и один раз сбрасывает документ на диск.
// Если fn вернула ошибку или запись на диск не удалась, документ в памяти
// восстанавливается: память никогда не опережает диск. Ошибка записи
// на диск оборачивает ErrIO.
func (s *Store) Write(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.doc.clone()
	tx := &Tx{doc: s.doc, writable: true}
	if err := fn(tx); err != nil {
		s.doc = snapshot
		return err
	}

	if !tx.changed {
		return nil
	}

	if err := s.flushLocked(); err != nil {
		s.doc = snapshot
		s.logger.Error("Ошибка записи хранилища, изменения отменены",
			slog.String("path", s.path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// Read выполняет fn под разделяемым локом. Мутации внутри Read запрещены.
func (s *Store) Read(fn func(tx *Tx)) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fn(&Tx{doc: s.doc})
}

// Counts возвращает количество записей в каждой коллекции.
func (s *Store) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]int{
		Users.name:       len(s.doc.Users),
		Files.name:       len(s.doc.Files),
		Downloads.name:   len(s.doc.Downloads),
		Permissions.name: len(s.doc.Permissions),
		Access.name:      len(s.doc.Access),
	}
}

// flushLocked атомарно записывает документ: temp → fsync → rename.
// Вызывается под s.mu.
func (s *Store) flushLocked() error {
	start := time.Now()
	defer func() {
		storeFlushDuration.Observe(time.Since(start).Seconds())
	}()

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}

	tmpPath := s.path + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}
