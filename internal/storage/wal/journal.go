package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownIntent — намерение не открыто (не начиналось или уже закрыто).
var ErrUnknownIntent = errors.New("намерение не найдено в журнале")

// maxRecordSize — предел длины строки журнала при чтении.
const maxRecordSize = 64 << 10

// Journal — append-only журнал намерений.
// Каждая запись дописывается одной строкой и фиксируется fsync до возврата.
// Открытые намерения держатся в памяти; файл переписывается только при Compact.
type Journal struct {
	dir  string
	path string

	mu   sync.Mutex
	file *os.File
	open map[string]*Intent
	// closed — строки закрытых намерений в файле (уходят при Compact)
	closed int

	logger *slog.Logger
}

// Open открывает журнал в dir, создавая директорию при необходимости.
// Журнал перечитывается, затем переписывается без закрытых намерений:
// оборванная при сбое последняя строка отбрасывается.
func Open(dir string, logger *slog.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию WAL %s: %w", dir, err)
	}

	j := &Journal{
		dir:    dir,
		path:   filepath.Join(dir, journalFile),
		open:   make(map[string]*Intent),
		logger: logger.With(slog.String("component", "wal")),
	}

	if err := j.replay(); err != nil {
		return nil, err
	}
	if _, err := j.compactLocked(); err != nil {
		return nil, fmt.Errorf("директория WAL %s недоступна для записи: %w", dir, err)
	}

	if n := len(j.open); n > 0 {
		j.logger.Warn("В журнале есть незавершённые операции", slog.Int("pending", n))
	}
	return j, nil
}

// Begin открывает намерение для операции op над target.
func (j *Journal) Begin(op Operation, target Target) (*Intent, error) {
	if target.StoragePath == "" {
		return nil, fmt.Errorf("намерение %s без имени объекта", op)
	}

	in := &Intent{
		ID:          uuid.NewString(),
		Operation:   op,
		StoragePath: target.StoragePath,
		UploadID:    target.UploadID,
		FileID:      target.FileID,
		BegunAt:     time.Now().UTC(),
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.appendLocked(beginRecord(in)); err != nil {
		return nil, fmt.Errorf("не удалось записать намерение %s: %w", op, err)
	}
	j.open[in.ID] = in

	j.logger.Debug("Операция начата",
		slog.String("intent_id", in.ID),
		slog.String("operation", string(op)),
		slog.String("storage_path", in.StoragePath),
	)
	return in, nil
}

// Commit закрывает намерение как выполненное.
func (j *Journal) Commit(id string) error {
	return j.close(id, kindCommit)
}

// Abort закрывает намерение как отменённое.
func (j *Journal) Abort(id string) error {
	return j.close(id, kindAbort)
}

func (j *Journal) close(id string, kind recordKind) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	in, ok := j.open[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownIntent, id)
	}

	now := time.Now().UTC()
	if err := j.appendLocked(record{Kind: kind, ID: id, At: now}); err != nil {
		return fmt.Errorf("не удалось закрыть намерение %s: %w", id, err)
	}
	delete(j.open, id)
	// begin и закрывающая строка
	j.closed += 2

	j.logger.Debug("Операция завершена",
		slog.String("intent_id", id),
		slog.String("result", string(kind)),
		slog.String("storage_path", in.StoragePath),
		slog.Duration("duration", now.Sub(in.BegunAt)),
	)
	return nil
}

// Pending возвращает копии открытых намерений в порядке начала.
func (j *Journal) Pending() []*Intent {
	j.mu.Lock()
	defer j.mu.Unlock()

	result := make([]*Intent, 0, len(j.open))
	for _, in := range j.open {
		cp := *in
		result = append(result, &cp)
	}
	slices.SortFunc(result, func(a, b *Intent) int {
		return a.BegunAt.Compare(b.BegunAt)
	})
	return result
}

// Compact переписывает журнал, оставляя только открытые намерения.
// Возвращает количество удалённых строк.
func (j *Journal) Compact() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	dropped, err := j.compactLocked()
	if err != nil {
		return 0, err
	}
	if dropped > 0 {
		j.logger.Info("Журнал WAL сжат", slog.Int("dropped", dropped))
	}
	return dropped, nil
}

// Close закрывает файл журнала.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	return err
}

// Dir возвращает путь к директории WAL.
func (j *Journal) Dir() string {
	return j.dir
}

// replay восстанавливает открытые намерения из файла журнала.
func (j *Journal) replay() error {
	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ошибка чтения журнала %s: %w", j.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 4096), maxRecordSize)

	line := 0
	for scanner.Scan() {
		line++
		var rec record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil || rec.ID == "" {
			j.logger.Warn("Пропущена повреждённая строка журнала", slog.Int("line", line))
			continue
		}

		switch rec.Kind {
		case kindBegin:
			j.open[rec.ID] = rec.intent()
		case kindCommit, kindAbort:
			if _, ok := j.open[rec.ID]; !ok {
				j.logger.Warn("Закрытие неизвестного намерения",
					slog.Int("line", line),
					slog.String("intent_id", rec.ID),
				)
				continue
			}
			delete(j.open, rec.ID)
		default:
			j.logger.Warn("Неизвестный тип строки журнала",
				slog.Int("line", line),
				slog.String("kind", string(rec.Kind)),
			)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("ошибка чтения журнала %s: %w", j.path, err)
	}
	j.closed = line - len(j.open)
	return nil
}

// appendLocked дописывает строку и ждёт fsync.
func (j *Journal) appendLocked(rec record) error {
	if j.file == nil {
		return errors.New("журнал закрыт")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ошибка сериализации: %w", err)
	}
	data = append(data, '\n')

	if _, err := j.file.Write(data); err != nil {
		return fmt.Errorf("ошибка записи: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	return nil
}

// compactLocked записывает begin открытых намерений во временный файл,
// атомарно подменяет журнал и переоткрывает его на дозапись.
func (j *Journal) compactLocked() (int, error) {
	tmpPath := j.path + ".tmp"

	tmp, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	pending := make([]*Intent, 0, len(j.open))
	for _, in := range j.open {
		pending = append(pending, in)
	}
	slices.SortFunc(pending, func(a, b *Intent) int {
		return a.BegunAt.Compare(b.BegunAt)
	})

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, in := range pending {
		if err := enc.Encode(beginRecord(in)); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return 0, fmt.Errorf("ошибка записи: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка записи: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, j.path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	// Старый дескриптор указывает на подменённый файл
	if j.file != nil {
		j.file.Close()
		j.file = nil
	}
	f, err := os.OpenFile(j.path, os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return 0, fmt.Errorf("ошибка открытия журнала: %w", err)
	}
	j.file = f

	dropped := j.closed
	j.closed = 0
	return dropped, nil
}
