// Пакет filestore — объекты загруженных файлов на диске.
// Обеспечивает streaming-запись с подсчётом SHA-256 на лету, чтение,
// удаление и перечисление объектов директории загрузок.
// Имя объекта генерируется сервером и никогда не берётся из имени клиента,
// кроме очищенного расширения.
package filestore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ошибки файлового хранилища.
var (
	// ErrTooLarge — поток превысил максимальный размер файла.
	ErrTooLarge = errors.New("размер файла превышает допустимый")
	// ErrNotFound — объекта нет на диске.
	ErrNotFound = errors.New("объект не найден на диске")
	// ErrInvalidPath — имя объекта содержит путь.
	ErrInvalidPath = errors.New("недопустимое имя объекта")
)

// tmpSuffix — суффикс временных файлов во время записи.
const tmpSuffix = ".tmp"

// maxExtLen — максимальная длина сохраняемого расширения (без точки).
const maxExtLen = 16

// FileStore — управление объектами на диске.
type FileStore struct {
	// dir — директория загрузок (FD_UPLOAD_DIR)
	dir string
	// maxSize — максимальный размер объекта в байтах (0 — без ограничения)
	maxSize int64
}

// SaveResult — результат сохранения объекта на диск.
type SaveResult struct {
	// StoragePath — имя объекта в dir
	StoragePath string
	// FullPath — абсолютный путь объекта на диске
	FullPath string
	// Size — размер, прочитанный с диска после записи
	Size int64
	// Checksum — SHA-256 содержимого
	Checksum string
}

// ObjectInfo — объект в директории загрузок.
type ObjectInfo struct {
	StoragePath string
	Size        int64
	ModTime     time.Time
}

// New создаёт FileStore. Создаёт директорию, если её нет.
func New(dir string, maxSize int64) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию загрузок %s: %w", dir, err)
	}

	return &FileStore{dir: dir, maxSize: maxSize}, nil
}

// SaveFileAs записывает поток на диск под именем storageName
// с подсчётом SHA-256 на лету.
// Паттерн: temp файл → запись + SHA-256 → fsync → atomic rename.
// Размер результата читается с диска после rename.
// При любой ошибке частично записанные данные удаляются.
func (fs *FileStore) SaveFileAs(reader io.Reader, storageName string) (*SaveResult, error) {
	fullPath, err := fs.resolve(storageName)
	if err != nil {
		return nil, err
	}
	tmpPath := fullPath + tmpSuffix

	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	src := reader
	if fs.maxSize > 0 {
		src = io.LimitReader(reader, fs.maxSize+1)
	}

	hasher := sha256.New()
	written, err := io.Copy(f, io.TeeReader(src, hasher))
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка записи данных: %w", err)
	}

	if fs.maxSize > 0 && written > fs.maxSize {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("%w: больше %d байт", ErrTooLarge, fs.maxSize)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	size, err := fs.FileSize(storageName)
	if err != nil {
		os.Remove(fullPath)
		return nil, err
	}

	return &SaveResult{
		StoragePath: storageName,
		FullPath:    fullPath,
		Size:        size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// ReadFile открывает объект для чтения. Вызывающий код обязан закрыть файл.
// Отсутствующий объект — ErrNotFound.
func (fs *FileStore) ReadFile(storagePath string) (*os.File, error) {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", storagePath, err)
	}

	return f, nil
}

// DeleteFile удаляет объект. Отсутствующий объект — не ошибка.
func (fs *FileStore) DeleteFile(storagePath string) error {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return err
	}

	err = os.Remove(fullPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка удаления файла %s: %w", storagePath, err)
	}
	return nil
}

// FileExists проверяет существование объекта.
func (fs *FileStore) FileExists(storagePath string) bool {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return false
	}
	_, err = os.Stat(fullPath)
	return err == nil
}

// FileSize возвращает размер объекта на диске.
func (fs *FileStore) FileSize(storagePath string) (int64, error) {
	fullPath, err := fs.resolve(storagePath)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
		}
		return 0, fmt.Errorf("ошибка получения информации о файле %s: %w", storagePath, err)
	}
	return info.Size(), nil
}

// ListObjects перечисляет объекты директории загрузок.
// Поддиректории, скрытые и временные файлы пропускаются.
func (fs *FileStore) ListObjects() ([]ObjectInfo, error) {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", fs.dir, err)
	}

	result := make([]ObjectInfo, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, tmpSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		result = append(result, ObjectInfo{
			StoragePath: name,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
		})
	}
	return result, nil
}

// Dir возвращает путь к директории загрузок.
func (fs *FileStore) Dir() string {
	return fs.dir
}

// resolve проверяет, что storagePath — имя внутри dir, и возвращает полный путь.
func (fs *FileStore) resolve(storagePath string) (string, error) {
	if storagePath == "" || storagePath != filepath.Base(storagePath) ||
		storagePath == "." || storagePath == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, storagePath)
	}
	return filepath.Join(fs.dir, storagePath), nil
}

// NewStorageName генерирует имя объекта.
// Формат: {unix_nano}-{uuid[:8]}{.ext}
// Пример: 1767225600123456789-a1b2c3d4.pdf
func NewStorageName(originalFilename string) string {
	ext := sanitizeExt(filepath.Ext(originalFilename))
	uid := uuid.New().String()[:8]
	return fmt.Sprintf("%d-%s%s", time.Now().UTC().UnixNano(), uid, ext)
}

// sanitizeExt оставляет в расширении только латинские буквы и цифры.
// Возвращает "" если после очистки ничего не осталось.
func sanitizeExt(ext string) string {
	ext = strings.TrimPrefix(ext, ".")

	var result strings.Builder
	for _, r := range ext {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
		}
		if result.Len() >= maxExtLen {
			break
		}
	}
	if result.Len() == 0 {
		return ""
	}
	return "." + strings.ToLower(result.String())
}
