// Пакет chunkstore — временное хранение чанков загрузки.
// Чанк хранится как файл {uploadId}-chunk-{index} в поддиректории .chunks
// директории загрузок. Запись: temp файл → fsync → atomic rename.
package chunkstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
)

// DirName — имя поддиректории чанков внутри директории загрузок.
const DirName = ".chunks"

// Ошибки хранилища чанков.
var (
	// ErrMissingChunk — чанк отсутствует на диске при сборке.
	ErrMissingChunk = errors.New("чанк отсутствует")
	// ErrInvalidUploadID — недопустимый идентификатор загрузки.
	ErrInvalidUploadID = errors.New("недопустимый идентификатор загрузки")
	// ErrTooLarge — чанк превышает максимальный размер.
	ErrTooLarge = errors.New("размер чанка превышает допустимый")
)

// uploadIDRe — допустимый идентификатор загрузки.
var uploadIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidUploadID проверяет формат идентификатора загрузки.
func ValidUploadID(uploadID string) bool {
	return uploadIDRe.MatchString(uploadID)
}

// ChunkStore — файлы чанков на диске.
type ChunkStore struct {
	dir     string
	maxSize int64
}

// New создаёт ChunkStore в {uploadDir}/.chunks.
// maxSize — максимальный размер одного чанка (0 — без ограничения).
func New(uploadDir string, maxSize int64) (*ChunkStore, error) {
	dir := filepath.Join(uploadDir, DirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию чанков %s: %w", dir, err)
	}
	return &ChunkStore{dir: dir, maxSize: maxSize}, nil
}

// Dir возвращает путь к директории чанков.
func (cs *ChunkStore) Dir() string {
	return cs.dir
}

// chunkPath возвращает путь файла чанка.
func (cs *ChunkStore) chunkPath(uploadID string, index int) string {
	return filepath.Join(cs.dir, fmt.Sprintf("%s-chunk-%d", uploadID, index))
}

// WriteChunk атомарно записывает чанк. Повторная запись того же индекса
// заменяет предыдущую. Возвращает количество записанных байт.
func (cs *ChunkStore) WriteChunk(uploadID string, index int, r io.Reader) (int64, error) {
	if !ValidUploadID(uploadID) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidUploadID, uploadID)
	}

	target := cs.chunkPath(uploadID, index)
	tmpPath := target + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла чанка: %w", err)
	}

	src := r
	if cs.maxSize > 0 {
		src = io.LimitReader(r, cs.maxSize+1)
	}

	written, err := io.Copy(f, src)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка записи чанка %d: %w", index, err)
	}
	if cs.maxSize > 0 && written > cs.maxSize {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: больше %d байт", ErrTooLarge, cs.maxSize)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync чанка %d: %w", index, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия чанка %d: %w", index, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования чанка %d: %w", index, err)
	}

	return written, nil
}

// HasChunk проверяет наличие чанка на диске.
func (cs *ChunkStore) HasChunk(uploadID string, index int) bool {
	_, err := os.Stat(cs.chunkPath(uploadID, index))
	return err == nil
}

// TotalSize возвращает суммарный размер чанков 0..total-1.
// Первый отсутствующий чанк — ErrMissingChunk.
func (cs *ChunkStore) TotalSize(uploadID string, total int) (int64, error) {
	var sum int64
	for i := 0; i < total; i++ {
		info, err := os.Stat(cs.chunkPath(uploadID, i))
		if err != nil {
			if os.IsNotExist(err) {
				return 0, fmt.Errorf("%w: %d из %d", ErrMissingChunk, i, total)
			}
			return 0, fmt.Errorf("ошибка stat чанка %d: %w", i, err)
		}
		sum += info.Size()
	}
	return sum, nil
}

// Reader возвращает поток, последовательно читающий чанки 0..total-1.
// Чанки открываются по одному по мере чтения; отсутствующий чанк
// приводит к ошибке ErrMissingChunk при чтении.
func (cs *ChunkStore) Reader(uploadID string, total int) io.ReadCloser {
	return &sequentialReader{cs: cs, uploadID: uploadID, total: total}
}

// DeleteAll удаляет все чанки 0..total-1 и их временные файлы.
// Отсутствующие файлы пропускаются. Возвращает первую ошибку удаления.
func (cs *ChunkStore) DeleteAll(uploadID string, total int) error {
	var firstErr error
	for i := 0; i < total; i++ {
		p := cs.chunkPath(uploadID, i)
		for _, path := range []string{p, p + ".tmp"} {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
				firstErr = fmt.Errorf("ошибка удаления чанка %d: %w", i, err)
			}
		}
	}
	return firstErr
}

// sequentialReader — ленивое чтение чанков по порядку.
type sequentialReader struct {
	cs       *ChunkStore
	uploadID string
	total    int
	next     int
	current  *os.File
}

func (r *sequentialReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if r.next >= r.total {
				return 0, io.EOF
			}
			f, err := os.Open(r.cs.chunkPath(r.uploadID, r.next))
			if err != nil {
				if os.IsNotExist(err) {
					return 0, fmt.Errorf("%w: %d из %d", ErrMissingChunk, r.next, r.total)
				}
				return 0, fmt.Errorf("ошибка открытия чанка %d: %w", r.next, err)
			}
			r.current = f
			r.next++
		}

		n, err := r.current.Read(p)
		if err == io.EOF {
			r.current.Close()
			r.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *sequentialReader) Close() error {
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}
