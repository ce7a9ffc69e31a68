// chunked.go — чанковая загрузка: приём чанков и сборка итогового объекта.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/bigkaa/filedrop/internal/api/middleware"
	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/domain/upload"
	"github.com/bigkaa/filedrop/internal/storage/chunkstore"
	"github.com/bigkaa/filedrop/internal/storage/wal"
)

// ChunkParams — параметры одного чанка (заголовки x-file-id, x-chunk-index,
// x-total-chunks, x-file-name, x-file-description и тело запроса).
type ChunkParams struct {
	UploadID    string
	Index       int
	Total       int
	FileName    string
	Description string
	Body        io.Reader
}

// ChunkResult — результат приёма чанка.
// File заполнен только после сборки последнего чанка.
type ChunkResult struct {
	UploadID    string
	ChunkIndex  int
	Received    int
	TotalChunks int
	State       upload.State
	File        *model.File
}

// ChunkedUploadService — приём чанков и сборка файла.
// Операции над одним uploadId сериализуются, разные загрузки идут параллельно.
// Сборка запускается при получении чанка с индексом totalChunks-1.
type ChunkedUploadService struct {
	uploads  *UploadService
	chunks   *chunkstore.ChunkStore
	sessions *SessionTracker
	locks    *keyedMutex
	// maxTotal — верхняя граница x-total-chunks
	maxTotal int
	logger   *slog.Logger
}

// NewChunkedUploadService создаёт сервис чанковой загрузки.
// maxTotalChunks ограничивает x-total-chunks.
func NewChunkedUploadService(
	uploads *UploadService,
	chunks *chunkstore.ChunkStore,
	sessions *SessionTracker,
	maxTotalChunks int,
	logger *slog.Logger,
) *ChunkedUploadService {
	return &ChunkedUploadService{
		uploads:  uploads,
		chunks:   chunks,
		sessions: sessions,
		locks:    newKeyedMutex(),
		maxTotal: maxTotalChunks,
		logger:   logger.With(slog.String("component", "chunked_upload_service")),
	}
}

// PutChunk принимает один чанк загрузки uploaderID.
//
// Ошибки:
//   - ErrValidation — некорректные параметры, изменился totalChunks, нет чанка при сборке
//   - ErrConflict — загрузка уже завершена или отменена
//   - ErrForbidden — uploadId принадлежит другому пользователю
//   - ErrTooLarge — чанк или итоговый файл больше лимита
//   - ErrIO — ошибка диска
func (s *ChunkedUploadService) PutChunk(ctx context.Context, uploaderID int64, p ChunkParams) (*ChunkResult, error) {
	if err := validateChunkParams(&p, s.maxTotal); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(p.UploadID)
	defer unlock()

	session, err := s.session(uploaderID, p)
	if err != nil {
		return nil, err
	}
	if p.Description != "" {
		session.Description = p.Description
	}

	if _, err := s.chunks.WriteChunk(p.UploadID, p.Index, p.Body); err != nil {
		s.fail(session)
		s.logger.Error("Ошибка записи чанка",
			slog.String("upload_id", p.UploadID),
			slog.Int("chunk_index", p.Index),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, chunkstore.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %w", ErrTooLarge, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	middleware.ChunksReceivedTotal.Inc()
	received := session.MarkReceived(p.Index)

	result := &ChunkResult{
		UploadID:    p.UploadID,
		ChunkIndex:  p.Index,
		Received:    received,
		TotalChunks: p.Total,
	}

	if p.Index != p.Total-1 {
		result.State = session.State()
		return result, nil
	}

	f, err := s.finalize(ctx, session)
	result.State = session.State()
	if err != nil {
		return nil, err
	}
	result.File = f
	return result, nil
}

// session возвращает сессию загрузки, создавая её при первом чанке
// или после вытеснения из кэша.
func (s *ChunkedUploadService) session(uploaderID int64, p ChunkParams) (*upload.Session, error) {
	if session, ok := s.sessions.Get(p.UploadID); ok {
		if upload.IsTerminal(session.State()) {
			return nil, fmt.Errorf("%w: загрузка %s в состоянии %s, начните новую", ErrConflict, p.UploadID, session.State())
		}
		if session.UploaderID != uploaderID {
			return nil, fmt.Errorf("%w: загрузка %s принадлежит другому пользователю", ErrForbidden, p.UploadID)
		}
		if session.TotalChunks != p.Total {
			return nil, validationf("x-total-chunks изменился: было %d, получено %d", session.TotalChunks, p.Total)
		}
		return session, nil
	}

	session, err := upload.NewChunkedSession(p.UploadID, uploaderID, p.FileName, p.Total)
	if err != nil {
		return nil, validationf("%v", err)
	}
	// Чанки, принятые до вытеснения сессии, остаются на диске
	for i := 0; i < p.Total; i++ {
		if s.chunks.HasChunk(p.UploadID, i) {
			session.MarkReceived(i)
		}
	}
	s.sessions.Put(session)
	return session, nil
}

// finalize собирает чанки 0..total-1 в итоговый объект и регистрирует файл.
func (s *ChunkedUploadService) finalize(ctx context.Context, session *upload.Session) (*model.File, error) {
	if err := session.TransitionTo(upload.StateFinalizing); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConflict, err)
	}

	log := s.logger.With(slog.String("upload_id", session.UploadID))

	expected, err := s.chunks.TotalSize(session.UploadID, session.TotalChunks)
	if err != nil {
		s.fail(session)
		if errors.Is(err, chunkstore.ErrMissingChunk) {
			log.Warn("Сборка отменена: отсутствует чанк", slog.String("error", err.Error()))
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	reader := s.chunks.Reader(session.UploadID, session.TotalChunks)
	staged, err := s.uploads.stage(wal.OpUploadChunked, reader, session.FileName, session.UploadID)
	reader.Close()
	if err != nil {
		s.fail(session)
		return nil, err
	}

	if staged.result.Size != expected {
		log.Error("Размер собранного объекта не совпадает с суммой чанков",
			slog.Int64("expected", expected),
			slog.Int64("actual", staged.result.Size),
		)
		s.uploads.discard(staged)
		s.fail(session)
		return nil, fmt.Errorf("%w: собрано %d байт из %d", ErrIO, staged.result.Size, expected)
	}

	if err := s.chunks.DeleteAll(session.UploadID, session.TotalChunks); err != nil {
		log.Warn("Не удалось удалить чанки после сборки", slog.String("error", err.Error()))
	}

	f, err := s.uploads.register(ctx, session, staged, "upload_chunked")
	if err != nil {
		session.Fail()
		middleware.OperationsTotal.WithLabelValues("upload_chunked", "error").Inc()
		return nil, err
	}
	return f, nil
}

// fail переводит сессию в FAILED и удаляет её чанки.
func (s *ChunkedUploadService) fail(session *upload.Session) {
	session.Fail()
	middleware.OperationsTotal.WithLabelValues("upload_chunked", "error").Inc()
	if err := s.chunks.DeleteAll(session.UploadID, session.TotalChunks); err != nil {
		s.logger.Warn("Не удалось удалить чанки отменённой загрузки",
			slog.String("upload_id", session.UploadID),
			slog.String("error", err.Error()),
		)
	}
}

// validateChunkParams проверяет параметры чанка.
// Total ограничен maxTotal: по нему перебираются чанки на диске.
func validateChunkParams(p *ChunkParams, maxTotal int) error {
	if !chunkstore.ValidUploadID(p.UploadID) {
		return validationf("x-file-id должен соответствовать [A-Za-z0-9_-]{1,128}")
	}
	if p.Total < 1 {
		return validationf("x-total-chunks должен быть не меньше 1")
	}
	if p.Total > maxTotal {
		return validationf("x-total-chunks больше %d", maxTotal)
	}
	if p.Index < 0 || p.Index >= p.Total {
		return validationf("x-chunk-index вне диапазона [0, %d)", p.Total)
	}
	p.FileName = strings.TrimSpace(p.FileName)
	if p.FileName == "" {
		return validationf("x-file-name обязателен")
	}
	p.Description = strings.TrimSpace(p.Description)
	if len(p.Description) > maxDescriptionBytes {
		return validationf("description длиннее %d байт", maxDescriptionBytes)
	}
	if p.Body == nil {
		return validationf("пустое тело чанка")
	}
	return nil
}
