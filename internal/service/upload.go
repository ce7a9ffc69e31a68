// Пакет service — бизнес-логика filedrop.
// upload.go — однократная загрузка multipart под намерением WAL.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"strings"
	"time"

	"github.com/bigkaa/filedrop/internal/api/middleware"
	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/domain/upload"
	"github.com/bigkaa/filedrop/internal/repository"
	"github.com/bigkaa/filedrop/internal/storage/chunkstore"
	"github.com/bigkaa/filedrop/internal/storage/filestore"
	"github.com/bigkaa/filedrop/internal/storage/wal"
)

// maxDescriptionBytes — ограничение на поле description.
const maxDescriptionBytes = 64 << 10

// Имена частей multipart.
const (
	partFile        = "file"
	partDescription = "description"
)

// stagedObject — объект, записанный на диск под открытым намерением WAL.
type stagedObject struct {
	result *filestore.SaveResult
	intent *wal.Intent
}

// UploadService — однократная загрузка файлов.
//
// Поток:
//  1. WAL Begin с заранее сгенерированным именем объекта
//  2. SaveFileAs (streaming + SHA-256, temp → fsync → rename)
//  3. FileRepository.Create
//  4. WAL Commit
//
// При ошибке — удаление объекта + WAL Abort.
type UploadService struct {
	files     repository.FileRepository
	store     *filestore.FileStore
	walEngine *wal.Journal
	logger    *slog.Logger
}

// NewUploadService создаёт сервис загрузки файлов.
func NewUploadService(
	files repository.FileRepository,
	store *filestore.FileStore,
	walEngine *wal.Journal,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		files:     files,
		store:     store,
		walEngine: walEngine,
		logger:    logger.With(slog.String("component", "upload_service")),
	}
}

// UploadMultipart читает тело multipart по частям: часть file пишется
// сразу на диск, часть description принимается до или после файла.
// Без части file — ErrValidation.
func (s *UploadService) UploadMultipart(ctx context.Context, mr *multipart.Reader, uploaderID int64) (*model.File, error) {
	var (
		staged      *stagedObject
		session     *upload.Session
		description string
	)

	abort := func(err error) (*model.File, error) {
		if staged != nil {
			s.discard(staged)
		}
		if session != nil {
			session.Fail()
		}
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, err
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return abort(validationf("некорректное тело multipart: %v", err))
		}

		switch part.FormName() {
		case partFile:
			if staged != nil {
				part.Close()
				return abort(validationf("ожидается одна часть %q", partFile))
			}
			fileName := part.FileName()
			if fileName == "" {
				part.Close()
				return abort(validationf("у части %q нет имени файла", partFile))
			}

			session = upload.NewSingleShotSession(uploaderID, fileName)
			staged, err = s.stage(wal.OpUploadSingle, part, fileName, "")
			part.Close()
			if err != nil {
				return abort(err)
			}

		case partDescription:
			data, err := io.ReadAll(io.LimitReader(part, maxDescriptionBytes+1))
			part.Close()
			if err != nil {
				return abort(validationf("ошибка чтения description: %v", err))
			}
			if len(data) > maxDescriptionBytes {
				return abort(validationf("description длиннее %d байт", maxDescriptionBytes))
			}
			description = strings.TrimSpace(string(data))

		default:
			part.Close()
		}
	}

	if staged == nil {
		return abort(validationf("не передан файл (часть %q)", partFile))
	}

	session.Description = description
	f, err := s.register(ctx, session, staged, "upload")
	if err != nil {
		session.Fail()
		middleware.OperationsTotal.WithLabelValues("upload", "error").Inc()
		return nil, err
	}
	return f, nil
}

// stage записывает поток в новый объект под намерением WAL op.
// Ошибки: ErrTooLarge — превышен лимит, ErrValidation — нет чанка при сборке,
// ErrIO — ошибка диска. Частичные данные удаляются, намерение отменяется.
func (s *UploadService) stage(op wal.Operation, r io.Reader, fileName, uploadID string) (*stagedObject, error) {
	storageName := filestore.NewStorageName(fileName)

	intent, err := s.walEngine.Begin(op, wal.Target{StoragePath: storageName, UploadID: uploadID})
	if err != nil {
		s.logger.Error("Ошибка записи намерения в WAL", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	result, err := s.store.SaveFileAs(r, storageName)
	if err != nil {
		s.abort(intent)
		switch {
		case errors.Is(err, filestore.ErrTooLarge):
			return nil, fmt.Errorf("%w: %w", ErrTooLarge, err)
		case errors.Is(err, chunkstore.ErrMissingChunk):
			return nil, fmt.Errorf("%w: %w", ErrValidation, err)
		default:
			s.logger.Error("Ошибка записи файла на диск",
				slog.String("storage_path", storageName),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("%w: %w", ErrIO, err)
		}
	}

	return &stagedObject{result: result, intent: intent}, nil
}

// register создаёт запись файла для записанного объекта и коммитит WAL.
// При ошибке объект удаляется, намерение отменяется.
func (s *UploadService) register(ctx context.Context, session *upload.Session, staged *stagedObject, operation string) (*model.File, error) {
	f := &model.File{
		FileName:    session.FileName,
		StoragePath: staged.result.StoragePath,
		UploadedBy:  session.UploaderID,
		Size:        staged.result.Size,
		Description: session.Description,
		UploadedAt:  time.Now().UTC(),
	}

	if err := s.files.Create(ctx, f); err != nil {
		s.discard(staged)
		return nil, mapRepoErr(err)
	}

	if err := s.walEngine.Commit(staged.intent.ID); err != nil {
		s.logger.Error("Ошибка коммита WAL",
			slog.String("intent_id", staged.intent.ID),
			slog.String("error", err.Error()),
		)
	}

	if err := session.TransitionTo(upload.StateRegistered); err != nil {
		s.logger.Warn("Недопустимый переход сессии загрузки", slog.String("error", err.Error()))
	}

	middleware.FilesTotal.Inc()
	middleware.UploadBytesTotal.Add(float64(f.Size))
	middleware.OperationsTotal.WithLabelValues(operation, "success").Inc()

	s.logger.Info("Файл загружен",
		slog.Int64("file_id", f.ID),
		slog.String("storage_path", f.StoragePath),
		slog.Int64("size", f.Size),
		slog.String("checksum", staged.result.Checksum),
		slog.Int64("uploaded_by", f.UploadedBy),
		slog.String("operation", operation),
	)
	return f, nil
}

// discard удаляет записанный объект и отменяет намерение.
func (s *UploadService) discard(staged *stagedObject) {
	if err := s.store.DeleteFile(staged.result.StoragePath); err != nil {
		s.logger.Error("Не удалось удалить объект отменённой загрузки",
			slog.String("storage_path", staged.result.StoragePath),
			slog.String("error", err.Error()),
		)
	}
	s.abort(staged.intent)
}

// abort закрывает намерение WAL как отменённое с логированием ошибки.
func (s *UploadService) abort(intent *wal.Intent) {
	if err := s.walEngine.Abort(intent.ID); err != nil {
		s.logger.Error("Ошибка отмены намерения WAL",
			slog.String("intent_id", intent.ID),
			slog.String("error", err.Error()),
		)
	}
}
