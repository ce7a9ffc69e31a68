// files.go — список, метаданные, скачивание и удаление файлов.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bigkaa/filedrop/internal/api/middleware"
	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/domain/rbac"
	"github.com/bigkaa/filedrop/internal/repository"
	"github.com/bigkaa/filedrop/internal/storage/filestore"
	"github.com/bigkaa/filedrop/internal/storage/wal"
)

// FileListItem — файл в списке с именами пользователей, получивших доступ.
type FileListItem struct {
	model.FileWithUploader
	// GrantedUsernames — по возрастанию username
	GrantedUsernames []string
}

// Download — открытый объект для отдачи клиенту.
// Вызывающий код обязан закрыть Content.
type Download struct {
	File    *model.File
	Content *os.File
	ModTime time.Time
}

// FileService — операции над загруженными файлами.
type FileService struct {
	repos     *repository.Repositories
	access    *AccessService
	store     *filestore.FileStore
	walEngine *wal.Journal
	logger    *slog.Logger
}

// NewFileService создаёт сервис файлов.
func NewFileService(
	repos *repository.Repositories,
	access *AccessService,
	store *filestore.FileStore,
	walEngine *wal.Journal,
	logger *slog.Logger,
) *FileService {
	return &FileService{
		repos:     repos,
		access:    access,
		store:     store,
		walEngine: walEngine,
		logger:    logger.With(slog.String("component", "file_service")),
	}
}

// List возвращает файлы, видимые пользователю, новые первыми.
func (s *FileService) List(ctx context.Context, identity middleware.Identity) ([]*FileListItem, error) {
	files, err := s.repos.Files.ListWithUploader(ctx)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	result := make([]*FileListItem, 0, len(files))
	for _, f := range files {
		if !s.access.HasAccess(ctx, &f.File, identity.UserID, identity.Role) {
			continue
		}

		granted, err := s.repos.Access.ListForFile(ctx, f.ID, repository.OrderUsernameAsc)
		if err != nil {
			return nil, mapRepoErr(err)
		}
		names := make([]string, 0, len(granted))
		for _, g := range granted {
			names = append(names, g.Username)
		}

		result = append(result, &FileListItem{FileWithUploader: *f, GrantedUsernames: names})
	}
	return result, nil
}

// Get возвращает метаданные файла, если он виден пользователю.
func (s *FileService) Get(ctx context.Context, identity middleware.Identity, id int64) (*model.FileWithUploader, error) {
	f, err := s.visibleFile(ctx, identity, id)
	if err != nil {
		return nil, err
	}

	uploader := repository.UnknownUploader
	if u, err := s.repos.Users.GetByID(ctx, f.UploadedBy); err == nil {
		uploader = u.Username
	}
	return &model.FileWithUploader{File: *f, UploaderName: uploader}, nil
}

// OpenDownload проверяет права, открывает объект и записывает факт скачивания.
// ErrNotFound — нет записи или объекта на диске; ErrForbidden — нет доступа.
func (s *FileService) OpenDownload(ctx context.Context, identity middleware.Identity, id int64) (*Download, error) {
	if !rbac.CanDownload(identity.Role) {
		return nil, fmt.Errorf("%w: роль %s не может скачивать файлы", ErrForbidden, identity.Role)
	}

	f, err := s.visibleFile(ctx, identity, id)
	if err != nil {
		return nil, err
	}

	content, err := s.store.ReadFile(f.StoragePath)
	if err != nil {
		middleware.OperationsTotal.WithLabelValues("download", "error").Inc()
		if errors.Is(err, filestore.ErrNotFound) {
			s.logger.Warn("Объект файла отсутствует на диске",
				slog.Int64("file_id", f.ID),
				slog.String("storage_path", f.StoragePath),
			)
			return nil, fmt.Errorf("%w: объект файла %d отсутствует на диске", ErrNotFound, f.ID)
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	info, err := content.Stat()
	if err != nil {
		content.Close()
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	if _, err := s.repos.Downloads.Append(ctx, f.ID, identity.UserID, time.Now().UTC()); err != nil {
		content.Close()
		return nil, mapRepoErr(err)
	}

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()
	s.logger.Info("Скачивание файла",
		slog.Int64("file_id", f.ID),
		slog.Int64("user_id", identity.UserID),
	)

	return &Download{File: f, Content: content, ModTime: info.ModTime()}, nil
}

// Delete удаляет файл: admin — любой, остальные — только свой.
// Объект удаляется с диска первым; ошибка удаления логируется и не мешает
// удалению метаданных (каскадно: скачивания и выдачи доступа).
func (s *FileService) Delete(ctx context.Context, identity middleware.Identity, id int64) error {
	f, err := s.repos.Files.GetByID(ctx, id)
	if err != nil {
		return mapRepoErr(err)
	}

	if identity.Role != rbac.RoleAdmin && f.UploadedBy != identity.UserID {
		return fmt.Errorf("%w: удалять можно только свои файлы", ErrForbidden)
	}

	intent, err := s.walEngine.Begin(wal.OpFileDelete, wal.Target{StoragePath: f.StoragePath, FileID: f.ID})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	if err := s.store.DeleteFile(f.StoragePath); err != nil {
		s.logger.Warn("Не удалось удалить объект файла с диска",
			slog.Int64("file_id", f.ID),
			slog.String("storage_path", f.StoragePath),
			slog.String("error", err.Error()),
		)
	}

	if _, err := s.repos.Files.Delete(ctx, id); err != nil {
		// Намерение остаётся открытым и будет доведено при рестарте
		middleware.OperationsTotal.WithLabelValues("delete", "error").Inc()
		return mapRepoErr(err)
	}

	if err := s.walEngine.Commit(intent.ID); err != nil {
		s.logger.Error("Ошибка коммита WAL",
			slog.String("intent_id", intent.ID),
			slog.String("error", err.Error()),
		)
	}

	middleware.FilesTotal.Dec()
	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()
	s.logger.Info("Файл удалён",
		slog.Int64("file_id", f.ID),
		slog.Int64("user_id", identity.UserID),
	)
	return nil
}

// visibleFile возвращает файл, если он существует и виден пользователю.
func (s *FileService) visibleFile(ctx context.Context, identity middleware.Identity, id int64) (*model.File, error) {
	f, err := s.repos.Files.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	if !s.access.HasAccess(ctx, f, identity.UserID, identity.Role) {
		return nil, fmt.Errorf("%w: нет доступа к файлу %d", ErrForbidden, id)
	}
	return f, nil
}
