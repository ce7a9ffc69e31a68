// access.go — предикат видимости файлов и выдача доступа.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/domain/rbac"
	"github.com/bigkaa/filedrop/internal/repository"
)

// AccessService — доступ пользователей к файлам.
// Проверка роли вызывающего (только admin выдаёт доступ) выполняется
// на границе HTTP; сервис сам отклоняет повторную выдачу.
type AccessService struct {
	access repository.AccessRepository
	files  repository.FileRepository
	logger *slog.Logger
}

// NewAccessService создаёт сервис доступа к файлам.
func NewAccessService(
	access repository.AccessRepository,
	files repository.FileRepository,
	logger *slog.Logger,
) *AccessService {
	return &AccessService{
		access: access,
		files:  files,
		logger: logger.With(slog.String("component", "access_service")),
	}
}

// HasAccess — видит ли пользователь файл.
// admin — всегда; владелец — всегда; иначе — при наличии выдачи доступа.
// Без побочных эффектов.
func (s *AccessService) HasAccess(ctx context.Context, file *model.File, userID int64, role string) bool {
	if role == rbac.RoleAdmin {
		return true
	}
	if file.UploadedBy == userID {
		return true
	}
	return s.access.Exists(ctx, file.ID, userID)
}

// Grant выдаёт пользователю доступ к файлу.
// ErrNotFound — нет файла или пользователя; ErrConflict — доступ уже выдан.
func (s *AccessService) Grant(ctx context.Context, fileID, userID int64) (*model.FileAccess, error) {
	grant, err := s.access.Grant(ctx, fileID, userID, time.Now().UTC())
	if err != nil {
		return nil, mapRepoErr(err)
	}

	s.logger.Info("Доступ к файлу выдан",
		slog.Int64("file_id", fileID),
		slog.Int64("user_id", userID),
	)
	return grant, nil
}

// Revoke отзывает доступ. ErrNotFound — только если нет файла;
// отсутствие выдачи — не ошибка.
func (s *AccessService) Revoke(ctx context.Context, fileID, userID int64) error {
	if _, err := s.files.GetByID(ctx, fileID); err != nil {
		return mapRepoErr(err)
	}

	n, err := s.access.Revoke(ctx, fileID, userID)
	if err != nil {
		return mapRepoErr(err)
	}

	if n > 0 {
		s.logger.Info("Доступ к файлу отозван",
			slog.Int64("file_id", fileID),
			slog.Int64("user_id", userID),
		)
	}
	return nil
}

// ListGranted возвращает пользователей с доступом к файлу в заданном порядке.
func (s *AccessService) ListGranted(ctx context.Context, fileID int64, order repository.AccessOrder) ([]*model.GrantedUser, error) {
	if _, err := s.files.GetByID(ctx, fileID); err != nil {
		return nil, mapRepoErr(err)
	}

	list, err := s.access.ListForFile(ctx, fileID, order)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return list, nil
}
