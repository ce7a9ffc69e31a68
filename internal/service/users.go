// users.go — управление пользователями администратором.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/bigkaa/filedrop/internal/api/middleware"
	"github.com/bigkaa/filedrop/internal/auth"
	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/domain/rbac"
	"github.com/bigkaa/filedrop/internal/repository"
	"github.com/bigkaa/filedrop/internal/storage/filestore"
)

// CreateUserParams — параметры создания пользователя администратором.
type CreateUserParams struct {
	Username string
	Email    string
	Password string
	// Role — пусто означает downloader
	Role string
}

// UpdateUserParams — частичное обновление; nil-поля не меняются.
type UpdateUserParams struct {
	Username    *string
	Email       *string
	Password    *string
	Role        *string
	CanUpload   *bool
	CanDownload *bool
	CanManage   *bool
}

// UserService — CRUD пользователей.
type UserService struct {
	users      repository.UserRepository
	store      *filestore.FileStore
	bcryptCost int
	logger     *slog.Logger
}

// NewUserService создаёт сервис управления пользователями.
func NewUserService(
	users repository.UserRepository,
	store *filestore.FileStore,
	bcryptCost int,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		users:      users,
		store:      store,
		bcryptCost: bcryptCost,
		logger:     logger.With(slog.String("component", "user_service")),
	}
}

// List возвращает всех пользователей с флагами прав, новые первыми.
func (s *UserService) List(ctx context.Context) ([]*model.UserWithPermissions, error) {
	users, err := s.users.ListWithPermissions(ctx)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return users, nil
}

// Get возвращает пользователя с флагами прав.
func (s *UserService) Get(ctx context.Context, id int64) (*model.UserWithPermissions, error) {
	u, err := s.users.GetWithPermissions(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return u, nil
}

// Create создаёт пользователя с флагами прав по умолчанию для роли.
func (s *UserService) Create(ctx context.Context, params CreateUserParams) (*model.UserWithPermissions, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" || params.Password == "" {
		return nil, validationf("обязательны username и password")
	}
	if err := auth.ValidatePassword(params.Password); err != nil {
		return nil, validationf("%v", err)
	}

	role := params.Role
	if role == "" {
		role = rbac.RoleDownloader
	}
	if !rbac.IsValidRole(role) {
		return nil, validationf("некорректная роль %q: допустимые значения — %s", role, strings.Join(rbac.Roles(), ", "))
	}

	hash, err := auth.HashPassword(params.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:     username,
		Email:        strings.TrimSpace(params.Email),
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.users.Create(ctx, user, permissionFrom(rbac.DefaultPermissions(role))); err != nil {
		return nil, mapRepoErr(err)
	}

	s.logger.Info("Пользователь создан",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
		slog.String("role", role),
	)
	return s.Get(ctx, user.ID)
}

// Update применяет частичное обновление пользователя и флагов прав.
func (s *UserService) Update(ctx context.Context, id int64, params UpdateUserParams) (*model.UserWithPermissions, error) {
	patch := repository.UserPatch{
		Role:        params.Role,
		CanUpload:   params.CanUpload,
		CanDownload: params.CanDownload,
		CanManage:   params.CanManage,
	}

	if params.Username != nil {
		username := strings.TrimSpace(*params.Username)
		if username == "" {
			return nil, validationf("username не может быть пустым")
		}
		patch.Username = &username
	}
	if params.Email != nil {
		email := strings.TrimSpace(*params.Email)
		patch.Email = &email
	}
	if params.Role != nil && !rbac.IsValidRole(*params.Role) {
		return nil, validationf("некорректная роль %q: допустимые значения — %s", *params.Role, strings.Join(rbac.Roles(), ", "))
	}
	if params.Password != nil {
		if *params.Password == "" {
			return nil, validationf("password не может быть пустым")
		}
		if err := auth.ValidatePassword(*params.Password); err != nil {
			return nil, validationf("%v", err)
		}
		hash, err := auth.HashPassword(*params.Password, s.bcryptCost)
		if err != nil {
			return nil, err
		}
		patch.PasswordHash = &hash
	}

	u, err := s.users.Update(ctx, id, patch)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	s.logger.Info("Пользователь обновлён", slog.Int64("user_id", id))
	return u, nil
}

// Delete удаляет пользователя каскадно (файлы, выдачи, скачивания, права).
// Удалить собственную учётную запись нельзя (ErrValidation).
// Объекты файлов пользователя удаляются с диска после удаления метаданных;
// ошибки удаления с диска логируются и не возвращаются.
func (s *UserService) Delete(ctx context.Context, actorID, id int64) error {
	if actorID == id {
		return validationf("нельзя удалить собственную учётную запись")
	}

	deletion, err := s.users.Delete(ctx, id)
	if err != nil {
		return mapRepoErr(err)
	}

	for _, f := range deletion.Files {
		if err := s.store.DeleteFile(f.StoragePath); err != nil {
			s.logger.Warn("Не удалось удалить объект файла удалённого пользователя",
				slog.Int64("file_id", f.ID),
				slog.String("storage_path", f.StoragePath),
				slog.String("error", err.Error()),
			)
		}
	}
	middleware.FilesTotal.Sub(float64(len(deletion.Files)))

	s.logger.Info("Пользователь удалён",
		slog.Int64("user_id", id),
		slog.Int("files", len(deletion.Files)),
		slog.Int("grants", deletion.Grants),
		slog.Int("downloads", deletion.Downloads),
	)
	return nil
}
