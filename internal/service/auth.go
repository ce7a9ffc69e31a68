// auth.go — регистрация, вход, выпуск токенов и начальный администратор.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/filedrop/internal/api/middleware"
	"github.com/bigkaa/filedrop/internal/auth"
	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/domain/rbac"
	"github.com/bigkaa/filedrop/internal/repository"
)

// RegisterParams — параметры самостоятельной регистрации.
type RegisterParams struct {
	Username string
	Email    string
	Password string
}

// AuthResult — выпущенный токен и пользователь.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	User      *model.UserWithPermissions
}

// AuthService — аутентификация пользователей.
type AuthService struct {
	users      repository.UserRepository
	issuer     *auth.Issuer
	bcryptCost int
	logger     *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(
	users repository.UserRepository,
	issuer *auth.Issuer,
	bcryptCost int,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:      users,
		issuer:     issuer,
		bcryptCost: bcryptCost,
		logger:     logger.With(slog.String("component", "auth_service")),
	}
}

// Register создаёт пользователя с ролью downloader и правом только на скачивание.
// Все поля обязательны. ErrConflict — username или email заняты.
func (s *AuthService) Register(ctx context.Context, params RegisterParams) (*AuthResult, error) {
	username := strings.TrimSpace(params.Username)
	email := strings.TrimSpace(params.Email)
	if username == "" || email == "" || params.Password == "" {
		return nil, validationf("обязательны username, email и password")
	}
	if err := auth.ValidatePassword(params.Password); err != nil {
		return nil, validationf("%v", err)
	}

	hash, err := auth.HashPassword(params.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         rbac.RoleDownloader,
	}
	if err := s.users.Create(ctx, user, permissionFrom(rbac.RegistrationPermissions())); err != nil {
		return nil, mapRepoErr(err)
	}

	s.logger.Info("Пользователь зарегистрирован",
		slog.Int64("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return s.issueFor(ctx, user.ID)
}

// Login проверяет учётные данные (username или email) и выпускает токен.
// ErrUnauthorized — пользователь не найден или пароль неверен.
func (s *AuthService) Login(ctx context.Context, login, password string) (*AuthResult, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, validationf("обязательны username и password")
	}

	user, err := s.users.FindByUsernameOrEmail(ctx, login, login)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, mapRepoErr(err)
	}

	if !auth.CheckPassword(user.PasswordHash, password) {
		s.logger.Warn("Неудачная попытка входа", slog.String("username", login))
		return nil, ErrUnauthorized
	}

	return s.issueFor(ctx, user.ID)
}

// Me возвращает текущего пользователя с флагами прав.
func (s *AuthService) Me(ctx context.Context, userID int64) (*model.UserWithPermissions, error) {
	u, err := s.users.GetWithPermissions(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	return u, nil
}

// ResolveIdentity перечитывает пользователя токена из хранилища.
// Реализует middleware.IdentityResolver.
func (s *AuthService) ResolveIdentity(ctx context.Context, userID int64) (middleware.Identity, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return middleware.Identity{}, middleware.ErrUnknownIdentity
		}
		return middleware.Identity{}, err
	}
	return middleware.Identity{UserID: u.ID, Username: u.Username, Role: u.Role}, nil
}

// BootstrapAdmin создаёт администратора, если пользователя с таким именем нет.
// Пустой пароль — ничего не делать. Возвращает true, если администратор создан.
func (s *AuthService) BootstrapAdmin(ctx context.Context, username, email, password string) (bool, error) {
	if password == "" {
		return false, nil
	}

	_, err := s.users.FindByUsername(ctx, username)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return false, mapRepoErr(err)
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return false, err
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         rbac.RoleAdmin,
	}
	if err := s.users.Create(ctx, user, permissionFrom(rbac.DefaultPermissions(rbac.RoleAdmin))); err != nil {
		return false, fmt.Errorf("создание администратора %q: %w", username, mapRepoErr(err))
	}

	s.logger.Info("Создан начальный администратор",
		slog.Int64("user_id", user.ID),
		slog.String("username", username),
	)
	return true, nil
}

// issueFor выпускает токен для пользователя по его текущим данным.
func (s *AuthService) issueFor(ctx context.Context, userID int64) (*AuthResult, error) {
	u, err := s.users.GetWithPermissions(ctx, userID)
	if err != nil {
		return nil, mapRepoErr(err)
	}

	token, exp, err := s.issuer.Issue(u.ID, u.Username, u.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ExpiresAt: exp, User: u}, nil
}

// permissionFrom переводит флаги rbac в запись прав.
func permissionFrom(p rbac.Permissions) model.Permission {
	return model.Permission{
		CanUpload:   model.Flag(p.CanUpload),
		CanDownload: model.Flag(p.CanDownload),
		CanManage:   model.Flag(p.CanManage),
	}
}
