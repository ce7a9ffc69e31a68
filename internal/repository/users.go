package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/storage/jsonstore"
)

// UserPatch — частичное обновление пользователя и его флагов.
// nil-поля не меняются.
type UserPatch struct {
	Username     *string
	Email        *string
	PasswordHash *string
	Role         *string
	CanUpload    *bool
	CanDownload  *bool
	CanManage    *bool
}

// UserDeletion — результат каскадного удаления пользователя.
type UserDeletion struct {
	// Files — удалённые записи файлов пользователя (для очистки диска)
	Files     []model.File
	Grants    int
	Downloads int
}

// UserRepository — интерфейс доступа к коллекциям users и user_permissions.
type UserRepository interface {
	// Create создаёт пользователя и его запись прав одной транзакцией.
	// ErrConflict — username или email уже заняты.
	Create(ctx context.Context, u *model.User, perm model.Permission) error
	// GetByID возвращает пользователя по ID.
	GetByID(ctx context.Context, id int64) (*model.User, error)
	// FindByUsername возвращает пользователя по имени.
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	// FindByUsernameOrEmail ищет пользователя с совпадающим username или email.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*model.User, error)
	// GetWithPermissions возвращает пользователя с флагами прав.
	GetWithPermissions(ctx context.Context, id int64) (*model.UserWithPermissions, error)
	// ListWithPermissions возвращает всех пользователей с флагами, новые первыми.
	ListWithPermissions(ctx context.Context) ([]*model.UserWithPermissions, error)
	// Update применяет частичное обновление.
	Update(ctx context.Context, id int64, patch UserPatch) (*model.UserWithPermissions, error)
	// Delete удаляет пользователя каскадно одной транзакцией.
	Delete(ctx context.Context, id int64) (*UserDeletion, error)
}

// userRepo — реализация UserRepository.
type userRepo struct {
	store *jsonstore.Store
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(store *jsonstore.Store) UserRepository {
	return &userRepo{store: store}
}

func (r *userRepo) Create(_ context.Context, u *model.User, perm model.Permission) error {
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = u.CreatedAt

	err := r.store.Write(func(tx *jsonstore.Tx) error {
		if taken(tx, 0, u.Username, u.Email) {
			return ErrConflict
		}

		saved := jsonstore.Insert(tx, jsonstore.Users, *u)
		perm.UserID = saved.ID
		perm.CreatedAt = now
		jsonstore.Insert(tx, jsonstore.Permissions, perm)

		*u = saved
		return nil
	})
	if err != nil {
		return fmt.Errorf("ошибка создания пользователя %q: %w", u.Username, err)
	}
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id int64) (*model.User, error) {
	u, ok := jsonstore.FindOne(r.store, jsonstore.Users, func(u model.User) bool { return u.ID == id })
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *userRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	u, ok := jsonstore.FindOne(r.store, jsonstore.Users, func(u model.User) bool { return u.Username == username })
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *userRepo) FindByUsernameOrEmail(_ context.Context, username, email string) (*model.User, error) {
	u, ok := jsonstore.FindOne(r.store, jsonstore.Users, func(u model.User) bool {
		return matchesUsernameOrEmail(u, username, email)
	})
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (r *userRepo) GetWithPermissions(_ context.Context, id int64) (*model.UserWithPermissions, error) {
	var (
		result *model.UserWithPermissions
		found  bool
	)
	r.store.Read(func(tx *jsonstore.Tx) {
		u, ok := jsonstore.Find(tx, jsonstore.Users, func(u model.User) bool { return u.ID == id })
		if !ok {
			return
		}
		found = true
		result = joinPermissions(tx, u)
	})
	if !found {
		return nil, ErrNotFound
	}
	return result, nil
}

func (r *userRepo) ListWithPermissions(_ context.Context) ([]*model.UserWithPermissions, error) {
	var result []*model.UserWithPermissions
	r.store.Read(func(tx *jsonstore.Tx) {
		users := jsonstore.FindAll(tx, jsonstore.Users, nil)
		result = make([]*model.UserWithPermissions, 0, len(users))
		for _, u := range users {
			result = append(result, joinPermissions(tx, u))
		}
	})

	slices.SortStableFunc(result, func(a, b *model.UserWithPermissions) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}

func (r *userRepo) Update(_ context.Context, id int64, patch UserPatch) (*model.UserWithPermissions, error) {
	var result *model.UserWithPermissions

	err := r.store.Write(func(tx *jsonstore.Tx) error {
		current, ok := jsonstore.Find(tx, jsonstore.Users, func(u model.User) bool { return u.ID == id })
		if !ok {
			return ErrNotFound
		}

		username := current.Username
		if patch.Username != nil {
			username = *patch.Username
		}
		email := current.Email
		if patch.Email != nil {
			email = *patch.Email
		}
		if taken(tx, id, username, email) {
			return ErrConflict
		}

		updated, err := jsonstore.Update(tx, jsonstore.Users,
			func(u model.User) bool { return u.ID == id },
			func(u *model.User) {
				u.Username = username
				u.Email = email
				if patch.PasswordHash != nil {
					u.PasswordHash = *patch.PasswordHash
				}
				if patch.Role != nil {
					u.Role = *patch.Role
				}
				u.UpdatedAt = time.Now().UTC()
			},
		)
		if err != nil {
			return err
		}

		if patch.CanUpload != nil || patch.CanDownload != nil || patch.CanManage != nil {
			applyPermissionPatch(tx, id, patch)
		}

		result = joinPermissions(tx, updated)
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(fmt.Sprintf("ошибка обновления пользователя %d", id), err)
	}
	return result, nil
}

func (r *userRepo) Delete(_ context.Context, id int64) (*UserDeletion, error) {
	result := &UserDeletion{}

	err := r.store.Write(func(tx *jsonstore.Tx) error {
		if _, ok := jsonstore.Find(tx, jsonstore.Users, func(u model.User) bool { return u.ID == id }); !ok {
			return ErrNotFound
		}

		// Файлы пользователя и всё, что на них ссылается
		result.Files = jsonstore.FindAll(tx, jsonstore.Files, func(f model.File) bool { return f.UploadedBy == id })
		owned := make(map[int64]bool, len(result.Files))
		for _, f := range result.Files {
			owned[f.ID] = true
		}
		result.Grants += jsonstore.Delete(tx, jsonstore.Access, func(a model.FileAccess) bool { return owned[a.FileID] })
		result.Downloads += jsonstore.Delete(tx, jsonstore.Downloads, func(d model.FileDownload) bool { return owned[d.FileID] })
		jsonstore.Delete(tx, jsonstore.Files, func(f model.File) bool { return owned[f.ID] })

		// Ссылки на самого пользователя
		jsonstore.Delete(tx, jsonstore.Permissions, func(p model.Permission) bool { return p.UserID == id })
		result.Downloads += jsonstore.Delete(tx, jsonstore.Downloads, func(d model.FileDownload) bool { return d.UserID == id })
		result.Grants += jsonstore.Delete(tx, jsonstore.Access, func(a model.FileAccess) bool { return a.UserID == id })
		jsonstore.Delete(tx, jsonstore.Users, func(u model.User) bool { return u.ID == id })
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(fmt.Sprintf("ошибка удаления пользователя %d", id), err)
	}
	return result, nil
}

// --- Вспомогательные функции ---

// matchesUsernameOrEmail — совпадение по username или непустому email.
func matchesUsernameOrEmail(u model.User, username, email string) bool {
	if username != "" && u.Username == username {
		return true
	}
	return email != "" && u.Email == email
}

// taken проверяет, занят ли username или email другим пользователем (не exceptID).
// Логин принимает и username, и email, поэтому username не может совпадать
// с чужим email и наоборот.
func taken(tx *jsonstore.Tx, exceptID int64, username, email string) bool {
	_, ok := jsonstore.Find(tx, jsonstore.Users, func(u model.User) bool {
		if u.ID == exceptID {
			return false
		}
		return matchesUsernameOrEmail(u, username, email) ||
			matchesUsernameOrEmail(u, email, username)
	})
	return ok
}

// joinPermissions дополняет пользователя флагами прав.
// Без записи прав: canDownload = true, canUpload = false, canManage = false.
func joinPermissions(tx *jsonstore.Tx, u model.User) *model.UserWithPermissions {
	result := &model.UserWithPermissions{User: u, CanDownload: true}

	p, ok := jsonstore.Find(tx, jsonstore.Permissions, func(p model.Permission) bool { return p.UserID == u.ID })
	if ok {
		result.CanUpload = bool(p.CanUpload)
		result.CanDownload = bool(p.CanDownload)
		result.CanManage = bool(p.CanManage)
	}
	return result
}

// applyPermissionPatch обновляет флаги прав; создаёт запись прав,
// если её нет (со значениями по умолчанию для отсутствующей записи).
func applyPermissionPatch(tx *jsonstore.Tx, userID int64, patch UserPatch) {
	apply := func(p *model.Permission) {
		if patch.CanUpload != nil {
			p.CanUpload = model.Flag(*patch.CanUpload)
		}
		if patch.CanDownload != nil {
			p.CanDownload = model.Flag(*patch.CanDownload)
		}
		if patch.CanManage != nil {
			p.CanManage = model.Flag(*patch.CanManage)
		}
	}

	_, err := jsonstore.Update(tx, jsonstore.Permissions,
		func(p model.Permission) bool { return p.UserID == userID }, apply)
	if err == nil {
		return
	}

	perm := model.Permission{UserID: userID, CanDownload: true, CreatedAt: time.Now().UTC()}
	apply(&perm)
	jsonstore.Insert(tx, jsonstore.Permissions, perm)
}
