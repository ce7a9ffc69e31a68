package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/storage/jsonstore"
)

// AccessRepository — интерфейс доступа к коллекции file_access.
type AccessRepository interface {
	// Exists проверяет наличие выдачи для пары (fileID, userID). Только чтение.
	Exists(ctx context.Context, fileID, userID int64) bool
	// Grant создаёт выдачу. Существование файла, пользователя и отсутствие
	// дубликата проверяются в той же транзакции.
	// ErrNotFound — нет файла или пользователя, ErrConflict — выдача уже есть.
	Grant(ctx context.Context, fileID, userID int64, at time.Time) (*model.FileAccess, error)
	// Revoke удаляет выдачу, если она есть. Возвращает количество удалённых записей.
	Revoke(ctx context.Context, fileID, userID int64) (int, error)
	// ListForFile возвращает пользователей с выдачей доступа к файлу.
	ListForFile(ctx context.Context, fileID int64, order AccessOrder) ([]*model.GrantedUser, error)
}

// accessRepo — реализация AccessRepository.
type accessRepo struct {
	store *jsonstore.Store
}

// NewAccessRepository создаёт репозиторий выдач доступа.
func NewAccessRepository(store *jsonstore.Store) AccessRepository {
	return &accessRepo{store: store}
}

func (r *accessRepo) Exists(_ context.Context, fileID, userID int64) bool {
	_, ok := jsonstore.FindOne(r.store, jsonstore.Access, func(a model.FileAccess) bool {
		return a.FileID == fileID && a.UserID == userID
	})
	return ok
}

func (r *accessRepo) Grant(_ context.Context, fileID, userID int64, at time.Time) (*model.FileAccess, error) {
	var saved model.FileAccess

	err := r.store.Write(func(tx *jsonstore.Tx) error {
		if _, ok := jsonstore.Find(tx, jsonstore.Files, func(f model.File) bool { return f.ID == fileID }); !ok {
			return fmt.Errorf("файл %d: %w", fileID, ErrNotFound)
		}
		if _, ok := jsonstore.Find(tx, jsonstore.Users, func(u model.User) bool { return u.ID == userID }); !ok {
			return fmt.Errorf("пользователь %d: %w", userID, ErrNotFound)
		}
		_, dup := jsonstore.Find(tx, jsonstore.Access, func(a model.FileAccess) bool {
			return a.FileID == fileID && a.UserID == userID
		})
		if dup {
			return ErrConflict
		}

		saved = jsonstore.Insert(tx, jsonstore.Access, model.FileAccess{
			FileID:    fileID,
			UserID:    userID,
			GrantedAt: at.UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка выдачи доступа к файлу %d пользователю %d: %w", fileID, userID, err)
	}
	return &saved, nil
}

func (r *accessRepo) Revoke(_ context.Context, fileID, userID int64) (int, error) {
	n, err := jsonstore.DeleteWhere(r.store, jsonstore.Access, func(a model.FileAccess) bool {
		return a.FileID == fileID && a.UserID == userID
	})
	if err != nil {
		return 0, fmt.Errorf("ошибка отзыва доступа к файлу %d у пользователя %d: %w", fileID, userID, err)
	}
	return n, nil
}

func (r *accessRepo) ListForFile(_ context.Context, fileID int64, order AccessOrder) ([]*model.GrantedUser, error) {
	var result []*model.GrantedUser
	r.store.Read(func(tx *jsonstore.Tx) {
		grants := jsonstore.FindAll(tx, jsonstore.Access, func(a model.FileAccess) bool { return a.FileID == fileID })
		result = make([]*model.GrantedUser, 0, len(grants))
		for _, g := range grants {
			u, ok := jsonstore.Find(tx, jsonstore.Users, func(u model.User) bool { return u.ID == g.UserID })
			if !ok {
				continue
			}
			result = append(result, &model.GrantedUser{
				UserID:    u.ID,
				Username:  u.Username,
				Email:     u.Email,
				GrantedAt: g.GrantedAt,
			})
		}
	})

	switch order {
	case OrderUsernameAsc:
		slices.SortStableFunc(result, func(a, b *model.GrantedUser) int {
			if c := cmp.Compare(a.Username, b.Username); c != 0 {
				return c
			}
			return cmp.Compare(a.UserID, b.UserID)
		})
	default:
		slices.SortStableFunc(result, func(a, b *model.GrantedUser) int {
			return b.GrantedAt.Compare(a.GrantedAt)
		})
	}
	return result, nil
}
