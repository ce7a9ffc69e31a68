package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bigkaa/filedrop/internal/domain/rbac"
	"github.com/bigkaa/filedrop/internal/repository"
)

// TestHasAccess проверяет предикат видимости файла.
func TestHasAccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	admin := env.createUser(t, "admin", rbac.RoleAdmin)
	owner := env.createUser(t, "owner", rbac.RoleUploader)
	granted := env.createUser(t, "granted", rbac.RoleDownloader)
	stranger := env.createUser(t, "stranger", rbac.RoleDownloader)

	f := env.uploadFile(t, owner, "a.txt", []byte("data"))
	if _, err := env.access.Grant(ctx, f.ID, granted.UserID); err != nil {
		t.Fatalf("ошибка выдачи доступа: %v", err)
	}

	tests := []struct {
		name   string
		userID int64
		role   string
		want   bool
	}{
		{"admin видит всё", admin.UserID, rbac.RoleAdmin, true},
		{"владелец видит свой файл", owner.UserID, rbac.RoleUploader, true},
		{"выданный доступ", granted.UserID, rbac.RoleDownloader, true},
		{"посторонний", stranger.UserID, rbac.RoleDownloader, false},
		{"посторонний uploader", stranger.UserID, rbac.RoleUploader, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := env.access.HasAccess(ctx, f, tt.userID, tt.role); got != tt.want {
				t.Errorf("HasAccess = %v, ожидалось %v", got, tt.want)
			}
		})
	}
}

// TestGrant_Duplicate проверяет, что повторная выдача — конфликт
// и запись остаётся одна.
func TestGrant_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.createUser(t, "owner", rbac.RoleUploader)
	user := env.createUser(t, "bob", rbac.RoleDownloader)
	f := env.uploadFile(t, owner, "a.txt", []byte("data"))

	grant, err := env.access.Grant(ctx, f.ID, user.UserID)
	if err != nil {
		t.Fatalf("ошибка выдачи доступа: %v", err)
	}
	if grant.FileID != f.ID || grant.UserID != user.UserID || grant.GrantedAt.IsZero() {
		t.Errorf("неожиданная выдача: %+v", grant)
	}

	_, err = env.access.Grant(ctx, f.ID, user.UserID)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("ожидалась ErrConflict, получено: %v", err)
	}

	list, err := env.access.ListGranted(ctx, f.ID, repository.OrderGrantedDesc)
	if err != nil {
		t.Fatalf("ошибка ListGranted: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("ожидалась 1 выдача, получено %d", len(list))
	}
}

// TestGrant_NotFound проверяет выдачу для несуществующих файла и пользователя.
func TestGrant_NotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.createUser(t, "owner", rbac.RoleUploader)
	f := env.uploadFile(t, owner, "a.txt", []byte("data"))

	if _, err := env.access.Grant(ctx, 999, owner.UserID); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет файла: ожидалась ErrNotFound, получено: %v", err)
	}
	if _, err := env.access.Grant(ctx, f.ID, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет пользователя: ожидалась ErrNotFound, получено: %v", err)
	}
}

// TestRevoke проверяет отзыв доступа и идемпотентность.
func TestRevoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.createUser(t, "owner", rbac.RoleUploader)
	user := env.createUser(t, "bob", rbac.RoleDownloader)
	f := env.uploadFile(t, owner, "a.txt", []byte("data"))

	// Отзыв несуществующей выдачи — не ошибка
	if err := env.access.Revoke(ctx, f.ID, user.UserID); err != nil {
		t.Fatalf("отзыв отсутствующей выдачи вернул ошибку: %v", err)
	}

	env.access.Grant(ctx, f.ID, user.UserID)
	if err := env.access.Revoke(ctx, f.ID, user.UserID); err != nil {
		t.Fatalf("ошибка отзыва: %v", err)
	}
	if env.access.HasAccess(ctx, f, user.UserID, user.Role) {
		t.Error("доступ сохранился после отзыва")
	}

	if err := env.access.Revoke(ctx, 999, user.UserID); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет файла: ожидалась ErrNotFound, получено: %v", err)
	}
}

// TestListGranted_Order проверяет порядок списка выдач.
func TestListGranted_Order(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	owner := env.createUser(t, "owner", rbac.RoleUploader)
	zed := env.createUser(t, "zed", rbac.RoleDownloader)
	amy := env.createUser(t, "amy", rbac.RoleDownloader)
	f := env.uploadFile(t, owner, "a.txt", []byte("data"))

	env.access.Grant(ctx, f.ID, zed.UserID)
	env.access.Grant(ctx, f.ID, amy.UserID)

	byName, err := env.access.ListGranted(ctx, f.ID, repository.OrderUsernameAsc)
	if err != nil {
		t.Fatalf("ошибка ListGranted: %v", err)
	}
	if len(byName) != 2 || byName[0].Username != "amy" || byName[1].Username != "zed" {
		t.Errorf("неожиданный порядок по имени: %+v", byName)
	}

	if _, err := env.access.ListGranted(ctx, 999, repository.OrderGrantedDesc); !errors.Is(err, ErrNotFound) {
		t.Errorf("нет файла: ожидалась ErrNotFound, получено: %v", err)
	}
}
