package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/storage/jsonstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// setupRepos создаёт хранилище во временной директории и репозитории над ним.
func setupRepos(t *testing.T) (*Repositories, *jsonstore.Store) {
	t.Helper()
	store, err := jsonstore.Open(filepath.Join(t.TempDir(), "data.json"), testLogger())
	if err != nil {
		t.Fatalf("ошибка открытия хранилища: %v", err)
	}
	return New(store), store
}

func createUser(t *testing.T, repos *Repositories, username, role string) *model.User {
	t.Helper()
	u := &model.User{Username: username, Email: username + "@example.com", Role: role}
	if err := repos.Users.Create(context.Background(), u, model.Permission{CanDownload: true}); err != nil {
		t.Fatalf("ошибка создания пользователя %s: %v", username, err)
	}
	return u
}

func createFile(t *testing.T, repos *Repositories, name string, owner int64, at time.Time) *model.File {
	t.Helper()
	f := &model.File{FileName: name, StoragePath: name + ".bin", UploadedBy: owner, Size: 10, UploadedAt: at}
	if err := repos.Files.Create(context.Background(), f); err != nil {
		t.Fatalf("ошибка создания файла %s: %v", name, err)
	}
	return f
}

// TestUsers_CreateConflict проверяет уникальность username и email,
// в том числе перекрёстную: логин ищет по обоим полям.
func TestUsers_CreateConflict(t *testing.T) {
	repos, store := setupRepos(t)
	ctx := context.Background()
	createUser(t, repos, "alice", "uploader")

	tests := []struct {
		name string
		user model.User
	}{
		{name: "тот же username", user: model.User{Username: "alice", Email: "other@example.com"}},
		{name: "тот же email", user: model.User{Username: "alice2", Email: "alice@example.com"}},
		{name: "username совпадает с чужим email", user: model.User{Username: "alice@example.com", Email: "x@example.com"}},
		{name: "email совпадает с чужим username", user: model.User{Username: "mallory", Email: "alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := tt.user
			err := repos.Users.Create(ctx, &u, model.Permission{})
			if !errors.Is(err, ErrConflict) {
				t.Errorf("ожидалась ErrConflict, получена %v", err)
			}
		})
	}

	if n := store.Counts()["user_permissions"]; n != 1 {
		t.Errorf("при конфликте permission не должен создаваться, получено %d", n)
	}
}

// TestUsers_EmptyEmailNotUnique проверяет, что пустой email не конфликтует.
func TestUsers_EmptyEmailNotUnique(t *testing.T) {
	repos, _ := setupRepos(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		u := &model.User{Username: name}
		if err := repos.Users.Create(ctx, u, model.Permission{}); err != nil {
			t.Fatalf("пользователь без email %s: %v", name, err)
		}
	}
}

// TestUsers_FindByUsernameOrEmail проверяет поиск по любому из полей.
func TestUsers_FindByUsernameOrEmail(t *testing.T) {
	repos, _ := setupRepos(t)
	ctx := context.Background()
	alice := createUser(t, repos, "alice", "uploader")

	byName, err := repos.Users.FindByUsernameOrEmail(ctx, "alice", "")
	if err != nil || byName.ID != alice.ID {
		t.Errorf("поиск по username: %v, %v", byName, err)
	}
	byEmail, err := repos.Users.FindByUsernameOrEmail(ctx, "", "alice@example.com")
	if err != nil || byEmail.ID != alice.ID {
		t.Errorf("поиск по email: %v, %v", byEmail, err)
	}
	if _, err := repos.Users.FindByUsernameOrEmail(ctx, "", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("пустые параметры не должны находить пользователя: %v", err)
	}
}

// TestUsers_PermissionDefaults проверяет значения по умолчанию без записи прав.
func TestUsers_PermissionDefaults(t *testing.T) {
	repos, store := setupRepos(t)
	ctx := context.Background()

	// Пользователь без записи в user_permissions (неполные данные)
	legacy, err := jsonstore.InsertOne(store, jsonstore.Users, model.User{Username: "legacy", Role: "downloader"})
	if err != nil {
		t.Fatal(err)
	}

	got, err := repos.Users.GetWithPermissions(ctx, legacy.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.CanDownload {
		t.Error("canDownload по умолчанию должен быть true")
	}
	if got.CanUpload || got.CanManage {
		t.Errorf("canUpload/canManage по умолчанию должны быть false: %+v", got)
	}

	list, err := repos.Users.ListWithPermissions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || !list[0].CanDownload || list[0].CanUpload {
		t.Errorf("неожиданный список: %+v", list)
	}
}

// TestUsers_UpdateMergePatch проверяет частичное обновление пользователя и флагов.
func TestUsers_UpdateMergePatch(t *testing.T) {
	repos, _ := setupRepos(t)
	ctx := context.Background()
	bob := createUser(t, repos, "bob", "downloader")
	createUser(t, repos, "carol", "downloader")

	role := "uploader"
	canUpload := true
	updated, err := repos.Users.Update(ctx, bob.ID, UserPatch{Role: &role, CanUpload: &canUpload})
	if err != nil {
		t.Fatalf("ошибка обновления: %v", err)
	}
	if updated.Role != "uploader" || !updated.CanUpload || !updated.CanDownload {
		t.Errorf("неожиданный результат: %+v", updated)
	}
	if updated.Username != "bob" || updated.Email != "bob@example.com" {
		t.Errorf("непереданные поля изменились: %+v", updated.User)
	}

	taken := "carol"
	if _, err := repos.Users.Update(ctx, bob.ID, UserPatch{Username: &taken}); !errors.Is(err, ErrConflict) {
		t.Errorf("ожидалась ErrConflict, получена %v", err)
	}
	if _, err := repos.Users.Update(ctx, bob.ID, UserPatch{Email: &taken}); !errors.Is(err, ErrConflict) {
		t.Errorf("email, совпадающий с чужим username: ожидалась ErrConflict, получена %v", err)
	}

	if _, err := repos.Users.Update(ctx, 999, UserPatch{Role: &role}); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получена %v", err)
	}
}

// TestUsers_DeleteCascade проверяет каскадное удаление пользователя.
func TestUsers_DeleteCascade(t *testing.T) {
	repos, store := setupRepos(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alice := createUser(t, repos, "alice", "uploader")
	bob := createUser(t, repos, "bob", "downloader")

	aliceFile := createFile(t, repos, "a.txt", alice.ID, now)
	bobFile := createFile(t, repos, "b.txt", bob.ID, now)

	// bob имеет доступ к файлу alice и скачивал его; alice — к файлу bob
	mustGrant(t, repos, aliceFile.ID, bob.ID)
	mustGrant(t, repos, bobFile.ID, alice.ID)
	_, _ = repos.Downloads.Append(ctx, aliceFile.ID, bob.ID, now)
	_, _ = repos.Downloads.Append(ctx, bobFile.ID, alice.ID, now)

	deletion, err := repos.Users.Delete(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	if len(deletion.Files) != 1 || deletion.Files[0].ID != aliceFile.ID {
		t.Errorf("ожидался удалённый файл %d, получено %+v", aliceFile.ID, deletion.Files)
	}

	if rows := jsonstore.FindMany(store, jsonstore.Files, func(f model.File) bool { return f.UploadedBy == alice.ID }); len(rows) != 0 {
		t.Errorf("файлы пользователя не удалены: %+v", rows)
	}
	if rows := jsonstore.FindMany(store, jsonstore.Access, func(a model.FileAccess) bool { return a.UserID == alice.ID }); len(rows) != 0 {
		t.Errorf("выдачи пользователя не удалены: %+v", rows)
	}
	if rows := jsonstore.FindMany(store, jsonstore.Downloads, func(d model.FileDownload) bool { return d.UserID == alice.ID }); len(rows) != 0 {
		t.Errorf("скачивания пользователя не удалены: %+v", rows)
	}
	if _, ok := jsonstore.FindOne(store, jsonstore.Permissions, func(p model.Permission) bool { return p.UserID == alice.ID }); ok {
		t.Error("permission пользователя не удалён")
	}

	// Ссылки на удалённый файл alice тоже удалены
	if rows := jsonstore.FindMany(store, jsonstore.Access, func(a model.FileAccess) bool { return a.FileID == aliceFile.ID }); len(rows) != 0 {
		t.Errorf("выдачи к файлу пользователя не удалены: %+v", rows)
	}

	// Данные bob не затронуты
	if _, err := repos.Files.GetByID(ctx, bobFile.ID); err != nil {
		t.Errorf("файл bob не должен удаляться: %v", err)
	}
	if _, err := repos.Users.Delete(ctx, alice.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторное удаление: ожидалась ErrNotFound, получена %v", err)
	}
}

// TestFiles_ListWithUploader проверяет join с владельцем и сортировку.
func TestFiles_ListWithUploader(t *testing.T) {
	repos, store := setupRepos(t)
	ctx := context.Background()
	now := time.Now().UTC()

	alice := createUser(t, repos, "alice", "uploader")
	older := createFile(t, repos, "old.txt", alice.ID, now.Add(-time.Hour))
	newer := createFile(t, repos, "new.txt", alice.ID, now)
	// Запись без владельца в обход репозитория: такие остаются в старых data.json
	orphan, err := jsonstore.InsertOne(store, jsonstore.Files, model.File{
		FileName: "orphan.txt", StoragePath: "orphan.bin", UploadedBy: 999, Size: 10,
		UploadedAt: now.Add(-2 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	list, err := repos.Files.ListWithUploader(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("ожидалось 3 файла, получено %d", len(list))
	}

	wantOrder := []int64{newer.ID, older.ID, orphan.ID}
	for i, id := range wantOrder {
		if list[i].ID != id {
			t.Errorf("позиция %d: ожидался файл %d, получен %d", i, id, list[i].ID)
		}
	}
	if list[0].UploaderName != "alice" {
		t.Errorf("ожидался владелец alice, получен %s", list[0].UploaderName)
	}
	if list[2].UploaderName != UnknownUploader {
		t.Errorf("ожидался владелец %s, получен %s", UnknownUploader, list[2].UploaderName)
	}
}

// TestFiles_CreateUnknownUploader проверяет, что файл без существующего
// владельца не регистрируется.
func TestFiles_CreateUnknownUploader(t *testing.T) {
	repos, store := setupRepos(t)
	ctx := context.Background()

	alice := createUser(t, repos, "alice", "uploader")
	if _, err := repos.Users.Delete(ctx, alice.ID); err != nil {
		t.Fatal(err)
	}

	f := &model.File{FileName: "a.txt", StoragePath: "a.bin", UploadedBy: alice.ID, Size: 1, UploadedAt: time.Now()}
	err := repos.Files.Create(ctx, f)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ожидалась ErrNotFound, получена %v", err)
	}
	if f.ID != 0 {
		t.Errorf("ID не должен назначаться, получен %d", f.ID)
	}
	if n := store.Counts()["files"]; n != 0 {
		t.Errorf("ожидалось 0 файлов, получено %d", n)
	}
}

// TestFiles_DeleteCascade проверяет удаление выдач и журнала вместе с файлом.
func TestFiles_DeleteCascade(t *testing.T) {
	repos, store := setupRepos(t)
	ctx := context.Background()

	alice := createUser(t, repos, "alice", "uploader")
	bob := createUser(t, repos, "bob", "downloader")
	f := createFile(t, repos, "a.txt", alice.ID, time.Now())
	mustGrant(t, repos, f.ID, bob.ID)
	_, _ = repos.Downloads.Append(ctx, f.ID, bob.ID, time.Now())

	deleted, err := repos.Files.Delete(ctx, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if deleted.StoragePath != f.StoragePath {
		t.Errorf("ожидался storage path %s, получен %s", f.StoragePath, deleted.StoragePath)
	}

	counts := store.Counts()
	if counts["file_access"] != 0 || counts["file_downloads"] != 0 || counts["files"] != 0 {
		t.Errorf("каскад не выполнен: %+v", counts)
	}

	if _, err := repos.Files.Delete(ctx, f.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получена %v", err)
	}
}

// TestAccess_GrantDuplicate проверяет отказ при повторной выдаче.
func TestAccess_GrantDuplicate(t *testing.T) {
	repos, store := setupRepos(t)
	ctx := context.Background()

	alice := createUser(t, repos, "alice", "uploader")
	bob := createUser(t, repos, "bob", "downloader")
	f := createFile(t, repos, "a.txt", alice.ID, time.Now())

	mustGrant(t, repos, f.ID, bob.ID)
	if _, err := repos.Access.Grant(ctx, f.ID, bob.ID, time.Now()); !errors.Is(err, ErrConflict) {
		t.Fatalf("ожидалась ErrConflict, получена %v", err)
	}

	rows := jsonstore.FindMany(store, jsonstore.Access, func(a model.FileAccess) bool {
		return a.FileID == f.ID && a.UserID == bob.ID
	})
	if len(rows) != 1 {
		t.Errorf("ожидалась ровно 1 выдача, получено %d", len(rows))
	}

	if _, err := repos.Access.Grant(ctx, 999, bob.ID, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("несуществующий файл: ожидалась ErrNotFound, получена %v", err)
	}
	if _, err := repos.Access.Grant(ctx, f.ID, 999, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("несуществующий пользователь: ожидалась ErrNotFound, получена %v", err)
	}
}

// TestAccess_ListForFileOrders проверяет обе сортировки списка выдач.
func TestAccess_ListForFileOrders(t *testing.T) {
	repos, _ := setupRepos(t)
	ctx := context.Background()
	base := time.Now().UTC()

	owner := createUser(t, repos, "owner", "uploader")
	zed := createUser(t, repos, "zed", "downloader")
	amy := createUser(t, repos, "amy", "downloader")
	f := createFile(t, repos, "a.txt", owner.ID, base)

	if _, err := repos.Access.Grant(ctx, f.ID, amy.ID, base.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if _, err := repos.Access.Grant(ctx, f.ID, zed.ID, base.Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}

	byTime, _ := repos.Access.ListForFile(ctx, f.ID, OrderGrantedDesc)
	if len(byTime) != 2 || byTime[0].Username != "zed" || byTime[1].Username != "amy" {
		t.Errorf("сортировка по времени: %+v", byTime)
	}

	byName, _ := repos.Access.ListForFile(ctx, f.ID, OrderUsernameAsc)
	if len(byName) != 2 || byName[0].Username != "amy" || byName[1].Username != "zed" {
		t.Errorf("сортировка по имени: %+v", byName)
	}
	if byName[0].Email != "amy@example.com" {
		t.Errorf("ожидался email amy@example.com, получен %s", byName[0].Email)
	}
}

// TestAccess_RevokeAbsent проверяет, что отзыв несуществующей выдачи — no-op.
func TestAccess_RevokeAbsent(t *testing.T) {
	repos, _ := setupRepos(t)

	n, err := repos.Access.Revoke(context.Background(), 1, 2)
	if err != nil || n != 0 {
		t.Errorf("ожидалось (0, nil), получено (%d, %v)", n, err)
	}
}

func mustGrant(t *testing.T, repos *Repositories, fileID, userID int64) {
	t.Helper()
	if _, err := repos.Access.Grant(context.Background(), fileID, userID, time.Now()); err != nil {
		t.Fatalf("ошибка выдачи доступа: %v", err)
	}
}
