package service

import (
	"bytes"
	"context"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/filedrop/internal/api/middleware"
	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/repository"
	"github.com/bigkaa/filedrop/internal/storage/chunkstore"
	"github.com/bigkaa/filedrop/internal/storage/filestore"
	"github.com/bigkaa/filedrop/internal/storage/jsonstore"
	"github.com/bigkaa/filedrop/internal/storage/wal"
)

// testBcryptCost — минимальная стоимость bcrypt для быстрых тестов.
const testBcryptCost = 4

// testMaxTotalChunks — лимит x-total-chunks в тестовом окружении.
const testMaxTotalChunks = 64

// testLogger создаёт логгер для тестов (только ошибки).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// testEnv — сервисы над временными директориями.
type testEnv struct {
	dataFile string
	store    *jsonstore.Store
	repos    *repository.Repositories
	objects  *filestore.FileStore
	chunks   *chunkstore.ChunkStore
	wal      *wal.Journal

	access  *AccessService
	files   *FileService
	uploads *UploadService
	chunked *ChunkedUploadService
	users   *UserService
}

// newTestEnv создаёт окружение с лимитом файла 1 МиБ и чанка 256 КиБ.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	logger := testLogger()

	dataFile := filepath.Join(dir, "data", "data.json")
	store, err := jsonstore.Open(dataFile, logger)
	if err != nil {
		t.Fatalf("ошибка открытия хранилища: %v", err)
	}

	uploadDir := filepath.Join(dir, "uploads")
	objects, err := filestore.New(uploadDir, 1<<20)
	if err != nil {
		t.Fatalf("ошибка создания FileStore: %v", err)
	}
	chunks, err := chunkstore.New(uploadDir, 256<<10)
	if err != nil {
		t.Fatalf("ошибка создания ChunkStore: %v", err)
	}
	walEngine, err := wal.Open(filepath.Join(dir, "wal"), logger)
	if err != nil {
		t.Fatalf("ошибка открытия WAL: %v", err)
	}
	t.Cleanup(func() { walEngine.Close() })

	repos := repository.New(store)
	access := NewAccessService(repos.Access, repos.Files, logger)
	uploads := NewUploadService(repos.Files, objects, walEngine, logger)

	return &testEnv{
		dataFile: dataFile,
		store:    store,
		repos:    repos,
		objects:  objects,
		chunks:   chunks,
		wal:      walEngine,
		access:   access,
		files:    NewFileService(repos, access, objects, walEngine, logger),
		uploads:  uploads,
		chunked:  NewChunkedUploadService(uploads, chunks, NewSessionTracker(100, time.Hour), testMaxTotalChunks, logger),
		users:    NewUserService(repos.Users, objects, testBcryptCost, logger),
	}
}

// createUser создаёт пользователя с ролью role и возвращает его identity.
func (e *testEnv) createUser(t *testing.T, username, role string) middleware.Identity {
	t.Helper()
	u, err := e.users.Create(context.Background(), CreateUserParams{
		Username: username,
		Email:    username + "@example.com",
		Password: "secret-" + username,
		Role:     role,
	})
	if err != nil {
		t.Fatalf("ошибка создания пользователя %s: %v", username, err)
	}
	return middleware.Identity{UserID: u.ID, Username: u.Username, Role: u.Role}
}

// uploadFile загружает файл однократно от имени uploader.
func (e *testEnv) uploadFile(t *testing.T, uploader middleware.Identity, name string, content []byte) *model.File {
	t.Helper()
	mr := multipartBody(t, name, content, "")
	f, err := e.uploads.UploadMultipart(context.Background(), mr, uploader.UserID)
	if err != nil {
		t.Fatalf("ошибка загрузки %s: %v", name, err)
	}
	return f
}

// multipartBody собирает тело multipart с частью file и, если задано,
// частью description после файла.
func multipartBody(t *testing.T, fileName string, content []byte, description string) *multipart.Reader {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if fileName != "" {
		part, err := w.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("ошибка создания части file: %v", err)
		}
		part.Write(content)
	}
	if description != "" {
		if err := w.WriteField("description", description); err != nil {
			t.Fatalf("ошибка записи description: %v", err)
		}
	}
	w.Close()

	return multipart.NewReader(&buf, w.Boundary())
}

// objectCount возвращает количество объектов в директории загрузок.
func (e *testEnv) objectCount(t *testing.T) int {
	t.Helper()
	objects, err := e.objects.ListObjects()
	if err != nil {
		t.Fatalf("ошибка ListObjects: %v", err)
	}
	return len(objects)
}

// pendingCount возвращает количество открытых намерений WAL.
func (e *testEnv) pendingCount(t *testing.T) int {
	t.Helper()
	return len(e.wal.Pending())
}

// downloadsOf возвращает журнал скачиваний файла прямо из хранилища.
func (e *testEnv) downloadsOf(fileID int64) []model.FileDownload {
	return jsonstore.FindMany(e.store, jsonstore.Downloads,
		func(d model.FileDownload) bool { return d.FileID == fileID })
}
