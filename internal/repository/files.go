package repository

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/storage/jsonstore"
)

// FileRepository — интерфейс доступа к коллекции files.
type FileRepository interface {
	// Create регистрирует загруженный файл, заполняет f.ID.
	// ErrNotFound — владельца f.UploadedBy нет.
	Create(ctx context.Context, f *model.File) error
	// GetByID возвращает файл по ID.
	GetByID(ctx context.Context, id int64) (*model.File, error)
	// List возвращает все файлы в порядке загрузки.
	List(ctx context.Context) ([]*model.File, error)
	// ListWithUploader возвращает файлы с именем владельца, новые первыми.
	ListWithUploader(ctx context.Context) ([]*model.FileWithUploader, error)
	// Delete удаляет файл вместе с его выдачами доступа и журналом скачиваний.
	// Возвращает удалённую запись.
	Delete(ctx context.Context, id int64) (*model.File, error)
}

// fileRepo — реализация FileRepository.
type fileRepo struct {
	store *jsonstore.Store
}

// NewFileRepository создаёт репозиторий файлов.
func NewFileRepository(store *jsonstore.Store) FileRepository {
	return &fileRepo{store: store}
}

func (r *fileRepo) Create(_ context.Context, f *model.File) error {
	var saved model.File
	err := r.store.Write(func(tx *jsonstore.Tx) error {
		// Владелец мог быть удалён, пока шла загрузка
		if _, ok := jsonstore.Find(tx, jsonstore.Users, func(u model.User) bool { return u.ID == f.UploadedBy }); !ok {
			return ErrNotFound
		}
		saved = jsonstore.Insert(tx, jsonstore.Files, *f)
		return nil
	})
	if err != nil {
		return wrapStoreErr(fmt.Sprintf("ошибка регистрации файла %q", f.FileName), err)
	}
	*f = saved
	return nil
}

func (r *fileRepo) GetByID(_ context.Context, id int64) (*model.File, error) {
	f, ok := jsonstore.FindOne(r.store, jsonstore.Files, func(f model.File) bool { return f.ID == id })
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

func (r *fileRepo) List(_ context.Context) ([]*model.File, error) {
	return toPointers(jsonstore.FindMany(r.store, jsonstore.Files, nil)), nil
}

func (r *fileRepo) ListWithUploader(_ context.Context) ([]*model.FileWithUploader, error) {
	var result []*model.FileWithUploader
	r.store.Read(func(tx *jsonstore.Tx) {
		files := jsonstore.FindAll(tx, jsonstore.Files, nil)
		users := jsonstore.FindAll(tx, jsonstore.Users, nil)

		names := make(map[int64]string, len(users))
		for _, u := range users {
			names[u.ID] = u.Username
		}

		result = make([]*model.FileWithUploader, 0, len(files))
		for _, f := range files {
			name, ok := names[f.UploadedBy]
			if !ok {
				name = UnknownUploader
			}
			result = append(result, &model.FileWithUploader{File: f, UploaderName: name})
		}
	})

	slices.SortStableFunc(result, func(a, b *model.FileWithUploader) int {
		if c := b.UploadedAt.Compare(a.UploadedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return result, nil
}

func (r *fileRepo) Delete(_ context.Context, id int64) (*model.File, error) {
	var deleted model.File

	err := r.store.Write(func(tx *jsonstore.Tx) error {
		f, ok := jsonstore.Find(tx, jsonstore.Files, func(f model.File) bool { return f.ID == id })
		if !ok {
			return ErrNotFound
		}
		deleted = f

		jsonstore.Delete(tx, jsonstore.Downloads, func(d model.FileDownload) bool { return d.FileID == id })
		jsonstore.Delete(tx, jsonstore.Access, func(a model.FileAccess) bool { return a.FileID == id })
		jsonstore.Delete(tx, jsonstore.Files, func(f model.File) bool { return f.ID == id })
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr(fmt.Sprintf("ошибка удаления файла %d", id), err)
	}
	return &deleted, nil
}

// toPointers преобразует срез значений в срез указателей на копии.
func toPointers[T any](items []T) []*T {
	result := make([]*T, len(items))
	for i := range items {
		result[i] = &items[i]
	}
	return result
}
