package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/storage/jsonstore"
)

// DownloadRepository — журнал скачиваний (коллекция file_downloads).
type DownloadRepository interface {
	// Append добавляет запись о скачивании.
	Append(ctx context.Context, fileID, userID int64, at time.Time) (*model.FileDownload, error)
}

// downloadRepo — реализация DownloadRepository.
type downloadRepo struct {
	store *jsonstore.Store
}

// NewDownloadRepository создаёт репозиторий журнала скачиваний.
func NewDownloadRepository(store *jsonstore.Store) DownloadRepository {
	return &downloadRepo{store: store}
}

func (r *downloadRepo) Append(_ context.Context, fileID, userID int64, at time.Time) (*model.FileDownload, error) {
	saved, err := jsonstore.InsertOne(r.store, jsonstore.Downloads, model.FileDownload{
		FileID:       fileID,
		UserID:       userID,
		DownloadedAt: at.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка записи журнала скачивания файла %d: %w", fileID, err)
	}
	return &saved, nil
}
