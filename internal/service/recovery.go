// recovery.go — доведение открытых намерений WAL при старте.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bigkaa/filedrop/internal/repository"
	"github.com/bigkaa/filedrop/internal/storage/filestore"
	"github.com/bigkaa/filedrop/internal/storage/wal"
)

// RecoveryResult — итог восстановления.
type RecoveryResult struct {
	// Committed — операции, доведённые до конца
	Committed int
	// RolledBack — операции, отменённые с удалением объекта
	RolledBack int
	// Failed — намерения, оставшиеся открытыми из-за ошибки
	Failed int
}

// RecoverTransactions обрабатывает намерения WAL, оставшиеся открытыми после
// аварийной остановки, затем сжимает журнал.
//
//   - upload_single, upload_chunked: если запись файла ссылается на объект,
//     намерение коммитится; иначе объект удаляется, намерение отменяется
//   - file_delete: удаление доводится до конца (объект и метаданные)
func RecoverTransactions(
	ctx context.Context,
	walEngine *wal.Journal,
	files repository.FileRepository,
	store *filestore.FileStore,
	logger *slog.Logger,
) (*RecoveryResult, error) {
	log := logger.With(slog.String("component", "recovery"))

	pending := walEngine.Pending()

	result := &RecoveryResult{}
	if len(pending) > 0 {
		registered, err := files.List(ctx)
		if err != nil {
			return nil, err
		}
		byPath := make(map[string]bool, len(registered))
		for _, f := range registered {
			byPath[f.StoragePath] = true
		}

		for _, entry := range pending {
			entryLog := log.With(
				slog.String("intent_id", entry.ID),
				slog.String("operation", string(entry.Operation)),
				slog.String("storage_path", entry.StoragePath),
			)

			var finishErr error
			commit := true

			switch entry.Operation {
			case wal.OpUploadSingle, wal.OpUploadChunked:
				if !byPath[entry.StoragePath] {
					commit = false
					finishErr = store.DeleteFile(entry.StoragePath)
				}
			case wal.OpFileDelete:
				if err := store.DeleteFile(entry.StoragePath); err != nil {
					entryLog.Warn("Не удалось удалить объект файла с диска", slog.String("error", err.Error()))
				}
				if entry.FileID != 0 {
					if _, err := files.Delete(ctx, entry.FileID); err != nil && !errors.Is(err, repository.ErrNotFound) {
						finishErr = err
					}
				}
			default:
				entryLog.Warn("Неизвестная операция WAL, намерение отменяется")
				commit = false
			}

			if finishErr != nil {
				entryLog.Error("Не удалось довести операцию", slog.String("error", finishErr.Error()))
				result.Failed++
				continue
			}

			if commit {
				finishErr = walEngine.Commit(entry.ID)
			} else {
				finishErr = walEngine.Abort(entry.ID)
			}
			if finishErr != nil {
				entryLog.Error("Не удалось закрыть намерение WAL", slog.String("error", finishErr.Error()))
				result.Failed++
				continue
			}

			if commit {
				result.Committed++
				entryLog.Info("Операция доведена до конца")
			} else {
				result.RolledBack++
				entryLog.Info("Операция отменена, объект удалён")
			}
		}
	}

	if _, err := walEngine.Compact(); err != nil {
		log.Warn("Ошибка сжатия WAL", slog.String("error", err.Error()))
	}

	log.Info("Восстановление WAL завершено",
		slog.Int("committed", result.Committed),
		slog.Int("rolled_back", result.RolledBack),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}
