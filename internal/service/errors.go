// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/filedrop/internal/repository"
	"github.com/bigkaa/filedrop/internal/storage/jsonstore"
)

var (
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс или повторное использование загрузки).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrForbidden — недостаточно прав на ресурс.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrUnauthorized — неверные учётные данные.
	ErrUnauthorized = errors.New("неверные учётные данные")
	// ErrIO — ошибка чтения или записи на диск.
	ErrIO = errors.New("ошибка ввода-вывода")
	// ErrTooLarge — файл или чанк превышает лимит.
	ErrTooLarge = errors.New("превышен допустимый размер")
)

// validationf возвращает ErrValidation с описанием.
func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// mapRepoErr переводит ошибки репозиториев и хранилища в ошибки сервиса.
func mapRepoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, jsonstore.ErrIO):
		return fmt.Errorf("%w: %w", ErrIO, err)
	default:
		return err
	}
}
