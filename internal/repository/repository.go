// Пакет repository — типизированный слой доступа к данным поверх jsonstore.
// Один репозиторий на коллекцию; связи между коллекциями (join, каскадное
// удаление) выполняются внутри одной транзакции хранилища.
package repository

import (
	"errors"
	"fmt"

	"github.com/bigkaa/filedrop/internal/storage/jsonstore"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// AccessOrder — порядок списка выдач доступа к файлу.
type AccessOrder int

const (
	// OrderGrantedDesc — по времени выдачи, новые первыми (журнал выдач).
	OrderGrantedDesc AccessOrder = iota
	// OrderUsernameAsc — по имени пользователя (набор «уже есть доступ»).
	OrderUsernameAsc
)

// UnknownUploader — имя владельца файла, если пользователь уже удалён.
const UnknownUploader = "Unknown"

// Repositories — набор репозиториев над одним хранилищем.
type Repositories struct {
	Users     UserRepository
	Files     FileRepository
	Access    AccessRepository
	Downloads DownloadRepository
}

// New создаёт все репозитории над хранилищем store.
func New(store *jsonstore.Store) *Repositories {
	return &Repositories{
		Users:     NewUserRepository(store),
		Files:     NewFileRepository(store),
		Access:    NewAccessRepository(store),
		Downloads: NewDownloadRepository(store),
	}
}

// wrapStoreErr переводит ErrNotFound хранилища в ошибку слоя репозиториев.
func wrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, jsonstore.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}
