// collection.go — типизированные операции над коллекциями документа.
package jsonstore

import (
	"github.com/bigkaa/filedrop/internal/domain/model"
)

// Collection описывает коллекцию документа: имя (ключ в data.json и nextIds),
// доступ к срезу записей и к полю id записи.
type Collection[T any] struct {
	name string
	rows func(d *Document) *[]T
	id   func(r *T) *int64
}

// Name возвращает имя коллекции.
func (c Collection[T]) Name() string {
	return c.name
}

// Коллекции data.json.
var (
	Users = Collection[model.User]{
		name: "users",
		rows: func(d *Document) *[]model.User { return &d.Users },
		id:   func(r *model.User) *int64 { return &r.ID },
	}
	Files = Collection[model.File]{
		name: "files",
		rows: func(d *Document) *[]model.File { return &d.Files },
		id:   func(r *model.File) *int64 { return &r.ID },
	}
	Downloads = Collection[model.FileDownload]{
		name: "file_downloads",
		rows: func(d *Document) *[]model.FileDownload { return &d.Downloads },
		id:   func(r *model.FileDownload) *int64 { return &r.ID },
	}
	Permissions = Collection[model.Permission]{
		name: "user_permissions",
		rows: func(d *Document) *[]model.Permission { return &d.Permissions },
		id:   func(r *model.Permission) *int64 { return &r.ID },
	}
	Access = Collection[model.FileAccess]{
		name: "file_access",
		rows: func(d *Document) *[]model.FileAccess { return &d.Access },
		id:   func(r *model.FileAccess) *int64 { return &r.ID },
	}
)

var collectionNames = []string{
	Users.name, Files.name, Downloads.name, Permissions.name, Access.name,
}

// Tx — доступ к документу внутри Store.Write или Store.Read.
type Tx struct {
	doc      *Document
	writable bool
	changed  bool
}

func (tx *Tx) mustWrite() {
	if !tx.writable {
		panic("jsonstore: мутация внутри Store.Read")
	}
}

// Insert присваивает записи следующий id коллекции и добавляет её в конец.
// Возвращает сохранённую запись с id.
func Insert[T any](tx *Tx, c Collection[T], rec T) T {
	tx.mustWrite()

	id := tx.doc.NextIDs[c.name]
	if id < 1 {
		id = 1
	}
	*c.id(&rec) = id
	tx.doc.NextIDs[c.name] = id + 1

	rows := c.rows(tx.doc)
	*rows = append(*rows, rec)
	tx.changed = true
	return rec
}

// Update применяет patch к первой записи, подходящей под match.
// patch меняет только переданные поля; id записи не меняется.
// Возвращает ErrNotFound, если подходящей записи нет.
func Update[T any](tx *Tx, c Collection[T], match func(T) bool, patch func(*T)) (T, error) {
	tx.mustWrite()

	rows := *c.rows(tx.doc)
	for i := range rows {
		if !match(rows[i]) {
			continue
		}
		id := *c.id(&rows[i])
		patch(&rows[i])
		*c.id(&rows[i]) = id
		tx.changed = true
		return rows[i], nil
	}

	var zero T
	return zero, ErrNotFound
}

// Delete удаляет все записи, подходящие под match, и возвращает их количество.
// Отсутствие подходящих записей — не ошибка.
func Delete[T any](tx *Tx, c Collection[T], match func(T) bool) int {
	tx.mustWrite()

	rows := c.rows(tx.doc)
	kept := (*rows)[:0]
	removed := 0
	for _, r := range *rows {
		if match(r) {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0
	}

	clear((*rows)[len(kept):])
	*rows = kept
	tx.changed = true
	return removed
}

// Find возвращает копию первой записи, подходящей под match.
func Find[T any](tx *Tx, c Collection[T], match func(T) bool) (T, bool) {
	for _, r := range *c.rows(tx.doc) {
		if match(r) {
			return r, true
		}
	}
	var zero T
	return zero, false
}

// FindAll возвращает копии всех подходящих записей в порядке вставки.
// match == nil — все записи коллекции.
func FindAll[T any](tx *Tx, c Collection[T], match func(T) bool) []T {
	result := make([]T, 0)
	for _, r := range *c.rows(tx.doc) {
		if match == nil || match(r) {
			result = append(result, r)
		}
	}
	return result
}

// --- Одиночные операции со своим локом ---

// InsertOne вставляет запись отдельной транзакцией.
func InsertOne[T any](s *Store, c Collection[T], rec T) (T, error) {
	var saved T
	err := s.Write(func(tx *Tx) error {
		saved = Insert(tx, c, rec)
		return nil
	})
	return saved, err
}

// DeleteWhere удаляет все подходящие записи отдельной транзакцией.
func DeleteWhere[T any](s *Store, c Collection[T], match func(T) bool) (int, error) {
	var n int
	err := s.Write(func(tx *Tx) error {
		n = Delete(tx, c, match)
		return nil
	})
	return n, err
}

// FindOne — Find под read-локом.
func FindOne[T any](s *Store, c Collection[T], match func(T) bool) (T, bool) {
	var (
		rec T
		ok  bool
	)
	s.Read(func(tx *Tx) {
		rec, ok = Find(tx, c, match)
	})
	return rec, ok
}

// FindMany — FindAll под read-локом.
func FindMany[T any](s *Store, c Collection[T], match func(T) bool) []T {
	var result []T
	s.Read(func(tx *Tx) {
		result = FindAll(tx, c, match)
	})
	return result
}

// maxID возвращает максимальный id в срезе (0 для пустого).
func maxID[T any](rows []T, c Collection[T]) int64 {
	var m int64
	for i := range rows {
		if id := *c.id(&rows[i]); id > m {
			m = id
		}
	}
	return m
}
