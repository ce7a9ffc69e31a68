// Пакет wal — журнал намерений для операций над объектами в директории загрузок.
//
// Журнал — один файл intents.jsonl в FD_WAL_DIR: по строке JSON на событие.
// Намерение открывается записью begin и закрывается записью commit или abort.
// Открытые намерения после рестарта доводятся или откатываются восстановлением.
package wal

import (
	"time"
)

// journalFile — имя файла журнала в директории WAL.
const journalFile = "intents.jsonl"

// Operation — операция над объектом.
type Operation string

const (
	// OpUploadSingle — однократная загрузка multipart
	OpUploadSingle Operation = "upload_single"
	// OpUploadChunked — сборка чанков в итоговый объект
	OpUploadChunked Operation = "upload_chunked"
	// OpFileDelete — удаление объекта и метаданных файла
	OpFileDelete Operation = "file_delete"
)

// recordKind — тип строки журнала.
type recordKind string

const (
	kindBegin  recordKind = "begin"
	kindCommit recordKind = "commit"
	kindAbort  recordKind = "abort"
)

// Target — объект операции.
type Target struct {
	// StoragePath — имя объекта в директории загрузок
	StoragePath string
	// UploadID — идентификатор чанковой загрузки (для upload_chunked)
	UploadID string
	// FileID — id записи файла (для file_delete)
	FileID int64
}

// Intent — открытое намерение: операция начата, но не завершена.
type Intent struct {
	ID          string
	Operation   Operation
	StoragePath string
	UploadID    string
	FileID      int64
	BegunAt     time.Time
}

// record — строка журнала.
type record struct {
	Kind recordKind `json:"kind"`
	ID   string     `json:"id"`
	At   time.Time  `json:"at"`

	// Заполняются только для begin
	Operation   Operation `json:"op,omitempty"`
	StoragePath string    `json:"storage_path,omitempty"`
	UploadID    string    `json:"upload_id,omitempty"`
	FileID      int64     `json:"file_id,omitempty"`
}

func beginRecord(in *Intent) record {
	return record{
		Kind:        kindBegin,
		ID:          in.ID,
		At:          in.BegunAt,
		Operation:   in.Operation,
		StoragePath: in.StoragePath,
		UploadID:    in.UploadID,
		FileID:      in.FileID,
	}
}

func (r record) intent() *Intent {
	return &Intent{
		ID:          r.ID,
		Operation:   r.Operation,
		StoragePath: r.StoragePath,
		UploadID:    r.UploadID,
		FileID:      r.FileID,
		BegunAt:     r.At,
	}
}
