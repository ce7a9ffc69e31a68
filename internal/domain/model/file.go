package model

import "time"

// File — метаданные загруженного файла (коллекция files).
type File struct {
	ID int64 `json:"id"`
	// FileName — отображаемое имя (имя файла у клиента)
	FileName string `json:"file_name"`
	// StoragePath — имя объекта на диске, генерируется сервером
	StoragePath string `json:"file_path"`
	// UploadedBy — ID владельца
	UploadedBy  int64     `json:"uploadedBy"`
	Size        int64     `json:"filesize"`
	Description string    `json:"description"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// FileAccess — явная выдача доступа к файлу (коллекция file_access).
// Не более одной записи на пару (FileID, UserID).
type FileAccess struct {
	ID        int64     `json:"id"`
	FileID    int64     `json:"fileId"`
	UserID    int64     `json:"userId"`
	GrantedAt time.Time `json:"grantedAt"`
}

// FileDownload — запись журнала скачиваний (коллекция file_downloads).
// Только добавляется, удаляется каскадом вместе с файлом или пользователем.
type FileDownload struct {
	ID           int64     `json:"id"`
	FileID       int64     `json:"fileId"`
	UserID       int64     `json:"userId"`
	DownloadedAt time.Time `json:"downloadedAt"`
}

// FileWithUploader — файл с именем владельца (join files↔users).
type FileWithUploader struct {
	File
	// UploaderName — "Unknown", если владелец уже удалён
	UploaderName string
}

// GrantedUser — пользователь, которому выдан доступ к файлу (join file_access↔users).
type GrantedUser struct {
	UserID    int64
	Username  string
	Email     string
	GrantedAt time.Time
}
