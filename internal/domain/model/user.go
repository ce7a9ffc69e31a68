// Пакет model — доменные модели filedrop.
// Структуры совпадают с форматом записей в data.json: имена JSON-полей
// являются частью формата хранения и не меняются.
package model

import (
	"time"
)

// User — учётная запись пользователя (коллекция users).
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	// Email — опционален, пустая строка означает отсутствие
	Email string `json:"email"`
	// PasswordHash — bcrypt-хэш, в API не отдаётся
	PasswordHash string    `json:"password"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Permission — флаги прав пользователя (коллекция user_permissions).
// Ровно одна запись на живого пользователя.
type Permission struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"userId"`
	CanUpload   Flag      `json:"canUpload"`
	CanDownload Flag      `json:"canDownload"`
	CanManage   Flag      `json:"canManage"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserWithPermissions — пользователь с флагами прав (join users↔user_permissions).
type UserWithPermissions struct {
	User
	CanUpload   bool
	CanDownload bool
	CanManage   bool
}
