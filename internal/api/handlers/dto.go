// dto.go — JSON-представления ответов API.
package handlers

import (
	"time"

	"github.com/bigkaa/filedrop/internal/domain/model"
	"github.com/bigkaa/filedrop/internal/service"
)

// userResponse — пользователь без хэша пароля.
type userResponse struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CanUpload   bool      `json:"canUpload"`
	CanDownload bool      `json:"canDownload"`
	CanManage   bool      `json:"canManage"`
}

func toUserResponse(u *model.UserWithPermissions) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
		CanUpload:   u.CanUpload,
		CanDownload: u.CanDownload,
		CanManage:   u.CanManage,
	}
}

// authResponse — ответ регистрации и входа.
type authResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      userResponse `json:"user"`
}

func toAuthResponse(res *service.AuthResult) authResponse {
	return authResponse{
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		User:      toUserResponse(res.User),
	}
}

// fileResponse — метаданные файла.
type fileResponse struct {
	ID           int64     `json:"id"`
	FileName     string    `json:"fileName"`
	FileSize     int64     `json:"fileSize"`
	Description  string    `json:"description"`
	UploadedAt   time.Time `json:"uploadedAt"`
	UploadedByID int64     `json:"uploadedById"`
	// Username — имя владельца, "Unknown" если он удалён
	Username         string   `json:"username,omitempty"`
	GrantedUsernames []string `json:"grantedUsernames,omitempty"`
}

func toFileResponse(f *model.File) fileResponse {
	return fileResponse{
		ID:           f.ID,
		FileName:     f.FileName,
		FileSize:     f.Size,
		Description:  f.Description,
		UploadedAt:   f.UploadedAt,
		UploadedByID: f.UploadedBy,
	}
}

func toFileListResponse(items []*service.FileListItem) []fileResponse {
	result := make([]fileResponse, 0, len(items))
	for _, item := range items {
		resp := toFileResponse(&item.File)
		resp.Username = item.UploaderName
		resp.GrantedUsernames = item.GrantedUsernames
		if resp.GrantedUsernames == nil {
			resp.GrantedUsernames = []string{}
		}
		result = append(result, resp)
	}
	return result
}

// chunkResponse — ответ на приём чанка.
type chunkResponse struct {
	UploadID    string        `json:"uploadId"`
	ChunkIndex  int           `json:"chunkIndex"`
	Received    int           `json:"received"`
	TotalChunks int           `json:"totalChunks"`
	State       string        `json:"state"`
	File        *fileResponse `json:"file,omitempty"`
}

// grantResponse — выдача доступа.
type grantResponse struct {
	ID        int64     `json:"id"`
	FileID    int64     `json:"fileId"`
	UserID    int64     `json:"userId"`
	GrantedAt time.Time `json:"grantedAt"`
}

// accessEntry — пользователь с доступом к файлу.
type accessEntry struct {
	UserID    int64     `json:"userId"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	GrantedAt time.Time `json:"grantedAt"`
}

// accessListResponse — журнал выдач доступа к файлу.
type accessListResponse struct {
	FileID     int64         `json:"fileId"`
	FileName   string        `json:"filename"`
	AccessList []accessEntry `json:"accessList"`
}
