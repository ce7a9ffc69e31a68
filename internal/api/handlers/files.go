// files.go — список, метаданные, загрузка, скачивание и удаление файлов.
package handlers

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	apierrors "github.com/bigkaa/filedrop/internal/api/errors"
	"github.com/bigkaa/filedrop/internal/domain/upload"
	"github.com/bigkaa/filedrop/internal/service"
)

// Заголовки чанковой загрузки.
const (
	headerUploadID    = "X-File-Id"
	headerChunkIndex  = "X-Chunk-Index"
	headerTotalChunks = "X-Total-Chunks"
	headerFileName    = "X-File-Name"
	headerDescription = "X-File-Description"
)

// ListFiles обрабатывает GET /api/files.
// Возвращает только файлы, видимые пользователю, новые первыми.
func (h *APIHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	items, err := h.files.List(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, "list_files", err)
		return
	}
	writeJSON(w, http.StatusOK, toFileListResponse(items))
}

// GetFile обрабатывает GET /api/files/{id}.
func (h *APIHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	fileID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	f, err := h.files.Get(r.Context(), id, fileID)
	if err != nil {
		h.writeServiceError(w, r, "get_file", err)
		return
	}

	resp := toFileResponse(&f.File)
	resp.Username = f.UploaderName
	writeJSON(w, http.StatusOK, resp)
}

// UploadFile обрабатывает POST /api/files/upload (multipart/form-data).
// Тело читается потоково, часть file пишется сразу на диск.
func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ожидается multipart/form-data: %v", err))
		return
	}

	f, err := h.uploads.UploadMultipart(r.Context(), mr, id.UserID)
	if err != nil {
		h.writeServiceError(w, r, "upload", err)
		return
	}
	writeJSON(w, http.StatusCreated, toFileResponse(f))
}

// UploadChunk обрабатывает POST /api/files/upload/chunk.
// Параметры — в заголовках, тело — байты чанка.
// 202 — чанк принят, 201 — последний чанк, файл собран.
func (h *APIHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(r.Header.Get(headerChunkIndex))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный заголовок x-chunk-index")
		return
	}
	total, err := strconv.Atoi(r.Header.Get(headerTotalChunks))
	if err != nil {
		apierrors.ValidationError(w, "Некорректный заголовок x-total-chunks")
		return
	}
	fileName, err := url.PathUnescape(r.Header.Get(headerFileName))
	if err != nil {
		apierrors.ValidationError(w, "Некорректная кодировка x-file-name")
		return
	}
	description, err := url.PathUnescape(r.Header.Get(headerDescription))
	if err != nil {
		apierrors.ValidationError(w, "Некорректная кодировка x-file-description")
		return
	}

	// Сборка не прерывается отменой запроса
	res, err := h.chunked.PutChunk(context.WithoutCancel(r.Context()), id.UserID, service.ChunkParams{
		UploadID:    r.Header.Get(headerUploadID),
		Index:       index,
		Total:       total,
		FileName:    fileName,
		Description: description,
		Body:        r.Body,
	})
	if err != nil {
		h.writeServiceError(w, r, "upload_chunk", err)
		return
	}

	resp := chunkResponse{
		UploadID:    res.UploadID,
		ChunkIndex:  res.ChunkIndex,
		Received:    res.Received,
		TotalChunks: res.TotalChunks,
		State:       string(res.State),
	}
	status := http.StatusAccepted
	if res.State == upload.StateRegistered && res.File != nil {
		f := toFileResponse(res.File)
		resp.File = &f
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

// DownloadFile обрабатывает GET /api/files/{id}/download.
// Токен допускается в ?token= для прямых ссылок. Поддерживает Range.
func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	fileID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	dl, err := h.files.OpenDownload(r.Context(), id, fileID)
	if err != nil {
		h.writeServiceError(w, r, "download", err)
		return
	}
	defer dl.Content.Close()

	w.Header().Set("Content-Disposition", contentDisposition(dl.File.FileName))
	http.ServeContent(w, r, dl.File.FileName, dl.ModTime, dl.Content)
}

// DeleteFile обрабатывает DELETE /api/files/{id}.
func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	fileID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.files.Delete(r.Context(), id, fileID); err != nil {
		h.writeServiceError(w, r, "delete_file", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Файл удалён"})
}

// contentDisposition формирует заголовок attachment; имя в UTF-8
// кодируется по RFC 2231/5987 (filename*=utf-8'').
func contentDisposition(fileName string) string {
	v := mime.FormatMediaType("attachment", map[string]string{"filename": fileName})
	if v == "" {
		return "attachment"
	}
	return v
}
