package chunkstore

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestNew_CreatesDirectory проверяет создание .chunks в директории загрузок.
func TestNew_CreatesDirectory(t *testing.T) {
	uploadDir := t.TempDir()

	cs, err := New(uploadDir, 0)
	if err != nil {
		t.Fatalf("ошибка создания ChunkStore: %v", err)
	}
	if cs.Dir() != filepath.Join(uploadDir, DirName) {
		t.Errorf("неожиданный путь: %s", cs.Dir())
	}
	if _, err := os.Stat(cs.Dir()); err != nil {
		t.Fatalf("директория чанков не создана: %v", err)
	}
}

// TestValidUploadID проверяет формат идентификатора загрузки.
func TestValidUploadID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"abc-123_XYZ", true},
		{strings.Repeat("a", 128), true},
		{strings.Repeat("a", 129), false},
		{"", false},
		{"../etc", false},
		{"a/b", false},
		{"id с пробелом", false},
	}
	for _, tt := range tests {
		if got := ValidUploadID(tt.id); got != tt.want {
			t.Errorf("ValidUploadID(%q) = %v, ожидалось %v", tt.id, got, tt.want)
		}
	}
}

// TestReader_OutOfOrder проверяет сборку чанков, записанных не по порядку.
func TestReader_OutOfOrder(t *testing.T) {
	cs, _ := New(t.TempDir(), 0)

	parts := []string{"первый-", "второй-", "третий"}
	for _, i := range []int{2, 0, 1} {
		n, err := cs.WriteChunk("up1", i, strings.NewReader(parts[i]))
		if err != nil {
			t.Fatalf("ошибка записи чанка %d: %v", i, err)
		}
		if n != int64(len(parts[i])) {
			t.Errorf("чанк %d: записано %d байт", i, n)
		}
	}

	for i := 0; i < 3; i++ {
		if !cs.HasChunk("up1", i) {
			t.Errorf("чанк %d отсутствует", i)
		}
	}

	r := cs.Reader("up1", 3)
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if string(data) != strings.Join(parts, "") {
		t.Errorf("неверный результат сборки: %q", data)
	}
}

// TestReader_MissingChunk проверяет ошибку при отсутствующем чанке.
func TestReader_MissingChunk(t *testing.T) {
	cs, _ := New(t.TempDir(), 0)
	cs.WriteChunk("up2", 0, strings.NewReader("a"))
	cs.WriteChunk("up2", 2, strings.NewReader("c"))

	r := cs.Reader("up2", 3)
	defer r.Close()
	_, err := io.ReadAll(r)
	if !errors.Is(err, ErrMissingChunk) {
		t.Fatalf("ожидалась ErrMissingChunk, получено: %v", err)
	}
}

// TestTotalSize проверяет суммарный размер и отсутствующий чанк.
func TestTotalSize(t *testing.T) {
	cs, _ := New(t.TempDir(), 0)
	cs.WriteChunk("up6", 0, strings.NewReader("abc"))
	cs.WriteChunk("up6", 1, strings.NewReader("de"))

	size, err := cs.TotalSize("up6", 2)
	if err != nil {
		t.Fatalf("ошибка TotalSize: %v", err)
	}
	if size != 5 {
		t.Errorf("размер: ожидалось 5, получено %d", size)
	}

	if _, err := cs.TotalSize("up6", 3); !errors.Is(err, ErrMissingChunk) {
		t.Errorf("ожидалась ErrMissingChunk, получено: %v", err)
	}
}

// TestReader_EmptyChunk проверяет, что пустой чанк не прерывает сборку.
func TestReader_EmptyChunk(t *testing.T) {
	cs, _ := New(t.TempDir(), 0)
	cs.WriteChunk("up3", 0, strings.NewReader("a"))
	cs.WriteChunk("up3", 1, bytes.NewReader(nil))
	cs.WriteChunk("up3", 2, strings.NewReader("b"))

	data, err := io.ReadAll(cs.Reader("up3", 3))
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if string(data) != "ab" {
		t.Errorf("результат: %q", data)
	}
}

// TestWriteChunk_TooLarge проверяет ограничение размера чанка.
func TestWriteChunk_TooLarge(t *testing.T) {
	cs, _ := New(t.TempDir(), 4)

	_, err := cs.WriteChunk("up4", 0, strings.NewReader("12345"))
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("ожидалась ErrTooLarge, получено: %v", err)
	}
	if cs.HasChunk("up4", 0) {
		t.Error("чанк сверх лимита остался на диске")
	}
	entries, _ := os.ReadDir(cs.Dir())
	if len(entries) != 0 {
		t.Errorf("в директории чанков остались файлы: %d", len(entries))
	}
}

// TestWriteChunk_InvalidID проверяет отказ для идентификатора с путём.
func TestWriteChunk_InvalidID(t *testing.T) {
	cs, _ := New(t.TempDir(), 0)
	if _, err := cs.WriteChunk("../x", 0, strings.NewReader("a")); !errors.Is(err, ErrInvalidUploadID) {
		t.Errorf("ожидалась ErrInvalidUploadID, получено: %v", err)
	}
}

// TestDeleteAll проверяет удаление всех чанков загрузки.
func TestDeleteAll(t *testing.T) {
	cs, _ := New(t.TempDir(), 0)
	for i := 0; i < 3; i++ {
		cs.WriteChunk("up5", i, strings.NewReader("x"))
	}
	cs.WriteChunk("other", 0, strings.NewReader("y"))

	if err := cs.DeleteAll("up5", 3); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}
	for i := 0; i < 3; i++ {
		if cs.HasChunk("up5", i) {
			t.Errorf("чанк %d не удалён", i)
		}
	}
	if !cs.HasChunk("other", 0) {
		t.Error("удалён чанк другой загрузки")
	}
	// Повторное удаление — не ошибка
	if err := cs.DeleteAll("up5", 3); err != nil {
		t.Errorf("повторное удаление вернуло ошибку: %v", err)
	}
}
