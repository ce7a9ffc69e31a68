// Пакет upload — конечный автомат сессии загрузки файла.
//
// Два жизненных цикла:
//   - SINGLE_SHOT_RECEIVING → REGISTERED — однократная загрузка multipart
//   - CHUNK_RECEIVING → FINALIZING → REGISTERED — чанковая загрузка
//
// FAILED достижим из любого нетерминального состояния.
// REGISTERED и FAILED — конечные состояния.
//
// Потокобезопасен через sync.RWMutex.
package upload

import (
	"fmt"
	"sync"
	"time"
)

// State — состояние сессии загрузки.
type State string

const (
	// StateSingleShotReceiving — приём тела multipart
	StateSingleShotReceiving State = "SINGLE_SHOT_RECEIVING"
	// StateChunkReceiving — приём чанков
	StateChunkReceiving State = "CHUNK_RECEIVING"
	// StateFinalizing — сборка чанков в итоговый объект
	StateFinalizing State = "FINALIZING"
	// StateRegistered — запись файла создана
	StateRegistered State = "REGISTERED"
	// StateFailed — загрузка отменена, идентификатор не переиспользуется
	StateFailed State = "FAILED"
)

// validTransitions — матрица допустимых переходов.
var validTransitions = map[State]map[State]bool{
	StateSingleShotReceiving: {StateRegistered: true, StateFailed: true},
	StateChunkReceiving:      {StateFinalizing: true, StateFailed: true},
	StateFinalizing:          {StateRegistered: true, StateFailed: true},
	StateRegistered:          {},
	StateFailed:              {},
}

// Session — сессия загрузки одного файла.
type Session struct {
	mu sync.RWMutex

	// UploadID — идентификатор загрузки (x-file-id); пуст для однократной
	UploadID string
	// UploaderID — id пользователя, начавшего загрузку
	UploaderID int64
	// FileName — отображаемое имя файла
	FileName    string
	Description string
	// TotalChunks — количество чанков; 1 для однократной загрузки
	TotalChunks int
	StartedAt   time.Time

	state    State
	received map[int]bool
}

// NewChunkedSession создаёт сессию чанковой загрузки в состоянии CHUNK_RECEIVING.
func NewChunkedSession(uploadID string, uploaderID int64, fileName string, totalChunks int) (*Session, error) {
	if totalChunks < 1 {
		return nil, fmt.Errorf("недопустимое количество чанков: %d", totalChunks)
	}
	return &Session{
		UploadID:    uploadID,
		UploaderID:  uploaderID,
		FileName:    fileName,
		TotalChunks: totalChunks,
		StartedAt:   time.Now().UTC(),
		state:       StateChunkReceiving,
		received:    make(map[int]bool, totalChunks),
	}, nil
}

// NewSingleShotSession создаёт сессию однократной загрузки.
func NewSingleShotSession(uploaderID int64, fileName string) *Session {
	return &Session{
		UploaderID:  uploaderID,
		FileName:    fileName,
		TotalChunks: 1,
		StartedAt:   time.Now().UTC(),
		state:       StateSingleShotReceiving,
		received:    make(map[int]bool, 1),
	}
}

// State возвращает текущее состояние.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// TransitionTo выполняет переход в указанное состояние.
// Недопустимый переход — *TransitionError с кодом INVALID_TRANSITION.
func (s *Session) TransitionTo(target State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validTransitions[s.state][target] {
		return &TransitionError{
			Code:    "INVALID_TRANSITION",
			Message: fmt.Sprintf("переход %s → %s недопустим", s.state, target),
		}
	}

	s.state = target
	return nil
}

// Fail переводит сессию в FAILED, если она ещё не в конечном состоянии.
func (s *Session) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if IsTerminal(s.state) {
		return
	}
	s.state = StateFailed
}

// MarkReceived отмечает чанк как принятый.
// Возвращает количество различных принятых чанков.
func (s *Session) MarkReceived(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received[index] = true
	return len(s.received)
}

// IsTerminal — конечное состояние (REGISTERED или FAILED).
func IsTerminal(st State) bool {
	return st == StateRegistered || st == StateFailed
}

// TransitionError — ошибка перехода между состояниями.
type TransitionError struct {
	Code    string // Машиночитаемый код (INVALID_TRANSITION)
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
