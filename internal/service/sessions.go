// sessions.go — состояние чанковых загрузок в памяти.
// Expirable LRU сессий + блокировки по uploadId.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/filedrop/internal/domain/upload"
)

// Prometheus-метрики кэша сессий.
var (
	sessionCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_upload_sessions_cache_hits_total",
		Help: "Общее количество найденных сессий чанковой загрузки.",
	})
	sessionCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fd_upload_sessions_cache_misses_total",
		Help: "Общее количество обращений к отсутствующей сессии чанковой загрузки.",
	})
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fd_upload_sessions_active",
		Help: "Количество сессий чанковой загрузки в кэше.",
	})
)

// SessionTracker — LRU-кэш сессий чанковой загрузки с TTL.
// Вытеснение сессии забывает только её состояние: чанки на диске остаются.
type SessionTracker struct {
	cache *expirable.LRU[string, *upload.Session]
}

// NewSessionTracker создаёт кэш сессий.
// maxSize — максимальное количество сессий, ttl — время жизни после добавления.
func NewSessionTracker(maxSize int, ttl time.Duration) *SessionTracker {
	return &SessionTracker{cache: expirable.NewLRU[string, *upload.Session](maxSize, nil, ttl)}
}

// Get возвращает сессию по uploadId.
func (t *SessionTracker) Get(uploadID string) (*upload.Session, bool) {
	s, ok := t.cache.Get(uploadID)
	sessionsActive.Set(float64(t.Len()))
	if ok {
		sessionCacheHitsTotal.Inc()
		return s, true
	}
	sessionCacheMissesTotal.Inc()
	return nil, false
}

// Put добавляет или заменяет сессию.
func (t *SessionTracker) Put(s *upload.Session) {
	t.cache.Add(s.UploadID, s)
	sessionsActive.Set(float64(t.Len()))
}

// Len возвращает количество сессий в кэше.
func (t *SessionTracker) Len() int {
	return t.cache.Len()
}

// keyedMutex — мьютекс на ключ с подсчётом ссылок.
// Запись удаляется из карты, когда ключ никто не держит и не ждёт.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

// Lock захватывает блокировку ключа и возвращает функцию освобождения.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size — количество ключей в карте.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
