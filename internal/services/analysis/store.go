package analysis

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/user/marketing-insights-api/internal/metrics"
)

// Store - реестр сессий в памяти, изолированных по пользователю
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewStore создаёт пустой реестр
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create создаёт сессию с новым идентификатором
func (s *Store) Create() *Session {
	return s.GetOrCreate(uuid.NewString())
}

// GetOrCreate возвращает сессию, создавая её при первом обращении
func (s *Store) GetOrCreate(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = newSession(id, now)
		s.sessions[id] = sess
		metrics.ActiveSessions.Set(float64(len(s.sessions)))
	}
	s.mu.Unlock()

	if ok {
		sess.touch(now)
	} else {
		log.Printf("[Session] Создана сессия %s", id)
	}
	return sess
}

// Get возвращает существующую сессию
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		sess.touch(s.now())
	}
	return sess, ok
}

// Delete сбрасывает и удаляет сессию
func (s *Store) Delete(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	if ok {
		sess.Reset()
	}
}

// Len - число сессий
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// SweepIdle удаляет сессии без активности дольше maxIdle (вызывается из cron).
// Сессии с выполняющимся запросом не трогаются.
func (s *Store) SweepIdle(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)

	s.mu.Lock()
	var expired []*Session
	for id, sess := range s.sessions {
		lastSeen, busy := sess.idleSince()
		if busy || lastSeen.After(cutoff) {
			continue
		}
		expired = append(expired, sess)
		delete(s.sessions, id)
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	s.mu.Unlock()

	for _, sess := range expired {
		sess.Reset()
	}
	if len(expired) > 0 {
		log.Printf("[Session] Удалено неактивных сессий: %d", len(expired))
	}
	return len(expired)
}
