package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-room-service/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - Sessions live in a local map; room state and broadcast stay in-process.
//   - Redis holds a liveness key per room code. SETNX on that key keeps room
//     codes unique across instances sharing the same Redis.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Create(session *app.Session) error {
	code := session.Code()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[code]; ok {
		return app.ErrRoomExists
	}
	ok, err := s.client.SetNX(context.Background(), s.key(code), "1", s.ttl).Result()
	if err != nil {
		return fmt.Errorf("reserve room code: %w", err)
	}
	if !ok {
		return app.ErrRoomExists
	}
	s.sessions[code] = session
	return nil
}

func (s *SessionStore) Get(code string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[code]
	return session, ok
}

func (s *SessionStore) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[code]; !ok {
		return
	}
	delete(s.sessions, code)
	_ = s.client.Del(context.Background(), s.key(code)).Err()
}

func (s *SessionStore) List() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}

func (s *SessionStore) key(code string) string {
	return "quiz:room:" + code
}
