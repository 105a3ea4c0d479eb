// Package memrepo keeps sessions in process memory.
package memrepo

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/cognito-guard/sessions"
)

var _ sessions.Repo = (*MemoryRepo)(nil)

type MemoryRepo struct {
	sessions map[string]*sessions.Session
	lock     sync.RWMutex
}

func New() *MemoryRepo {
	return &MemoryRepo{
		sessions: make(map[string]*sessions.Session),
	}
}

func (r *MemoryRepo) Save(_ context.Context, s *sessions.Session) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.sessions[s.ID] = s.Clone()
	return nil
}

func (r *MemoryRepo) Load(_ context.Context, id string) (*sessions.Session, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, sessions.ErrNotFound
	}
	return s.Clone(), nil
}

func (r *MemoryRepo) Delete(_ context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	delete(r.sessions, id)
	return nil
}

func (r *MemoryRepo) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	removed := 0
	for id, s := range r.sessions {
		if s.Expired(now) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (r *MemoryRepo) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.sessions)
}
