package repository

import (
	"context"
	"sync"
	"time"

	"github.com/riteshkumar/facepay-ledger/internal/errors"
	"github.com/riteshkumar/facepay-ledger/internal/models"
)

type storedSession struct {
	session models.FacePaySession
	evictAt time.Time
}

// InMemorySessionRepository is a single-process session store. Entries past
// their retention are invisible to Get and removed by Purge.
type InMemorySessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]storedSession
	now      func() time.Time
}

func NewInMemorySessionRepository() *InMemorySessionRepository {
	return &InMemorySessionRepository{
		sessions: make(map[string]storedSession),
		now:      time.Now,
	}
}

// WithClock replaces the time source used for retention checks.
func (r *InMemorySessionRepository) WithClock(now func() time.Time) *InMemorySessionRepository {
	r.now = now
	return r
}

func (r *InMemorySessionRepository) Save(_ context.Context, session *models.FacePaySession, retention time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[session.ID] = storedSession{
		session: *session,
		evictAt: r.now().Add(retention),
	}
	return nil
}

func (r *InMemorySessionRepository) Get(_ context.Context, id string) (*models.FacePaySession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.sessions[id]
	if !ok || !r.now().Before(entry.evictAt) {
		return nil, errors.ErrSessionNotFound
	}
	out := entry.session
	return &out, nil
}

func (r *InMemorySessionRepository) ListOpen(_ context.Context) ([]*models.FacePaySession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	var out []*models.FacePaySession
	for _, entry := range r.sessions {
		if entry.session.State.Terminal() || !now.Before(entry.evictAt) {
			continue
		}
		s := entry.session
		out = append(out, &s)
	}
	return out, nil
}

// Purge drops entries whose retention has elapsed and reports how many.
func (r *InMemorySessionRepository) Purge(_ context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for id, entry := range r.sessions {
		if !now.Before(entry.evictAt) {
			delete(r.sessions, id)
			removed++
		}
	}
	return removed
}
