package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is a live protocol session. Sessions are created by initialize,
// carried on subsequent requests via the session header, and expire after
// a period of inactivity.
type Session struct {
	// ID is the opaque session identifier handed to the client.
	ID string

	// OwnerID is the account the session was initialized for.
	OwnerID string

	// CreatedAt is when the session was established.
	CreatedAt time.Time

	// LastSeenAt is updated on every request carrying the session.
	LastSeenAt time.Time
}

// InMemorySessionStore is the default SessionStore: a mutex-guarded map with
// lazy idle expiry. Sessions do not survive a process restart.
type InMemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	idleTTL  time.Duration
	now      func() time.Time

	// onEvict, when set, fires after a session is removed, whether
	// explicitly or by idle expiry.
	onEvict func(id string)
}

// DefaultSessionIdleTTL is how long a session survives without activity.
const DefaultSessionIdleTTL = 30 * time.Minute

// NewInMemorySessionStore creates a session store with the given idle TTL.
// A non-positive ttl falls back to DefaultSessionIdleTTL.
func NewInMemorySessionStore(ttl time.Duration) *InMemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionIdleTTL
	}
	return &InMemorySessionStore{
		sessions: make(map[string]*Session),
		idleTTL:  ttl,
		now:      time.Now,
	}
}

// Create registers a new session for the owner and returns its ID.
func (s *InMemorySessionStore) Create(ctx context.Context, ownerID string) (string, error) {
	id := uuid.New().String()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = &Session{
		ID:         id,
		OwnerID:    ownerID,
		CreatedAt:  now,
		LastSeenAt: now,
	}
	return id, nil
}

// Get retrieves a session by ID. Sessions past their idle deadline are
// removed and reported as ErrNotFound. The expiry check and the copy both
// happen under the lock; Touch mutates LastSeenAt concurrently.
func (s *InMemorySessionStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}

	if s.now().Sub(sess.LastSeenAt) > s.idleTTL {
		delete(s.sessions, id)
		evict := s.onEvict
		s.mu.Unlock()
		if evict != nil {
			evict(id)
		}
		return nil, ErrNotFound
	}

	copied := *sess
	s.mu.Unlock()
	return &copied, nil
}

// Touch updates the session's idle deadline.
// Returns ErrNotFound for unknown sessions.
func (s *InMemorySessionStore) Touch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.LastSeenAt = s.now()
	return nil
}

// Delete removes a session. Unknown IDs are ignored.
func (s *InMemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	evict := s.onEvict
	s.mu.Unlock()

	if existed && evict != nil {
		evict(id)
	}
	return nil
}

// OnEvict registers a callback invoked with the session ID after a session
// is removed, either explicitly or by idle expiry. The callback runs outside
// the store's lock.
func (s *InMemorySessionStore) OnEvict(fn func(id string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Len returns the number of live sessions, primarily for diagnostics.
func (s *InMemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
