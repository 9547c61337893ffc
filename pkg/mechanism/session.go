package mechanism

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// Session is the engine's view of the container session. The
// per-session refresh lock is owned by the store and handed out
// here, it is never smuggled through the attribute map.
type Session interface {
	ID() string

	Get(name string) (any, bool)
	Set(name string, value any)
	Delete(name string)

	// Invalidate destroys the session and all its attributes.
	Invalidate()

	// RefreshLock serializes the token refresh of this session.
	RefreshLock() *sync.Mutex
}

// SessionStore resolves the session of a request, creating one on
// first use.
type SessionStore interface {
	// Get returns the session bound to the request, establishing
	// a new one (and setting its cookie) if none exists.
	Get(w http.ResponseWriter, r *http.Request) Session

	// Lookup returns the session bound to the request without
	// establishing a new one.
	Lookup(r *http.Request) (Session, bool)
}

const sessionCookie = "oidc.sid"

// MemorySessionStore is an in-process SessionStore keyed by an
// opaque session cookie. It backs tests and single-instance
// deployments; containers with their own session management plug
// in their own implementation instead.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]*memorySession
	secure   bool
}

type MemorySessionStoreOpt func(*MemorySessionStore)

// WithInsecureSessionCookie drops the Secure attribute from the
// session cookie, for plain-http test setups only.
func WithInsecureSessionCookie() MemorySessionStoreOpt {
	return func(s *MemorySessionStore) {
		s.secure = false
	}
}

func NewMemorySessionStore(opts ...MemorySessionStoreOpt) *MemorySessionStore {
	s := &MemorySessionStore{
		sessions: make(map[string]*memorySession),
		secure:   true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemorySessionStore) Get(w http.ResponseWriter, r *http.Request) Session {
	if session, ok := s.Lookup(r); ok {
		return session
	}
	session := &memorySession{
		id:    uuid.NewString(),
		attrs: make(map[string]any),
		store: s,
	}
	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return session
}

func (s *MemorySessionStore) Lookup(r *http.Request) (Session, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[cookie.Value]
	if !ok {
		return nil, false
	}
	return session, true
}

func (s *MemorySessionStore) invalidate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

type memorySession struct {
	id    string
	store *MemorySessionStore

	mu          sync.RWMutex
	attrs       map[string]any
	refreshLock sync.Mutex
}

func (s *memorySession) ID() string {
	return s.id
}

func (s *memorySession) Get(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.attrs[name]
	return value, ok
}

func (s *memorySession) Set(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attrs[name] = value
}

func (s *memorySession) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attrs, name)
}

func (s *memorySession) Invalidate() {
	s.mu.Lock()
	s.attrs = make(map[string]any)
	s.mu.Unlock()
	s.store.invalidate(s.id)
}

func (s *memorySession) RefreshLock() *sync.Mutex {
	return &s.refreshLock
}
