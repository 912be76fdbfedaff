package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"edupredict/ml"
)

// Session is the per-browser state between requests. Handlers hold mu for
// the whole request so one session's pipeline steps never interleave.
type Session struct {
	ID string
	mu sync.Mutex

	StudentName string
	Prediction  *ml.PredictionResult
}

// SessionConfig configures the session store.
type SessionConfig struct {
	CookieName  string
	MaxSessions int
	TTL         time.Duration
	// Secure marks the cookie HTTPS-only.
	Secure bool
}

// SessionStore keeps sessions in a bounded LRU that expires idle entries.
type SessionStore struct {
	config SessionConfig
	mu     sync.Mutex
	cache  *expirable.LRU[string, *Session]
}

// NewSessionStore creates a store. onEvict, if set, is called with the id of
// every session that expires or is pushed out.
func NewSessionStore(config SessionConfig, onEvict func(id string)) *SessionStore {
	if config.CookieName == "" {
		config.CookieName = "edupredict_session"
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = 1024
	}
	if config.TTL <= 0 {
		config.TTL = 2 * time.Hour
	}
	var evict expirable.EvictCallback[string, *Session]
	if onEvict != nil {
		evict = func(id string, _ *Session) { onEvict(id) }
	}
	return &SessionStore{
		config: config,
		cache:  expirable.NewLRU[string, *Session](config.MaxSessions, evict, config.TTL),
	}
}

// Get returns the caller's session, starting a new one and setting the
// cookie when there is none.
func (s *SessionStore) Get(w http.ResponseWriter, r *http.Request) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, err := r.Cookie(s.config.CookieName); err == nil {
		if sess, ok := s.cache.Get(c.Value); ok {
			// refresh the expiry on use
			s.cache.Add(sess.ID, sess)
			return sess
		}
	}

	sess := &Session{ID: uuid.NewString()}
	s.cache.Add(sess.ID, sess)
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(s.config.TTL.Seconds()),
		HttpOnly: true,
		Secure:   s.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sess
}

// Destroy forgets the caller's session and clears the cookie.
func (s *SessionStore) Destroy(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(s.config.CookieName); err == nil {
		s.cache.Remove(c.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// Len returns the number of live sessions.
func (s *SessionStore) Len() int {
	return s.cache.Len()
}
