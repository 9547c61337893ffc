package mechanism

import (
	"net/http"
	"time"

	httphelper "github.com/eclipse-ee4j/soteria-sub000/pkg/http"
)

// Storage keys shared between the redirect and the callback leg.
const (
	stateKey           = "oidc.state"
	nonceKey           = "oidc.nonce"
	originalRequestKey = "oidc.original.request"
)

// Storage persists small string values across the authorization
// redirect. Entries are single use, consumers remove them after
// reading. Backed either by the session or by encrypted cookies,
// depending on configuration.
type Storage interface {
	Store(w http.ResponseWriter, r *http.Request, name, value string, maxAge time.Duration)
	Get(r *http.Request, name string) (string, bool)
	Remove(w http.ResponseWriter, r *http.Request, name string)
}

// SessionStorage keeps values as session attributes.
type SessionStorage struct {
	Sessions SessionStore
}

func (s *SessionStorage) Store(w http.ResponseWriter, r *http.Request, name, value string, _ time.Duration) {
	s.Sessions.Get(w, r).Set(name, value)
}

func (s *SessionStorage) Get(r *http.Request, name string) (string, bool) {
	session, ok := s.Sessions.Lookup(r)
	if !ok {
		return "", false
	}
	value, ok := session.Get(name)
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

func (s *SessionStorage) Remove(_ http.ResponseWriter, r *http.Request, name string) {
	if session, ok := s.Sessions.Lookup(r); ok {
		session.Delete(name)
	}
}

// CookieStorage keeps values in encrypted, authenticated cookies so
// no server side state is needed across the redirect.
type CookieStorage struct {
	Cookies *httphelper.CookieHandler
}

func (c *CookieStorage) Store(w http.ResponseWriter, r *http.Request, name, value string, maxAge time.Duration) {
	_ = c.Cookies.SetCookieMaxAge(w, name, value, int(maxAge/time.Second))
}

func (c *CookieStorage) Get(r *http.Request, name string) (string, bool) {
	value, err := c.Cookies.CheckCookie(r, name)
	if err != nil {
		return "", false
	}
	return value, true
}

func (c *CookieStorage) Remove(w http.ResponseWriter, _ *http.Request, name string) {
	c.Cookies.DeleteCookie(w, name)
}
