package server

import (
	cryptorand "crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"maps"
	"net/http"
	"sync"
	"time"
)

const (
	sessionCookieName = "micguard_session"
	sessionLifetime   = 24 * time.Hour
	csrfLifetime      = 10 * time.Minute
	tokenBytes        = 32
)

// SessionManager holds browser sessions and login-form CSRF tokens for the
// single shared credential pair in the config. Tokens are opaque random
// strings; expiry is tracked server-side, so a cookie that outlives its
// session stops working regardless of what the browser kept. Safe for
// concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]time.Time // token -> expiry
	csrf     map[string]time.Time // one-time login-form tokens
}

// NewSessionManager returns an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]time.Time),
		csrf:     make(map[string]time.Time),
	}
}

// newToken returns a random opaque token, or "" if the entropy source fails.
func newToken() string {
	b := make([]byte, tokenBytes)
	if _, err := cryptorand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

// Create opens a session and returns its token.
func (sm *SessionManager) Create() string {
	token := newToken()
	if token == "" {
		return ""
	}

	sm.mu.Lock()
	sm.prune()
	sm.sessions[token] = time.Now().Add(sessionLifetime)
	sm.mu.Unlock()
	return token
}

// prune drops expired entries from both tables. Caller holds the mutex.
func (sm *SessionManager) prune() {
	now := time.Now()
	maps.DeleteFunc(sm.sessions, func(_ string, exp time.Time) bool { return now.After(exp) })
	maps.DeleteFunc(sm.csrf, func(_ string, exp time.Time) bool { return now.After(exp) })
}

// Validate reports whether token names a live session.
func (sm *SessionManager) Validate(token string) bool {
	if token == "" {
		return false
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	exp, ok := sm.sessions[token]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(sm.sessions, token)
		return false
	}
	return true
}

// Delete forgets a session token.
func (sm *SessionManager) Delete(token string) {
	if token == "" {
		return
	}
	sm.mu.Lock()
	delete(sm.sessions, token)
	sm.mu.Unlock()
}

// AuthMiddleware wraps handlers that require a live session; everything else
// is redirected to the login form.
func (sm *SessionManager) AuthMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if cookie, err := r.Cookie(sessionCookieName); err == nil && sm.Validate(cookie.Value) {
				next(w, r)
				return
			}
			http.Redirect(w, r, "/login", http.StatusFound)
		}
	}
}

// setSessionCookie writes (or, with a negative maxAge, clears) the session
// cookie. Strict same-site keeps the cookie out of cross-site requests.
func setSessionCookie(w http.ResponseWriter, r *http.Request, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
}

// Login checks the submitted credentials against the configured pair and, on
// success, opens a session bound to a fresh cookie. Both comparisons run in
// constant time and both always run, so the response never reveals which
// half was wrong.
func (sm *SessionManager) Login(w http.ResponseWriter, r *http.Request, username, password, wantUser, wantPass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(wantUser)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(wantPass)) == 1
	if !userOK || !passOK {
		return false
	}

	token := sm.Create()
	if token == "" {
		return false
	}

	setSessionCookie(w, r, token, int(sessionLifetime.Seconds()))
	return true
}

// Logout drops the session behind the request's cookie and clears it.
func (sm *SessionManager) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		sm.Delete(cookie.Value)
	}
	setSessionCookie(w, r, "", -1)
}

// CreateCSRFToken mints a one-time token for the login form.
func (sm *SessionManager) CreateCSRFToken() string {
	token := newToken()
	if token == "" {
		return ""
	}

	sm.mu.Lock()
	sm.prune()
	sm.csrf[token] = time.Now().Add(csrfLifetime)
	sm.mu.Unlock()
	return token
}

// ValidateCSRFToken consumes token and reports whether it was live. A token
// is single-use regardless of the outcome.
func (sm *SessionManager) ValidateCSRFToken(token string) bool {
	if token == "" {
		return false
	}

	sm.mu.Lock()
	defer sm.mu.Unlock()

	exp, ok := sm.csrf[token]
	if !ok {
		return false
	}
	delete(sm.csrf, token)
	return time.Now().Before(exp)
}
