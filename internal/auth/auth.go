// Package auth guards the status server with a single operator account: a
// bcrypt password hash from the environment, checked by HTTP basic auth or a
// login form that issues a signed session cookie.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const (
	cookieName = "slotgrab_status"
	sessionTTL = 12 * time.Hour
)

type Store struct {
	sc   *securecookie.SecureCookie
	user string
	hash string
	now  func() time.Time
}

type ctxKey string

const userKey ctxKey = "user"

// NewStore builds a store for one account. Nil keys get random ones, so
// sessions do not survive a restart. An empty user disables auth.
func NewStore(user, passwordBcrypt string, hashKey, blockKey []byte) *Store {
	if len(hashKey) == 0 {
		hashKey = securecookie.GenerateRandomKey(32)
	}
	if len(blockKey) == 0 {
		blockKey = securecookie.GenerateRandomKey(32)
	}
	sc := securecookie.New(hashKey, blockKey)
	sc.MaxAge(int(sessionTTL.Seconds()))
	sc.SetSerializer(securecookie.JSONEncoder{})
	return &Store{sc: sc, user: user, hash: passwordBcrypt, now: time.Now}
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
	return err == nil
}

func (s *Store) Enabled() bool { return s.user != "" }

func (s *Store) Authenticate(username, password string) error {
	if !s.Enabled() {
		return nil
	}
	// Run bcrypt even on a wrong user so timing does not reveal it.
	userOK := secureEq(username, s.user)
	pwOK := CheckPassword(s.hash, password)
	if !userOK || !pwOK {
		return ErrInvalidCredentials
	}
	return nil
}

type Session struct {
	User     string
	IssuedAt time.Time
}

type sessionValue struct {
	User   string `json:"u"`
	Issued int64  `json:"iat"`
}

func (s *Store) SetSession(w http.ResponseWriter, r *http.Request, user string) error {
	encoded, err := s.sc.Encode(cookieName, sessionValue{User: user, Issued: s.now().Unix()})
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    encoded,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(sessionTTL.Seconds()),
	})
	return nil
}

func (s *Store) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

func (s *Store) GetSession(r *http.Request) (Session, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return Session{}, false
	}
	var v sessionValue
	if err := s.sc.Decode(cookieName, c.Value, &v); err != nil {
		return Session{}, false
	}
	// A session for a since-renamed account is stale.
	if v.User == "" || !secureEq(v.User, s.user) {
		return Session{}, false
	}
	return Session{User: v.User, IssuedAt: time.Unix(v.Issued, 0)}, true
}

// RequireAuth admits requests carrying a valid session cookie or basic auth
// credentials. Others get 401 with a basic auth challenge.
func (s *Store) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		user := ""
		if sess, ok := s.GetSession(r); ok {
			user = sess.User
		} else if u, p, ok := r.BasicAuth(); ok && s.Authenticate(u, p) == nil {
			user = u
		}
		if user == "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="slotgrab", charset="UTF-8"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	})
}

func UserFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(userKey).(string)
	return u, ok
}

func secureEq(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
