package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewStore("ops", string(hash), nil, nil)
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "pw"))
	assert.False(t, CheckPassword(hash, "nope"))
	assert.False(t, CheckPassword("not-a-hash", "pw"))
}

func TestAuthenticate(t *testing.T) {
	s := newStore(t)
	assert.NoError(t, s.Authenticate("ops", "hunter2"))
	assert.ErrorIs(t, s.Authenticate("ops", "wrong"), ErrInvalidCredentials)
	assert.ErrorIs(t, s.Authenticate("root", "hunter2"), ErrInvalidCredentials)

	open := NewStore("", "", nil, nil)
	assert.False(t, open.Enabled())
	assert.NoError(t, open.Authenticate("anyone", ""))
}

func protected(s *Store) http.Handler {
	return s.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, _ := UserFromContext(r.Context())
		_, _ = w.Write([]byte("hello " + u))
	}))
}

func TestRequireAuthBasic(t *testing.T) {
	h := protected(newStore(t))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.SetBasicAuth("ops", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.SetBasicAuth("ops", "hunter2")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello ops", rec.Body.String())
}

func TestSessionCookieRoundTrip(t *testing.T) {
	s := newStore(t)

	rec := httptest.NewRecorder()
	require.NoError(t, s.SetSession(rec, httptest.NewRequest(http.MethodPost, "/login", nil), "ops"))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/runs", nil)
	req.AddCookie(cookies[0])
	sess, ok := s.GetSession(req)
	require.True(t, ok)
	assert.Equal(t, "ops", sess.User)

	rec = httptest.NewRecorder()
	protected(s).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A cookie signed by another store is rejected.
	other := newStore(t)
	_, ok = other.GetSession(req)
	assert.False(t, ok)

	rec = httptest.NewRecorder()
	s.ClearSession(rec)
	assert.Equal(t, -1, rec.Result().Cookies()[0].MaxAge)
}

func TestRequireAuthDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	protected(NewStore("", "", nil, nil)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
