package gotrue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reviewcache "github.com/dgduncan/go-review-cache"
	"github.com/dgduncan/go-review-cache/caches"
	"github.com/dgduncan/go-review-cache/caches/local"
)

func signedToken(t *testing.T, sub uuid.UUID, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub.String(),
		ExpiresAt: jwt.NewNumericDate(exp),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

type fakeAuthServer struct {
	t       *testing.T
	clock   *clockwork.FakeClock
	userID  uuid.UUID
	valid   atomic.Value // current accepted access token
	refresh atomic.Int32
	logouts atomic.Int32
}

func (f *fakeAuthServer) issue(w http.ResponseWriter, withUser bool) {
	tok := signedToken(f.t, f.userID, f.clock.Now().Add(time.Hour))
	f.valid.Store(tok)
	body := map[string]any{
		"access_token":  tok,
		"refresh_token": "refresh-" + tok[len(tok)-6:],
		"expires_in":    3600,
	}
	if withUser {
		body["user"] = map[string]any{"id": f.userID, "email": "a@example.com"}
	}
	_ = json.NewEncoder(w).Encode(body)
}

func (f *fakeAuthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "anon-key", r.Header.Get("apikey"))

	switch {
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in["password"] != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
			return
		}
		f.issue(w, true)
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "refresh_token":
		f.refresh.Add(1)
		f.issue(w, false)
	case r.URL.Path == "/auth/v1/signup":
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"` + uuid.NewString() + `","email":"new@example.com"}`))
	case r.URL.Path == "/auth/v1/user":
		if r.Header.Get("Authorization") != "Bearer "+f.valid.Load().(string) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"invalid JWT"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": f.userID, "email": "a@example.com"})
	case r.URL.Path == "/auth/v1/logout":
		f.logouts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func setup(t *testing.T) (*Client, *fakeAuthServer, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Now().Truncate(time.Second))
	fs := &fakeAuthServer{t: t, clock: clock, userID: uuid.New()}
	fs.valid.Store("")
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	c, err := New(Config{URL: srv.URL + "/auth/v1", APIKey: "anon-key", Clock: clock})
	require.NoError(t, err)
	return c, fs, clock
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, caches.ErrValidation)
}

func TestSignInAndValidate(t *testing.T) {
	c, fs, clock := setup(t)
	ctx := context.Background()

	s, err := c.Session(ctx)
	require.NoError(t, err)
	assert.Nil(t, s, "signed out client has no session")

	_, err = c.SignInWithPassword(ctx, "a@example.com", "wrong")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, reviewcache.ErrNoSession)

	s, err = c.SignInWithPassword(ctx, "a@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, fs.userID, s.User.ID)
	assert.Equal(t, "a@example.com", s.User.Email)
	assert.Equal(t, clock.Now().Add(time.Hour), s.ExpiresAt)

	u, err := c.User(ctx, s.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, fs.userID, u.ID)

	_, err = c.User(ctx, "revoked")
	assert.ErrorIs(t, err, reviewcache.ErrNoSession)
}

func TestSessionRefreshesNearExpiry(t *testing.T) {
	c, fs, clock := setup(t)
	ctx := context.Background()

	first, err := c.SignInWithPassword(ctx, "a@example.com", "secret")
	require.NoError(t, err)

	s, err := c.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.AccessToken, s.AccessToken)
	assert.Zero(t, fs.refresh.Load())

	clock.Advance(time.Hour - 10*time.Second)
	s, err = c.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fs.refresh.Load())
	assert.NotEqual(t, first.AccessToken, s.AccessToken)
	assert.Equal(t, fs.userID, s.User.ID, "user taken from token subject")
}

func TestSignOutForgetsSession(t *testing.T) {
	c, fs, _ := setup(t)
	ctx := context.Background()

	_, err := c.SignInWithPassword(ctx, "a@example.com", "secret")
	require.NoError(t, err)

	require.NoError(t, c.SignOut(ctx))
	assert.Equal(t, int32(1), fs.logouts.Load())

	s, err := c.Session(ctx)
	require.NoError(t, err)
	assert.Nil(t, s)

	require.NoError(t, c.SignOut(ctx), "signing out twice is a no-op")
	assert.Equal(t, int32(1), fs.logouts.Load())
}

func TestSignUpAwaitingConfirmation(t *testing.T) {
	c, _, _ := setup(t)

	s, err := c.SignUp(context.Background(), "new@example.com", "pw")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestAuthCacheRestart(t *testing.T) {
	tests := []struct {
		name       string
		beforeLoad time.Duration
		wantLoaded bool
	}{
		{name: "live cache entry", wantLoaded: true},
		{name: "expired cache entry", beforeLoad: 10 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fs, clock := setup(t)
			ctx := context.Background()
			store := local.NewBasicStore()

			cache, err := reviewcache.NewAuthCache(c, nil, store, nil, clock, nil, nil)
			require.NoError(t, err)
			signedIn, err := cache.SignInWithPassword(ctx, "a@example.com", "secret")
			require.NoError(t, err)

			clock.Advance(tt.beforeLoad)

			fresh, err := New(Config{URL: c.base.String(), APIKey: "anon-key", Clock: clock})
			require.NoError(t, err)
			restarted, err := reviewcache.NewAuthCache(fresh, nil, store, nil, clock, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLoaded, restarted.Load(ctx))

			clock.Advance(reviewcache.DefaultConfig().SessionTTL)
			s, err := restarted.Session(ctx)
			require.NoError(t, err)
			require.NotNil(t, s, "refresh token outlives the cache entry")
			assert.Equal(t, signedIn.AccessToken, s.AccessToken)

			require.NoError(t, restarted.SignOut(ctx))
			assert.Equal(t, int32(1), fs.logouts.Load(), "revoked server-side")
		})
	}
}

func TestRestoreSessionKeepsCurrent(t *testing.T) {
	c, _, _ := setup(t)
	ctx := context.Background()

	current, err := c.SignInWithPassword(ctx, "a@example.com", "secret")
	require.NoError(t, err)

	c.RestoreSession(&reviewcache.Session{AccessToken: "stale"})
	s, err := c.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, current.AccessToken, s.AccessToken)
}
