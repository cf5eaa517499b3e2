//go:build !integration

package reviewcache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	reviewcache "github.com/dgduncan/go-review-cache"
	"github.com/dgduncan/go-review-cache/caches"
	"github.com/dgduncan/go-review-cache/caches/local"
)

type servicesFixture struct {
	svc     *reviewcache.Services
	auth    *fakeAuth
	tables  *fakeTables
	storage *fakeStorage
	store   *local.BasicStore
}

func newServicesFixture(t *testing.T) *servicesFixture {
	t.Helper()
	f := &servicesFixture{
		auth:    &fakeAuth{},
		tables:  newFakeTables(),
		storage: newFakeStorage(),
		store:   local.NewBasicStore(),
	}
	svc, err := reviewcache.NewServices(context.Background(),
		reviewcache.Backend{Tables: f.tables, Storage: f.storage, Auth: f.auth},
		f.store, &fakeProber{}, nil, clockwork.NewFakeClockAt(testTime()), nil, nil)
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewServicesValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		backend reviewcache.Backend
	}{
		{name: "missing tables", backend: reviewcache.Backend{Storage: newFakeStorage(), Auth: &fakeAuth{}}},
		{name: "missing storage", backend: reviewcache.Backend{Tables: newFakeTables(), Auth: &fakeAuth{}}},
		{name: "missing auth", backend: reviewcache.Backend{Tables: newFakeTables(), Storage: newFakeStorage()}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := reviewcache.NewServices(context.Background(), tt.backend, nil, nil, nil, nil, nil, nil)
			assert.ErrorIs(t, err, caches.ErrValidation)
		})
	}
}

func TestServicesUpdateProfileClearsAvatars(t *testing.T) {
	t.Parallel()
	f := newServicesFixture(t)
	ctx := context.Background()

	s, err := f.svc.Auth.SignInWithPassword(ctx, "u@example.com", "secret")
	require.NoError(t, err)
	uid := s.User.ID
	oldAvatar := uid.String() + "/old.png"
	f.tables.profiles[uid] = &reviewcache.Profile{ID: uid, AvatarPath: oldAvatar}

	_, err = f.svc.DB.Profile(ctx, uid)
	require.NoError(t, err)
	f.svc.Images.AvatarURL(ctx, oldAvatar)

	newAvatar := uid.String() + "/new.png"
	p, err := f.svc.UpdateProfile(ctx, reviewcache.ProfileUpdate{AvatarPath: &newAvatar})
	require.NoError(t, err)
	assert.Equal(t, newAvatar, p.AvatarPath)

	got, err := f.svc.DB.Profile(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, newAvatar, got.AvatarPath)
	assert.Equal(t, 2, f.tables.get("ProfileByID"))

	f.svc.Images.AvatarURL(ctx, oldAvatar)
	assert.Equal(t, 2, f.storage.get("PublicURL"))
}

func TestServicesUpdateProfileSignedOut(t *testing.T) {
	t.Parallel()
	f := newServicesFixture(t)

	_, err := f.svc.UpdateProfile(context.Background(), reviewcache.ProfileUpdate{})
	assert.ErrorIs(t, err, reviewcache.ErrNoSession)
	assert.Zero(t, f.tables.get("UpdateProfile"))
}

func TestServicesSignOutClearsEverything(t *testing.T) {
	t.Parallel()
	f := newServicesFixture(t)
	ctx := context.Background()

	_, err := f.svc.Auth.SignInWithPassword(ctx, "u@example.com", "secret")
	require.NoError(t, err)
	_, err = f.svc.DB.Categories(ctx, reviewcache.CategoryCocktail)
	require.NoError(t, err)
	_, err = f.svc.Images.ReviewImageURL(ctx, "r/1.jpg")
	require.NoError(t, err)
	f.auth.signOut = errBoom

	err = f.svc.SignOut(ctx)
	assert.ErrorIs(t, err, errBoom)

	assert.Zero(t, f.svc.DB.Cache().Len())
	keys, err := f.store.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestNewServicesRestoresPersistedEntries(t *testing.T) {
	t.Parallel()
	f := newServicesFixture(t)
	ctx := context.Background()

	s, err := f.svc.Auth.SignInWithPassword(ctx, "u@example.com", "secret")
	require.NoError(t, err)
	url, err := f.svc.Images.ReviewImageURL(ctx, "r/1.jpg")
	require.NoError(t, err)

	restarted, err := reviewcache.NewServices(ctx,
		reviewcache.Backend{Tables: f.tables, Storage: f.storage, Auth: f.auth},
		f.store, &fakeProber{}, nil, clockwork.NewFakeClockAt(testTime()), nil, nil)
	require.NoError(t, err)

	got, err := restarted.Auth.Session(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.AccessToken, got.AccessToken)

	again, err := restarted.Images.ReviewImageURL(ctx, "r/1.jpg")
	require.NoError(t, err)
	assert.Equal(t, url, again)
	assert.Equal(t, 1, f.storage.get("SignedURL"))
	assert.Zero(t, f.auth.get("Session"))
}

func TestServicesSweepExpired(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClockAt(testTime())
	storage, store := newFakeStorage(), local.NewBasicStore()
	svc, err := reviewcache.NewServices(context.Background(),
		reviewcache.Backend{Tables: newFakeTables(), Storage: storage, Auth: &fakeAuth{}},
		store, &fakeProber{}, nil, clock, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = svc.DB.SearchProfiles(ctx, "ann")
	require.NoError(t, err)
	_, err = svc.DB.Categories(ctx, reviewcache.CategoryVenue)
	require.NoError(t, err)
	svc.Images.AvatarURL(ctx, uuid.NewString()+"/a.png")

	clock.Advance(time.Hour)
	svc.SweepExpired(ctx)

	assert.Equal(t, 1, svc.DB.Cache().Len(), "static categories survive")
	keys, err := store.GetAllKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
