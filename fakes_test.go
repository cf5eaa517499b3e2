package reviewcache_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	reviewcache "github.com/dgduncan/go-review-cache"
)

func testTime() time.Time {
	return time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
}

var errBoom = errors.New("boom")

// counter counts named calls.
type counter struct {
	mu sync.Mutex
	n  map[string]int
}

func (c *counter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.n == nil {
		c.n = make(map[string]int)
	}
	c.n[name]++
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n[name]
}

// recordingMetrics counts events per cache and kind.
type recordingMetrics struct {
	counter
}

func (m *recordingMetrics) Hit(c string)       { m.inc("hit:" + c) }
func (m *recordingMetrics) Miss(c string)      { m.inc("miss:" + c) }
func (m *recordingMetrics) Coalesced(c string) { m.inc("coalesced:" + c) }
func (m *recordingMetrics) Invalidated(c string, n int) {
	for i := 0; i < n; i++ {
		m.inc("invalidated:" + c)
	}
}

// fakeTables is an in-memory Tables. Methods tests never reach are left to
// the embedded nil interface.
type fakeTables struct {
	reviewcache.Tables
	counter

	mu        sync.Mutex
	profiles  map[uuid.UUID]*reviewcache.Profile
	reviews   []reviewcache.Review
	followed  map[uuid.UUID][]uuid.UUID
	blocked   map[uuid.UUID][]uuid.UUID
	locations []*reviewcache.Location
	lastQuery reviewcache.ReviewsQuery

	// gate, when set, blocks profile reads until closed.
	gate chan struct{}
	// err, when set, is returned from every read.
	err error
}

func newFakeTables() *fakeTables {
	return &fakeTables{
		profiles: make(map[uuid.UUID]*reviewcache.Profile),
		followed: make(map[uuid.UUID][]uuid.UUID),
		blocked:  make(map[uuid.UUID][]uuid.UUID),
	}
}

func (f *fakeTables) ProfileByID(_ context.Context, id uuid.UUID) (*reviewcache.Profile, error) {
	f.inc("ProfileByID")
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, reviewcache.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeTables) ActiveProfileByID(ctx context.Context, id uuid.UUID) (*reviewcache.Profile, error) {
	f.inc("ActiveProfileByID")
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok || p.DeletedAt != nil {
		return nil, reviewcache.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakeTables) UpdateProfile(_ context.Context, id uuid.UUID, upd reviewcache.ProfileUpdate) (*reviewcache.Profile, error) {
	f.inc("UpdateProfile")
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[id]
	if !ok {
		return nil, reviewcache.ErrNotFound
	}
	if upd.Username != nil {
		p.Username = *upd.Username
	}
	if upd.Bio != nil {
		p.Bio = *upd.Bio
	}
	if upd.AvatarPath != nil {
		p.AvatarPath = *upd.AvatarPath
	}
	cp := *p
	return &cp, nil
}

func (f *fakeTables) Reviews(_ context.Context, q reviewcache.ReviewsQuery) ([]reviewcache.Review, error) {
	f.inc("Reviews")
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	return append([]reviewcache.Review(nil), f.reviews...), nil
}

func (f *fakeTables) CreateReview(_ context.Context, in reviewcache.NewReview) (*reviewcache.Review, error) {
	f.inc("CreateReview")
	return &reviewcache.Review{ID: uuid.New(), UserID: in.UserID, CocktailName: in.CocktailName}, nil
}

func (f *fakeTables) UpdateReview(_ context.Context, id uuid.UUID, _ reviewcache.ReviewUpdate) (*reviewcache.Review, error) {
	f.inc("UpdateReview")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reviews {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, reviewcache.ErrNotFound
}

func (f *fakeTables) FollowedIDs(_ context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	f.inc("FollowedIDs")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.followed[id]...), nil
}

func (f *fakeTables) Follow(_ context.Context, follower, followed uuid.UUID) error {
	f.inc("Follow")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followed[follower] = append(f.followed[follower], followed)
	return nil
}

func (f *fakeTables) BlockedIDs(_ context.Context, id uuid.UUID) ([]uuid.UUID, error) {
	f.inc("BlockedIDs")
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.blocked[id]...), nil
}

func (f *fakeTables) Block(_ context.Context, blocker, blocked uuid.UUID) error {
	f.inc("Block")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocked[blocker] = append(f.blocked[blocker], blocked)
	return nil
}

func (f *fakeTables) Categories(_ context.Context, kind reviewcache.CategoryKind) ([]reviewcache.Category, error) {
	f.inc("Categories")
	return []reviewcache.Category{{ID: 1, Kind: kind, Name: "Sour"}}, nil
}

func (f *fakeTables) Locations(_ context.Context, nameFilter string) ([]reviewcache.LocationStats, error) {
	f.inc("Locations")
	return []reviewcache.LocationStats{{Location: reviewcache.Location{Name: nameFilter}}}, nil
}

func (f *fakeTables) LocationByPlaceID(_ context.Context, placeID string) (*reviewcache.Location, error) {
	f.inc("LocationByPlaceID")
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.locations {
		if l.PlaceID == placeID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("location by place id: %w", reviewcache.ErrNotFound)
}

func (f *fakeTables) LocationByNameAddress(_ context.Context, name, address string) (*reviewcache.Location, error) {
	f.inc("LocationByNameAddress")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.locations {
		if l.Name == name && l.Address == address {
			cp := *l
			return &cp, nil
		}
	}
	return nil, reviewcache.ErrNotFound
}

func (f *fakeTables) SetLocationPlaceID(_ context.Context, id uuid.UUID, placeID string) error {
	f.inc("SetLocationPlaceID")
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.locations {
		if l.ID == id {
			l.PlaceID = placeID
			return nil
		}
	}
	return reviewcache.ErrNotFound
}

func (f *fakeTables) InsertLocation(_ context.Context, in reviewcache.LocationInput) (*reviewcache.Location, error) {
	f.inc("InsertLocation")
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &reviewcache.Location{ID: uuid.New(), Name: in.Name, Address: in.Address, PlaceID: in.PlaceID}
	f.locations = append(f.locations, l)
	cp := *l
	return &cp, nil
}

func (f *fakeTables) SearchProfiles(_ context.Context, fragment string) ([]reviewcache.Profile, error) {
	f.inc("SearchProfiles")
	return []reviewcache.Profile{{Username: fragment}}, nil
}

func (f *fakeTables) Comments(_ context.Context, reviewID uuid.UUID) ([]reviewcache.Comment, error) {
	f.inc("Comments")
	return []reviewcache.Comment{{ReviewID: reviewID}}, nil
}

func (f *fakeTables) CreateComment(_ context.Context, c reviewcache.NewComment) (*reviewcache.Comment, error) {
	f.inc("CreateComment")
	return &reviewcache.Comment{ID: uuid.New(), ReviewID: c.ReviewID, UserID: c.UserID, Body: c.Body}, nil
}

func (f *fakeTables) DeleteComment(context.Context, uuid.UUID) error {
	f.inc("DeleteComment")
	return nil
}

// fakeStorage signs URLs with a sequence number so refetches are visible.
type fakeStorage struct {
	counter

	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	expiry  time.Duration
	seq     int
	// gate, when set, blocks SignedURL until closed.
	gate chan struct{}
	// failPaths makes SignedURL fail for the listed paths.
	failPaths map[string]bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte), types: make(map[string]string), failPaths: make(map[string]bool)}
}

func (s *fakeStorage) Upload(_ context.Context, bucket, path string, data []byte, opts reviewcache.UploadOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[bucket+"/"+path] = data
	s.types[bucket+"/"+path] = opts.ContentType
	return nil
}

func (s *fakeStorage) Download(_ context.Context, bucket, path string) ([]byte, string, error) {
	s.inc("Download")
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[bucket+"/"+path]
	if !ok {
		return nil, "", fmt.Errorf("download %s: %w", path, reviewcache.ErrObjectNotFound)
	}
	return data, s.types[bucket+"/"+path], nil
}

func (s *fakeStorage) PublicURL(bucket, path string) string {
	s.inc("PublicURL")
	return "https://cdn.test/" + bucket + "/" + path
}

func (s *fakeStorage) SignedURL(_ context.Context, bucket, path string, expiry time.Duration) (string, error) {
	s.inc("SignedURL")
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiry = expiry
	if s.failPaths[path] {
		return "", errBoom
	}
	s.seq++
	return fmt.Sprintf("https://signed.test/%s/%s?sig=%d", bucket, path, s.seq), nil
}

func (s *fakeStorage) Remove(context.Context, string, []string) error { return nil }

// fakeProber rejects the URLs it was told about.
type fakeProber struct {
	counter

	mu   sync.Mutex
	dead map[string]bool
}

func (p *fakeProber) Probe(_ context.Context, url string) error {
	p.inc("Probe")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead[url] {
		return reviewcache.ErrProbeFailed
	}
	return nil
}

func (p *fakeProber) kill(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead == nil {
		p.dead = make(map[string]bool)
	}
	p.dead[url] = true
}

// fakeAuth holds one session and accepts exactly its access token.
type fakeAuth struct {
	counter

	mu      sync.Mutex
	session *reviewcache.Session
	revoked bool
	userErr error
	signOut error
}

func newSession(uid uuid.UUID) *reviewcache.Session {
	return &reviewcache.Session{
		AccessToken:  "token-" + uid.String(),
		RefreshToken: "refresh",
		ExpiresAt:    testTime().Add(time.Hour),
		User:         reviewcache.User{ID: uid, Email: "u@example.com"},
	}
}

func (a *fakeAuth) Session(context.Context) (*reviewcache.Session, error) {
	a.inc("Session")
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return nil, nil
	}
	cp := *a.session
	return &cp, nil
}

func (a *fakeAuth) RestoreSession(s *reviewcache.Session) {
	a.inc("RestoreSession")
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		cp := *s
		a.session = &cp
	}
}

func (a *fakeAuth) User(_ context.Context, token string) (*reviewcache.User, error) {
	a.inc("User")
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.userErr != nil {
		return nil, a.userErr
	}
	if a.revoked || a.session == nil || a.session.AccessToken != token {
		return nil, reviewcache.ErrNoSession
	}
	u := a.session.User
	return &u, nil
}

func (a *fakeAuth) SignOut(context.Context) error {
	a.inc("SignOut")
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = nil
	return a.signOut
}

func (a *fakeAuth) signIn(uid uuid.UUID) *reviewcache.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.session = newSession(uid)
	a.revoked = false
	cp := *a.session
	return &cp
}

func (a *fakeAuth) SignInWithPassword(_ context.Context, _, password string) (*reviewcache.Session, error) {
	a.inc("SignInWithPassword")
	if password != "secret" {
		return nil, errBoom
	}
	return a.signIn(uuid.New()), nil
}

func (a *fakeAuth) SignUp(context.Context, string, string) (*reviewcache.Session, error) {
	a.inc("SignUp")
	return a.signIn(uuid.New()), nil
}

func (a *fakeAuth) SignInWithIDToken(context.Context, string, string) (*reviewcache.Session, error) {
	a.inc("SignInWithIDToken")
	return a.signIn(uuid.New()), nil
}
