package reviewcache

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Tables is the table-query surface of the hosted backend. Lookups that match
// no row return ErrNotFound.
type Tables interface {
	ProfileByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	ActiveProfileByID(ctx context.Context, id uuid.UUID) (*Profile, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, upd ProfileUpdate) (*Profile, error)
	SearchProfiles(ctx context.Context, fragment string) ([]Profile, error)

	Reviews(ctx context.Context, q ReviewsQuery) ([]Review, error)
	CreateReview(ctx context.Context, r NewReview) (*Review, error)
	UpdateReview(ctx context.Context, id uuid.UUID, upd ReviewUpdate) (*Review, error)

	FollowedIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	Follow(ctx context.Context, follower, followed uuid.UUID) error
	Unfollow(ctx context.Context, follower, followed uuid.UUID) error
	BlockedIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error)
	Block(ctx context.Context, blocker, blocked uuid.UUID) error

	Categories(ctx context.Context, kind CategoryKind) ([]Category, error)

	Locations(ctx context.Context, nameFilter string) ([]LocationStats, error)
	LocationByPlaceID(ctx context.Context, placeID string) (*Location, error)
	LocationByNameAddress(ctx context.Context, name, address string) (*Location, error)
	SetLocationPlaceID(ctx context.Context, id uuid.UUID, placeID string) error
	InsertLocation(ctx context.Context, in LocationInput) (*Location, error)

	Comments(ctx context.Context, reviewID uuid.UUID) ([]Comment, error)
	CreateComment(ctx context.Context, c NewComment) (*Comment, error)
	DeleteComment(ctx context.Context, id uuid.UUID) error

	InsertNotification(ctx context.Context, n Notification) error
	InsertReport(ctx context.Context, r Report) error
}

type UploadOptions struct {
	ContentType string
	Upsert      bool
}

// Storage is the object-storage surface of the hosted backend. Missing
// objects are reported with an error matching ErrObjectNotFound.
type Storage interface {
	Upload(ctx context.Context, bucket, path string, data []byte, opts UploadOptions) error
	Download(ctx context.Context, bucket, path string) (data []byte, contentType string, err error)
	PublicURL(bucket, path string) string
	SignedURL(ctx context.Context, bucket, path string, expiry time.Duration) (string, error)
	Remove(ctx context.Context, bucket string, paths []string) error
}

// Auth is the authentication surface of the hosted backend.
//
// Session returns the client's current session, or nil when signed out.
// User validates an access token with the server and returns ErrNoSession
// when the server no longer accepts it. RestoreSession hands a persisted
// session back to a client that holds none, so the client can refresh and
// revoke it after a restart.
type Auth interface {
	Session(ctx context.Context) (*Session, error)
	RestoreSession(s *Session)
	User(ctx context.Context, accessToken string) (*User, error)
	SignOut(ctx context.Context) error
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignInWithIDToken(ctx context.Context, provider, idToken string) (*Session, error)
}

// Backend groups the hosted collaborators.
type Backend struct {
	Tables  Tables
	Storage Storage
	Auth    Auth
}
