package reviewcache

import (
	"time"

	"github.com/google/uuid"
)

type Profile struct {
	ID         uuid.UUID  `json:"id"`
	Username   string     `json:"username"`
	FullName   string     `json:"full_name"`
	Bio        string     `json:"bio"`
	AvatarPath string     `json:"avatar_path"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// ProfileUpdate carries the columns to change; nil fields are left untouched.
type ProfileUpdate struct {
	Username   *string `json:"username,omitempty"`
	FullName   *string `json:"full_name,omitempty"`
	Bio        *string `json:"bio,omitempty"`
	AvatarPath *string `json:"avatar_path,omitempty"`
}

// ProfileSummary is the subset of a profile embedded in reviews and comments.
type ProfileSummary struct {
	ID         uuid.UUID `json:"id"`
	Username   string    `json:"username"`
	AvatarPath string    `json:"avatar_path"`
}

type Location struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	PlaceID   string    `json:"place_id,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	CreatedAt time.Time `json:"created_at"`
}

// LocationStats is a location with aggregates over its reviews.
type LocationStats struct {
	Location
	ReviewCount   int     `json:"review_count"`
	AverageRating float64 `json:"average_rating"`
}

// LocationInput identifies a venue for FetchOrCreateLocation.
type LocationInput struct {
	Name      string
	Address   string
	PlaceID   string
	Latitude  float64
	Longitude float64
}

type Review struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	LocationID   uuid.UUID       `json:"location_id"`
	CategoryID   int64           `json:"category_id"`
	CocktailName string          `json:"cocktail_name"`
	Rating       float64         `json:"rating"`
	Body         string          `json:"body"`
	ImagePath    string          `json:"image_path,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Author       *ProfileSummary `json:"author,omitempty"`
	Location     *Location       `json:"location,omitempty"`
}

type NewReview struct {
	UserID       uuid.UUID
	LocationID   uuid.UUID
	CategoryID   int64
	CocktailName string
	Rating       float64
	Body         string
	ImagePath    string
}

type ReviewUpdate struct {
	CategoryID   *int64
	CocktailName *string
	Rating       *float64
	Body         *string
	ImagePath    *string
}

// ReviewsQuery selects a page of reviews. Zero ids mean "no filter".
// Viewer, when set, excludes reviews by users the viewer has blocked.
type ReviewsQuery struct {
	UserID     uuid.UUID   `json:"user_id"`
	LocationID uuid.UUID   `json:"location_id"`
	AuthorIDs  []uuid.UUID `json:"author_ids,omitempty"`
	Viewer     uuid.UUID   `json:"viewer"`
	Offset     int         `json:"offset"`
	Limit      int         `json:"limit"`

	// ExcludeUserIDs is filled in from the viewer's block list before the
	// query reaches Tables; it is not part of the cache key.
	ExcludeUserIDs []uuid.UUID `json:"-"`
}

type Comment struct {
	ID        uuid.UUID       `json:"id"`
	ReviewID  uuid.UUID       `json:"review_id"`
	UserID    uuid.UUID       `json:"user_id"`
	Body      string          `json:"body"`
	CreatedAt time.Time       `json:"created_at"`
	Author    *ProfileSummary `json:"author,omitempty"`
}

type NewComment struct {
	ReviewID uuid.UUID
	UserID   uuid.UUID
	Body     string
}

// CategoryKind selects one of the static reference tables.
type CategoryKind string

const (
	CategoryCocktail CategoryKind = "cocktail"
	CategoryVenue    CategoryKind = "venue"
)

type Category struct {
	ID   int64        `json:"id"`
	Kind CategoryKind `json:"kind"`
	Name string       `json:"name"`
}

type NotificationType string

const (
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
	NotificationFollow  NotificationType = "follow"
)

type Notification struct {
	RecipientID uuid.UUID
	ActorID     uuid.UUID
	Type        NotificationType
	ReviewID    uuid.UUID
	Message     string
}

type Report struct {
	ReporterID     uuid.UUID
	ReviewID       uuid.UUID
	ReportedUserID uuid.UUID
	Reason         string
	Details        string
}

type User struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
}

type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}
