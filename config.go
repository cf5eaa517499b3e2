package reviewcache

import (
	"fmt"
	"time"

	"github.com/dgduncan/go-review-cache/caches"
)

// Config holds the TTL classes and bucket names shared by the caches. The
// durations are tuning defaults; only the relation between ReviewImageTTL
// and SignedURLExpiry is required for correctness.
type Config struct {
	// StaticTTL applies to reference data such as category lists.
	StaticTTL time.Duration `yaml:"static_ttl"`

	// UserDataTTL applies to profiles, review listings, follow and block
	// lists, comments and profile searches.
	UserDataTTL time.Duration `yaml:"user_data_ttl"`

	// LocationsTTL applies to location listings with review aggregates.
	LocationsTTL time.Duration `yaml:"locations_ttl"`

	AvatarTTL time.Duration `yaml:"avatar_ttl"`

	// ReviewImageTTL must be strictly shorter than SignedURLExpiry so a
	// cached signed URL is always replaced before the storage service
	// starts rejecting it.
	ReviewImageTTL  time.Duration `yaml:"review_image_ttl"`
	SignedURLExpiry time.Duration `yaml:"signed_url_expiry"`

	LocationImageTTL time.Duration `yaml:"location_image_ttl"`

	SessionTTL time.Duration `yaml:"session_ttl"`
	ProfileTTL time.Duration `yaml:"profile_ttl"`

	AvatarBucket        string `yaml:"avatar_bucket"`
	ReviewImageBucket   string `yaml:"review_image_bucket"`
	LocationImageBucket string `yaml:"location_image_bucket"`

	// PersistPrefix scopes the keys this library writes to a Store.
	PersistPrefix string `yaml:"persist_prefix"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		StaticTTL:        12 * time.Hour,
		UserDataTTL:      15 * time.Minute,
		LocationsTTL:     30 * time.Minute,
		AvatarTTL:        30 * time.Minute,
		ReviewImageTTL:   45 * time.Minute,
		SignedURLExpiry:  time.Hour,
		LocationImageTTL: 24 * time.Hour,
		SessionTTL:       2 * time.Minute,
		ProfileTTL:       5 * time.Minute,

		AvatarBucket:        "avatars",
		ReviewImageBucket:   "review-images",
		LocationImageBucket: "location-images",

		PersistPrefix: caches.DefaultKeyPrefix,
	}
}

// Validate reports the first invalid setting as a caches.ValidationError.
func (c Config) Validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"static_ttl", c.StaticTTL},
		{"user_data_ttl", c.UserDataTTL},
		{"locations_ttl", c.LocationsTTL},
		{"avatar_ttl", c.AvatarTTL},
		{"review_image_ttl", c.ReviewImageTTL},
		{"signed_url_expiry", c.SignedURLExpiry},
		{"location_image_ttl", c.LocationImageTTL},
		{"session_ttl", c.SessionTTL},
		{"profile_ttl", c.ProfileTTL},
	}
	for _, v := range durations {
		if v.d <= 0 {
			return caches.ValidationError{Reason: fmt.Sprintf("%s must be positive, got %s", v.name, v.d)}
		}
	}

	if c.ReviewImageTTL >= c.SignedURLExpiry {
		return caches.ValidationError{
			Reason: fmt.Sprintf("review_image_ttl (%s) must be shorter than signed_url_expiry (%s)",
				c.ReviewImageTTL, c.SignedURLExpiry),
		}
	}

	if c.AvatarBucket == "" || c.ReviewImageBucket == "" || c.LocationImageBucket == "" {
		return caches.ValidationError{Reason: "bucket names must not be empty"}
	}

	return nil
}

// resolveConfig mirrors the nil-means-default handling of every constructor.
func resolveConfig(opts *Config) (Config, error) {
	c := DefaultConfig()
	if opts != nil {
		c = *opts
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
