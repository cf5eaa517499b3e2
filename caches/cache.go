package caches

import "time"

var (
	// DefaultExpiredDuration is how long a mirrored item is kept by a backend
	// that enforces its own retention, independent of the entry's expiry.
	DefaultExpiredDuration = 24 * time.Hour

	// DefaultExpiredTaskTimer is the default duration of the expired task timer
	DefaultExpiredTaskTimer = 10 * time.Minute

	// DefaultKeyPrefix scopes mirrored keys in shared backends.
	DefaultKeyPrefix = "reviewcache:"
)
