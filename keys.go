package reviewcache

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Kind names the resource a cache key refers to.
type Kind string

const (
	KindProfile       Kind = "profile"
	KindReviews       Kind = "reviews"
	KindFeed          Kind = "feed"
	KindFollowed      Kind = "followed"
	KindBlocked       Kind = "blocked"
	KindCategories    Kind = "categories"
	KindLocations     Kind = "locations"
	KindProfileSearch Kind = "search"
	KindComments      Kind = "comments"
	KindAvatar        Kind = "avatar"
	KindReviewImage   Kind = "review"
	KindLocationImage Kind = "location"
)

// Key is a structured cache key. UserID is set whenever the cached resource
// belongs to (or is filtered by) a single user, so invalidation can match on
// it instead of searching key strings.
type Key struct {
	Kind   Kind      `json:"kind"`
	UserID uuid.UUID `json:"user_id"`
	Param  string    `json:"param,omitempty"`
}

// String renders the key in the "<kind>_<param>" form used for the pending
// registry and for mirrored store keys.
func (k Key) String() string {
	switch {
	case k.Param != "":
		return string(k.Kind) + "_" + k.Param
	case k.UserID != uuid.Nil:
		return string(k.Kind) + "_" + k.UserID.String()
	default:
		return string(k.Kind)
	}
}

func ProfileKey(id uuid.UUID) Key  { return Key{Kind: KindProfile, UserID: id} }
func FollowedKey(id uuid.UUID) Key { return Key{Kind: KindFollowed, UserID: id} }
func BlockedKey(id uuid.UUID) Key  { return Key{Kind: KindBlocked, UserID: id} }

// ReviewsKey keys a review listing by its full option set.
func ReviewsKey(q ReviewsQuery) Key {
	owner := q.UserID
	if owner == uuid.Nil {
		owner = q.Viewer
	}
	return Key{Kind: KindReviews, UserID: owner, Param: canonical(q)}
}

func FeedKey(viewer uuid.UUID, offset, limit int) Key {
	return Key{Kind: KindFeed, UserID: viewer, Param: canonical(struct {
		Viewer uuid.UUID `json:"viewer"`
		Offset int       `json:"offset"`
		Limit  int       `json:"limit"`
	}{viewer, offset, limit})}
}

func CategoriesKey(kind CategoryKind) Key {
	return Key{Kind: KindCategories, Param: string(kind)}
}

func LocationsKey(nameFilter string) Key {
	return Key{Kind: KindLocations, Param: "q=" + nameFilter}
}

func ProfileSearchKey(fragment string) Key {
	return Key{Kind: KindProfileSearch, Param: strings.ToLower(fragment)}
}

func CommentsKey(reviewID uuid.UUID) Key {
	return Key{Kind: KindComments, Param: reviewID.String()}
}

// AvatarKey keys an avatar path. Avatar objects live under "<userID>/", so
// the owner is recovered from the first path segment when it parses.
func AvatarKey(path string) Key {
	k := Key{Kind: KindAvatar, Param: path}
	if owner, _, ok := strings.Cut(path, "/"); ok {
		if id, err := uuid.Parse(owner); err == nil {
			k.UserID = id
		}
	}
	return k
}

func ReviewImageKey(path string) Key {
	return Key{Kind: KindReviewImage, Param: path}
}

func LocationImageKey(locationID uuid.UUID) Key {
	return Key{Kind: KindLocationImage, Param: locationID.String()}
}

func canonical(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// KeyPredicate selects keys for invalidation.
type KeyPredicate func(Key) bool

// ForUser matches keys owned by or filtered on the given user.
func ForUser(id uuid.UUID) KeyPredicate {
	return func(k Key) bool {
		return id != uuid.Nil && k.UserID == id
	}
}

// OfKind matches keys of any of the given kinds.
func OfKind(kinds ...Kind) KeyPredicate {
	return func(k Key) bool {
		return slices.Contains(kinds, k.Kind)
	}
}

// ExactKey matches a single key.
func ExactKey(key Key) KeyPredicate {
	return func(k Key) bool {
		return k == key
	}
}

// AnyOf matches keys accepted by at least one predicate.
func AnyOf(preds ...KeyPredicate) KeyPredicate {
	return func(k Key) bool {
		for _, p := range preds {
			if p(k) {
				return true
			}
		}
		return false
	}
}

// UserCascade selects everything a mutation by or about the user can make
// stale: the user's own keys plus every listing that may embed the user
// through a join.
func UserCascade(id uuid.UUID) KeyPredicate {
	return AnyOf(ForUser(id), OfKind(KindReviews, KindFeed, KindFollowed, KindBlocked))
}
