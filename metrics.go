package reviewcache

// Cache names reported to Metrics.
const (
	CacheQuery = "query"
	CacheImage = "image"
	CacheAuth  = "auth"
)

// Metrics receives cache lifecycle events. Implementations must be safe for
// concurrent use and must not block.
type Metrics interface {
	// Hit is called when a live entry is served without a remote call.
	Hit(cache string)

	// Miss is called when a remote call is issued.
	Miss(cache string)

	// Coalesced is called when a caller joined a request already in flight.
	Coalesced(cache string)

	// Invalidated is called with the number of entries removed by an invalidation.
	Invalidated(cache string, n int)
}

// NoopMetrics ignores every event.
type NoopMetrics struct{}

func (NoopMetrics) Hit(string)              {}
func (NoopMetrics) Miss(string)             {}
func (NoopMetrics) Coalesced(string)        {}
func (NoopMetrics) Invalidated(string, int) {}
