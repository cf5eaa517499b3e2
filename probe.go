package reviewcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// ErrProbeFailed is returned when a URL no longer answers with a success status.
var ErrProbeFailed = errors.New("url liveness probe failed")

// Prober checks that a previously issued URL is still accepted by the
// resource server.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// HTTPProber probes URLs with a single-byte ranged GET through the wrapped
// http.RoundTripper. Presigned storage URLs are signed for GET, so a HEAD
// would be rejected even when the URL is still valid.
type HTTPProber struct {
	Wrapped http.RoundTripper

	timeout time.Duration
	logger  *slog.Logger
}

// NewHTTPProber creates a prober. A nil RoundTripper uses
// http.DefaultTransport; a zero timeout uses five seconds. If the 'logger'
// is nil, a no-op logger writing to io.Discard will be used.
func NewHTTPProber(rt http.RoundTripper, timeout time.Duration, logger *slog.Logger) *HTTPProber {
	if rt == nil {
		rt = http.DefaultTransport
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &HTTPProber{Wrapped: rt, timeout: timeout, logger: logger}
}

// probeRange asks for the first byte only.
const probeRange = "bytes=0-0"

// Probe issues a ranged GET and accepts 200 or 206. Data URLs are always
// considered live.
func (p *HTTPProber) Probe(ctx context.Context, url string) error {
	if strings.HasPrefix(url, "data:") {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	req.Header.Set("Range", probeRange)

	resp, err := p.Wrapped.RoundTrip(req)
	if err != nil {
		p.logger.DebugContext(ctx, "probe transport error", "error", err)
		return fmt.Errorf("%w: %v", ErrProbeFailed, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		p.logger.DebugContext(ctx, "probe rejected", "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrProbeFailed, resp.StatusCode)
	}
	return nil
}
