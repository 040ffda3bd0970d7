// Package authguard turns authentication-expiry signals from any fetch into
// a single debounced notification.
package authguard

import (
	"log/slog"
	"sync"
	"time"

	"ingresso-cascade-cli/clock"
)

// DefaultWindow is the debounce window used when none is configured.
const DefaultWindow = 60 * time.Second

// Extractor recognises a vendor's auth-expiry signal in a fetch error.
type Extractor interface {
	IsAuthExpired(err error) bool
}

// ExtractorFunc adapts a plain function to Extractor.
type ExtractorFunc func(err error) bool

func (f ExtractorFunc) IsAuthExpired(err error) bool {
	if err == nil {
		return false
	}
	return f(err)
}

// Notification describes the detection that opened a debounce window.
type Notification struct {
	Source string
	Err    error
	At     time.Time
}

// Guard debounces auth-expiry detections. The first detection in a window
// yields a Notification; later ones in the same window are only counted.
// Observe may be called from any goroutine.
type Guard struct {
	mu         sync.Mutex
	clock      clock.Clock
	window     time.Duration
	logger     *slog.Logger
	last       time.Time
	armed      bool
	suppressed int
}

// New creates a Guard. A non-positive window uses DefaultWindow and a nil
// clock uses the real clock.
func New(window time.Duration, clk clock.Clock, logger *slog.Logger) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Guard{
		clock:  clk,
		window: window,
		logger: logger,
	}
}

// Observe records a detection from source. It returns the Notification and
// true when this call opened a new window. The window check and arming
// happen under one lock, so of concurrent detections exactly one wins. The
// caller acts on the Notification after Observe returns.
func (g *Guard) Observe(source string, err error) (Notification, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if g.armed && now.Sub(g.last) < g.window {
		g.suppressed++
		g.logger.Debug("auth expiry suppressed", "source", source, "suppressed", g.suppressed)
		return Notification{}, false
	}

	g.armed = true
	g.last = now
	g.logger.Warn("auth expired", "source", source, "error", err)
	return Notification{Source: source, Err: err, At: now}, true
}

// Suppressed returns how many detections were swallowed by the debounce.
func (g *Guard) Suppressed() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suppressed
}

// Window returns the configured debounce window.
func (g *Guard) Window() time.Duration { return g.window }
