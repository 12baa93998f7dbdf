package alerting

import (
	"sync"
	"time"
)

// Gate decides which live updates are worth an alert: event severity at or
// above a threshold, and at most one alert per company per cooldown window.
type Gate struct {
	minSeverity int
	cooldown    time.Duration

	mu   sync.Mutex
	last map[string]time.Time
}

// NewGate builds a gate. A non-positive cooldown disables rate limiting.
func NewGate(minSeverity int, cooldown time.Duration) *Gate {
	return &Gate{minSeverity: minSeverity, cooldown: cooldown, last: make(map[string]time.Time)}
}

// MinSeverity returns the configured threshold.
func (g *Gate) MinSeverity() int {
	return g.minSeverity
}

// Allow reports whether an alert should fire and, if so, records it.
func (g *Gate) Allow(companyID string, severity int, now time.Time) bool {
	if severity < g.minSeverity {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.last[companyID]; ok && g.cooldown > 0 && now.Sub(prev) < g.cooldown {
		return false
	}
	g.last[companyID] = now
	return true
}
