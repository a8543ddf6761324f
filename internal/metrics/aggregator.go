package metrics

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/matchagon/bookly-agent/internal/session"
)

// defaultCacheTTL bounds how stale a served metrics snapshot can be.
// Dashboard polling is frequent and the aggregate scan is not free, so
// computed snapshots are held briefly per window.
const defaultCacheTTL = 30 * time.Second

// Aggregator computes windowed metrics over the session store's
// records, caching results per window size.
type Aggregator struct {
	sessions *session.Store
	cache    *cache.Cache
}

// NewAggregator creates an aggregator over the given session store.
func NewAggregator(sessions *session.Store) *Aggregator {
	return &Aggregator{
		sessions: sessions,
		cache:    cache.New(defaultCacheTTL, 2*defaultCacheTTL),
	}
}

// Window returns the metrics snapshot for the trailing N-day window,
// computing it if no fresh cached copy exists.
func (a *Aggregator) Window(days int) (Snapshot, error) {
	if days <= 0 {
		days = 30
	}

	key := fmt.Sprintf("window:%d", days)
	if cached, ok := a.cache.Get(key); ok {
		return cached.(Snapshot), nil
	}

	records, err := a.sessions.ListRecords(session.Filter{Days: days})
	if err != nil {
		return Snapshot{}, fmt.Errorf("list records: %w", err)
	}

	end := time.Now().UTC()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)
	snap := Aggregate(records, start, end)

	a.cache.Set(key, snap, cache.DefaultExpiration)
	return snap, nil
}

// Invalidate drops all cached snapshots. Called after a turn completes
// so freshly classified conversations show up promptly.
func (a *Aggregator) Invalidate() {
	a.cache.Flush()
}
