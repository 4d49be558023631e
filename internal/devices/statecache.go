package devices

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// StateCache holds the latest polled State per device. Entries expire after
// the TTL: an expired entry means the poller has not delivered a fresh read
// recently, and readers see "no data" instead of a stale snapshot.
type StateCache struct {
	cache *ttlcache.Cache[string, State]
}

// NewStateCache builds a cache with the given entry TTL and starts its
// expiry loop.
func NewStateCache(ttl time.Duration) *StateCache {
	cache := ttlcache.New[string, State](
		ttlcache.WithTTL[string, State](ttl),
		ttlcache.WithDisableTouchOnHit[string, State](),
	)
	go cache.Start()
	return &StateCache{cache: cache}
}

// Set stores the latest state for a device.
func (s *StateCache) Set(deviceID string, state State) {
	s.cache.Set(deviceID, state, ttlcache.DefaultTTL)
}

// Get returns the latest state for a device, if a fresh one exists.
func (s *StateCache) Get(deviceID string) (State, bool) {
	item := s.cache.Get(deviceID)
	if item == nil {
		return State{}, false
	}
	return item.Value(), true
}

// Delete removes a device's entry.
func (s *StateCache) Delete(deviceID string) {
	s.cache.Delete(deviceID)
}

// Stop halts the expiry loop.
func (s *StateCache) Stop() {
	s.cache.Stop()
}
