package devices

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateCacheSetGetDelete(t *testing.T) {
	cache := NewStateCache(time.Minute)
	defer cache.Stop()

	cache.Set("dev-1", State{DeviceID: "dev-1", Availability: StateAvailable})
	state, ok := cache.Get("dev-1")
	require.True(t, ok)
	require.Equal(t, StateAvailable, state.Availability)

	cache.Delete("dev-1")
	_, ok = cache.Get("dev-1")
	require.False(t, ok)
}

func TestStateCacheExpiresStaleEntries(t *testing.T) {
	cache := NewStateCache(30 * time.Millisecond)
	defer cache.Stop()

	cache.Set("dev-1", State{DeviceID: "dev-1"})
	require.Eventually(t, func() bool {
		_, ok := cache.Get("dev-1")
		return !ok
	}, time.Second, 10*time.Millisecond, "an unrefreshed entry must expire")
}
