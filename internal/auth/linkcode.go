package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sync"
	"time"
)

type linkEntry struct {
	createdAt time.Time
	requestID string
}

// LinkStore tracks pending client link codes. A code is shown on the hub's
// console, typed into the client once and then consumed.
type LinkStore struct {
	mu      sync.Mutex
	entries map[string]linkEntry
	ttl     time.Duration
}

func NewLinkStore(ttl time.Duration) *LinkStore {
	return &LinkStore{
		entries: make(map[string]linkEntry),
		ttl:     ttl,
	}
}

// StartCleanup removes expired codes periodically until the context is canceled.
func (store *LinkStore) StartCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				store.CleanupExpired()
			case <-ctx.Done():
				store.Clear()
				return
			}
		}
	}()
}

// CleanupExpired removes expired link codes.
func (store *LinkStore) CleanupExpired() {
	store.mu.Lock()
	defer store.mu.Unlock()

	now := time.Now()
	for code, entry := range store.entries {
		if now.Sub(entry.createdAt) > store.ttl {
			delete(store.entries, code)
		}
	}
}

// Clear wipes all entries from the store.
func (store *LinkStore) Clear() {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.entries = make(map[string]linkEntry)
}

// Create generates and stores a new link code.
func (store *LinkStore) Create(requestID string) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	for attempts := 0; attempts < 10; attempts++ {
		code, err := randomLinkCode()
		if err != nil {
			return "", err
		}
		if _, exists := store.entries[code]; exists {
			continue
		}
		store.entries[code] = linkEntry{
			createdAt: time.Now(),
			requestID: requestID,
		}
		return code, nil
	}

	return "", fmt.Errorf("unable to generate unique link code")
}

// Lookup checks a link code and reports if it exists and is expired.
func (store *LinkStore) Lookup(code string) (linkEntry, bool, bool) {
	store.mu.Lock()
	defer store.mu.Unlock()

	entry, ok := store.entries[code]
	if !ok {
		return linkEntry{}, false, false
	}
	expired := time.Since(entry.createdAt) > store.ttl
	return entry, true, expired
}

// Consume removes a link code from the store.
func (store *LinkStore) Consume(code string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.entries, code)
}

func randomLinkCode() (string, error) {
	max := big.NewInt(900000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	code := 100000 + n.Int64()
	return fmt.Sprintf("%06d", code), nil
}
