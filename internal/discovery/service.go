package discovery

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kefhub/kef-hub-go/internal/api"
	"github.com/kefhub/kef-hub-go/internal/apperrors"
)

const maxConcurrentProbes = 8

// DiscoverSpeakers sweeps the LAN via SSDP and probes every responder plus
// the caller-supplied known IPs through the control API. Hosts that answer
// SSDP but not the control API are dropped silently.
func DiscoverSpeakers(ctx context.Context, passes int, passInterval, ssdpTimeout, probeTimeout time.Duration, knownIPs []string) []Candidate {
	responses, err := Discover(ctx, passes, passInterval, ssdpTimeout)
	if err != nil {
		log.Printf("ssdp discovery error: %v", err)
	}

	candidates := make(map[string]struct{})
	for _, resp := range responses {
		ip := resp.FromIP
		if ip == "" {
			ip = extractHost(resp.Location)
		}
		if ip != "" {
			candidates[ip] = struct{}{}
		}
	}
	for _, ip := range knownIPs {
		if ip = strings.TrimSpace(ip); ip != "" {
			candidates[ip] = struct{}{}
		}
	}

	var (
		mu    sync.Mutex
		found []Candidate
		wg    sync.WaitGroup
	)
	limiter := make(chan struct{}, maxConcurrentProbes)
	for ip := range candidates {
		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			limiter <- struct{}{}
			defer func() { <-limiter }()

			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout+time.Second)
			defer cancel()
			if candidate := ProbeSpeaker(probeCtx, ip, probeTimeout); candidate != nil {
				mu.Lock()
				found = append(found, *candidate)
				mu.Unlock()
			}
		}(ip)
	}
	wg.Wait()

	sort.Slice(found, func(i, j int) bool { return found[i].IP < found[j].IP })
	return found
}

// RegisterRoutes exposes the discovery sweep. Extra IPs to probe can be
// passed as a comma-separated "ips" query parameter, for hosts on subnets
// multicast does not reach.
func RegisterRoutes(router chi.Router, probeTimeout time.Duration) {
	router.Method(http.MethodGet, "/v1/discovery", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		var knownIPs []string
		if raw := r.URL.Query().Get("ips"); raw != "" {
			knownIPs = strings.Split(raw, ",")
			if len(knownIPs) > 64 {
				return apperrors.NewValidationError("too many ips", nil)
			}
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		found := DiscoverSpeakers(ctx, 2, time.Second, 3*time.Second, probeTimeout, knownIPs)
		return api.WriteList(w, r.URL.Path, found, false)
	}))
}

func extractHost(location string) string {
	parsed, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}
