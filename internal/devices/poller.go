package devices

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/kefhub/kef-hub-go/internal/kef"
	"github.com/kefhub/kef-hub-go/internal/models"
)

// pollerCallbacks are the poller's outputs. All three are invoked outside
// the poller's lock and must be safe for concurrent use.
type pollerCallbacks struct {
	storeState func(State)
	publish    func(Event)
	transition func(state AvailabilityState, detail string)
}

// poller drives one device's availability state machine. One goroutine per
// device; the next tick is scheduled only after the previous tick's work has
// settled, so polls never overlap by construction.
//
// Availability is asymmetric: it takes failureThreshold consecutive failed
// polls to mark a device unavailable, but a single success brings it back.
// While unavailable the cadence drops to retryInterval.
type poller struct {
	deviceID         string
	modelCfg         models.ModelConfig
	failureThreshold int
	log              *log.Logger
	callbacks        pollerCallbacks

	mu             sync.Mutex
	client         *kef.Client
	generation     uint64
	normalInterval time.Duration
	retryInterval  time.Duration
	availability   AvailabilityState
	failures       int
	identityFresh  bool
	artURL         string
	artCleared     bool
	lastValues     map[string]any

	kickCh chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func newPoller(record Record, client *kef.Client, normalInterval, retryInterval time.Duration, failureThreshold int, callbacks pollerCallbacks, logger *log.Logger) *poller {
	if logger == nil {
		logger = log.Default()
	}
	return &poller{
		deviceID:         record.DeviceID,
		modelCfg:         models.Lookup(record.ModelID),
		failureThreshold: failureThreshold,
		log:              logger,
		callbacks:        callbacks,
		client:           client,
		normalInterval:   normalInterval,
		retryInterval:    retryInterval,
		availability:     StateConnecting,
		kickCh:           make(chan struct{}, 1),
		done:             make(chan struct{}),
	}
}

func (p *poller) start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	go p.run(ctx)
}

func (p *poller) stop() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

// kick requests an immediate poll, coalescing with any pending request.
func (p *poller) kick() {
	select {
	case p.kickCh <- struct{}{}:
	default:
	}
}

func (p *poller) run(ctx context.Context) {
	defer close(p.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-p.kickCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		next := p.tick(ctx)

		select {
		case <-ctx.Done():
			return
		default:
		}
		timer.Reset(next)
	}
}

// clientRef returns the current speaker client for command dispatch.
func (p *poller) clientRef() *kef.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

// swapClient replaces the speaker client after an endpoint change. The
// generation bump makes any in-flight poll's verdict stale: it ran against
// the old endpoint and must not count for or against the new one. The
// device drops back to connecting until the new endpoint produces a verdict
// of its own.
func (p *poller) swapClient(client *kef.Client) {
	p.mu.Lock()
	p.client = client
	p.generation++
	p.failures = 0
	p.availability = StateConnecting
	p.artCleared = false
	p.lastValues = nil
	p.mu.Unlock()
	p.kick()
}

// markIdentityFresh suppresses the identity fetch on the next transition to
// available. Set when a settings-change probe has just read it.
func (p *poller) markIdentityFresh() {
	p.mu.Lock()
	p.identityFresh = true
	p.mu.Unlock()
}

func (p *poller) consumeIdentityFresh() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	fresh := p.identityFresh
	p.identityFresh = false
	return fresh
}

// setNormalInterval changes the configured cadence and reschedules.
func (p *poller) setNormalInterval(interval time.Duration) {
	p.mu.Lock()
	p.normalInterval = interval
	p.mu.Unlock()
	p.kick()
}

func (p *poller) availabilityState() AvailabilityState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availability
}

// tick performs one poll cycle and returns the delay until the next.
func (p *poller) tick(ctx context.Context) time.Duration {
	p.mu.Lock()
	client := p.client
	generation := p.generation
	p.mu.Unlock()

	snapshot, err := client.GetAllSettings(ctx)

	// Metadata refresh is fault-tolerant: a failed read leaves the fields
	// empty without failing the cycle.
	var playback kef.PlaybackInfo
	if err == nil && !snapshot.Standby && isPlaybackSource(snapshot.Source) {
		if info, playbackErr := client.GetPlaybackInfo(ctx); playbackErr == nil {
			playback = info
		}
	}

	now := time.Now().UTC()

	p.mu.Lock()
	if generation != p.generation {
		// Client was swapped while this poll was in flight; the verdict
		// belongs to the old endpoint.
		next := p.normalInterval
		p.mu.Unlock()
		return next
	}

	var (
		transitioned bool
		transitionTo AvailabilityState
		detail       string
		events       []Event
		state        State
		storeState   bool
		next         time.Duration
	)

	if err != nil {
		p.failures++
		if p.availability != StateUnavailable && p.failures >= p.failureThreshold {
			p.availability = StateUnavailable
			transitioned = true
			transitionTo = StateUnavailable
			detail = err.Error()
		}
		if p.availability == StateUnavailable {
			next = p.retryInterval
		} else {
			next = p.normalInterval
		}
	} else {
		p.failures = 0
		if p.availability != StateAvailable {
			p.availability = StateAvailable
			transitioned = true
			transitionTo = StateAvailable
		}

		// Artwork follows the playback sources only. Leaving them clears
		// the art exactly once; it is not re-cleared every cycle.
		if !snapshot.Standby && isPlaybackSource(snapshot.Source) {
			p.artURL = playback.AlbumArtURL
			p.artCleared = false
		} else if !p.artCleared {
			p.artURL = ""
			p.artCleared = true
		}

		values := capabilityValues(p.modelCfg, snapshot, playback, client.ShuffleMode(), client.RepeatMode())
		for capability, value := range values {
			if previous, ok := p.lastValues[capability]; !ok || previous != value {
				events = append(events, Event{
					DeviceID:   p.deviceID,
					Type:       "capability",
					Capability: capability,
					Value:      value,
					At:         now,
				})
			}
		}
		p.lastValues = values

		state = State{
			DeviceID:     p.deviceID,
			Availability: StateAvailable,
			Snapshot:     snapshot,
			Playback:     playback,
			AlbumArtURL:  p.artURL,
			Capabilities: values,
			UpdatedAt:    now,
		}
		storeState = true
		next = p.normalInterval
	}
	p.mu.Unlock()

	if transitioned {
		p.log.Printf("device=%s availability=%s detail=%q", p.deviceID, transitionTo, detail)
		p.callbacks.transition(transitionTo, detail)
		p.callbacks.publish(Event{
			DeviceID: p.deviceID,
			Type:     "availability",
			State:    transitionTo,
			At:       now,
		})
	}
	for _, event := range events {
		p.callbacks.publish(event)
	}
	if storeState {
		p.callbacks.storeState(state)
	}

	return next
}
