package devices

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kefhub/kef-hub-go/internal/kef"
	"github.com/kefhub/kef-hub-go/internal/models"
)

// fakeSpeaker answers the control-API paths a real speaker would, with a
// switchable hard-failure mode.
type fakeSpeaker struct {
	mu         sync.Mutex
	fail       bool
	source     string
	volume     int
	playerData string
	model      string
	firmware   string
	calls      []string
}

func newFakeSpeaker() *fakeSpeaker {
	return &fakeSpeaker{source: "wifi", volume: 30, model: "LSX II"}
}

func (f *fakeSpeaker) setIdentity(model, firmware string) {
	f.mu.Lock()
	f.model = model
	f.firmware = firmware
	f.mu.Unlock()
}

func (f *fakeSpeaker) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeSpeaker) setSource(source string) {
	f.mu.Lock()
	f.source = source
	f.mu.Unlock()
}

func (f *fakeSpeaker) setPlayerData(raw string) {
	f.mu.Lock()
	f.playerData = raw
	f.mu.Unlock()
}

func (f *fakeSpeaker) callCount(pathFragment string) int {
	escaped := url.QueryEscape(pathFragment)
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, call := range f.calls {
		if strings.Contains(call, escaped) {
			count++
		}
	}
	return count
}

func (f *fakeSpeaker) resetCalls() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeSpeaker) Do(ctx context.Context, method, path string) (kef.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)

	if f.fail {
		return kef.Payload{}, &kef.TransportError{Op: "GET " + path, Err: errors.New("connection refused")}
	}

	switch {
	case path == "/":
		return kef.Payload{Raw: "<html><title>KEF | " + f.model + " | Homepage</title></html>"}, nil
	case strings.Contains(path, "setData"):
		return jsonPayload(`[]`), nil
	case strings.Contains(path, url.QueryEscape("settings:/kef/host/firmwareVersion")):
		if f.firmware == "" {
			return jsonPayload(`[{"error":"unknown path"}]`), nil
		}
		return jsonPayload(`[{"string_":"` + f.firmware + `"}]`), nil
	case strings.Contains(path, url.QueryEscape("settings:/kef/play/physicalSource")):
		return jsonPayload(`[{"kefPhysicalSource":"` + f.source + `"}]`), nil
	case strings.Contains(path, url.QueryEscape("player:volume")):
		return jsonPayload(`[{"i32_":` + strconv.Itoa(f.volume) + `}]`), nil
	case strings.Contains(path, url.QueryEscape("player:player/data")):
		if f.playerData == "" {
			return jsonPayload(`[{"state":"stopped"}]`), nil
		}
		return jsonPayload(f.playerData), nil
	default:
		return jsonPayload(`[{"error":"unknown path"}]`), nil
	}
}

func jsonPayload(raw string) kef.Payload {
	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		panic(err)
	}
	return kef.Payload{JSON: value}
}

// captured collects poller callback invocations.
type captured struct {
	mu          sync.Mutex
	states      []State
	events      []Event
	transitions []AvailabilityState
}

func (c *captured) callbacks() pollerCallbacks {
	return pollerCallbacks{
		storeState: func(state State) {
			c.mu.Lock()
			c.states = append(c.states, state)
			c.mu.Unlock()
		},
		publish: func(event Event) {
			c.mu.Lock()
			c.events = append(c.events, event)
			c.mu.Unlock()
		},
		transition: func(state AvailabilityState, detail string) {
			c.mu.Lock()
			c.transitions = append(c.transitions, state)
			c.mu.Unlock()
		},
	}
}

func (c *captured) transitionList() []AvailabilityState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]AvailabilityState(nil), c.transitions...)
}

func (c *captured) stateList() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.states...)
}

const (
	testNormalInterval = 5 * time.Second
	testRetryInterval  = 30 * time.Second
)

func testPoller(speaker *fakeSpeaker, sink *captured) *poller {
	record := Record{DeviceID: "dev-1", ModelID: models.ModelLSX2}
	client := kef.NewClientWithTransport(speaker)
	return newPoller(record, client, testNormalInterval, testRetryInterval, 3, sink.callbacks(), nil)
}

func TestPollerNeedsThreeFailuresToGoUnavailable(t *testing.T) {
	speaker := newFakeSpeaker()
	speaker.setFail(true)
	sink := &captured{}
	p := testPoller(speaker, sink)
	ctx := context.Background()

	next := p.tick(ctx)
	require.Equal(t, testNormalInterval, next)
	require.Equal(t, StateConnecting, p.availabilityState())

	next = p.tick(ctx)
	require.Equal(t, testNormalInterval, next)
	require.Equal(t, StateConnecting, p.availabilityState())
	require.Empty(t, sink.transitionList())

	next = p.tick(ctx)
	require.Equal(t, testRetryInterval, next, "unavailable devices poll at the retry cadence")
	require.Equal(t, StateUnavailable, p.availabilityState())
	require.Equal(t, []AvailabilityState{StateUnavailable}, sink.transitionList())
}

func TestPollerSingleSuccessRecovers(t *testing.T) {
	speaker := newFakeSpeaker()
	speaker.setFail(true)
	sink := &captured{}
	p := testPoller(speaker, sink)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		p.tick(ctx)
	}
	require.Equal(t, StateUnavailable, p.availabilityState())

	speaker.setFail(false)
	next := p.tick(ctx)
	require.Equal(t, testNormalInterval, next)
	require.Equal(t, StateAvailable, p.availabilityState())
	require.Equal(t, []AvailabilityState{StateUnavailable, StateAvailable}, sink.transitionList())
}

func TestPollerFailureStreakResetsOnSuccess(t *testing.T) {
	speaker := newFakeSpeaker()
	sink := &captured{}
	p := testPoller(speaker, sink)
	ctx := context.Background()

	speaker.setFail(true)
	p.tick(ctx)
	p.tick(ctx)

	speaker.setFail(false)
	p.tick(ctx)
	require.Equal(t, StateAvailable, p.availabilityState())

	// Two more failures do not add to the earlier streak.
	speaker.setFail(true)
	p.tick(ctx)
	p.tick(ctx)
	require.Equal(t, StateAvailable, p.availabilityState())

	p.tick(ctx)
	require.Equal(t, StateUnavailable, p.availabilityState())
}

func TestPollerStoresSnapshotAndPlayback(t *testing.T) {
	speaker := newFakeSpeaker()
	speaker.setPlayerData(`[{"state":"playing","title":"So What","artist":"Miles Davis","album":"Kind of Blue","icon":"http://art.example/cover.jpg"}]`)
	sink := &captured{}
	p := testPoller(speaker, sink)

	p.tick(context.Background())

	states := sink.stateList()
	require.Len(t, states, 1)
	state := states[0]
	require.Equal(t, StateAvailable, state.Availability)
	require.Equal(t, kef.SourceWifi, state.Snapshot.Source)
	require.Equal(t, 30, state.Snapshot.Volume)
	require.Equal(t, "playing", state.Playback.State)
	require.Equal(t, "So What", state.Playback.Title)
	require.Equal(t, "http://art.example/cover.jpg", state.AlbumArtURL)
	require.Equal(t, true, state.Capabilities[CapSpeakerPlaying])
	require.Equal(t, "So What", state.Capabilities[CapSpeakerTrack])
}

func TestPollerClearsAlbumArtOnceOffPlaybackSources(t *testing.T) {
	speaker := newFakeSpeaker()
	speaker.setPlayerData(`[{"state":"playing","title":"So What","icon":"http://art.example/cover.jpg"}]`)
	sink := &captured{}
	p := testPoller(speaker, sink)
	ctx := context.Background()

	p.tick(ctx)
	require.Equal(t, "http://art.example/cover.jpg", sink.stateList()[0].AlbumArtURL)

	speaker.setSource("optical")
	p.tick(ctx)
	states := sink.stateList()
	require.Equal(t, "", states[1].AlbumArtURL)
	require.True(t, p.artCleared)

	// No playback reads happen off wifi/bluetooth; metadata fields stay out.
	_, hasTrack := states[1].Capabilities[CapSpeakerTrack]
	require.False(t, hasTrack)

	speaker.resetCalls()
	p.tick(ctx)
	require.Zero(t, speaker.callCount("player:player/data"))
}

func TestPollerStandbyEmitsOnlyPowerState(t *testing.T) {
	speaker := newFakeSpeaker()
	speaker.setSource("standby")
	sink := &captured{}
	p := testPoller(speaker, sink)

	p.tick(context.Background())

	states := sink.stateList()
	require.Len(t, states, 1)
	require.True(t, states[0].Snapshot.Standby)
	require.Equal(t, map[string]any{CapOnOff: false}, states[0].Capabilities)
	require.Zero(t, speaker.callCount("player:volume"), "standby skips the volume read")
}

func TestPollerCapabilityEventsOnlyOnChange(t *testing.T) {
	speaker := newFakeSpeaker()
	sink := &captured{}
	p := testPoller(speaker, sink)
	ctx := context.Background()

	p.tick(ctx)
	sink.mu.Lock()
	firstCount := len(sink.events)
	sink.mu.Unlock()
	require.NotZero(t, firstCount)

	p.tick(ctx)
	sink.mu.Lock()
	secondCount := len(sink.events)
	sink.mu.Unlock()
	require.Equal(t, firstCount, secondCount, "identical snapshot must not re-emit")

	speaker.mu.Lock()
	speaker.volume = 55
	speaker.mu.Unlock()
	p.tick(ctx)

	sink.mu.Lock()
	var volumeEvents []Event
	for _, event := range sink.events[secondCount:] {
		if event.Capability == CapVolumeSet {
			volumeEvents = append(volumeEvents, event)
		}
	}
	sink.mu.Unlock()
	require.Len(t, volumeEvents, 1)
	require.Equal(t, 55, volumeEvents[0].Value)
}

func TestSwapClientDropsBackToConnecting(t *testing.T) {
	speaker := newFakeSpeaker()
	sink := &captured{}
	p := testPoller(speaker, sink)
	ctx := context.Background()

	p.tick(ctx)
	require.Equal(t, StateAvailable, p.availabilityState())

	p.swapClient(kef.NewClientWithTransport(newFakeSpeaker()))
	require.Equal(t, StateConnecting, p.availabilityState(),
		"an endpoint change restarts the availability verdict")

	p.tick(ctx)
	require.Equal(t, StateAvailable, p.availabilityState())
	require.Equal(t, []AvailabilityState{StateAvailable, StateAvailable}, sink.transitionList(),
		"the new endpoint earns its own available transition")
}

func TestIdentityFreshIsOneShot(t *testing.T) {
	p := testPoller(newFakeSpeaker(), &captured{})

	require.False(t, p.consumeIdentityFresh())
	p.markIdentityFresh()
	require.True(t, p.consumeIdentityFresh())
	require.False(t, p.consumeIdentityFresh())
}

// gateTransport blocks every request until released, to hold a poll in
// flight while the test swaps the client underneath it.
type gateTransport struct {
	inner   kef.Transport
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (g *gateTransport) Do(ctx context.Context, method, path string) (kef.Payload, error) {
	g.once.Do(func() { close(g.started) })
	<-g.gate
	return g.inner.Do(ctx, method, path)
}

func TestPollerDiscardsResultAfterClientSwap(t *testing.T) {
	speaker := newFakeSpeaker()
	gate := &gateTransport{inner: speaker, gate: make(chan struct{}), started: make(chan struct{})}
	sink := &captured{}
	record := Record{DeviceID: "dev-1", ModelID: models.ModelLSX2}
	p := newPoller(record, kef.NewClientWithTransport(gate), testNormalInterval, testRetryInterval, 3, sink.callbacks(), nil)

	done := make(chan time.Duration, 1)
	go func() {
		done <- p.tick(context.Background())
	}()

	<-gate.started
	p.swapClient(kef.NewClientWithTransport(newFakeSpeaker()))
	close(gate.gate)

	next := <-done
	require.Equal(t, testNormalInterval, next)
	require.Equal(t, StateConnecting, p.availabilityState(), "a stale poll must not produce a verdict")
	require.Empty(t, sink.stateList())
	require.Empty(t, sink.transitionList())
}
