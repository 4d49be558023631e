package kef

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

// Source is the speaker's input selector. "standby" is a valid value of the
// underlying field and is how the hardware is powered off; it is not a
// selectable input.
type Source string

const (
	SourceWifi      Source = "wifi"
	SourceBluetooth Source = "bluetooth"
	SourceOptical   Source = "optical"
	SourceCoaxial   Source = "coaxial"
	SourceAnalog    Source = "analog"
	SourceTV        Source = "tv"
	SourceUSB       Source = "usb"
	SourceStandby   Source = "standby"
)

// Snapshot is one polled read of the speaker's state. It is produced fresh
// every poll cycle and never cached here.
type Snapshot struct {
	Standby       bool   `json:"standby"`
	Source        Source `json:"source"`
	Volume        int    `json:"volume"`
	Muted         bool   `json:"muted"`
	SubwooferGain int    `json:"subwoofer_gain"`
}

// VolumeReadError wraps a failed volume read. Volume has no safe fallback
// value, so callers must not default it silently.
type VolumeReadError struct {
	Err error
}

func (e *VolumeReadError) Error() string { return fmt.Sprintf("read volume: %v", e.Err) }
func (e *VolumeReadError) Unwrap() error { return e.Err }

// DeviceError is a semantic rejection reported by the speaker inside an
// otherwise successful response. It is distinct from a TransportError.
type DeviceError struct {
	Message string
}

func (e *DeviceError) Error() string { return "speaker rejected request: " + e.Message }

// IsOperationNotSupported reports whether err is the speaker's rejection of
// a transport control on a source that has none. The match is against the
// firmware's free-text message; if KEF ever rewords it, this quietly stops
// matching and the error falls through as a generic rejection.
func IsOperationNotSupported(err error) bool {
	var deviceErr *DeviceError
	if !errors.As(err, &deviceErr) {
		return false
	}
	return strings.Contains(strings.ToLower(deviceErr.Message), "operation not supported")
}

// defaultUnmuteVolume is restored by unmute when no volume above zero was
// ever observed before muting.
const defaultUnmuteVolume = 50

// Client exposes typed operations over a speaker's control API.
//
// Besides pass-through reads and writes it keeps three pieces of shadow
// state the hardware cannot report:
//
//   - lastActiveSource: which input to re-select on power-on, since the API
//     has no "power on" verb, only source selection.
//   - mutedShadow/previousVolume: mute is emulated by zeroing the volume and
//     remembering what to restore. Invariant: while mutedShadow is true the
//     last volume this client wrote was 0.
//   - repeat/shuffle modes: display-only. The API advertises supported modes
//     but neither reports nor accepts the current one; these values never
//     round-trip to the hardware and must not be treated as authoritative.
//
// A client is owned by one device lifecycle; commands and polls against it
// are serialized by the owner, and the internal mutex only guards the shadow
// state against the residual overlap between an in-flight poll and a
// settings-driven swap.
type Client struct {
	transport Transport

	mu               sync.Mutex
	lastActiveSource Source
	mutedShadow      bool
	previousVolume   int
	repeatMode       string
	shuffleMode      bool
}

// NewClient builds a client for the given endpoint.
func NewClient(endpoint Endpoint) *Client {
	return NewClientWithTransport(NewHTTPTransport(endpoint))
}

// NewClientWithTransport builds a client over a caller-supplied transport.
func NewClientWithTransport(transport Transport) *Client {
	return &Client{
		transport:        transport,
		lastActiveSource: SourceWifi,
		previousVolume:   defaultUnmuteVolume,
	}
}

// --- generic accessors -------------------------------------------------

func (c *Client) getData(ctx context.Context, path string) (any, error) {
	payload, err := c.transport.Do(ctx, "GET", getDataPath(path))
	if err != nil {
		return nil, err
	}
	if payload.JSON == nil {
		return nil, &DeviceError{Message: "non-JSON response for " + path}
	}
	return payload.JSON, nil
}

// getValue reads one key path and plucks the typed field out of the
// [{"<field>": value}] envelope. When the expected field is missing it falls
// back to the first non-"type" member, which covers older firmware that
// renamed fields.
func (c *Client) getValue(ctx context.Context, path, field string) (any, error) {
	data, err := c.getData(ctx, path)
	if err != nil {
		return nil, err
	}

	obj, ok := playerDataObject(data)
	if !ok {
		return nil, &DeviceError{Message: "unrecognized response shape for " + path}
	}
	if message := asString(obj["error"]); message != "" {
		return nil, &DeviceError{Message: message}
	}
	if value, ok := obj[field]; ok {
		return value, nil
	}
	for key, value := range obj {
		if key != "type" && key != "error" {
			return value, nil
		}
	}
	return nil, &DeviceError{Message: "empty response for " + path}
}

func (c *Client) getString(ctx context.Context, path string) (string, error) {
	value, err := c.getValue(ctx, path, fieldString)
	if err != nil {
		return "", err
	}
	return asString(value), nil
}

func (c *Client) getInt(ctx context.Context, path string) (int, error) {
	value, err := c.getValue(ctx, path, fieldI32)
	if err != nil {
		return 0, err
	}
	number, ok := value.(float64)
	if !ok {
		return 0, &DeviceError{Message: "non-numeric value for " + path}
	}
	return int(number), nil
}

func (c *Client) setValue(ctx context.Context, path, field string, value any) error {
	requestPath, err := setDataPath(path, field, value)
	if err != nil {
		return err
	}
	payload, err := c.transport.Do(ctx, "GET", requestPath)
	if err != nil {
		return err
	}
	return deviceErrorFrom(payload)
}

func (c *Client) activate(ctx context.Context, control string) error {
	payload, err := c.transport.Do(ctx, "GET", activatePath(control))
	if err != nil {
		return err
	}
	return deviceErrorFrom(payload)
}

// deviceErrorFrom promotes an "error" member in a 200 JSON body to an error.
func deviceErrorFrom(payload Payload) error {
	if payload.JSON == nil {
		return nil
	}
	obj, ok := playerDataObject(payload.JSON)
	if !ok {
		return nil
	}
	if message := asString(obj["error"]); message != "" {
		return &DeviceError{Message: message}
	}
	return nil
}

// --- power and source --------------------------------------------------

// GetSource reads the physical-source field. Every successful non-standby
// read refreshes lastActiveSource.
func (c *Client) GetSource(ctx context.Context) (Source, error) {
	value, err := c.getValue(ctx, pathPhysicalSource, fieldPhysicalSource)
	if err != nil {
		return "", err
	}
	source := Source(strings.ToLower(asString(value)))
	if source == "" {
		return "", &DeviceError{Message: "empty physical source"}
	}
	if source != SourceStandby {
		c.mu.Lock()
		c.lastActiveSource = source
		c.mu.Unlock()
	}
	return source, nil
}

// SetSource writes the physical-source field. Validation against the model's
// source list is the caller's responsibility; this goes straight to the wire.
func (c *Client) SetSource(ctx context.Context, source Source) error {
	if err := c.setValue(ctx, pathPhysicalSource, fieldPhysicalSource, string(source)); err != nil {
		return err
	}
	if source != SourceStandby {
		c.mu.Lock()
		c.lastActiveSource = source
		c.mu.Unlock()
	}
	return nil
}

// GetPowerState treats any failure to answer as powered off: at this layer
// an unreachable speaker and a standby speaker are indistinguishable, and
// the polling loop owns real availability tracking.
func (c *Client) GetPowerState(ctx context.Context) bool {
	source, err := c.GetSource(ctx)
	if err != nil {
		return false
	}
	return source != SourceStandby
}

// SetPowerState powers the speaker on by re-selecting the last active
// source (the API has no power-on verb) or off by selecting standby.
func (c *Client) SetPowerState(ctx context.Context, on bool) error {
	if !on {
		return c.SetSource(ctx, SourceStandby)
	}
	c.mu.Lock()
	source := c.lastActiveSource
	c.mu.Unlock()
	return c.SetSource(ctx, source)
}

// --- volume and mute ---------------------------------------------------

// GetVolume reads the current volume. A failed read is an error, not a
// silent zero.
func (c *Client) GetVolume(ctx context.Context) (int, error) {
	volume, err := c.getInt(ctx, pathVolume)
	if err != nil {
		return 0, &VolumeReadError{Err: err}
	}
	return volume, nil
}

// SetVolume clamps to [0,100], rounds to the nearest step and writes.
// Writing a non-zero volume drops the mute shadow so the shadow invariant
// holds.
func (c *Client) SetVolume(ctx context.Context, volume float64) error {
	level := int(math.Round(volume))
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	if err := c.setValue(ctx, pathVolume, fieldI32, level); err != nil {
		return err
	}
	if level > 0 {
		c.mu.Lock()
		c.mutedShadow = false
		c.mu.Unlock()
	}
	return nil
}

// SetMuted emulates mute: the hardware has no mute primitive, so muting
// writes volume 0 and remembers the prior level for unmute.
func (c *Client) SetMuted(ctx context.Context, muted bool) error {
	if muted {
		if current, err := c.GetVolume(ctx); err == nil && current > 0 {
			c.mu.Lock()
			c.previousVolume = current
			c.mu.Unlock()
		}
		if err := c.setValue(ctx, pathVolume, fieldI32, 0); err != nil {
			return err
		}
		c.mu.Lock()
		c.mutedShadow = true
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	restore := c.previousVolume
	c.mu.Unlock()
	if restore <= 0 {
		restore = defaultUnmuteVolume
	}
	return c.SetVolume(ctx, float64(restore))
}

// GetMuted derives mute from volume and the shadow flag. Volume zero alone
// is ambiguous: the user may simply have dialed it down.
func (c *Client) GetMuted(ctx context.Context) (bool, error) {
	volume, err := c.GetVolume(ctx)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	shadow := c.mutedShadow
	c.mu.Unlock()
	return volume == 0 && shadow, nil
}

// --- transport controls ------------------------------------------------

// Play starts playback. The underlying control is a toggle whose effect
// depends on current state, so the current player state is checked first:
// the send is suppressed only when the speaker explicitly reports "playing"
// already. From paused or stopped the toggle lands on the wanted side, and
// an unknown state errs toward sending.
func (c *Client) Play(ctx context.Context) error {
	if info, err := c.GetPlaybackInfo(ctx); err == nil && info.State == "playing" {
		return nil
	}
	return c.activate(ctx, "play")
}

// Pause requests a pause. There is no state in which suppressing the send is
// provably safe (the toggle reports "paused" for both paused and never-
// started queues), so it is always sent.
func (c *Client) Pause(ctx context.Context) error {
	return c.activate(ctx, "pause")
}

// NextTrack skips forward. A rejection reported inside a 200 body surfaces
// as a DeviceError carrying the speaker's own message.
func (c *Client) NextTrack(ctx context.Context) error {
	return c.activate(ctx, "next")
}

// PreviousTrack skips backward.
func (c *Client) PreviousTrack(ctx context.Context) error {
	return c.activate(ctx, "previous")
}

// --- playback metadata -------------------------------------------------

// GetPlaybackInfo reads the player-data endpoint and normalizes whichever
// of the known payload shapes the firmware answered with. A "stopped" state
// short-circuits: there is nothing playing, so no metadata is extracted.
func (c *Client) GetPlaybackInfo(ctx context.Context) (PlaybackInfo, error) {
	data, err := c.getData(ctx, pathPlayerData)
	if err != nil {
		return PlaybackInfo{}, err
	}

	obj, ok := playerDataObject(data)
	if !ok {
		return PlaybackInfo{}, &DeviceError{Message: "unrecognized player data shape"}
	}

	state := strings.ToLower(asString(obj["state"]))
	if state == "" {
		state = "stopped"
	}
	if state == "stopped" {
		return PlaybackInfo{State: "stopped"}, nil
	}

	meta := extractTrackMetadata(obj)
	return PlaybackInfo{
		State:       state,
		Title:       meta.Title,
		Artist:      meta.Artist,
		Album:       meta.Album,
		AlbumArtURL: extractAlbumArtURL(data),
	}, nil
}

// GetAlbumArtURL returns the artwork URL from the player data, or "" when
// the payload carries none or has a shape this client does not recognize.
// Never returns an error for a decodable response.
func (c *Client) GetAlbumArtURL(ctx context.Context) (string, error) {
	data, err := c.getData(ctx, pathPlayerData)
	if err != nil {
		return "", err
	}
	return extractAlbumArtURL(data), nil
}

// --- composite reads ---------------------------------------------------

// GetAllSettings assembles a snapshot. When the speaker reports standby the
// volume, mute and DSP reads are skipped outright: the API errors on them in
// standby, and not asking is cheaper than asking and catching.
func (c *Client) GetAllSettings(ctx context.Context) (Snapshot, error) {
	source, err := c.GetSource(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snapshot := Snapshot{Source: source, Standby: source == SourceStandby}
	if snapshot.Standby {
		return snapshot, nil
	}

	volume, err := c.GetVolume(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snapshot.Volume = volume

	c.mu.Lock()
	snapshot.Muted = volume == 0 && c.mutedShadow
	c.mu.Unlock()

	if gain, err := c.getInt(ctx, pathSubwooferGain); err == nil {
		snapshot.SubwooferGain = gain
	}

	return snapshot, nil
}

// TestConnection is the liveness probe used at pairing time and on every
// poll cycle.
func (c *Client) TestConnection(ctx context.Context) bool {
	_, err := c.GetSource(ctx)
	return err == nil
}

// --- display-only playback modes ---------------------------------------

// SetRepeatMode records the UI's repeat selection. Display-only: the
// hardware neither reports nor accepts a current repeat mode.
func (c *Client) SetRepeatMode(mode string) {
	c.mu.Lock()
	c.repeatMode = mode
	c.mu.Unlock()
}

// RepeatMode returns the recorded repeat selection.
func (c *Client) RepeatMode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.repeatMode
}

// SetShuffleMode records the UI's shuffle selection. Display-only, like
// repeat.
func (c *Client) SetShuffleMode(enabled bool) {
	c.mu.Lock()
	c.shuffleMode = enabled
	c.mu.Unlock()
}

// ShuffleMode returns the recorded shuffle selection.
func (c *Client) ShuffleMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shuffleMode
}

// LastActiveSource returns the most recently observed non-standby source.
func (c *Client) LastActiveSource() Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActiveSource
}
