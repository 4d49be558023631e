package devices

import (
	"context"
	"time"

	"github.com/kefhub/kef-hub-go/internal/kef"
	"github.com/kefhub/kef-hub-go/internal/models"
)

// AvailabilityState is the lifecycle state of a paired device.
type AvailabilityState string

const (
	// StateConnecting is the initial state before the first poll verdict.
	StateConnecting AvailabilityState = "connecting"
	StateAvailable  AvailabilityState = "available"
	// StateUnavailable is entered only after the consecutive-failure
	// threshold is crossed; a single failed poll never flips a device.
	StateUnavailable AvailabilityState = "unavailable"
)

// Capability identifiers exposed to the platform surface.
const (
	CapOnOff          = "onoff"
	CapVolumeSet      = "volume_set"
	CapVolumeMute     = "volume_mute"
	CapSourceInput    = "source_input"
	CapSpeakerPlaying = "speaker_playing"
	CapSpeakerNext    = "speaker_next"
	CapSpeakerPrev    = "speaker_prev"
	CapSpeakerTrack   = "speaker_track"
	CapSpeakerArtist  = "speaker_artist"
	CapSpeakerAlbum   = "speaker_album"
	CapSpeakerShuffle = "speaker_shuffle"
	CapSpeakerRepeat  = "speaker_repeat"
)

// Record is one paired device as persisted.
type Record struct {
	DeviceID        string         `json:"device_id"`
	Name            string         `json:"name"`
	ModelID         models.ModelID `json:"model_id"`
	IP              string         `json:"ip"`
	Port            int            `json:"port"`
	PollIntervalMs  int            `json:"poll_interval_ms"`
	SpeakerName     string         `json:"speaker_name,omitempty"`
	SpeakerModel    string         `json:"speaker_model,omitempty"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	SerialNumber    string         `json:"serial_number,omitempty"`
	SubwooferGain   int            `json:"subwoofer_gain"`
	LastConnectedAt *time.Time     `json:"last_connected_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Device is the API view of a record plus its live availability.
type Device struct {
	Record
	Availability AvailabilityState `json:"availability"`
	Capabilities []string          `json:"capabilities"`
}

// PairRequest is the payload for pairing a new speaker.
type PairRequest struct {
	Name           string `json:"name"`
	IP             string `json:"ip"`
	Port           int    `json:"port"`
	ModelID        string `json:"model_id,omitempty"`
	PollIntervalMs int    `json:"poll_interval_ms,omitempty"`
}

// SettingsUpdate carries the mutable device settings. Nil fields are left
// unchanged. Updates are always accepted, reachable or not.
type SettingsUpdate struct {
	Name           *string `json:"name,omitempty"`
	IP             *string `json:"ip,omitempty"`
	Port           *int    `json:"port,omitempty"`
	PollIntervalMs *int    `json:"poll_interval_ms,omitempty"`
}

// State is the latest polled view of one device, written by its poller and
// served from cache so reads never touch the speaker.
type State struct {
	DeviceID     string            `json:"device_id"`
	Availability AvailabilityState `json:"availability"`
	Snapshot     kef.Snapshot      `json:"snapshot"`
	Playback     kef.PlaybackInfo  `json:"playback"`
	AlbumArtURL  string            `json:"album_art_url,omitempty"`
	Capabilities map[string]any    `json:"capabilities"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Event is a single change notification fanned out to the push surfaces.
type Event struct {
	DeviceID   string            `json:"device_id"`
	Type       string            `json:"type"` // "availability" or "capability"
	State      AvailabilityState `json:"state,omitempty"`
	Capability string            `json:"capability,omitempty"`
	Value      any               `json:"value,omitempty"`
	At         time.Time         `json:"at"`
}

// EventSink receives events from pollers and the manager. Implementations
// must not block; slow consumers drop rather than stall polling.
type EventSink interface {
	Publish(event Event)
}

// TransitionRecorder persists availability transitions for the history log.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, deviceID string, state, detail string) error
}

// AuditRecorder persists control operations for the audit trail.
type AuditRecorder interface {
	RecordAction(ctx context.Context, deviceID, action, outcome string, detail map[string]any) error
}
