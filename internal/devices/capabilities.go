package devices

import (
	"github.com/kefhub/kef-hub-go/internal/kef"
	"github.com/kefhub/kef-hub-go/internal/models"
)

// coreCapabilities must survive reconciliation no matter what the model
// table says; without them a paired device is uncontrollable.
var coreCapabilities = []string{CapOnOff, CapVolumeSet, CapSourceInput}

// reconcileCapabilities returns the model's capability list with the core
// set guaranteed present, preserving the table's order and de-duplicating.
func reconcileCapabilities(listed []string) []string {
	seen := make(map[string]bool, len(listed)+len(coreCapabilities))
	result := make([]string, 0, len(listed)+len(coreCapabilities))
	for _, capability := range listed {
		if !seen[capability] {
			seen[capability] = true
			result = append(result, capability)
		}
	}
	for _, capability := range coreCapabilities {
		if !seen[capability] {
			seen[capability] = true
			result = append(result, capability)
		}
	}
	return result
}

// playbackSources are the inputs with real track metadata and artwork. On
// every other input the speaker replays whatever its network player last
// held, which must not be shown as current.
func isPlaybackSource(source kef.Source) bool {
	return source == kef.SourceWifi || source == kef.SourceBluetooth
}

// capabilityValues translates one polled snapshot into the capability map a
// platform consumes. Only capabilities the model advertises (plus the core
// set) are emitted. In standby everything except the power state is omitted:
// the underlying reads were skipped and stale values must not leak through.
func capabilityValues(cfg models.ModelConfig, snapshot kef.Snapshot, playback kef.PlaybackInfo, shuffle bool, repeat string) map[string]any {
	supported := make(map[string]bool)
	for _, capability := range reconcileCapabilities(cfg.Capabilities) {
		supported[capability] = true
	}

	values := map[string]any{CapOnOff: !snapshot.Standby}
	if snapshot.Standby {
		return values
	}

	if supported[CapVolumeSet] {
		values[CapVolumeSet] = snapshot.Volume
	}
	if supported[CapVolumeMute] {
		values[CapVolumeMute] = snapshot.Muted
	}
	if supported[CapSourceInput] {
		values[CapSourceInput] = string(snapshot.Source)
	}
	if supported[CapSpeakerPlaying] {
		values[CapSpeakerPlaying] = playback.State == "playing"
	}
	if isPlaybackSource(snapshot.Source) {
		if supported[CapSpeakerTrack] {
			values[CapSpeakerTrack] = playback.Title
		}
		if supported[CapSpeakerArtist] {
			values[CapSpeakerArtist] = playback.Artist
		}
		if supported[CapSpeakerAlbum] {
			values[CapSpeakerAlbum] = playback.Album
		}
	}
	if supported[CapSpeakerShuffle] {
		values[CapSpeakerShuffle] = shuffle
	}
	if supported[CapSpeakerRepeat] {
		values[CapSpeakerRepeat] = repeat
	}

	return values
}
