package kef

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Key paths in the speaker's settings tree. The control API is a generic
// get/set accessor over these, plus an "activate" call for transport
// controls.
const (
	pathPhysicalSource  = "settings:/kef/play/physicalSource"
	pathVolume          = "player:volume"
	pathPlayerData      = "player:player/data"
	pathPlayerControl   = "player:player/control"
	pathSerialNumber    = "settings:/kef/host/serialNumber"
	pathFirmwareVersion = "settings:/kef/host/firmwareVersion"
	pathSpeakerName     = "settings:/kef/host/speakerName"
	pathDeviceName      = "settings:/deviceName"
	pathSystemName      = "settings:/system/deviceName"
	pathSubwooferGain   = "settings:/kef/dsp/subwooferGain"
)

// Typed field names the API uses inside getData/setData payloads. The field
// name depends on the path, not on the value.
const (
	fieldPhysicalSource = "kefPhysicalSource"
	fieldI32            = "i32_"
	fieldString         = "string_"
)

// getDataPath builds the URL for a read of one key path.
func getDataPath(path string) string {
	query := url.Values{}
	query.Set("path", path)
	query.Set("roles", "value")
	return "/api/getData?" + query.Encode()
}

// setDataPath builds the URL for a write of one key path. The value payload
// must keep the wire shape {"type":"<field>","<field>":<value>} with "type"
// first; the speaker has been observed to reject reordered keys.
func setDataPath(path, field string, value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	payload := fmt.Sprintf(`{"type":%q,%q:%s}`, field, field, encoded)

	query := url.Values{}
	query.Set("path", path)
	query.Set("roles", "value")
	query.Set("value", payload)
	return "/api/setData?" + query.Encode(), nil
}

// activatePath builds the URL for a transport-control activation
// (play/pause/next/previous).
func activatePath(control string) string {
	query := url.Values{}
	query.Set("path", pathPlayerControl)
	query.Set("roles", "activate")
	query.Set("value", fmt.Sprintf(`{"control":%q}`, control))
	return "/api/setData?" + query.Encode()
}
