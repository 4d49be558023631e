package kef

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// infoSim serves the homepage plus the five identity key paths.
type infoSim struct {
	t      *testing.T
	page   string
	values map[string]string // key path -> string value, missing = failure
}

func (s *infoSim) handler(_ string, requestPath string) (Payload, error) {
	parsed, err := url.Parse(requestPath)
	if err != nil {
		return Payload{}, err
	}
	if parsed.Path == "/" {
		if s.page == "" {
			return Payload{}, &TransportError{Op: "GET /", Err: errors.New("timeout")}
		}
		return Payload{Raw: s.page}, nil
	}

	keyPath := parsed.Query().Get("path")
	value, ok := s.values[keyPath]
	if !ok {
		return Payload{}, &TransportError{Op: keyPath, Err: errors.New("unreachable")}
	}
	return jsonPayload(s.t, []any{map[string]any{"type": fieldString, fieldString: value}}), nil
}

func infoClient(t *testing.T, sim *infoSim) *Client {
	sim.t = t
	return NewClientWithTransport(&fakeTransport{handler: sim.handler})
}

func TestSpeakerInfoPrefersPageTitle(t *testing.T) {
	client := infoClient(t, &infoSim{
		page: `<html><head><title>KEF | LS50 Wireless II | Homepage</title></head></html>`,
		values: map[string]string{
			pathSerialNumber:    "LSX2G8123456",
			pathFirmwareVersion: "V2.3",
			pathSpeakerName:     "Living Room",
		},
	})

	info := client.GetSpeakerInfo(context.Background())
	require.Equal(t, "LS50 Wireless II", info.Model)
	require.Equal(t, "Living Room", info.Name)
	require.Equal(t, "V2.3", info.FirmwareVersion)
	require.Equal(t, "LSX2G8123456", info.SerialNumber)
}

func TestSpeakerInfoFallsBackToReleaseStatus(t *testing.T) {
	client := infoClient(t, &infoSim{
		page:   `<html><body>Release status: LS60W_V1.7.2</body></html>`,
		values: map[string]string{},
	})

	info := client.GetSpeakerInfo(context.Background())
	require.Equal(t, "LS60W", info.Model)
}

func TestSpeakerInfoFallsBackToSerialPrefix(t *testing.T) {
	client := infoClient(t, &infoSim{
		values: map[string]string{
			pathSerialNumber: "LSX2LT0012345",
		},
	})

	info := client.GetSpeakerInfo(context.Background())
	require.Equal(t, "LSX II LT", info.Model)
}

func TestSpeakerInfoNamePriorityOrder(t *testing.T) {
	// speakerName is a placeholder, so deviceName must win over systemName.
	client := infoClient(t, &infoSim{
		values: map[string]string{
			pathSpeakerName: "KEF",
			pathDeviceName:  "Study LSX",
			pathSystemName:  "Other Name",
		},
	})

	info := client.GetSpeakerInfo(context.Background())
	require.Equal(t, "Study LSX", info.Name)
}

func TestSpeakerInfoDefaultsWhenEverythingFails(t *testing.T) {
	client := infoClient(t, &infoSim{values: map[string]string{}})

	info := client.GetSpeakerInfo(context.Background())
	require.Equal(t, defaultSpeakerName, info.Name)
	require.Equal(t, defaultModelName, info.Model)
	require.Empty(t, info.FirmwareVersion)
	require.Empty(t, info.SerialNumber)
}

func TestModelFromSerialOrdering(t *testing.T) {
	// Longer prefixes must win over their shorter siblings.
	require.Equal(t, "LSX II LT", modelFromSerial("LSX2LT999"))
	require.Equal(t, "LSX II", modelFromSerial("LSX2G8999"))
	require.Equal(t, "LSX", modelFromSerial("LSX1A999"))
	require.Equal(t, "LS50 Wireless II", modelFromSerial("LS50W2B999"))
	require.Equal(t, "LS50 Wireless", modelFromSerial("LS50W1B999"))
	require.Empty(t, modelFromSerial("ZZ123"))
	require.Empty(t, modelFromSerial(""))
}

func TestModelFromPagePatterns(t *testing.T) {
	require.Equal(t, "LSX II", modelFromPage("<title>KEF | LSX II | Homepage</title>"))
	require.Equal(t, "XIO", modelFromPage("blah Release status: XIO_V0.9 blah"))
	require.Empty(t, modelFromPage("<title>Something else</title>"))
	require.Empty(t, modelFromPage(""))
	// Title wins when both are present.
	both := "<title>KEF | LS60 Wireless | Homepage</title> Release status: LSX2_V1"
	require.True(t, strings.HasPrefix(modelFromPage(both), "LS60"))
}
