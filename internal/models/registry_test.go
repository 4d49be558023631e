package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupKnownAndUnknown(t *testing.T) {
	cfg := Lookup(ModelLSX2)
	require.Equal(t, ModelLSX2, cfg.ID)
	require.Equal(t, "LSX II", cfg.Name)

	fallback := Lookup(ModelID("kef-doesnotexist"))
	require.Equal(t, ModelAuto, fallback.ID)
}

func TestIsSourceSupportedExhaustive(t *testing.T) {
	allSources := []string{"wifi", "bluetooth", "optical", "coaxial", "analog", "tv", "usb"}

	for _, cfg := range All() {
		listed := make(map[string]bool, len(cfg.Sources))
		for _, source := range cfg.Sources {
			listed[strings.ToLower(source)] = true
		}
		for _, source := range allSources {
			require.Equal(t, listed[source], IsSourceSupported(cfg.ID, source),
				"model %s source %s", cfg.ID, source)
			// Case-insensitive containment.
			require.Equal(t, listed[source], IsSourceSupported(cfg.ID, strings.ToUpper(source)),
				"model %s source %s (upper)", cfg.ID, source)
		}
	}
}

func TestXIODoesNotSupportUSB(t *testing.T) {
	require.False(t, IsSourceSupported(ModelXIO, "usb"))
	require.True(t, IsSourceSupported(ModelLSX2, "usb"))
}

func TestDetectLongerTokensWinOverShorterSiblings(t *testing.T) {
	require.Equal(t, ModelLSX2LT, Detect("KEF LSX II LT", ""))
	require.Equal(t, ModelLSX2, Detect("KEF LSX II", ""))
	require.Equal(t, ModelLSX, Detect("KEF LSX", ""))
	require.Equal(t, ModelLS50W2, Detect("LS50 Wireless II", ""))
	require.Equal(t, ModelLS50W, Detect("LS50 Wireless", ""))
	require.Equal(t, ModelLS60, Detect("LS60 Wireless", ""))
	require.Equal(t, ModelXIO, Detect("KEF XIO Soundbar", ""))
}

func TestDetectFallsBackToSerial(t *testing.T) {
	require.Equal(t, ModelLSX2LT, Detect("Unknown", "LSX2LT0012345"))
	require.Equal(t, ModelLSX2, Detect("", "LSX2G8999999"))
	require.Equal(t, ModelLS50W2, Detect("", "LS50W2AB1234"))
}

func TestDetectUnknownReturnsAuto(t *testing.T) {
	require.Equal(t, ModelAuto, Detect("", ""))
	require.Equal(t, ModelAuto, Detect("Some Other Speaker", "ZZ999"))
}

func TestEveryModelCarriesCoreCapabilities(t *testing.T) {
	core := []string{"onoff", "volume_set", "source_input"}
	for _, cfg := range All() {
		for _, capability := range core {
			require.Contains(t, cfg.Capabilities, capability, "model %s", cfg.ID)
		}
		require.NotEmpty(t, cfg.Sources, "model %s", cfg.ID)
	}
}
