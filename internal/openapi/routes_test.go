package openapi

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestEmbeddedSpecParses(t *testing.T) {
	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(specYAML, &parsed))
	require.Equal(t, "3.0.3", parsed["openapi"])

	paths, ok := parsed["paths"].(map[string]any)
	require.True(t, ok)
	for _, path := range []string{
		"/v1/health",
		"/v1/devices",
		"/v1/devices/{deviceID}/commands/{capability}",
		"/v1/discovery",
		"/v1/audit",
		"/v1/system/status",
	} {
		require.Contains(t, paths, path)
	}
}
