package kef

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// The four player-data shapes observed across firmware generations, all
// carrying the same logical content.
func playerDataShapes() map[string]map[string]any {
	return map[string]map[string]any{
		"flat": {
			"state":  "playing",
			"title":  "Blue in Green",
			"artist": "Miles Davis",
			"album":  "Kind of Blue",
		},
		"trackRoles": {
			"state": "playing",
			"trackRoles": map[string]any{
				"title": "Blue in Green",
				"mediaData": map[string]any{
					"metaData": map[string]any{
						"artist": "Miles Davis",
						"album":  "Kind of Blue",
					},
				},
			},
		},
		"metadata": {
			"state": "playing",
			"metadata": map[string]any{
				"title":  "Blue in Green",
				"artist": "Miles Davis",
				"album":  "Kind of Blue",
			},
		},
		"metaData": {
			"state": "playing",
			"metaData": map[string]any{
				"title":  "Blue in Green",
				"artist": "Miles Davis",
				"album":  "Kind of Blue",
			},
		},
	}
}

func TestGetPlaybackInfoAcrossShapes(t *testing.T) {
	for name, shape := range playerDataShapes() {
		t.Run(name, func(t *testing.T) {
			sim := &speakerSim{source: "wifi", player: shape}
			client, _ := newSimClient(t, sim)

			info, err := client.GetPlaybackInfo(context.Background())
			require.NoError(t, err)
			require.Equal(t, "playing", info.State)
			require.Equal(t, "Blue in Green", info.Title)
			require.Equal(t, "Miles Davis", info.Artist)
			require.Equal(t, "Kind of Blue", info.Album)
		})
	}
}

func TestGetPlaybackInfoStoppedShortCircuits(t *testing.T) {
	sim := &speakerSim{source: "wifi", player: map[string]any{
		"state": "stopped",
		// Leftover metadata from the previous track must not leak through.
		"title": "Stale Track",
	}}
	client, _ := newSimClient(t, sim)

	info, err := client.GetPlaybackInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "stopped", info.State)
	require.Empty(t, info.Title)
	require.False(t, info.Playing())
}

func TestExtractorOrderFirstMatchWins(t *testing.T) {
	// trackRoles is probed before the flat fields; its title must win.
	obj := map[string]any{
		"title": "Flat Title",
		"trackRoles": map[string]any{
			"title": "Roles Title",
		},
		"metadata": map[string]any{
			"artist": "Metadata Artist",
		},
	}
	meta := extractTrackMetadata(obj)
	require.Equal(t, "Roles Title", meta.Title)
	require.Equal(t, "Metadata Artist", meta.Artist)
	require.Empty(t, meta.Album)
}

func TestExtractAlbumArtURLShapes(t *testing.T) {
	icon := "http://10.0.0.5/art/cover.jpg"

	cases := map[string]any{
		"bare array":       []any{map[string]any{"trackRoles": map[string]any{"icon": icon}}},
		"object with data": map[string]any{"data": map[string]any{"trackRoles": map[string]any{"icon": icon}}},
		"object itself":    map[string]any{"trackRoles": map[string]any{"icon": icon}},
		"top-level icon":   map[string]any{"icon": icon},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, icon, extractAlbumArtURL(payload))
		})
	}
}

func TestExtractAlbumArtURLUnrecognizedShapes(t *testing.T) {
	require.Empty(t, extractAlbumArtURL(nil))
	require.Empty(t, extractAlbumArtURL("just a string"))
	require.Empty(t, extractAlbumArtURL([]any{}))
	require.Empty(t, extractAlbumArtURL(map[string]any{"state": "playing"}))
	require.Empty(t, extractAlbumArtURL(42.0))
}
