package kef

// PlaybackInfo is one read of the "player data" endpoint, normalized.
type PlaybackInfo struct {
	State       string `json:"state"` // playing | paused | stopped
	Title       string `json:"title,omitempty"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	AlbumArtURL string `json:"album_art_url,omitempty"`
}

// Playing reports whether the speaker says something is actively playing.
func (p PlaybackInfo) Playing() bool { return p.State == "playing" }

// trackMetadata holds the fields the shape extractors compete to fill.
type trackMetadata struct {
	Title  string
	Artist string
	Album  string
}

// metadataExtractor pulls whatever fields it recognizes out of a player-data
// object. Extractors are probed in a fixed order and composed left-to-right;
// the first non-empty value per field wins. The list exists because the
// firmware has shipped at least four shapes of the same payload over the
// years, and paired speakers in the field run all of them.
type metadataExtractor func(obj map[string]any) trackMetadata

var metadataExtractors = []metadataExtractor{
	extractTrackRoles,
	extractFlatFields,
	extractMetadataKey,
	extractMetaDataKey,
}

// extractTrackRoles handles the newer shape: title under trackRoles, artist
// and album nested under trackRoles.mediaData.metaData.
func extractTrackRoles(obj map[string]any) trackMetadata {
	roles, ok := asObject(obj["trackRoles"])
	if !ok {
		return trackMetadata{}
	}
	meta := trackMetadata{Title: asString(roles["title"])}
	if mediaData, ok := asObject(roles["mediaData"]); ok {
		if inner, ok := asObject(mediaData["metaData"]); ok {
			meta.Artist = asString(inner["artist"])
			meta.Album = asString(inner["album"])
		}
	}
	return meta
}

// extractFlatFields handles top-level title/artist/album.
func extractFlatFields(obj map[string]any) trackMetadata {
	return trackMetadata{
		Title:  asString(obj["title"]),
		Artist: asString(obj["artist"]),
		Album:  asString(obj["album"]),
	}
}

func extractMetadataKey(obj map[string]any) trackMetadata {
	return extractNested(obj, "metadata")
}

func extractMetaDataKey(obj map[string]any) trackMetadata {
	return extractNested(obj, "metaData")
}

func extractNested(obj map[string]any, key string) trackMetadata {
	inner, ok := asObject(obj[key])
	if !ok {
		return trackMetadata{}
	}
	return trackMetadata{
		Title:  asString(inner["title"]),
		Artist: asString(inner["artist"]),
		Album:  asString(inner["album"]),
	}
}

// extractTrackMetadata runs the extractor chain over a player-data object.
func extractTrackMetadata(obj map[string]any) trackMetadata {
	var merged trackMetadata
	for _, extract := range metadataExtractors {
		candidate := extract(obj)
		if merged.Title == "" {
			merged.Title = candidate.Title
		}
		if merged.Artist == "" {
			merged.Artist = candidate.Artist
		}
		if merged.Album == "" {
			merged.Album = candidate.Album
		}
	}
	return merged
}

// extractAlbumArtURL digs the artwork URL out of a player-data payload.
// The payload may arrive as a bare array, as an object carrying a "data"
// member, or as the object itself. Returns "" for any shape it cannot
// recognize; artwork is strictly best-effort.
func extractAlbumArtURL(payload any) string {
	obj, ok := playerDataObject(payload)
	if !ok {
		return ""
	}
	if roles, ok := asObject(obj["trackRoles"]); ok {
		if icon := asString(roles["icon"]); icon != "" {
			return icon
		}
	}
	return asString(obj["icon"])
}

// playerDataObject unwraps the player-data payload variants down to the
// object holding state and track roles.
func playerDataObject(payload any) (map[string]any, bool) {
	switch value := payload.(type) {
	case []any:
		if len(value) == 0 {
			return nil, false
		}
		return asObject(value[0])
	case map[string]any:
		if data, ok := asObject(value["data"]); ok {
			return data, true
		}
		return value, true
	default:
		return nil, false
	}
}

func asObject(value any) (map[string]any, bool) {
	obj, ok := value.(map[string]any)
	return obj, ok
}

func asString(value any) string {
	text, _ := value.(string)
	return text
}
