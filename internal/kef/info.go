package kef

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
)

// SpeakerInfo is the merged identity of a speaker, assembled best-effort
// from the homepage scrape and a handful of settings reads. Missing pieces
// keep their documented defaults rather than failing the whole call.
type SpeakerInfo struct {
	Name            string `json:"name"`
	Model           string `json:"model"`
	FirmwareVersion string `json:"firmware_version,omitempty"`
	SerialNumber    string `json:"serial_number,omitempty"`
}

const (
	defaultSpeakerName = "KEF Speaker"
	defaultModelName   = "Unknown"
)

// Identified reports whether any probe produced real identity data, as
// opposed to the all-defaults answer an unreachable speaker yields.
func (i SpeakerInfo) Identified() bool {
	return i.SerialNumber != "" || i.FirmwareVersion != "" ||
		i.Model != defaultModelName || i.Name != defaultSpeakerName
}

// scrapeTimeout bounds the homepage fetch. The web UI is slower than the
// control API, but an identity probe should never stall a pairing flow.
const scrapeTimeout = 3 * time.Second

var (
	// <title>KEF | LS50 Wireless II | Homepage</title>
	titleRegex = regexp.MustCompile(`<title>\s*KEF\s*\|\s*([^|<]+?)\s*\|\s*Homepage\s*</title>`)
	// "Release status: LS60W_V1.2.3" buried in the page body
	releaseStatusRegex = regexp.MustCompile(`Release status:\s*([A-Za-z0-9]+)_[^\s<"]*`)
)

// serialModelPrefixes maps serial-number prefixes to a marketing model name,
// the weakest of the three identification signals.
var serialModelPrefixes = []struct {
	prefix string
	model  string
}{
	{"LS60W", "LS60 Wireless"},
	{"LS50W2", "LS50 Wireless II"},
	{"LS50W", "LS50 Wireless"},
	{"LSX2LT", "LSX II LT"},
	{"LSX2", "LSX II"},
	{"LSX", "LSX"},
	{"XIO", "XIO"},
}

// namePlaceholders are factory values the name paths report before a user
// has named the speaker. They lose to any real value and to the default.
var namePlaceholders = map[string]struct{}{
	"":            {},
	"KEF":         {},
	"Speaker":     {},
	"KEF Speaker": {},
}

// GetSpeakerInfo fans out the homepage scrape and five settings reads
// concurrently, then merges the answers. Any individual probe may fail
// without failing the call.
func (c *Client) GetSpeakerInfo(ctx context.Context) SpeakerInfo {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		page      string
		values    = map[string]string{}
		readPaths = []string{
			pathSerialNumber,
			pathFirmwareVersion,
			pathSpeakerName,
			pathDeviceName,
			pathSystemName,
		}
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		scrapeCtx, cancel := context.WithTimeout(ctx, scrapeTimeout)
		defer cancel()
		if payload, err := c.transport.Do(scrapeCtx, "GET", "/"); err == nil {
			mu.Lock()
			page = payload.Raw
			mu.Unlock()
		}
	}()

	for _, path := range readPaths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			value, err := c.getString(ctx, path)
			if err != nil {
				return
			}
			mu.Lock()
			values[path] = value
			mu.Unlock()
		}(path)
	}

	wg.Wait()

	info := SpeakerInfo{
		Name:            defaultSpeakerName,
		Model:           defaultModelName,
		FirmwareVersion: values[pathFirmwareVersion],
		SerialNumber:    values[pathSerialNumber],
	}

	if model := modelFromPage(page); model != "" {
		info.Model = model
	} else if model := modelFromSerial(info.SerialNumber); model != "" {
		info.Model = model
	}

	// Name paths in fixed priority order; first non-placeholder wins.
	for _, path := range []string{pathSpeakerName, pathDeviceName, pathSystemName} {
		if name, ok := values[path]; ok {
			if _, placeholder := namePlaceholders[strings.TrimSpace(name)]; !placeholder {
				info.Name = strings.TrimSpace(name)
				break
			}
		}
	}

	return info
}

// modelFromPage pulls a model string out of the homepage HTML, preferring
// the title tag over the release-status fragment.
func modelFromPage(page string) string {
	if page == "" {
		return ""
	}
	if match := titleRegex.FindStringSubmatch(page); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	if match := releaseStatusRegex.FindStringSubmatch(page); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

func modelFromSerial(serial string) string {
	upper := strings.ToUpper(strings.TrimSpace(serial))
	if upper == "" {
		return ""
	}
	for _, entry := range serialModelPrefixes {
		if strings.HasPrefix(upper, entry.prefix) {
			return entry.model
		}
	}
	return ""
}
