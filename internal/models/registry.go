// Package models holds the static per-model capability and source table for
// the supported KEF speakers, plus the model-detection heuristic used at
// pairing time. The table is closed: unknown model IDs fall back to the
// generic auto entry rather than failing.
package models

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ModelID identifies one speaker model in the registry.
type ModelID string

const (
	ModelLSX2   ModelID = "kef-lsx2"
	ModelLSX2LT ModelID = "kef-lsx2lt"
	ModelLSX    ModelID = "kef-lsx"
	ModelLS50W2 ModelID = "kef-ls50w2"
	ModelLS50W  ModelID = "kef-ls50w"
	ModelLS60   ModelID = "kef-ls60"
	ModelXIO    ModelID = "kef-xio"

	// ModelAuto is the generic fallback used when detection finds nothing
	// and when an unknown ID is looked up.
	ModelAuto ModelID = "kef-auto"
)

// PowerUsage is the advertised wattage pair for energy reporting.
type PowerUsage struct {
	OnWatts      float64 `yaml:"on_watts" json:"on_watts"`
	StandbyWatts float64 `yaml:"standby_watts" json:"standby_watts"`
}

// ModelConfig describes one model's sources and platform capabilities.
type ModelConfig struct {
	ID             ModelID     `yaml:"id" json:"id"`
	Name           string      `yaml:"name" json:"name"`
	Sources        []string    `yaml:"sources" json:"sources"`
	Capabilities   []string    `yaml:"capabilities" json:"capabilities"`
	PowerUsage     *PowerUsage `yaml:"power_usage" json:"power_usage,omitempty"`
	DetectTokens   []string    `yaml:"detect_tokens" json:"-"`
	SerialPrefixes []string    `yaml:"serial_prefixes" json:"-"`
}

//go:embed models.yaml
var modelsYAML []byte

type registryFile struct {
	Models []ModelConfig `yaml:"models"`
}

var (
	configs      []ModelConfig
	configByID   map[ModelID]ModelConfig
	tokenMatches []tokenMatch
)

type tokenMatch struct {
	token string
	id    ModelID
}

func init() {
	var file registryFile
	if err := yaml.Unmarshal(modelsYAML, &file); err != nil {
		panic(fmt.Errorf("models: parse embedded table: %w", err))
	}
	if len(file.Models) == 0 {
		panic("models: embedded table is empty")
	}

	configs = file.Models
	configByID = make(map[ModelID]ModelConfig, len(configs))
	for _, cfg := range configs {
		configByID[cfg.ID] = cfg
		for _, token := range cfg.DetectTokens {
			tokenMatches = append(tokenMatches, tokenMatch{token: strings.ToLower(token), id: cfg.ID})
		}
	}
	if _, ok := configByID[ModelAuto]; !ok {
		panic("models: embedded table lacks the generic fallback entry")
	}

	// Longer tokens first so "lsx ii lt" cannot lose to "lsx".
	sort.SliceStable(tokenMatches, func(i, j int) bool {
		return len(tokenMatches[i].token) > len(tokenMatches[j].token)
	})
}

// All returns every configured model.
func All() []ModelConfig {
	result := make([]ModelConfig, len(configs))
	copy(result, configs)
	return result
}

// Lookup returns the configuration for a model ID, falling back to the
// generic entry for unknown IDs.
func Lookup(id ModelID) ModelConfig {
	if cfg, ok := configByID[id]; ok {
		return cfg
	}
	return configByID[ModelAuto]
}

// IsSourceSupported reports whether the model's source list contains the
// given source, case-insensitively.
func IsSourceSupported(id ModelID, source string) bool {
	cfg := Lookup(id)
	for _, candidate := range cfg.Sources {
		if strings.EqualFold(candidate, source) {
			return true
		}
	}
	return false
}

// Detect guesses a model ID from the free-text model string and serial
// number a speaker reports. Advisory only: the result pre-fills the pairing
// flow, and the paired device's model ID is fixed at creation.
func Detect(modelName, serialNumber string) ModelID {
	name := strings.ToLower(strings.TrimSpace(modelName))
	if name != "" {
		for _, match := range tokenMatches {
			if strings.Contains(name, match.token) {
				return match.id
			}
		}
	}

	serial := strings.ToUpper(strings.TrimSpace(serialNumber))
	if serial != "" {
		best := ModelAuto
		bestLen := 0
		for _, cfg := range configs {
			for _, prefix := range cfg.SerialPrefixes {
				if strings.HasPrefix(serial, prefix) && len(prefix) > bestLen {
					best = cfg.ID
					bestLen = len(prefix)
				}
			}
		}
		if bestLen > 0 {
			return best
		}
	}

	return ModelAuto
}
