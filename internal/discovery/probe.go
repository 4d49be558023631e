package discovery

import (
	"context"
	"time"

	"github.com/kefhub/kef-hub-go/internal/kef"
	"github.com/kefhub/kef-hub-go/internal/models"
)

// Candidate is an unpaired speaker found on the network, enough to pre-fill
// a pairing request.
type Candidate struct {
	IP              string         `json:"ip"`
	Name            string         `json:"name"`
	Model           string         `json:"model"`
	ModelID         models.ModelID `json:"model_id"`
	FirmwareVersion string         `json:"firmware_version,omitempty"`
	SerialNumber    string         `json:"serial_number,omitempty"`
	DiscoveredAt    time.Time      `json:"discovered_at"`
}

// ProbeSpeaker checks whether a KEF speaker answers at the given IP and
// reads its identity. A host that does not speak the control API returns
// nil: SSDP surfaces plenty of renderers that are not speakers.
func ProbeSpeaker(ctx context.Context, ip string, timeout time.Duration) *Candidate {
	client := kef.NewClient(kef.Endpoint{Host: ip, Timeout: timeout})
	if !client.TestConnection(ctx) {
		return nil
	}

	info := client.GetSpeakerInfo(ctx)
	return &Candidate{
		IP:              ip,
		Name:            info.Name,
		Model:           info.Model,
		ModelID:         models.Detect(info.Model, info.SerialNumber),
		FirmwareVersion: info.FirmwareVersion,
		SerialNumber:    info.SerialNumber,
		DiscoveredAt:    time.Now().UTC(),
	}
}
