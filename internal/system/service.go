package system

import (
	"context"
	"log"
	"runtime"
	"time"

	"github.com/kefhub/kef-hub-go/internal/db"
	"github.com/kefhub/kef-hub-go/internal/devices"
)

// Version is the hub version, set at build time or defaulted.
var Version = "1.0.0"

// Service provides hub status information. Read-only.
type Service struct {
	logger    *log.Logger
	db        *db.DBPair
	manager   *devices.Manager
	startTime time.Time
}

// NewService creates a new system service.
func NewService(pair *db.DBPair, manager *devices.Manager, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		logger:    logger,
		db:        pair,
		manager:   manager,
		startTime: time.Now(),
	}
}

// Status holds hub status information.
type Status struct {
	HubVersion       string  `json:"hub_version"`
	UptimeSeconds    int64   `json:"uptime_seconds"`
	MemoryMB         float64 `json:"memory_mb"`
	SQLiteConnected  bool    `json:"sqlite_connected"`
	DevicesTotal     int     `json:"devices_total"`
	DevicesAvailable int     `json:"devices_available"`
}

// GetStatus assembles the current status snapshot.
func (s *Service) GetStatus(ctx context.Context) (Status, error) {
	status := Status{
		HubVersion:      Version,
		UptimeSeconds:   int64(time.Since(s.startTime).Seconds()),
		SQLiteConnected: s.db.Reader().PingContext(ctx) == nil,
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	status.MemoryMB = float64(memStats.Alloc) / (1024 * 1024)

	views, err := s.manager.List(ctx)
	if err != nil {
		return Status{}, err
	}
	status.DevicesTotal = len(views)
	for _, view := range views {
		if view.Availability == devices.StateAvailable {
			status.DevicesAvailable++
		}
	}

	return status, nil
}
