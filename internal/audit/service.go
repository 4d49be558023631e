package audit

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"

	"github.com/kefhub/kef-hub-go/internal/api"
)

// Service exposes the audit trail and prunes it on a daily schedule.
type Service struct {
	repo      *Repository
	retention time.Duration
	log       *log.Logger
	cron      *cron.Cron
}

// NewService creates the audit service. Retention below one day is rounded
// up to one day.
func NewService(repo *Repository, retentionDays int, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	if retentionDays < 1 {
		retentionDays = 1
	}
	return &Service{
		repo:      repo,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       logger,
		cron:      cron.New(),
	}
}

// Start schedules the daily prune job.
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc("@daily", s.prune); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the prune schedule.
func (s *Service) Stop() {
	s.cron.Stop()
}

func (s *Service) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.retention)
	pruned, err := s.repo.PruneOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Printf("audit prune failed err=%v", err)
		return
	}
	if pruned > 0 {
		s.log.Printf("audit pruned rows=%d cutoff=%s", pruned, cutoff.UTC().Format(time.RFC3339))
	}
}

// RecordAction implements the device manager's AuditRecorder.
func (s *Service) RecordAction(ctx context.Context, deviceID, action, outcome string, detail map[string]any) error {
	return s.repo.Record(ctx, deviceID, action, outcome, detail)
}

// RegisterRoutes wires the trail listing to the router.
func (s *Service) RegisterRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/audit", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		q := Query{
			DeviceID: r.URL.Query().Get("device_id"),
			Action:   r.URL.Query().Get("action"),
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil {
				q.Limit = parsed
			}
		}

		entries, err := s.repo.List(r.Context(), q)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []Entry{}
		}
		return api.WriteList(w, r.URL.Path, entries, false)
	}))
}
