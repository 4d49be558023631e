package history

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

// Service exposes the availability history and prunes it on a daily
// schedule.
type Service struct {
	repo      *Repository
	retention time.Duration
	log       *log.Logger
	cron      *cron.Cron
}

// NewService creates the history service. Retention below one day is
// rounded up to one day so the pruner never eats same-day data.
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
		s.log.Printf("history prune failed err=%v", err)
		return
	}
	if pruned > 0 {
		s.log.Printf("history pruned rows=%d cutoff=%s", pruned, cutoff.UTC().Format(time.RFC3339))
	}
}

// RecordTransition implements the device manager's TransitionRecorder.
func (s *Service) RecordTransition(ctx context.Context, deviceID, state, detail string) error {
	return s.repo.RecordTransition(ctx, deviceID, state, detail)
}

// Handler serves GET history for one device; it expects a deviceID route
// parameter.
func (s *Service) Handler() api.Handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		deviceID := chi.URLParam(r, "deviceID")
		entries, err := s.repo.ListByDevice(r.Context(), deviceID, parseLimit(r))
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []Entry{}
		}
		return api.WriteList(w, r.URL.Path, entries, false)
	}
}

func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return limit
}
