package history

import (
	"context"
	"fmt"
	"time"

	"github.com/kefhub/kef-hub-go/internal/db"
)

// Entry is one recorded availability transition.
type Entry struct {
	ID         int64     `json:"id"`
	DeviceID   string    `json:"device_id"`
	State      string    `json:"state"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Repository persists availability transitions.
type Repository struct {
	db *db.DBPair
}

// NewRepository creates a history repository.
func NewRepository(pair *db.DBPair) *Repository {
	return &Repository{db: pair}
}

// RecordTransition appends one availability transition for a device.
func (r *Repository) RecordTransition(ctx context.Context, deviceID, state, detail string) error {
	_, err := r.db.Writer().ExecContext(ctx, `
		INSERT INTO availability_events (device_id, state, detail, occurred_at)
		VALUES (?, ?, ?, ?)`,
		deviceID, state, detail, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// ListByDevice returns a device's transitions, newest first.
func (r *Repository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.db.Reader().QueryContext(ctx, `
		SELECT id, device_id, state, detail, occurred_at
		FROM availability_events
		WHERE device_id = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var occurredAt string
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &entry.State, &entry.Detail, &occurredAt); err != nil {
			return nil, err
		}
		if parsed, err := time.Parse(time.RFC3339, occurredAt); err == nil {
			entry.OccurredAt = parsed
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PruneOlderThan deletes transitions recorded before the cutoff and returns
// how many rows went.
func (r *Repository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Writer().ExecContext(ctx,
		`DELETE FROM availability_events WHERE occurred_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("prune transitions: %w", err)
	}
	return result.RowsAffected()
}
