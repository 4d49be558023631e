// Package audit keeps a trail of control operations: who asked a device
// to do what, and whether the speaker took it. Entries carry no foreign
// key so the trail survives unpairing.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kefhub/kef-hub-go/internal/db"
)

// Actions recorded in the audit trail.
const (
	ActionPair           = "pair"
	ActionUnpair         = "unpair"
	ActionSettingsUpdate = "settings_update"
	ActionCommand        = "command"
)

// Outcomes of an audited action.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// Entry is one recorded control operation.
type Entry struct {
	ID        int64          `json:"id"`
	DeviceID  string         `json:"device_id"`
	Action    string         `json:"action"`
	Outcome   string         `json:"outcome"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Query filters a trail listing. Zero values mean no filter.
type Query struct {
	DeviceID string
	Action   string
	Limit    int
}

// Repository persists audit entries.
type Repository struct {
	db *db.DBPair
}

// NewRepository creates an audit repository.
func NewRepository(pair *db.DBPair) *Repository {
	return &Repository{db: pair}
}

// Record appends one entry to the trail.
func (r *Repository) Record(ctx context.Context, deviceID, action, outcome string, detail map[string]any) error {
	detailJSON := []byte("{}")
	if len(detail) > 0 {
		encoded, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("encode audit detail: %w", err)
		}
		detailJSON = encoded
	}

	_, err := r.db.Writer().ExecContext(ctx, `
		INSERT INTO audit_log (device_id, action, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		deviceID, action, outcome, string(detailJSON), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// List returns trail entries matching the query, newest first.
func (r *Repository) List(ctx context.Context, q Query) ([]Entry, error) {
	limit := q.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, device_id, action, outcome, detail, created_at
		FROM audit_log
		WHERE 1=1`
	args := []any{}
	if q.DeviceID != "" {
		query += " AND device_id = ?"
		args = append(args, q.DeviceID)
	}
	if q.Action != "" {
		query += " AND action = ?"
		args = append(args, q.Action)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Reader().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var detail, createdAt string
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &entry.Action, &entry.Outcome, &detail, &createdAt); err != nil {
			return nil, err
		}
		if detail != "" && detail != "{}" {
			_ = json.Unmarshal([]byte(detail), &entry.Detail)
		}
		if parsed, err := time.Parse(time.RFC3339, createdAt); err == nil {
			entry.CreatedAt = parsed
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// PruneOlderThan deletes entries recorded before the cutoff and returns
// how many rows went.
func (r *Repository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Writer().ExecContext(ctx,
		`DELETE FROM audit_log WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	return result.RowsAffected()
}
