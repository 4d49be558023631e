package devices

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kefhub/kef-hub-go/internal/db"
	"github.com/kefhub/kef-hub-go/internal/kef"
	"github.com/kefhub/kef-hub-go/internal/models"
)

// Repository persists device records.
type Repository struct {
	db *db.DBPair
}

// NewRepository creates a device repository.
func NewRepository(pair *db.DBPair) *Repository {
	return &Repository{db: pair}
}

const deviceColumns = `device_id, name, model_id, ip, port, poll_interval_ms,
	speaker_name, speaker_model, firmware_version, serial_number,
	subwoofer_gain, last_connected_at, created_at, updated_at`

// Create inserts a new device record.
func (r *Repository) Create(ctx context.Context, record Record) error {
	_, err := r.db.Writer().ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.DeviceID, record.Name, string(record.ModelID), record.IP, record.Port,
		record.PollIntervalMs, record.SpeakerName, record.SpeakerModel,
		record.FirmwareVersion, record.SerialNumber, record.SubwooferGain,
		nullableTime(record.LastConnectedAt),
		record.CreatedAt.UTC().Format(time.RFC3339),
		record.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert device: %w", err)
	}
	return nil
}

// GetByID returns one device record, or sql.ErrNoRows.
func (r *Repository) GetByID(ctx context.Context, deviceID string) (Record, error) {
	row := r.db.Reader().QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = ?`, deviceID)
	return scanRecord(row)
}

// List returns all device records ordered by creation time.
func (r *Repository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.Reader().QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices ORDER BY created_at, device_id`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Update writes the mutable fields of a record.
func (r *Repository) Update(ctx context.Context, record Record) error {
	result, err := r.db.Writer().ExecContext(ctx, `
		UPDATE devices
		SET name = ?, ip = ?, port = ?, poll_interval_ms = ?,
			speaker_name = ?, speaker_model = ?, firmware_version = ?,
			serial_number = ?, subwoofer_gain = ?, last_connected_at = ?,
			updated_at = ?
		WHERE device_id = ?`,
		record.Name, record.IP, record.Port, record.PollIntervalMs,
		record.SpeakerName, record.SpeakerModel, record.FirmwareVersion,
		record.SerialNumber, record.SubwooferGain,
		nullableTime(record.LastConnectedAt),
		time.Now().UTC().Format(time.RFC3339),
		record.DeviceID,
	)
	if err != nil {
		return fmt.Errorf("update device: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// TouchLastConnected stamps the most recent successful poll.
func (r *Repository) TouchLastConnected(ctx context.Context, deviceID string, at time.Time) error {
	_, err := r.db.Writer().ExecContext(ctx,
		`UPDATE devices SET last_connected_at = ? WHERE device_id = ?`,
		at.UTC().Format(time.RFC3339), deviceID)
	if err != nil {
		return fmt.Errorf("touch device: %w", err)
	}
	return nil
}

// UpdateIdentity persists the speaker-reported identity fields, so renames
// and firmware updates on the speaker land in the record.
func (r *Repository) UpdateIdentity(ctx context.Context, deviceID string, info kef.SpeakerInfo) error {
	result, err := r.db.Writer().ExecContext(ctx, `
		UPDATE devices
		SET speaker_name = ?, speaker_model = ?, firmware_version = ?,
			serial_number = ?, updated_at = ?
		WHERE device_id = ?`,
		info.Name, info.Model, info.FirmwareVersion, info.SerialNumber,
		time.Now().UTC().Format(time.RFC3339), deviceID)
	if err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a device record. Availability events cascade.
func (r *Repository) Delete(ctx context.Context, deviceID string) error {
	result, err := r.db.Writer().ExecContext(ctx,
		`DELETE FROM devices WHERE device_id = ?`, deviceID)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		record        Record
		modelID       string
		lastConnected sql.NullString
		createdAt     string
		updatedAt     string
	)
	err := row.Scan(
		&record.DeviceID, &record.Name, &modelID, &record.IP, &record.Port,
		&record.PollIntervalMs, &record.SpeakerName, &record.SpeakerModel,
		&record.FirmwareVersion, &record.SerialNumber, &record.SubwooferGain,
		&lastConnected, &createdAt, &updatedAt,
	)
	if err != nil {
		return Record{}, err
	}

	record.ModelID = models.ModelID(modelID)
	if lastConnected.Valid {
		if parsed, err := time.Parse(time.RFC3339, lastConnected.String); err == nil {
			record.LastConnectedAt = &parsed
		}
	}
	if parsed, err := time.Parse(time.RFC3339, createdAt); err == nil {
		record.CreatedAt = parsed
	}
	if parsed, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		record.UpdatedAt = parsed
	}
	return record, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
