package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

const deviceColumns = `id, name, type, location, is_online, is_public, owner_id, current_state, created_at, updated_at`

// DeviceStore persists the device registry and its live state.
type DeviceStore interface {
	GetByID(ctx context.Context, id int64) (models.Device, error)
	ListAll(ctx context.Context) ([]models.Device, error)
	ListVisible(ctx context.Context, userID int64, admin bool) ([]models.Device, error)
	Create(ctx context.Context, device models.Device) (models.Device, error)
	Update(ctx context.Context, device models.Device) (models.Device, error)
	Delete(ctx context.Context, id int64) error
	ApplyState(ctx context.Context, id int64, patch models.StateMap) (models.Device, error)
	MergeState(ctx context.Context, id int64, patch models.StateMap) (models.Device, error)
	SetOnline(ctx context.Context, id int64, online bool) error
	Signature(ctx context.Context) (string, error)
}

type SQLDeviceStore struct {
	db *sql.DB
}

func NewDeviceStore(db *sql.DB) *SQLDeviceStore {
	return &SQLDeviceStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(row rowScanner) (models.Device, error) {
	var device models.Device
	err := row.Scan(
		&device.ID,
		&device.Name,
		&device.Type,
		&device.Location,
		&device.IsOnline,
		&device.IsPublic,
		&device.OwnerID,
		&device.CurrentState,
		&device.CreatedAt,
		&device.UpdatedAt,
	)
	if err != nil {
		return models.Device{}, err
	}
	device.TypeDisplay = models.DeviceTypeDisplay(device.Type)
	return device, nil
}

func (s *SQLDeviceStore) GetByID(ctx context.Context, id int64) (models.Device, error) {
	if s == nil || s.db == nil {
		return models.Device{}, errors.New("device store unavailable")
	}

	device, err := scanDevice(s.db.QueryRowContext(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Device{}, fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Device{}, fmt.Errorf("get device: %w", err)
	}
	return device, nil
}

func (s *SQLDeviceStore) ListAll(ctx context.Context) ([]models.Device, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("device store unavailable")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	return collectDevices(rows)
}

func (s *SQLDeviceStore) ListVisible(ctx context.Context, userID int64, admin bool) ([]models.Device, error) {
	if admin {
		return s.ListAll(ctx)
	}
	if s == nil || s.db == nil {
		return nil, errors.New("device store unavailable")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceColumns+`
		FROM devices
		WHERE owner_id = $1 OR is_public = TRUE
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list visible devices: %w", err)
	}
	defer rows.Close()

	return collectDevices(rows)
}

func collectDevices(rows *sql.Rows) ([]models.Device, error) {
	var devices []models.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}

func (s *SQLDeviceStore) Create(ctx context.Context, device models.Device) (models.Device, error) {
	if s == nil || s.db == nil {
		return models.Device{}, errors.New("device store unavailable")
	}
	if device.Name == "" {
		return models.Device{}, errors.New("device name is required")
	}
	if device.Type == "" {
		return models.Device{}, errors.New("device type is required")
	}
	if device.CurrentState == nil {
		device.CurrentState = models.StateMap{}
	}

	created, err := scanDevice(s.db.QueryRowContext(ctx, `
		INSERT INTO devices (name, type, location, is_online, is_public, owner_id, current_state, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, $4, $5, $6, NOW(), NOW())
		RETURNING `+deviceColumns+`
	`,
		device.Name,
		device.Type,
		device.Location,
		device.IsPublic,
		device.OwnerID,
		device.CurrentState,
	))
	if err != nil {
		return models.Device{}, fmt.Errorf("insert device: %w", err)
	}
	return created, nil
}

func (s *SQLDeviceStore) Update(ctx context.Context, device models.Device) (models.Device, error) {
	if s == nil || s.db == nil {
		return models.Device{}, errors.New("device store unavailable")
	}

	updated, err := scanDevice(s.db.QueryRowContext(ctx, `
		UPDATE devices
		SET name = $2,
			type = $3,
			location = $4,
			is_public = $5,
			owner_id = $6,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+deviceColumns+`
	`,
		device.ID,
		device.Name,
		device.Type,
		device.Location,
		device.IsPublic,
		device.OwnerID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Device{}, fmt.Errorf("device %d: %w", device.ID, ErrNotFound)
	}
	if err != nil {
		return models.Device{}, fmt.Errorf("update device: %w", err)
	}
	return updated, nil
}

func (s *SQLDeviceStore) Delete(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return errors.New("device store unavailable")
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	return nil
}

// ApplyState merges the reported payload into current_state and marks the
// device online in one UPDATE, so concurrent gateway workers and scene
// actions never clobber each other's keys.
func (s *SQLDeviceStore) ApplyState(ctx context.Context, id int64, patch models.StateMap) (models.Device, error) {
	if s == nil || s.db == nil {
		return models.Device{}, errors.New("device store unavailable")
	}

	device, err := scanDevice(s.db.QueryRowContext(ctx, `
		UPDATE devices
		SET current_state = current_state || $2::jsonb,
			is_online = TRUE,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+deviceColumns+`
	`, id, patch))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Device{}, fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Device{}, fmt.Errorf("apply device state: %w", err)
	}
	return device, nil
}

// MergeState merges a command payload into current_state without touching
// is_online. Used by the HTTP command path and scene actions.
func (s *SQLDeviceStore) MergeState(ctx context.Context, id int64, patch models.StateMap) (models.Device, error) {
	if s == nil || s.db == nil {
		return models.Device{}, errors.New("device store unavailable")
	}

	device, err := scanDevice(s.db.QueryRowContext(ctx, `
		UPDATE devices
		SET current_state = current_state || $2::jsonb,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+deviceColumns+`
	`, id, patch))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Device{}, fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Device{}, fmt.Errorf("merge device state: %w", err)
	}
	return device, nil
}

func (s *SQLDeviceStore) SetOnline(ctx context.Context, id int64, online bool) error {
	if s == nil || s.db == nil {
		return errors.New("device store unavailable")
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE devices
		SET is_online = $2,
			updated_at = NOW()
		WHERE id = $1
	`, id, online)
	if err != nil {
		return fmt.Errorf("set device online: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set device online: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("device %d: %w", id, ErrNotFound)
	}
	return nil
}

// Signature returns a cheap change marker over the device table, used by the
// realtime fan-out to decide whether to re-send the device list.
func (s *SQLDeviceStore) Signature(ctx context.Context) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("device store unavailable")
	}

	var count int64
	var maxUpdated time.Time
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(updated_at), 'epoch'::timestamptz)
		FROM devices
	`).Scan(&count, &maxUpdated)
	if err != nil {
		return "", fmt.Errorf("device signature: %w", err)
	}
	return fmt.Sprintf("%d|%d", count, maxUpdated.UnixNano()), nil
}
