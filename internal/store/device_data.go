package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

const deviceDataColumns = `id, device_id, timestamp, data`

// DeviceDataStore persists the append-only telemetry history.
type DeviceDataStore interface {
	Insert(ctx context.Context, deviceID int64, timestamp time.Time, data models.StateMap) error
	HistoryAsc(ctx context.Context, deviceID int64, since time.Time) ([]models.DeviceData, error)
	HistoryRange(ctx context.Context, deviceID int64, start, end time.Time) ([]models.DeviceData, error)
	LastBefore(ctx context.Context, deviceID int64, t time.Time) (models.DeviceData, error)
}

type SQLDeviceDataStore struct {
	db *sql.DB
}

func NewDeviceDataStore(db *sql.DB) *SQLDeviceDataStore {
	return &SQLDeviceDataStore{db: db}
}

func (s *SQLDeviceDataStore) Insert(ctx context.Context, deviceID int64, timestamp time.Time, data models.StateMap) error {
	if s == nil || s.db == nil {
		return errors.New("device data store unavailable")
	}
	if data == nil {
		data = models.StateMap{}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_data (device_id, timestamp, data)
		VALUES ($1, $2, $3)
	`, deviceID, timestamp, data)
	if err != nil {
		return fmt.Errorf("insert device data: %w", err)
	}
	return nil
}

func (s *SQLDeviceDataStore) HistoryAsc(ctx context.Context, deviceID int64, since time.Time) ([]models.DeviceData, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("device data store unavailable")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceDataColumns+`
		FROM device_data
		WHERE device_id = $1 AND timestamp >= $2
		ORDER BY timestamp ASC
	`, deviceID, since)
	if err != nil {
		return nil, fmt.Errorf("device history: %w", err)
	}
	defer rows.Close()

	return collectDeviceData(rows)
}

func (s *SQLDeviceDataStore) HistoryRange(ctx context.Context, deviceID int64, start, end time.Time) ([]models.DeviceData, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("device data store unavailable")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deviceDataColumns+`
		FROM device_data
		WHERE device_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC
	`, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("device history range: %w", err)
	}
	defer rows.Close()

	return collectDeviceData(rows)
}

// LastBefore returns the newest row strictly older than t, the baseline for
// energy integration windows.
func (s *SQLDeviceDataStore) LastBefore(ctx context.Context, deviceID int64, t time.Time) (models.DeviceData, error) {
	if s == nil || s.db == nil {
		return models.DeviceData{}, errors.New("device data store unavailable")
	}

	var point models.DeviceData
	err := s.db.QueryRowContext(ctx, `
		SELECT `+deviceDataColumns+`
		FROM device_data
		WHERE device_id = $1 AND timestamp < $2
		ORDER BY timestamp DESC
		LIMIT 1
	`, deviceID, t).Scan(&point.ID, &point.DeviceID, &point.Timestamp, &point.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.DeviceData{}, fmt.Errorf("device %d baseline: %w", deviceID, ErrNotFound)
	}
	if err != nil {
		return models.DeviceData{}, fmt.Errorf("device baseline: %w", err)
	}
	return point, nil
}

func collectDeviceData(rows *sql.Rows) ([]models.DeviceData, error) {
	var points []models.DeviceData
	for rows.Next() {
		var point models.DeviceData
		if err := rows.Scan(&point.ID, &point.DeviceID, &point.Timestamp, &point.Data); err != nil {
			return nil, fmt.Errorf("scan device data: %w", err)
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate device data: %w", err)
	}
	return points, nil
}
