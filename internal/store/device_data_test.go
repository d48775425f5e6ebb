package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

func TestDeviceDataInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	ts := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO device_data").
		WithArgs(int64(3), ts, []byte(`{"temp":25}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = NewDeviceDataStore(db).Insert(context.Background(), 3, ts, models.StateMap{"temp": 25})
	if err != nil {
		t.Fatalf("Insert returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceDataHistoryRangeAscending(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	start := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	rows := sqlmock.NewRows([]string{"id", "device_id", "timestamp", "data"}).
		AddRow(int64(1), int64(3), start.Add(time.Hour), []byte(`{"on": true}`)).
		AddRow(int64(2), int64(3), start.Add(2*time.Hour), []byte(`{"on": false}`))

	mock.ExpectQuery("FROM device_data").
		WithArgs(int64(3), start, end).
		WillReturnRows(rows)

	points, err := NewDeviceDataStore(db).HistoryRange(context.Background(), 3, start, end)
	if err != nil {
		t.Fatalf("HistoryRange returned error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("expected 2 points, got %d", len(points))
	}
	if !points[0].Timestamp.Before(points[1].Timestamp) {
		t.Error("points not ascending")
	}
	if points[0].Data["on"] != true {
		t.Errorf("unexpected data: %v", points[0].Data)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceDataLastBeforeNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM device_data").
		WillReturnRows(sqlmock.NewRows([]string{"id", "device_id", "timestamp", "data"}))

	_, err = NewDeviceDataStore(db).LastBefore(context.Background(), 3, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
