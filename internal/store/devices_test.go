package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

var deviceRowColumns = []string{
	"id", "name", "type", "location", "is_online", "is_public", "owner_id", "current_state", "created_at", "updated_at",
}

func deviceRow(id int64, name string, state string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(deviceRowColumns).
		AddRow(id, name, models.DeviceTypeTempHumi, "living room", true, true, nil, []byte(state), now, now)
}

func TestDeviceStoreGetByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM devices").
		WithArgs(int64(7)).
		WillReturnRows(deviceRow(7, "Bedroom Sensor", `{"temp": 22.5}`))

	device, err := NewDeviceStore(db).GetByID(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if device.Name != "Bedroom Sensor" {
		t.Errorf("unexpected name: %s", device.Name)
	}
	if device.TypeDisplay != "Temperature & Humidity Sensor" {
		t.Errorf("unexpected type display: %s", device.TypeDisplay)
	}
	if got := device.CurrentState["temp"]; got != 22.5 {
		t.Errorf("unexpected state temp: %v", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceStoreGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM devices").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err = NewDeviceStore(db).GetByID(context.Background(), 99)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceStoreListVisibleFiltersForNonAdmins(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("owner_id = \\$1 OR is_public = TRUE").
		WithArgs(int64(12)).
		WillReturnRows(deviceRow(1, "Hall Lamp", `{}`))

	devices, err := NewDeviceStore(db).ListVisible(context.Background(), 12, false)
	if err != nil {
		t.Fatalf("ListVisible returned error: %v", err)
	}
	if len(devices) != 1 || devices[0].Name != "Hall Lamp" {
		t.Fatalf("unexpected devices: %+v", devices)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceStoreListVisibleAdminSeesAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	rows := deviceRow(1, "Hall Lamp", `{}`)
	now := time.Now()
	rows.AddRow(int64(2), "Private Fan", models.DeviceTypeFanSwitch, "study", false, false, int64(3), []byte(`{"on": false}`), now, now)

	mock.ExpectQuery("FROM devices").
		WillReturnRows(rows)

	devices, err := NewDeviceStore(db).ListVisible(context.Background(), 12, true)
	if err != nil {
		t.Fatalf("ListVisible returned error: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if devices[1].OwnerID == nil || *devices[1].OwnerID != 3 {
		t.Errorf("unexpected owner: %v", devices[1].OwnerID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceStoreApplyStateMergesAndMarksOnline(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("UPDATE devices").
		WithArgs(int64(5), []byte(`{"temp":30.5}`)).
		WillReturnRows(deviceRow(5, "Bedroom Sensor", `{"temp": 30.5, "humi": 40}`))

	device, err := NewDeviceStore(db).ApplyState(context.Background(), 5, models.StateMap{"temp": 30.5})
	if err != nil {
		t.Fatalf("ApplyState returned error: %v", err)
	}
	if got := device.CurrentState["humi"]; got != float64(40) {
		t.Errorf("merge lost existing key: %v", device.CurrentState)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceStoreSetOnlineNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE devices").
		WithArgs(int64(44), false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewDeviceStore(db).SetOnline(context.Background(), 44, false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceStoreSignature(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	updated := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	mock.ExpectQuery("FROM devices").
		WillReturnRows(sqlmock.NewRows([]string{"count", "max"}).AddRow(int64(3), updated))

	sig, err := NewDeviceStore(db).Signature(context.Background())
	if err != nil {
		t.Fatalf("Signature returned error: %v", err)
	}
	want := fmt.Sprintf("3|%d", updated.UnixNano())
	if sig != want {
		t.Errorf("signature = %q, want %q", sig, want)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDeviceStoreCreateRequiresNameAndType(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	s := NewDeviceStore(db)
	if _, err := s.Create(context.Background(), models.Device{Type: models.DeviceTypeSmoke}); err == nil {
		t.Error("expected error for missing name")
	}
	if _, err := s.Create(context.Background(), models.Device{Name: "Detector"}); err == nil {
		t.Error("expected error for missing type")
	}
}

func TestDeviceStoreDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("DELETE FROM devices").
		WithArgs(int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewDeviceStore(db).Delete(context.Background(), 9); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
