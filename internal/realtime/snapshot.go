package realtime

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

// Snapshots answers the device probes issued by subscriber loops. All
// loops tick on the same cadence, so concurrent probes are coalesced into
// one query per key via singleflight.
type Snapshots struct {
	devices store.DeviceStore
	sf      singleflight.Group
}

func NewSnapshots(devices store.DeviceStore) *Snapshots {
	return &Snapshots{devices: devices}
}

// Signature returns the device-table change marker. One in-flight query
// serves every subscriber sampling at the same instant.
func (s *Snapshots) Signature(ctx context.Context) (string, error) {
	v, err, _ := s.sf.Do("signature", func() (interface{}, error) {
		return s.devices.Signature(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// VisibleDevices lists the devices the subscriber may see. Admins share one
// flight since their view is identical.
func (s *Snapshots) VisibleDevices(ctx context.Context, userID int64, admin bool) ([]models.Device, error) {
	key := fmt.Sprintf("devices:%d", userID)
	if admin {
		key = "devices:admin"
	}
	v, err, _ := s.sf.Do(key, func() (interface{}, error) {
		return s.devices.ListVisible(ctx, userID, admin)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Device), nil
}
