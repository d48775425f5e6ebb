package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/sleep4at/Smart-Home-System/internal/energy"
	"github.com/sleep4at/Smart-Home-System/internal/realtime"
	"github.com/sleep4at/Smart-Home-System/internal/scenes"
	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/auth"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
	"github.com/sleep4at/Smart-Home-System/pkg/mqtt"
)

var (
	apiSecret = []byte("api-test-secret")
	apiNow    = time.Date(2024, time.July, 12, 15, 0, 0, 0, time.UTC)
)

// --- device store ---

type memDeviceStore struct {
	nextID  int64
	devices map[int64]models.Device
	merged  []models.StateMap

	listErr  error
	mergeErr error
}

func newMemDeviceStore(devices ...models.Device) *memDeviceStore {
	s := &memDeviceStore{devices: make(map[int64]models.Device)}
	for _, d := range devices {
		if d.CurrentState == nil {
			d.CurrentState = models.StateMap{}
		}
		d.TypeDisplay = models.DeviceTypeDisplay(d.Type)
		s.devices[d.ID] = d
		if d.ID > s.nextID {
			s.nextID = d.ID
		}
	}
	return s
}

func cloneDevice(d models.Device) models.Device {
	state := make(models.StateMap, len(d.CurrentState))
	for k, v := range d.CurrentState {
		state[k] = v
	}
	d.CurrentState = state
	return d
}

func (s *memDeviceStore) GetByID(_ context.Context, id int64) (models.Device, error) {
	d, ok := s.devices[id]
	if !ok {
		return models.Device{}, store.ErrNotFound
	}
	return cloneDevice(d), nil
}

func (s *memDeviceStore) ListAll(context.Context) ([]models.Device, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]models.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, cloneDevice(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memDeviceStore) ListVisible(ctx context.Context, userID int64, admin bool) ([]models.Device, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	if admin {
		return all, nil
	}
	var out []models.Device
	for _, d := range all {
		if d.IsPublic || (d.OwnerID != nil && *d.OwnerID == userID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *memDeviceStore) Create(_ context.Context, device models.Device) (models.Device, error) {
	s.nextID++
	device.ID = s.nextID
	if device.CurrentState == nil {
		device.CurrentState = models.StateMap{}
	}
	device.TypeDisplay = models.DeviceTypeDisplay(device.Type)
	device.CreatedAt = apiNow
	device.UpdatedAt = apiNow
	s.devices[device.ID] = device
	return cloneDevice(device), nil
}

func (s *memDeviceStore) Update(_ context.Context, device models.Device) (models.Device, error) {
	existing, ok := s.devices[device.ID]
	if !ok {
		return models.Device{}, store.ErrNotFound
	}
	existing.Name = device.Name
	existing.Type = device.Type
	existing.TypeDisplay = models.DeviceTypeDisplay(device.Type)
	existing.Location = device.Location
	existing.IsPublic = device.IsPublic
	existing.OwnerID = device.OwnerID
	existing.UpdatedAt = existing.UpdatedAt.Add(time.Second)
	s.devices[device.ID] = existing
	return cloneDevice(existing), nil
}

func (s *memDeviceStore) Delete(_ context.Context, id int64) error {
	if _, ok := s.devices[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.devices, id)
	return nil
}

func (s *memDeviceStore) ApplyState(_ context.Context, id int64, patch models.StateMap) (models.Device, error) {
	d, ok := s.devices[id]
	if !ok {
		return models.Device{}, store.ErrNotFound
	}
	d = cloneDevice(d)
	for k, v := range patch {
		d.CurrentState[k] = v
	}
	d.IsOnline = true
	s.devices[id] = d
	return cloneDevice(d), nil
}

func (s *memDeviceStore) MergeState(_ context.Context, id int64, patch models.StateMap) (models.Device, error) {
	if s.mergeErr != nil {
		return models.Device{}, s.mergeErr
	}
	d, ok := s.devices[id]
	if !ok {
		return models.Device{}, store.ErrNotFound
	}
	d = cloneDevice(d)
	for k, v := range patch {
		d.CurrentState[k] = v
	}
	s.devices[id] = d
	s.merged = append(s.merged, patch)
	return cloneDevice(d), nil
}

func (s *memDeviceStore) SetOnline(_ context.Context, id int64, online bool) error {
	d, ok := s.devices[id]
	if !ok {
		return store.ErrNotFound
	}
	d.IsOnline = online
	s.devices[id] = d
	return nil
}

func (s *memDeviceStore) Signature(context.Context) (string, error) {
	var maxUpdated int64
	for _, d := range s.devices {
		if ts := d.UpdatedAt.UnixNano(); ts > maxUpdated {
			maxUpdated = ts
		}
	}
	return fmt.Sprintf("%d|%d", len(s.devices), maxUpdated), nil
}

// --- history store ---

type memHistoryStore struct {
	rows   []models.DeviceData
	sinces []time.Time
	err    error
}

func (s *memHistoryStore) Insert(_ context.Context, deviceID int64, timestamp time.Time, data models.StateMap) error {
	s.rows = append(s.rows, models.DeviceData{
		ID:        int64(len(s.rows) + 1),
		DeviceID:  deviceID,
		Timestamp: timestamp,
		Data:      data,
	})
	return nil
}

func (s *memHistoryStore) HistoryAsc(_ context.Context, deviceID int64, since time.Time) ([]models.DeviceData, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.sinces = append(s.sinces, since)
	var out []models.DeviceData
	for _, row := range s.rows {
		if row.DeviceID == deviceID && !row.Timestamp.Before(since) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *memHistoryStore) HistoryRange(_ context.Context, deviceID int64, start, end time.Time) ([]models.DeviceData, error) {
	var out []models.DeviceData
	for _, row := range s.rows {
		if row.DeviceID == deviceID && !row.Timestamp.Before(start) && row.Timestamp.Before(end) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *memHistoryStore) LastBefore(_ context.Context, deviceID int64, t time.Time) (models.DeviceData, error) {
	var best *models.DeviceData
	for i := range s.rows {
		row := s.rows[i]
		if row.DeviceID != deviceID || !row.Timestamp.Before(t) {
			continue
		}
		if best == nil || row.Timestamp.After(best.Timestamp) {
			best = &row
		}
	}
	if best == nil {
		return models.DeviceData{}, store.ErrNotFound
	}
	return *best, nil
}

// --- log store ---

type memLogStore struct {
	entries []models.SystemLog
	listErr error
}

func (s *memLogStore) Insert(_ context.Context, entry models.SystemLog) (models.SystemLog, error) {
	entry.ID = int64(len(s.entries) + 1)
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = apiNow.Add(time.Duration(entry.ID) * time.Second)
	}
	s.entries = append(s.entries, entry)
	return entry, nil
}

func (s *memLogStore) visible(entry models.SystemLog, userID int64, admin bool) bool {
	if admin {
		return true
	}
	return entry.UserID == nil || *entry.UserID == userID
}

func (s *memLogStore) List(_ context.Context, q store.LogQuery) ([]models.SystemLog, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	var out []models.SystemLog
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.entries[i]
		if q.Level != "" && entry.Level != q.Level {
			continue
		}
		if q.Source != "" && entry.Source != q.Source {
			continue
		}
		if !s.visible(entry, q.UserID, q.IsAdmin) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *memLogStore) TailAfter(_ context.Context, afterID, userID int64, admin bool, limit int) ([]models.SystemLog, error) {
	var out []models.SystemLog
	for _, entry := range s.entries {
		if entry.ID > afterID && s.visible(entry, userID, admin) {
			out = append(out, entry)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *memLogStore) LatestID(context.Context) (int64, error) {
	var max int64
	for _, entry := range s.entries {
		if entry.ID > max {
			max = entry.ID
		}
	}
	return max, nil
}

// --- user store ---

type memUserStore struct {
	users map[int64]models.User
}

func (s *memUserStore) GetByID(_ context.Context, id int64) (models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return u, nil
}

// --- scene rule store ---

type memSceneRuleStore struct {
	nextID int64
	rules  []models.SceneRule

	enabledSets []int64
}

func (s *memSceneRuleStore) GetByID(_ context.Context, id int64) (models.SceneRule, error) {
	for _, r := range s.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return models.SceneRule{}, store.ErrNotFound
}

func (s *memSceneRuleStore) ListAll(context.Context) ([]models.SceneRule, error) {
	return append([]models.SceneRule(nil), s.rules...), nil
}

func (s *memSceneRuleStore) ListByOwner(_ context.Context, ownerID int64) ([]models.SceneRule, error) {
	var out []models.SceneRule
	for _, r := range s.rules {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memSceneRuleStore) ListEnabledForTrigger(_ context.Context, deviceID int64) ([]models.SceneRule, error) {
	var out []models.SceneRule
	for _, r := range s.rules {
		if r.Enabled && r.TriggerDeviceID == deviceID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memSceneRuleStore) Create(_ context.Context, rule models.SceneRule) (models.SceneRule, error) {
	s.nextID++
	rule.ID = s.nextID
	rule.CreatedAt = apiNow
	rule.UpdatedAt = apiNow
	s.rules = append(s.rules, rule)
	return rule, nil
}

func (s *memSceneRuleStore) Update(_ context.Context, rule models.SceneRule) (models.SceneRule, error) {
	for i := range s.rules {
		if s.rules[i].ID == rule.ID {
			rule.UpdatedAt = s.rules[i].UpdatedAt.Add(time.Second)
			s.rules[i] = rule
			return rule, nil
		}
	}
	return models.SceneRule{}, store.ErrNotFound
}

func (s *memSceneRuleStore) Delete(_ context.Context, id int64) error {
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *memSceneRuleStore) SetEnabled(_ context.Context, id int64, enabled bool) error {
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules[i].Enabled = enabled
			s.enabledSets = append(s.enabledSets, id)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *memSceneRuleStore) TouchLastTriggered(_ context.Context, id int64, t time.Time) error {
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules[i].LastTriggeredAt = &t
			return nil
		}
	}
	return store.ErrNotFound
}

// --- alert rule store ---

type memAlertRuleStore struct {
	nextID int64
	rules  []models.EmailAlertRule
}

func (s *memAlertRuleStore) GetByID(_ context.Context, id int64) (models.EmailAlertRule, error) {
	for _, r := range s.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return models.EmailAlertRule{}, store.ErrNotFound
}

func (s *memAlertRuleStore) ListAll(context.Context) ([]models.EmailAlertRule, error) {
	return append([]models.EmailAlertRule(nil), s.rules...), nil
}

func (s *memAlertRuleStore) ListEnabledFor(_ context.Context, deviceID int64, field string) ([]models.EmailAlertRule, error) {
	var out []models.EmailAlertRule
	for _, r := range s.rules {
		if r.Enabled && r.TriggerDeviceID == deviceID && r.TriggerField == field {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memAlertRuleStore) Create(_ context.Context, rule models.EmailAlertRule) (models.EmailAlertRule, error) {
	s.nextID++
	rule.ID = s.nextID
	rule.CreatedAt = apiNow
	rule.UpdatedAt = apiNow
	s.rules = append(s.rules, rule)
	return rule, nil
}

func (s *memAlertRuleStore) Update(_ context.Context, rule models.EmailAlertRule) (models.EmailAlertRule, error) {
	for i := range s.rules {
		if s.rules[i].ID == rule.ID {
			s.rules[i] = rule
			return rule, nil
		}
	}
	return models.EmailAlertRule{}, store.ErrNotFound
}

func (s *memAlertRuleStore) Delete(_ context.Context, id int64) error {
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *memAlertRuleStore) SetEnabled(_ context.Context, id int64, enabled bool) error {
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules[i].Enabled = enabled
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *memAlertRuleStore) TouchLastTriggered(_ context.Context, id int64, t time.Time) error {
	for i := range s.rules {
		if s.rules[i].ID == id {
			s.rules[i].LastTriggeredAt = &t
			return nil
		}
	}
	return store.ErrNotFound
}

// --- publisher ---

type publishedCommand struct {
	topic   string
	qos     byte
	payload string
}

type stubPublisher struct {
	published []publishedCommand
	err       error
	connected bool
}

func (p *stubPublisher) Publish(topic string, qos byte, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedCommand{topic: topic, qos: qos, payload: string(payload)})
	return nil
}

func (p *stubPublisher) IsConnected() bool { return p.connected }

// --- rig ---

// Seed identities: 7 owns things, 8 owns nothing, 99 is the admin.
const (
	residentID = int64(7)
	neighborID = int64(8)
	adminID    = int64(99)
)

type apiRig struct {
	router     *gin.Engine
	devices    *memDeviceStore
	history    *memHistoryStore
	logs       *memLogStore
	users      *memUserStore
	sceneRules *memSceneRuleStore
	alertRules *memAlertRuleStore
	publisher  *stubPublisher
	topics     mqtt.Config

	resident string
	neighbor string
	admin    string
}

func newAPIRig(t *testing.T, devices ...models.Device) *apiRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logging.NewLogger()
	logger.SetOutput(io.Discard)

	rig := &apiRig{
		devices: newMemDeviceStore(devices...),
		history: &memHistoryStore{},
		logs:    &memLogStore{},
		users: &memUserStore{users: map[int64]models.User{
			residentID: {ID: residentID, Username: "resident", Email: "resident@example.com"},
			neighborID: {ID: neighborID, Username: "neighbor", Email: "neighbor@example.com"},
			adminID:    {ID: adminID, Username: "root", Email: "root@example.com", IsAdmin: true},
		}},
		sceneRules: &memSceneRuleStore{},
		alertRules: &memAlertRuleStore{},
		publisher:  &stubPublisher{connected: true},
		topics:     mqtt.Config{TopicPrefix: "home"},
	}

	deviceHandlers := NewDeviceHandlers(rig.devices, rig.history, rig.users, rig.publisher, rig.topics, logger, nil)
	deviceHandlers.now = func() time.Time { return apiNow }
	energyHandlers := NewEnergyHandlers(energy.NewEngine(rig.history, energy.DefaultProfile(), 0.56), rig.devices, logger)
	energyHandlers.now = func() time.Time { return apiNow }

	tickets := realtime.NewTickets(realtime.NewMemoryTicketStore(), apiSecret, 0)
	streamer := realtime.NewStreamer(tickets, rig.users, rig.logs, realtime.NewSnapshots(rig.devices), rig.publisher, logger, nil)

	router := gin.New()
	Routes{
		Devices:    deviceHandlers,
		Energy:     energyHandlers,
		Logs:       NewLogHandlers(rig.logs, logger),
		SceneRules: NewSceneRuleHandlers(rig.sceneRules, scenes.NewConflictChecker(rig.sceneRules, rig.devices), logger),
		AlertRules: NewAlertRuleHandlers(rig.alertRules, rig.devices, logger),
		Streamer:   streamer,
		Bus:        rig.publisher,
		JWTSecret:  apiSecret,
	}.Register(router)
	rig.router = router

	rig.resident = mintToken(t, residentID, "resident@example.com", "user")
	rig.neighbor = mintToken(t, neighborID, "neighbor@example.com", "user")
	rig.admin = mintToken(t, adminID, "root@example.com", "admin")
	return rig
}

func mintToken(t *testing.T, userID int64, email, role string) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, email, role, apiSecret)
	require.NoError(t, err)
	return token
}

// exec drives one request through the full router, middleware included.
// body may be nil, a raw string, or anything JSON-marshalable.
func (r *apiRig) exec(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), target),
		"response body: %s", w.Body.String())
}

func int64Ptr(v int64) *int64 { return &v }
