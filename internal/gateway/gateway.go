package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sleep4at/Smart-Home-System/internal/alerts"
	"github.com/sleep4at/Smart-Home-System/internal/metrics"
	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
	"github.com/sleep4at/Smart-Home-System/pkg/mqtt"
)

// Topic kinds the gateway ingests. Power reports travel the state path so
// measured consumption lands in the same current_state/history stream.
const (
	kindState = "state"
	kindLWT   = "lwt"
	kindPower = "power"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
	shardQueueSize   = 64
)

// Numeric report fields the alert engine watches on every state message.
var alertFields = []string{"temp", "humi", "light", "pressure"}

// Bus is the subscriber surface the gateway consumes. *mqtt.Client
// satisfies it; tests install an in-process stub.
type Bus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// SceneEngine reacts to a persisted device report.
type SceneEngine interface {
	HandleReport(ctx context.Context, device models.Device, report models.StateMap)
}

// AlertEngine evaluates the built-in temperature guard and the per-field
// alert rules.
type AlertEngine interface {
	HandleTempThreshold(ctx context.Context, device models.Device, report models.StateMap)
	HandleFieldReport(ctx context.Context, device models.Device, field string, value float64)
}

// Config sizes the ingest pipeline.
type Config struct {
	Workers   int
	QueueSize int
}

type inbound struct {
	topic    string
	kind     string
	deviceID int64
	payload  []byte
}

// Gateway owns the telemetry ingest pipeline: bus subscriptions feed a
// bounded queue, a dispatcher shards messages by device id, and applier
// workers persist each report before fanning it out to the engines. One
// worker owns all messages of a given device, so per-device ordering holds
// while distinct devices proceed in parallel.
type Gateway struct {
	topics  mqtt.Config
	bus     Bus
	devices store.DeviceStore
	history store.DeviceDataStore
	logs    store.SystemLogStore
	scenes  SceneEngine
	alerts  AlertEngine
	logger  logging.Logger
	metrics *metrics.Metrics

	ingest  chan inbound
	shards  []chan inbound
	wg      sync.WaitGroup
	stopped atomic.Bool
	now     func() time.Time
}

func NewGateway(cfg Config, topics mqtt.Config, bus Bus, devices store.DeviceStore, history store.DeviceDataStore, logs store.SystemLogStore, sceneEngine SceneEngine, alertEngine AlertEngine, logger logging.Logger, m *metrics.Metrics) *Gateway {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	shards := make([]chan inbound, workers)
	for i := range shards {
		shards[i] = make(chan inbound, shardQueueSize)
	}

	return &Gateway{
		topics:  topics,
		bus:     bus,
		devices: devices,
		history: history,
		logs:    logs,
		scenes:  sceneEngine,
		alerts:  alertEngine,
		logger:  logger,
		metrics: m,
		ingest:  make(chan inbound, queueSize),
		shards:  shards,
		now:     time.Now,
	}
}

// Start subscribes to the ingress topics and launches the pipeline.
func (g *Gateway) Start() error {
	subscriptions := []struct {
		pattern string
		kind    string
	}{
		{g.topics.StateTopicPattern(), kindState},
		{g.topics.LWTTopicPattern(), kindLWT},
		{g.topics.PowerTopicPattern(), kindPower},
	}
	for _, sub := range subscriptions {
		if err := g.bus.Subscribe(sub.pattern, 1, g.receiver(sub.kind)); err != nil {
			return fmt.Errorf("subscribe %s: %w", sub.pattern, err)
		}
	}

	g.wg.Add(1)
	go g.dispatch()
	for i := range g.shards {
		g.wg.Add(1)
		go g.worker(g.shards[i])
	}

	g.logger.WithFields(logging.Fields{
		"workers":      len(g.shards),
		"queue_size":   cap(g.ingest),
		"topic_prefix": g.topics.TopicPrefix,
	}).Info("Telemetry gateway started")
	return nil
}

// Stop drains the pipeline and waits for the workers. The subscribing bus
// client must be disconnected first so no new messages arrive while the
// queues unwind.
func (g *Gateway) Stop() {
	if g.stopped.Swap(true) {
		return
	}
	close(g.ingest)
	g.wg.Wait()
	g.logger.Info("Telemetry gateway stopped")
}

func (g *Gateway) receiver(kind string) mqtt.MessageHandler {
	return func(topic string, payload []byte) {
		g.enqueue(kind, topic, payload)
	}
}

// enqueue runs on the bus client callback and must never block: a full
// queue sheds the message instead of stalling the broker session.
func (g *Gateway) enqueue(kind, topic string, payload []byte) {
	deviceID, err := parseDeviceTopic(topic)
	if err != nil {
		g.drop("receive", inbound{topic: topic, kind: kind}, "bad_topic", err)
		return
	}
	if g.stopped.Load() {
		return
	}

	msg := inbound{topic: topic, kind: kind, deviceID: deviceID, payload: payload}
	select {
	case g.ingest <- msg:
		g.countMessage(kind, "receive", "accepted")
	default:
		g.drop("receive", msg, "queue_full", nil)
	}
}

func (g *Gateway) dispatch() {
	defer g.wg.Done()
	for msg := range g.ingest {
		shard := int(msg.deviceID % int64(len(g.shards)))
		if shard < 0 {
			shard += len(g.shards)
		}
		g.shards[shard] <- msg
	}
	for _, ch := range g.shards {
		close(ch)
	}
}

func (g *Gateway) worker(ch chan inbound) {
	defer g.wg.Done()
	for msg := range ch {
		g.handle(msg)
	}
}

func (g *Gateway) handle(msg inbound) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.WithFields(logging.Fields{
				"topic": msg.topic,
				"kind":  msg.kind,
				"panic": fmt.Sprintf("%v", r),
			}).Warn("Message handling panicked")
		}
	}()

	start := time.Now()
	ctx := context.Background()

	device, err := g.devices.GetByID(ctx, msg.deviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			g.drop("apply", msg, "unknown_device", nil)
		} else {
			g.drop("apply", msg, "device_lookup_failed", err)
		}
		return
	}

	switch msg.kind {
	case kindLWT:
		g.handleLWT(ctx, device, msg)
	default:
		g.handleState(ctx, device, msg)
	}

	if g.metrics != nil {
		g.metrics.BusOpDuration.WithLabelValues("apply").Observe(time.Since(start).Seconds())
	}
}

// handleLWT flips device liveness from a broker will message. LWT traffic
// never reaches the engines; it carries no report to evaluate.
func (g *Gateway) handleLWT(ctx context.Context, device models.Device, msg inbound) {
	text := decodeLWTText(msg.payload)
	online := !isOfflineText(text)

	if err := g.devices.SetOnline(ctx, device.ID, online); err != nil {
		g.drop("apply", msg, "persist_failed", err)
		return
	}

	entry := models.SystemLog{
		Level:   models.LogLevelInfo,
		Source:  models.LogSourceMQTTLWT,
		Message: fmt.Sprintf("Device '%s' is online", device.Name),
		Data:    models.StateMap{"topic": msg.topic, "payload": text, "device_id": device.ID},
		UserID:  device.OwnerID,
	}
	if !online {
		entry.Level = models.LogLevelWarn
		entry.Message = fmt.Sprintf("Device '%s' went offline unexpectedly", device.Name)
	}
	g.insertLog(ctx, entry)

	g.logger.WithFields(logging.Fields{
		"device_id": device.ID,
		"online":    online,
	}).Info("Device liveness changed")
	g.countMessage(msg.kind, "apply", "ok")
}

// handleState merges a telemetry report into the device, records history
// and the audit log, then fans out to the engines in a fixed order. Engine
// failures are contained; a broken rule never blocks the next stage or the
// next message.
func (g *Gateway) handleState(ctx context.Context, device models.Device, msg inbound) {
	var report models.StateMap
	if err := json.Unmarshal(msg.payload, &report); err != nil {
		g.drop("apply", msg, "bad_payload", err)
		return
	}

	merged, err := g.devices.ApplyState(ctx, device.ID, report)
	if err != nil {
		g.drop("apply", msg, "persist_failed", err)
		return
	}

	if err := g.history.Insert(ctx, merged.ID, g.now(), report); err != nil {
		g.logger.WithFields(logging.Fields{
			"device_id": merged.ID,
			"error":     err.Error(),
		}).Warn("Failed to insert history point")
	}

	g.insertLog(ctx, models.SystemLog{
		Level:   models.LogLevelInfo,
		Source:  models.LogSourceMQTTGateway,
		Message: stateSummary(merged.Name, report),
		Data:    models.StateMap{"topic": msg.topic, "payload": report},
		UserID:  merged.OwnerID,
	})

	g.runEngine("scenes", merged.ID, func() {
		g.scenes.HandleReport(ctx, merged, report)
	})
	g.runEngine("temp_alert", merged.ID, func() {
		g.alerts.HandleTempThreshold(ctx, merged, report)
	})
	g.runEngine("email_alerts", merged.ID, func() {
		for _, field := range alertFields {
			value, ok := models.Float(report[field])
			if !ok {
				continue
			}
			g.alerts.HandleFieldReport(ctx, merged, field, value)
		}
	})
	if merged.Type == models.DeviceTypeSmoke {
		g.runEngine("smoke_alert", merged.ID, func() {
			g.alerts.HandleFieldReport(ctx, merged, "smoke", alerts.SmokeValue(report))
		})
	}

	g.countMessage(msg.kind, "apply", "ok")
}

// runEngine is the isolation boundary around one fan-out stage.
func (g *Gateway) runEngine(name string, deviceID int64, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.WithFields(logging.Fields{
				"engine":    name,
				"device_id": deviceID,
				"panic":     fmt.Sprintf("%v", r),
			}).Warn("Engine stage panicked")
		}
	}()
	fn()
}

func (g *Gateway) insertLog(ctx context.Context, entry models.SystemLog) {
	if _, err := g.logs.Insert(ctx, entry); err != nil {
		g.logger.WithFields(logging.Fields{
			"source": entry.Source,
			"error":  err.Error(),
		}).Warn("Failed to write gateway log")
	}
}

func (g *Gateway) drop(op string, msg inbound, reason string, err error) {
	fields := logging.Fields{
		"topic":  msg.topic,
		"kind":   msg.kind,
		"reason": reason,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	g.logger.WithFields(fields).Warn("Dropping bus message")

	if g.metrics != nil {
		g.metrics.GatewayDrops.WithLabelValues(reason).Inc()
		g.metrics.BusMessages.WithLabelValues(msg.kind, op, "dropped").Inc()
	}
}

func (g *Gateway) countMessage(kind, op, status string) {
	if g.metrics != nil {
		g.metrics.BusMessages.WithLabelValues(kind, op, status).Inc()
	}
}

// parseDeviceTopic extracts the device id from an ingress topic of the form
// <prefix>/<id>/<suffix>.
func parseDeviceTopic(topic string) (int64, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return 0, fmt.Errorf("expected at least 3 topic segments, got %d", len(parts))
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("topic segment %q is not a device id", parts[1])
	}
	return id, nil
}

// decodeLWTText normalizes a will payload to comparable text. JSON scalars
// decode first; anything else is taken as a bare string.
func decodeLWTText(payload []byte) string {
	var decoded interface{}
	if err := json.Unmarshal(payload, &decoded); err == nil {
		switch v := decoded.(type) {
		case string:
			return v
		case bool:
			return strconv.FormatBool(v)
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return strings.TrimSpace(string(payload))
}

func isOfflineText(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "offline", "0", "false":
		return true
	}
	return false
}
