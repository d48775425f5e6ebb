package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sleep4at/Smart-Home-System/internal/metrics"
	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/auth"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
	"github.com/sleep4at/Smart-Home-System/pkg/models"
)

const (
	tickInterval  = 1500 * time.Millisecond
	logBatchLimit = 200
)

// BusProbe is the connectivity sample taken each tick. The gateway's bus
// client satisfies it.
type BusProbe interface {
	IsConnected() bool
}

// Streamer owns the realtime surface: ticket minting and one SSE loop per
// connected subscriber. Subscribers share no state beyond the coalesced
// snapshot source, so a dropped connection never disturbs the rest.
type Streamer struct {
	tickets   *Tickets
	users     store.UserStore
	logs      store.SystemLogStore
	snapshots *Snapshots
	bus       BusProbe
	logger    logging.Logger
	metrics   *metrics.Metrics

	tick time.Duration
}

func NewStreamer(tickets *Tickets, users store.UserStore, logs store.SystemLogStore, snapshots *Snapshots, bus BusProbe, logger logging.Logger, m *metrics.Metrics) *Streamer {
	return &Streamer{
		tickets:   tickets,
		users:     users,
		logs:      logs,
		snapshots: snapshots,
		bus:       bus,
		logger:    logger,
		metrics:   m,
		tick:      tickInterval,
	}
}

type initEvent struct {
	LastLogID     int64           `json:"last_log_id"`
	MQTTConnected bool            `json:"mqtt_connected"`
	Devices       []models.Device `json:"devices"`
}

type mqttStatusEvent struct {
	Connected bool `json:"connected"`
}

// subscriber carries the three per-connection cursors. Everything emitted
// after init is a delta against these.
type subscriber struct {
	userID int64
	admin  bool

	lastLogID int64
	connected bool
	signature string
}

// HandleStreamToken mints a one-shot stream ticket for the authenticated
// caller. GET /realtime/stream-token
func (s *Streamer) HandleStreamToken(c *gin.Context) {
	token, err := s.tickets.Mint(c.Request.Context(), auth.UserID(c))
	if err != nil {
		s.logger.WithError(err).Error("Failed to mint stream ticket")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue stream token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stream_token": token,
		"expires_in":   int(s.tickets.TTL().Seconds()),
	})
}

// HandleStream turns the request into a server-sent event loop. The ticket
// is consumed before a single byte of the stream is written; replays and
// expired tickets see a plain 401. GET /realtime/stream?stream_token=...
func (s *Streamer) HandleStream(c *gin.Context) {
	ctx := c.Request.Context()

	userID, err := s.tickets.Consume(ctx, c.Query("stream_token"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid stream token"})
		return
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown subscriber"})
		return
	}

	sub := &subscriber{userID: user.ID, admin: user.IsAdmin}

	// Gather the init snapshot before committing to the event-stream
	// response, so snapshot failures can still surface as plain errors.
	lastLogID, err := s.logs.LatestID(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read log cursor for stream init")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream unavailable"})
		return
	}
	signature, err := s.snapshots.Signature(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read device signature for stream init")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream unavailable"})
		return
	}
	devices, err := s.snapshots.VisibleDevices(ctx, sub.userID, sub.admin)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list devices for stream init")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream unavailable"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unavailable"})
		return
	}

	sub.lastLogID = lastLogID
	sub.connected = s.bus.IsConnected()
	sub.signature = signature

	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if s.metrics != nil {
		s.metrics.StreamSubscribers.WithLabelValues().Inc()
		defer s.metrics.StreamSubscribers.WithLabelValues().Dec()
	}

	init := initEvent{LastLogID: sub.lastLogID, MQTTConnected: sub.connected, Devices: devices}
	if err := writeEvent(c.Writer, flusher, "init", init); err != nil {
		return
	}
	s.countEvent("init")

	s.serve(ctx, sub, c.Writer, flusher)
}

// serve runs the paced delta loop until the peer goes away or the server
// shuts down. Disconnects end the loop silently.
func (s *Streamer) serve(ctx context.Context, sub *subscriber, w io.Writer, flusher http.Flusher) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.emitDeltas(ctx, sub, w, flusher) {
			return
		}
	}
}

func (s *Streamer) emitDeltas(ctx context.Context, sub *subscriber, w io.Writer, flusher http.Flusher) bool {
	entries, err := s.logs.TailAfter(ctx, sub.lastLogID, sub.userID, sub.admin, logBatchLimit)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		s.logger.WithError(err).Warn("Realtime log tail failed")
	}
	for i := range entries {
		if err := writeEvent(w, flusher, "log", entries[i]); err != nil {
			return false
		}
		sub.lastLogID = entries[i].ID
		s.countEvent("log")
	}

	connected := s.bus.IsConnected()
	if connected != sub.connected {
		sub.connected = connected
		if err := writeEvent(w, flusher, "mqtt_status", mqttStatusEvent{Connected: connected}); err != nil {
			return false
		}
		s.countEvent("mqtt_status")
	}

	signature, err := s.snapshots.Signature(ctx)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return false
		}
		s.logger.WithError(err).Warn("Realtime signature probe failed")
	case signature != sub.signature:
		devices, err := s.snapshots.VisibleDevices(ctx, sub.userID, sub.admin)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			s.logger.WithError(err).Warn("Realtime device list failed")
			break
		}
		sub.signature = signature
		if err := writeEvent(w, flusher, "devices", devices); err != nil {
			return false
		}
		s.countEvent("devices")
	}

	// Keep-alive comment defeats intermediary idle timeouts between deltas.
	if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

func (s *Streamer) countEvent(event string) {
	if s.metrics == nil {
		return
	}
	s.metrics.StreamEvents.WithLabelValues(event).Inc()
}

func writeEvent(w io.Writer, flusher http.Flusher, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
