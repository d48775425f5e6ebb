package main

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/sleep4at/Smart-Home-System/internal/alerts"
	"github.com/sleep4at/Smart-Home-System/internal/energy"
	"github.com/sleep4at/Smart-Home-System/internal/gateway"
	"github.com/sleep4at/Smart-Home-System/internal/handlers"
	"github.com/sleep4at/Smart-Home-System/internal/metrics"
	"github.com/sleep4at/Smart-Home-System/internal/realtime"
	"github.com/sleep4at/Smart-Home-System/internal/scenes"
	"github.com/sleep4at/Smart-Home-System/internal/store"
	"github.com/sleep4at/Smart-Home-System/pkg/config"
	"github.com/sleep4at/Smart-Home-System/pkg/database"
	"github.com/sleep4at/Smart-Home-System/pkg/email"
	"github.com/sleep4at/Smart-Home-System/pkg/logging"
	"github.com/sleep4at/Smart-Home-System/pkg/monitoring"
	"github.com/sleep4at/Smart-Home-System/pkg/mqtt"
	"github.com/sleep4at/Smart-Home-System/pkg/redis"
	"github.com/sleep4at/Smart-Home-System/pkg/server"
	"github.com/sleep4at/Smart-Home-System/pkg/version"
)

const statusPollInterval = 15 * time.Second

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("homeport")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Homeport (Smart Home Telemetry & Control API)")

	jwtSecret := []byte(config.RequireEnv("JWT_SECRET"))

	// Connect to database and apply schema
	dbConfig := database.DefaultConfig()
	dbConfig.URL = config.RequireEnv("DATABASE_URL")
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if err := database.EnsureSchema(context.Background(), db, logger); err != nil {
		logger.WithError(err).Fatal("Schema migration failed")
	}

	// Stores
	deviceStore := store.NewDeviceStore(db)
	historyStore := store.NewDeviceDataStore(db)
	logStore := store.NewSystemLogStore(db)
	userStore := store.NewUserStore(db)
	sceneRuleStore := store.NewSceneRuleStore(db)
	alertRuleStore := store.NewEmailAlertRuleStore(db)

	// Bus clients. The gateway client subscribes and keeps retrying until the
	// broker appears; the API client publishes commands and connects lazily.
	mqttConfig := mqtt.ConfigFromEnv()
	gatewayClient := mqtt.NewClient(mqttConfig, mqtt.RoleGateway, logger)
	gatewayClient.SetLastWill(mqttConfig.ServerLWTTopic(), "offline")
	apiClient := mqtt.NewClient(mqttConfig, mqtt.RoleAPI, logger)
	publisher := mqtt.NewSharedPublisher(apiClient)

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("homeport", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("homeport", version.Version, version.GitCommit)

	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("broker", monitoring.BrokerHealthCheck(gatewayClient))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL": config.GetEnv("DATABASE_URL", ""),
		"JWT_SECRET":   config.GetEnv("JWT_SECRET", ""),
	}))

	busMessages, busOpDuration, busConnected := metricsCollector.CreateBusMetrics()
	m := &metrics.Metrics{
		BusMessages:       busMessages,
		BusOpDuration:     busOpDuration,
		BusConnected:      busConnected,
		GatewayDrops:      metricsCollector.NewCounter("gateway_drops_total", "Telemetry messages dropped before apply", []string{"reason"}),
		SceneFirings:      metricsCollector.NewCounter("scene_rule_firings_total", "Scene rule action executions", []string{"action_type", "status"}),
		AlertEmails:       metricsCollector.NewCounter("alert_emails_total", "Alert emails by outcome", []string{"kind", "status"}),
		StreamSubscribers: metricsCollector.NewGauge("stream_subscribers", "Connected SSE subscribers", nil),
		StreamEvents:      metricsCollector.NewCounter("stream_events_total", "SSE events written", []string{"event"}),
		DBConnections:     metricsCollector.NewGauge("db_connections_active", "Open database connections", []string{"database"}),
	}

	// Engines
	mailer := email.NewSender(email.Config{
		Host:     config.GetEnv("SMTP_HOST", ""),
		Port:     config.GetEnv("SMTP_PORT", "25"),
		User:     config.GetEnv("SMTP_USER", ""),
		Password: config.GetEnv("SMTP_PASSWORD", ""),
		From:     config.GetEnv("SMTP_FROM", ""),
		FromName: config.GetEnv("SMTP_FROM_NAME", ""),
	})
	if !mailer.IsConfigured() {
		logger.Warn("SMTP transport not configured, alert emails will fail until it is")
	}

	sceneEngine := scenes.NewEngine(sceneRuleStore, deviceStore, logStore, publisher, mqttConfig, logger, m)
	alertEngine := alerts.NewEngine(
		alertRuleStore,
		logStore,
		mailer,
		logger,
		m,
		config.GetEnvFloat("ALERT_TEMP_THRESHOLD", 35.0),
		splitEmails(config.GetEnv("ALERT_ADMIN_EMAILS", "")),
	)
	energyEngine := energy.NewEngine(
		historyStore,
		energy.ProfileFromEnv(logger),
		config.GetEnvFloat("ENERGY_PRICE_PER_KWH", 0.56),
	)

	// Telemetry gateway
	ingest := gateway.NewGateway(
		gateway.Config{Workers: config.GetEnvInt("GATEWAY_WORKERS", 4)},
		mqttConfig, gatewayClient,
		deviceStore, historyStore, logStore,
		sceneEngine, alertEngine,
		logger, m,
	)
	if err := ingest.Start(); err != nil {
		logger.WithError(err).Fatal("Telemetry gateway failed to start")
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), 10*time.Second)
	if err := gatewayClient.Connect(connectCtx); err != nil {
		// Gateway clients retry in the background; boot continues.
		logger.WithError(err).Warn("Broker unreachable at startup, retrying in background")
	}
	cancelConnect()

	// Realtime fan-out
	ticketStore := newTicketStore(logger)
	ticketTTL := time.Duration(config.GetEnvInt("REALTIME_STREAM_TOKEN_TTL_SECONDS", 30)) * time.Second
	tickets := realtime.NewTickets(ticketStore, jwtSecret, ticketTTL)
	streamer := realtime.NewStreamer(tickets, userStore, logStore, realtime.NewSnapshots(deviceStore), gatewayClient, logger, m)

	// HTTP surface
	router := server.SetupServiceRouter(logger, "homeport", healthChecker, metricsCollector)
	handlers.Routes{
		Devices:    handlers.NewDeviceHandlers(deviceStore, historyStore, userStore, publisher, mqttConfig, logger, m),
		Energy:     handlers.NewEnergyHandlers(energyEngine, deviceStore, logger),
		Logs:       handlers.NewLogHandlers(logStore, logger),
		SceneRules: handlers.NewSceneRuleHandlers(sceneRuleStore, scenes.NewConflictChecker(sceneRuleStore, deviceStore), logger),
		AlertRules: handlers.NewAlertRuleHandlers(alertRuleStore, deviceStore, logger),
		Streamer:   streamer,
		Bus:        gatewayClient,
		JWTSecret:  jwtSecret,
	}.Register(router)

	stopPoller := startStatusPoller(db, gatewayClient, publisher, m)

	// The SSE stream outlives any fixed write deadline; per-write liveness is
	// enforced by the keepalive pings instead.
	serverConfig := server.DefaultConfig("homeport", "18030")
	serverConfig.WriteTimeout = 0

	err := server.Start(serverConfig, router, logger)

	// Disconnect the subscriber before draining so no new telemetry lands in
	// a closing queue.
	stopPoller()
	gatewayClient.Disconnect()
	ingest.Stop()
	publisher.Disconnect()

	if err != nil {
		logger.WithError(err).Fatal("Server shutdown failed")
	}
}

// newTicketStore picks redis when REDIS_URL is set, otherwise the in-memory
// store. One-shot stream tickets only need shared state when several
// replicas sit behind one load balancer.
func newTicketStore(logger logging.Logger) realtime.TicketStore {
	redisURL := config.GetEnv("REDIS_URL", "")
	if redisURL == "" {
		return realtime.NewMemoryTicketStore()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := redis.NewClientFromURL(ctx, redisURL)
	if err != nil {
		logger.WithError(err).Fatal("Redis connection failed")
	}
	logger.Info("Stream tickets backed by redis")
	return realtime.NewRedisTicketStore(client)
}

// startStatusPoller keeps the connection gauges current. Returns a stop
// function.
func startStatusPoller(db *sql.DB, gatewayClient, apiConn interface{ IsConnected() bool }, m *metrics.Metrics) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(statusPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.BusConnected.WithLabelValues("gateway").Set(boolGauge(gatewayClient.IsConnected()))
				m.BusConnected.WithLabelValues("api").Set(boolGauge(apiConn.IsConnected()))
				m.DBConnections.WithLabelValues("postgres").Set(float64(db.Stats().OpenConnections))
			}
		}
	}()
	return func() { close(done) }
}

func boolGauge(up bool) float64 {
	if up {
		return 1
	}
	return 0
}

func splitEmails(raw string) []string {
	var emails []string
	for _, part := range strings.Split(raw, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			emails = append(emails, addr)
		}
	}
	return emails
}
