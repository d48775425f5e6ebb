package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the homeport service
type Metrics struct {
	BusMessages       *prometheus.CounterVec   // topic_kind, operation, status
	BusOpDuration     *prometheus.HistogramVec // operation
	BusConnected      *prometheus.GaugeVec     // client
	GatewayDrops      *prometheus.CounterVec   // reason
	SceneFirings      *prometheus.CounterVec   // action_type, status
	AlertEmails       *prometheus.CounterVec   // kind, status
	StreamSubscribers *prometheus.GaugeVec
	StreamEvents      *prometheus.CounterVec // event
	DBConnections     *prometheus.GaugeVec   // database
}
