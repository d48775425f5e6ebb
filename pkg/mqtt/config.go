package mqtt

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sleep4at/Smart-Home-System/pkg/config"
)

// Client roles. Each role gets its own broker session with a stable,
// distinguishable client id.
const (
	RoleGateway = "gateway"
	RoleAPI     = "api"
)

const (
	defaultClientIDPrefix = "homeport"
	maxClientIDLen        = 64
)

// Config mirrors the MQTT_* environment contract.
type Config struct {
	Host              string
	Port              int
	Username          string
	Password          string
	KeepAlive         int
	TopicPrefix       string
	UseTLS            bool
	CACerts           string
	CertFile          string
	KeyFile           string
	TLSInsecure       bool
	ClientIDPrefix    string
	ClientIDSuffixLen int
	ClientIDGateway   string
	ClientIDAPI       string
}

// ConfigFromEnv builds a Config from the MQTT_* environment variables.
func ConfigFromEnv() Config {
	return Config{
		Host:              config.GetEnv("MQTT_HOST", "localhost"),
		Port:              config.GetEnvInt("MQTT_PORT", 1883),
		Username:          config.GetEnv("MQTT_USERNAME", ""),
		Password:          config.GetEnv("MQTT_PASSWORD", ""),
		KeepAlive:         config.GetEnvInt("MQTT_KEEPALIVE", 60),
		TopicPrefix:       config.GetEnv("MQTT_TOPIC_PREFIX", "home"),
		UseTLS:            config.GetEnvBool("MQTT_USE_TLS", false),
		CACerts:           config.GetEnv("MQTT_CA_CERTS", ""),
		CertFile:          config.GetEnv("MQTT_CERTFILE", ""),
		KeyFile:           config.GetEnv("MQTT_KEYFILE", ""),
		TLSInsecure:       config.GetEnvBool("MQTT_TLS_INSECURE", false),
		ClientIDPrefix:    config.GetEnv("MQTT_CLIENT_ID_PREFIX", defaultClientIDPrefix),
		ClientIDSuffixLen: config.GetEnvInt("MQTT_CLIENT_ID_SUFFIX_LEN", 6),
		ClientIDGateway:   config.GetEnv("MQTT_CLIENT_ID_GATEWAY", ""),
		ClientIDAPI:       config.GetEnv("MQTT_CLIENT_ID_API", ""),
	}
}

// BrokerURL returns the paho broker URL, switching scheme on TLS.
func (c Config) BrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// BuildClientID constructs the client id for a role. An explicit per-role
// override wins; otherwise the id is "<prefix>-<role>-<hex suffix>" with the
// suffix length clamped to 4..16 characters. The result only contains
// [A-Za-z0-9_.-] and is at most 64 characters.
func (c Config) BuildClientID(role string) string {
	var explicit string
	switch role {
	case RoleGateway:
		explicit = c.ClientIDGateway
	case RoleAPI:
		explicit = c.ClientIDAPI
	}
	if strings.TrimSpace(explicit) != "" {
		return sanitizeClientID(explicit, defaultClientIDPrefix)
	}

	prefix := sanitizeClientID(c.ClientIDPrefix, defaultClientIDPrefix)
	return sanitizeClientID(prefix+"-"+role+"-"+randomHex(clampSuffixLen(c.ClientIDSuffixLen)), defaultClientIDPrefix)
}

func clampSuffixLen(n int) int {
	if n < 4 {
		return 4
	}
	if n > 16 {
		return 16
	}
	return n
}

func randomHex(n int) string {
	buf := make([]byte, (n+1)/2)
	// rand.Read never returns an error on supported platforms
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)[:n]
}

// sanitizeClientID substitutes characters brokers commonly reject, trims
// dangling dashes and caps the length at 64.
func sanitizeClientID(id, fallback string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	cleaned := strings.Trim(b.String(), "-")
	if cleaned == "" {
		cleaned = fallback
	}
	if len(cleaned) > maxClientIDLen {
		cleaned = cleaned[:maxClientIDLen]
	}
	return cleaned
}

// StateTopicPattern is the wildcard subscription for device state reports.
func (c Config) StateTopicPattern() string {
	return c.TopicPrefix + "/+/state"
}

// PowerTopicPattern is the wildcard subscription for metered power reports.
func (c Config) PowerTopicPattern() string {
	return c.TopicPrefix + "/+/power"
}

// LWTTopicPattern is the wildcard subscription for device last-will topics.
func (c Config) LWTTopicPattern() string {
	return c.TopicPrefix + "/+/lwt"
}

// CommandTopic is the per-device downlink topic.
func (c Config) CommandTopic(deviceID int64) string {
	return fmt.Sprintf("%s/%d/cmd", c.TopicPrefix, deviceID)
}

// ServerLWTTopic is the topic carrying this server's own last will.
func (c Config) ServerLWTTopic() string {
	return c.TopicPrefix + "/server/lwt"
}
