// Package config loads the bridge's environment-driven configuration,
// applying defaults and validating values the same way the rest of this
// codebase normalizes its inputs: parse, fall back, never error on a bad
// numeric override.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the bridge's full runtime configuration, loaded once at
// startup and treated as immutable thereafter.
type Config struct {
	Enabled bool

	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	CommandTopic          string
	ResponseTopic         string
	ApprovalRequestTopic  string
	ApprovalResponseTopic string
	StatusTopic           string

	ApprovalTimeout        time.Duration
	ReconnectBackoff       time.Duration
	StatusRepublishEvery   time.Duration // 0 disables the periodic re-publish

	PolicyFile string

	LogLevel string

	OTelExporter string // "otlp-http" | "stdout" | "none"
	OTelEndpoint string
}

const (
	defaultBrokerURL             = "mqtt://localhost:1883"
	defaultCommandTopic          = "claude/command"
	defaultResponseTopic         = "claude/home/response"
	defaultApprovalRequestTopic  = "claude/approval-request"
	defaultApprovalResponseTopic = "claude/approval-response"
	defaultStatusTopic           = "claude/home/status"
	defaultApprovalTimeout       = 60 * time.Second
	defaultReconnectBackoff      = 5 * time.Second
	defaultStatusRepublishEvery  = 5 * time.Minute
	defaultLogLevel              = "info"
	defaultOTelExporter          = "none"
	defaultOTelEndpoint          = "localhost:4318"
)

// Load reads configuration from the environment, applying defaults and
// normalizing out-of-range values rather than failing startup over them.
func Load() Config {
	cfg := Config{
		Enabled:               parseBool(os.Getenv("MQTT_ENABLED")),
		BrokerURL:             envOr("MQTT_BROKER_URL", defaultBrokerURL),
		ClientID:              envOr("MQTT_CLIENT_ID", defaultClientID()),
		Username:              os.Getenv("MQTT_USERNAME"),
		Password:              os.Getenv("MQTT_PASSWORD"),
		CommandTopic:          envOr("MQTT_COMMAND_TOPIC", defaultCommandTopic),
		ResponseTopic:         envOr("MQTT_RESPONSE_TOPIC", defaultResponseTopic),
		ApprovalRequestTopic:  envOr("MQTT_APPROVAL_REQUEST_TOPIC", defaultApprovalRequestTopic),
		ApprovalResponseTopic: envOr("MQTT_APPROVAL_RESPONSE_TOPIC", defaultApprovalResponseTopic),
		StatusTopic:           defaultStatusTopic,
		ApprovalTimeout:       durationMS("MQTT_APPROVAL_TIMEOUT", defaultApprovalTimeout),
		ReconnectBackoff:      durationMS("MQTT_RECONNECT_BACKOFF_MS", defaultReconnectBackoff),
		StatusRepublishEvery:  republishInterval("MQTT_STATUS_REPUBLISH_MINUTES", defaultStatusRepublishEvery),
		PolicyFile:            os.Getenv("MQTT_POLICY_FILE"),
		LogLevel:              envOr("BRIDGE_LOG_LEVEL", defaultLogLevel),
		OTelExporter:          envOr("BRIDGE_OTEL_EXPORTER", defaultOTelExporter),
		OTelEndpoint:          envOr("BRIDGE_OTEL_ENDPOINT", defaultOTelEndpoint),
	}
	normalize(&cfg)
	return cfg
}

func normalize(cfg *Config) {
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = defaultBrokerURL
	}
	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID()
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = defaultApprovalTimeout
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = defaultReconnectBackoff
	}
	if cfg.StatusRepublishEvery < 0 {
		cfg.StatusRepublishEvery = defaultStatusRepublishEvery
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		cfg.LogLevel = defaultLogLevel
	}
	switch cfg.OTelExporter {
	case "otlp-http", "stdout", "none":
	default:
		cfg.OTelExporter = defaultOTelExporter
	}
}

// defaultClientID is computed once per process, not re-derived on reconnect.
var processClientID = "claudecodeui-" + strconv.FormatInt(time.Now().UnixMilli(), 10)

func defaultClientID() string {
	return processClientID
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBool(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), "true")
}

func durationMS(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return time.Duration(v) * time.Millisecond
}

func republishInterval(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	if v == 0 {
		return 0
	}
	return time.Duration(v) * time.Minute
}
