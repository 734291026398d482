package types

import (
	"encoding/json"
	"time"
)

// Node represents a managed host as persisted by the coordinator
type Node struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	ServerIP    string `json:"server_ip"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description,omitempty"`

	// Token is issued once and never changes afterwards
	Token string `json:"token"`

	// APISecret is derived from Token and the coordinator master key.
	// It is stored for lookup but the derivation is authoritative.
	APISecret string `json:"api_secret"`

	Status   NodeStatus `json:"status"`
	LastSeen *time.Time `json:"last_seen,omitempty"`

	Features   FeatureConfig   `json:"features"`
	XrayConfig string          `json:"xray_config,omitempty"`
	XrayStatus ProxyStatus     `json:"xray_status,omitempty"`
	LastStats  json.RawMessage `json:"last_stats,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NodeStatus is the liveness state recorded by the coordinator
type NodeStatus string

const (
	NodeStatusOffline NodeStatus = "offline"
	NodeStatusOnline  NodeStatus = "online"
)

// ProxyStatus is the last observed state of the managed proxy service
type ProxyStatus string

const (
	ProxyStatusRunning ProxyStatus = "running"
	ProxyStatusStopped ProxyStatus = "stopped"
	ProxyStatusUnknown ProxyStatus = "unknown"
	ProxyStatusError   ProxyStatus = "error"
)

// FeatureConfig holds the per-node feature flags handed out at registration
type FeatureConfig struct {
	EnableVLESS     bool `json:"enable_vless"`
	EnableSplitHTTP bool `json:"enable_splithttp"`
	EnableHysteria2 bool `json:"enable_hysteria2"`
	MaxUsers        int  `json:"max_users"`
}

// DefaultFeatureConfig returns the flags a freshly provisioned node receives
func DefaultFeatureConfig() FeatureConfig {
	return FeatureConfig{
		EnableVLESS: true,
		MaxUsers:    100,
	}
}

// DefaultXrayConfig is served when no proxy config has been stored for a node
const DefaultXrayConfig = "{}"

// ConfigVersion is reported alongside every proxy config handed to a node
const ConfigVersion = "1.0"

// RegisterRequest is sent by a node presenting its bootstrap token
type RegisterRequest struct {
	Token     string `json:"token"`
	Timestamp int64  `json:"timestamp"`
}

// RegisterResponse carries the node's identity and secret.
// It is transmitted once per registration.
type RegisterResponse struct {
	NodeID     uint64        `json:"node_id"`
	APISecret  string        `json:"api_secret"`
	HiddenPath string        `json:"hidden_path"`
	Config     FeatureConfig `json:"config"`
}

// HeartbeatRequest is the periodic liveness report from a registered node.
// Stats is opaque telemetry; the coordinator stores it verbatim.
type HeartbeatRequest struct {
	NodeID    uint64          `json:"node_id"`
	APISecret string          `json:"api_secret"`
	Timestamp int64           `json:"timestamp"`
	Stats     json.RawMessage `json:"stats,omitempty"`
}

// ConfigRequest asks the coordinator for the node's stored proxy config
type ConfigRequest struct {
	NodeID    uint64 `json:"node_id"`
	APISecret string `json:"api_secret"`
}

// ConfigResponse returns the stored proxy config
type ConfigResponse struct {
	XrayConfig    string `json:"xray_config"`
	ConfigVersion string `json:"config_version"`
}

// StatusResponse is the generic success/failure envelope
type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse is returned on any non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
}

// ProxyStats is the telemetry a node reports about its proxy
type ProxyStats struct {
	Uptime      int64       `json:"uptime"`
	Connections int64       `json:"connections"`
	TrafficUp   int64       `json:"traffic_up"`
	TrafficDown int64       `json:"traffic_down"`
	XrayStatus  ProxyStatus `json:"xray_status,omitempty"`
}

// Verb names a command the coordinator may send to a node
type Verb string

const (
	VerbRestart   Verb = "restart"
	VerbSetConfig Verb = "set-config"
	VerbGetLogs   Verb = "get-logs"
	VerbGetStats  Verb = "get-stats"
)

// Verbs lists every verb a node accepts
var Verbs = []Verb{VerbRestart, VerbSetConfig, VerbGetLogs, VerbGetStats}

// NodeHealth is the unauthenticated health report of a node agent
type NodeHealth struct {
	Status     string      `json:"status"`
	Registered bool        `json:"registered"`
	XrayStatus ProxyStatus `json:"xray_status"`
	Timestamp  int64       `json:"timestamp"`
}

// LogsResponse carries the tail of the proxy logs
type LogsResponse struct {
	Status string `json:"status"`
	Logs   string `json:"logs"`
}

// StatsResponse carries proxy telemetry
type StatsResponse struct {
	Status string     `json:"status"`
	Stats  ProxyStats `json:"stats"`
}
