package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Coordinator holds the settings of `burrow coordinator serve`
type Coordinator struct {
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`
	MasterKey  string `yaml:"master_key"`

	TLSCert  string   `yaml:"tls_cert"`
	TLSKey   string   `yaml:"tls_key"`
	AutoTLS  bool     `yaml:"auto_tls"`
	TLSHosts []string `yaml:"tls_hosts"`

	OfflineAfter  time.Duration `yaml:"offline_after"`
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// RateLimit is requests per second per client on the node API; 0 disables
	RateLimit  float64 `yaml:"rate_limit"`
	RateBurst  int     `yaml:"rate_burst"`
	TrustProxy bool    `yaml:"trust_proxy"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Agent holds the settings of `burrow agent run`
type Agent struct {
	Token          string `yaml:"token"`
	CoordinatorURL string `yaml:"coordinator_url"`
	CAFile         string `yaml:"ca_file"`
	ListenAddr     string `yaml:"listen_addr"`
	TLSCert        string `yaml:"tls_cert"`
	TLSKey         string `yaml:"tls_key"`

	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`

	// ReplayWindow rejects signed commands whose timestamp is further than
	// this from local time; 0 disables the check
	ReplayWindow time.Duration `yaml:"replay_window"`
	AllowedIPs   []string      `yaml:"allowed_ips"`

	Service    string `yaml:"service"`
	Container  string `yaml:"container"`
	ConfigPath string `yaml:"config_path"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// DefaultCoordinator returns the coordinator defaults
func DefaultCoordinator() *Coordinator {
	return &Coordinator{
		ListenAddr:    ":8443",
		DataDir:       "./burrow-data",
		TLSHosts:      []string{"localhost", "127.0.0.1"},
		OfflineAfter:  3 * time.Minute,
		SweepInterval: 30 * time.Second,
		RateLimit:     5,
		RateBurst:     20,
		LogLevel:      "info",
	}
}

// DefaultAgent returns the agent defaults
func DefaultAgent() *Agent {
	return &Agent{
		ListenAddr:        ":8080",
		HeartbeatInterval: 60 * time.Second,
		RequestTimeout:    30 * time.Second,
		CommandTimeout:    30 * time.Second,
		Service:           "xray",
		Container:         "xray-node-xray",
		ConfigPath:        "/app/config/config.json",
		LogLevel:          "info",
	}
}

// LoadCoordinator reads path over the defaults, then applies environment
// overrides. An empty path skips the file.
func LoadCoordinator(path string) (*Coordinator, error) {
	cfg := DefaultCoordinator()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadAgent reads path over the defaults, then applies environment
// overrides. An empty path skips the file.
func LoadAgent(path string) (*Agent, error) {
	cfg := DefaultAgent()
	if err := loadFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func loadFile(path string, out interface{}) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Coordinator) applyEnv() {
	setFromEnv(&c.MasterKey, "BURROW_MASTER_KEY")
	setFromEnv(&c.DataDir, "BURROW_DATA_DIR")
	setFromEnv(&c.ListenAddr, "BURROW_LISTEN_ADDR")
	setFromEnv(&c.LogLevel, "BURROW_LOG_LEVEL")
}

func (a *Agent) applyEnv() {
	setFromEnv(&a.Token, "NODE_UUID")
	setFromEnv(&a.CoordinatorURL, "MASTER_DOMAIN")
	setFromEnv(&a.ListenAddr, "BURROW_AGENT_LISTEN_ADDR")
	setFromEnv(&a.LogLevel, "BURROW_LOG_LEVEL")
}

func setFromEnv(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate reports configuration that would prevent the coordinator from
// starting
func (c *Coordinator) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return errors.New("tls_cert and tls_key must be set together")
	}
	if c.OfflineAfter <= 0 {
		return errors.New("offline_after must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep_interval must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return errors.New("rate_burst must be at least 1 when rate_limit is set")
	}
	return nil
}

// Validate reports configuration that would prevent the agent from starting
func (a *Agent) Validate() error {
	if a.Token == "" {
		return errors.New("bootstrap token is required (token or NODE_UUID)")
	}
	if a.CoordinatorURL == "" {
		return errors.New("coordinator URL is required (coordinator_url or MASTER_DOMAIN)")
	}
	if a.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if (a.TLSCert == "") != (a.TLSKey == "") {
		return errors.New("tls_cert and tls_key must be set together")
	}
	if a.HeartbeatInterval <= 0 || a.RequestTimeout <= 0 || a.CommandTimeout <= 0 {
		return errors.New("heartbeat_interval, request_timeout and command_timeout must be positive")
	}
	if a.ReplayWindow < 0 {
		return errors.New("replay_window must not be negative")
	}
	if a.ConfigPath == "" {
		return errors.New("config_path is required")
	}
	return nil
}
