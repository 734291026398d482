package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "burrow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	assert.NoError(t, DefaultCoordinator().Validate())

	a := DefaultAgent()
	a.Token = "abc123"
	a.CoordinatorURL = "master.example.com"
	assert.NoError(t, a.Validate())
}

func TestLoadCoordinator(t *testing.T) {
	path := writeConfig(t, `
listen_addr: ":9443"
data_dir: /var/lib/burrow
master_key: from-file
offline_after: 5m
sweep_interval: 10s
rate_limit: 2.5
rate_burst: 4
log_json: true
`)

	cfg, err := LoadCoordinator(path)
	require.NoError(t, err)

	assert.Equal(t, ":9443", cfg.ListenAddr)
	assert.Equal(t, "/var/lib/burrow", cfg.DataDir)
	assert.Equal(t, "from-file", cfg.MasterKey)
	assert.Equal(t, 5*time.Minute, cfg.OfflineAfter)
	assert.Equal(t, 10*time.Second, cfg.SweepInterval)
	assert.Equal(t, 2.5, cfg.RateLimit)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, "info", cfg.LogLevel, "unset keys keep defaults")
	assert.NoError(t, cfg.Validate())
}

func TestLoadCoordinatorEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "master_key: from-file\n")
	t.Setenv("BURROW_MASTER_KEY", "from-env")

	cfg, err := LoadCoordinator(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.MasterKey)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "listen_adr: \":1\"\n")
	_, err := LoadCoordinator(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadAgent(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := LoadAgent(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, DefaultAgent().ListenAddr, cfg.ListenAddr)
}

func TestLoadAgent(t *testing.T) {
	path := writeConfig(t, `
coordinator_url: https://master.example.com
heartbeat_interval: 30s
replay_window: 2m
allowed_ips:
  - 203.0.113.0/24
service: proxy
container: proxy-1
`)
	t.Setenv("NODE_UUID", "env-token")

	cfg, err := LoadAgent(path)
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.Token)
	assert.Equal(t, "https://master.example.com", cfg.CoordinatorURL)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 2*time.Minute, cfg.ReplayWindow)
	assert.Equal(t, []string{"203.0.113.0/24"}, cfg.AllowedIPs)
	assert.Equal(t, "proxy", cfg.Service)
	assert.Equal(t, "proxy-1", cfg.Container)
	assert.Equal(t, 30*time.Second, cfg.CommandTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestAgentEnvOnly(t *testing.T) {
	t.Setenv("NODE_UUID", "abc123")
	t.Setenv("MASTER_DOMAIN", "master.example.com")

	cfg, err := LoadAgent("")
	require.NoError(t, err)
	assert.Equal(t, "abc123", cfg.Token)
	assert.Equal(t, "master.example.com", cfg.CoordinatorURL)
	assert.NoError(t, cfg.Validate())
}

func TestCoordinatorValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Coordinator)
	}{
		{"no listen addr", func(c *Coordinator) { c.ListenAddr = "" }},
		{"no data dir", func(c *Coordinator) { c.DataDir = "" }},
		{"cert without key", func(c *Coordinator) { c.TLSCert = "server.crt" }},
		{"zero offline", func(c *Coordinator) { c.OfflineAfter = 0 }},
		{"zero sweep", func(c *Coordinator) { c.SweepInterval = 0 }},
		{"negative rate", func(c *Coordinator) { c.RateLimit = -1 }},
		{"rate without burst", func(c *Coordinator) { c.RateBurst = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCoordinator()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestAgentValidate(t *testing.T) {
	valid := func() *Agent {
		a := DefaultAgent()
		a.Token = "abc123"
		a.CoordinatorURL = "master.example.com"
		return a
	}

	tests := []struct {
		name   string
		mutate func(*Agent)
	}{
		{"no token", func(a *Agent) { a.Token = "" }},
		{"no coordinator", func(a *Agent) { a.CoordinatorURL = "" }},
		{"no listen addr", func(a *Agent) { a.ListenAddr = "" }},
		{"key without cert", func(a *Agent) { a.TLSKey = "node.key" }},
		{"zero heartbeat", func(a *Agent) { a.HeartbeatInterval = 0 }},
		{"negative replay", func(a *Agent) { a.ReplayWindow = -time.Second }},
		{"no config path", func(a *Agent) { a.ConfigPath = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := valid()
			tt.mutate(a)
			assert.Error(t, a.Validate())
		})
	}
}
