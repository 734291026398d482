package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/sandbox"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// DefaultHeartbeatInterval is the wait between heartbeats once registered
	DefaultHeartbeatInterval = 60 * time.Second

	// registerBackoffBase is the first wait after a failed registration
	registerBackoffBase = time.Second

	// backoffJitter spreads retries of many nodes restarting together
	backoffJitter = 0.2
)

// Coordinator is the subset of the coordinator API the agent uses
type Coordinator interface {
	Register(ctx context.Context, token string) (*types.RegisterResponse, error)
	Heartbeat(ctx context.Context, nodeID uint64, secret string, stats *types.ProxyStats) error
	FetchConfig(ctx context.Context, nodeID uint64, secret string) (*types.ConfigResponse, error)
}

// Config holds configuration for creating an Agent
type Config struct {
	Token             string
	HeartbeatInterval time.Duration
	ConfigPath        string
	ReplayWindow      time.Duration
}

// Agent registers with the coordinator, keeps it informed of liveness and
// serves signed commands against the local proxy
type Agent struct {
	cfg         Config
	coordinator Coordinator
	sandbox     *sandbox.Sandbox
	proxy       *ProxyInspector
	state       *State
	logger      zerolog.Logger

	// failures counts consecutive failed registrations; touched only by
	// the heartbeat loop
	failures int
}

// New creates an agent. The bootstrap token is required.
func New(cfg Config, coordinator Coordinator, sb *sandbox.Sandbox) (*Agent, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bootstrap token is required")
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}

	return &Agent{
		cfg:         cfg,
		coordinator: coordinator,
		sandbox:     sb,
		proxy:       NewProxyInspector(sb),
		state:       NewState(),
		logger:      log.WithComponent("agent"),
	}, nil
}

// State returns the shared registration state
func (a *Agent) State() *State {
	return a.state
}

// Run drives the heartbeat loop until ctx is cancelled. Errors inside a
// tick never stop the loop.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info().
		Str("token", security.Mask(a.cfg.Token)).
		Dur("interval", a.cfg.HeartbeatInterval).
		Msg("Heartbeat loop started")

	for {
		a.tick(ctx)

		timer := time.NewTimer(a.nextDelay())
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info().Msg("Heartbeat loop stopped")
			return nil
		case <-timer.C:
		}
	}
}

// tick registers or heartbeats, then refreshes the proxy status
func (a *Agent) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error().Interface("panic", r).Msg("Heartbeat tick panicked")
		}
	}()

	if !a.state.Snapshot().Registered {
		a.register(ctx)
	} else {
		a.heartbeat(ctx)
	}

	a.state.SetProxyStatus(a.proxy.Status(ctx))
}

func (a *Agent) register(ctx context.Context) {
	a.logger.Info().Msg("Registering with coordinator")

	resp, err := a.coordinator.Register(ctx, a.cfg.Token)
	if err != nil {
		a.failures++
		metrics.AgentRegistered.Set(0)
		a.logger.Error().Err(err).Int("attempt", a.failures).Msg("Registration failed")
		return
	}

	a.failures = 0
	a.state.SetRegistered(resp)
	metrics.AgentRegistered.Set(1)

	logger := log.WithNodeID(a.logger, resp.NodeID)
	logger.Info().Msg("Registered with coordinator")

	a.seedConfig(ctx, logger, resp)
}

// seedConfig installs the coordinator's stored proxy config when the node
// has none on disk yet. An existing local config is left alone, since it
// may have been pushed over the command channel after provisioning.
// Failures are logged and never undo the registration.
func (a *Agent) seedConfig(ctx context.Context, logger zerolog.Logger, reg *types.RegisterResponse) {
	if a.cfg.ConfigPath == "" {
		return
	}
	if _, err := os.Stat(a.cfg.ConfigPath); err == nil {
		logger.Debug().Str("path", a.cfg.ConfigPath).Msg("Keeping existing proxy config")
		return
	} else if !errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Err(err).Str("path", a.cfg.ConfigPath).Msg("Cannot inspect proxy config")
		return
	}

	cfg, err := a.coordinator.FetchConfig(ctx, reg.NodeID, reg.APISecret)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to fetch proxy config")
		return
	}
	if cfg.XrayConfig == "" || !json.Valid([]byte(cfg.XrayConfig)) {
		logger.Warn().Str("version", cfg.ConfigVersion).Msg("Coordinator returned an unusable proxy config")
		return
	}

	if err := writeFileAtomic(a.cfg.ConfigPath, []byte(cfg.XrayConfig)); err != nil {
		logger.Error().Err(err).Str("path", a.cfg.ConfigPath).Msg("Failed to write proxy config")
		return
	}
	if _, err := a.sandbox.Execute(ctx, types.VerbSetConfig, nil); err != nil {
		logger.Warn().Err(err).Msg("Proxy restart after config install failed")
		return
	}
	logger.Info().Str("version", cfg.ConfigVersion).Int("bytes", len(cfg.XrayConfig)).Msg("Installed proxy config from coordinator")
}

func (a *Agent) heartbeat(ctx context.Context) {
	snap := a.state.Snapshot()
	stats := a.proxy.Stats(snap.ProxyStatus)
	logger := log.WithNodeID(a.logger, snap.NodeID)

	if err := a.coordinator.Heartbeat(ctx, snap.NodeID, snap.APISecret, &stats); err != nil {
		metrics.AgentHeartbeatsTotal.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("Heartbeat failed")
		return
	}

	metrics.AgentHeartbeatsTotal.WithLabelValues("ok").Inc()
	a.state.MarkHeartbeat(time.Now())
	logger.Debug().Msg("Heartbeat sent")
}

// nextDelay is the fixed interval once registered, otherwise a jittered
// exponential backoff capped at the interval
func (a *Agent) nextDelay() time.Duration {
	if a.state.Snapshot().Registered {
		return a.cfg.HeartbeatInterval
	}
	return jitter(backoff(a.failures, a.cfg.HeartbeatInterval))
}

// backoff returns base * 2^(failures-1), capped at max
func backoff(failures int, max time.Duration) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := registerBackoffBase
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// jitter spreads d uniformly over ±backoffJitter
func jitter(d time.Duration) time.Duration {
	f := 1 + backoffJitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}
