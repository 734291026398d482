package manager

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// ErrMalformedInput is returned for requests missing required fields
var ErrMalformedInput = errors.New("malformed input")

// Manager is the coordinator: it issues node credentials and processes
// registration, heartbeat and config requests against the node store
type Manager struct {
	store  storage.Store
	issuer *security.Issuer
	now    func() time.Time
	logger zerolog.Logger
}

// Config holds configuration for creating a Manager
type Config struct {
	DataDir   string
	MasterKey string
}

// NewManager opens the node store under cfg.DataDir and creates a Manager
func NewManager(cfg *Config) (*Manager, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	issuer, err := security.NewIssuer(cfg.MasterKey)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create issuer: %w", err)
	}

	return NewManagerWithStore(store, issuer), nil
}

// NewManagerWithStore creates a Manager over an existing store
func NewManagerWithStore(store storage.Store, issuer *security.Issuer) *Manager {
	return &Manager{
		store:  store,
		issuer: issuer,
		now:    time.Now,
		logger: log.WithComponent("manager"),
	}
}

// Store returns the underlying node store
func (m *Manager) Store() storage.Store {
	return m.store
}

// Shutdown closes the node store
func (m *Manager) Shutdown() error {
	return m.store.Close()
}

// touch marks a node online and advances LastSeen without ever moving it back
func (m *Manager) touch(node *types.Node) {
	now := m.now().UTC()
	if node.LastSeen == nil || now.After(*node.LastSeen) {
		node.LastSeen = &now
	}
	node.Status = types.NodeStatusOnline
}

// Register validates a bootstrap token and returns the node's identity and
// secret. Repeated calls with the same token return the same identity.
func (m *Manager) Register(token string) (*types.RegisterResponse, error) {
	if token == "" {
		metrics.RegistrationsTotal.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: token required", ErrMalformedInput)
	}

	derived := m.issuer.Secret(token)
	node, err := m.store.UpdateNodeByToken(token, func(n *types.Node) error {
		if n.APISecret != derived {
			m.logger.Error().
				Uint64("node_id", n.ID).
				Msg("Stored API secret does not match derivation, repairing")
			n.APISecret = derived
		}
		m.touch(n)
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			metrics.RegistrationsTotal.WithLabelValues("rejected").Inc()
			m.logger.Warn().Str("token", security.Mask(token)).Msg("Registration with unknown token")
			return nil, security.ErrAuthentication
		}
		metrics.RegistrationsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to update node: %w", err)
	}

	metrics.RegistrationsTotal.WithLabelValues("ok").Inc()
	m.logger.Info().Uint64("node_id", node.ID).Str("name", node.Name).Msg("Node registered")

	return &types.RegisterResponse{
		NodeID:     node.ID,
		APISecret:  node.APISecret,
		HiddenPath: security.HiddenPath(token),
		Config:     node.Features,
	}, nil
}

// authenticate checks a presented secret against the derivation for the
// node's token; used inside store transactions
func (m *Manager) authenticate(node *types.Node, secret string) error {
	if !m.issuer.Verify(node.Token, secret) {
		return security.ErrAuthentication
	}
	return nil
}

// Heartbeat refreshes liveness for an authenticated node. On any
// authentication failure the stored record is left untouched.
func (m *Manager) Heartbeat(req *types.HeartbeatRequest) error {
	if req == nil || req.NodeID == 0 || req.APISecret == "" {
		metrics.HeartbeatsTotal.WithLabelValues("malformed").Inc()
		return fmt.Errorf("%w: missing parameters", ErrMalformedInput)
	}

	stats, xrayStatus := m.parseStats(req.NodeID, req.Stats)

	_, err := m.store.UpdateNode(req.NodeID, func(n *types.Node) error {
		if err := m.authenticate(n, req.APISecret); err != nil {
			return err
		}
		m.touch(n)
		if stats != nil {
			n.LastStats = stats
		}
		if xrayStatus != "" {
			n.XrayStatus = xrayStatus
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, security.ErrAuthentication) {
			metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
			logger := log.WithNodeID(m.logger, req.NodeID)
			logger.Warn().Msg("Heartbeat authentication failed")
			return security.ErrAuthentication
		}
		metrics.HeartbeatsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to update node: %w", err)
	}

	metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()
	logger := log.WithNodeID(m.logger, req.NodeID)
	logger.Debug().Msg("Heartbeat received")
	return nil
}

// parseStats returns heartbeat telemetry to store, compacted but otherwise
// unchanged, and the proxy status reported in it, if any. Telemetry never
// blocks a liveness update: unusable stats are dropped and an unreadable
// status is ignored.
func (m *Manager) parseStats(nodeID uint64, raw json.RawMessage) (json.RawMessage, types.ProxyStatus) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ""
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		logger := log.WithNodeID(m.logger, nodeID)
		logger.Warn().Msg("Dropping heartbeat stats that are not valid JSON")
		return nil, ""
	}
	if compact.String() == "null" {
		return nil, ""
	}
	stats := json.RawMessage(compact.Bytes())

	var reported struct {
		XrayStatus types.ProxyStatus `json:"xray_status"`
	}
	if err := json.Unmarshal(stats, &reported); err != nil {
		return stats, ""
	}
	switch reported.XrayStatus {
	case types.ProxyStatusRunning, types.ProxyStatusStopped, types.ProxyStatusUnknown, types.ProxyStatusError:
		return stats, reported.XrayStatus
	default:
		return stats, ""
	}
}

// NodeConfig returns the stored proxy config for an authenticated node
func (m *Manager) NodeConfig(nodeID uint64, secret string) (*types.ConfigResponse, error) {
	if nodeID == 0 || secret == "" {
		return nil, fmt.Errorf("%w: missing parameters", ErrMalformedInput)
	}

	node, err := m.store.GetNode(nodeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, security.ErrAuthentication
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	if err := m.authenticate(node, secret); err != nil {
		m.logger.Warn().Uint64("node_id", nodeID).Msg("Config request authentication failed")
		return nil, err
	}

	cfg := node.XrayConfig
	if cfg == "" {
		cfg = types.DefaultXrayConfig
	}
	return &types.ConfigResponse{
		XrayConfig:    cfg,
		ConfigVersion: types.ConfigVersion,
	}, nil
}

// ListNodes returns all provisioned nodes
func (m *Manager) ListNodes() ([]*types.Node, error) {
	return m.store.ListNodes()
}

// GetNode returns a node by id
func (m *Manager) GetNode(id uint64) (*types.Node, error) {
	return m.store.GetNode(id)
}

// DeleteNode removes a node and releases its token
func (m *Manager) DeleteNode(id uint64) error {
	if err := m.store.DeleteNode(id); err != nil {
		return err
	}
	m.logger.Info().Uint64("node_id", id).Msg("Node removed")
	return nil
}

// NodeSecret returns the derived API secret for a stored node, used when the
// coordinator signs commands for it
func (m *Manager) NodeSecret(id uint64) (string, *types.Node, error) {
	node, err := m.store.GetNode(id)
	if err != nil {
		return "", nil, err
	}
	return m.issuer.Secret(node.Token), node, nil
}
