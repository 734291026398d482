package manager

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
)

// issueAttempts bounds retries when a freshly generated token collides
const issueAttempts = 3

// NodeSpec describes a node an operator provisions
type NodeSpec struct {
	Name        string
	ServerIP    string
	Location    string
	Description string
	Features    *types.FeatureConfig
}

// ProvisionNode creates a node record with a fresh token and derived secret
func (m *Manager) ProvisionNode(spec NodeSpec) (*types.Node, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("%w: node name required", ErrMalformedInput)
	}
	if spec.ServerIP == "" {
		return nil, fmt.Errorf("%w: server ip required", ErrMalformedInput)
	}

	features := types.DefaultFeatureConfig()
	if spec.Features != nil {
		features = *spec.Features
	}

	for attempt := 0; attempt < issueAttempts; attempt++ {
		node := &types.Node{
			Name:        spec.Name,
			ServerIP:    spec.ServerIP,
			Location:    spec.Location,
			Description: spec.Description,
			Status:      types.NodeStatusOffline,
			Features:    features,
			XrayStatus:  types.ProxyStatusStopped,
			CreatedAt:   m.now().UTC(),
		}

		if err := m.issuer.Issue(node); err != nil {
			return nil, fmt.Errorf("failed to issue credentials: %w", err)
		}

		err := m.store.CreateNode(node)
		if errors.Is(err, storage.ErrTokenExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to create node: %w", err)
		}

		m.logger.Info().Uint64("node_id", node.ID).Str("name", node.Name).Msg("Node provisioned")
		return node, nil
	}

	return nil, fmt.Errorf("failed to issue a unique token after %d attempts", issueAttempts)
}

// SetXrayConfig stores the proxy config served to a node. The config must be
// valid JSON.
func (m *Manager) SetXrayConfig(id uint64, config string) (*types.Node, error) {
	if !json.Valid([]byte(config)) {
		return nil, fmt.Errorf("%w: config is not valid JSON", ErrMalformedInput)
	}
	return m.store.UpdateNode(id, func(n *types.Node) error {
		n.XrayConfig = config
		return nil
	})
}

// SetFeatures replaces the feature flags handed out at registration
func (m *Manager) SetFeatures(id uint64, features types.FeatureConfig) (*types.Node, error) {
	if features.MaxUsers < 0 {
		return nil, fmt.Errorf("%w: max users cannot be negative", ErrMalformedInput)
	}
	return m.store.UpdateNode(id, func(n *types.Node) error {
		n.Features = features
		return nil
	})
}
