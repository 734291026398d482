package manager

import (
	"context"
	"time"

	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// MarkStaleNodes transitions online nodes not seen within offlineAfter to
// offline and returns how many changed
func (m *Manager) MarkStaleNodes(offlineAfter time.Duration) (int, error) {
	nodes, err := m.store.ListNodes()
	if err != nil {
		return 0, err
	}

	cutoff := m.now().UTC().Add(-offlineAfter)
	marked := 0
	for _, node := range nodes {
		if node.Status != types.NodeStatusOnline {
			continue
		}
		if node.LastSeen != nil && node.LastSeen.After(cutoff) {
			continue
		}

		changed := false
		_, err := m.store.UpdateNode(node.ID, func(n *types.Node) error {
			// A heartbeat may have landed since the listing
			if n.Status == types.NodeStatusOnline && (n.LastSeen == nil || !n.LastSeen.After(cutoff)) {
				n.Status = types.NodeStatusOffline
				changed = true
			}
			return nil
		})
		if err != nil {
			m.logger.Warn().Err(err).Uint64("node_id", node.ID).Msg("Failed to mark node offline")
			continue
		}
		if changed {
			marked++
			metrics.NodesMarkedOffline.Inc()
			m.logger.Info().Uint64("node_id", node.ID).Msg("Node marked offline")
		}
	}
	return marked, nil
}

// RunSweeper marks stale nodes offline every interval until ctx is done
func (m *Manager) RunSweeper(ctx context.Context, interval, offlineAfter time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.MarkStaleNodes(offlineAfter); err != nil {
				m.logger.Error().Err(err).Msg("Staleness sweep failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
