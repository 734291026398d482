package metrics

import (
	"time"

	"github.com/cuemby/burrow/pkg/types"
)

// NodeLister is the slice of the node store the collector needs
type NodeLister interface {
	ListNodes() ([]*types.Node, error)
}

// Collector periodically refreshes gauges derived from stored node records
type Collector struct {
	nodes    NodeLister
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(nodes NodeLister, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		nodes:    nodes,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect recomputes the node gauges once
func (c *Collector) Collect() {
	nodes, err := c.nodes.ListNodes()
	if err != nil {
		return
	}

	counts := map[types.NodeStatus]int{
		types.NodeStatusOnline:  0,
		types.NodeStatusOffline: 0,
	}
	for _, node := range nodes {
		status := node.Status
		if status == "" {
			status = types.NodeStatusOffline
		}
		counts[status]++
	}

	for status, count := range counts {
		NodesTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
