package agent

import (
	"bufio"
	"context"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/sandbox"
	"github.com/cuemby/burrow/pkg/types"
)

// ParseProxyStatus reads `docker ps --all --no-trunc` output and reports the
// state of container. The NAMES column is last; STATUS starts with "Up" for
// a running container.
func ParseProxyStatus(output, container string) types.ProxyStatus {
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[len(fields)-1] != container {
			continue
		}
		for _, f := range fields {
			if f == "Up" {
				return types.ProxyStatusRunning
			}
		}
		return types.ProxyStatusStopped
	}
	return types.ProxyStatusUnknown
}

// ProxyInspector queries the managed proxy through the sandbox
type ProxyInspector struct {
	sandbox *sandbox.Sandbox
	started time.Time
}

// NewProxyInspector creates an inspector; uptime is counted from now
func NewProxyInspector(sb *sandbox.Sandbox) *ProxyInspector {
	return &ProxyInspector{sandbox: sb, started: time.Now()}
}

// Status inspects the container state. Any failure to run docker ps is
// reported as ProxyStatusError.
func (p *ProxyInspector) Status(ctx context.Context) types.ProxyStatus {
	result, err := p.sandbox.Execute(ctx, types.VerbGetStats, nil)
	if err != nil {
		return types.ProxyStatusError
	}
	return ParseProxyStatus(result.Stdout, p.sandbox.Resolver().Container())
}

// Stats returns the telemetry reported in heartbeats and on /api/stats.
// Connection and traffic counters stay zero until the proxy exposes a
// stats API.
func (p *ProxyInspector) Stats(status types.ProxyStatus) types.ProxyStats {
	return types.ProxyStats{
		Uptime:     int64(time.Since(p.started).Seconds()),
		XrayStatus: status,
	}
}
