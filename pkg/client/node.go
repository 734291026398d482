package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
)

// RequestIDHeader correlates a signed command with the agent's logs
const RequestIDHeader = "X-Request-ID"

// NodeClient sends signed commands to a node agent
type NodeClient struct {
	baseURL    string
	secret     string
	httpClient *http.Client
	now        func() time.Time
}

// NewNodeClient creates a client for the agent at baseURL, signing every
// command with the node's API secret
func NewNodeClient(baseURL, secret string, tlsConfig *tls.Config, timeout time.Duration) (*NodeClient, error) {
	base, err := NormalizeURL(baseURL)
	if err != nil {
		return nil, err
	}
	if secret == "" {
		return nil, fmt.Errorf("node secret is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	return &NodeClient{
		baseURL:    base,
		secret:     secret,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
		now:        time.Now,
	}, nil
}

// Restart asks the agent to restart the proxy service
func (c *NodeClient) Restart(ctx context.Context) (*types.StatusResponse, error) {
	var resp types.StatusResponse
	if err := c.send(ctx, "/api/restart", map[string]interface{}{}, &resp); err != nil {
		return nil, fmt.Errorf("restart: %w", err)
	}
	return &resp, nil
}

// PushConfig replaces the proxy config on the node and restarts the service
func (c *NodeClient) PushConfig(ctx context.Context, config string) (*types.StatusResponse, error) {
	var resp types.StatusResponse
	if err := c.send(ctx, "/api/config", map[string]interface{}{"config": config}, &resp); err != nil {
		return nil, fmt.Errorf("push config: %w", err)
	}
	return &resp, nil
}

// Logs fetches the last lines of proxy output
func (c *NodeClient) Logs(ctx context.Context, lines int) (*types.LogsResponse, error) {
	var resp types.LogsResponse
	if err := c.send(ctx, "/api/logs", map[string]interface{}{"lines": lines}, &resp); err != nil {
		return nil, fmt.Errorf("logs: %w", err)
	}
	return &resp, nil
}

// Stats fetches proxy telemetry
func (c *NodeClient) Stats(ctx context.Context) (*types.StatsResponse, error) {
	var resp types.StatsResponse
	if err := c.send(ctx, "/api/stats", map[string]interface{}{}, &resp); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &resp, nil
}

// send stamps params with the current time, signs the canonical body and
// posts it
func (c *NodeClient) send(ctx context.Context, path string, params map[string]interface{}, out interface{}) error {
	params["timestamp"] = c.now().Unix()

	body, err := security.CanonicalizeValue(params)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(security.SignatureHeader, security.Sign(c.secret, body))
	req.Header.Set(RequestIDHeader, uuid.New().String())

	return do(c.httpClient, req, out)
}
