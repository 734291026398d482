package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultTimeout bounds every request to the coordinator
const DefaultTimeout = 30 * time.Second

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 1 << 20

// StatusError is returned when the peer answers with a non-200 status
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// Client talks to the coordinator's node API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a coordinator client. A base URL without a scheme is
// treated as an HTTPS host. A nil tlsConfig uses the system roots.
func NewClient(baseURL string, tlsConfig *tls.Config, timeout time.Duration) (*Client, error) {
	base, err := NormalizeURL(baseURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}, nil
}

// NormalizeURL trims trailing slashes and defaults the scheme to https
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("coordinator URL is required")
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/"), nil
}

// BaseURL returns the normalized coordinator URL
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Register presents the bootstrap token and returns the issued identity
func (c *Client) Register(ctx context.Context, token string) (*types.RegisterResponse, error) {
	var resp types.RegisterResponse
	req := types.RegisterRequest{Token: token, Timestamp: time.Now().Unix()}
	if err := c.post(ctx, "/api/node/register", req, &resp); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	if resp.NodeID == 0 || resp.APISecret == "" {
		return nil, errors.New("register: response missing node_id or api_secret")
	}
	return &resp, nil
}

// Heartbeat reports liveness and proxy telemetry
func (c *Client) Heartbeat(ctx context.Context, nodeID uint64, secret string, stats *types.ProxyStats) error {
	req := types.HeartbeatRequest{
		NodeID:    nodeID,
		APISecret: secret,
		Timestamp: time.Now().Unix(),
	}
	if stats != nil {
		data, err := json.Marshal(stats)
		if err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		req.Stats = data
	}
	var resp types.StatusResponse
	if err := c.post(ctx, "/api/node/heartbeat", req, &resp); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// FetchConfig retrieves the stored proxy config for this node
func (c *Client) FetchConfig(ctx context.Context, nodeID uint64, secret string) (*types.ConfigResponse, error) {
	var resp types.ConfigResponse
	req := types.ConfigRequest{NodeID: nodeID, APISecret: secret}
	if err := c.post(ctx, "/api/node/config", req, &resp); err != nil {
		return nil, fmt.Errorf("fetch config: %w", err)
	}
	return &resp, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return do(c.httpClient, req, out)
}

// do sends req and decodes a 200 JSON answer into out. 401 maps to
// security.ErrAuthentication; other non-200 codes become a StatusError.
func do(hc *http.Client, req *http.Request, out interface{}) error {
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e types.ErrorResponse
		_ = json.Unmarshal(data, &e)
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", security.ErrAuthentication, e.Error)
		}
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
