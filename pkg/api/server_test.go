package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/middleware"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMasterKey = "test-master-key"

func newTestManager(t *testing.T) *manager.Manager {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	issuer, err := security.NewIssuer(testMasterKey)
	require.NoError(t, err)

	mgr := manager.NewManagerWithStore(store, issuer)
	t.Cleanup(func() { mgr.Shutdown() })
	return mgr
}

func seedToken(t *testing.T, mgr *manager.Manager, token string) *types.Node {
	t.Helper()
	node := &types.Node{
		Name:      "edge",
		ServerIP:  "203.0.113.10",
		Token:     token,
		APISecret: security.DeriveSecret(testMasterKey, token),
		Status:    types.NodeStatusOffline,
		Features:  types.DefaultFeatureConfig(),
	}
	require.NoError(t, mgr.Store().CreateNode(node))
	return node
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRegisterEndpoint(t *testing.T) {
	mgr := newTestManager(t)
	seedToken(t, mgr, "abc123")
	h := NewServer(mgr).Handler()

	w := post(t, h, "/api/node/register", `{"token":"abc123","timestamp":1700000000}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["node_id"])
	assert.Equal(t, security.DeriveSecret(testMasterKey, "abc123"), resp["api_secret"])
	assert.Equal(t, security.HiddenPath("abc123"), resp["hidden_path"])

	cfg, ok := resp["config"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, cfg["enable_vless"])
	assert.Equal(t, false, cfg["enable_splithttp"])
	assert.Equal(t, false, cfg["enable_hysteria2"])
	assert.Equal(t, float64(100), cfg["max_users"])
}

func TestRegisterEndpointErrors(t *testing.T) {
	mgr := newTestManager(t)
	seedToken(t, mgr, "abc123")
	h := NewServer(mgr).Handler()

	tests := []struct {
		name string
		body string
		code int
	}{
		{"unknown token", `{"token":"nope"}`, http.StatusUnauthorized},
		{"missing token", `{"timestamp":1}`, http.StatusBadRequest},
		{"not json", `token=abc123`, http.StatusBadRequest},
		{"empty body", ``, http.StatusBadRequest},
		{"wrong type", `{"token":123}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, h, "/api/node/register", tt.body)
			assert.Equal(t, tt.code, w.Code)

			var resp types.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestNodeEndpointsRejectGet(t *testing.T) {
	h := NewServer(newTestManager(t)).Handler()

	for _, path := range []string{"/api/node/register", "/api/node/heartbeat", "/api/node/config"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, path)
	}
}

func TestHeartbeatEndpoint(t *testing.T) {
	mgr := newTestManager(t)
	node := seedToken(t, mgr, "abc123")
	h := NewServer(mgr).Handler()
	secret := security.DeriveSecret(testMasterKey, "abc123")

	body, _ := json.Marshal(types.HeartbeatRequest{
		NodeID:    node.ID,
		APISecret: secret,
		Timestamp: 1700000000,
		Stats:     json.RawMessage(`{"uptime":10}`),
	})
	w := post(t, h, "/api/node/heartbeat", string(body))
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.StatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	stored, err := mgr.GetNode(node.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NodeStatusOnline, stored.Status)

	w = post(t, h, "/api/node/heartbeat", `{"node_id":1,"api_secret":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(t, h, "/api/node/heartbeat", `{"node_id":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHeartbeatEndpointAcceptsArbitraryStats(t *testing.T) {
	secret := security.DeriveSecret(testMasterKey, "abc123")

	tests := []struct {
		name  string
		stats string
	}{
		{"float value", `{"uptime":12.5}`},
		{"string counter", `{"connections":"7"}`},
		{"nested object", `{"uptime":1,"cpu":{"load":0.3},"mem":"2G"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr := newTestManager(t)
			node := seedToken(t, mgr, "abc123")
			h := NewServer(mgr).Handler()

			body := fmt.Sprintf(`{"node_id":%d,"api_secret":%q,"timestamp":1700000000,"stats":%s}`, node.ID, secret, tt.stats)
			w := post(t, h, "/api/node/heartbeat", body)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())

			stored, err := mgr.GetNode(node.ID)
			require.NoError(t, err)
			assert.Equal(t, types.NodeStatusOnline, stored.Status)
			require.NotNil(t, stored.LastSeen)
			assert.Equal(t, tt.stats, string(stored.LastStats))
		})
	}
}

func TestOversizedBodyIsRejected(t *testing.T) {
	mgr := newTestManager(t)
	node := seedToken(t, mgr, "abc123")
	h := NewServer(mgr).Handler()

	padding := strings.Repeat("x", maxBodyBytes)
	body := fmt.Sprintf(`{"node_id":%d,"api_secret":"s","stats":{"pad":%q}}`, node.ID, padding)
	w := post(t, h, "/api/node/heartbeat", body)
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	var resp types.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Body too large", resp.Error)

	stored, err := mgr.GetNode(node.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastSeen)
}

func TestConfigEndpoint(t *testing.T) {
	mgr := newTestManager(t)
	node := seedToken(t, mgr, "abc123")
	h := NewServer(mgr).Handler()
	secret := security.DeriveSecret(testMasterKey, "abc123")

	_, err := mgr.SetXrayConfig(node.ID, `{"inbounds":[]}`)
	require.NoError(t, err)

	body, _ := json.Marshal(types.ConfigRequest{NodeID: node.ID, APISecret: secret})
	w := post(t, h, "/api/node/config", string(body))
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.ConfigResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, `{"inbounds":[]}`, resp.XrayConfig)
	assert.Equal(t, "1.0", resp.ConfigVersion)

	w = post(t, h, "/api/node/config", `{"node_id":1,"api_secret":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(t, h, "/api/node/config", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewServer(newTestManager(t)).Handler()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterRateLimited(t *testing.T) {
	mgr := newTestManager(t)
	mw := middleware.New(middleware.Config{
		RateLimit: &middleware.RateLimit{RequestsPerSecond: 0.001, Burst: 1},
	})
	h := NewServerWithMiddleware(mgr, mw).Handler()

	w := post(t, h, "/api/node/register", `{"token":"guess-1"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(t, h, "/api/node/register", `{"token":"guess-2"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
