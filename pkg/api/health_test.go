package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestHealthHandler tests the /health endpoint
func TestHealthHandler(t *testing.T) {
	hs := NewHealthServer(nil) // nil manager is OK for health check

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{
			name:           "GET request succeeds",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST request fails",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
		{
			name:           "DELETE request fails",
			method:         http.MethodDelete,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			hs.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)

			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				err := json.NewDecoder(w.Body).Decode(&response)
				assert.NoError(t, err)
				assert.Equal(t, "healthy", response.Status)
				assert.NotZero(t, response.Timestamp)
				assert.NotEmpty(t, response.Version)
			}
		})
	}
}

// TestReadyHandlerNoManager tests readiness endpoint with no manager
func TestReadyHandlerNoManager(t *testing.T) {
	hs := NewHealthServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response ReadyResponse
	err := json.NewDecoder(w.Body).Decode(&response)
	assert.NoError(t, err)

	assert.Equal(t, "not ready", response.Status)
	assert.Contains(t, response.Checks["storage"], "not initialized")
	assert.NotEmpty(t, response.Message)
}

// TestReadyHandlerWithStore tests readiness against a live node store
func TestReadyHandlerWithStore(t *testing.T) {
	mgr := newTestManager(t)
	hs := NewHealthServer(mgr)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	hs.readyHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var response ReadyResponse
	assert.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ready", response.Status)
	assert.Equal(t, "ok", response.Checks["storage"])
}

// TestGetHandler tests route registration through GetHandler
func TestGetHandler(t *testing.T) {
	hs := NewHealthServer(nil)

	tests := []struct {
		path           string
		expectedStatus int
	}{
		{path: "/health", expectedStatus: http.StatusOK},
		{path: "/ready", expectedStatus: http.StatusServiceUnavailable},
		{path: "/nonexistent", expectedStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()

			hs.GetHandler().ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, "Path: %s", tt.path)
		})
	}
}

func BenchmarkHealthHandler(b *testing.B) {
	hs := NewHealthServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		hs.healthHandler(w, req)
	}
}
