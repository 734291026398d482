package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/manager"
)

// Version is reported by the health endpoint; set from the CLI build info
var Version = "dev"

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	manager *manager.Manager
	mux     *http.ServeMux
}

// NewHealthServer creates a new health check HTTP server
func NewHealthServer(mgr *manager.Manager) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		manager: mgr,
		mux:     mux,
	}

	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)

	return hs
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
	})
}

// readyHandler implements the /ready endpoint
// Ready means the node store answers reads
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.manager == nil {
		checks["storage"] = "not initialized"
		ready = false
		message = "Manager not initialized"
	} else if err := hs.manager.Store().Ping(); err != nil {
		checks["storage"] = fmt.Sprintf("error: %v", err)
		ready = false
		message = "Storage not accessible"
	} else {
		checks["storage"] = "ok"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
