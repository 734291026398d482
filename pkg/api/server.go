package api

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/middleware"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds node request bodies
const maxBodyBytes = 1 << 20

// Server exposes the coordinator's node-facing JSON API
type Server struct {
	manager *manager.Manager
	mux     *http.ServeMux
	server  *http.Server
	logger  zerolog.Logger
}

// NewServer creates a new API server
func NewServer(mgr *manager.Manager) *Server {
	return NewServerWithMiddleware(mgr, nil)
}

// NewServerWithMiddleware creates an API server whose node routes are
// guarded by mw. A nil mw leaves them unguarded.
func NewServerWithMiddleware(mgr *manager.Manager, mw *middleware.Middleware) *Server {
	s := &Server{
		manager: mgr,
		mux:     http.NewServeMux(),
		logger:  log.WithComponent("api"),
	}

	guard := func(h http.HandlerFunc) http.HandlerFunc {
		if mw == nil {
			return h
		}
		return mw.Wrap(h)
	}

	s.mux.HandleFunc("/api/node/register", metrics.InstrumentHandler("register", guard(s.handleRegister)))
	s.mux.HandleFunc("/api/node/heartbeat", metrics.InstrumentHandler("heartbeat", guard(s.handleHeartbeat)))
	s.mux.HandleFunc("/api/node/config", metrics.InstrumentHandler("config", guard(s.handleConfig)))

	health := NewHealthServer(mgr)
	s.mux.Handle("/health", health.GetHandler())
	s.mux.Handle("/ready", health.GetHandler())
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves on addr until Stop is called. With a non-nil TLS config the
// listener speaks HTTPS only.
func (s *Server) Start(addr string, tlsConfig *tls.Config) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Handler:      s.mux,
		TLSConfig:    tlsConfig,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if tlsConfig != nil {
		lis = tls.NewListener(lis, tlsConfig)
		s.logger.Info().Str("addr", addr).Msg("API server listening (TLS)")
	} else {
		s.logger.Warn().Str("addr", addr).Msg("API server listening without TLS")
	}

	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down
func (s *Server) Stop() {
	if s.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if !decodeNodeRequest(w, r, &req) {
		return
	}

	resp, err := s.manager.Register(req.Token)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req types.HeartbeatRequest
	if !decodeNodeRequest(w, r, &req) {
		return
	}

	if err := s.manager.Heartbeat(&req); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.StatusResponse{Status: "ok"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req types.ConfigRequest
	if !decodeNodeRequest(w, r, &req) {
		return
	}

	resp, err := s.manager.NodeConfig(req.NodeID, req.APISecret)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// decodeNodeRequest enforces POST and a JSON object body; it writes the
// error response itself and reports whether the handler should continue
func decodeNodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, types.ErrorResponse{Error: "Method not allowed"})
		return false
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, types.ErrorResponse{Error: "Body too large"})
		return false
	}
	if err != nil || len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "Invalid JSON"})
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "Invalid JSON"})
		return false
	}
	return true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manager.ErrMalformedInput):
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "Missing parameters"})
	case errors.Is(err, security.ErrAuthentication):
		writeJSON(w, http.StatusUnauthorized, types.ErrorResponse{Error: "Authentication failed"})
	default:
		s.logger.Error().Err(err).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{Error: "Internal error"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
