package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/middleware"
	"github.com/cuemby/burrow/pkg/sandbox"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// maxBodyBytes bounds command bodies; proxy configs fit well within it
const maxBodyBytes = 1 << 20

// responseGrace is added to the command timeout for the server write deadline
const responseGrace = 15 * time.Second

var (
	errInvalidBody = errors.New("invalid JSON body")
	errStale       = errors.New("timestamp outside replay window")
)

// reply is a handler outcome: status code and JSON payload
type reply struct {
	code int
	body interface{}
}

type commandFunc func(ctx context.Context, logger zerolog.Logger, params sandbox.Params) reply

// Server is the node's command channel
type Server struct {
	agent  *Agent
	mux    *http.ServeMux
	server *http.Server
	now    func() time.Time
	logger zerolog.Logger
}

// NewServer creates the command channel for a. A non-nil mw guards the
// signed command routes.
func NewServer(a *Agent, mw *middleware.Middleware) *Server {
	s := &Server{
		agent:  a,
		mux:    http.NewServeMux(),
		now:    time.Now,
		logger: log.WithComponent("command-channel"),
	}

	guard := func(h http.HandlerFunc) http.HandlerFunc {
		if mw == nil {
			return h
		}
		return mw.Wrap(h)
	}

	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/api/restart", guard(s.signed(types.VerbRestart, s.restart)))
	s.mux.HandleFunc("/api/config", guard(s.signed(types.VerbSetConfig, s.setConfig)))
	s.mux.HandleFunc("/api/logs", guard(s.signed(types.VerbGetLogs, s.logs)))
	s.mux.HandleFunc("/api/stats", guard(s.signed(types.VerbGetStats, s.stats)))

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves on addr until Stop is called
func (s *Server) Start(addr string, tlsConfig *tls.Config) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.server = s.newHTTPServer(tlsConfig)
	if tlsConfig != nil {
		lis = tls.NewListener(lis, tlsConfig)
	}

	s.logger.Info().Str("addr", addr).Bool("tls", tlsConfig != nil).Msg("Command channel listening")
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) newHTTPServer(tlsConfig *tls.Config) *http.Server {
	return &http.Server{
		Handler:      s.mux,
		TLSConfig:    tlsConfig,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout(s.agent.sandbox.Timeout()),
	}
}

// writeTimeout leaves room for a command that runs for the full sandbox
// timeout plus the time to write its output back
func writeTimeout(commandTimeout time.Duration) time.Duration {
	if commandTimeout <= 0 {
		commandTimeout = sandbox.DefaultTimeout
	}
	return commandTimeout + responseGrace
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

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, types.ErrorResponse{Error: "Method not allowed"})
		return
	}

	snap := s.agent.state.Snapshot()
	writeJSON(w, http.StatusOK, types.NodeHealth{
		Status:     "ok",
		Registered: snap.Registered,
		XrayStatus: snap.ProxyStatus,
		Timestamp:  s.now().Unix(),
	})
}

// signed authenticates a command before handing it to h. The body must be
// a JSON object, the signature must match the held secret and, when a replay
// window is configured, the signed timestamp must be fresh.
func (s *Server) signed(verb types.Verb, h commandFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, types.ErrorResponse{Error: "Method not allowed"})
			return
		}

		requestID := r.Header.Get(client.RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(client.RequestIDHeader, requestID)
		logger := log.WithRequestID(s.logger, requestID).With().Str("verb", string(verb)).Logger()

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.CommandsTotal.WithLabelValues(string(verb), "malformed").Inc()
			logger.Warn().Int64("limit", tooLarge.Limit).Msg("Rejected oversized command body")
			writeJSON(w, http.StatusRequestEntityTooLarge, types.ErrorResponse{Error: "Body too large"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "Invalid JSON"})
			return
		}
		params, err := decodeParams(body)
		if err != nil {
			metrics.CommandsTotal.WithLabelValues(string(verb), "malformed").Inc()
			writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "Invalid JSON"})
			return
		}

		err = security.VerifyBody(s.agent.state.Secret(), body, r.Header.Get(security.SignatureHeader))
		if err == nil {
			err = s.checkFreshness(params)
		}
		if err != nil {
			metrics.SignatureFailures.Inc()
			metrics.CommandsTotal.WithLabelValues(string(verb), "unauthorized").Inc()
			logger.Warn().Err(err).Msg("Rejected unauthenticated command")
			writeJSON(w, http.StatusUnauthorized, types.ErrorResponse{Error: "Invalid signature"})
			return
		}

		logger.Info().Msg("Command received")
		timer := metrics.NewTimer()
		out := h(r.Context(), logger, params)
		timer.ObserveDurationVec(metrics.CommandDuration, string(verb))

		result := "ok"
		if out.code != http.StatusOK {
			result = "error"
		}
		metrics.CommandsTotal.WithLabelValues(string(verb), result).Inc()
		writeJSON(w, out.code, out.body)
	}
}

// checkFreshness enforces the replay window on the signed timestamp
func (s *Server) checkFreshness(params sandbox.Params) error {
	window := s.agent.cfg.ReplayWindow
	if window <= 0 {
		return nil
	}

	n, ok := params["timestamp"].(json.Number)
	if !ok {
		return errStale
	}
	ts, err := n.Int64()
	if err != nil {
		return errStale
	}

	skew := s.now().Sub(time.Unix(ts, 0))
	if skew < -window || skew > window {
		return errStale
	}
	return nil
}

func (s *Server) restart(ctx context.Context, logger zerolog.Logger, params sandbox.Params) reply {
	if _, err := s.agent.sandbox.Execute(ctx, types.VerbRestart, params); err != nil {
		return commandError(err)
	}
	logger.Info().Msg("Proxy restarted")
	return reply{http.StatusOK, types.StatusResponse{Status: "ok", Message: "Proxy restarted"}}
}

func (s *Server) setConfig(ctx context.Context, logger zerolog.Logger, params sandbox.Params) reply {
	config, _ := params["config"].(string)
	if config == "" {
		return reply{http.StatusBadRequest, types.ErrorResponse{Error: "Missing config"}}
	}
	if !json.Valid([]byte(config)) {
		return reply{http.StatusBadRequest, types.ErrorResponse{Error: "Invalid JSON config"}}
	}

	if err := writeFileAtomic(s.agent.cfg.ConfigPath, []byte(config)); err != nil {
		logger.Error().Err(err).Str("path", s.agent.cfg.ConfigPath).Msg("Failed to write proxy config")
		return reply{http.StatusInternalServerError, types.StatusResponse{Status: "error", Message: "failed to write config"}}
	}

	if _, err := s.agent.sandbox.Execute(ctx, types.VerbSetConfig, params); err != nil {
		return commandError(err)
	}
	logger.Info().Int("bytes", len(config)).Msg("Proxy config updated")
	return reply{http.StatusOK, types.StatusResponse{Status: "ok", Message: "Config updated"}}
}

func (s *Server) logs(ctx context.Context, logger zerolog.Logger, params sandbox.Params) reply {
	result, err := s.agent.sandbox.Execute(ctx, types.VerbGetLogs, params)
	if err != nil {
		return commandError(err)
	}
	return reply{http.StatusOK, types.LogsResponse{Status: "ok", Logs: result.Stdout + result.Stderr}}
}

func (s *Server) stats(ctx context.Context, logger zerolog.Logger, params sandbox.Params) reply {
	status := s.agent.proxy.Status(ctx)
	s.agent.state.SetProxyStatus(status)
	return reply{http.StatusOK, types.StatsResponse{Status: "ok", Stats: s.agent.proxy.Stats(status)}}
}

// commandError maps sandbox failures onto HTTP answers
func commandError(err error) reply {
	switch {
	case errors.Is(err, sandbox.ErrCommandRejected):
		return reply{http.StatusBadRequest, types.ErrorResponse{Error: err.Error()}}
	default:
		return reply{http.StatusInternalServerError, types.StatusResponse{Status: "error", Message: err.Error()}}
	}
}

// decodeParams parses a body that must be exactly one JSON object, keeping
// numbers verbatim
func decodeParams(body []byte) (sandbox.Params, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var params map[string]interface{}
	if err := dec.Decode(&params); err != nil || params == nil {
		return nil, errInvalidBody
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errInvalidBody
	}
	return params, nil
}

// writeFileAtomic replaces path through a temp file in the same directory
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
