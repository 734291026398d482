package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/middleware"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	metricsInterval      = 15 * time.Second
	limiterResetInterval = 10 * time.Minute
	certExpiryWarning    = 30 * 24 * time.Hour
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run and administer the coordinator",
}

var coordinatorServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the node registration API",
	Long: `Serve the node-facing API: registration, heartbeats and config fetch.

TLS is taken from tls_cert/tls_key. With auto_tls set and no certificate
configured, a private CA is created under <data_dir>/tls and agents must
trust <data_dir>/tls/ca.crt through their ca_file setting.`,
	RunE: runCoordinatorServe,
}

func init() {
	coordinatorCmd.AddCommand(coordinatorServeCmd)
	coordinatorCmd.AddCommand(nodeCmd)
}

// loadCoordinatorConfig loads the coordinator config and falls back to the
// built-in master key with a warning
func loadCoordinatorConfig(cmd *cobra.Command) (*config.Coordinator, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadCoordinator(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid coordinator config: %w", err)
	}

	initLogging(cmd, cfg.LogLevel, cfg.LogJSON)

	if cfg.MasterKey == "" {
		log.Logger.Warn().Msg("No master key configured, using the built-in default. Set master_key or BURROW_MASTER_KEY")
		cfg.MasterKey = security.DefaultMasterKey
	}
	return cfg, nil
}

func openManager(cmd *cobra.Command) (*manager.Manager, error) {
	cfg, err := loadCoordinatorConfig(cmd)
	if err != nil {
		return nil, err
	}
	return manager.NewManager(&manager.Config{
		DataDir:   cfg.DataDir,
		MasterKey: cfg.MasterKey,
	})
}

func runCoordinatorServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadCoordinatorConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.WithComponent("coordinator")

	tlsConfig, err := coordinatorTLS(cfg, logger)
	if err != nil {
		return err
	}

	mgr, err := manager.NewManager(&manager.Config{
		DataDir:   cfg.DataDir,
		MasterKey: cfg.MasterKey,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("Failed to close node store")
		}
	}()

	var rateLimit *middleware.RateLimit
	if cfg.RateLimit > 0 {
		rateLimit = &middleware.RateLimit{RequestsPerSecond: cfg.RateLimit, Burst: cfg.RateBurst}
	}
	mw := middleware.New(middleware.Config{RateLimit: rateLimit, TrustProxy: cfg.TrustProxy})
	server := api.NewServerWithMiddleware(mgr, mw)

	collector := metrics.NewCollector(mgr, metricsInterval)
	collector.Start()
	defer collector.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	mw.StartCleanupJob(limiterResetInterval, gctx.Done())

	g.Go(func() error {
		return server.Start(cfg.ListenAddr, tlsConfig)
	})
	g.Go(func() error {
		mgr.RunSweeper(gctx, cfg.SweepInterval, cfg.OfflineAfter)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		server.Stop()
		return nil
	})

	logger.Info().
		Str("addr", cfg.ListenAddr).
		Str("data_dir", cfg.DataDir).
		Dur("offline_after", cfg.OfflineAfter).
		Msg("Coordinator started")

	return g.Wait()
}

func coordinatorTLS(cfg *config.Coordinator, logger zerolog.Logger) (*tls.Config, error) {
	switch {
	case cfg.TLSCert != "":
		tlsConfig, err := security.LoadServerTLSConfig(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, err
		}
		if remaining, err := security.CertTimeRemaining(tlsConfig); err == nil && remaining < certExpiryWarning {
			logger.Warn().Dur("remaining", remaining).Msg("TLS certificate expires soon")
		}
		return tlsConfig, nil
	case cfg.AutoTLS:
		files, err := security.EnsureServerCertificate(filepath.Join(cfg.DataDir, "tls"), cfg.TLSHosts)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare TLS certificate: %w", err)
		}
		logger.Info().Str("ca_file", files.CAFile).Strs("hosts", cfg.TLSHosts).Msg("Using self-managed certificate")
		return security.LoadServerTLSConfig(files.CertFile, files.KeyFile)
	default:
		return nil, nil
	}
}
