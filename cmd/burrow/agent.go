package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/burrow/pkg/agent"
	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/middleware"
	"github.com/cuemby/burrow/pkg/sandbox"
	"github.com/cuemby/burrow/pkg/security"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the node agent",
}

var agentRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Register with the coordinator and serve signed commands",
	Long: `Run the node agent.

The agent registers with the coordinator using its bootstrap token (token or
NODE_UUID), heartbeats on a fixed interval and serves signed commands on
listen_addr. Commands map to a fixed set of docker and docker-compose
invocations against the managed proxy.`,
	RunE: runAgent,
}

func init() {
	agentCmd.AddCommand(agentRunCmd)
}

func runAgent(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadAgent(path)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid agent config: %w", err)
	}

	initLogging(cmd, cfg.LogLevel, cfg.LogJSON)
	logger := log.WithComponent("agent")

	clientTLS, err := security.LoadClientTLSConfig(cfg.CAFile)
	if err != nil {
		return err
	}
	coordinator, err := client.NewClient(cfg.CoordinatorURL, clientTLS, cfg.RequestTimeout)
	if err != nil {
		return fmt.Errorf("invalid coordinator url: %w", err)
	}

	resolver, err := sandbox.NewResolver(cfg.Service, cfg.Container)
	if err != nil {
		return err
	}
	sb := sandbox.New(resolver, nil, cfg.CommandTimeout)

	a, err := agent.New(agent.Config{
		Token:             cfg.Token,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ConfigPath:        cfg.ConfigPath,
		ReplayWindow:      cfg.ReplayWindow,
	}, coordinator, sb)
	if err != nil {
		return err
	}

	var serverTLS *tls.Config
	if cfg.TLSCert != "" {
		if serverTLS, err = security.LoadServerTLSConfig(cfg.TLSCert, cfg.TLSKey); err != nil {
			return err
		}
	}

	mw := middleware.New(middleware.Config{AllowedIPs: cfg.AllowedIPs})
	server := agent.NewServer(a, mw)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(gctx)
	})
	g.Go(func() error {
		return server.Start(cfg.ListenAddr, serverTLS)
	})
	g.Go(func() error {
		<-gctx.Done()
		server.Stop()
		return nil
	})

	logger.Info().
		Str("coordinator", coordinator.BaseURL()).
		Str("listen_addr", cfg.ListenAddr).
		Str("container", resolver.Container()).
		Int("allowed_ips", len(cfg.AllowedIPs)).
		Msg("Agent started")

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("Agent stopped")
	return nil
}
