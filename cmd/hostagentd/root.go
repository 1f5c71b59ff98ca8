package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"hostagent/capability"
	"hostagent/discovery"
	"hostagent/host"
	"hostagent/middleware"
	"hostagent/server"
)

const shutdownTimeout = 30 * time.Second

var (
	flagConfig  string
	flagAddress string
)

var rootCmd = &cobra.Command{
	Use:   "hostagentd",
	Short: "Host-resident system management agent",
	Long: `hostagentd exposes this machine's system-management API over TCP.

Remote callers submit serialized commands (process execution, package and
service management, telemetry) and the agent executes them locally and
returns the result. Provide either a configuration file or a listen
address:

  hostagentd --config /etc/hostagent/agent.toml
  hostagentd --address 0.0.0.0:7101`,
	Args: cobra.NoArgs,
	RunE: runAgent,
}

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "path to the agent configuration file")
	rootCmd.Flags().StringVarP(&flagAddress, "address", "a", "", "socket address to listen on (e.g. 0.0.0.0:7101)")
	rootCmd.MarkFlagsOneRequired("config", "address")
	rootCmd.MarkFlagsMutuallyExclusive("config", "address")
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg := &Config{Address: flagAddress}
	if flagConfig != "" {
		loaded, err := loadConfig(flagConfig)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := newLogger(cfg.LogLevel)

	registry := capability.NewRegistry()
	if err := host.RegisterAll(registry, host.NewHost()); err != nil {
		// Duplicate registration is a misconfiguration that cannot be
		// serviced; refuse to start.
		return err
	}

	middlewares := []middleware.Middleware{middleware.LoggingMiddleware(logger)}
	if cfg.Limits.Rate > 0 {
		middlewares = append(middlewares, middleware.RateLimitMiddleware(cfg.Limits.Rate, cfg.Limits.Burst))
	}
	if cfg.Limits.DispatchTimeout.Duration > 0 {
		middlewares = append(middlewares, middleware.TimeoutMiddleware(cfg.Limits.DispatchTimeout.Duration))
	}

	var dir discovery.Directory
	if len(cfg.Discovery.Endpoints) > 0 {
		etcdDir, err := discovery.NewEtcdDirectory(cfg.Discovery.Endpoints)
		if err != nil {
			return fmt.Errorf("connect to discovery endpoints: %w", err)
		}
		defer etcdDir.Close()
		dir = etcdDir
	}

	advertise := cfg.AdvertiseAddress
	if advertise == "" {
		advertise = cfg.Address
	}

	svr := server.New(registry, logger, middlewares...)
	logger.Info("starting agent", "address", cfg.Address, "commands", registry.Commands())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- svr.Serve("tcp", cfg.Address, advertise, dir)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		// Bind failure or a fatal accept error.
		return err
	case s := <-sig:
		logger.Info("shutting down", "signal", s.String())
		if err := svr.Shutdown(shutdownTimeout); err != nil {
			return err
		}
		return <-serveErr
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
