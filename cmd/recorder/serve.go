package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/AltairaLabs/acro-recorder/internal/config"
	"github.com/AltairaLabs/acro-recorder/internal/health"
	"github.com/AltairaLabs/acro-recorder/internal/tools"
)

const serverName = "acro-recorder"

type serveOptions struct {
	httpMode   bool
	httpAddr   string
	agentAddr  string
	healthAddr string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the recorder: MCP tools, page-agent bridge and health service",
		Long: `Starts the recorder.

MCP tools are served on stdio by default, or over HTTP/SSE with --http.
The in-page agent connects to the websocket at <agent-addr>/agent.
Health is published over the standard gRPC health service.`,
		Example: `  # MCP over stdio, durable queue in ./recorder.db
  recorder serve

  # MCP over HTTP/SSE on port 9000
  recorder serve --http --http-addr :9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			opts.apply(cmd, &cfg)
			return runServe(cmd.Context(), cfg, opts.httpMode, logger)
		},
	}

	cmd.Flags().BoolVar(&opts.httpMode, "http", false, "Serve MCP over HTTP/SSE instead of stdio")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "MCP HTTP/SSE listen address")
	cmd.Flags().StringVar(&opts.agentAddr, "agent-addr", "", "Page-agent websocket listen address")
	cmd.Flags().StringVar(&opts.healthAddr, "health-addr", "", "gRPC health listen address")

	return cmd
}

// apply overrides the config with flags that were set explicitly
func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("http-addr") {
		cfg.Server.HTTPAddr = o.httpAddr
	}
	if cmd.Flags().Changed("agent-addr") {
		cfg.Server.AgentAddr = o.agentAddr
	}
	if cmd.Flags().Changed("health-addr") {
		cfg.Server.HealthAddr = o.healthAddr
	}
}

func runServe(ctx context.Context, cfg config.Config, httpMode bool, logger *slog.Logger) error {
	logger.Info("Starting recorder",
		"version", version,
		"backend", cfg.Backend.BaseURL,
		"storage", cfg.Storage.Backend,
		"http_mode", httpMode,
		"agent_addr", cfg.Server.AgentAddr,
		"health_addr", cfg.Server.HealthAddr,
	)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(); err != nil {
			logger.Error("Failed to close recorder", "error", err)
		}
	}()

	if recovered, err := a.recoverSession(ctx); err != nil {
		logger.Error("Session recovery failed", "error", err)
	} else if recovered != nil {
		logger.Info("Call "+config.ToolStop+" to finalize the interrupted session", "session_id", recovered.ID)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Health
	reporter := health.NewReporter(health.DefaultInterval, logger)
	reporter.AddCheck(health.ServiceUpload, health.NoFailedSteps(a.pipeline), true)
	reporter.AddCheck(health.ServiceAgent, health.Connected(a.bridge.Connected), false)

	grpcServer := grpc.NewServer()
	reporter.Register(grpcServer)

	listenConfig := net.ListenConfig{}
	lis, err := listenConfig.Listen(ctx, "tcp", cfg.Server.HealthAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.HealthAddr, err)
	}

	go func() {
		logger.Info("Starting gRPC health server", "address", cfg.Server.HealthAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
			cancel()
		}
	}()
	go reporter.Run(ctx)

	// Page agent
	agentServer := &http.Server{
		Addr:              cfg.Server.AgentAddr,
		Handler:           a.bridge.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Page-agent bridge listening", "address", cfg.Server.AgentAddr, "path", "/agent")
		if err := agentServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Agent server error", "error", err)
			cancel()
		}
	}()

	// MCP
	mcpServer := tools.NewServer(tools.Config{Name: serverName, Version: version}, a.controller, a.client, logger)
	go func() {
		var err error
		if httpMode {
			err = mcpServer.ServeHTTP(cfg.Server.HTTPAddr)
		} else {
			err = mcpServer.Serve()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("MCP server error", "error", err)
		}
		// Stdio returns when the client goes away
		cancel()
	}()

	<-ctx.Done()
	logger.Info("Shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
	defer shutdownCancel()

	if err := mcpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("MCP server shutdown failed", "error", err)
	}
	if err := agentServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Agent server shutdown failed", "error", err)
	}

	reporter.Shutdown()
	stopGRPC(grpcServer, config.DefaultShutdownTimeout, logger)

	logger.Info("Recorder shutdown complete")
	return nil
}

// stopGRPC stops the server gracefully, forcing it after timeout
func stopGRPC(s *grpc.Server, timeout time.Duration, logger *slog.Logger) {
	shutdownComplete := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		logger.Info("gRPC server stopped gracefully")
	case <-time.After(timeout):
		logger.Warn("Graceful shutdown timeout, forcing stop")
		s.Stop()
		<-shutdownComplete
	}
}
