package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jamesprial/drive-monitor/internal/auth"
	"github.com/jamesprial/drive-monitor/internal/config"
	"github.com/jamesprial/drive-monitor/internal/logging"
	"github.com/jamesprial/drive-monitor/internal/metrics"
	"github.com/jamesprial/drive-monitor/internal/monitor"
	"github.com/jamesprial/drive-monitor/internal/poller"
	"github.com/jamesprial/drive-monitor/internal/safety"
	"github.com/jamesprial/drive-monitor/internal/tools"
)

const shutdownTimeout = 15 * time.Second

func (a *app) serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Poll devices and serve them over MCP and Prometheus",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "listen port; overrides server.port",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.IsSet("port") {
				a.cfg.Server.Port = int(cmd.Int("port"))
				if err := a.cfg.Validate(); err != nil {
					return err
				}
			}
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg

	tokenBefore := cfg.Server.AuthToken
	token, err := config.EnsureAuthToken(cfg)
	if err != nil {
		slog.Warn("could not generate auth token, running without authentication", "error", err)
	} else if tokenBefore == "" {
		slog.Info("generated auth token (set DRIVE_MONITOR_AUTH_TOKEN to persist)", "token", token)
	}

	var audit *safety.AuditLogger
	if cfg.Audit.Enabled {
		logger, closer, err := safety.OpenAuditLog(cfg.Audit.LogPath)
		if err != nil {
			slog.Warn("audit logging disabled", "path", cfg.Audit.LogPath, "error", err)
		} else {
			audit = logger
			defer closer.Close()
		}
	}

	reg, err := a.registry()
	if err != nil {
		return err
	}
	// Discovery failures abort startup.
	if _, err := reg.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize devices: %w", err)
	}

	exporter := metrics.NewExporter(prometheus.DefaultRegisterer)
	p := poller.New(reg, poller.Options{
		Interval:          cfg.Monitor.ScanInterval.Std(),
		MaxPollsPerSecond: cfg.Monitor.MaxPollsPerSecond,
		Publisher:         exporter,
	})

	mcpServer := server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	registrations := monitor.MonitorTools(reg, audit)
	tools.RegisterAll(mcpServer, registrations)
	slog.Debug("registered MCP tools", "tools", tools.Names(registrations))

	mux := http.NewServeMux()
	mux.Handle(cfg.Server.MetricsPath, metrics.Handler(prometheus.DefaultGatherer))
	mux.Handle("/", server.NewStreamableHTTPServer(mcpServer))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           auth.NewAuthMiddleware(cfg.Server.AuthToken, cfg.Server.MetricsPath)(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          logging.NewLogLogger(slog.LevelError),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("listening", "addr", httpSrv.Addr, "metrics", cfg.Server.MetricsPath)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("graceful shutdown failed", "error", err)
		}
		return nil
	})

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		slog.Warn("systemd notify failed", "error", err)
	} else if sent {
		slog.Debug("notified systemd of readiness")
	}

	err = g.Wait()
	slog.Info("server stopped")
	return err
}
