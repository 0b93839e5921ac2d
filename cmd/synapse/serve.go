package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"claude-synapse/internal/config"
	"claude-synapse/internal/logging"
	"claude-synapse/internal/realtime"
	"claude-synapse/internal/session"
	"claude-synapse/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			return serve(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logging.Init(cfg.Log)
	defer logging.Shutdown()
	log := logging.Logger()

	cfgLog := logging.ForComponent(logging.CompConfig)
	cfgLog.Info("configuration loaded",
		"addr", cfg.Addr(),
		"projects_dir", cfg.ProjectsDir,
		"command", cfg.Command,
		"args", cfg.Args,
		"max_sessions", cfg.MaxSessions,
		"reap_on_exit", cfg.ReapOnExit,
	)
	if !cfg.Loopback() {
		cfgLog.Warn("listening beyond loopback; anyone who can reach the port can start sessions",
			"listen_addr", cfg.ListenAddr)
	}

	hub := realtime.NewHub(logging.ForComponent(logging.CompRealtime))
	sink := session.MultiSink{hub, lifecycleLog(logging.ForComponent(logging.CompSession))}
	sup := session.NewSupervisor(cfg.SupervisorConfig(), sink, logging.ForComponent(logging.CompSession))
	registry := session.NewRegistry(cfg.RegistryConfig(), sup, sink, logging.ForComponent(logging.CompRegistry))

	rtServer := realtime.New(registry, hub, realtime.Options{
		StaticDir:   cfg.StaticDir,
		ProjectsDir: cfg.ProjectsDir,
		ClientRate:  cfg.ClientRate,
		ClientBurst: cfg.ClientBurst,

		AllowedOrigins: cfg.AllowedOrigins,
	}, logging.ForComponent(logging.CompRealtime))

	projectWatch := watcher.New(cfg.ProjectsDir, rtServer.OnProjectsChanged, logging.ForComponent(logging.CompWatcher))
	if err := projectWatch.Start(); err != nil {
		// The watcher is informational only.
		log.Warn("projects watcher not started", "path", cfg.ProjectsDir, "error", err)
	}

	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: rtServer.Handler(),
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("synapse server running", "addr", "http://"+cfg.Addr())
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	projectWatch.Shutdown()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Warn("sessions did not stop cleanly", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("http server: %w", serveErr)
	}
	return nil
}

// lifecycleLog records session lifecycle events at debug level. Output
// lines are skipped.
func lifecycleLog(log *slog.Logger) session.EventSink {
	return session.SinkFunc(func(topic string, payload any) {
		if topic == session.TopicSessionOutput {
			return
		}
		log.Debug("session event", "topic", topic, "payload", payload)
	})
}
