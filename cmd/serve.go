package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cyclescreen/assessment"
	"cyclescreen/db"
	qhttp "cyclescreen/http"
	"cyclescreen/logger"
	"cyclescreen/ml"
	"cyclescreen/monitoring"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the questionnaire web server and JSON API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Load config
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	pol, err := cfg.PolicyConfig()
	if err != nil {
		return err
	}

	// 2. Load classifier artifacts
	registry, err := loadRegistry(cfg, log.Named("ml"))
	if err != nil {
		return err
	}
	log.Info("artifacts loaded", zap.Uint64("generation", registry.Generation()))

	metrics := monitoring.NewMetrics()
	hub := monitoring.NewHub(log.Named("ws"), metrics)
	go hub.Run()
	defer hub.Stop()

	// 3. Initialize database
	var recorder assessment.Recorder
	if cfg.Database.Path != "" {
		if err := ensureDir(cfg.Database.Path); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
		if err := db.InitDB(cfg.Database.Path); err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		defer db.Close()
		recorder = assessment.RecorderFunc(db.SaveAssessment)
		log.Info("database initialized", zap.String("path", cfg.Database.Path))
	} else {
		log.Info("assessment history disabled")
	}

	svc, err := assessment.NewService(registry, assessment.Options{
		Policy:    pol,
		CacheSize: cfg.Cache.Size,
		Logger:    log.Named("assessment"),
		Recorder:  recorder,
		Publisher: hub,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Watch artifacts for hot reload
	if cfg.Watch.Enabled {
		watcher, err := ml.NewWatcher(registry, cfg.Watch.Debounce, log.Named("watcher"))
		if err != nil {
			return err
		}
		watcher.OnReload(reloadNotifier(registry, metrics, hub, log))
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("watch artifacts: %w", err)
		}
		defer watcher.Stop()
	}

	// 5. Start HTTP server
	qhttp.SetLogger(log.Named("http"))
	qhttp.SetRegistry(registry)
	qhttp.SetAssessor(svc)
	qhttp.SetHub(hub)
	qhttp.SetMetrics(metrics)

	server := qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	}, log.Named("http"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// 6. Handle graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Warn("server forced to shutdown", zap.Error(err))
	}
	log.Info("exiting")
	return nil
}

// reloadNotifier counts reloads and tells live-feed subscribers about new
// artifact generations.
func reloadNotifier(registry *ml.Registry, metrics *monitoring.Metrics, hub *monitoring.Hub, log *zap.Logger) func(error) {
	return func(err error) {
		metrics.ObserveReload(err)
		if err != nil {
			return
		}
		payload := map[string]interface{}{"generation": registry.Generation()}
		if err := hub.Publish(monitoring.ModelReload, payload); err != nil {
			log.Debug("reload not published", zap.Error(err))
		}
	}
}

func dirOf(path string) string {
	if path == ":memory:" {
		return ""
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}
