package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketflow/config"
	"marketflow/internal/calendar"
	"marketflow/internal/dashboard"
	"marketflow/internal/metrics"
	"marketflow/internal/scheduler"
	"marketflow/internal/task"
	"marketflow/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	taskName := flag.String("task", "", "Task to run once (crawl_daily, compute_signal, refresh_universe, realtime_quote); defaults to config task or $TASK")
	daemon := flag.Bool("daemon", false, "Run the scheduler and status server instead of a single task")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	}).Info("starting marketflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.InitCloudWatch(ctx, cfg.Metrics.CloudWatch)
	metrics.StartReport(ctx, log, cfg.Logging.ReportInterval, cfg.Storage.DataDir)

	dispatcher, closeDeps, err := task.Build(ctx, cfg)
	if err != nil {
		log.WithError(err).Error("failed to build task dependencies")
		os.Exit(1)
	}
	defer func() {
		if err := closeDeps(); err != nil {
			log.WithError(err).Warn("failed to release task dependencies")
		}
	}()

	if !*daemon {
		name := *taskName
		if name == "" {
			name = cfg.Task
		}
		if name == "" {
			log.Error("no task given; use -task or set TASK")
			os.Exit(2)
		}
		if err := dispatcher.Run(ctx, name); err != nil {
			var unknown *task.UnknownTaskError
			if errors.As(err, &unknown) {
				flag.Usage()
			}
			closeDeps()
			os.Exit(1)
		}
		return
	}

	runDaemon(ctx, cancel, cfg, dispatcher, log)
	log.Info("marketflow stopped")
}

func runDaemon(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, dispatcher *task.Dispatcher, log *logger.Log) {
	cal, err := calendar.New(cfg.Calendar)
	if err != nil {
		log.WithError(err).Error("failed to load trading calendar")
		return
	}

	server, err := dashboard.NewServer(cfg.Dashboard, log)
	if err != nil {
		log.WithError(err).Error("failed to create status server")
		return
	}
	if server != nil {
		dispatcher.SetRecorder(server)
	}

	sched := scheduler.New(cfg.Schedule, cal.Location(), dispatcher, cal.IsTradingDay)
	if err := sched.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start scheduler")
		return
	}

	var wg sync.WaitGroup
	if server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.Run(ctx, cfg.App.Name); err != nil {
				log.WithError(err).Warn("status server stopped")
			}
		}()
	}

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown")
	sched.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}
}
