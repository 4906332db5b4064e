// Package dashboard serves a JSON status API over recent metrics, logs and
// task runs.
package dashboard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marketflow/config"
	"marketflow/internal/metrics"
	"marketflow/logger"
)

// Server hosts the status API.
type Server struct {
	cfg             config.DashboardConfig
	log             *logger.Log
	metricStore     *metricStore
	logStore        *logStore
	runs            *ring[RunRecord]
	metricHandler   metrics.MetricHandlerID
	httpServer      *http.Server
	resourceSampler *resourceSampler
	startedAt       time.Time
}

// NewServer returns nil when the dashboard is disabled. The metric handler
// and log hook are attached immediately so nothing emitted before Run is lost.
func NewServer(cfg config.DashboardConfig, log *logger.Log) (*Server, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	cfg.Address = normalizeAddress(cfg.Address)
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}

	ms := newMetricStore(cfg.MetricsHistory)
	ls := newLogStore(cfg.LogHistory)
	log.AddHook(ls)

	return &Server{
		cfg:             cfg,
		log:             log,
		metricStore:     ms,
		logStore:        ls,
		runs:            newRing[RunRecord](cfg.RunHistory),
		metricHandler:   metrics.RegisterMetricHandler(ms.handle),
		resourceSampler: newResourceSampler(cfg.MetricsHistory, 0, "/", log),
		startedAt:       time.Now(),
	}, nil
}

// RecordRun stores a finished task run. It is a no-op on a nil server.
func (s *Server) RecordRun(r RunRecord) {
	if s == nil {
		return
	}
	s.runs.push(r)
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context, appName string) error {
	if s == nil {
		return nil
	}
	defer s.cleanup()

	router, err := s.buildRouter(appName)
	if err != nil {
		return err
	}
	s.resourceSampler.start(ctx)

	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}
	s.log.WithComponent("dashboard").WithFields(logger.Fields{"address": s.cfg.Address}).Info("status server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) cleanup() {
	metrics.UnregisterMetricHandler(s.metricHandler)
	s.logStore.close()
	s.resourceSampler.stop()
}

func (s *Server) Address() string {
	if s == nil {
		return ""
	}
	return s.cfg.Address
}

func (s *Server) buildRouter(appName string) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		return nil, err
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"app":            appName,
			"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		})
	})

	router.GET("/api/metrics", func(c *gin.Context) {
		name := c.Query("name")
		snapshot := s.metricStore.snapshot()
		payload := make([]metrics.Metric, 0, len(snapshot))
		for _, m := range snapshot {
			if name == "" || m.Name == name {
				payload = append(payload, m)
			}
		}
		c.JSON(http.StatusOK, gin.H{"metrics": payload})
	})

	router.GET("/api/logs", func(c *gin.Context) {
		level := strings.ToLower(c.Query("level"))
		snapshot := s.logStore.snapshot()
		payload := make([]logRecord, 0, len(snapshot))
		for _, l := range snapshot {
			if level == "" || l.Level == level {
				payload = append(payload, l)
			}
		}
		c.JSON(http.StatusOK, gin.H{"logs": payload})
	})

	router.GET("/api/runs", func(c *gin.Context) {
		runs := s.runs.snapshot()
		if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit < len(runs) {
			runs = runs[len(runs)-limit:]
		}
		c.JSON(http.StatusOK, gin.H{"runs": runs})
	})

	router.GET("/api/resources", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"resources": s.resourceSampler.snapshot()})
	})

	return router, nil
}

// normalizeAddress turns ":8080", "host", "*:8080" or a URL into host:port.
func normalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "0.0.0.0:8080"
	}

	if strings.Contains(addr, "://") {
		if parsed, err := url.Parse(addr); err == nil && parsed.Host != "" {
			addr = parsed.Host
		}
	}

	if host, port, err := net.SplitHostPort(addr); err == nil {
		if host == "" || host == "*" {
			host = "0.0.0.0"
		}
		if port == "" {
			port = "8080"
		}
		return net.JoinHostPort(host, port)
	}
	return net.JoinHostPort(addr, "8080")
}
