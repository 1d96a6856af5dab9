// GoTrack gateway daemon -- TCP ingress for GPS tracking devices.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gotrack/internal/bus"
	"github.com/dantte-lp/gotrack/internal/config"
	gwmetrics "github.com/dantte-lp/gotrack/internal/metrics"
	"github.com/dantte-lp/gotrack/internal/netio"
	"github.com/dantte-lp/gotrack/internal/store"
	"github.com/dantte-lp/gotrack/internal/tracker"
	appversion "github.com/dantte-lp/gotrack/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain active requests during graceful shutdown.
const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	checkConfig := flag.Bool("check-config", false, "validate configuration and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(appversion.Full("gotrack"))
		return 0
	}

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	if *checkConfig {
		fmt.Printf("configuration OK: listening on %s\n", cfg.TCP.Addr())
		return 0
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("gotrack starting",
		slog.String("version", appversion.Version),
		slog.String("tcp_addr", cfg.TCP.Addr()),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	// 4. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := gwmetrics.NewCollector(reg)

	// 5. Connect infrastructure: PostgreSQL first, then RabbitMQ.
	st, err := store.NewPostgres(store.PostgresConfig{URL: cfg.Database.URL}, logger)
	if err != nil {
		logger.Error("failed to connect store", slog.String("error", err.Error()))
		return 1
	}
	defer closeQuietly(st.Close, "store", logger)

	b, err := bus.NewRabbit(bus.RabbitConfig{
		URL:      cfg.RabbitMQ.URL,
		QueueTTL: time.Duration(cfg.RabbitMQ.QueueTTL) * time.Millisecond,
	}, logger)
	if err != nil {
		logger.Error("failed to connect bus", slog.String("error", err.Error()))
		return 1
	}
	defer closeQuietly(b.Close, "bus", logger)

	// 6. Run the gateway.
	if err := runGateway(cfg, st, b, reg, collector, logger, *configPath, logLevel); err != nil {
		logger.Error("gotrack exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("gotrack stopped")
	return 0
}

// runGateway wires the tracker core together and runs the device
// listener, command dispatcher, registry sweeps, and metrics server in
// an errgroup with signal-aware graceful shutdown.
func runGateway(
	cfg *config.Config,
	st store.Store,
	b bus.Bus,
	reg *prometheus.Registry,
	collector *gwmetrics.Collector,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	// errgroup with signal-aware context.
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	// Tracker core.
	registry := tracker.NewRegistry(st, logger, tracker.WithRegistryMetrics(collector))
	publisher := tracker.NewPublisher(b, logger, tracker.WithPublisherMetrics(collector))
	router := tracker.NewRouter(logger)
	dispatcher := tracker.NewDispatcher(b, st, registry, logger,
		tracker.WithDispatcherMetrics(collector),
	)

	// Device listener. The user timeout mirrors the keepalive period so
	// half-open GPRS connections fail instead of blocking writes.
	listener, err := netio.NewListener(gCtx, netio.ListenerConfig{
		Addr:            cfg.TCP.Addr(),
		KeepAlivePeriod: cfg.TCP.KeepAlivePeriod,
		UserTimeout:     cfg.TCP.KeepAlivePeriod,
	}, logger)
	if err != nil {
		return fmt.Errorf("create device listener: %w", err)
	}

	sessCfg := tracker.SessionConfig{
		AuthTimeout:  cfg.TCP.AuthTimeout,
		IdleTimeout:  cfg.TCP.IdleTimeout,
		MaxTailBytes: cfg.TCP.MaxTailBytes,
	}
	deps := tracker.SessionDeps{
		Router:    router,
		Registry:  registry,
		Store:     st,
		Publisher: publisher,
	}

	g.Go(func() error {
		logger.Info("device listener started", slog.String("addr", listener.Addr().String()))
		return listener.Serve(gCtx, func(connCtx context.Context, conn net.Conn) {
			// Session.Run closes the socket and deregisters on return.
			sess := tracker.NewSession(conn, sessCfg, deps, logger,
				tracker.WithSessionMetrics(collector),
			)
			sess.Run(connCtx)
		})
	})

	g.Go(func() error {
		registry.Run(gCtx)
		return nil
	})

	g.Go(func() error {
		return dispatcher.Run(gCtx)
	})

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, metricsSrv, cfg.Metrics.Addr)
	})

	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	// Shutdown goroutine: waits for context cancellation.
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, registry, metricsSrv, logger)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run gateway: %w", err)
	}
	return nil
}

// startDaemonGoroutines registers the watchdog and SIGHUP reload goroutines.
func startDaemonGoroutines(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is accepting device connections.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon
// is beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd.
// The interval is WatchdogSec/2 as recommended by the systemd documentation.
// If watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	// Send keepalive at half the watchdog interval.
	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — dynamic log level
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP signals and reloads configuration.
// Only the log level changes at runtime via the shared LevelVar; listener
// and timeout settings require a restart. Blocks until the context is
// cancelled.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

// reloadConfig loads a fresh configuration from the given path and updates
// the dynamic log level. Errors during reload are logged but do not stop
// the daemon -- the previous configuration remains in effect.
func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings",
			slog.String("error", err.Error()),
		)
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)
}

// -------------------------------------------------------------------------
// Graceful Shutdown — close device sockets + stop servers
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, closes
// every registered device session so the listener's handler goroutines
// drain, then shuts down the metrics server.
//
// The parent context is already cancelled when this function is called.
// A fresh timeout context is created internally for server drain.
func gracefulShutdown(
	ctx context.Context,
	registry *tracker.Registry,
	metricsSrv *http.Server,
	logger *slog.Logger,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	registry.Close()

	// Derive a fresh shutdown context from the parent (which is cancelled).
	// context.WithoutCancel detaches from the parent's cancellation so we
	// can enforce our own drain timeout.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using a ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, srv *http.Server, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Configuration & Logging
// -------------------------------------------------------------------------

// loadConfig loads configuration: defaults, then the optional YAML file,
// then environment overrides. An empty path skips only the file layer.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// closeQuietly invokes a Close function, logging failures at warn level.
func closeQuietly(closeFn func() error, name string, logger *slog.Logger) {
	if err := closeFn(); err != nil {
		logger.Warn("close "+name, slog.String("error", err.Error()))
	}
}
