// eslrd -- ESLR distance-vector routing daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/goeslr/internal/config"
	"github.com/dantte-lp/goeslr/internal/engine"
	"github.com/dantte-lp/goeslr/internal/hostadapter"
	"github.com/dantte-lp/goeslr/internal/metric"
	eslrmetrics "github.com/dantte-lp/goeslr/internal/metrics"
	"github.com/dantte-lp/goeslr/internal/netio"
	"github.com/dantte-lp/goeslr/internal/scheduler"
	"github.com/dantte-lp/goeslr/internal/server"
	appversion "github.com/dantte-lp/goeslr/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

// packetQueueDepth bounds the inbound datagram channel shared by the two
// UDP listeners; the engine's single logical executor drains it at the top
// of every turn, so a full queue means the executor is falling behind, not
// a design limit on traffic volume.
const packetQueueDepth = 256

// metricsSampleInterval is how often the engine's single logical executor
// takes a neighbor/route population snapshot to refresh the gauge metrics.
const metricsSampleInterval = 5 * time.Second

// ifacePollInterval bounds how quickly a kernel link transition reaches the
// engine as an interfaceUp/interfaceDown event.
const ifacePollInterval = 2 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("eslrd starting",
		slog.String("version", appversion.Version),
		slog.String("http_addr", cfg.HTTP.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	collector := eslrmetrics.NewCollector(reg)

	if err := runDaemon(cfg, collector, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("eslrd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("eslrd stopped")
	return 0
}

// runDaemon wires the protocol engine, its host and transport adapters, the
// HTTP control/metrics surfaces, and runs everything under an errgroup with
// a signal-aware context for graceful shutdown.
func runDaemon(
	cfg *config.Config,
	collector *eslrmetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	sender, err := netio.NewSender(logger)
	if err != nil {
		return fmt.Errorf("create UDP sender: %w", err)
	}
	defer sender.Close()

	adapter := hostadapter.New(logger, sender, hostadapter.Config{
		ExcludeInterfaces: cfg.ESLR.ExcludeInterfaces,
		DefaultLink: hostadapter.LinkConfig{
			PropagationDelay:  time.Millisecond,
			AveragePacketBits: 1500 * 8,
			ChannelDatarate:   1_000_000_000,
		},
		RouterQueue: metric.RouterQueue{ServiceRate: 1000, ArrivalRate: 0},
	})
	adapter.SetMetrics(collector)
	if err := adapter.Refresh(); err != nil {
		return fmt.Errorf("initial interface refresh: %w", err)
	}

	sched := scheduler.New()
	printing, ok := engine.ParsePrintingMethod(cfg.ESLR.PrintingMethod)
	if !ok {
		printing = engine.PrintOff
	}

	eng := engine.New(logger, sched, time.Now, engineConfig(cfg.ESLR, printing), adapter, sender, collector)
	adapter.BindEngine(eng)

	listeners, err := createListeners(logger)
	if err != nil {
		return fmt.Errorf("create listeners: %w", err)
	}
	defer closeListeners(listeners, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	packets := make(chan inboundPacket, packetQueueDepth)
	for _, ln := range listeners {
		ln := ln
		g.Go(func() error {
			return ln.Run(gCtx, func(ifIndex int, localAddr, senderAddr netip.Addr, payload []byte) {
				enqueuePacket(gCtx, packets, inboundPacket{ifIndex, localAddr, senderAddr, payload})
			})
		})
	}

	mon := netio.NewPollingInterfaceMonitor(logger, ifacePollInterval)
	g.Go(func() error {
		return mon.Run(gCtx)
	})

	httpSrv := newControlServer(cfg.HTTP, eng, reg, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	startHTTPServers(gCtx, g, cfg, httpSrv, metricsSrv, logger)
	startSIGHUPHandler(gCtx, g, configPath, logLevel, logger)

	g.Go(func() error {
		runEngineLoop(gCtx, logger, eng, sched, adapter, mon, packets, collector)
		return nil
	})

	logger.Info("eslrd ready")

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, fr, httpSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

func engineConfig(c config.ESLRConfig, printing engine.PrintingMethod) engine.Config {
	return engine.Config{
		KamInterval:            c.KamInterval,
		NeighborTimeoutDelay:   c.NeighborTimeoutDelay,
		GarbageCollectionDelay: c.GarbageCollectionDelay,
		StartupDelay:           c.StartupDelay,
		SplitHorizon:           c.SplitHorizon,
		RouteTimeoutDelay:      c.RouteTimeoutDelay,
		SettlingTime:           c.SettlingTime,
		MinTriggeredCooldown:   c.MinTriggeredCooldown,
		MaxTriggeredCooldown:   c.MaxTriggeredCooldown,
		PeriodicUpdateDelay:    c.PeriodicUpdateDelay,
		K1:                     c.K1,
		K2:                     c.K2,
		K3:                     c.K3,
		PrintingMethod:         printing,
		RouteJitterMax:         c.RouteJitterMax,
		GCJitterMax:            c.GCJitterMax,
		LocalNeighborID:        c.LocalNeighborID,
		AuthType:               c.WireAuthType(),
		AuthData:               c.AuthData,
		Identifier:             c.Identifier,
		// ExcludeInterface is resolved against dense indices by the host
		// adapter, which the engine has no visibility into by name; the
		// adapter itself already drops excluded interfaces from
		// InterfacesCount/IsUp, so the engine-level hook stays nil here.
	}
}

// inboundPacket is one datagram handed from a listener's read goroutine to
// the engine's single logical executor.
type inboundPacket struct {
	ifIndex   int
	localAddr netip.Addr
	sender    netip.Addr
	payload   []byte
}

func enqueuePacket(ctx context.Context, ch chan<- inboundPacket, p inboundPacket) {
	select {
	case ch <- p:
	case <-ctx.Done():
	}
}

// runEngineLoop is the engine's single logical executor: the only goroutine
// ever permitted to call Engine, route.Table, or neighbor.Table methods.
// Listener reads and interface-monitor events arrive on channels from their
// own OS-thread goroutines and are only ever enqueued here, never applied
// directly, so a packet dispatch can never interleave with a timer fire.
func runEngineLoop(
	ctx context.Context,
	logger *slog.Logger,
	eng *engine.Engine,
	sched *scheduler.Scheduler,
	adapter *hostadapter.Adapter,
	mon netio.InterfaceMonitor,
	packets <-chan inboundPacket,
	collector *eslrmetrics.Collector,
) {
	eng.Start()

	timer := time.NewTimer(nextDelay(sched))
	defer timer.Stop()

	sampleTicker := time.NewTicker(metricsSampleInterval)
	defer sampleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-packets:
			adapter.DispatchPacket(p.ifIndex, p.localAddr, p.sender, p.payload)
		case _, ok := <-mon.Events():
			if ok {
				if err := adapter.Refresh(); err != nil {
					logger.Warn("refresh on interface event", slog.String("error", err.Error()))
				}
			}
		case <-sampleTicker.C:
			sampleMetrics(eng, collector)
		case <-timer.C:
		}
		sched.RunDue(time.Now())
		resetTimer(timer, sched)
	}
}

// sampleMetrics refreshes the neighbor/route population gauges from the
// engine's owned tables. Must run on the engine's single logical executor,
// the same goroutine that calls every other Engine/Neighbors/Routes method.
func sampleMetrics(eng *engine.Engine, collector *eslrmetrics.Collector) {
	neighborCounts := map[string]int{"Void": 0, "Valid": 0, "Invalid": 0}
	for _, n := range eng.Neighbors.Snapshot() {
		neighborCounts[n.State.String()]++
	}
	collector.SetNeighborCounts(neighborCounts)

	routeCounts := make(map[[2]string]int)
	for _, r := range eng.Routes.MainSnapshot() {
		routeCounts[[2]string{"main", r.Validity.String()}]++
	}
	for _, r := range eng.Routes.BackupSnapshot() {
		routeCounts[[2]string{"backup", r.Validity.String()}]++
	}
	collector.SetRouteCounts(routeCounts)
}

func nextDelay(sched *scheduler.Scheduler) time.Duration {
	deadline, ok := sched.NextDeadline()
	if !ok {
		return time.Second
	}
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}

func resetTimer(timer *time.Timer, sched *scheduler.Scheduler) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(nextDelay(sched))
}

// -------------------------------------------------------------------------
// UDP listeners
// -------------------------------------------------------------------------

func createListeners(logger *slog.Logger) ([]*netio.Listener, error) {
	ports := []uint16{engine.BroadcastPort, engine.AdvertisementPort}
	listeners := make([]*netio.Listener, 0, len(ports))
	for _, port := range ports {
		ln, err := netio.NewListener(port, logger)
		if err != nil {
			closeListeners(listeners, logger)
			return nil, fmt.Errorf("listen on port %d: %w", port, err)
		}
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

func closeListeners(listeners []*netio.Listener, logger *slog.Logger) {
	for _, ln := range listeners {
		if err := ln.Close(); err != nil {
			logger.Warn("failed to close listener", slog.String("error", err.Error()))
		}
	}
}

// -------------------------------------------------------------------------
// HTTP servers
// -------------------------------------------------------------------------

func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	httpSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("control server listening", slog.String("addr", cfg.HTTP.Addr))
		return listenAndServe(ctx, &lc, httpSrv, cfg.HTTP.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newControlServer wraps the chi-routed JSON control API with h2c so
// eslrctl can speak plaintext HTTP/2 to it without TLS.
func newControlServer(cfg config.HTTPConfig, eng *engine.Engine, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	srvr := server.New(logger, eng.Neighbors, eng.Routes, eng)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(srvr.Router(reg), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

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
// SIGHUP reload
// -------------------------------------------------------------------------

// startSIGHUPHandler reloads the dynamic log level on SIGHUP. ESLR has no
// declarative session set to reconcile (neighbors are discovered, not
// configured), so reload is limited to logging and timer/policy values,
// which take effect for the engine only on the next restart.
func startSIGHUPHandler(ctx context.Context, g *errgroup.Group, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigHUP:
				logger.Info("received SIGHUP, reloading configuration")
				reloadConfig(configPath, logLevel, logger)
			}
		}
	})
}

func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
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
// Graceful shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, logger *slog.Logger, fr *trace.FlightRecorder, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight recorder
// -------------------------------------------------------------------------

func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Config / logging
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

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
