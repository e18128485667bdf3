package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/txguard/internal/adapters/alerts"
	"github.com/okian/txguard/internal/adapters/http/api"
	"github.com/okian/txguard/internal/adapters/http/swagger"
	"github.com/okian/txguard/internal/adapters/ledger"
	"github.com/okian/txguard/internal/adapters/store"
	app "github.com/okian/txguard/internal/app"
	"github.com/okian/txguard/internal/config"
	"github.com/okian/txguard/pkg/logger"
	"github.com/okian/txguard/pkg/metrics"
	"github.com/okian/txguard/pkg/telemetry"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(ctx, "txguard exited", logger.Error(err))
		_ = logger.Sync()
		stop()
		os.Exit(1)
	}
	_ = logger.Sync()
}

func run(ctx context.Context) error {
	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	if err := logger.InitWithFormat(cfg.LogFormat, os.Stdout); err != nil {
		return err
	}
	log := logger.Get()
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	shutdownTracing, err := telemetry.Init(ctx,
		telemetry.WithServiceName(cfg.Telemetry.ServiceName),
		telemetry.WithEndpoint(cfg.Telemetry.OTLPEndpoint),
		telemetry.WithInsecure(cfg.Telemetry.Insecure),
		telemetry.WithSampleRatio(cfg.Telemetry.SampleRatio),
	)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn(ctx, "tracer shutdown failed", logger.Error(err))
		}
	}()

	st := buildStore(cfg)
	led, err := buildLedger(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return err
	}
	recorder, err := buildRecorder(ctx, cfg, led, log)
	if err != nil {
		_ = st.Close()
		_ = led.Close()
		return err
	}

	svc := app.New(
		app.WithLogger(log),
		app.WithCounterStore(st),
		app.WithLedger(led),
		app.WithAlertRecorder(recorder),
		app.WithAlertOptions(
			alerts.WithQueueCapacity(cfg.Alerts.QueueCapacity),
			alerts.WithWorkers(cfg.Alerts.Workers),
			alerts.WithRetries(cfg.Alerts.Retries),
		),
		app.WithGuardConfig(cfg.Guard),
	)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(ctx, "service stop failed", logger.Error(err))
		}
	}()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(ctx, svc, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      max(writeTimeout, 2*cfg.Guard.CheckTimeout),
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("store", cfg.Store.Backend),
			logger.String("ledger", cfg.Ledger.Backend),
			logger.Any("alert_sinks", cfg.Alerts.Sinks),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// newMux registers the API, health, metrics and docs routes.
func newMux(ctx context.Context, svc *app.Service, log logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc,
		api.WithHealthChecks(svc.HealthChecks()...),
		api.WithLogger(log.Named("api")),
	).Register(ctx, mux)
	return mux
}

func buildStore(cfg *config.Config) store.Store {
	if cfg.Store.Backend == config.BackendRedis {
		return store.NewRedisStore(cfg.Store.RedisAddr,
			store.WithRedisPassword(cfg.Store.RedisPassword),
			store.WithRedisDB(cfg.Store.RedisDB),
			store.WithRedisPoolSize(cfg.Store.RedisPoolSize),
		)
	}
	return store.NewMemoryStore(store.WithMaxKeys(cfg.Store.MemoryMaxKeys))
}

func buildLedger(ctx context.Context, cfg *config.Config) (app.Ledger, error) {
	if cfg.Ledger.Backend == config.BackendPostgres {
		return ledger.Open(ctx, cfg.Ledger.DSN, ledger.WithMaxOpenConns(cfg.Ledger.MaxOpenConns))
	}
	return ledger.NewMemoryLedger(), nil
}

// buildRecorder fans alerts out to every configured sink. The postgres sink
// shares the ledger's pool when the ledger is postgres too.
func buildRecorder(ctx context.Context, cfg *config.Config, led app.Ledger, log logger.Logger) (alerts.Recorder, error) {
	var fan alerts.Fanout
	for _, sink := range cfg.Alerts.Sinks {
		switch sink {
		case config.SinkLog:
			fan = append(fan, alerts.NewLogRecorder(log.Named("alerts")))
		case config.SinkKafka:
			fan = append(fan, alerts.NewKafkaRecorder(cfg.Alerts.KafkaBrokers, cfg.Alerts.KafkaTopic))
		case config.SinkPostgres:
			pg, ok := led.(*ledger.PostgresLedger)
			if !ok {
				var err error
				if pg, err = ledger.Open(ctx, cfg.Ledger.DSN, ledger.WithMaxOpenConns(cfg.Ledger.MaxOpenConns)); err != nil {
					_ = fan.Close()
					return nil, fmt.Errorf("alert sink: %w", err)
				}
				fan = append(fan, closingRecorder{Recorder: alerts.NewPostgresRecorder(pg.DB()), closer: pg})
				continue
			}
			fan = append(fan, alerts.NewPostgresRecorder(pg.DB()))
		}
	}
	if len(fan) == 1 {
		return fan[0], nil
	}
	return fan, nil
}

// closingRecorder owns a database handle opened only for alert writes.
type closingRecorder struct {
	alerts.Recorder
	closer interface{ Close() error }
}

func (r closingRecorder) Close() error { return r.closer.Close() }

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the alert queue gauges from the service stats.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}

// updateServiceMetrics updates service-level metrics.
func updateServiceMetrics(svc *app.Service) {
	stats := svc.GetStats()
	if as, ok := stats["alerts"].(alerts.Stats); ok {
		metrics.UpdateAlertQueue(as.Queued, as.Capacity)
	}
}
