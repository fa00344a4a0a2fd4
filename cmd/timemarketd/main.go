package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TimeMarket/internal/config"
	"TimeMarket/internal/core"
	"TimeMarket/internal/ingestion"
	"TimeMarket/internal/notify"
	"TimeMarket/internal/observability"
	"TimeMarket/internal/persistence"
	"TimeMarket/internal/projection"
	"TimeMarket/internal/query"
	"TimeMarket/internal/recovery"
	"TimeMarket/internal/server"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	observability.SetupLogging(cfg.LogLevel, cfg.LogPretty)
	logger := observability.NewLogger("timemarketd")

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("timemarketd stopped")
	}
	logger.Info().Msg("timemarketd shutdown complete")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	coreCfg, err := cfg.CoreConfig()
	if err != nil {
		return err
	}
	coreCfg.PayloadEncoder = ingestion.EncodeEvent

	// coreCtx stops intake and the core loop; workerCtx outlives it so the
	// persistence and projection queues drain before exit.
	coreCtx, stopCore := context.WithCancel(context.Background())
	defer stopCore()
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(coreCtx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("postgres connected")

	migrator, err := persistence.NewMigrator(db, cfg.MigrationsFS())
	if err != nil {
		return err
	}
	if n, err := migrator.Up(coreCtx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	} else if n > 0 {
		logger.Info().Int("applied", n).Msg("schema migrated")
	}

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", db.PingContext)
	store := persistence.NewStore(db)
	if top, err := store.VerifySnapshots(coreCtx); err != nil {
		logger.Warn().Err(err).Msg("snapshot verification failed")
	} else {
		logger.Info().Int64("seq", top).Msg("latest verified snapshot")
	}

	// --- Recovery: snapshot + replay on a scratch core ---
	recovered, replayed, err := recovery.Recover(coreCtx, store, coreCfg, metrics)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}

	// Persistence blocks the core when behind; projections drop when full.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)

	market := core.NewDeterministicCore(
		recovered.Sequence+1,
		persistChan,
		projectionChan,
		store,
		metrics,
		coreCfg,
	)
	market.RestoreFromSnapshot(recovered)

	// --- Redis (optional: slot cache and rate limiting degrade to no-ops) ---
	rdb := newRedis(cfg, logger)
	if rdb != nil {
		defer rdb.Close()
		healthChecker.AddCheck("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	slotCache := query.NewSlotCache(rdb, cfg.SlotCacheTTL)

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL)
	if err != nil {
		return err
	}
	defer nc.Close()
	if err := ingestion.EnsureStreams(coreCtx, js); err != nil {
		return err
	}
	if err := ingestion.EnsureFeedStream(coreCtx, js); err != nil {
		return err
	}
	healthChecker.AddCheck("nats", func(context.Context) error {
		if !nc.IsConnected() {
			return errors.New("not connected")
		}
		return nil
	})

	// --- RabbitMQ notifications (optional) ---
	var notifier *notify.Notifier
	if cfg.AMQPURL != "" {
		conn, ch, err := notify.Dial(cfg.AMQPURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		notifier = notify.NewNotifier(ch, 4096, metrics)
		if err := notifier.Declare(); err != nil {
			return err
		}
	} else {
		logger.Warn().Msg("TM_AMQP_URL not set, collectible and tip notifications disabled")
	}

	errChan := make(chan error, 16)

	// --- Workers ---
	feed := ingestion.NewFeedPublisher(js, 4096, metrics)
	persistWorker := persistence.NewPersistenceWorker(store, persistChan, cfg.PersistBatchSize, cfg.PersistFlushEvery, metrics)
	persistWorker.OnFlushed(func(outputs []core.CoreOutput) {
		feed.Enqueue(outputs)
		if notifier != nil {
			notifier.Enqueue(outputs)
		}
	})
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		if err := persistWorker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- fmt.Errorf("persistence worker: %w", err)
		}
	}()

	projWorker := projection.NewProjectionWorker(db, slotCache, projectionChan, metrics)
	if err := projWorker.Reconcile(coreCtx, recovered); err != nil {
		logger.Warn().Err(err).Msg("projection reconcile failed, rows stay stale until touched")
	}
	projDone := make(chan struct{})
	go func() {
		defer close(projDone)
		_ = projWorker.Run(workerCtx)
	}()

	go func() {
		_ = feed.Run(workerCtx)
	}()
	if notifier != nil {
		go func() { _ = notifier.Run(workerCtx) }()
	}

	// --- Bootstrap on an empty market ---
	if recovered.Platform == nil && cfg.BootstrapFile != "" {
		if err := applyBootstrap(market, cfg.BootstrapFile, logger); err != nil {
			return err
		}
	}

	// --- Intake ---
	submitChan := make(chan ingestion.Submission, cfg.SubmitChanSize)
	inbound := make(chan ingestion.InboundOp, cfg.SubmitChanSize)
	opsConsumer := ingestion.NewOpsConsumer(js, inbound)
	if err := opsConsumer.Start(coreCtx); err != nil {
		return err
	}

	snapshots := make(chan *core.SnapshotState, 1)
	loop := &coreLoop{
		core:          market,
		submissions:   submitChan,
		inbound:       inbound,
		snapshots:     snapshots,
		snapshotEvery: cfg.SnapshotInterval,
		lastSnapshot:  recovered.Sequence,
		ingestLatency: metrics.IngestToApply,
		logger:        observability.NewLogger("core-loop"),
	}
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.run(coreCtx)
	}()
	snapDone := make(chan struct{})
	go func() {
		defer close(snapDone)
		for st := range snapshots {
			saveSnapshot(workerCtx, store, st, cfg.SnapshotKeep, metrics, logger)
		}
	}()

	// --- API ---
	var limiter redis.Scripter
	if rdb != nil {
		limiter = rdb
	}
	auth := server.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	if !auth.Enabled() {
		logger.Warn().Msg("TM_JWT_SECRET not set, submissions are not authenticated")
	}
	api := server.NewGRPCServer(cfg.GRPCAddr, cfg.HTTPAddr, &server.ServerDeps{
		Submitter:     ingestion.NewGRPCIngestService(submitChan),
		Reader:        query.NewQueryService(db, slotCache, metrics),
		Auth:          auth,
		Limiter:       server.NewRateLimiter(limiter, cfg.RateLimitPerSec, cfg.RateLimitBurst),
		HealthChecker: healthChecker,
		Metrics:       metrics,
	})
	go func() { errChan <- api.StartGRPC(coreCtx) }()
	go func() { errChan <- api.StartHTTPGateway(coreCtx) }()
	go func() { errChan <- serveMetrics(coreCtx, cfg.MetricsAddr, logger) }()

	healthChecker.SetReady(true)
	logger.Info().
		Int64("sequence", market.GetSequence()).
		Int64("replayed", replayed).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Str("metrics", cfg.MetricsAddr).
		Msg("timemarketd ready")

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errChan:
		if err != nil {
			logger.Error().Err(err).Msg("component failed, shutting down")
			runErr = err
		}
	}

	// --- Graceful shutdown: stop intake, drain, final snapshot ---
	healthChecker.SetReady(false)
	opsConsumer.Stop()
	stopCore()
	<-loopDone

	close(snapshots)
	<-snapDone
	close(persistChan)
	close(projectionChan)
	<-persistDone
	<-projDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	saveSnapshot(shutdownCtx, store, market.CreateSnapshotState(), cfg.SnapshotKeep, metrics, logger)
	stopWorkers()
	return runErr
}

func applyBootstrap(market *core.DeterministicCore, path string, logger zerolog.Logger) error {
	b, err := config.LoadBootstrap(path)
	if err != nil {
		return err
	}
	events, err := b.Events(time.Now().UnixMicro())
	if err != nil {
		return err
	}
	for _, evt := range events {
		if _, err := market.ProcessEvent(evt); err != nil {
			return fmt.Errorf("bootstrap %s: %w", evt.EventType(), err)
		}
	}
	logger.Info().Int("operations", len(events)).Str("file", path).Msg("market bootstrapped")
	return nil
}

// saveSnapshot stores st, verifies every snapshot whose operation is now
// durable and prunes old ones.
func saveSnapshot(ctx context.Context, store *persistence.Store, st *core.SnapshotState, keep int, metrics *observability.Metrics, logger zerolog.Logger) {
	if st.Sequence < 0 {
		return
	}
	start := time.Now()
	size, err := store.SaveSnapshot(ctx, &persistence.SnapshotData{State: st, CreatedAt: time.Now().UTC()})
	if err != nil {
		logger.Error().Err(err).Int64("seq", st.Sequence).Msg("snapshot failed")
		return
	}
	if _, err := store.VerifySnapshots(ctx); err != nil {
		logger.Warn().Err(err).Msg("snapshot verification failed")
	} else if pruned, err := store.PruneSnapshots(ctx, keep); err != nil {
		logger.Warn().Err(err).Msg("snapshot prune failed")
	} else if pruned > 0 {
		logger.Debug().Int64("pruned", pruned).Msg("old snapshots removed")
	}
	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotSizeBytes.Set(float64(size))
	metrics.SnapshotLastSeq.Set(float64(st.Sequence))
	logger.Info().Int64("seq", st.Sequence).Int("bytes", size).Msg("snapshot saved")
}

// newRedis returns nil when Redis is not configured or unreachable.
func newRedis(cfg config.Config, logger zerolog.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable, cache and rate limits disabled")
		client.Close()
		return nil
	}
	return client
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

