package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"unify/internal/audit"
	auditmemory "unify/internal/audit/store/memory"
	auditpostgres "unify/internal/audit/store/postgres"
	"unify/internal/identity"
	"unify/internal/identity/dedupe"
	"unify/internal/identity/metrics"
	"unify/internal/ingest"
	"unify/internal/platform/config"
	"unify/internal/platform/httpserver"
	"unify/internal/platform/logger"
	platformredis "unify/internal/platform/redis"
	"unify/internal/profile/index"
	"unify/internal/profile/store"
	httpapi "unify/internal/transport/http"
)

// main wires dependencies and the process lifecycle. Resolution logic lives
// in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Profile + audit storage: Postgres when configured, in-memory otherwise.
	var (
		profiles   store.Store
		auditStore audit.Store
	)
	if cfg.Postgres.DSN != "" {
		db, err := sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Error("ping postgres", "error", err)
			os.Exit(1)
		}
		profiles = store.NewPostgres(db)
		auditStore = auditpostgres.New(db)
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
		profiles = store.NewMemory()
		auditStore = auditmemory.New()
	}

	// Redis fronts the identifier index and the event dedupe keys when
	// configured; the store-backed index remains authoritative.
	var (
		idx identity.Index   = profiles
		ded identity.Deduper = dedupe.NewMemory()
	)
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connect", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		idx = index.NewCached(redisClient.Client, profiles, 24*time.Hour)
		ded = dedupe.NewRedis(redisClient.Client, cfg.Redis.DedupeTTL)
	}

	if cfg.Kafka.EnsureTopics {
		if err := ingest.EnsureTopics(ctx, cfg.Kafka.Brokers); err != nil {
			log.Error("ensure topics", "error", err)
			os.Exit(1)
		}
	}
	producer, err := ingest.NewProducer(cfg.Kafka.Brokers)
	if err != nil {
		log.Error("kafka producer", "error", err)
		os.Exit(1)
	}
	defer producer.Close()

	inbox := make(audit.Inbox, 256)
	worker := audit.NewWorker(auditStore, inbox)

	resolver, err := identity.NewResolver(
		cfg.Resolver,
		profiles,
		identity.NewLookup(idx, cfg.Postgres.QueryTimeout),
		identity.NewScorer(cfg.Resolver),
		identity.DefaultRuleTable(),
		ded,
		inbox,
		producer,
		log,
		metrics.New(),
	)
	if err != nil {
		log.Error("build resolver", "error", err)
		os.Exit(1)
	}

	consumer, err := ingest.NewConsumer(cfg.Kafka, identity.NewCanonicalizer(), resolver, producer, log)
	if err != nil {
		log.Error("kafka consumer", "error", err)
		os.Exit(1)
	}

	handler := httpapi.NewHandler(profiles, audit.NewPublisher(auditStore), log)
	srv := httpserver.New(cfg.Server.Addr, httpapi.NewRouter(handler, cfg.Server.JWTSigningKey))

	log.Info("starting unify", "addr", cfg.Server.Addr, "brokers", cfg.Kafka.Brokers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
