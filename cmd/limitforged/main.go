// Command limitforged runs the rate limit decision service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	limitforge "github.com/limitforge/limitforge"
	"github.com/limitforge/limitforge/auth"
	"github.com/limitforge/limitforge/config"
	"github.com/limitforge/limitforge/metrics"
	"github.com/limitforge/limitforge/policy"
	"github.com/limitforge/limitforge/server"
	redisstore "github.com/limitforge/limitforge/store/redis"
	"github.com/limitforge/limitforge/tracing"
)

func main() {
	seed := flag.Bool("seed", false, "insert a demo tenant, plan, key and policy, then exit")
	flag.Parse()

	cfg := config.Load()
	log := newLogger(cfg)

	if err := run(cfg, log, *seed); err != nil {
		log.Fatal().Err(err).Msg("exiting")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("app", cfg.AppName).Logger()
	if cfg.IsDev() {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	return log
}

func run(cfg *config.Config, log zerolog.Logger, seed bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.AppName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	policies, err := policy.NewPostgres(ctx, policy.PostgresConfig{ConnString: cfg.PostgresDSN})
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer policies.Close()

	if seed {
		return runSeed(ctx, cfg, log, policies)
	}

	redisOpts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	counters := redisstore.New(goredis.NewClient(redisOpts))
	defer counters.Close()
	if err := counters.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	collector := metrics.NewCollector()
	engine := limitforge.NewEngine(counters,
		limitforge.WithMetrics(collector),
		limitforge.WithLogger(log),
	)
	resolver := policy.NewResolver(policies)
	verifier := auth.NewVerifier(policies, counters, cfg.APIKeyHashSalt)

	srv := server.New(cfg, engine, resolver, policies, verifier, collector, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.ListenAddr).Msg("listening")
		if err := srv.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// runSeed provisions a demo tenant so a fresh stack answers checks
// immediately. The raw API key prints once; it is not recoverable.
func runSeed(ctx context.Context, cfg *config.Config, log zerolog.Logger, policies policy.Store) error {
	tenant, err := policies.CreateTenant(ctx, "DemoCo")
	if err != nil {
		return fmt.Errorf("seed tenant: %w", err)
	}

	capacity := int64(100)
	refill := 50.0
	plan, err := policies.CreatePlan(ctx, &policy.Plan{
		TenantID:         tenant.ID,
		Name:             "demo-token-bucket",
		Algorithm:        policy.AlgorithmTokenBucket,
		BucketCapacity:   &capacity,
		RefillRatePerSec: &refill,
	})
	if err != nil {
		return fmt.Errorf("seed plan: %w", err)
	}

	raw, err := auth.GenerateAPIKey()
	if err != nil {
		return fmt.Errorf("seed key: %w", err)
	}
	if _, err := policies.CreateAPIKey(ctx, tenant.ID, "demo-key",
		auth.HashAPIKey(cfg.APIKeyHashSalt, raw)); err != nil {
		return fmt.Errorf("seed key: %w", err)
	}

	if _, err := policies.CreateResourcePolicy(ctx, tenant.ID, "orders", policy.SubjectTypeAPIKey, plan.ID); err != nil {
		return fmt.Errorf("seed policy: %w", err)
	}

	log.Info().
		Str("tenant_id", tenant.ID.String()).
		Str("plan_id", plan.ID.String()).
		Msg("demo data seeded")
	fmt.Printf("demo api key (save it, shown once): %s\n", raw)
	return nil
}
