package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/arena/internal/auth"
	"github.com/cory-johannsen/arena/internal/config"
	"github.com/cory-johannsen/arena/internal/frontend/handlers"
	"github.com/cory-johannsen/arena/internal/frontend/ws"
	"github.com/cory-johannsen/arena/internal/game/battle"
	"github.com/cory-johannsen/arena/internal/game/dice"
	"github.com/cory-johannsen/arena/internal/gameserver"
	"github.com/cory-johannsen/arena/internal/notify"
	"github.com/cory-johannsen/arena/internal/pkg/clock"
	"github.com/cory-johannsen/arena/internal/server"
	"github.com/cory-johannsen/arena/internal/storage/postgres"
	"github.com/cory-johannsen/arena/migrations"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the battle server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "apply pending migrations before serving")
}

func runServe(cmd *cobra.Command, _ []string) error {
	start := time.Now()
	ctx := cmd.Context()

	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting battle server", zap.String("http_addr", cfg.HTTP.Addr()))

	if migrateOnStart {
		if err := migrations.Up(cfg.Database.DSN()); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	dbStart := time.Now()
	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected",
		zap.String("host", cfg.Database.Host),
		zap.Duration("elapsed", time.Since(dbStart)),
	)

	chart, err := postgres.NewTypeChartRepository(pool.DB()).Load(ctx)
	if err != nil {
		return fmt.Errorf("loading type chart: %w", err)
	}
	logger.Info("type chart loaded", zap.Int("entries", len(chart)))

	clk := clock.New()
	engine := battle.NewEngine(dice.NewLoggedRoller(dice.NewCryptoSource(), logger.Named("dice")), chart, clk)
	stores := gameserver.Stores{
		Battles:   postgres.NewBattleRepository(pool.DB()),
		Creatures: postgres.NewCreatureRepository(pool.DB()),
		Moves:     postgres.NewMoveRepository(pool.DB()),
	}

	lifecycle := server.NewLifecycle(logger, cfg.HTTP.ShutdownTimeout)

	var notifiers gameserver.NotifierFactory
	if cfg.Redis.Enabled() {
		client := newRedisClient(cfg.Redis)
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		notifiers = func(target notify.Deliverer) notify.Notifier {
			r := notify.NewRedis(client, cfg.Redis.ChannelPrefix, target, logger.Named("notify"))
			lifecycle.Add("notify", r)
			return r
		}
		logger.Info("redis notifications enabled", zap.String("addr", cfg.Redis.Addr))
	}

	svc := gameserver.NewServices(stores, engine, notifiers, cfg.Battle, clk, logger)

	if cfg.Battle.IdleTimeout > 0 {
		sweeper, err := gameserver.NewSweeper(svc.Registry, cfg.Battle.IdleTimeout, cfg.Battle.SweepInterval, clk, logger.Named("sweeper"))
		if err != nil {
			return err
		}
		lifecycle.Add("sweeper", sweeper)
	}

	verifier := auth.NewVerifier(cfg.Auth, clk)
	router := handlers.NewRouter(handlers.Deps{
		Services: svc,
		Verifier: verifier,
		Realtime: ws.NewHandler(verifier, svc.Arena, svc.Dispatch, cfg.HTTP.AllowedOrigins, cfg.HTTP.WriteTimeout, logger.Named("ws")),
		Ping: func(ctx context.Context) error {
			return pool.Health(ctx, 2*time.Second)
		},
		Logger: logger.Named("http"),
	})
	lifecycle.Add("http", &server.HTTPService{Server: &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           router,
		// a full ReadTimeout would also cut long-lived websocket reads
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}})

	logger.Info("battle server ready", zap.Duration("startup", time.Since(start)))
	return lifecycle.Run(ctx)
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
	})
}
