package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mwork/social-realtime/internal/config"
	"github.com/mwork/social-realtime/internal/domain/events"
	"github.com/mwork/social-realtime/internal/domain/gateway"
	"github.com/mwork/social-realtime/internal/domain/presence"
	"github.com/mwork/social-realtime/internal/domain/relationships"
	"github.com/mwork/social-realtime/internal/domain/user"
	"github.com/mwork/social-realtime/internal/middleware"
	"github.com/mwork/social-realtime/internal/pkg/database"
	"github.com/mwork/social-realtime/internal/pkg/fanout"
	"github.com/mwork/social-realtime/internal/pkg/jwt"
	"github.com/mwork/social-realtime/internal/pkg/logger"
	pkgresponse "github.com/mwork/social-realtime/internal/pkg/response"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
		InstanceID:  cfg.InstanceID,
	}); err != nil {
		log.Warn().Err(err).Msg("Logging to stdout only")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("store", cfg.StoreDriver).
		Str("fanout", cfg.FanoutDriver).
		Msg("Starting social realtime service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start")
	}
	defer a.close()

	if err := a.run(ctx); err != nil {
		log.Error().Err(err).Msg("Service stopped with error")
		a.close()
		os.Exit(1)
	}
	log.Info().Msg("Server exited properly")
}

// app holds the process-wide collaborators
type app struct {
	cfg *config.Config

	db    *sqlx.DB
	redis *redis.Client
	nats  *nats.Conn

	hub       *gateway.Hub
	fanout    fanout.Adapter
	lifecycle *presence.Lifecycle
	sweeper   *presence.Sweeper
	gateway   *gateway.Handler
	server    *http.Server

	closed bool
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	// ---------- Stores ----------
	var (
		userLookup gateway.UserLookup
		relRepo    relationships.Repository
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		users := user.NewMemoryRepository()
		if err := seedUsers(users, cfg.SeedUsers); err != nil {
			return nil, err
		}
		userLookup = users
		relRepo = relationships.NewMemoryRepository(users)
		log.Warn().Int("users", len(cfg.SeedUsers)).Msg("Using in-memory relationship store")

	case config.StoreDriverPostgres:
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.db = db
		if err := database.EnsureSchema(ctx, db); err != nil {
			a.close()
			return nil, err
		}
		userLookup = user.NewRepository(db)
		relRepo = relationships.NewRepository(db)

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.redis = redisClient

	var presenceStore interface {
		presence.Store
		presence.Registry
	}
	if redisClient != nil {
		presenceStore = presence.NewRedisStore(redisClient, cfg.PresenceTTL, cfg.InstanceHeartbeatTTL)
	} else {
		presenceStore = presence.NewMemoryStore(nil, cfg.PresenceTTL, cfg.InstanceHeartbeatTTL)
	}

	// ---------- Fan-out ----------
	a.hub = gateway.NewHub()
	adapter, err := a.newFanout()
	if err != nil {
		a.close()
		return nil, err
	}
	a.fanout = adapter

	// ---------- Services ----------
	notifier := events.NewNotifier(adapter)
	relService := relationships.NewService(relRepo, notifier, nil)
	presenceService := presence.NewService(presenceStore, cfg.PresenceBatchLimit)

	a.lifecycle = presence.NewLifecycle(presence.LifecycleConfig{
		Store:        presenceStore,
		Registry:     presenceStore,
		Peers:        relService,
		Notifier:     notifier,
		InstanceID:   cfg.InstanceID,
		PeerPageSize: cfg.PeerPageSize,
	})
	a.sweeper = presence.NewSweeper(a.lifecycle)

	// ---------- Handlers ----------
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)
	relHandler := relationships.NewHandler(relService)
	presenceHandler := presence.NewHandler(presenceService)

	a.gateway = gateway.NewHandler(gateway.HandlerConfig{
		Auth:           gateway.NewAuthenticator(jwtService, userLookup),
		Hub:            a.hub,
		Lifecycle:      a.lifecycle,
		Commands:       gateway.NewCommands(relService, presenceService, gateway.NewRateLimiter(redisClient, cfg.CommandRateLimit, cfg.CommandRateWindow, nil)),
		SendBufferSize: cfg.ConnectionSendSize,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	a.server = &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     newRouter(cfg, a.healthCheck, middleware.Auth(jwtService), relHandler, presenceHandler, a.gateway),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	return a, nil
}

func (a *app) newFanout() (fanout.Adapter, error) {
	switch a.cfg.FanoutDriver {
	case config.FanoutDriverRedis:
		if a.redis == nil {
			log.Warn().Msg("Redis fan-out requested without Redis, delivering locally only")
			return fanout.NewLocal(a.hub), nil
		}
		return fanout.NewRedis(a.redis, a.hub, a.cfg.InstanceID), nil

	case config.FanoutDriverNATS:
		nc, err := fanout.ConnectNATS(fanout.NATSConfig{
			URL:  a.cfg.NATSURL,
			Name: "social-realtime-" + a.cfg.InstanceID,
		})
		if err != nil {
			return nil, err
		}
		a.nats = nc
		return fanout.NewNATS(nc, a.hub, a.cfg.InstanceID), nil

	case config.FanoutDriverLocal, "":
		return fanout.NewLocal(a.hub), nil

	default:
		return nil, fmt.Errorf("unknown fanout driver %q", a.cfg.FanoutDriver)
	}
}

// run blocks until ctx is done or a component fails, then drains connections
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.hub.Run(gctx) })
	g.Go(func() error { return a.fanout.Run(gctx) })
	g.Go(func() error { return a.lifecycle.RunHeartbeat(gctx, a.cfg.InstanceHeartbeatTTL/3) })
	g.Go(func() error { return a.lifecycle.RunRefresh(gctx, a.cfg.PresenceRefreshInterval) })
	g.Go(func() error { return a.sweeper.Start(gctx, a.cfg.SweepInterval) })

	g.Go(func() error {
		log.Info().Str("addr", a.server.Addr).Msg("HTTP server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		a.hub.Shutdown()
		if err := a.gateway.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Connections still closing at shutdown deadline")
		}
		return nil
	})

	return g.Wait()
}

func (a *app) close() {
	if a.closed {
		return
	}
	a.closed = true

	if a.fanout != nil {
		if err := a.fanout.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing fan-out")
		}
	}
	if a.nats != nil {
		a.nats.Close()
	}
	database.CloseRedis(a.redis)
	database.ClosePostgres(a.db)
}

// healthCheck pings the backing stores that are configured
func (a *app) healthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if a.db != nil {
		if err := a.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	return nil
}

func newRouter(cfg *config.Config, health func(context.Context) error, authMiddleware func(http.Handler) http.Handler, relHandler *relationships.Handler, presenceHandler *presence.Handler, gw *gateway.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.Metrics)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	// WebSocket endpoint authenticates during the handshake itself
	r.Get("/ws", gw.ServeWS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := health(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			pkgresponse.ServiceUnavailable(w, "Backing store unavailable")
			return
		}
		pkgresponse.OK(w, map[string]string{
			"status":   "ok",
			"instance": cfg.InstanceID,
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})
		r.Mount("/friends", relHandler.Routes(authMiddleware, presenceHandler.Mount))
	})

	return r
}

// seedUsers loads id:name pairs into the memory user store
func seedUsers(users *user.MemoryRepository, entries []string) error {
	for _, entry := range entries {
		rawID, name, _ := strings.Cut(entry, ":")
		id, err := uuid.Parse(strings.TrimSpace(rawID))
		if err != nil {
			return fmt.Errorf("seed user %q: %w", entry, err)
		}
		users.Put(id, strings.TrimSpace(name))
	}
	return nil
}
