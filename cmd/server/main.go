package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lattice-video/signaling/internal/auth"
	"github.com/lattice-video/signaling/internal/config"
	"github.com/lattice-video/signaling/internal/core"
	"github.com/lattice-video/signaling/internal/domain"
	"github.com/lattice-video/signaling/internal/mediaworker"
	"github.com/lattice-video/signaling/internal/registry"
	"github.com/lattice-video/signaling/internal/relay"
	"github.com/lattice-video/signaling/internal/sfu"
	callstore "github.com/lattice-video/signaling/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}

	callStore, closeStore := buildCallStore(ctx, cfg)
	defer closeStore()

	verifier := auth.NewChain(auth.NewJWTVerifier(cfg.JWTSecret), auth.NewGuestVerifier())

	worker, err := mediaworker.New(mediaworker.Config{
		STUNServer:           cfg.StunServer,
		TURNServerURL:        cfg.TurnServerURL,
		TURNServerUsername:   cfg.TurnServerUsername,
		TURNServerCredential: cfg.TurnServerCredential,
		ListenIP:             cfg.MediasoupListenIP,
		AnnouncedIP:          cfg.MediasoupAnnouncedIP,
		MinPort:              uint16(cfg.MediasoupMinPort),
		MaxPort:              uint16(cfg.MediasoupMaxPort),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start media worker")
	}
	go watchWorkerDeath(worker)

	reg := registry.New(callStore, registry.Options{
		ReapGrace:     time.Duration(cfg.ReapGraceSeconds) * time.Second,
		SweepInterval: cfg.RoomSweepInterval,
	})
	defer reg.Close()

	sfuSession := sfu.New(worker, reg, reg)
	// Late-bound to avoid a circular import between internal/registry
	// and internal/sfu (spec.md §4.1: closing C5's router on last leave).
	reg.SetSFUCloser(sfuSession.CloseRoom)

	sig := relay.New(reg, sfuSession, verifier, relay.Config{
		ICEServers:     cfg.ICEServers(),
		AllowedOrigins: cfg.AllowedOrigins,
		AuthRateLimit:  cfg.AuthRateLimit,
		AuthRateWindow: cfg.AuthRateWindow,
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
	})

	r := setupRouter(ctx, cfg, sig, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		log.Info().Str("addr", addr).Msg("signaling server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}

func buildCallStore(ctx context.Context, cfg *config.Config) (core.CallStore, func()) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("no DATABASE_URL configured, using in-memory call store")
		return callstore.NewMemoryCallStore(), func() {}
	}
	pool, err := callstore.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	return callstore.NewPostgresCallStore(pool), pool.Close
}

func watchWorkerDeath(worker core.MediaWorker) {
	<-worker.Died()
	log.Fatal().Msg("media worker died, exiting so the process supervisor restarts us (spec.md §4.4)")
}

func setupRouter(ctx context.Context, cfg *config.Config, sig *relay.Relay, reg *registry.Registry) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	sessionSecret := cfg.Secret
	if sessionSecret == "" {
		sessionSecret = cfg.JWTSecret
	}
	store := cookie.NewStore([]byte(sessionSecret))
	r.Use(sessions.Sessions("signaling_session", store))
	r.Use(relay.VisitorCookieMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	api := r.Group("/api")
	api.GET("/ws/signal", func(c *gin.Context) {
		sig.HandleSocket(ctx, c)
	})

	// Read-only admin surface (SPEC_FULL.md §9): never returns
	// passcodes, tokens, or invite lists.
	admin := api.Group("/admin")
	admin.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": reg.AllRoomStats()})
	})
	admin.GET("/rooms/:roomId", func(c *gin.Context) {
		stats, ok := reg.RoomStats(domain.RoomID(c.Param("roomId")))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	log.Info().Str("module", "cmd.server").Str("static", cfg.StaticPath).Msg("router setup")
	return r
}
