// Command socialcredit runs the Matrix social credit application service:
// it receives room events pushed by the homeserver, keeps per-room
// reputations in SQLite and answers chat commands.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/tbourn/social-credit/internal/config"
	"github.com/tbourn/social-credit/internal/domain"
	httpapi "github.com/tbourn/social-credit/internal/http"
	"github.com/tbourn/social-credit/internal/matrix"
	"github.com/tbourn/social-credit/internal/observability"
	"github.com/tbourn/social-credit/internal/repo"
	"github.com/tbourn/social-credit/internal/services"
	"github.com/tbourn/social-credit/internal/sysutil"
)

// version is set at build time with -ldflags "-X main.version=...".
var version string

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	log := sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty)
	ver := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, ver, log); err != nil {
		log.Fatal().Err(err).Msg("exit")
	}
}

func run(ctx context.Context, cfg config.Config, ver string, log zerolog.Logger) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	store := repo.NewStore(db)

	botTag := cfg.Matrix.BotTag()
	self, ok := domain.ParseIdentity(botTag)
	if !ok {
		return errors.New("bot identity " + botTag + " is not a valid user tag")
	}
	client := matrix.NewClient(cfg.Matrix.HomeserverURL, cfg.Matrix.ASToken, botTag, cfg.Matrix.Timeout,
		log.With().Str("component", "matrix").Logger())

	eng := services.NewEngine(store, services.EngineOptions{
		Self:           self,
		InitialScore:   cfg.Reputation.InitialScore,
		ReactionPeriod: cfg.Reputation.ReactionPeriod,
		ReactionLimit:  cfg.Reputation.ReactionLimit,
		Sender:         client,
		Relations:      client,
		Log:            log.With().Str("component", "engine").Logger(),
	})

	admin, err := eng.Users.BootstrapAdmin(ctx, cfg.Reputation.AdminTag)
	if err != nil {
		return err
	}
	log.Info().Str("admin", admin.Tag()).Str("bot", botTag).Msg("admin ready")

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Engine: eng,
		Scores: eng.Memberships,
		Emojis: eng.Emojis,
		Ready:  sqlDB.PingContext,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", ver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
