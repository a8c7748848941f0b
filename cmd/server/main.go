package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/tgcalls/internal/adapters/http"
	signaling "github.com/dkeye/tgcalls/internal/adapters/signal"
	"github.com/dkeye/tgcalls/internal/adapters/store"
	"github.com/dkeye/tgcalls/internal/app"
	"github.com/dkeye/tgcalls/internal/app/orch"
	"github.com/dkeye/tgcalls/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}
	if !cfg.Debug() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	st, err := store.New(db)
	if err != nil {
		return err
	}
	defer st.Close()

	policy, err := app.PolicyByName(cfg.Signal.SlowConsumer)
	if err != nil {
		return err
	}
	reg := app.NewRegistry()
	reg.Policy = policy
	o := orch.NewOrchestrator(reg, orch.NewRouter(reg, cfg.Signal.RequireSharedRoom), st)
	ctl := signaling.NewSignalWSController(o, signaling.Options{
		ReadLimit:      cfg.ReadLimit,
		PingPeriod:     cfg.PingPeriod,
		SendBuffer:     cfg.SendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
		Limiter:        signaling.NewFrameRateLimiter(cfg.Signal.RateLimit, cfg.Signal.RateInterval),
	})

	r := router.SetupRouter(cfg, router.Deps{
		Users:    app.NewUserService(st),
		Rooms:    app.NewRoomService(st, st),
		Registry: reg,
		Signal:   ctl,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("tgcalls server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		// hijacked websockets are not tracked by Shutdown
		reg.Close()
		ctl.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
