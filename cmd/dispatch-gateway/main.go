// Command dispatch-gateway runs the field-services job-dispatch HTTP and
// WebSocket gateway: config load, collaborator wiring, route mounting, and
// graceful shutdown, in the shape of the teacher's own entry point.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fielddispatch/gateway/internal/assignment"
	"github.com/fielddispatch/gateway/internal/authn"
	"github.com/fielddispatch/gateway/internal/cache"
	"github.com/fielddispatch/gateway/internal/catalog"
	"github.com/fielddispatch/gateway/internal/config"
	"github.com/fielddispatch/gateway/internal/eventbus"
	"github.com/fielddispatch/gateway/internal/lifecycle"
	"github.com/fielddispatch/gateway/internal/logging"
	"github.com/fielddispatch/gateway/internal/observability"
	"github.com/fielddispatch/gateway/internal/pricing"
	"github.com/fielddispatch/gateway/internal/providermatch"
	"github.com/fielddispatch/gateway/internal/realtime"
	"github.com/fielddispatch/gateway/internal/scoring"
	"github.com/fielddispatch/gateway/internal/sla"
	"github.com/fielddispatch/gateway/internal/store"
	"github.com/fielddispatch/gateway/internal/transport/handler"
	"github.com/fielddispatch/gateway/internal/transport/router"
	"github.com/fielddispatch/gateway/internal/weather"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg)

	log.Info().Str("env", cfg.Env).Msg("dispatch gateway starting")

	ctx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	st, err := store.New(ctx, cfg)
	cancelBoot()
	if err != nil {
		log.Fatal().Err(err).Msg("store connect failed")
	}
	defer st.Close()
	log.Info().Msg("postgres connected")

	ch, err := cache.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connect failed")
	}
	defer ch.Close()
	log.Info().Msg("redis connected")

	bus := eventbus.New(log)

	cat := catalog.New(st)
	qual := providermatch.New(st)
	lc := lifecycle.New(st, bus)
	asg := assignment.New(st, bus)
	sc := scoring.New(st, bus)
	oracle := weather.New(cfg.WeatherBaseURL, cfg.WeatherTimeout, log.With().Str("component", "weather").Logger())
	pr := pricing.New(st, oracle, cfg.DynamicMultiplierCeiling)

	metrics, registry := observability.New()
	traceExporter := observability.NewLogExporter(log)
	tracer := observability.NewTracer(log, traceExporter, cfg.TraceSampleRate)

	hub := realtime.NewHub(log.With().Str("component", "realtime").Logger(), metrics, ch, func(r *http.Request) bool {
		return true
	})
	hub.AttachBroker(context.Background(), ch)
	realtime.SubscribeEvents(context.Background(), hub, bus)

	h := handler.New(st, ch, bus, cat, pr, qual, lc, asg, sc, hub, cfg, log.With().Str("component", "handler").Logger())
	verifier := authn.New(cfg.JWTSigningKey, cfg.JWTAlgorithm)

	r := router.New(cfg, log, verifier, h, hub, metrics, registry, tracer)

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sweepCtx, stopSweeps := context.WithCancel(context.Background())
	go runOfferSweeper(sweepCtx, asg, lc, cfg.OfferExpirySweepInterval, log)
	go runScoreRecovery(sweepCtx, sc, cfg.ScoreRecoveryInterval, log)

	slaScanner := sla.NewScanner(st, bus, sla.DefaultWarningThresholds(), cfg.SLAWarningScanInterval)
	slaScanner.Start()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("dispatch gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-done
	log.Info().Msg("shutdown signal received")

	stopSweeps()
	slaScanner.Stop()
	tracer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	} else {
		log.Info().Msg("dispatch gateway stopped gracefully")
	}
}

// runOfferSweeper periodically expires stale offers and resets their jobs
// for rebroadcast, the realtime analogue of the teacher's health poller.
func runOfferSweeper(ctx context.Context, asg *assignment.Coordinator, lc *lifecycle.Machine, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := asg.SweepExpired(ctx, lc); err != nil {
				log.Error().Err(err).Msg("offer sweep failed")
			}
		}
	}
}

// runScoreRecovery runs the weekly clean-record score recovery pass on a
// fixed interval, driven by PenaltyRecord timestamps rather than any
// in-memory state so a restart never skips or double-applies a pass.
func runScoreRecovery(ctx context.Context, sc *scoring.Ledger, interval time.Duration, log zerolog.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sc.RunWeeklyRecovery(ctx); err != nil {
				log.Error().Err(err).Msg("score recovery pass failed")
			}
		}
	}
}
