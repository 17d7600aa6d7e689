package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/ai-creator/internal/ai"
	"github.com/suPer8Hu/ai-creator/internal/catalog"
	"github.com/suPer8Hu/ai-creator/internal/config"
	"github.com/suPer8Hu/ai-creator/internal/credits"
	"github.com/suPer8Hu/ai-creator/internal/db"
	"github.com/suPer8Hu/ai-creator/internal/delivery"
	"github.com/suPer8Hu/ai-creator/internal/httpapi"
	"github.com/suPer8Hu/ai-creator/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-creator/internal/jobs"
	"github.com/suPer8Hu/ai-creator/internal/logging"
	"github.com/suPer8Hu/ai-creator/internal/store/rabbitmq"
	"github.com/suPer8Hu/ai-creator/internal/store/redisstore"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.AppEnv)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	cat, err := catalog.Load(cfg.ModelCatalogPath, os.Environ())
	if err != nil {
		log.Fatal().Err(err).Msg("model catalog")
	}

	reg := ai.NewRegistry("apifree")
	reg.Register("apifree", ai.NewAPIFreeGateway(ai.APIFreeOptions{
		BaseURL: cfg.APIFreeBaseURL,
		APIKey:  cfg.APIFreeAPIKey,
		Timeout: cfg.ProviderTimeout,
		RPS:     cfg.ProviderRPS,
		Logger:  log.With().Str("provider", "apifree").Logger(),
	}))
	reg.Register("ollama", ai.NewOllamaGateway(cfg.OllamaBaseURL, cfg.OllamaModel))

	// with a broker configured the worker talks to Telegram; otherwise we do
	var sink delivery.Sink
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal().Err(err).Msg("rabbit publisher")
		}
		defer pub.Close()
		sink = delivery.NewQueueSink(pub)
	} else {
		tg, err := delivery.NewTelegram(cfg.TelegramBaseURL, cfg.TelegramBotToken)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram client")
		}
		sink = tg
	}

	var lease jobs.Lease
	if cfg.RedisAddr != "" {
		leases := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := leases.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping")
		}
		defer leases.Close()
		lease = leases
	}

	ledger := credits.NewLedger(gdb, cfg.FreeCreditsOnSignup, cfg.AdminSet())
	orch := jobs.NewOrchestrator(jobs.NewRepo(gdb), ledger, reg, sink, jobs.Options{
		Kinds:           jobs.KindsFromConfig(cfg),
		DefaultProvider: reg.Fallback(),
		Lease:           lease,
		Logger:          log.With().Str("component", "jobs").Logger(),
	})

	resume(orch, log)
	sched := cron.New()
	if _, err := sched.AddFunc(cfg.ResumeSchedule, func() { resume(orch, log) }); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.ResumeSchedule).Msg("resume schedule")
	}
	sched.Start()

	h := handlers.NewHandler(orch, ledger, cat)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h, cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Int("models", len(cat.Models())).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	<-sched.Stop().Done()
	// running jobs stay running; the next process resumes them
	orch.Close()
}

func resume(orch *jobs.Orchestrator, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := orch.Resume(ctx)
	if err != nil {
		log.Error().Err(err).Msg("resume")
		return
	}
	if n > 0 {
		log.Info().Int("adopted", n).Msg("resumed poll tasks")
	}
}
