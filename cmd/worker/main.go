package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/ai-creator/internal/config"
	"github.com/suPer8Hu/ai-creator/internal/delivery"
	"github.com/suPer8Hu/ai-creator/internal/logging"
	"github.com/suPer8Hu/ai-creator/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.AppEnv).With().Str("component", "worker").Logger()

	if cfg.RabbitURL == "" {
		log.Fatal().Msg("RABBIT_URL is required")
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit channel")
	}
	defer ch.Close()

	if err := rabbitmq.Declare(ch, cfg.RabbitQueue); err != nil {
		log.Fatal().Err(err).Msg("queue declare")
	}

	// retries go out on their own channel so publishing never races the consumer
	retry, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal().Err(err).Msg("retry publisher")
	}
	defer retry.Close()

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal().Err(err).Msg("qos")
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("consume")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tg, err := delivery.NewTelegram(cfg.TelegramBaseURL, cfg.TelegramBotToken)
	if err != nil {
		log.Fatal().Err(err).Msg("telegram client")
	}
	consumer := &delivery.Consumer{
		Sink:        tg,
		Retry:       retry,
		MaxAttempts: cfg.DeliveryMaxAttempts,
		BaseDelay:   cfg.DeliveryRetryDelay,
		Log:         log,
	}

	log.Info().Str("queue", cfg.RabbitQueue).Int("concurrency", concurrency).Msg("worker started")

	// worker pool
	work := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With().Int("worker", workerID).Logger()
			for d := range work {
				start := time.Now()
				attempt := rabbitmq.Attempt(d.Headers)
				// a message in hand is finished even during shutdown
				outcome := consumer.Handle(context.WithoutCancel(ctx), d.Body, attempt)

				switch outcome {
				case delivery.OutcomeAck, delivery.OutcomeRetried:
					if err := d.Ack(false); err != nil {
						wlog.Error().Err(err).Msg("ack failed")
					}
				default:
					// dead-letter exchange routes it to the .dlq queue
					_ = d.Nack(false, false)
				}
				if cost := time.Since(start); cost > 2*time.Second {
					wlog.Warn().Dur("cost", cost).Int("attempt", attempt).Msg("slow delivery")
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("worker shutting down")
			close(work)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error().Msg("delivery channel closed")
				close(work)
				wg.Wait()
				return
			}
			work <- d
		}
	}
}
