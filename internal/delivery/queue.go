package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvelopeDeliver = "deliver"
	EnvelopeNotify  = "notify"
)

// Envelope is the queued form of a Sink call.
type Envelope struct {
	Type        string    `json:"type"`
	Delivery    *Delivery `json:"delivery,omitempty"`
	Destination string    `json:"destination,omitempty"`
	Text        string    `json:"text,omitempty"`
}

var ErrMalformedEnvelope = errors.New("malformed delivery envelope")

type Publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// QueueSink hands Sink calls to a broker; a worker performs them.
type QueueSink struct {
	pub Publisher
}

func NewQueueSink(pub Publisher) *QueueSink {
	return &QueueSink{pub: pub}
}

func (s *QueueSink) Deliver(ctx context.Context, d Delivery) error {
	return s.publish(ctx, Envelope{Type: EnvelopeDeliver, Delivery: &d})
}

func (s *QueueSink) Notify(ctx context.Context, destination, text string) error {
	return s.publish(ctx, Envelope{Type: EnvelopeNotify, Destination: destination, Text: text})
}

func (s *QueueSink) publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.pub.Publish(ctx, body)
}

// Dispatch decodes body and performs it on sink.
func Dispatch(ctx context.Context, sink Sink, body []byte) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	switch env.Type {
	case EnvelopeDeliver:
		if env.Delivery == nil || env.Delivery.Destination == "" || env.Delivery.ArtifactURL == "" {
			return fmt.Errorf("%w: incomplete delivery", ErrMalformedEnvelope)
		}
		return sink.Deliver(ctx, *env.Delivery)
	case EnvelopeNotify:
		if env.Destination == "" || env.Text == "" {
			return fmt.Errorf("%w: incomplete notice", ErrMalformedEnvelope)
		}
		return sink.Notify(ctx, env.Destination, env.Text)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, env.Type)
	}
}

// Permanent reports failures that resending cannot fix.
func Permanent(err error) bool {
	if errors.Is(err, ErrMalformedEnvelope) || errors.Is(err, ErrNoBotToken) {
		return true
	}
	return telegramPermanent(err)
}

type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRetried
	OutcomeDeadLetter
)

type Retrier interface {
	PublishRetry(ctx context.Context, body []byte, attempt int, delay time.Duration) error
}

const maxRetryDelay = 10 * time.Minute

// Consumer performs queued envelopes with bounded exponential retry.
type Consumer struct {
	Sink        Sink
	Retry       Retrier
	MaxAttempts int
	BaseDelay   time.Duration
	Log         zerolog.Logger
}

// Handle performs one message. attempt is the number of earlier attempts.
func (c *Consumer) Handle(ctx context.Context, body []byte, attempt int) Outcome {
	err := Dispatch(ctx, c.Sink, body)
	if err == nil {
		return OutcomeAck
	}

	next := attempt + 1
	if Permanent(err) || next >= c.MaxAttempts || c.Retry == nil {
		c.Log.Error().Err(err).Int("attempt", next).Msg("delivery dead-lettered")
		return OutcomeDeadLetter
	}

	delay := c.backoff(attempt)
	if wait := RetryAfter(err); wait > delay {
		delay = wait
	}
	if rerr := c.Retry.PublishRetry(ctx, body, next, delay); rerr != nil {
		c.Log.Error().Err(rerr).Msg("retry publish failed")
		return OutcomeDeadLetter
	}
	c.Log.Warn().Err(err).Int("attempt", next).Dur("delay", delay).Msg("delivery failed, retry scheduled")
	return OutcomeRetried
}

func (c *Consumer) backoff(attempt int) time.Duration {
	d := c.BaseDelay
	if d <= 0 {
		d = time.Second
	}
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return d
}
