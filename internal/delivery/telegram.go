package delivery

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/suPer8Hu/ai-creator/internal/ai"
)

// MaxMessageRunes is the Bot API limit for one sendMessage text.
const MaxMessageRunes = 4096

var ErrNoBotToken = errors.New("telegram: bot token is empty")

// Telegram implements Sink on the Bot API.
type Telegram struct {
	b *bot.Bot
}

func NewTelegram(baseURL, token string) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrNoBotToken
	}
	opts := []bot.Option{
		bot.WithSkipGetMe(),
		bot.WithHTTPClient(time.Minute, &http.Client{Timeout: 60 * time.Second}),
	}
	if baseURL != "" {
		opts = append(opts, bot.WithServerURL(strings.TrimRight(baseURL, "/")))
	}
	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, err
	}
	return &Telegram{b: b}, nil
}

func (t *Telegram) Deliver(ctx context.Context, d Delivery) error {
	media := d.Media
	if media == "" {
		media = MediaFor(d.Kind)
	}
	var err error
	switch media {
	case MediaPhoto:
		_, err = t.b.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:  d.Destination,
			Photo:   &models.InputFileString{Data: d.ArtifactURL},
			Caption: d.Caption,
		})
	case MediaVideo:
		_, err = t.b.SendVideo(ctx, &bot.SendVideoParams{
			ChatID:  d.Destination,
			Video:   &models.InputFileString{Data: d.ArtifactURL},
			Caption: d.Caption,
		})
	case MediaDocument:
		_, err = t.b.SendDocument(ctx, &bot.SendDocumentParams{
			ChatID:   d.Destination,
			Document: &models.InputFileString{Data: d.ArtifactURL},
			Caption:  d.Caption,
		})
	default:
		text, ok := ai.ParseTextArtifact(d.ArtifactURL)
		if !ok {
			text = d.ArtifactURL
		}
		for _, part := range SplitText(text, MaxMessageRunes) {
			if _, err = t.b.SendMessage(ctx, &bot.SendMessageParams{ChatID: d.Destination, Text: part}); err != nil {
				break
			}
		}
	}
	return err
}

func (t *Telegram) Notify(ctx context.Context, destination, text string) error {
	_, err := t.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    destination,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	return err
}

// SplitText cuts s into parts of at most limit runes, breaking after the last
// newline of a part when there is one in its second half.
func SplitText(s string, limit int) []string {
	if limit <= 0 {
		return []string{s}
	}
	var parts []string
	runes := []rune(s)
	for len(runes) > limit {
		cut := limit
		for i := limit - 1; i >= limit/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 || len(parts) == 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// telegramPermanent reports Bot API answers that resending cannot fix. Rate
// limits, server errors and transport failures are not among them.
func telegramPermanent(err error) bool {
	var migrate *bot.MigrateError
	if errors.As(err, &migrate) {
		return true
	}
	for _, perm := range []error{bot.ErrorBadRequest, bot.ErrorUnauthorized, bot.ErrorForbidden, bot.ErrorNotFound} {
		if errors.Is(err, perm) {
			return true
		}
	}
	return false
}

// RetryAfter is the wait the Bot API asked for on a 429, or zero.
func RetryAfter(err error) time.Duration {
	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		return time.Duration(tooMany.RetryAfter) * time.Second
	}
	return 0
}
