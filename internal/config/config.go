package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PollSetting overrides the polling cadence of one generation kind.
// Zero values keep the built-in default.
type PollSetting struct {
	Interval time.Duration
	Timeout  time.Duration
}

type Config struct {
	AppEnv   string
	HTTPAddr string

	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// rabbitMQ (empty RabbitURL = deliver directly from the api process)
	RabbitURL           string
	RabbitQueue         string
	WorkerConcurrency   int
	DeliveryMaxAttempts int
	DeliveryRetryDelay  time.Duration

	// messaging front-end
	TelegramBotToken string
	TelegramBaseURL  string

	// generation provider
	APIFreeBaseURL  string
	APIFreeAPIKey   string
	ProviderRPS     float64
	ProviderTimeout time.Duration

	ChatModel  string
	ImageModel string
	VideoModel string
	SongModel  string

	OllamaBaseURL string
	OllamaModel   string

	// keyed by kind name: chat, image, video, music
	Poll map[string]PollSetting

	// credits
	FreeCreditsOnSignup int
	AdminIDs            string

	// trusted callers
	AppSecret      string
	TrustedCallers string

	ModelCatalogPath string
	ResumeSchedule   string
}

// DevAppSecret is the APP_SECRET fallback; Validate rejects it outside
// development.
const DevAppSecret = "change-me-very-long-random-string"

var pollKinds = []string{"chat", "image", "video", "music"}

func Load() Config {
	// .env is optional; real env vars win because godotenv never overrides them.
	_ = godotenv.Load()

	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "development"
	}

	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	dbDriver := strings.ToLower(strings.TrimSpace(os.Getenv("DB_DRIVER")))
	if dbDriver == "" {
		dbDriver = "sqlite"
	}
	// DSN demo (mysql)：
	// app:apppass@tcp(127.0.0.1:3306)/ai_creator?charset=utf8mb4&parseTime=true&loc=Local
	dsn := os.Getenv("DB_DSN")
	if dsn == "" && dbDriver == "sqlite" {
		dsn = "./data/app.db"
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "deliveries"
	}

	telegramBaseURL := os.Getenv("TELEGRAM_BASE_URL")
	if telegramBaseURL == "" {
		telegramBaseURL = "https://api.telegram.org"
	}

	apiFreeBaseURL := os.Getenv("APIFREE_BASE_URL")
	if apiFreeBaseURL == "" {
		apiFreeBaseURL = "https://api.apifree.ai"
	}

	ollamaBaseURL := os.Getenv("OLLAMA_BASE_URL")
	if ollamaBaseURL == "" {
		ollamaBaseURL = "http://localhost:11434"
	}
	ollamaModel := os.Getenv("OLLAMA_MODEL")
	if ollamaModel == "" {
		ollamaModel = "llama3:latest"
	}

	poll := make(map[string]PollSetting, len(pollKinds))
	for _, k := range pollKinds {
		prefix := "POLL_" + strings.ToUpper(k)
		poll[k] = PollSetting{
			Interval: envDuration(prefix+"_INTERVAL", 0),
			Timeout:  envDuration(prefix+"_TIMEOUT", 0),
		}
	}

	resumeSchedule := os.Getenv("RESUME_SCHEDULE")
	if resumeSchedule == "" {
		resumeSchedule = "@every 1m"
	}

	appSecret := os.Getenv("APP_SECRET")
	if appSecret == "" {
		appSecret = DevAppSecret
	}

	return Config{
		AppEnv:   appEnv,
		HTTPAddr: httpAddr,

		DBDriver: dbDriver,
		DBDSN:    dsn,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		RabbitURL:           os.Getenv("RABBIT_URL"),
		RabbitQueue:         rabbitQueue,
		WorkerConcurrency:   workerConcurrency(),
		DeliveryMaxAttempts: envInt("DELIVERY_MAX_ATTEMPTS", 5),
		DeliveryRetryDelay:  envDuration("DELIVERY_RETRY_DELAY", 10*time.Second),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramBaseURL:  telegramBaseURL,

		APIFreeBaseURL:  apiFreeBaseURL,
		APIFreeAPIKey:   os.Getenv("APIFREE_API_KEY"),
		ProviderRPS:     envFloat("PROVIDER_RPS", 5),
		ProviderTimeout: envDuration("PROVIDER_TIMEOUT", 90*time.Second),

		ChatModel:  envString("APIFREE_CHAT_MODEL", "openai/gpt-5.2"),
		ImageModel: envString("APIFREE_IMAGE_MODEL", "google/nano-banana-pro"),
		VideoModel: envString("APIFREE_VIDEO_MODEL", "klingai/kling-v2.5-turbo/standard/image-to-video"),
		SongModel:  envString("APIFREE_SONG_MODEL", "mureka-ai/mureka-v8/generate-song"),

		OllamaBaseURL: ollamaBaseURL,
		OllamaModel:   ollamaModel,

		Poll: poll,

		FreeCreditsOnSignup: envInt("FREE_CREDITS_ON_SIGNUP", 2),
		AdminIDs:            os.Getenv("ADMIN_IDS"),

		AppSecret:      appSecret,
		TrustedCallers: os.Getenv("TRUSTED_CALLERS"),

		ModelCatalogPath: os.Getenv("MODEL_CATALOG_PATH"),
		ResumeSchedule:   resumeSchedule,
	}
}

// Validate reports settings the api must not start with.
func (c Config) Validate() error {
	if c.AppEnv != "development" && (c.AppSecret == "" || c.AppSecret == DevAppSecret) {
		return fmt.Errorf("config: APP_SECRET must be set when APP_ENV=%s", c.AppEnv)
	}
	if len(c.TrustedCallerSet()) == 0 {
		return errors.New("config: TRUSTED_CALLERS is empty, no caller could use the api")
	}
	return nil
}

// AdminSet returns the privileged owner ids from ADMIN_IDS.
func (c Config) AdminSet() map[string]struct{} {
	return splitSet(c.AdminIDs)
}

// TrustedCallerSet returns the JWT subjects allowed to call the api.
func (c Config) TrustedCallerSet() map[string]struct{} {
	return splitSet(c.TrustedCallers)
}

func splitSet(csv string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, part := range strings.Split(csv, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out[part] = struct{}{}
		}
	}
	return out
}

func workerConcurrency() int {
	n := envInt("WORKER_CONCURRENCY", 2)
	if n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
