package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("WORKER_CONCURRENCY", "")
	t.Setenv("POLL_VIDEO_INTERVAL", "")

	cfg := Load()
	if cfg.DBDriver != "sqlite" || cfg.DBDSN != "./data/app.db" {
		t.Fatalf("unexpected db defaults: driver=%q dsn=%q", cfg.DBDriver, cfg.DBDSN)
	}
	if cfg.WorkerConcurrency != 2 {
		t.Fatalf("expected default concurrency 2, got %d", cfg.WorkerConcurrency)
	}
	if cfg.Poll["video"].Interval != 0 {
		t.Fatalf("expected unset video interval, got %s", cfg.Poll["video"].Interval)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("POLL_MUSIC_INTERVAL", "3s")
	t.Setenv("POLL_MUSIC_TIMEOUT", "40m")
	t.Setenv("WORKER_CONCURRENCY", "500")
	t.Setenv("ADMIN_IDS", " 42, 7 ,,")
	t.Setenv("FREE_CREDITS_ON_SIGNUP", "5")

	cfg := Load()
	if got := cfg.Poll["music"]; got.Interval != 3*time.Second || got.Timeout != 40*time.Minute {
		t.Fatalf("unexpected music poll setting: %+v", got)
	}
	if cfg.WorkerConcurrency != 50 {
		t.Fatalf("expected concurrency capped at 50, got %d", cfg.WorkerConcurrency)
	}
	admins := cfg.AdminSet()
	if len(admins) != 2 {
		t.Fatalf("expected 2 admins, got %v", admins)
	}
	if _, ok := admins["42"]; !ok {
		t.Fatalf("expected admin 42 in %v", admins)
	}
	if cfg.FreeCreditsOnSignup != 5 {
		t.Fatalf("expected 5 signup credits, got %d", cfg.FreeCreditsOnSignup)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"dev with fallback secret", Config{AppEnv: "development", AppSecret: DevAppSecret, TrustedCallers: "miniapp"}, false},
		{"prod with fallback secret", Config{AppEnv: "production", AppSecret: DevAppSecret, TrustedCallers: "miniapp"}, true},
		{"prod with empty secret", Config{AppEnv: "production", TrustedCallers: "miniapp"}, true},
		{"prod configured", Config{AppEnv: "production", AppSecret: "s3cret", TrustedCallers: "miniapp"}, false},
		{"no trusted callers", Config{AppEnv: "development", AppSecret: DevAppSecret, TrustedCallers: " , "}, true},
	}
	for _, tc := range cases {
		if err := tc.cfg.Validate(); (err != nil) != tc.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tc.name, err, tc.wantErr)
		}
	}
}

func TestLoad_SecretFallback(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_SECRET", "")
	t.Setenv("TRUSTED_CALLERS", "")

	cfg := Load()
	if cfg.AppSecret != DevAppSecret {
		t.Fatalf("expected fallback secret, got %q", cfg.AppSecret)
	}
	if cfg.Validate() == nil {
		t.Fatalf("production with the fallback secret must not validate")
	}
}
