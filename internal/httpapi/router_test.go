package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/suPer8Hu/ai-creator/internal/ai"
	"github.com/suPer8Hu/ai-creator/internal/catalog"
	"github.com/suPer8Hu/ai-creator/internal/config"
	"github.com/suPer8Hu/ai-creator/internal/credits"
	"github.com/suPer8Hu/ai-creator/internal/db"
	"github.com/suPer8Hu/ai-creator/internal/delivery"
	"github.com/suPer8Hu/ai-creator/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-creator/internal/jobs"
)

const testSecret = "test-secret"

type testEnv struct {
	router *gin.Engine
	gw     *ai.ScriptedGateway
	sink   *delivery.Recorder
	token  string
}

func newTestEnv(t *testing.T, gw *ai.ScriptedGateway, signupCredits int) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, gw, signupCredits, config.Config{AppSecret: testSecret, TrustedCallers: "miniapp"})
}

func newTestEnvWithConfig(t *testing.T, gw *ai.ScriptedGateway, signupCredits int, cfg config.Config) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gdb, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	reg := ai.NewRegistry("fake")
	reg.Register("fake", gw)
	sink := &delivery.Recorder{}
	ledger := credits.NewLedger(gdb, signupCredits, nil)
	orch := jobs.NewOrchestrator(jobs.NewRepo(gdb), ledger, reg, sink, jobs.Options{
		Kinds: jobs.Kinds{
			jobs.KindChat:  {PollInterval: 5 * time.Millisecond, Timeout: time.Second, DefaultModel: "chat-model", Required: []string{"prompt"}},
			jobs.KindImage: {PollInterval: 5 * time.Millisecond, Timeout: time.Second, DefaultModel: "image-model", Required: []string{"prompt"}},
			jobs.KindVideo: {PollInterval: 5 * time.Millisecond, Timeout: time.Second, DefaultModel: "video-model", Required: []string{"prompt"}},
			jobs.KindMusic: {PollInterval: 5 * time.Millisecond, Timeout: time.Second, DefaultModel: "song-model", Required: []string{"lyrics"}},
		},
		DefaultProvider: "fake",
		Logger:          zerolog.Nop(),
	})
	t.Cleanup(orch.Close)

	cat := catalog.New([]catalog.Model{
		{ID: "openai/gpt-5.2", Kind: "llm"},
		{ID: "google/nano-banana-pro", Kind: "t2i"},
	})
	h := handlers.NewHandler(orch, ledger, cat)

	return &testEnv{
		router: NewRouter(h, cfg, zerolog.Nop()),
		gw:     gw,
		sink:   sink,
		token:  signToken(t, testSecret, "miniapp"),
	}
}

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

type apiResp struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (int, apiResp) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out apiResp
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w.Code, out
}

func TestPublicRoutes(t *testing.T) {
	e := newTestEnv(t, &ai.ScriptedGateway{}, 1)

	code, resp := e.do(t, http.MethodGet, "/health", "", nil)
	if code != http.StatusOK || resp.Data["status"] != "ok" {
		t.Fatalf("health: %d %+v", code, resp)
	}

	code, resp = e.do(t, http.MethodGet, "/api/models", "", nil)
	if code != http.StatusOK {
		t.Fatalf("models: %d %+v", code, resp)
	}
	models, _ := resp.Data["models"].([]any)
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %v", resp.Data["models"])
	}
	defaults, _ := resp.Data["defaults"].(map[string]any)
	if defaults["image_model"] != "image-model" || defaults["music_model"] != "song-model" {
		t.Fatalf("unexpected defaults %v", defaults)
	}
}

func TestTrustedCallerRequired(t *testing.T) {
	e := newTestEnv(t, &ai.ScriptedGateway{}, 1)
	body := map[string]any{"tg_id": 42, "prompt": "a fox"}

	cases := []struct {
		name  string
		token string
		want  int
		code  int
	}{
		{"missing", "", http.StatusUnauthorized, 40101},
		{"bad signature", signToken(t, "other", "miniapp"), http.StatusUnauthorized, 40102},
		{"unknown caller", signToken(t, testSecret, "stranger"), http.StatusForbidden, 40301},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, resp := e.do(t, http.MethodPost, "/api/image/submit", tc.token, body)
			if status != tc.want || resp.Code != tc.code {
				t.Fatalf("got %d/%d, want %d/%d", status, resp.Code, tc.want, tc.code)
			}
		})
	}
	if e.gw.SubmitCalls() != 0 {
		t.Fatalf("rejected callers must not reach the provider")
	}
}

func TestImageSubmitAndResult(t *testing.T) {
	e := newTestEnv(t, &ai.ScriptedGateway{Submission: ai.Step{Raw: `{"url":"https://x/fox.png"}`}}, 1)

	status, resp := e.do(t, http.MethodPost, "/api/image/submit", e.token, map[string]any{
		"tg_id":  42,
		"prompt": "a fox",
		"size":   "1024x1024",
	})
	if status != http.StatusOK || resp.Data["status"] != "done" || resp.Data["artifact_url"] != "https://x/fox.png" {
		t.Fatalf("submit: %d %+v", status, resp)
	}
	if _, params := e.gw.LastSubmit(); params["tg_id"] != nil || params["size"] != "1024x1024" {
		t.Fatalf("routing keys must be stripped, provider params kept: %v", params)
	}
	if len(e.sink.Deliveries()) != 1 {
		t.Fatalf("expected one delivery, got %d", len(e.sink.Deliveries()))
	}

	jobID, _ := resp.Data["job_id"].(string)
	status, resp = e.do(t, http.MethodGet, "/api/image/result/"+jobID, e.token, nil)
	if status != http.StatusOK || resp.Data["owner_id"] != "42" || resp.Data["status"] != "done" {
		t.Fatalf("result: %d %+v", status, resp)
	}

	status, _ = e.do(t, http.MethodGet, "/api/video/result/"+jobID, e.token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("result of another kind should be 404, got %d", status)
	}

	status, resp = e.do(t, http.MethodGet, "/api/users/42/jobs", e.token, nil)
	list, _ := resp.Data["jobs"].([]any)
	if status != http.StatusOK || len(list) != 1 {
		t.Fatalf("history: %d %+v", status, resp)
	}
}

func TestSubmitWithoutCredits(t *testing.T) {
	e := newTestEnv(t, &ai.ScriptedGateway{Submission: ai.Step{Raw: `{"url":"https://x/1.png"}`}}, 1)
	body := map[string]any{"user_id": "7", "prompt": "one"}

	if status, _ := e.do(t, http.MethodPost, "/api/image/submit", e.token, body); status != http.StatusOK {
		t.Fatalf("first submit should pass, got %d", status)
	}
	status, resp := e.do(t, http.MethodPost, "/api/image/submit", e.token, body)
	if status != http.StatusPaymentRequired || resp.Message != "no_credits" {
		t.Fatalf("expected 402 no_credits, got %d %+v", status, resp)
	}
	if e.gw.SubmitCalls() != 1 {
		t.Fatalf("denied request reached provider")
	}

	status, resp = e.do(t, http.MethodGet, "/api/me?user_id=7", e.token, nil)
	if status != http.StatusOK || resp.Data["free_credits"] != float64(0) {
		t.Fatalf("me: %d %+v", status, resp)
	}
}

func TestChatShortcutMapsText(t *testing.T) {
	gw := &ai.ScriptedGateway{Submission: ai.Step{Raw: `{"choices":[{"message":{"content":"pong"}}]}`}}
	e := newTestEnv(t, gw, 1)

	status, resp := e.do(t, http.MethodPost, "/api/chat", e.token, map[string]any{
		"tg_id":         42,
		"text":          "ping",
		"deliver_to_tg": false,
	})
	if status != http.StatusOK || resp.Data["answer"] != "pong" {
		t.Fatalf("chat: %d %+v", status, resp)
	}
	if _, params := gw.LastSubmit(); params["prompt"] != "ping" || params["text"] != nil {
		t.Fatalf("text should become prompt: %v", params)
	}
	if len(e.sink.Deliveries()) != 0 {
		t.Fatalf("deliver_to_tg=false must not deliver")
	}
}

func TestBadRequests(t *testing.T) {
	e := newTestEnv(t, &ai.ScriptedGateway{}, 1)

	status, resp := e.do(t, http.MethodPost, "/api/music/submit", e.token, map[string]any{"tg_id": 42, "prompt": "no lyrics"})
	if status != http.StatusBadRequest || resp.Code != 10002 {
		t.Fatalf("missing lyrics: %d %+v", status, resp)
	}

	status, resp = e.do(t, http.MethodPost, "/api/jobs", e.token, map[string]any{"kind": "image"})
	if status != http.StatusBadRequest || resp.Code != 10001 {
		t.Fatalf("missing owner: %d %+v", status, resp)
	}

	status, _ = e.do(t, http.MethodGet, "/api/jobs/01NOPE", e.token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("unknown job: %d", status)
	}

	status, resp = e.do(t, http.MethodGet, "/nowhere", "", nil)
	if status != http.StatusNotFound || resp.Code != 40400 {
		t.Fatalf("no route: %d %+v", status, resp)
	}
	if e.gw.SubmitCalls() != 0 {
		t.Fatalf("invalid requests must not reach the provider")
	}
}

func TestTrustedCallerFailsClosed(t *testing.T) {
	body := map[string]any{"tg_id": 42, "prompt": "a fox"}

	t.Run("empty_allow_list", func(t *testing.T) {
		e := newTestEnvWithConfig(t, &ai.ScriptedGateway{}, 1, config.Config{AppSecret: testSecret})
		status, resp := e.do(t, http.MethodPost, "/api/image/submit", signToken(t, testSecret, "attacker"), body)
		if status != http.StatusForbidden || resp.Code != 40301 {
			t.Fatalf("got %d/%d, want 403/40301", status, resp.Code)
		}
	})

	t.Run("empty_secret", func(t *testing.T) {
		e := newTestEnvWithConfig(t, &ai.ScriptedGateway{}, 1, config.Config{TrustedCallers: "miniapp"})
		status, resp := e.do(t, http.MethodPost, "/api/image/submit", signToken(t, testSecret, "miniapp"), body)
		if status != http.StatusForbidden || resp.Code != 40301 {
			t.Fatalf("got %d/%d, want 403/40301", status, resp.Code)
		}
		if e.gw.SubmitCalls() != 0 {
			t.Fatalf("rejected callers must not reach the provider")
		}
	})
}
