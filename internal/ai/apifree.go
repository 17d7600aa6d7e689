package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/suPer8Hu/ai-creator/internal/metrics"
)

const maxResponseBytes = 4 << 20

// ResultPath is one provider convention for fetching a result. "{id}" in Path
// is replaced with the external id; POST paths send {"request_id": id}.
type ResultPath struct {
	Method string
	Path   string
}

type Endpoints struct {
	Submit  string
	Results []ResultPath
}

// DefaultEndpoints returns the submission and result paths for kind.
func DefaultEndpoints(kind string) Endpoints {
	if kind == "chat" {
		return Endpoints{Submit: "/v1/chat/completions"}
	}
	base := "/v1/" + kind + "s"
	return Endpoints{
		Submit: base + "/generations",
		Results: []ResultPath{
			{Method: http.MethodGet, Path: base + "/generations/{id}"},
			{Method: http.MethodGet, Path: base + "/results/{id}"},
			{Method: http.MethodPost, Path: base + "/result"},
		},
	}
}

type APIFreeOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RPS paces outbound calls; zero disables pacing.
	RPS    float64
	Logger zerolog.Logger
}

// APIFreeGateway talks to an APIFree-style aggregator over HTTP.
type APIFreeGateway struct {
	BaseURL   string
	APIKey    string
	Client    *http.Client
	Limiter   *rate.Limiter
	Endpoints map[string]Endpoints

	log zerolog.Logger
}

func NewAPIFreeGateway(opts APIFreeOptions) *APIFreeGateway {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.apifree.ai"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 90 * time.Second
	}
	g := &APIFreeGateway{
		BaseURL:   strings.TrimRight(opts.BaseURL, "/"),
		APIKey:    opts.APIKey,
		Client:    &http.Client{Timeout: opts.Timeout},
		Endpoints: make(map[string]Endpoints),
		log:       opts.Logger.With().Str("component", "apifree").Logger(),
	}
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		g.Limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	return g
}

func (g *APIFreeGateway) endpoints(kind string) Endpoints {
	if ep, ok := g.Endpoints[kind]; ok {
		return ep
	}
	return DefaultEndpoints(kind)
}

func (g *APIFreeGateway) Submit(ctx context.Context, kind, model string, params map[string]any) (*SubmitResult, error) {
	body := submitBody(kind, model, params)
	raw, status, err := g.do(ctx, "submit", http.MethodPost, g.endpoints(kind).Submit, body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, classifyHTTP("submit", status, raw)
	}
	res, err := ParseSubmit(kind, raw)
	if err != nil {
		g.log.Warn().Err(err).Str("kind", kind).Str("model", model).
			Str("raw", truncate(string(raw), 500)).Msg("unusable submit response")
		return nil, err
	}
	return res, nil
}

// Status tries each result path in order until one answers 2xx.
func (g *APIFreeGateway) Status(ctx context.Context, kind, externalID string) (*StatusResult, error) {
	paths := g.endpoints(kind).Results
	if len(paths) == 0 {
		return nil, &ProviderError{Err: ErrProtocol, Op: "status", Message: fmt.Sprintf("kind %s has no result endpoint", kind)}
	}

	var lastErr error
	for _, p := range paths {
		var body any
		path := strings.ReplaceAll(p.Path, "{id}", externalID)
		if p.Method == http.MethodPost {
			body = map[string]string{"request_id": externalID}
		}
		raw, status, err := g.do(ctx, "status", p.Method, path, body)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, err
			}
			continue
		}
		if status < 200 || status >= 300 {
			lastErr = classifyHTTP("status", status, raw)
			continue
		}
		return ParseStatus(kind, raw)
	}
	return nil, lastErr
}

func (g *APIFreeGateway) do(ctx context.Context, op, method, path string, body any) ([]byte, int, error) {
	if g.Client == nil {
		return nil, 0, &ProviderError{Err: ErrUnavailable, Op: op, Message: "http client is nil"}
	}
	if g.Limiter != nil {
		if err := g.Limiter.Wait(ctx); err != nil {
			return nil, 0, unavailable(op, err)
		}
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, &ProviderError{Err: ErrProtocol, Op: op, Message: err.Error()}
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, reader)
	if err != nil {
		return nil, 0, &ProviderError{Err: ErrProtocol, Op: op, Message: err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	start := time.Now()
	resp, err := g.Client.Do(req)
	if err != nil {
		metrics.ProviderCall(op, "transport_error", time.Since(start))
		return nil, 0, unavailable(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.ProviderCall(op, "transport_error", time.Since(start))
		return nil, resp.StatusCode, unavailable(op, err)
	}
	metrics.ProviderCall(op, fmt.Sprintf("%dxx", resp.StatusCode/100), time.Since(start))
	return raw, resp.StatusCode, nil
}

func submitBody(kind, model string, params map[string]any) map[string]any {
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["model"] = model
	if kind == "chat" {
		if _, ok := body["messages"]; !ok {
			prompt, _ := body["prompt"].(string)
			delete(body, "prompt")
			body["messages"] = []map[string]string{{"role": "user", "content": prompt}}
		}
	}
	return body
}

// classifyHTTP maps a non-2xx answer onto the error taxonomy.
func classifyHTTP(op string, status int, raw []byte) error {
	pe := &ProviderError{Op: op, HTTPStatus: status, Raw: raw}
	errField := gjson.GetBytes(raw, "error")
	switch {
	case InvalidModel(raw):
		pe.Err = ErrInvalidModel
		pe.Code = "invalid_model"
		pe.Message = errField.Get("message").String()
	case status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout:
		pe.Err = ErrUnavailable
		pe.Message = http.StatusText(status)
	case !gjson.ValidBytes(raw) || !errField.Exists():
		pe.Err = ErrUnavailable
		pe.Message = "non-2xx without error body"
	default:
		pe.Err = ErrProtocol
		if errField.IsObject() {
			pe.Code = errField.Get("code").String()
			pe.Message = errField.Get("message").String()
		} else {
			pe.Message = errField.String()
		}
	}
	return pe
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
