package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/suPer8Hu/ai-creator/internal/metrics"
)

// OllamaGateway answers chat jobs synchronously from a local Ollama server.
// Media kinds are not supported.
type OllamaGateway struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func NewOllamaGateway(baseURL, model string) *OllamaGateway {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &OllamaGateway{
		BaseURL: baseURL,
		Model:   model,
		Client:  &http.Client{Timeout: 90 * time.Second},
	}
}

type ollamaChatReq struct {
	Model    string      `json:"model"`
	Messages []ollamaMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type ollamaMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResp struct {
	Message ollamaMsg `json:"message"`
	Error   string    `json:"error,omitempty"`
}

func (p *OllamaGateway) Submit(ctx context.Context, kind, model string, params map[string]any) (*SubmitResult, error) {
	if kind != "chat" {
		return nil, &ProviderError{Err: ErrProtocol, Op: "submit", Message: fmt.Sprintf("ollama: kind %s is not supported", kind)}
	}
	if p.Client == nil {
		return nil, &ProviderError{Err: ErrUnavailable, Op: "submit", Message: "ollama: http client is nil"}
	}
	if model == "" {
		model = p.Model
	}
	prompt, _ := params["prompt"].(string)

	b, err := json.Marshal(ollamaChatReq{
		Model:    model,
		Stream:   false,
		Messages: []ollamaMsg{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, &ProviderError{Err: ErrProtocol, Op: "submit", Message: err.Error()}
	}

	url := fmt.Sprintf("%s/api/chat", p.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, &ProviderError{Err: ErrProtocol, Op: "submit", Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.Client.Do(req)
	if err != nil {
		metrics.ProviderCall("submit", "transport_error", time.Since(start))
		return nil, unavailable("submit", err)
	}
	defer resp.Body.Close()
	metrics.ProviderCall("submit", fmt.Sprintf("%dxx", resp.StatusCode/100), time.Since(start))

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, unavailable("submit", err)
	}

	var decoded ollamaChatResp
	_ = json.Unmarshal(raw, &decoded)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pe := &ProviderError{Err: ErrUnavailable, Op: "submit", HTTPStatus: resp.StatusCode, Raw: raw, Message: decoded.Error}
		// ollama reports unknown models as 404 {"error":"model ... not found"}
		if resp.StatusCode == http.StatusNotFound && decoded.Error != "" {
			pe.Err = ErrInvalidModel
			pe.Code = "invalid_model"
		}
		return nil, pe
	}
	if decoded.Error != "" || decoded.Message.Content == "" {
		return nil, &ProviderError{Err: ErrProtocol, Op: "submit", Message: "ollama: empty reply " + decoded.Error, Raw: raw}
	}
	return &SubmitResult{ArtifactURL: TextArtifact(decoded.Message.Content), Raw: raw}, nil
}

// Status is never needed: every accepted submission already carries its reply.
func (p *OllamaGateway) Status(ctx context.Context, kind, externalID string) (*StatusResult, error) {
	return nil, &ProviderError{Err: ErrProtocol, Op: "status", Message: "ollama: jobs complete on submit"}
}
