package ai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegistry_FallbackAndLookup(t *testing.T) {
	r := NewRegistry("APIFree")
	primary := &ScriptedGateway{}
	local := &ScriptedGateway{}
	r.Register("apifree", primary)
	r.Register(" Ollama ", local)

	g, err := r.Get("")
	if err != nil || g != primary {
		t.Fatalf("empty name should resolve to fallback, got %v %v", g, err)
	}
	if g, _ := r.Get("OLLAMA"); g != local {
		t.Fatalf("lookup should be case-insensitive")
	}
	if _, err := r.Get("missing"); err == nil {
		t.Fatalf("expected unknown provider error")
	}
	if names := r.Names(); len(names) != 2 || names[0] != "apifree" || names[1] != "ollama" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestOllama_ChatReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"pong"},"done":true}`))
	}))
	defer srv.Close()

	g := NewOllamaGateway(srv.URL, "")
	res, err := g.Submit(context.Background(), "chat", "", map[string]any{"prompt": "ping"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if text, ok := ParseTextArtifact(res.ArtifactURL); !ok || text != "pong" {
		t.Fatalf("unexpected artifact %q", res.ArtifactURL)
	}
}

func TestOllama_UnknownModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model \"nope\" not found, try pulling it first"}`))
	}))
	defer srv.Close()

	g := NewOllamaGateway(srv.URL, "nope")
	_, err := g.Submit(context.Background(), "chat", "", map[string]any{"prompt": "ping"})
	if !errors.Is(err, ErrInvalidModel) {
		t.Fatalf("expected invalid model, got %v", err)
	}
}

func TestOllama_MediaKindsRejected(t *testing.T) {
	g := NewOllamaGateway("http://127.0.0.1:1", "")
	if _, err := g.Submit(context.Background(), "image", "", nil); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}
