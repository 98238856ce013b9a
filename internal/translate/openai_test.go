package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, reply func(req chatRequest) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode chat request: %v", err)
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": reply(req)}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestTranslateStripsWrappingQuotes(t *testing.T) {
	ts := chatServer(t, func(chatRequest) string { return `"Bonjour le monde."` })
	defer ts.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: ts.URL})
	got, err := c.Translate(context.Background(), "Hello world.", "fr", nil)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if got != "Bonjour le monde." {
		t.Fatalf("Translate() = %q, want %q", got, "Bonjour le monde.")
	}
}

func TestTranslateUsesStyleHints(t *testing.T) {
	var sawSystem string
	ts := chatServer(t, func(req chatRequest) string {
		sawSystem = req.Messages[0].Content
		return "ok"
	})
	defer ts.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: ts.URL})
	profile := &StyleProfile{Tone: "casual", Formality: "low", Glossary: []string{"GG"}}
	if _, err := c.Translate(context.Background(), "gg wp", "de", profile); err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if want := `"tone":"casual"`; !strings.Contains(sawSystem, want) {
		t.Fatalf("system prompt missing style hints: %q", sawSystem)
	}
}

func TestInferStyleParsesProfile(t *testing.T) {
	ts := chatServer(t, func(chatRequest) string {
		return "```json\n{\"tone\":\"formal\",\"formality\":\"high\",\"glossary\":[\"raid\"]}\n```"
	})
	defer ts.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: ts.URL})
	got, err := c.InferStyle(context.Background(), []string{"First.", "Second."})
	if err != nil {
		t.Fatalf("InferStyle() error = %v", err)
	}
	if got.Tone != "formal" || got.Formality != "high" || len(got.Glossary) != 1 {
		t.Fatalf("InferStyle() = %+v", got)
	}
}

func TestInferStyleMalformedFallsBackNeutral(t *testing.T) {
	ts := chatServer(t, func(chatRequest) string { return "not json at all" })
	defer ts.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: ts.URL})
	got, err := c.InferStyle(context.Background(), []string{"One."})
	if err != nil {
		t.Fatalf("InferStyle() error = %v", err)
	}
	if got.Tone != "neutral" || got.Formality != "neutral" {
		t.Fatalf("InferStyle() = %+v, want neutral fallback", got)
	}
}

func TestTranslateHTTPErrorSurfaces(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer ts.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: ts.URL})
	if _, err := c.Translate(context.Background(), "Hi.", "fr", nil); err == nil {
		t.Fatalf("Translate() error = nil, want error")
	}
}
