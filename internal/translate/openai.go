package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig configures the chat-completions translation client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	FastModel  string
	StyleModel string
}

// OpenAIClient implements Translator against an OpenAI-compatible
// chat completions endpoint. The fast model handles per-sentence
// translation; the stronger model handles style profiling.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if strings.TrimSpace(cfg.FastModel) == "" {
		cfg.FastModel = "gpt-4o-mini"
	}
	if strings.TrimSpace(cfg.StyleModel) == "" {
		cfg.StyleModel = "gpt-4o"
	}
	return &OpenAIClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func translateSystem(targetLang string, profile *StyleProfile) string {
	base := fmt.Sprintf(`You are a precise translator into %s.
- Preserve meaning, names, numbers, game/jargon terms.
- One-sentence input means one-sentence output.
- Do NOT add quotes or commentary.`, targetLang)
	if profile == nil {
		return base
	}
	hints, err := json.Marshal(profile)
	if err != nil {
		return base
	}
	return base + "\nFollow style hints:\n" + string(hints)
}

func styleSystem(lang string) string {
	return fmt.Sprintf(`You are a translation style profiler for %s.
Return a short JSON with fields:
{"tone": "...", "formality": "...", "domainHints": "...", "glossary": ["..."]}`, lang)
}

func (c *OpenAIClient) Translate(ctx context.Context, sentence, targetLang string, profile *StyleProfile) (string, error) {
	out, err := c.complete(ctx, chatRequest{
		Model:       c.cfg.FastModel,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "system", Content: translateSystem(targetLang, profile)},
			{Role: "user", Content: sentence},
		},
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if strings.HasPrefix(out, `"`) && strings.HasSuffix(out, `"`) && len(out) >= 2 {
		out = out[1 : len(out)-1]
	}
	if out == "" {
		return "", fmt.Errorf("empty translation")
	}
	return out, nil
}

func (c *OpenAIClient) InferStyle(ctx context.Context, sentences []string) (StyleProfile, error) {
	text := strings.Join(sentences, " ")
	out, err := c.complete(ctx, chatRequest{
		Model:       c.cfg.StyleModel,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "system", Content: styleSystem("any source language")},
			{Role: "user", Content: "Text sample:\n" + text + "\nReturn JSON only."},
		},
	})
	if err != nil {
		return StyleProfile{}, err
	}

	var profile StyleProfile
	if err := json.Unmarshal([]byte(extractJSON(out)), &profile); err != nil {
		// Malformed style JSON never propagates; fall back to neutral.
		return NeutralProfile(), nil
	}
	return profile, nil
}

func (c *OpenAIClient) complete(ctx context.Context, req chatRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("translate http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return parsed.Choices[0].Message.Content, nil
}

// extractJSON trims markdown fences and surrounding prose so that a model
// answering with ```json ... ``` still parses.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if start := strings.IndexByte(s, '{'); start >= 0 {
		if end := strings.LastIndexByte(s, '}'); end > start {
			return s[start : end+1]
		}
	}
	return s
}
