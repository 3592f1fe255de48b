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

	"github.com/Nellodipolito/pubmed-search-api/internal/config"
)

// Prompt is one request to the language model.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	// JSON asks the provider for a JSON object response when it supports it.
	JSON bool
}

// Generator produces text for a prompt. Implementations are safe for
// concurrent use.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

const defaultMaxTokens = 1024

// New creates a Generator from the given AI config.
func New(cfg *config.AIConfig, apiKey string) (Generator, error) {
	if cfg == nil || apiKey == "" {
		return nil, fmt.Errorf("AI not configured")
	}

	timeout := config.ParseDuration(cfg.Timeout, 60*time.Second)
	client := &http.Client{Timeout: timeout}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	switch cfg.Provider {
	case "claude":
		model := cfg.Model
		if model == "" {
			model = "claude-haiku-4-5-20251001"
		}
		endpoint := cfg.BaseURL
		if endpoint == "" {
			endpoint = "https://api.anthropic.com/v1/messages"
		}
		return &claudeProvider{apiKey: apiKey, model: model, endpoint: endpoint, maxTokens: maxTokens, client: client}, nil
	case "openai":
		model := cfg.Model
		if model == "" {
			model = "gpt-4o-mini"
		}
		endpoint := cfg.BaseURL
		if endpoint == "" {
			endpoint = "https://api.openai.com/v1/chat/completions"
		}
		return &openaiProvider{apiKey: apiKey, model: model, endpoint: endpoint, maxTokens: maxTokens, client: client}, nil
	default:
		return nil, fmt.Errorf("unknown AI provider: %q (valid: claude, openai)", cfg.Provider)
	}
}

// StripFences removes markdown code fences and a leading "Output:" label
// that models sometimes wrap around an answer.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimLeft(text, "`")
		}
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"Output:", "Query:", "Answer:"} {
		if len(text) >= len(prefix) && strings.EqualFold(text[:len(prefix)], prefix) {
			text = strings.TrimSpace(text[len(prefix):])
		}
	}
	return text
}

func maxTokens(p Prompt, def int) int {
	if p.MaxTokens > 0 {
		return p.MaxTokens
	}
	return def
}

// --- Claude provider ---

type claudeProvider struct {
	apiKey    string
	model     string
	endpoint  string
	maxTokens int
	client    *http.Client
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Temperature float64         `json:"temperature"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

func (c *claudeProvider) Generate(ctx context.Context, p Prompt) (string, error) {
	user := p.User
	if p.JSON {
		user += "\n\nRespond with a single JSON object and nothing else."
	}
	body, _ := json.Marshal(claudeRequest{
		Model:       c.model,
		MaxTokens:   maxTokens(p, c.maxTokens),
		System:      p.System,
		Temperature: p.Temperature,
		Messages:    []claudeMessage{{Role: "user", Content: user}},
	})

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("claude API %d: %s", resp.StatusCode, string(b))
	}

	var cr claudeResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return "", err
	}
	if len(cr.Content) == 0 {
		return "", fmt.Errorf("empty claude response")
	}
	return cr.Content[0].Text, nil
}

// --- OpenAI provider ---

type openaiProvider struct {
	apiKey    string
	model     string
	endpoint  string
	maxTokens int
	client    *http.Client
}

type openaiRequest struct {
	Model          string          `json:"model"`
	Messages       []openaiMessage `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (o *openaiProvider) Generate(ctx context.Context, p Prompt) (string, error) {
	var messages []openaiMessage
	if p.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: p.System})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: p.User})

	r := openaiRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: p.Temperature,
		MaxTokens:   maxTokens(p, o.maxTokens),
	}
	if p.JSON {
		r.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	body, _ := json.Marshal(r)

	req, err := http.NewRequestWithContext(ctx, "POST", o.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai API error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("openai API %d: %s", resp.StatusCode, string(b))
	}

	var or openaiResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return "", err
	}
	if len(or.Choices) == 0 {
		return "", fmt.Errorf("empty openai response")
	}
	return or.Choices[0].Message.Content, nil
}
