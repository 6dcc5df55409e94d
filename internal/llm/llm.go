// Package llm implements the LLM Provider Abstraction (spec's C6): an
// OpenAI-compatible chat client with tool-calling, two model profiles
// ("parser" and "assistant"), and daily cost metering persisted to disk.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zapista/organizer/internal/zerr"
)

// Profile selects which model, token budget and temperature a call uses.
type Profile string

const (
	ProfileParser    Profile = "parser"
	ProfileAssistant Profile = "assistant"
)

// ProfileConfig carries the per-profile model defaults.
type ProfileConfig struct {
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// Message is one OpenAI-compatible chat message.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolDefinition describes one callable tool exposed to the assistant
// profile.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef is the JSON-schema description of one tool's parameters.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is one tool invocation the model requested.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its serialised arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Response is the parsed result of one chat call.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Usage is the token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Client is a single OpenAI-compatible provider endpoint.
type Client struct {
	Name       string // provider name, for cost-metering bucketing
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	profiles   map[Profile]ProfileConfig
	meter      *CostMeter
}

// NewClient builds a provider client. profiles must have entries for both
// ProfileParser and ProfileAssistant.
func NewClient(name, baseURL, apiKey string, profiles map[Profile]ProfileConfig, meter *CostMeter, logger *slog.Logger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Name:       name,
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		logger:     logger.With("component", "llm", "provider", name),
		profiles:   profiles,
		meter:      meter,
	}
}

// Chat sends one chat completion call under the given profile. A timeout
// derived from the profile config bounds the call; a timeout is reported
// to the caller as zerr.KindUpstream so it counts toward the circuit
// breaker (spec §5: "a timeout counts as a failure toward the circuit
// breaker").
func (c *Client) Chat(ctx context.Context, messages []Message, tools []ToolDefinition, profile Profile) (*Response, error) {
	if c.apiKey == "" {
		return nil, zerr.Newf(zerr.KindUpstream, "llm: no API key configured for provider %q", c.Name)
	}
	cfg, ok := c.profiles[profile]
	if !ok {
		return nil, zerr.Newf(zerr.KindInternal, "llm: no config for profile %q", profile)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqBody := chatRequest{
		Model:       cfg.Model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, zerr.New(zerr.KindUpstream, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, zerr.New(zerr.KindUpstream, err)
	}
	duration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return nil, zerr.Newf(zerr.KindUpstream, "llm: provider %q returned %d: %s", c.Name, resp.StatusCode, truncate(string(respBody), 300))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, zerr.New(zerr.KindUpstream, err)
	}
	if parsed.Error != nil {
		return nil, zerr.Newf(zerr.KindUpstream, "llm: provider %q: %s", c.Name, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, zerr.Newf(zerr.KindUpstream, "llm: provider %q returned no choices", c.Name)
	}

	choice := parsed.Choices[0]
	usage := Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}

	c.logger.Info("chat completion",
		"profile", profile,
		"model", cfg.Model,
		"duration_ms", duration.Milliseconds(),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
		"tool_calls", len(choice.Message.ToolCalls),
	)

	if c.meter != nil {
		c.meter.Record(c.Name, usage.PromptTokens, usage.CompletionTokens)
	}

	return &Response{
		Content:      strings.TrimSpace(choice.Message.Content),
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage:        usage,
	}, nil
}

// JudgeYesNo asks the parser profile a closed yes/no question and reports
// true only on an unambiguous "yes" (used by duplicate suppression and
// scope filtering). On any error it returns false with the error, letting
// the caller decide the fail-open/fail-closed default per call site.
func (c *Client) JudgeYesNo(ctx context.Context, prompt string) (bool, error) {
	resp, err := c.Chat(ctx, []Message{
		{Role: "system", Content: "Answer with exactly one word: YES or NO."},
		{Role: "user", Content: prompt},
	}, nil, ProfileParser)
	if err != nil {
		return false, err
	}
	answer := strings.ToUpper(strings.TrimSpace(resp.Content))
	return strings.HasPrefix(answer, "YES"), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
