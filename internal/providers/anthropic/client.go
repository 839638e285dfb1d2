// Package anthropic implements the generator port on the Anthropic Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vui/internal/domain"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	DefaultModel   = "claude-sonnet-4-20250514"
	apiVersion     = "2023-06-01"
)

var ErrMissingAPIKey = errors.New("ANTHROPIC_API_KEY is not configured")

// Config holds Messages API settings.
type Config struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	SystemPrompt string
	HTTPTimeout  time.Duration
}

// Client implements ports.Generator.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger.With().Str("provider", "anthropic").Logger(),
	}
}

type messagesRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
	Tools     []apiTool    `json:"tools,omitempty"`
}

type apiMessage struct {
	Role    string     `json:"role"`
	Content []apiBlock `json:"content"`
}

// apiBlock is the wire form of every content block variant.
type apiBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type messagesResponse struct {
	Content    []apiBlock `json:"content"`
	StopReason string     `json:"stop_reason"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Send runs one Messages API round with the form tools attached.
func (c *Client) Send(ctx context.Context, history []domain.Message, tools []domain.ToolSchema) (domain.GenerationResult, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return domain.GenerationResult{}, ErrMissingAPIKey
	}

	raw, err := json.Marshal(messagesRequest{
		Model:     c.cfg.Model,
		MaxTokens: c.cfg.MaxTokens,
		System:    c.cfg.SystemPrompt,
		Messages:  toAPIMessages(history),
		Tools:     toAPITools(tools),
	})
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("encode messages request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return domain.GenerationResult{}, err
	}
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("read anthropic response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error.Message != "" {
			return domain.GenerationResult{}, fmt.Errorf("anthropic error: status=%d %s: %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
		}
		return domain.GenerationResult{}, fmt.Errorf("anthropic error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out messagesResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return domain.GenerationResult{}, fmt.Errorf("decode anthropic response: %w", err)
	}

	result := fromAPIResponse(out)
	c.logger.Debug().
		Dur("elapsed", time.Since(started)).
		Str("stop_reason", string(result.StopReason)).
		Int("tool_calls", len(result.ToolCalls)).
		Msg("generation round")
	return result, nil
}

func toAPIMessages(history []domain.Message) []apiMessage {
	out := make([]apiMessage, 0, len(history))
	for _, msg := range history {
		blocks := make([]apiBlock, 0, len(msg.Content))
		for _, block := range msg.Content {
			switch b := block.(type) {
			case domain.TextBlock:
				blocks = append(blocks, apiBlock{Type: string(domain.BlockText), Text: b.Text})
			case domain.ToolUseBlock:
				input := b.Input
				if len(input) == 0 {
					input = json.RawMessage(`{}`)
				}
				blocks = append(blocks, apiBlock{Type: string(domain.BlockToolUse), ID: b.ID, Name: b.Name, Input: input})
			case domain.ToolResultBlock:
				blocks = append(blocks, apiBlock{
					Type:      string(domain.BlockToolResult),
					ToolUseID: b.ToolUseID,
					Content:   b.Content,
					IsError:   b.IsError,
				})
			}
		}
		if len(blocks) == 0 {
			continue
		}
		out = append(out, apiMessage{Role: string(msg.Role), Content: blocks})
	}
	return out
}

func toAPITools(tools []domain.ToolSchema) []apiTool {
	out := make([]apiTool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, apiTool{Name: tool.Name, Description: tool.Description, InputSchema: tool.InputSchema})
	}
	return out
}

func fromAPIResponse(resp messagesResponse) domain.GenerationResult {
	var (
		text  strings.Builder
		calls []domain.ToolCall
	)
	for _, block := range resp.Content {
		switch block.Type {
		case string(domain.BlockText):
			text.WriteString(block.Text)
		case string(domain.BlockToolUse):
			calls = append(calls, domain.ToolCall{ID: block.ID, Name: block.Name, Input: block.Input})
		}
	}

	stop := domain.StopReason(resp.StopReason)
	if stop == "" {
		stop = domain.StopEndTurn
	}
	return domain.GenerationResult{Text: text.String(), ToolCalls: calls, StopReason: stop}
}
