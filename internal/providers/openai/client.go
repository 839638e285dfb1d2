// Package openai adapts go-openai to the transcriber, generator and synthesizer ports.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"vui/internal/audio"
	"vui/internal/domain"
)

var ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not configured")

// Config holds OpenAI settings.
type Config struct {
	APIKey       string
	BaseURL      string
	ChatModel    string
	MaxTokens    int
	SystemPrompt string
	STTModel     string
	Language     string
	TTSModel     string
	Voice        string
}

// Client implements ports.Transcriber, ports.Generator and ports.Synthesizer.
type Client struct {
	cfg    Config
	api    *openai.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.GPT4oMini
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.STTModel == "" {
		cfg.STTModel = openai.Whisper1
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = string(openai.TTSModel1)
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceAlloy)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Client{
		cfg:    cfg,
		api:    openai.NewClientWithConfig(clientCfg),
		logger: logger.With().Str("provider", "openai").Logger(),
	}
}

func (c *Client) ready() error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// Transcribe sends the utterance to the audio transcription endpoint as a WAV upload.
func (c *Client) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	wav, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return "", fmt.Errorf("encode utterance: %w", err)
	}

	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.cfg.STTModel,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Language: c.cfg.Language,
	})
	if err != nil {
		return "", fmt.Errorf("openai transcription failed: %w", err)
	}
	return resp.Text, nil
}

// Synthesize returns MP3 audio for text.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.cfg.TTSModel),
		Input:          text,
		Voice:          openai.SpeechVoice(c.cfg.Voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech failed: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("read openai speech: %w", err)
	}
	return data, nil
}

// Send runs one chat completion round with the form tools attached.
func (c *Client) Send(ctx context.Context, history []domain.Message, tools []domain.ToolSchema) (domain.GenerationResult, error) {
	if err := c.ready(); err != nil {
		return domain.GenerationResult{}, err
	}

	started := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.cfg.ChatModel,
		MaxTokens: c.cfg.MaxTokens,
		Messages:  toChatMessages(c.cfg.SystemPrompt, history),
		Tools:     toChatTools(tools),
	})
	if err != nil {
		return domain.GenerationResult{}, fmt.Errorf("openai chat failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.GenerationResult{}, errors.New("openai chat returned no choices")
	}

	result := fromChoice(resp.Choices[0])
	c.logger.Debug().
		Dur("elapsed", time.Since(started)).
		Str("stop_reason", string(result.StopReason)).
		Int("tool_calls", len(result.ToolCalls)).
		Msg("generation round")
	return result, nil
}

func toChatMessages(system string, history []domain.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range history {
		if msg.Role == domain.RoleAssistant {
			assistant := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Text()}
			for _, block := range msg.Content {
				if use, ok := block.(domain.ToolUseBlock); ok {
					args := string(use.Input)
					if args == "" {
						args = "{}"
					}
					assistant.ToolCalls = append(assistant.ToolCalls, openai.ToolCall{
						ID:       use.ID,
						Type:     openai.ToolTypeFunction,
						Function: openai.FunctionCall{Name: use.Name, Arguments: args},
					})
				}
			}
			out = append(out, assistant)
			continue
		}

		// Tool results travel as one tool message each; plain text stays a user message.
		if text := msg.Text(); text != "" {
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text})
		}
		for _, block := range msg.Content {
			if result, ok := block.(domain.ToolResultBlock); ok {
				content := result.Content
				if result.IsError {
					content = "error: " + content
				}
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    content,
					ToolCallID: result.ToolUseID,
				})
			}
		}
	}
	return out
}

func toChatTools(tools []domain.ToolSchema) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.InputSchema,
			},
		})
	}
	return out
}

func fromChoice(choice openai.ChatCompletionChoice) domain.GenerationResult {
	result := domain.GenerationResult{Text: choice.Message.Content}
	for _, call := range choice.Message.ToolCalls {
		input := json.RawMessage(call.Function.Arguments)
		if !json.Valid(input) {
			input = json.RawMessage(`{}`)
		}
		result.ToolCalls = append(result.ToolCalls, domain.ToolCall{ID: call.ID, Name: call.Function.Name, Input: input})
	}

	switch choice.FinishReason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		result.StopReason = domain.StopToolUse
	case openai.FinishReasonLength:
		result.StopReason = domain.StopMaxTokens
	default:
		result.StopReason = domain.StopEndTurn
	}
	return result
}
