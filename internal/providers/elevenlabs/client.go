// Package elevenlabs implements speech-to-text and text-to-speech against the
// ElevenLabs REST API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vui/internal/audio"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	// DefaultVoiceID is the stock "Rachel" voice.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
)

var ErrMissingAPIKey = errors.New("ELEVENLABS_API_KEY is not configured")

// Config holds ElevenLabs settings.
type Config struct {
	APIKey      string
	BaseURL     string
	VoiceID     string
	TTSModel    string
	STTModel    string
	Language    string
	Stability   float64
	Similarity  float64
	HTTPTimeout time.Duration
}

// Client implements ports.Transcriber and ports.Synthesizer.
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
	if cfg.VoiceID == "" {
		cfg.VoiceID = DefaultVoiceID
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = "eleven_turbo_v2_5"
	}
	if cfg.STTModel == "" {
		cfg.STTModel = "scribe_v1"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.Similarity == 0 {
		cfg.Similarity = 0.75
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger.With().Str("provider", "elevenlabs").Logger(),
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads the utterance as a 16-bit mono WAV file.
func (c *Client) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return "", ErrMissingAPIKey
	}

	wav, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		return "", fmt.Errorf("encode utterance: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(wav); err != nil {
		return "", err
	}
	_ = writer.WriteField("model_id", c.cfg.STTModel)
	_ = writer.WriteField("language_code", c.cfg.Language)
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/speech-to-text", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	started := time.Now()
	payload, err := c.do(req, "STT")
	if err != nil {
		return "", err
	}

	var out transcriptionResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("decode ElevenLabs STT response: %w", err)
	}
	c.logger.Debug().Dur("elapsed", time.Since(started)).Int("chars", len(out.Text)).Msg("transcribed")
	return out.Text, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize returns MPEG audio for text.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	raw, err := json.Marshal(synthesisRequest{
		Text:    text,
		ModelID: c.cfg.TTSModel,
		VoiceSettings: voiceSettings{
			Stability:       c.cfg.Stability,
			SimilarityBoost: c.cfg.Similarity,
		},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/text-to-speech/"+c.cfg.VoiceID, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	started := time.Now()
	payload, err := c.do(req, "TTS")
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Dur("elapsed", time.Since(started)).Int("bytes", len(payload)).Msg("synthesized")
	return payload, nil
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ElevenLabs %s request failed: %w", op, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ElevenLabs %s response: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ElevenLabs %s error: status=%d body=%s", op, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return payload, nil
}
