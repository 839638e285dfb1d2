// Package deepgram transcribes finished utterances over the Deepgram live websocket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"vui/internal/audio"
)

const defaultBaseURL = "https://api.deepgram.com/v1"

var ErrMissingAPIKey = errors.New("DEEPGRAM_API_KEY is not configured")

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// FrameBytes is the size of each binary audio frame sent upstream.
	FrameBytes int
}

// Transcriber implements ports.Transcriber by streaming one utterance and
// collecting the final results.
type Transcriber struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger
}

func NewTranscriber(cfg Config, logger zerolog.Logger) *Transcriber {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.FrameBytes <= 0 {
		cfg.FrameBytes = 8192
	}
	return &Transcriber{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		logger: logger.With().Str("provider", "deepgram").Logger(),
	}
}

func (t *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if strings.TrimSpace(t.cfg.APIKey) == "" {
		return "", ErrMissingAPIKey
	}

	wsURL, err := buildListenURL(t.cfg, sampleRate)
	if err != nil {
		return "", err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.cfg.APIKey)

	conn, _, err := t.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return "", fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	s := &stream{conn: conn, aggregator: &transcriptAggregator{}}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeAll(audio.FloatToPCM16(samples), t.cfg.FrameBytes)
	}()
	s.readLoop()
	_ = conn.Close()
	wg.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err := s.waitErr(); err != nil {
		return "", err
	}

	text := s.aggregator.Raw()
	t.logger.Debug().Int("samples", len(samples)).Int("chars", len(text)).Msg("utterance transcribed")
	return text, nil
}

type stream struct {
	conn       *websocket.Conn
	aggregator *transcriptAggregator

	errMu sync.Mutex
	err   error
}

func (s *stream) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *stream) setErr(err error) {
	if err == nil {
		return
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && websocket.IsCloseError(closeErr,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *stream) writeAll(pcm []byte, frame int) {
	for start := 0; start < len(pcm); start += frame {
		end := min(start+frame, len(pcm))
		if err := s.conn.WriteMessage(websocket.BinaryMessage, pcm[start:end]); err != nil {
			s.setErr(fmt.Errorf("failed to send audio: %w", err))
			return
		}
	}

	if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		s.setErr(fmt.Errorf("failed to close stream: %w", err))
	}
}

// readLoop consumes results until the server closes the socket after CloseStream.
func (s *stream) readLoop() {
	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read provider event: %w", err))
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		}

		transcript := extractTranscript(response)
		if transcript == "" {
			continue
		}
		s.aggregator.Add(transcript, response.IsFinal || response.SpeechFinal)
	}
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		if text := strings.TrimSpace(response.Channel.Alternatives[0].Transcript); text != "" {
			return text
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return strings.TrimSpace(response.Results.Channels[0].Alternatives[0].Transcript)
	}
	return ""
}

func buildListenURL(cfg Config, sampleRate int) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	if sampleRate <= 0 {
		sampleRate = 16000
	}
	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", "linear16")
	query.Set("sample_rate", fmt.Sprintf("%d", sampleRate))
	query.Set("channels", "1")
	query.Set("interim_results", "false")
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if cfg.Language != "" {
		query.Set("language", cfg.Language)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
