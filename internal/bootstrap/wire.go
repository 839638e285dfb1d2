package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"vui/internal/audio"
	"vui/internal/config"
	"vui/internal/policy"
	"vui/internal/ports"
	"vui/internal/providers/anthropic"
	"vui/internal/providers/deepgram"
	"vui/internal/providers/elevenlabs"
	"vui/internal/providers/openai"
	"vui/internal/providers/webhook"
	"vui/internal/rules"
	"vui/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.TurnController
	Config     config.Config
	Rules      *rules.Engine
	Devices    *audio.DeviceContext
}

// Close releases the shared audio device context.
func (s Services) Close() error {
	if s.Devices == nil {
		return nil
	}
	return s.Devices.Close()
}

// Build wires all backend dependencies for the current runtime. The rules file is
// watched until ctx is done when rules.watch is set.
func Build(ctx context.Context, cfg config.Config, eventSink ports.EventSink, logger zerolog.Logger) (Services, error) {
	rulesEngine, err := rules.NewEngine(cfg.Rules.Path, cfg.Rules.IterationLimit, logger)
	if err != nil {
		return Services{}, err
	}
	if cfg.Rules.Watch {
		if err := rulesEngine.Watch(ctx); err != nil {
			logger.Warn().Err(err).Str("path", cfg.Rules.Path).Msg("rules hot reload disabled")
		}
	}

	backends, err := buildBackends(cfg, logger)
	if err != nil {
		return Services{}, err
	}

	devices := audio.NewDeviceContext(logger)
	capture, err := buildCapture(cfg.Audio, devices, logger)
	if err != nil {
		return Services{}, err
	}
	playback := audio.NewPlayback(audio.BeepDecoder{}, audio.NewMalgoOutput(devices, logger), audio.PlaybackConfig{}, logger)

	controller := usecase.NewTurnController(
		capture,
		playback,
		backends,
		rulesEngine,
		eventSink,
		usecase.Config{
			TickInterval: cfg.Turn.TickInterval,
			Endpoint: policy.EndpointConfig{
				SpeechThreshold:     cfg.Turn.SpeechThreshold,
				MinUtteranceSamples: cfg.Turn.MinUtteranceSamples,
				SilenceChunkLimit:   cfg.Turn.SilenceChunkLimit,
			},
			BargeInThreshold:  cfg.Turn.BargeInThreshold,
			BargeInChunks:     cfg.Turn.BargeInChunks,
			MaxToolRounds:     cfg.Turn.MaxToolRounds,
			SubmissionTimeout: cfg.Submission.Timeout,
		},
		logger,
	)

	logger.Info().
		Str("capture", cfg.Audio.CaptureBackend).
		Str("transcription", cfg.Transcription.Provider).
		Str("generation", cfg.Generation.Provider).
		Str("synthesis", cfg.Synthesis.Provider).
		Int("rules", rulesEngine.Len()).
		Msg("runtime assembled")

	return Services{Controller: controller, Config: cfg, Rules: rulesEngine, Devices: devices}, nil
}

func buildCapture(cfg config.AudioConfig, devices *audio.DeviceContext, logger zerolog.Logger) (ports.AudioCapture, error) {
	switch cfg.CaptureBackend {
	case "", "malgo":
		return audio.NewMalgoCapture(devices, logger), nil
	case "ffmpeg":
		return audio.NewFFMPEGCapture(audio.FFMPEGConfig{
			Command:     cfg.FFMPEGCommand,
			InputFormat: cfg.InputFormat,
			InputDevice: cfg.InputDevice,
			SampleRate:  cfg.SampleRate,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", cfg.CaptureBackend)
	}
}

// providerSet lazily constructs each vendor client at most once so a vendor serving
// several roles shares one client.
type providerSet struct {
	cfg    config.Config
	logger zerolog.Logger

	eleven *elevenlabs.Client
	oai    *openai.Client
}

func (p *providerSet) elevenLabs() *elevenlabs.Client {
	if p.eleven == nil {
		voice := ""
		if p.cfg.Synthesis.Provider == "elevenlabs" {
			voice = p.cfg.Synthesis.VoiceID
		}
		p.eleven = elevenlabs.NewClient(elevenlabs.Config{
			APIKey:   p.cfg.ElevenLabs.APIKey,
			BaseURL:  p.cfg.ElevenLabs.BaseURL,
			VoiceID:  voice,
			Language: p.cfg.Transcription.Language,
		}, p.logger)
	}
	return p.eleven
}

func (p *providerSet) openAI() *openai.Client {
	if p.oai == nil {
		model := ""
		if p.cfg.Generation.Provider == "openai" {
			model = p.cfg.Generation.Model
		}
		voice := ""
		if p.cfg.Synthesis.Provider == "openai" {
			voice = p.cfg.Synthesis.VoiceID
		}
		p.oai = openai.NewClient(openai.Config{
			APIKey:       p.cfg.OpenAI.APIKey,
			BaseURL:      p.cfg.OpenAI.BaseURL,
			ChatModel:    model,
			MaxTokens:    p.cfg.Generation.MaxTokens,
			SystemPrompt: p.cfg.SystemPrompt,
			Language:     p.cfg.Transcription.Language,
			Voice:        voice,
		}, p.logger)
	}
	return p.oai
}

func buildBackends(cfg config.Config, logger zerolog.Logger) (usecase.Backends, error) {
	set := &providerSet{cfg: cfg, logger: logger}
	var backends usecase.Backends

	switch cfg.Transcription.Provider {
	case "elevenlabs":
		backends.Transcriber = set.elevenLabs()
	case "openai":
		backends.Transcriber = set.openAI()
	case "deepgram":
		backends.Transcriber = deepgram.NewTranscriber(deepgram.Config{
			APIKey:      cfg.Deepgram.APIKey,
			APIBaseURL:  cfg.Deepgram.BaseURL,
			Model:       cfg.Deepgram.Model,
			Language:    cfg.Transcription.Language,
			SmartFormat: cfg.Deepgram.SmartFormat,
		}, logger)
	default:
		return backends, fmt.Errorf("unknown transcription provider %q", cfg.Transcription.Provider)
	}

	switch cfg.Generation.Provider {
	case "anthropic":
		backends.Generator = anthropic.NewClient(anthropic.Config{
			APIKey:       cfg.Anthropic.APIKey,
			BaseURL:      cfg.Anthropic.BaseURL,
			Model:        cfg.Generation.Model,
			MaxTokens:    cfg.Generation.MaxTokens,
			SystemPrompt: cfg.SystemPrompt,
		}, logger)
	case "openai":
		backends.Generator = set.openAI()
	default:
		return backends, fmt.Errorf("unknown generation provider %q", cfg.Generation.Provider)
	}

	switch cfg.Synthesis.Provider {
	case "elevenlabs":
		backends.Synthesizer = set.elevenLabs()
	case "openai":
		backends.Synthesizer = set.openAI()
	default:
		return backends, fmt.Errorf("unknown synthesis provider %q", cfg.Synthesis.Provider)
	}

	backends.Submitter = webhook.NewSubmitter(webhookConfig(cfg.Submission), logger)

	for _, provider := range []string{cfg.Transcription.Provider, cfg.Generation.Provider, cfg.Synthesis.Provider} {
		if cfg.APIKeyFor(provider) == "" {
			logger.Warn().Str("provider", provider).Msg("API key not configured; requests will fail")
		}
	}
	return backends, nil
}

func webhookConfig(cfg config.SubmissionConfig) webhook.Config {
	return webhook.Config{
		URL:     cfg.WebhookURL,
		Timeout: cfg.Timeout,
		Headers: cfg.Headers,
	}
}
