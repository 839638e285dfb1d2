// Package config resolves runtime settings from defaults, an optional config.yaml,
// a .env file and the environment.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

//go:embed prompt.txt
var defaultSystemPrompt string

const envPrefix = "VUI"

// Config stores runtime configuration for the voice loop.
type Config struct {
	Audio         AudioConfig         `mapstructure:"audio"`
	Turn          TurnConfig          `mapstructure:"turn"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Generation    GenerationConfig    `mapstructure:"generation"`
	Synthesis     SynthesisConfig     `mapstructure:"synthesis"`
	Submission    SubmissionConfig    `mapstructure:"submission"`
	Rules         RulesConfig         `mapstructure:"rules"`
	Log           LogConfig           `mapstructure:"log"`

	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	ElevenLabs ElevenLabsConfig `mapstructure:"elevenlabs"`
	Deepgram   DeepgramConfig   `mapstructure:"deepgram"`

	// SystemPrompt is resolved from generation.system_prompt_file or the built-in prompt.
	SystemPrompt string `mapstructure:"-"`
	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

type AudioConfig struct {
	CaptureBackend string `mapstructure:"capture_backend"`
	FFMPEGCommand  string `mapstructure:"ffmpeg_command"`
	InputFormat    string `mapstructure:"input_format"`
	InputDevice    string `mapstructure:"input_device"`
	SampleRate     int    `mapstructure:"sample_rate"`
}

type TurnConfig struct {
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	SpeechThreshold     float64       `mapstructure:"speech_threshold"`
	MinUtteranceSamples int           `mapstructure:"min_utterance_samples"`
	SilenceChunkLimit   int           `mapstructure:"silence_chunk_limit"`
	BargeInThreshold    float64       `mapstructure:"barge_in_threshold"`
	BargeInChunks       int           `mapstructure:"barge_in_chunks"`
	MaxToolRounds       int           `mapstructure:"max_tool_rounds"`
}

type TranscriptionConfig struct {
	Provider string `mapstructure:"provider"`
	Language string `mapstructure:"language"`
}

type GenerationConfig struct {
	Provider         string `mapstructure:"provider"`
	Model            string `mapstructure:"model"`
	MaxTokens        int    `mapstructure:"max_tokens"`
	SystemPromptFile string `mapstructure:"system_prompt_file"`
}

type SynthesisConfig struct {
	Provider string `mapstructure:"provider"`
	VoiceID  string `mapstructure:"voice_id"`
}

// SubmissionConfig controls form delivery. Headers are added to every webhook
// request; their names are case-insensitive.
type SubmissionConfig struct {
	WebhookURL string            `mapstructure:"webhook_url"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	Headers    map[string]string `mapstructure:"headers"`
}

type RulesConfig struct {
	Path           string `mapstructure:"path"`
	IterationLimit int    `mapstructure:"iteration_limit"`
	Watch          bool   `mapstructure:"watch"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type ElevenLabsConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

type DeepgramConfig struct {
	APIKey      string `mapstructure:"api_key"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	SmartFormat bool   `mapstructure:"smart_format"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Audio: AudioConfig{
			CaptureBackend: "malgo",
			FFMPEGCommand:  "ffmpeg",
			InputFormat:    "pulse",
			InputDevice:    "default",
			SampleRate:     16000,
		},
		Turn: TurnConfig{
			TickInterval:        16 * time.Millisecond,
			SpeechThreshold:     0.01,
			MinUtteranceSamples: 16000,
			SilenceChunkLimit:   90,
			BargeInThreshold:    0.05,
			BargeInChunks:       5,
			MaxToolRounds:       8,
		},
		Transcription: TranscriptionConfig{Provider: "elevenlabs", Language: "en"},
		Generation:    GenerationConfig{Provider: "anthropic", MaxTokens: 512},
		Synthesis:     SynthesisConfig{Provider: "elevenlabs"},
		Submission:    SubmissionConfig{Timeout: 10 * time.Second},
		Rules:         RulesConfig{IterationLimit: 30, Watch: true},
		Log:           LogConfig{Level: "info"},
		Deepgram:      DeepgramConfig{BaseURL: "https://api.deepgram.com/v1", Model: "nova-2", SmartFormat: true},
	}
}

// vendorKeys are the conventional variables each provider SDK reads.
var vendorKeys = map[string]string{
	"anthropic.api_key":  "ANTHROPIC_API_KEY",
	"openai.api_key":     "OPENAI_API_KEY",
	"elevenlabs.api_key": "ELEVENLABS_API_KEY",
	"deepgram.api_key":   "DEEPGRAM_API_KEY",
}

// Load resolves configuration from the default search paths.
func Load() (Config, error) {
	return LoadFile("")
}

// LoadFile resolves configuration, reading path instead of searching for config.yaml
// when path is non-empty.
func LoadFile(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(home, ".config", "vui")

	v := viper.New()
	setDefaults(v, DefaultConfig(), configDir)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, vendor := range vendorKeys {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), vendor); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	normalize(&cfg)

	prompt, err := loadSystemPrompt(cfg.Generation.SystemPromptFile)
	if err != nil {
		return Config{}, err
	}
	cfg.SystemPrompt = prompt
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config, configDir string) {
	v.SetDefault("audio.capture_backend", d.Audio.CaptureBackend)
	v.SetDefault("audio.ffmpeg_command", d.Audio.FFMPEGCommand)
	v.SetDefault("audio.input_format", d.Audio.InputFormat)
	v.SetDefault("audio.input_device", d.Audio.InputDevice)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)

	v.SetDefault("turn.tick_interval", d.Turn.TickInterval)
	v.SetDefault("turn.speech_threshold", d.Turn.SpeechThreshold)
	v.SetDefault("turn.min_utterance_samples", d.Turn.MinUtteranceSamples)
	v.SetDefault("turn.silence_chunk_limit", d.Turn.SilenceChunkLimit)
	v.SetDefault("turn.barge_in_threshold", d.Turn.BargeInThreshold)
	v.SetDefault("turn.barge_in_chunks", d.Turn.BargeInChunks)
	v.SetDefault("turn.max_tool_rounds", d.Turn.MaxToolRounds)

	v.SetDefault("transcription.provider", d.Transcription.Provider)
	v.SetDefault("transcription.language", d.Transcription.Language)
	v.SetDefault("generation.provider", d.Generation.Provider)
	v.SetDefault("generation.model", d.Generation.Model)
	v.SetDefault("generation.max_tokens", d.Generation.MaxTokens)
	v.SetDefault("generation.system_prompt_file", d.Generation.SystemPromptFile)
	v.SetDefault("synthesis.provider", d.Synthesis.Provider)
	v.SetDefault("synthesis.voice_id", d.Synthesis.VoiceID)
	v.SetDefault("submission.webhook_url", d.Submission.WebhookURL)
	v.SetDefault("submission.timeout", d.Submission.Timeout)

	v.SetDefault("rules.path", filepath.Join(configDir, "transcript.rules"))
	v.SetDefault("rules.iteration_limit", d.Rules.IterationLimit)
	v.SetDefault("rules.watch", d.Rules.Watch)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.base_url", d.Anthropic.BaseURL)
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", d.OpenAI.BaseURL)
	v.SetDefault("elevenlabs.api_key", "")
	v.SetDefault("elevenlabs.base_url", d.ElevenLabs.BaseURL)
	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.base_url", d.Deepgram.BaseURL)
	v.SetDefault("deepgram.model", d.Deepgram.Model)
	v.SetDefault("deepgram.smart_format", d.Deepgram.SmartFormat)
}

// normalize clamps out-of-range values back to defaults.
func normalize(cfg *Config) {
	d := DefaultConfig()

	cfg.Audio.CaptureBackend = strings.ToLower(strings.TrimSpace(cfg.Audio.CaptureBackend))
	if cfg.Audio.CaptureBackend != "malgo" && cfg.Audio.CaptureBackend != "ffmpeg" {
		cfg.Audio.CaptureBackend = d.Audio.CaptureBackend
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = d.Audio.SampleRate
	}

	if cfg.Turn.TickInterval <= 0 {
		cfg.Turn.TickInterval = d.Turn.TickInterval
	}
	if cfg.Turn.SpeechThreshold <= 0 {
		cfg.Turn.SpeechThreshold = d.Turn.SpeechThreshold
	}
	if cfg.Turn.MinUtteranceSamples <= 0 {
		cfg.Turn.MinUtteranceSamples = d.Turn.MinUtteranceSamples
	}
	if cfg.Turn.SilenceChunkLimit <= 0 {
		cfg.Turn.SilenceChunkLimit = d.Turn.SilenceChunkLimit
	}
	if cfg.Turn.BargeInThreshold <= 0 {
		cfg.Turn.BargeInThreshold = d.Turn.BargeInThreshold
	}
	if cfg.Turn.BargeInChunks <= 0 {
		cfg.Turn.BargeInChunks = d.Turn.BargeInChunks
	}
	if cfg.Turn.MaxToolRounds <= 0 {
		cfg.Turn.MaxToolRounds = d.Turn.MaxToolRounds
	}

	cfg.Transcription.Provider = lowerOr(cfg.Transcription.Provider, d.Transcription.Provider)
	cfg.Generation.Provider = lowerOr(cfg.Generation.Provider, d.Generation.Provider)
	cfg.Synthesis.Provider = lowerOr(cfg.Synthesis.Provider, d.Synthesis.Provider)
	if cfg.Generation.MaxTokens <= 0 {
		cfg.Generation.MaxTokens = d.Generation.MaxTokens
	}
	if cfg.Submission.Timeout <= 0 {
		cfg.Submission.Timeout = d.Submission.Timeout
	}
	if cfg.Rules.IterationLimit <= 0 {
		cfg.Rules.IterationLimit = d.Rules.IterationLimit
	}
	cfg.Log.Level = lowerOr(cfg.Log.Level, d.Log.Level)

	cfg.Anthropic.APIKey = strings.TrimSpace(cfg.Anthropic.APIKey)
	cfg.OpenAI.APIKey = strings.TrimSpace(cfg.OpenAI.APIKey)
	cfg.ElevenLabs.APIKey = strings.TrimSpace(cfg.ElevenLabs.APIKey)
	cfg.Deepgram.APIKey = strings.TrimSpace(cfg.Deepgram.APIKey)
}

func lowerOr(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

func loadSystemPrompt(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return strings.TrimSpace(defaultSystemPrompt), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read system prompt %q: %w", path, err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return strings.TrimSpace(defaultSystemPrompt), nil
	}
	return prompt, nil
}

// APIKeyFor reports the configured key for a provider name.
func (c Config) APIKeyFor(provider string) string {
	switch provider {
	case "anthropic":
		return c.Anthropic.APIKey
	case "openai":
		return c.OpenAI.APIKey
	case "elevenlabs":
		return c.ElevenLabs.APIKey
	case "deepgram":
		return c.Deepgram.APIKey
	default:
		return ""
	}
}
