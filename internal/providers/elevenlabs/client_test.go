package elevenlabs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{BaseURL: "http://x/"}, zerolog.Nop())
	assert.Equal(t, "http://x", c.cfg.BaseURL)
	assert.Equal(t, DefaultVoiceID, c.cfg.VoiceID)
	assert.Equal(t, "eleven_turbo_v2_5", c.cfg.TTSModel)
	assert.Equal(t, "scribe_v1", c.cfg.STTModel)
	assert.Equal(t, "en", c.cfg.Language)
}

func TestTranscribeUploadsWAV(t *testing.T) {
	t.Parallel()

	var (
		gotKey   string
		gotModel string
		gotLang  string
		gotName  string
		gotWAV   []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/speech-to-text", r.URL.Path)
		gotKey = r.Header.Get("xi-api-key")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotModel = r.FormValue("model_id")
		gotLang = r.FormValue("language_code")
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		gotName = header.Filename
		gotWAV, _ = io.ReadAll(file)
		_, _ = w.Write([]byte(`{"text":"hello there","language_code":"en"}`))
	}))
	t.Cleanup(server.Close)

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL}, zerolog.Nop())
	text, err := c.Transcribe(context.Background(), []float32{0, 0.5, -0.5, 0}, 16000)
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "scribe_v1", gotModel)
	assert.Equal(t, "en", gotLang)
	assert.Equal(t, "audio.wav", gotName)
	require.Greater(t, len(gotWAV), 44)
	assert.Equal(t, "RIFF", string(gotWAV[:4]))
}

func TestSynthesizeRequestShape(t *testing.T) {
	t.Parallel()

	var body synthesisRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "audio/mpeg", r.Header.Get("Accept"))
		assert.Equal(t, "k", r.Header.Get("xi-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte("ID3mp3bytes"))
	}))
	t.Cleanup(server.Close)

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL, VoiceID: "voice-1"}, zerolog.Nop())
	audio, err := c.Synthesize(context.Background(), "Hi Ada")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3mp3bytes"), audio)
	assert.Equal(t, "Hi Ada", body.Text)
	assert.Equal(t, "eleven_turbo_v2_5", body.ModelID)
	assert.Equal(t, 0.5, body.VoiceSettings.Stability)
	assert.Equal(t, 0.75, body.VoiceSettings.SimilarityBoost)
}

func TestNonSuccessStatusIsError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	t.Cleanup(server.Close)

	c := NewClient(Config{APIKey: "k", BaseURL: server.URL}, zerolog.Nop())
	_, err := c.Synthesize(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=429")
	assert.Contains(t, err.Error(), "quota exceeded")

	_, err = c.Transcribe(context.Background(), []float32{0.1}, 16000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STT")
}

func TestMissingAPIKey(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{}, zerolog.Nop())
	_, err := c.Synthesize(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	_, err = c.Transcribe(context.Background(), nil, 16000)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
