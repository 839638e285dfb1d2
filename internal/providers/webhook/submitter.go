// Package webhook delivers completed form submissions to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vui/internal/domain"
)

// Config controls webhook delivery. An empty URL logs submissions instead of sending them.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// Submitter implements ports.Submitter.
type Submitter struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

func NewSubmitter(cfg Config, logger zerolog.Logger) *Submitter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Submitter{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "submission").Logger(),
	}
}

type payload struct {
	ID string `json:"id"`
	domain.Submission
}

// Submit POSTs the record as JSON. It is attempted once.
func (s *Submitter) Submit(ctx context.Context, record domain.Submission) error {
	body, err := json.Marshal(payload{ID: uuid.NewString(), Submission: record})
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	if strings.TrimSpace(s.cfg.URL) == "" {
		s.logger.Info().
			Str("conversation", record.ConversationID).
			RawJSON("submission", body).
			Msg("submission recorded (no webhook configured)")
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("submission webhook failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("submission webhook returned status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	s.logger.Info().Str("conversation", record.ConversationID).Int("status", resp.StatusCode).Msg("submission delivered")
	return nil
}
