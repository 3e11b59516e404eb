package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// ElevenLabs synthesizes with a user's cloned voice. Request.Voice is the
// cloned voice id and is required.
type ElevenLabs struct {
	cfg    config.ElevenLabsConfig
	client *http.Client
	log    *slog.Logger
}

func NewElevenLabs(cfg config.ElevenLabsConfig, timeout time.Duration, log *slog.Logger) (*ElevenLabs, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("elevenlabs api key is required for cloned voices")
	}
	if cfg.Format == "" {
		cfg.Format = "mp3_44100_128"
	}
	return &ElevenLabs{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.With(slog.String("component", "tts.elevenlabs")),
	}, nil
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

type elevenLabsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

func (e *ElevenLabs) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" || req.Voice == "" {
		return nil, nil
	}
	body, err := json.Marshal(elevenLabsRequest{Text: req.Text, ModelID: e.cfg.Model})
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		strings.TrimRight(e.cfg.Endpoint, "/"), url.PathEscape(req.Voice), url.QueryEscape(e.cfg.Format))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("xi-api-key", e.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		e.log.Warn("cloned voice not found", slog.String("voice", req.Voice))
		return nil, nil
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Provider: "elevenlabs", StatusCode: resp.StatusCode, Body: string(msg)}
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read elevenlabs audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, nil
	}
	return audio, nil
}

func (e *ElevenLabs) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
