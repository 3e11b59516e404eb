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
	"github.com/loqalabs/loqa-interpreter/internal/lang"
)

const speechmaticsDefaultVoice = "sarah"

// Speechmatics synthesizes with the Speechmatics preview TTS API. Languages
// outside cfg.Languages yield no audio rather than an error.
type Speechmatics struct {
	cfg       config.SpeechmaticsTTSConfig
	client    *http.Client
	supported map[string]struct{}
	log       *slog.Logger
}

func NewSpeechmatics(cfg config.SpeechmaticsTTSConfig, timeout time.Duration, log *slog.Logger) (*Speechmatics, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("speechmatics api key is required for tts")
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "wav_16000"
	}
	supported := make(map[string]struct{}, len(cfg.Languages))
	for _, l := range cfg.Languages {
		supported[lang.Normalize(l)] = struct{}{}
	}
	return &Speechmatics{
		cfg:       cfg,
		client:    &http.Client{Timeout: timeout},
		supported: supported,
		log:       log.With(slog.String("component", "tts.speechmatics")),
	}, nil
}

func (s *Speechmatics) Name() string { return "speechmatics" }

func (s *Speechmatics) voiceFor(language, override string) string {
	if override != "" {
		return override
	}
	if s.cfg.Voice != "" {
		return s.cfg.Voice
	}
	if v := s.cfg.VoiceByLang[language]; v != "" {
		return v
	}
	return speechmaticsDefaultVoice
}

func (s *Speechmatics) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, nil
	}
	language := lang.Normalize(req.Language)
	if language == "" {
		language = "en"
	}
	if _, ok := s.supported[language]; !ok {
		s.log.Debug("language not supported by speechmatics tts", slog.String("language", language))
		return nil, nil
	}
	voice := s.voiceFor(language, req.Voice)

	body, err := json.Marshal(map[string]string{"text": req.Text})
	if err != nil {
		return nil, err
	}
	endpoint := strings.TrimRight(s.cfg.Endpoint, "/") + "/" + url.PathEscape(voice) +
		"?output_format=" + url.QueryEscape(s.cfg.OutputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speechmatics tts request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Provider: "speechmatics", StatusCode: resp.StatusCode, Body: string(msg)}
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speechmatics tts audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, nil
	}
	s.log.Debug("speechmatics tts generated audio",
		slog.Int("bytes", len(audio)),
		slog.String("voice", voice),
		slog.String("format", s.cfg.OutputFormat))
	return audio, nil
}

func (s *Speechmatics) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
