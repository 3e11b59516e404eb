package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
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
	"github.com/loqalabs/loqa-interpreter/internal/sse"
)

// MiniMax synthesizes with the MiniMax T2A v2 API.
type MiniMax struct {
	cfg          config.MiniMaxTTSConfig
	client       *http.Client
	eventTimeout time.Duration
	log          *slog.Logger
}

func NewMiniMax(cfg config.MiniMaxTTSConfig, timeout, eventTimeout time.Duration, log *slog.Logger) (*MiniMax, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("minimax api key is required for tts")
	}
	return &MiniMax{
		cfg:          cfg,
		client:       &http.Client{Timeout: timeout},
		eventTimeout: eventTimeout,
		log:          log.With(slog.String("component", "tts.minimax")),
	}, nil
}

func (m *MiniMax) Name() string { return "minimax" }

type t2aRequest struct {
	Model        string          `json:"model"`
	Text         string          `json:"text"`
	Stream       bool            `json:"stream"`
	VoiceSetting t2aVoiceSetting `json:"voice_setting"`
	AudioSetting t2aAudioSetting `json:"audio_setting"`
}

type t2aVoiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Vol     float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
}

type t2aAudioSetting struct {
	SampleRate int    `json:"sample_rate"`
	Bitrate    int    `json:"bitrate"`
	Format     string `json:"format"`
}

type t2aResponse struct {
	Data *struct {
		Audio       string `json:"audio"`
		AudioBase64 string `json:"audio_base64"`
		Status      int    `json:"status"`
	} `json:"data"`
	BaseResp *struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

// t2aStatusFinal marks the closing stream event, which repeats the full audio.
const t2aStatusFinal = 2

func (r t2aResponse) apiError() error {
	if r.BaseResp != nil && r.BaseResp.StatusCode != 0 {
		return fmt.Errorf("minimax tts error %d: %s", r.BaseResp.StatusCode, r.BaseResp.StatusMsg)
	}
	return nil
}

func (r t2aResponse) audio() ([]byte, error) {
	if r.Data == nil {
		return nil, nil
	}
	if r.Data.Audio != "" {
		b, err := hex.DecodeString(r.Data.Audio)
		if err != nil {
			return nil, fmt.Errorf("decode minimax hex audio: %w", err)
		}
		return b, nil
	}
	if r.Data.AudioBase64 != "" {
		b, err := base64.StdEncoding.DecodeString(r.Data.AudioBase64)
		if err != nil {
			return nil, fmt.Errorf("decode minimax base64 audio: %w", err)
		}
		return b, nil
	}
	return nil, nil
}

func (m *MiniMax) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, nil
	}
	voice := req.Voice
	if voice == "" {
		voice = lang.DefaultVoice(req.Language)
	}
	payload := t2aRequest{
		Model:        m.cfg.Model,
		Text:         req.Text,
		Stream:       m.cfg.Stream,
		VoiceSetting: t2aVoiceSetting{VoiceID: voice, Speed: 1.0, Vol: 1.0},
		AudioSetting: t2aAudioSetting{SampleRate: m.cfg.SampleRate, Bitrate: 128000, Format: "mp3"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := m.cfg.Endpoint
	if m.cfg.GroupID != "" {
		endpoint += "?GroupId=" + url.QueryEscape(m.cfg.GroupID)
	}
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("minimax tts request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Provider: "minimax", StatusCode: resp.StatusCode, Body: string(msg)}
	}

	if m.cfg.Stream {
		return m.readStream(resp.Body)
	}

	var out t2aResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode minimax tts response: %w", err)
	}
	if err := out.apiError(); err != nil {
		return nil, err
	}
	audio, err := out.audio()
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		m.log.Warn("minimax tts response carried no audio")
		return nil, nil
	}
	return audio, nil
}

func (m *MiniMax) readStream(body io.Reader) ([]byte, error) {
	var chunks bytes.Buffer
	var final []byte
	err := sse.NewReader(body).Each(m.eventTimeout, func(payload string) error {
		var event t2aResponse
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			return fmt.Errorf("decode minimax tts event: %w", err)
		}
		if err := event.apiError(); err != nil {
			return err
		}
		audio, err := event.audio()
		if err != nil {
			return err
		}
		if event.Data != nil && event.Data.Status == t2aStatusFinal {
			final = audio
			return nil
		}
		chunks.Write(audio)
		return nil
	})
	if err != nil {
		if errors.Is(err, sse.ErrIdleTimeout) {
			return nil, fmt.Errorf("minimax tts stream stalled: %w", err)
		}
		return nil, err
	}
	if chunks.Len() > 0 {
		return chunks.Bytes(), nil
	}
	if len(final) > 0 {
		return final, nil
	}
	return nil, nil
}

func (m *MiniMax) Close() error {
	m.client.CloseIdleConnections()
	return nil
}
