package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/sse"
)

// MiniMax translates with the MiniMax chat completion API.
type MiniMax struct {
	cfg    config.TranslationConfig
	client *http.Client
	log    *slog.Logger
}

func NewMiniMax(cfg config.TranslationConfig, timeout time.Duration, log *slog.Logger) (*MiniMax, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("minimax api key is required for translation")
	}
	return &MiniMax{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		log:    log.With(slog.String("component", "translate.minimax")),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message *chatMessage `json:"message,omitempty"`
		Delta   *chatMessage `json:"delta,omitempty"`
	} `json:"choices"`
	BaseResp *struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp,omitempty"`
}

func (r chatResponse) apiError() error {
	if r.BaseResp != nil && r.BaseResp.StatusCode != 0 {
		return fmt.Errorf("minimax error %d: %s", r.BaseResp.StatusCode, r.BaseResp.StatusMsg)
	}
	return nil
}

func (m *MiniMax) do(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	payload := chatRequest{
		Model: m.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt(req.SourceLanguage, req.TargetLanguage)},
			{Role: "user", Content: req.Text},
		},
		Temperature: m.cfg.Temperature,
		MaxTokens:   m.cfg.MaxTokens,
		Stream:      stream,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := m.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("minimax request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Provider: "minimax", StatusCode: resp.StatusCode, Body: string(msg)}
	}
	return resp, nil
}

func (m *MiniMax) Translate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", nil
	}
	resp, err := m.do(ctx, req, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode minimax response: %w", err)
	}
	if err := out.apiError(); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil {
		m.log.Warn("minimax response carried no choices")
		return "", nil
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// TranslateStream accumulates delta content and passes on the running text.
// The final chunk of a MiniMax stream repeats the whole message, which
// replaces the accumulated text.
func (m *MiniMax) TranslateStream(ctx context.Context, req Request, consume func(string) error) error {
	if strings.TrimSpace(req.Text) == "" {
		return nil
	}
	resp, err := m.do(ctx, req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var sb strings.Builder
	return sse.NewReader(resp.Body).Each(0, func(payload string) error {
		var chunk chatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return fmt.Errorf("decode minimax stream chunk: %w", err)
		}
		if err := chunk.apiError(); err != nil {
			return err
		}
		for _, choice := range chunk.Choices {
			switch {
			case choice.Delta != nil && choice.Delta.Content != "":
				sb.WriteString(choice.Delta.Content)
			case choice.Message != nil && choice.Message.Content != "":
				sb.Reset()
				sb.WriteString(choice.Message.Content)
			default:
				continue
			}
			if err := consume(sb.String()); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *MiniMax) Close() error {
	m.client.CloseIdleConnections()
	return nil
}
