package translate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Ollama translates with a local Ollama model over the generate API.
type Ollama struct {
	endpoint    string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

func NewOllama(endpoint, model string, temperature float64, maxTokens int, timeout time.Duration) *Ollama {
	if model == "" {
		model = "llama3.2:latest"
	}
	return &Ollama{
		endpoint:    strings.TrimRight(endpoint, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		client:      &http.Client{Timeout: timeout},
	}
}

type ollamaRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaStreamResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (o *Ollama) Translate(ctx context.Context, req Request) (string, error) {
	var text string
	if err := o.TranslateStream(ctx, req, func(snapshot string) error {
		text = snapshot
		return nil
	}); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (o *Ollama) TranslateStream(ctx context.Context, req Request, consume func(string) error) error {
	if strings.TrimSpace(req.Text) == "" {
		return nil
	}
	payload := ollamaRequest{
		Model:  o.model,
		Prompt: req.Text,
		System: SystemPrompt(req.SourceLanguage, req.TargetLanguage),
		Stream: true,
		Options: ollamaOptions{
			Temperature: o.temperature,
			NumPredict:  o.maxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Provider: "ollama", StatusCode: resp.StatusCode, Body: string(msg)}
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaStreamResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode ollama chunk: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("ollama: %s", chunk.Error)
		}
		if chunk.Response != "" {
			sb.WriteString(chunk.Response)
			if err := consume(sb.String()); err != nil {
				return err
			}
		}
		if chunk.Done {
			break
		}
	}
	return scanner.Err()
}

func (o *Ollama) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
