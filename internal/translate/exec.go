package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Exec runs a local command that reads a JSON request on stdin and prints
// {"text": "..."} on stdout.
type Exec struct {
	cmd []string
}

type execResponse struct {
	Text string `json:"text"`
}

func NewExec(command string) (*Exec, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse translation command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("translation command empty")
	}
	return &Exec{cmd: args}, nil
}

func (e *Exec) Translate(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", nil
	}
	input, err := json.Marshal(map[string]any{
		"text":            req.Text,
		"source_language": req.SourceLanguage,
		"target_language": req.TargetLanguage,
		"system":          SystemPrompt(req.SourceLanguage, req.TargetLanguage),
	})
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("translation command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	var resp execResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return "", fmt.Errorf("decode translation command response: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}

// TranslateStream delivers the whole result as a single piece.
func (e *Exec) TranslateStream(ctx context.Context, req Request, consume func(string) error) error {
	text, err := e.Translate(ctx, req)
	if err != nil || text == "" {
		return err
	}
	return consume(text)
}

func (e *Exec) Close() error { return nil }
