package translate

import (
	"context"
	"strings"
	"time"
)

type mockTranslator struct{}

// NewMock returns a translator that tags the input with the target language
// and streams it one word at a time.
func NewMock() Translator { return &mockTranslator{} }

func (m *mockTranslator) Translate(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", nil
	}
	return "[" + req.TargetLanguage + "] " + text, nil
}

func (m *mockTranslator) TranslateStream(ctx context.Context, req Request, consume func(string) error) error {
	text, err := m.Translate(ctx, req)
	if err != nil || text == "" {
		return err
	}
	var sb strings.Builder
	for _, w := range strings.SplitAfter(text, " ") {
		sb.WriteString(w)
		if err := consume(sb.String()); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockTranslator) Close() error { return nil }
