package translate

import (
	"context"
	"testing"
)

func TestExecTranslate(t *testing.T) {
	e, err := NewExec(`sh -c "cat >/dev/null; echo '{\"text\": \" hola \"}'"`)
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	got, err := e.Translate(context.Background(), Request{Text: "hello", SourceLanguage: "English", TargetLanguage: "Spanish"})
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got != "hola" {
		t.Fatalf("unexpected translation %q", got)
	}

	var pieces []string
	if err := e.TranslateStream(context.Background(), Request{Text: "hello"}, func(p string) error {
		pieces = append(pieces, p)
		return nil
	}); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(pieces) != 1 || pieces[0] != "hola" {
		t.Fatalf("unexpected pieces %q", pieces)
	}
}

func TestExecTranslateCommandFailure(t *testing.T) {
	e, err := NewExec(`sh -c "exit 3"`)
	if err != nil {
		t.Fatalf("new exec: %v", err)
	}
	if _, err := e.Translate(context.Background(), Request{Text: "hello"}); err == nil {
		t.Fatal("expected command failure")
	}
	if _, err := NewExec("   "); err == nil {
		t.Fatal("expected empty command error")
	}
}
