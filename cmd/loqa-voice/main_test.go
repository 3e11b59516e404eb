package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const manifest = `profiles:
  - user_id: alice
    voice_id: voice-a
    provider: elevenlabs
  - user_id: bob
    voice_id: voice-b
    status: pending
`

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voices.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestImportListRemove(t *testing.T) {
	ctx := context.Background()
	manifestPath := writeManifest(t)
	db := filepath.Join(t.TempDir(), "voices.db")

	var out bytes.Buffer
	if err := run(ctx, "import", []string{"-file", manifestPath, "-db", db}, &out); err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out.String(), "imported 2 profiles") {
		t.Fatalf("unexpected import output %q", out.String())
	}

	out.Reset()
	if err := run(ctx, "list", []string{"-db", db}, &out); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "voice-a") || !strings.Contains(out.String(), "pending") {
		t.Fatalf("unexpected list output %q", out.String())
	}

	out.Reset()
	if err := run(ctx, "remove", []string{"-db", db, "alice"}, &out); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := run(ctx, "remove", []string{"-db", db, "alice"}, &out); err == nil {
		t.Fatalf("expected error removing missing profile")
	}
}

func TestValidateRejectsBadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voices.yaml")
	if err := os.WriteFile(path, []byte("profiles:\n  - user_id: alice\n"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	var out bytes.Buffer
	if err := run(context.Background(), "validate", []string{"-file", path}, &out); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := run(context.Background(), "validate", []string{"-file", writeManifest(t)}, &out); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestUnknownCommand(t *testing.T) {
	if err := run(context.Background(), "frobnicate", nil, &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error")
	}
}
