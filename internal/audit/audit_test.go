package audit

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

func TestSanitiseKey_Secret(t *testing.T) {
	t.Parallel()
	for _, key := range []string{"OPENAI_API_KEY", "LEXRAG_ADMIN_KEY", "QDRANT_API_KEY"} {
		if got := SanitiseKey(key, "sk-abc123"); got != "set" {
			t.Errorf("%s: expected 'set', got %q", key, got)
		}
		if got := SanitiseKey(key, ""); got != "unset" {
			t.Errorf("%s: expected 'unset', got %q", key, got)
		}
	}
}

func TestSanitiseKey_NonSecret(t *testing.T) {
	t.Parallel()
	if got := SanitiseKey("LEXRAG_STORE", "bolt"); got != "bolt" {
		t.Errorf("expected 'bolt', got %q", got)
	}
	if got := SanitiseKey("MODEL_PROVIDER", ""); got != "unset" {
		t.Errorf("expected 'unset', got %q", got)
	}
}

func TestSanitiseConfigPath(t *testing.T) {
	t.Parallel()
	if got := sanitiseConfigPath(""); got != "none" {
		t.Errorf("expected 'none', got %q", got)
	}
	if got := sanitiseConfigPath("/tmp/config.yaml"); got != "/tmp/config.yaml" {
		t.Errorf("expected '/tmp/config.yaml', got %q", got)
	}
	home, err := os.UserHomeDir()
	if err == nil {
		p := home + "/.lexrag/config.yaml"
		if got := sanitiseConfigPath(p); got != "~/.lexrag/config.yaml" {
			t.Errorf("expected '~/.lexrag/config.yaml', got %q", got)
		}
	}
}

func TestLogCommandStart_RedactsSecrets(t *testing.T) {
	t.Setenv("LEXRAG_ADMIN_KEY", "hunter2")
	t.Setenv("LEXRAG_STORE", "sqlite")

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	LogCommandStart(log, "serve", "")

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Fatalf("secret leaked into audit log: %s", out)
	}
	for _, want := range []string{"command=serve", "LEXRAG_ADMIN_KEY=set", "LEXRAG_STORE=sqlite", "config_file=none"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %s", want, out)
		}
	}
}

func TestLogAdminAction(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	LogAdminAction(context.Background(), log, "reindex", "10.0.0.1", time.Second, nil)
	LogAdminAction(context.Background(), log, "reindex", "10.0.0.1", time.Second, errors.New("store offline"))

	out := buf.String()
	if !strings.Contains(out, "outcome=ok") || !strings.Contains(out, "outcome=error") {
		t.Errorf("expected both outcomes, got %s", out)
	}
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("failed action should log at warn: %s", out)
	}
}
