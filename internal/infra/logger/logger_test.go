package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"discord-rpc/internal/infra/config"
)

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LoggerConfig{Level: "info", Format: "json"}))

	log.Info("connected", "transport", "ipc")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v, output: %s", err, buf.String())
	}
	if entry["msg"] != "connected" || entry["transport"] != "ipc" {
		t.Errorf("unexpected entry: %v", entry)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LoggerConfig{Level: "warn"}))

	log.Info("hidden")
	log.Warn("shown")

	if strings.Contains(buf.String(), "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Error("warn should pass")
	}
}

func TestRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(newHandler(&buf, config.LoggerConfig{Level: "debug", Format: "json"}))

	log.Debug("token", "access_token", "abc", "refresh_token", "def", "client_secret", "ghi", "nonce", "n1")

	out := buf.String()
	for _, secret := range []string{"abc", "def", "ghi"} {
		if strings.Contains(out, `"`+secret+`"`) {
			t.Errorf("secret %q leaked: %s", secret, out)
		}
	}
	if !strings.Contains(out, `"nonce":"n1"`) {
		t.Errorf("non-secret attribute lost: %s", out)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestOpenOutputStdStreams(t *testing.T) {
	for name, want := range map[string]*os.File{"stdout": os.Stdout, "stderr": os.Stderr, "": os.Stderr} {
		w, closer, err := openOutput(name)
		if err != nil {
			t.Fatalf("openOutput(%q): %v", name, err)
		}
		if w != want {
			t.Errorf("openOutput(%q) returned the wrong stream", name)
		}
		closer()
	}
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "rpc.log")
	log, closer, err := New(config.LoggerConfig{Level: "info", Output: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("hello file")
	if err := closer(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Errorf("file missing entry: %s", data)
	}
}

func TestDiscard(t *testing.T) {
	Discard().Error("dropped")
}
