package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

type logRecord struct {
	Level   string `json:"level"`
	Msg     string `json:"msg"`
	Account string `json:"account"`
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer

	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	originalLogger := Logger
	Logger = slog.New(handler)
	defer func() { Logger = originalLogger }()

	tests := []struct {
		name  string
		fn    func(msg string, args ...any)
		level string
		msg   string
	}{
		{name: "Info", fn: Info, level: "INFO", msg: "fetched quotas"},
		{name: "Error", fn: Error, level: "ERROR", msg: "failed to record history"},
		{name: "Warn", fn: Warn, level: "WARN", msg: "could not parse datetime"},
		{name: "Debug", fn: Debug, level: "DEBUG", msg: "strategy selected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.fn(tt.msg, "account", "a@example.com")

			var rec logRecord
			if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
				t.Fatalf("failed to unmarshal log output: %v", err)
			}

			if rec.Msg != tt.msg {
				t.Errorf("expected msg %q, got %q", tt.msg, rec.Msg)
			}
			if rec.Level != tt.level {
				t.Errorf("expected level %q, got %q", tt.level, rec.Level)
			}
			if rec.Account != "a@example.com" {
				t.Errorf("expected account attribute, got %q", rec.Account)
			}
		})
	}
}

func TestSetVerbose(t *testing.T) {
	var buf bytes.Buffer

	originalLogger := Logger
	defer func() {
		Logger = originalLogger
		SetVerbose(false)
	}()
	SetOutput(&buf)

	SetVerbose(false)
	Debug("hidden")
	if buf.Len() != 0 {
		t.Errorf("debug output written while not verbose: %q", buf.String())
	}

	SetVerbose(true)
	Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("debug output missing while verbose: %q", buf.String())
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer

	originalLogger := Logger
	defer func() { Logger = originalLogger }()
	SetOutput(&buf)

	With("provider", "chutes").Info("done")
	if !strings.Contains(buf.String(), "provider=chutes") {
		t.Errorf("expected provider attribute in %q", buf.String())
	}
}
